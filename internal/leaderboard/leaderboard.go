// Package leaderboard keeps a live per-track ranking in Redis sorted sets.
// It is a read-optimized projection of the durable scoreboard; losing it
// loses nothing that cannot be rebuilt.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

type Entry struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type Leaderboard struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Leaderboard {
	return &Leaderboard{rdb: rdb}
}

func key(trackID string) string { return "scoreboard:" + trackID }

// Record folds a finalized result into the track's ranking. GT keeps the
// player's best score across repeated attempts.
func (l *Leaderboard) Record(ctx context.Context, entry geopuzzle.ScoreboardEntry) error {
	err := l.rdb.ZAddGT(ctx, key(entry.TrackID), redis.Z{
		Score:  float64(entry.FinalScore),
		Member: entry.PlayerID,
	}).Err()
	if err != nil {
		return fmt.Errorf("recording score: %w", err)
	}
	return nil
}

// Top returns the best n scores for a track, highest first.
func (l *Leaderboard) Top(ctx context.Context, trackID string, n int) ([]Entry, error) {
	zs, err := l.rdb.ZRevRangeWithScores(ctx, key(trackID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{
			PlayerID: member,
			Score:    int(z.Score),
			Rank:     i + 1,
		})
	}
	return entries, nil
}

// Remove drops a player's entry for a track, mirroring an authorized
// scoreboard delete.
func (l *Leaderboard) Remove(ctx context.Context, trackID, playerID string) error {
	return l.rdb.ZRem(ctx, key(trackID), playerID).Err()
}
