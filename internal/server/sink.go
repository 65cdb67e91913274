package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/geopuzzle/api/internal/geopuzzle"
	"github.com/geopuzzle/api/internal/leaderboard"
)

// ScoreboardSink persists finalized session results into the scoreboard table
// and, when a leaderboard is configured, mirrors the score into Redis. The
// database write is the source of truth; the leaderboard update is best
// effort.
type ScoreboardSink struct {
	logger *slog.Logger
	store  Store
	board  *leaderboard.Leaderboard
}

func NewScoreboardSink(logger *slog.Logger, store Store, board *leaderboard.Leaderboard) *ScoreboardSink {
	return &ScoreboardSink{logger: logger, store: store, board: board}
}

func (s *ScoreboardSink) Persist(ctx context.Context, entry geopuzzle.ScoreboardEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.store.InsertScore(ctx, entry); err != nil {
		return fmt.Errorf("persisting scoreboard entry: %w", err)
	}

	if s.board != nil {
		if err := s.board.Record(ctx, entry); err != nil {
			s.logger.Warn("leaderboard update failed",
				"track", entry.TrackID, "player", entry.PlayerID, "error", err)
		}
	}
	return nil
}
