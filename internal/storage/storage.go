// Package storage stores uploaded images (waypoint pictures, track
// thumbnails) and returns the public URL they are served under. The S3 store
// targets any S3-compatible endpoint; the disk store backs local development.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore saves an object under key and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Store uploads to an S3-compatible bucket.
type S3Store struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewS3Store builds a client for the given endpoint and bucket. cdnBaseURL,
// when set, is used for the returned public URLs instead of the endpoint.
func NewS3Store(ctx context.Context, endpoint, accessKeyID, secretKey, bucket, cdnBaseURL string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	if cdnBaseURL == "" {
		cdnBaseURL = fmt.Sprintf("%s/%s", endpoint, bucket)
	}
	return &S3Store{client: client, bucket: bucket, cdnBaseURL: cdnBaseURL}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, body); err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        buf,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", s.cdnBaseURL, key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// DiskStore writes objects under a local directory, served by the HTTP
// server at /uploads/.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	dest := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	return "/uploads/" + key, nil
}

func (d *DiskStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(d.dir, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
