// Package gcs provides an archive.FileStore backed by Google Cloud Storage,
// used to mirror downloaded snapshots into a bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Store writes snapshot bodies to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps a local save path to its object name.
func (s *Store) ObjectName(savePath string) string {
	name := strings.TrimLeft(filepath.ToSlash(filepath.Clean(savePath)), "/")
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Exists reports whether the object for savePath is present.
func (s *Store) Exists(ctx context.Context, savePath string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.ObjectName(savePath)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("object attrs: %w", err)
	}
	return true, nil
}

// Write uploads data as the object for savePath.
func (s *Store) Write(ctx context.Context, savePath string, data []byte) error {
	if strings.TrimSpace(savePath) == "" {
		return errors.New("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(s.ObjectName(savePath)).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"
	writer.ChunkSize = 0
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// URI returns the gs:// location for savePath.
func (s *Store) URI(savePath string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.ObjectName(savePath))
}
