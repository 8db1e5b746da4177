// Package storage reads submitted files and writes error reports, either to
// S3 or to the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"

	"data-act-broker/internal/config"
)

type Storage interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Size returns the object size in bytes.
	Size(ctx context.Context, key string) (int64, error)
}

// Backends are the two stores a worker touches. In S3 mode both point at
// the same bucket.
type Backends struct {
	Files   Storage
	Reports Storage
}

func New(cfg *config.Config) (*Backends, error) {
	if cfg.Storage.Local {
		return &Backends{
			Files:   NewLocalStorage(cfg.Storage.BrokerFiles),
			Reports: NewLocalStorage(cfg.Storage.ErrorReportPath),
		}, nil
	}

	s3, err := NewS3Storage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage: %w", err)
	}
	return &Backends{Files: s3, Reports: s3}, nil
}

// ReportKey is where a submission's report is stored.
func ReportKey(submissionID int64, name string) string {
	return fmt.Sprintf("%d/%s", submissionID, name)
}
