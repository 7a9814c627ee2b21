// Package blob removes stored attachment files. Removal is best-effort: the
// attachment record is the source of truth and callers never roll it back on
// a removal failure.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrEmptyPath is returned when no stored path is supplied.
var ErrEmptyPath = errors.New("blob path is empty")

// Remover deletes the stored bytes behind an attachment path.
type Remover interface {
	Remove(ctx context.Context, path string) error
}

// FSRemover deletes files on local disk. Relative paths resolve under Dir.
type FSRemover struct {
	Dir string
}

func NewFSRemover(dir string) *FSRemover {
	return &FSRemover{Dir: dir}
}

func (r *FSRemover) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	target := path
	if !filepath.IsAbs(target) && r.Dir != "" {
		target = filepath.Join(r.Dir, target)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// MinioConfig holds the object storage connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioRemover deletes attachment objects from an S3-compatible bucket. The
// stored path is used as the object key.
type MinioRemover struct {
	client *minio.Client
	bucket string
}

func NewMinioRemover(cfg MinioConfig) (*MinioRemover, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioRemover{client: client, bucket: cfg.Bucket}, nil
}

func (r *MinioRemover) Remove(ctx context.Context, path string) error {
	key := strings.TrimLeft(filepath.ToSlash(strings.TrimSpace(path)), "/")
	if key == "" {
		return ErrEmptyPath
	}
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", r.bucket, key, err)
	}
	return nil
}
