//go:build gcp

package archive

import "context"

func newGCS(ctx context.Context, cfg Config) (Archive, error) {
	return NewGCSArchive(ctx, GCSConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
