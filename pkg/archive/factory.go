package archive

import (
	"context"
	"fmt"
)

// Type selects an archive backend.
type Type string

const (
	TypeNone Type = "none"
	TypeFS   Type = "fs"
	TypeS3   Type = "s3"
	TypeGCS  Type = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Type   Type   `yaml:"type"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// S3 only.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// New builds the configured archive. TypeNone returns a nil Archive.
func New(ctx context.Context, cfg Config) (Archive, error) {
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypeFS, "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("archive: directory is required for fs storage")
		}
		return NewFileArchive(cfg.Dir)
	case TypeS3:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Archive(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case TypeGCS:
		return newGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", cfg.Type)
	}
}
