package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tome-gg/negotiation-protocols/pkg/archive"
	"github.com/tome-gg/negotiation-protocols/pkg/policy"
)

// File is the YAML overlay. Zero fields leave the environment value alone.
type File struct {
	Policy    []policy.Rule    `yaml:"policy"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Archive   *archive.Config  `yaml:"archive,omitempty"`
	Tokens    *TokenConfig     `yaml:"tokens,omitempty"`
}

// RateLimitConfig is the per-client request budget.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TokenConfig bounds bearer token lifetime.
type TokenConfig struct {
	MaxTTL string `yaml:"max_ttl"`
}

// LoadFile parses a YAML overlay.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &f, nil
}

// Apply overlays f onto c.
func (c *Config) Apply(f *File) error {
	if f == nil {
		return nil
	}
	if len(f.Policy) > 0 {
		c.Policy = append([]policy.Rule(nil), f.Policy...)
	}
	if rl := f.RateLimit; rl != nil {
		if rl.RPS > 0 {
			c.RateLimitRPS = rl.RPS
		}
		if rl.Burst > 0 {
			c.RateLimitBurst = rl.Burst
		}
	}
	if a := f.Archive; a != nil {
		if a.Type != "" {
			c.Archive.Type = a.Type
		}
		if a.Dir != "" {
			c.Archive.Dir = a.Dir
		}
		if a.Bucket != "" {
			c.Archive.Bucket = a.Bucket
		}
		if a.Prefix != "" {
			c.Archive.Prefix = a.Prefix
		}
		if a.Region != "" {
			c.Archive.Region = a.Region
		}
		if a.Endpoint != "" {
			c.Archive.Endpoint = a.Endpoint
		}
	}
	if tk := f.Tokens; tk != nil && tk.MaxTTL != "" {
		d, err := time.ParseDuration(tk.MaxTTL)
		if err != nil {
			return fmt.Errorf("tokens.max_ttl: %w", err)
		}
		c.TokenMaxTTL = d
	}
	return nil
}

// ApplyConfigFile loads and applies c.ConfigFile when set.
func (c *Config) ApplyConfigFile() error {
	if c.ConfigFile == "" {
		return nil
	}
	f, err := LoadFile(c.ConfigFile)
	if err != nil {
		return err
	}
	return c.Apply(f)
}
