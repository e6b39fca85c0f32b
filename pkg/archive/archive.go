// Package archive keeps content-addressed copies of settled negotiations.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no document exists under a digest.
var ErrNotFound = errors.New("archive: not found")

const digestPrefix = "sha256:"

// Archive is a write-once content-addressed blob store.
type Archive interface {
	// Put stores data and returns its digest ("sha256:<hex>"). Storing the
	// same bytes twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves a document by digest.
	Get(ctx context.Context, digest string) ([]byte, error)
	// Exists reports whether a digest is stored.
	Exists(ctx context.Context, digest string) (bool, error)
}

// Digest returns the content address of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// objectName validates a digest and returns the blob name it is stored under.
func objectName(digest string) (string, error) {
	raw, ok := strings.CutPrefix(digest, digestPrefix)
	if !ok {
		return "", fmt.Errorf("invalid digest format: %s", digest)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid digest hex: %w", err)
	}
	if len(b) != sha256.Size {
		return "", fmt.Errorf("invalid digest length: %d", len(b))
	}
	return raw + ".json", nil
}
