//go:build !gcp

package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_GCSRequiresBuildTag(t *testing.T) {
	_, err := New(context.Background(), Config{Type: TypeGCS, Bucket: "b"})
	assert.ErrorContains(t, err, "-tags gcp")
}
