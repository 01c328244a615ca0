package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatalClassification(t *testing.T) {
	fatal := []error{ErrBadMagic, ErrUnsupportedVersion, ErrBadKey, ErrMalformed, ErrCyclicOuterChain}
	for _, err := range fatal {
		assert.True(t, IsFatal(err), err.Error())
		assert.True(t, IsFatal(fmt.Errorf("context: %w", err)), err.Error())
	}

	entryLevel := []error{ErrUnknownCodec, ErrTruncated, ErrHashMismatch, ErrSchemaMismatch, ErrNotFound}
	for _, err := range entryLevel {
		assert.False(t, IsFatal(err), err.Error())
	}

	assert.False(t, IsFatal(nil))
}
