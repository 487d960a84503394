package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"wrapped concurrency", fmt.Errorf("append: %w", ErrConcurrency), KindConcurrency},
		{"not found", ErrNotFound, KindNotFound},
		{"serialization", fmt.Errorf("%w: unknown type", ErrSerialization), KindSerialization},
		{"delivery", fmt.Errorf("%w: kafka", ErrDelivery), KindDelivery},
		{"invariant", fmt.Errorf("%w: negative", ErrInvariant), KindInvariant},
		{"partial write wins over concurrency", fmt.Errorf("%w: %w", ErrPartialWrite, ErrConcurrency), KindPartialWrite},
		{"joined", errors.Join(errors.New("x"), ErrNotFound), KindNotFound},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Equal(t, "concurrency", KindConcurrency.String())
	assert.Equal(t, "partial_write", KindPartialWrite.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(fmt.Errorf("%w: kafka", ErrDelivery)))
	assert.False(t, Retryable(fmt.Errorf("append: %w", ErrConcurrency)))
	assert.False(t, Retryable(fmt.Errorf("%w: bad payload", ErrSerialization)))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(fmt.Errorf("%w: negative", ErrInvariant)))
}
