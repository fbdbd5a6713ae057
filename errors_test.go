package ytingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsQuotaExceeded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"local", &QuotaExceededError{Kind: "write", Used: 2, Limit: 1}, true},
		{"upstream", &UpstreamQuotaError{StatusCode: 403, Reason: "quotaExceeded"}, true},
		{"wrapped", fmt.Errorf("video v1: %w", &UpstreamQuotaError{StatusCode: 403}), true},
		{"joined", errors.Join(errors.New("x"), &QuotaExceededError{Kind: "read"}), true},
		{"not found", ErrVideoNotFound, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQuotaExceeded(tt.err))
		})
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("load: %w", &StorageError{Op: "get", Entity: "videos", ID: "v1", Err: ErrNotFound})
	assert.ErrorIs(t, err, ErrNotFound)

	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "v1", se.ID)
}
