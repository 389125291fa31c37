package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unclassified", errors.New("boom"), KindItemFatal},
		{"not found", NotFound("retrieval.search", "title not listed", nil), KindNotFound},
		{"wrapped not ready", fmt.Errorf("retrieve: %w", NotReady("retrieval.readiness", "", nil)), KindNotReady},
		{"session below item fatal", ItemFatal("submission.upload", "upload failed", SessionFatal("browser.click", "target closed", nil)), KindSessionFatal},
		{"cancelled", fmt.Errorf("dequeue: %w", context.Canceled), KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NotFound("op", "", nil)))
	assert.True(t, IsRetryable(NotReady("op", "", nil)))
	assert.False(t, IsRetryable(ItemFatal("op", "", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Document not found yet. Please try again later.", UserMessage(NotFound("op", "x", nil)))
	assert.Equal(t, "Processing failed: upload control not found", UserMessage(ItemFatal("submission.upload", "upload control not found", nil)))
	assert.Equal(t, "Processing failed. Please try again later.", UserMessage(errors.New("raw")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("node not found")
	err := UIDrift("submission.open", "candidate missed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "submission.open")
}
