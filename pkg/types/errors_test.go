package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"node unavailable", &NodeUnavailableError{NodeID: "n1"}, false},
		{"worker rejected", &WorkerRejectedError{NodeID: "n1", StatusCode: 422}, false},
		{"validation", fmt.Errorf("bad payload: %w", ErrValidation), false},
		{"not found", fmt.Errorf("gone: %w", ErrNotFound), false},
		{"permission", ErrPermission, false},
		{"queue down", &QueueUnavailableError{Backend: "redis", Err: errors.New("refused")}, true},
		{"transport", &TransportError{NodeID: "n1", Op: "enqueue", Err: errors.New("timeout")}, true},
		{"execution timeout", &ExecutionTimeoutError{ExecutionID: "e1", Limit: 30}, true},
		{"unknown", errors.New("something"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("user 3: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrConflict))
	assert.False(t, IsNotFound(nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "node n1 not online", (&NodeUnavailableError{NodeID: "n1"}).Error())
	assert.Equal(t, "node n1 not online: maintenance", (&NodeUnavailableError{NodeID: "n1", Reason: "maintenance"}).Error())
	assert.Contains(t, (&WorkerRejectedError{NodeID: "n1", StatusCode: 400, Message: "bad"}).Error(), "400")
	assert.Contains(t, (&ExecutionTimeoutError{ExecutionID: "e1", Limit: 60}).Error(), "60s")
}
