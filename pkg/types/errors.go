package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the API-boundary kinds. Handlers map these onto
// HTTP status codes; lower layers wrap them with context via %w.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrPermission = errors.New("permission denied")
	ErrValidation = errors.New("validation failed")
)

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NodeUnavailableError is returned when a fixed or specified strategy
// requires a node that is not online. It is never retried via fallback.
type NodeUnavailableError struct {
	NodeID string
	Reason string
}

func (e *NodeUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("node %s not online: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("node %s not online", e.NodeID)
}

// QueueUnavailableError surfaces a queue backend that stayed unreachable
// across reconnect attempts. Dispatch treats it as task-not-dispatched.
type QueueUnavailableError struct {
	Backend string
	Err     error
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("%s queue unavailable: %v", e.Backend, e.Err)
}

func (e *QueueUnavailableError) Unwrap() error { return e.Err }

// TransportError wraps a failed or timed-out HTTP exchange with a worker
type TransportError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// WorkerRejectedError is a 4xx from a worker's queue: the envelope or the
// referenced project is bad, so retrying the same payload cannot help
type WorkerRejectedError struct {
	NodeID     string
	StatusCode int
	Message    string
}

func (e *WorkerRejectedError) Error() string {
	return fmt.Sprintf("node %s rejected task (%d): %s", e.NodeID, e.StatusCode, e.Message)
}

// ExecutionTimeoutError marks a run that exceeded its wall-clock limit
type ExecutionTimeoutError struct {
	ExecutionID string
	Limit       int
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded %ds timeout", e.ExecutionID, e.Limit)
}

// IsRetryable classifies an execution failure for the scheduler's retry
// policy. Infrastructure-flavoured failures are worth retrying; policy
// and validation failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nodeUnavailable *NodeUnavailableError
	if errors.As(err, &nodeUnavailable) {
		return false
	}
	var rejected *WorkerRejectedError
	if errors.As(err, &rejected) {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) {
		return false
	}
	var queueDown *QueueUnavailableError
	if errors.As(err, &queueDown) {
		return true
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var timeout *ExecutionTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	// Unknown failures default to retryable; the retry budget bounds the cost
	return true
}
