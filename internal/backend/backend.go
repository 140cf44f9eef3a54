// Package backend defines the execution-service surface the dispatcher
// talks to: task submission, status polling, result retrieval, and
// cancellation. Implementations perform the actual network I/O.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qadapt/qadapt/internal/translate"
)

// Status is the lifecycle state of a submitted task.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Spec is one unit of work to submit: a translated program plus its
// execution configuration.
type Spec struct {
	Program *translate.Program `json:"program"`
	Shots   int                `json:"shots"`
}

// StatusInfo is a point-in-time view of a remote task.
type StatusInfo struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ResultSet is the raw output of one completed task. Analytic runs carry
// exact probabilities keyed by bitstring (wire order, qubit 0 leftmost);
// sampled runs carry per-shot bit vectors in shot order.
type ResultSet struct {
	TaskID        string             `json:"taskId"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Measurements  [][]int            `json:"measurements,omitempty"`
}

// Backend submits programs to an execution target and tracks them.
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	// Submit creates a task and returns its backend-issued ID.
	Submit(ctx context.Context, spec Spec) (string, error)
	// Status reports the task's current lifecycle state.
	Status(ctx context.Context, id string) (StatusInfo, error)
	// Result retrieves the output of a completed task.
	Result(ctx context.Context, id string) (*ResultSet, error)
	// Cancel requests best-effort cancellation of a non-terminal task.
	Cancel(ctx context.Context, id string) error
}

// TaskFailureError reports a task the service marked FAILED, with the
// backend-provided diagnostic.
type TaskFailureError struct {
	TaskID  string
	Message string
}

func (e *TaskFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// ThrottleError reports a submission or poll the service rejected for
// rate-limiting reasons. It is the only error class the dispatcher
// retries.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("throttled by backend, retry after %s", e.RetryAfter)
	}
	return "throttled by backend"
}

// Retryable marks the error as transient.
func (e *ThrottleError) Retryable() bool { return true }

// IsRetryable reports whether err is a transient condition the backend
// explicitly marked as retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
