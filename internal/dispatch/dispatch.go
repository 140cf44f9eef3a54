// Package dispatch submits translated circuits to a backend and collects
// their results. It owns the only blocking operation in the adapter:
// polling remote tasks until they reach a terminal state.
//
// Contracts
//   - Results are returned in submission order regardless of remote
//     completion order.
//   - Each task's outcome is independent; one failed task does not fail
//     the batch. Callers decide whether partial data is usable.
//   - Only conditions the backend marks retryable (throttling) are
//     retried, with bounded attempts and exponential backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/qadapt/qadapt/internal/backend"
	"github.com/qadapt/qadapt/internal/eventbus"
	"github.com/qadapt/qadapt/internal/events"
)

// Config tunes submission concurrency and polling.
type Config struct {
	// MaxParallel bounds concurrently in-flight submissions and polls.
	MaxParallel int
	// PollInitial is the first polling interval.
	PollInitial time.Duration
	// PollMax is the backoff ceiling between polls.
	PollMax time.Duration
	// Timeout is the overall per-task polling ceiling.
	Timeout time.Duration
	// SubmitRetries bounds attempts for throttled submissions.
	SubmitRetries uint
	// CancelOnTimeout requests remote cancellation of tasks that exceed
	// Timeout. Off by default: the caller may inspect the task later.
	CancelOnTimeout bool
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.PollInitial <= 0 {
		c.PollInitial = 200 * time.Millisecond
	}
	if c.PollMax <= 0 {
		c.PollMax = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.SubmitRetries == 0 {
		c.SubmitRetries = 3
	}
	return c
}

// Task is one submitted unit of remote work. It is owned by the
// dispatcher and never mutated after submission.
type Task struct {
	ID    string
	Index int
	Spec  backend.Spec
}

// TaskResult pairs a task with its outcome. Exactly one of Result and
// Err is set.
type TaskResult struct {
	Task   Task
	Result *backend.ResultSet
	Err    error
}

// TaskTimeoutError reports a task still non-terminal when the polling
// ceiling elapsed. The remote task may still be running.
type TaskTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s did not reach a terminal state within %s", e.TaskID, e.Timeout)
}

// TaskCancelledError reports a task that ended CANCELLED.
type TaskCancelledError struct {
	TaskID string
}

func (e *TaskCancelledError) Error() string {
	return fmt.Sprintf("task %s was cancelled", e.TaskID)
}

// BatchCancelError aggregates the outcome of a caller-initiated batch
// cancellation.
type BatchCancelError struct {
	TaskIDs []string
	Errs    []error
}

func (e *BatchCancelError) Error() string {
	msg := fmt.Sprintf("batch cancelled (%d tasks)", len(e.TaskIDs))
	if len(e.Errs) > 0 {
		parts := make([]string, len(e.Errs))
		for i, err := range e.Errs {
			parts[i] = err.Error()
		}
		msg += "; cancel errors: " + strings.Join(parts, "; ")
	}
	return msg
}

// Dispatcher runs batches of circuits against one backend.
type Dispatcher struct {
	b   backend.Backend
	cfg Config
}

// New returns a Dispatcher for the backend with defaults applied.
func New(b backend.Backend, cfg Config) *Dispatcher {
	return &Dispatcher{b: b, cfg: cfg.withDefaults()}
}

// Backend returns the backend this dispatcher submits to.
func (d *Dispatcher) Backend() backend.Backend { return d.b }

// Submit sends every spec to the backend with bounded concurrency.
// Submission is all-or-nothing: if any spec cannot be submitted after
// retries, already-submitted tasks are cancelled best-effort and the
// joined error is returned.
func (d *Dispatcher) Submit(ctx context.Context, specs []backend.Spec) ([]Task, error) {
	tasks := make([]Task, len(specs))
	errs := make([]error, len(specs))
	sem := make(chan struct{}, d.cfg.MaxParallel)
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec backend.Spec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			eventbus.Publish(ctx, events.TaskSubmit{Backend: d.b.Name(), Index: i, Shots: spec.Shots})
			id, err := d.submitOne(ctx, spec)
			if err != nil {
				errs[i] = fmt.Errorf("submit circuit %d: %w", i, err)
				return
			}
			tasks[i] = Task{ID: id, Index: i, Spec: spec}
			eventbus.Publish(ctx, events.TaskSubmitted{Backend: d.b.Name(), Index: i, TaskID: id})
		}(i, spec)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, t := range tasks {
			if t.ID != "" {
				_ = d.b.Cancel(ctx, t.ID)
			}
		}
		return nil, err
	}
	return tasks, nil
}

func (d *Dispatcher) submitOne(ctx context.Context, spec backend.Spec) (string, error) {
	op := func() (string, error) {
		id, err := d.b.Submit(ctx, spec)
		if err != nil {
			if backend.IsRetryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return id, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.cfg.SubmitRetries),
	)
}

// Await blocks until every task reaches a terminal state or times out,
// and returns one TaskResult per task in submission order.
func (d *Dispatcher) Await(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	sem := make(chan struct{}, d.cfg.MaxParallel)
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			rs, err := d.awaitOne(ctx, t)
			results[i] = TaskResult{Task: t, Result: rs, Err: err}
			eventbus.Publish(ctx, events.TaskFinish{
				Backend:  d.b.Name(),
				Index:    t.Index,
				TaskID:   t.ID,
				Status:   finishStatus(err),
				Err:      err,
				Duration: time.Since(start),
			})
		}(i, t)
	}
	wg.Wait()
	return results
}

var errPending = errors.New("task not yet terminal")

func (d *Dispatcher) awaitOne(ctx context.Context, t Task) (*backend.ResultSet, error) {
	op := func() (*backend.ResultSet, error) {
		info, err := d.b.Status(ctx, t.ID)
		if err != nil {
			if backend.IsRetryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		switch info.Status {
		case backend.StatusCompleted:
			rs, err := d.b.Result(ctx, t.ID)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return rs, nil
		case backend.StatusFailed:
			return nil, backoff.Permanent(&backend.TaskFailureError{TaskID: t.ID, Message: info.Message})
		case backend.StatusCancelled:
			return nil, backoff.Permanent(&TaskCancelledError{TaskID: t.ID})
		default:
			return nil, errPending
		}
	}
	rs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxElapsedTime(d.cfg.Timeout),
	)
	if err != nil {
		if errors.Is(err, errPending) || errors.Is(err, context.DeadlineExceeded) {
			if d.cfg.CancelOnTimeout {
				_ = d.b.Cancel(ctx, t.ID)
			}
			return nil, &TaskTimeoutError{TaskID: t.ID, Timeout: d.cfg.Timeout}
		}
		return nil, err
	}
	return rs, nil
}

// CancelAll cancels every non-terminal task best-effort and returns a
// single aggregated cancellation error.
func (d *Dispatcher) CancelAll(ctx context.Context, tasks []Task) error {
	agg := &BatchCancelError{}
	for _, t := range tasks {
		if info, err := d.b.Status(ctx, t.ID); err == nil && info.Status.Terminal() {
			continue
		}
		agg.TaskIDs = append(agg.TaskIDs, t.ID)
		if err := d.b.Cancel(ctx, t.ID); err != nil {
			agg.Errs = append(agg.Errs, fmt.Errorf("cancel task %s: %w", t.ID, err))
		}
	}
	return agg
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.PollInitial
	b.MaxInterval = d.cfg.PollMax
	return b
}

func finishStatus(err error) string {
	switch {
	case err == nil:
		return string(backend.StatusCompleted)
	case errors.As(err, new(*TaskTimeoutError)):
		return "TIMEOUT"
	case errors.As(err, new(*TaskCancelledError)):
		return string(backend.StatusCancelled)
	default:
		return string(backend.StatusFailed)
	}
}
