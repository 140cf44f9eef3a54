package backend

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// MockBackend is an in-process Backend used by tests and local runs. It
// evaluates submitted programs with the reference statevector and can be
// scripted per submission index: delayed completion, forced failure,
// tasks that never finish, and throttled submissions.
//
// The zero scripting configuration completes every task on its first
// poll with exact analytic results (or seeded samples when shots > 0).
type MockBackend struct {
	name string
	seed int64

	mu          sync.Mutex
	nextIndex   int
	tasks       map[string]*mockTask
	submitted   []Spec
	cancelled   []string
	throttlesMu int // remaining submissions to throttle

	// CompleteAfter maps a submission index to the number of status polls
	// before the task completes. Unlisted tasks complete on the first poll.
	CompleteAfter map[int]int
	// FailTask maps a submission index to a failure diagnostic; the task
	// reaches FAILED instead of COMPLETED.
	FailTask map[int]string
	// HoldTask marks submission indices that never leave RUNNING.
	HoldTask map[int]bool
	// FailSubmit maps a submission index to an error returned by Submit.
	FailSubmit map[int]error
}

type mockTask struct {
	id     string
	index  int
	spec   Spec
	polls  int
	status Status
	msg    string
}

// NewMockBackend returns a MockBackend reporting the given target name.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{
		name:  name,
		seed:  1,
		tasks: make(map[string]*mockTask),
	}
}

// ThrottleNextSubmissions makes the next n Submit calls return a
// ThrottleError before accepting work again.
func (m *MockBackend) ThrottleNextSubmissions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttlesMu = n
}

// SetSeed fixes the sampling source for shots-mode results.
func (m *MockBackend) SetSeed(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = seed
}

// Submitted returns the specs accepted so far, in submission order.
func (m *MockBackend) Submitted() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Spec(nil), m.submitted...)
}

// Cancelled returns the task ids cancellation was requested for.
func (m *MockBackend) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func (m *MockBackend) Name() string { return m.name }

func (m *MockBackend) Submit(_ context.Context, spec Spec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.throttlesMu > 0 {
		m.throttlesMu--
		return "", &ThrottleError{}
	}
	index := m.nextIndex
	m.nextIndex++
	if err, ok := m.FailSubmit[index]; ok {
		return "", err
	}
	id := uuid.NewString()
	m.tasks[id] = &mockTask{id: id, index: index, spec: spec, status: StatusQueued}
	m.submitted = append(m.submitted, spec)
	return id, nil
}

func (m *MockBackend) Status(_ context.Context, id string) (StatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return StatusInfo{}, fmt.Errorf("unknown task %s", id)
	}
	if t.status.Terminal() {
		return StatusInfo{ID: id, Status: t.status, Message: t.msg}, nil
	}
	t.polls++
	if m.HoldTask[t.index] {
		t.status = StatusRunning
		return StatusInfo{ID: id, Status: t.status}, nil
	}
	need := 1
	if n, ok := m.CompleteAfter[t.index]; ok {
		need = n
	}
	if t.polls < need {
		t.status = StatusRunning
		return StatusInfo{ID: id, Status: t.status}, nil
	}
	if msg, ok := m.FailTask[t.index]; ok {
		t.status = StatusFailed
		t.msg = msg
	} else {
		t.status = StatusCompleted
	}
	return StatusInfo{ID: id, Status: t.status, Message: t.msg}, nil
}

func (m *MockBackend) Result(_ context.Context, id string) (*ResultSet, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	seed := m.seed
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	if t.status != StatusCompleted {
		return nil, fmt.Errorf("task %s has no result in state %s", id, t.status)
	}
	if t.spec.Shots == 0 {
		probs, err := Evaluate(t.spec.Program)
		if err != nil {
			return nil, err
		}
		return &ResultSet{TaskID: id, Probabilities: probs}, nil
	}
	rng := rand.New(rand.NewSource(seed + int64(t.index)))
	shots, err := SampleProgram(t.spec.Program, t.spec.Shots, rng)
	if err != nil {
		return nil, err
	}
	return &ResultSet{TaskID: id, Measurements: shots}, nil
}

func (m *MockBackend) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	m.cancelled = append(m.cancelled, id)
	if !t.status.Terminal() {
		t.status = StatusCancelled
	}
	return nil
}
