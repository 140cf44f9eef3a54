package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qadapt/qadapt/internal/translate"
)

type fakeService struct {
	mu        chan struct{}
	nextID    int
	submitted []submitRequest
	statuses  map[string]StatusInfo
	results   map[string]*ResultSet
	cancelled []string
	throttles int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	return &fakeService{
		mu:       make(chan struct{}, 1),
		statuses: make(map[string]StatusInfo),
		results:  make(map[string]*ResultSet),
	}
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
		if s.throttles > 0 {
			s.throttles--
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.nextID++
		id := "task-" + strconv.Itoa(s.nextID)
		s.submitted = append(s.submitted, req)
		s.statuses[id] = StatusInfo{ID: id, Status: StatusQueued}
		_ = json.NewEncoder(w).Encode(submitResponse{ID: id})

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/result"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/tasks/"), "/result")
		rs, ok := s.results[id]
		if !ok {
			http.Error(w, "no result", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(rs)

	case r.Method == http.MethodGet:
		id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
		info, ok := s.statuses[id]
		if !ok {
			http.Error(w, "unknown task", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(info)

	case r.Method == http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
		s.cancelled = append(s.cancelled, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func testProgram() *translate.Program {
	return &translate.Program{
		Version:      "1",
		QubitCount:   1,
		Instructions: []translate.Instruction{{Type: "h", Targets: []int{0}}},
		Results:      []translate.ResultType{{Type: "probability", Targets: []int{0}}},
	}
}

func TestClientSubmit(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := NewClient("sv1", srv.URL)
	id, err := c.Submit(context.Background(), Spec{Program: testProgram(), Shots: 100})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, svc.submitted, 1)
	require.Equal(t, "sv1", svc.submitted[0].Backend)
	require.Equal(t, 100, svc.submitted[0].Shots)
	require.Equal(t, 1, svc.submitted[0].Program.QubitCount)
}

func TestClientStatusAndResult(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := NewClient("sv1", srv.URL)
	id, err := c.Submit(context.Background(), Spec{Program: testProgram()})
	require.NoError(t, err)

	info, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, info.Status)

	svc.statuses[id] = StatusInfo{ID: id, Status: StatusCompleted}
	svc.results[id] = &ResultSet{Probabilities: map[string]float64{"0": 0.5, "1": 0.5}}

	info, err = c.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, info.Status)

	rs, err := c.Result(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, rs.TaskID) // filled in when the service omits it
	require.InDelta(t, 0.5, rs.Probabilities["0"], 1e-12)
}

func TestClientCancel(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := NewClient("sv1", srv.URL)
	id, err := c.Submit(context.Background(), Spec{Program: testProgram()})
	require.NoError(t, err)
	require.NoError(t, c.Cancel(context.Background(), id))
	require.Equal(t, []string{id}, svc.cancelled)
}

func TestClientThrottled(t *testing.T) {
	svc := newFakeService(t)
	svc.throttles = 1
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := NewClient("sv1", srv.URL)
	_, err := c.Submit(context.Background(), Spec{Program: testProgram()})
	require.Error(t, err)
	require.True(t, IsRetryable(err))

	var throttled *ThrottleError
	require.ErrorAs(t, err, &throttled)
	require.Equal(t, 2*time.Second, throttled.RetryAfter)

	// The next submission goes through.
	_, err = c.Submit(context.Background(), Spec{Program: testProgram()})
	require.NoError(t, err)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("sv1", srv.URL)
	_, err := c.Submit(context.Background(), Spec{Program: testProgram()})
	require.Error(t, err)
	require.False(t, IsRetryable(err))
	require.Contains(t, err.Error(), "internal failure")
}
