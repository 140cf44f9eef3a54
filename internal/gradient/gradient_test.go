package gradient

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/qadapt/qadapt/internal/backend"
	"github.com/qadapt/qadapt/internal/capability"
	"github.com/qadapt/qadapt/internal/circuit"
	"github.com/qadapt/qadapt/internal/dispatch"
)

func sv1(t *testing.T) *capability.Descriptor {
	t.Helper()
	d, ok := capability.Lookup("sv1")
	if !ok {
		t.Fatal("sv1 descriptor missing")
	}
	return d
}

func newEngine(t *testing.T, m *backend.MockBackend) *Engine {
	t.Helper()
	d := dispatch.New(m, dispatch.Config{
		PollInitial: 2 * time.Millisecond,
		PollMax:     10 * time.Millisecond,
		Timeout:     5 * time.Second,
	})
	return New(d, sv1(t), 100)
}

func expvalZ(wire int) circuit.Measurement {
	return circuit.Measurement{Mode: circuit.Expectation, Observable: &circuit.Observable{
		Factors: []circuit.Factor{{Name: "PauliZ", Wire: wire}},
	}}
}

func build(t *testing.T, ops []circuit.Operation, ms []circuit.Measurement, wires int) *circuit.Circuit {
	t.Helper()
	c, err := circuit.Build(ops, ms, wires, 0, sv1(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestJacobianRotation(t *testing.T) {
	e := newEngine(t, backend.NewMockBackend("sv1"))
	for _, theta := range []float64{0, 0.25, 0.543, math.Pi / 2, 1.9, math.Pi} {
		c := build(t,
			[]circuit.Operation{{Name: "RX", Wires: []int{0}, Params: []float64{theta}}},
			[]circuit.Measurement{expvalZ(0)}, 1)
		jac, err := e.Jacobian(context.Background(), c, nil)
		if err != nil {
			t.Fatalf("Jacobian(θ=%v): %v", theta, err)
		}
		if len(jac) != 1 || len(jac[0]) != 1 {
			t.Fatalf("θ=%v: jacobian shape %dx%d, want 1x1", theta, len(jac), len(jac[0]))
		}
		if got, want := jac[0][0], -math.Sin(theta); math.Abs(got-want) > 1e-6 {
			t.Fatalf("d⟨Z⟩/dθ(θ=%v) = %v, want %v", theta, got, want)
		}
	}
}

func TestJacobianMultipleObservables(t *testing.T) {
	theta0, theta1 := 0.7, 1.3
	c := build(t,
		[]circuit.Operation{
			{Name: "RY", Wires: []int{0}, Params: []float64{theta0}},
			{Name: "RX", Wires: []int{1}, Params: []float64{theta1}},
		},
		[]circuit.Measurement{expvalZ(0), expvalZ(1)}, 2)

	e := newEngine(t, backend.NewMockBackend("sv1"))
	jac, err := e.Jacobian(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	if len(jac) != 2 || len(jac[0]) != 2 {
		t.Fatalf("jacobian shape %dx%d, want 2x2", len(jac), len(jac[0]))
	}
	want := [2][2]float64{
		{-math.Sin(theta0), 0},
		{0, -math.Sin(theta1)},
	}
	for r := 0; r < 2; r++ {
		for p := 0; p < 2; p++ {
			if math.Abs(jac[r][p]-want[r][p]) > 1e-6 {
				t.Fatalf("jac[%d][%d] = %v, want %v", r, p, jac[r][p], want[r][p])
			}
		}
	}
}

func TestJacobianParamSubset(t *testing.T) {
	theta0, theta1 := 0.4, 1.1
	c := build(t,
		[]circuit.Operation{
			{Name: "RX", Wires: []int{0}, Params: []float64{theta0}},
			{Name: "RX", Wires: []int{1}, Params: []float64{theta1}},
		},
		[]circuit.Measurement{expvalZ(1)}, 2)

	m := backend.NewMockBackend("sv1")
	e := newEngine(t, m)
	jac, err := e.Jacobian(context.Background(), c, []int{1})
	if err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	if len(jac) != 1 || len(jac[0]) != 1 {
		t.Fatalf("jacobian shape %dx%d, want 1x1", len(jac), len(jac[0]))
	}
	if got, want := jac[0][0], -math.Sin(theta1); math.Abs(got-want) > 1e-6 {
		t.Fatalf("jac[0][0] = %v, want %v", got, want)
	}
	// One parameter means exactly one ± pair of circuits.
	if got := len(m.Submitted()); got != 2 {
		t.Fatalf("submitted %d circuits, want 2", got)
	}
}

func TestJacobianUnsupportedGate(t *testing.T) {
	c := build(t,
		[]circuit.Operation{
			{Name: "Hadamard", Wires: []int{0}},
			{Name: "CPhaseShift", Wires: []int{0, 1}, Params: []float64{0.3}},
		},
		[]circuit.Measurement{expvalZ(1)}, 2)

	m := backend.NewMockBackend("sv1")
	e := newEngine(t, m)
	_, err := e.Jacobian(context.Background(), c, nil)

	var unsupported *UnsupportedGradientError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want *UnsupportedGradientError", err)
	}
	if unsupported.Gate != "CPhaseShift" || unsupported.Param != 0 || unsupported.Device != "sv1" {
		t.Fatalf("error fields = %+v", unsupported)
	}
	// The rule check happens before any circuit is sent.
	if got := len(m.Submitted()); got != 0 {
		t.Fatalf("submitted %d circuits before failing, want 0", got)
	}
}

func TestJacobianPartialFailure(t *testing.T) {
	theta0, theta1 := 0.6, 1.2
	c := build(t,
		[]circuit.Operation{
			{Name: "RX", Wires: []int{0}, Params: []float64{theta0}},
			{Name: "RX", Wires: []int{1}, Params: []float64{theta1}},
		},
		[]circuit.Measurement{expvalZ(0)}, 2)

	m := backend.NewMockBackend("sv1")
	// Fail the +shift circuit of the second parameter.
	m.FailTask = map[int]string{2: "qpu error"}
	e := newEngine(t, m)

	jac, err := e.Jacobian(context.Background(), c, nil)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error = %v, want *EvaluationError", err)
	}
	if _, ok := evalErr.Failed[1]; !ok || len(evalErr.Failed) != 1 {
		t.Fatalf("failed params = %v, want exactly {1}", evalErr.Failed)
	}
	if got, want := jac[0][0], -math.Sin(theta0); math.Abs(got-want) > 1e-6 {
		t.Fatalf("surviving column = %v, want %v", got, want)
	}
	if !math.IsNaN(jac[0][1]) {
		t.Fatalf("failed column = %v, want NaN", jac[0][1])
	}
}

func TestJacobianRequiresExpectations(t *testing.T) {
	c := build(t,
		[]circuit.Operation{{Name: "RX", Wires: []int{0}, Params: []float64{0.5}}},
		[]circuit.Measurement{{Mode: circuit.Probability, Wires: []int{0}}}, 1)
	e := newEngine(t, backend.NewMockBackend("sv1"))
	if _, err := e.Jacobian(context.Background(), c, nil); err == nil {
		t.Fatal("Jacobian accepted a probability measurement")
	}
}

func TestJacobianChunked(t *testing.T) {
	// maxBatch 2 forces the four shift circuits into two dispatcher calls
	// without changing the result.
	theta0, theta1 := 0.3, 0.9
	c := build(t,
		[]circuit.Operation{
			{Name: "RY", Wires: []int{0}, Params: []float64{theta0}},
			{Name: "RY", Wires: []int{1}, Params: []float64{theta1}},
		},
		[]circuit.Measurement{expvalZ(0), expvalZ(1)}, 2)

	m := backend.NewMockBackend("sv1")
	d := dispatch.New(m, dispatch.Config{
		PollInitial: 2 * time.Millisecond,
		PollMax:     10 * time.Millisecond,
		Timeout:     5 * time.Second,
	})
	e := New(d, sv1(t), 2)

	jac, err := e.Jacobian(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	if got := len(m.Submitted()); got != 4 {
		t.Fatalf("submitted %d circuits, want 4", got)
	}
	want := [2][2]float64{
		{-math.Sin(theta0), 0},
		{0, -math.Sin(theta1)},
	}
	for r := 0; r < 2; r++ {
		for p := 0; p < 2; p++ {
			if math.Abs(jac[r][p]-want[r][p]) > 1e-6 {
				t.Fatalf("jac[%d][%d] = %v, want %v", r, p, jac[r][p], want[r][p])
			}
		}
	}
}
