package capability

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLookupKnownBackends(t *testing.T) {
	want := []string{"aria-1", "local", "sv1", "tn1"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("backend names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		if _, ok := Lookup(name); !ok {
			t.Fatalf("Lookup(%q) = not found", name)
		}
	}
	if _, ok := Lookup("dm1"); ok {
		t.Fatal("Lookup returned a descriptor for an unregistered backend")
	}
}

func TestDescriptorLimits(t *testing.T) {
	cases := []struct {
		name      string
		maxQubits int
		analytic  bool
		simulator bool
	}{
		{"sv1", 34, true, true},
		{"tn1", 50, false, true},
		{"aria-1", 25, false, false},
		{"local", 26, true, true},
	}
	for _, c := range cases {
		d, ok := Lookup(c.name)
		if !ok {
			t.Fatalf("Lookup(%q) = not found", c.name)
		}
		if d.MaxQubits != c.maxQubits || d.Analytic != c.analytic || d.Simulator != c.simulator {
			t.Fatalf("%s: got (%d, %v, %v), want (%d, %v, %v)",
				c.name, d.MaxQubits, d.Analytic, d.Simulator, c.maxQubits, c.analytic, c.simulator)
		}
	}
}

func TestGateSpecs(t *testing.T) {
	sv1, _ := Lookup("sv1")

	g, err := sv1.Gate("RX")
	if err != nil {
		t.Fatalf("Gate(RX): %v", err)
	}
	want := GateSpec{Name: "RX", Target: "rx", Wires: 1, Params: 1, Shift: standardShift}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Fatalf("RX spec mismatch (-want +got):\n%s", diff)
	}
	if g.Shift.Shift != math.Pi/2 || g.Shift.Scale != 0.5 {
		t.Fatalf("RX shift rule = %+v, want {π/2, 0.5}", *g.Shift)
	}

	cnot, err := sv1.Gate("CNOT")
	if err != nil {
		t.Fatalf("Gate(CNOT): %v", err)
	}
	if cnot.Wires != 2 || cnot.Params != 0 || cnot.Shift != nil {
		t.Fatalf("CNOT spec = %+v, want 2 wires, 0 params, no shift rule", cnot)
	}

	// Parametrized gates without a known two-term rule.
	for _, name := range []string{"CPhaseShift", "PSWAP"} {
		g, err := sv1.Gate(name)
		if err != nil {
			t.Fatalf("Gate(%s): %v", name, err)
		}
		if g.Params != 1 || g.Shift != nil {
			t.Fatalf("%s spec = %+v, want 1 param and no shift rule", name, g)
		}
	}
}

func TestUnknownGateError(t *testing.T) {
	sv1, _ := Lookup("sv1")
	_, err := sv1.Gate("QubitUnitary")
	var unsupported *UnsupportedOperationError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Gate(QubitUnitary) error = %v, want *UnsupportedOperationError", err)
	}
	if unsupported.Gate != "QubitUnitary" || unsupported.Device != "sv1" {
		t.Fatalf("error fields = %+v", unsupported)
	}
}

func TestQPURestrictedGateSet(t *testing.T) {
	aria, _ := Lookup("aria-1")
	for _, name := range []string{"CSWAP", "Toffoli", "CPhaseShift", "PSWAP"} {
		if _, err := aria.Gate(name); err == nil {
			t.Fatalf("aria-1 accepts %s, want unsupported", name)
		}
	}
	for _, name := range []string{"Hadamard", "CNOT", "RX", "XX"} {
		if _, err := aria.Gate(name); err != nil {
			t.Fatalf("aria-1 rejects %s: %v", name, err)
		}
	}
}

func TestObservables(t *testing.T) {
	sv1, _ := Lookup("sv1")
	for name, target := range map[string]string{
		"Identity": "i", "PauliX": "x", "PauliY": "y", "PauliZ": "z", "Hadamard": "h",
	} {
		o, err := sv1.Observable(name)
		if err != nil {
			t.Fatalf("Observable(%s): %v", name, err)
		}
		if o.Target != target {
			t.Fatalf("Observable(%s).Target = %q, want %q", name, o.Target, target)
		}
	}

	_, err := sv1.Observable("Hermitian")
	var unsupported *UnsupportedObservableError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Observable(Hermitian) error = %v, want *UnsupportedObservableError", err)
	}
}

func TestGatesSorted(t *testing.T) {
	sv1, _ := Lookup("sv1")
	names := sv1.Gates()
	if len(names) != 24 {
		t.Fatalf("sv1 exposes %d gates, want 24", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Gates() not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
}
