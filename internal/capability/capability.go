// Package capability describes what each execution target supports:
// its gate vocabulary, qubit limit, analytic-mode availability, and the
// parameter-shift metadata used for gradients. Gate support is data-driven;
// backends are plain descriptors, never subclasses.
package capability

import (
	"fmt"
	"math"
	"sort"
)

// ShiftRule holds the two-term parameter-shift metadata for one gate:
// d/dθ f(θ) = (f(θ+Shift) − f(θ−Shift)) · Scale.
type ShiftRule struct {
	Shift float64
	Scale float64
}

// GateSpec describes one supported gate.
type GateSpec struct {
	// Name is the device-agnostic operation name, e.g. "RX".
	Name string
	// Target is the wire-format instruction type, e.g. "rx".
	Target string
	// Wires is the gate arity.
	Wires int
	// Params is the number of numeric parameters (0 or 1).
	Params int
	// Shift is the two-term parameter-shift rule, nil when no rule is known.
	Shift *ShiftRule
}

// ObservableSpec describes one supported single-wire measurement operator.
type ObservableSpec struct {
	// Name is the device-agnostic observable name, e.g. "PauliZ".
	Name string
	// Target is the wire-format operator symbol, e.g. "z".
	Target string
}

// Descriptor describes one execution target.
type Descriptor struct {
	// Name is the backend identifier used in configuration.
	Name string
	// MaxQubits is the largest circuit width the target accepts.
	MaxQubits int
	// Analytic reports whether the target supports shots=0 (exact) execution.
	Analytic bool
	// Simulator reports whether the target is a simulator.
	Simulator bool

	gates       map[string]GateSpec
	observables map[string]ObservableSpec
}

// UnsupportedOperationError reports a gate absent from a target's gate table.
type UnsupportedOperationError struct {
	Gate   string
	Device string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %q is not supported by device %q", e.Gate, e.Device)
}

// UnsupportedObservableError reports an observable absent from a target's table.
type UnsupportedObservableError struct {
	Observable string
	Device     string
}

func (e *UnsupportedObservableError) Error() string {
	return fmt.Sprintf("observable %q is not supported by device %q", e.Observable, e.Device)
}

// Gate returns the spec for the named gate.
func (d *Descriptor) Gate(name string) (GateSpec, error) {
	g, ok := d.gates[name]
	if !ok {
		return GateSpec{}, &UnsupportedOperationError{Gate: name, Device: d.Name}
	}
	return g, nil
}

// Observable returns the spec for the named single-wire observable.
func (d *Descriptor) Observable(name string) (ObservableSpec, error) {
	o, ok := d.observables[name]
	if !ok {
		return ObservableSpec{}, &UnsupportedObservableError{Observable: name, Device: d.Name}
	}
	return o, nil
}

// Gates returns the supported gate names in sorted order.
func (d *Descriptor) Gates() []string {
	names := make([]string, 0, len(d.gates))
	for name := range d.gates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// standardShift is the π/2 two-term rule for rotation-like gates whose
// generator has eigenvalues ±1/2: scale = 1/(2·sin(π/2)) = 0.5.
var standardShift = &ShiftRule{Shift: math.Pi / 2, Scale: 0.5}

var allGates = []GateSpec{
	{Name: "Hadamard", Target: "h", Wires: 1},
	{Name: "PauliX", Target: "x", Wires: 1},
	{Name: "PauliY", Target: "y", Wires: 1},
	{Name: "PauliZ", Target: "z", Wires: 1},
	{Name: "S", Target: "s", Wires: 1},
	{Name: "T", Target: "t", Wires: 1},
	{Name: "SX", Target: "v", Wires: 1},
	{Name: "CNOT", Target: "cnot", Wires: 2},
	{Name: "CY", Target: "cy", Wires: 2},
	{Name: "CZ", Target: "cz", Wires: 2},
	{Name: "SWAP", Target: "swap", Wires: 2},
	{Name: "CSWAP", Target: "cswap", Wires: 3},
	{Name: "Toffoli", Target: "ccnot", Wires: 3},
	{Name: "ISWAP", Target: "iswap", Wires: 2},
	{Name: "RX", Target: "rx", Wires: 1, Params: 1, Shift: standardShift},
	{Name: "RY", Target: "ry", Wires: 1, Params: 1, Shift: standardShift},
	{Name: "RZ", Target: "rz", Wires: 1, Params: 1, Shift: standardShift},
	{Name: "PhaseShift", Target: "phaseshift", Wires: 1, Params: 1, Shift: standardShift},
	{Name: "CPhaseShift", Target: "cphaseshift", Wires: 2, Params: 1},
	{Name: "PSWAP", Target: "pswap", Wires: 2, Params: 1},
	{Name: "XX", Target: "xx", Wires: 2, Params: 1, Shift: standardShift},
	{Name: "XY", Target: "xy", Wires: 2, Params: 1, Shift: standardShift},
	{Name: "YY", Target: "yy", Wires: 2, Params: 1, Shift: standardShift},
	{Name: "ZZ", Target: "zz", Wires: 2, Params: 1, Shift: standardShift},
}

var allObservables = []ObservableSpec{
	{Name: "Identity", Target: "i"},
	{Name: "PauliX", Target: "x"},
	{Name: "PauliY", Target: "y"},
	{Name: "PauliZ", Target: "z"},
	{Name: "Hadamard", Target: "h"},
}

// qpuGates is the restricted vocabulary of the hardware targets: the
// trapped-ion QPUs expose no three-qubit natives.
var qpuGateNames = []string{
	"Hadamard", "PauliX", "PauliY", "PauliZ", "S", "T", "SX",
	"CNOT", "CY", "CZ", "SWAP", "ISWAP",
	"RX", "RY", "RZ", "PhaseShift", "XX", "XY", "YY", "ZZ",
}

func gateSet(names []string) map[string]GateSpec {
	byName := make(map[string]GateSpec, len(allGates))
	for _, g := range allGates {
		byName[g.Name] = g
	}
	m := make(map[string]GateSpec, len(names))
	for _, n := range names {
		m[n] = byName[n]
	}
	return m
}

func allGateSet() map[string]GateSpec {
	m := make(map[string]GateSpec, len(allGates))
	for _, g := range allGates {
		m[g.Name] = g
	}
	return m
}

func observableSet() map[string]ObservableSpec {
	m := make(map[string]ObservableSpec, len(allObservables))
	for _, o := range allObservables {
		m[o.Name] = o
	}
	return m
}

var registry = func() map[string]*Descriptor {
	ds := []*Descriptor{
		{Name: "sv1", MaxQubits: 34, Analytic: true, Simulator: true,
			gates: allGateSet(), observables: observableSet()},
		{Name: "tn1", MaxQubits: 50, Analytic: false, Simulator: true,
			gates: allGateSet(), observables: observableSet()},
		{Name: "aria-1", MaxQubits: 25, Analytic: false, Simulator: false,
			gates: gateSet(qpuGateNames), observables: observableSet()},
		{Name: "local", MaxQubits: 26, Analytic: true, Simulator: true,
			gates: allGateSet(), observables: observableSet()},
	}
	m := make(map[string]*Descriptor, len(ds))
	for _, d := range ds {
		m[d.Name] = d
	}
	return m
}()

// Lookup returns the descriptor for the named backend.
func Lookup(name string) (*Descriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names returns the registered backend identifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
