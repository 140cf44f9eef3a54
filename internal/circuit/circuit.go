// Package circuit holds the fixed data model the adapter converts host
// tapes into: operations, observables, measurements, and immutable built
// circuits. Dynamic host-framework values must not travel past this model.
package circuit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/qadapt/qadapt/internal/capability"
)

// Operation is one gate application: a name from the supported-gate
// vocabulary, the wires it acts on, and its numeric parameters.
type Operation struct {
	Name   string    `json:"name"`
	Wires  []int     `json:"wires"`
	Params []float64 `json:"params,omitempty"`
}

// Factor is a single-wire operator inside a tensor-product observable.
type Factor struct {
	Name string `json:"name"`
	Wire int    `json:"wire"`
}

// Observable is a tensor product of single-wire operators.
type Observable struct {
	Factors []Factor `json:"factors"`
}

// Wires returns the wires the observable acts on, in factor order.
func (o *Observable) Wires() []int {
	ws := make([]int, len(o.Factors))
	for i, f := range o.Factors {
		ws[i] = f.Wire
	}
	return ws
}

// Mode selects how a measurement's outcome is reported.
type Mode string

const (
	Expectation Mode = "expectation"
	Variance    Mode = "variance"
	Probability Mode = "probability"
	Sample      Mode = "sample"
)

// Measurement attaches one result request to a circuit. Observable is nil
// for Probability measurements, which target raw wires instead.
type Measurement struct {
	Mode       Mode        `json:"mode"`
	Observable *Observable `json:"observable,omitempty"`
	Wires      []int       `json:"wires,omitempty"`
}

// ParamSlot identifies one numeric parameter inside a circuit by its
// owning operation and position.
type ParamSlot struct {
	Op    int
	Index int
}

// Circuit is an immutable built circuit. It is constructed once per
// execution and never mutated after submission; parameter variants are
// produced by rebuilding.
type Circuit struct {
	Wires        int
	Shots        int
	Operations   []Operation
	Measurements []Measurement

	slots []ParamSlot
	hash  string
}

// DeviceCapabilityError reports a circuit that exceeds a backend limit.
type DeviceCapabilityError struct {
	Device string
	Reason string
}

func (e *DeviceCapabilityError) Error() string {
	return fmt.Sprintf("device %q cannot run circuit: %s", e.Device, e.Reason)
}

// measurementBasis maps observable factor names to the measurement basis
// their diagonalization requires. Factors measured in the computational
// basis need no rotation.
var measurementBasis = map[string]string{
	"Identity": "z",
	"PauliZ":   "z",
	"PauliX":   "x",
	"PauliY":   "y",
	"Hadamard": "h",
}

// Build validates ops and measurements against the target descriptor and
// assembles an immutable Circuit. Identical inputs always yield
// structurally identical circuits with identical hashes.
func Build(ops []Operation, ms []Measurement, wires, shots int, dev *capability.Descriptor) (*Circuit, error) {
	if wires < 1 {
		return nil, fmt.Errorf("circuit needs at least one wire, got %d", wires)
	}
	if shots < 0 {
		return nil, fmt.Errorf("shots must be >= 0, got %d", shots)
	}
	if wires > dev.MaxQubits {
		return nil, &DeviceCapabilityError{
			Device: dev.Name,
			Reason: fmt.Sprintf("circuit uses %d wires but the device supports at most %d", wires, dev.MaxQubits),
		}
	}
	if shots == 0 && !dev.Analytic {
		return nil, &DeviceCapabilityError{
			Device: dev.Name,
			Reason: "analytic (shots=0) execution is not available on this device",
		}
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("circuit has no measurements")
	}

	var slots []ParamSlot
	for i, op := range ops {
		spec, err := dev.Gate(op.Name)
		if err != nil {
			return nil, err
		}
		if len(op.Wires) != spec.Wires {
			return nil, fmt.Errorf("operation %s expects %d wires, got %d", op.Name, spec.Wires, len(op.Wires))
		}
		if len(op.Params) != spec.Params {
			return nil, fmt.Errorf("operation %s expects %d parameters, got %d", op.Name, spec.Params, len(op.Params))
		}
		seen := make(map[int]bool, len(op.Wires))
		for _, w := range op.Wires {
			if w < 0 || w >= wires {
				return nil, fmt.Errorf("operation %s references wire %d outside [0, %d)", op.Name, w, wires)
			}
			if seen[w] {
				return nil, fmt.Errorf("operation %s references wire %d twice", op.Name, w)
			}
			seen[w] = true
		}
		for p := range op.Params {
			slots = append(slots, ParamSlot{Op: i, Index: p})
		}
	}

	// A wire may only be measured in one basis per circuit.
	bases := make(map[int]string)
	for _, m := range ms {
		switch m.Mode {
		case Expectation, Variance, Sample:
			if m.Observable == nil || len(m.Observable.Factors) == 0 {
				return nil, fmt.Errorf("%s measurement needs an observable", m.Mode)
			}
			if m.Mode == Sample && shots == 0 {
				return nil, fmt.Errorf("sample measurement requires shots > 0")
			}
			factorWires := make(map[int]bool, len(m.Observable.Factors))
			for _, f := range m.Observable.Factors {
				if _, err := dev.Observable(f.Name); err != nil {
					return nil, err
				}
				if f.Wire < 0 || f.Wire >= wires {
					return nil, fmt.Errorf("observable %s references wire %d outside [0, %d)", f.Name, f.Wire, wires)
				}
				if factorWires[f.Wire] {
					return nil, fmt.Errorf("observable references wire %d twice", f.Wire)
				}
				factorWires[f.Wire] = true
				basis := measurementBasis[f.Name]
				if prev, ok := bases[f.Wire]; ok && prev != basis {
					return nil, fmt.Errorf("wire %d is measured in both %q and %q bases", f.Wire, prev, basis)
				}
				bases[f.Wire] = basis
			}
		case Probability:
			if m.Observable != nil {
				return nil, fmt.Errorf("probability measurement takes wires, not an observable")
			}
			if len(m.Wires) == 0 {
				return nil, fmt.Errorf("probability measurement needs at least one wire")
			}
			for _, w := range m.Wires {
				if w < 0 || w >= wires {
					return nil, fmt.Errorf("probability measurement references wire %d outside [0, %d)", w, wires)
				}
				if prev, ok := bases[w]; ok && prev != "z" {
					return nil, fmt.Errorf("wire %d is measured in both %q and \"z\" bases", w, prev)
				}
				bases[w] = "z"
			}
		default:
			return nil, fmt.Errorf("unknown measurement mode %q", m.Mode)
		}
	}

	c := &Circuit{
		Wires:        wires,
		Shots:        shots,
		Operations:   cloneOps(ops),
		Measurements: cloneMeasurements(ms),
		slots:        slots,
	}
	c.hash = structuralHash(c)
	return c, nil
}

// NumParams returns the number of numeric parameters in the circuit.
func (c *Circuit) NumParams() int { return len(c.slots) }

// ParamSlots returns the flattened parameter layout in operation order.
func (c *Circuit) ParamSlots() []ParamSlot { return c.slots }

// Param returns the value of flattened parameter k.
func (c *Circuit) Param(k int) (float64, error) {
	if k < 0 || k >= len(c.slots) {
		return 0, fmt.Errorf("parameter index %d outside [0, %d)", k, len(c.slots))
	}
	s := c.slots[k]
	return c.Operations[s.Op].Params[s.Index], nil
}

// OpForParam returns the operation owning flattened parameter k.
func (c *Circuit) OpForParam(k int) (Operation, error) {
	if k < 0 || k >= len(c.slots) {
		return Operation{}, fmt.Errorf("parameter index %d outside [0, %d)", k, len(c.slots))
	}
	return c.Operations[c.slots[k].Op], nil
}

// ShiftParam returns a rebuilt copy of the circuit with flattened
// parameter k shifted by delta. The receiver is unchanged.
func (c *Circuit) ShiftParam(k int, delta float64) (*Circuit, error) {
	if k < 0 || k >= len(c.slots) {
		return nil, fmt.Errorf("parameter index %d outside [0, %d)", k, len(c.slots))
	}
	shifted := &Circuit{
		Wires:        c.Wires,
		Shots:        c.Shots,
		Operations:   cloneOps(c.Operations),
		Measurements: c.Measurements,
		slots:        c.slots,
	}
	s := c.slots[k]
	shifted.Operations[s.Op].Params[s.Index] += delta
	shifted.hash = structuralHash(shifted)
	return shifted, nil
}

// Hash returns the structural hash of the circuit. Equal circuits have
// equal hashes; the hash covers wires, shots, operations, parameters,
// and measurements.
func (c *Circuit) Hash() string { return c.hash }

func structuralHash(c *Circuit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "w=%d;s=%d;", c.Wires, c.Shots)
	for _, op := range c.Operations {
		b.WriteString(op.Name)
		for _, w := range op.Wires {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(w))
		}
		for _, p := range op.Params {
			b.WriteByte('@')
			b.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
		}
		b.WriteByte(';')
	}
	for _, m := range c.Measurements {
		b.WriteString(string(m.Mode))
		if m.Observable != nil {
			for _, f := range m.Observable.Factors {
				fmt.Fprintf(&b, " %s:%d", f.Name, f.Wire)
			}
		}
		for _, w := range m.Wires {
			fmt.Fprintf(&b, " %d", w)
		}
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func cloneOps(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = Operation{
			Name:   op.Name,
			Wires:  append([]int(nil), op.Wires...),
			Params: append([]float64(nil), op.Params...),
		}
	}
	return out
}

func cloneMeasurements(ms []Measurement) []Measurement {
	out := make([]Measurement, len(ms))
	for i, m := range ms {
		cm := Measurement{Mode: m.Mode, Wires: append([]int(nil), m.Wires...)}
		if m.Observable != nil {
			cm.Observable = &Observable{Factors: append([]Factor(nil), m.Observable.Factors...)}
		}
		out[i] = cm
	}
	return out
}
