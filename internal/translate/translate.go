// Package translate converts built circuits into the JSON program
// representation the execution service accepts. Translation is pure: the
// same circuit and descriptor always produce the same program.
package translate

import (
	"fmt"
	"math"

	"github.com/qadapt/qadapt/internal/capability"
	"github.com/qadapt/qadapt/internal/circuit"
)

// Instruction is one gate in the wire format.
type Instruction struct {
	Type    string   `json:"type"`
	Targets []int    `json:"targets"`
	Angle   *float64 `json:"angle,omitempty"`
}

// ResultType is one requested result in the wire format.
type ResultType struct {
	Type       string   `json:"type"`
	Observable []string `json:"observable,omitempty"`
	Targets    []int    `json:"targets,omitempty"`
}

// Program is the executable circuit representation submitted to the
// service.
type Program struct {
	Version        string        `json:"version"`
	QubitCount     int           `json:"qubitCount"`
	Instructions   []Instruction `json:"instructions"`
	BasisRotations []Instruction `json:"basisRotationInstructions,omitempty"`
	Results        []ResultType  `json:"results"`
}

// Version is the wire-format revision emitted by this translator.
const Version = "1"

// Mapping is the wire→qubit index table shared by every instruction and
// result target of one circuit. It is built once per circuit.
type Mapping struct {
	byWire []int
}

// NewMapping builds the mapping table for a circuit of the given width.
// Device wires map to qubits in ascending order.
func NewMapping(wires int) *Mapping {
	m := &Mapping{byWire: make([]int, wires)}
	for i := range m.byWire {
		m.byWire[i] = i
	}
	return m
}

// Qubit returns the target qubit for a device wire.
func (m *Mapping) Qubit(wire int) int { return m.byWire[wire] }

func (m *Mapping) qubits(wires []int) []int {
	out := make([]int, len(wires))
	for i, w := range wires {
		out[i] = m.byWire[w]
	}
	return out
}

// Translate converts one operation into its wire-format instruction.
// Parameters are carried in radians unchanged.
func Translate(op circuit.Operation, dev *capability.Descriptor, m *Mapping) (Instruction, error) {
	spec, err := dev.Gate(op.Name)
	if err != nil {
		return Instruction{}, err
	}
	ins := Instruction{Type: spec.Target, Targets: m.qubits(op.Wires)}
	if spec.Params == 1 {
		angle := op.Params[0]
		ins.Angle = &angle
	}
	return ins, nil
}

// diagonalizers lists the basis-rotation gates appended before measurement
// for each observable, mirroring the host framework's diagonalizing-gate
// sequences.
var diagonalizers = map[string][]circuit.Operation{
	"Identity": nil,
	"PauliZ":   nil,
	"PauliX":   {{Name: "Hadamard"}},
	"PauliY":   {{Name: "PauliZ"}, {Name: "S"}, {Name: "Hadamard"}},
	"Hadamard": {{Name: "RY", Params: []float64{-math.Pi / 4}}},
}

// BuildProgram translates a built circuit into a Program for the given
// target. Diagonalizing rotations are emitted once per measured wire.
func BuildProgram(c *circuit.Circuit, dev *capability.Descriptor) (*Program, error) {
	m := NewMapping(c.Wires)
	p := &Program{
		Version:      Version,
		QubitCount:   c.Wires,
		Instructions: make([]Instruction, 0, len(c.Operations)),
	}
	for _, op := range c.Operations {
		ins, err := Translate(op, dev, m)
		if err != nil {
			return nil, err
		}
		p.Instructions = append(p.Instructions, ins)
	}

	rotated := make(map[int]bool)
	for _, ms := range c.Measurements {
		rt := ResultType{Type: string(ms.Mode)}
		if ms.Observable != nil {
			for _, f := range ms.Observable.Factors {
				spec, err := dev.Observable(f.Name)
				if err != nil {
					return nil, err
				}
				rt.Observable = append(rt.Observable, spec.Target)
				rt.Targets = append(rt.Targets, m.Qubit(f.Wire))
				if rotated[f.Wire] {
					continue
				}
				rotated[f.Wire] = true
				for _, rot := range diagonalizers[f.Name] {
					ins, err := Translate(circuit.Operation{
						Name:   rot.Name,
						Wires:  []int{f.Wire},
						Params: rot.Params,
					}, dev, m)
					if err != nil {
						return nil, fmt.Errorf("diagonalize %s on wire %d: %w", f.Name, f.Wire, err)
					}
					p.BasisRotations = append(p.BasisRotations, ins)
				}
			}
		} else {
			rt.Targets = m.qubits(ms.Wires)
		}
		p.Results = append(p.Results, rt)
	}
	return p, nil
}
