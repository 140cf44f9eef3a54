// Package shape converts raw backend results into the numeric tensors
// the host framework expects. Shaping is pure: analytic results use
// exact arithmetic, sampled results use the empirical estimator, and the
// same estimator family is used for expectation and variance.
package shape

import (
	"fmt"

	"github.com/qadapt/qadapt/internal/backend"
	"github.com/qadapt/qadapt/internal/circuit"
)

// Tensor is a dense numeric result. Dims is empty for scalars.
type Tensor struct {
	Dims   []int
	Values []float64
}

// Scalar wraps a single value.
func Scalar(v float64) Tensor { return Tensor{Values: []float64{v}} }

// Shape converts one task's raw output into one tensor per measurement,
// in measurement order.
func Shape(rs *backend.ResultSet, c *circuit.Circuit) ([]Tensor, error) {
	out := make([]Tensor, len(c.Measurements))
	for i, m := range c.Measurements {
		t, err := shapeOne(rs, c, m)
		if err != nil {
			return nil, fmt.Errorf("measurement %d (%s): %w", i, m.Mode, err)
		}
		out[i] = t
	}
	return out, nil
}

// Expectations shapes a result for a circuit whose measurements are all
// expectation values, returning one float per observable. The gradient
// engine combines these into Jacobian entries.
func Expectations(rs *backend.ResultSet, c *circuit.Circuit) ([]float64, error) {
	out := make([]float64, len(c.Measurements))
	for i, m := range c.Measurements {
		if m.Mode != circuit.Expectation {
			return nil, fmt.Errorf("measurement %d has mode %s, want %s", i, m.Mode, circuit.Expectation)
		}
		t, err := shapeOne(rs, c, m)
		if err != nil {
			return nil, err
		}
		out[i] = t.Values[0]
	}
	return out, nil
}

func shapeOne(rs *backend.ResultSet, c *circuit.Circuit, m circuit.Measurement) (Tensor, error) {
	switch m.Mode {
	case circuit.Expectation:
		e, _, err := moments(rs, m.Observable)
		if err != nil {
			return Tensor{}, err
		}
		return Scalar(e), nil
	case circuit.Variance:
		e, e2, err := moments(rs, m.Observable)
		if err != nil {
			return Tensor{}, err
		}
		return Scalar(e2 - e*e), nil
	case circuit.Probability:
		return marginal(rs, m.Wires)
	case circuit.Sample:
		return samples(rs, m.Observable)
	default:
		return Tensor{}, fmt.Errorf("unknown measurement mode %q", m.Mode)
	}
}

// eigenvalue returns the outcome eigenvalue of a tensor-product
// observable for one basis state. All supported factors diagonalize to
// ±1 on their wire; Identity contributes 1.
func eigenvalue(obs *circuit.Observable, bit func(wire int) int) float64 {
	e := 1.0
	for _, f := range obs.Factors {
		if f.Name == "Identity" {
			continue
		}
		if bit(f.Wire) == 1 {
			e = -e
		}
	}
	return e
}

// moments returns E[O] and E[O²] under the estimator matching the
// result's mode: exact sums for analytic probabilities, sample means for
// per-shot measurements.
func moments(rs *backend.ResultSet, obs *circuit.Observable) (e, e2 float64, err error) {
	switch {
	case rs.Probabilities != nil:
		for bits, p := range rs.Probabilities {
			v := eigenvalue(obs, bitAt(bits))
			e += p * v
			e2 += p * v * v
		}
		return e, e2, nil
	case rs.Measurements != nil:
		n := float64(len(rs.Measurements))
		for _, row := range rs.Measurements {
			v := eigenvalue(obs, rowBit(row))
			e += v
			e2 += v * v
		}
		return e / n, e2 / n, nil
	default:
		return 0, 0, fmt.Errorf("result set carries neither probabilities nor measurements")
	}
}

// marginal computes the probability vector over the given wires, indexed
// by the binary value of their bits in wire-argument order.
func marginal(rs *backend.ResultSet, wires []int) (Tensor, error) {
	dim := 1 << len(wires)
	values := make([]float64, dim)
	switch {
	case rs.Probabilities != nil:
		for bits, p := range rs.Probabilities {
			values[marginalIndex(wires, bitAt(bits))] += p
		}
	case rs.Measurements != nil:
		w := 1 / float64(len(rs.Measurements))
		for _, row := range rs.Measurements {
			values[marginalIndex(wires, rowBit(row))] += w
		}
	default:
		return Tensor{}, fmt.Errorf("result set carries neither probabilities nor measurements")
	}
	return Tensor{Dims: []int{dim}, Values: values}, nil
}

// samples returns the per-shot observable eigenvalues in shot order.
func samples(rs *backend.ResultSet, obs *circuit.Observable) (Tensor, error) {
	if rs.Measurements == nil {
		return Tensor{}, fmt.Errorf("sample mode needs per-shot measurements")
	}
	values := make([]float64, len(rs.Measurements))
	for i, row := range rs.Measurements {
		values[i] = eigenvalue(obs, rowBit(row))
	}
	return Tensor{Dims: []int{len(values)}, Values: values}, nil
}

func marginalIndex(wires []int, bit func(wire int) int) int {
	idx := 0
	for _, w := range wires {
		idx = idx<<1 | bit(w)
	}
	return idx
}

func bitAt(bits string) func(int) int {
	return func(wire int) int {
		if wire < len(bits) && bits[wire] == '1' {
			return 1
		}
		return 0
	}
}

func rowBit(row []int) func(int) int {
	return func(wire int) int {
		if wire < len(row) {
			return row[wire]
		}
		return 0
	}
}
