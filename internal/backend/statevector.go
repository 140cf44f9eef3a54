package backend

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/qadapt/qadapt/internal/translate"
)

// statevector is the reference evaluator behind MockBackend. It exists so
// tests and local runs produce exact results; it is not a production
// simulator. Qubit 0 is the most significant bit of a state index, so
// bitstrings read left to right in qubit order.
type statevector struct {
	n    int
	amps []complex128
}

func newStatevector(n int) *statevector {
	amps := make([]complex128, 1<<n)
	amps[0] = 1
	return &statevector{n: n, amps: amps}
}

// Evaluate runs a program and returns exact outcome probabilities over
// all qubits, with basis rotations applied.
func Evaluate(p *translate.Program) (map[string]float64, error) {
	sv := newStatevector(p.QubitCount)
	for _, ins := range p.Instructions {
		if err := sv.apply(ins); err != nil {
			return nil, err
		}
	}
	for _, ins := range p.BasisRotations {
		if err := sv.apply(ins); err != nil {
			return nil, err
		}
	}
	return sv.probabilities(), nil
}

// SampleProgram runs a program and draws per-shot measurement outcomes
// from the exact distribution using the given source.
func SampleProgram(p *translate.Program, shots int, rng *rand.Rand) ([][]int, error) {
	probs, err := Evaluate(p)
	if err != nil {
		return nil, err
	}
	type outcome struct {
		bits string
		p    float64
	}
	outcomes := make([]outcome, 0, len(probs))
	for bits, pv := range probs {
		outcomes = append(outcomes, outcome{bits, pv})
	}
	// Deterministic draw order.
	for i := 1; i < len(outcomes); i++ {
		for j := i; j > 0 && outcomes[j].bits < outcomes[j-1].bits; j-- {
			outcomes[j], outcomes[j-1] = outcomes[j-1], outcomes[j]
		}
	}
	shotsOut := make([][]int, shots)
	for s := range shotsOut {
		r := rng.Float64()
		acc := 0.0
		chosen := outcomes[len(outcomes)-1].bits
		for _, o := range outcomes {
			acc += o.p
			if r < acc {
				chosen = o.bits
				break
			}
		}
		row := make([]int, len(chosen))
		for i, b := range chosen {
			if b == '1' {
				row[i] = 1
			}
		}
		shotsOut[s] = row
	}
	return shotsOut, nil
}

func (sv *statevector) probabilities() map[string]float64 {
	out := make(map[string]float64)
	for i, a := range sv.amps {
		p := real(a)*real(a) + imag(a)*imag(a)
		if p < 1e-12 {
			continue
		}
		out[sv.bitstring(i)] = p
	}
	return out
}

func (sv *statevector) bitstring(i int) string {
	b := make([]byte, sv.n)
	for q := 0; q < sv.n; q++ {
		if i>>(sv.n-1-q)&1 == 1 {
			b[q] = '1'
		} else {
			b[q] = '0'
		}
	}
	return string(b)
}

type mat2 [2][2]complex128
type mat4 [4][4]complex128

func (sv *statevector) apply(ins translate.Instruction) error {
	angle := 0.0
	if ins.Angle != nil {
		angle = *ins.Angle
	}
	switch ins.Type {
	case "h":
		s := complex(1/math.Sqrt2, 0)
		return sv.one(ins, mat2{{s, s}, {s, -s}})
	case "x":
		return sv.one(ins, mat2{{0, 1}, {1, 0}})
	case "y":
		return sv.one(ins, mat2{{0, -1i}, {1i, 0}})
	case "z":
		return sv.one(ins, mat2{{1, 0}, {0, -1}})
	case "s":
		return sv.one(ins, mat2{{1, 0}, {0, 1i}})
	case "t":
		return sv.one(ins, mat2{{1, 0}, {0, cmplx.Exp(1i * math.Pi / 4)}})
	case "v":
		return sv.one(ins, mat2{
			{complex(0.5, 0.5), complex(0.5, -0.5)},
			{complex(0.5, -0.5), complex(0.5, 0.5)},
		})
	case "rx":
		c, s := complex(math.Cos(angle/2), 0), complex(math.Sin(angle/2), 0)
		return sv.one(ins, mat2{{c, -1i * s}, {-1i * s, c}})
	case "ry":
		c, s := complex(math.Cos(angle/2), 0), complex(math.Sin(angle/2), 0)
		return sv.one(ins, mat2{{c, -s}, {s, c}})
	case "rz":
		e := cmplx.Exp(complex(0, angle/2))
		return sv.one(ins, mat2{{1 / e, 0}, {0, e}})
	case "phaseshift":
		return sv.one(ins, mat2{{1, 0}, {0, cmplx.Exp(complex(0, angle))}})
	case "cnot":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 0, 1}, {0, 0, 1, 0},
		})
	case "cy":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 0, -1i}, {0, 0, 1i, 0},
		})
	case "cz":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, -1},
		})
	case "swap":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 0, 1, 0}, {0, 1, 0, 0}, {0, 0, 0, 1},
		})
	case "iswap":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 0, 1i, 0}, {0, 1i, 0, 0}, {0, 0, 0, 1},
		})
	case "pswap":
		e := cmplx.Exp(complex(0, angle))
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 0, e, 0}, {0, e, 0, 0}, {0, 0, 0, 1},
		})
	case "cphaseshift":
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
			{0, 0, 0, cmplx.Exp(complex(0, angle))},
		})
	case "xx":
		c := complex(math.Cos(angle/2), 0)
		is := complex(0, math.Sin(angle/2))
		return sv.two(ins, mat4{
			{c, 0, 0, -is}, {0, c, -is, 0}, {0, -is, c, 0}, {-is, 0, 0, c},
		})
	case "yy":
		c := complex(math.Cos(angle/2), 0)
		is := complex(0, math.Sin(angle/2))
		return sv.two(ins, mat4{
			{c, 0, 0, is}, {0, c, -is, 0}, {0, -is, c, 0}, {is, 0, 0, c},
		})
	case "zz":
		e := cmplx.Exp(complex(0, angle/2))
		return sv.two(ins, mat4{
			{1 / e, 0, 0, 0}, {0, e, 0, 0}, {0, 0, e, 0}, {0, 0, 0, 1 / e},
		})
	case "xy":
		c := complex(math.Cos(angle/2), 0)
		is := complex(0, math.Sin(angle/2))
		return sv.two(ins, mat4{
			{1, 0, 0, 0}, {0, c, is, 0}, {0, is, c, 0}, {0, 0, 0, 1},
		})
	case "ccnot":
		return sv.ccnot(ins)
	case "cswap":
		if len(ins.Targets) != 3 {
			return fmt.Errorf("cswap expects 3 targets, got %d", len(ins.Targets))
		}
		sv.swapControlled(ins.Targets[0], ins.Targets[1], ins.Targets[2])
		return nil
	default:
		return fmt.Errorf("evaluator does not implement instruction %q", ins.Type)
	}
}

func (sv *statevector) one(ins translate.Instruction, m mat2) error {
	if len(ins.Targets) != 1 {
		return fmt.Errorf("%s expects 1 target, got %d", ins.Type, len(ins.Targets))
	}
	q := ins.Targets[0]
	mask := 1 << (sv.n - 1 - q)
	for i := range sv.amps {
		if i&mask != 0 {
			continue
		}
		a0, a1 := sv.amps[i], sv.amps[i|mask]
		sv.amps[i] = m[0][0]*a0 + m[0][1]*a1
		sv.amps[i|mask] = m[1][0]*a0 + m[1][1]*a1
	}
	return nil
}

func (sv *statevector) two(ins translate.Instruction, m mat4) error {
	if len(ins.Targets) != 2 {
		return fmt.Errorf("%s expects 2 targets, got %d", ins.Type, len(ins.Targets))
	}
	q0, q1 := ins.Targets[0], ins.Targets[1]
	m0 := 1 << (sv.n - 1 - q0)
	m1 := 1 << (sv.n - 1 - q1)
	for i := range sv.amps {
		if i&m0 != 0 || i&m1 != 0 {
			continue
		}
		idx := [4]int{i, i | m1, i | m0, i | m0 | m1}
		var in [4]complex128
		for k, ix := range idx {
			in[k] = sv.amps[ix]
		}
		for r, ix := range idx {
			sv.amps[ix] = m[r][0]*in[0] + m[r][1]*in[1] + m[r][2]*in[2] + m[r][3]*in[3]
		}
	}
	return nil
}

// ccnot flips the third target when both controls are set.
func (sv *statevector) ccnot(ins translate.Instruction) error {
	if len(ins.Targets) != 3 {
		return fmt.Errorf("%s expects 3 targets, got %d", ins.Type, len(ins.Targets))
	}
	c0 := 1 << (sv.n - 1 - ins.Targets[0])
	c1 := 1 << (sv.n - 1 - ins.Targets[1])
	t := 1 << (sv.n - 1 - ins.Targets[2])
	for i := range sv.amps {
		if i&c0 != 0 && i&c1 != 0 && i&t == 0 {
			sv.amps[i], sv.amps[i|t] = sv.amps[i|t], sv.amps[i]
		}
	}
	return nil
}

// swapControlled swaps target bits t0 and t1 when control bit c is set.
func (sv *statevector) swapControlled(c, t0, t1 int) {
	cm := 1 << (sv.n - 1 - c)
	m0 := 1 << (sv.n - 1 - t0)
	m1 := 1 << (sv.n - 1 - t1)
	for i := range sv.amps {
		if i&cm != 0 && i&m0 != 0 && i&m1 == 0 {
			j := i&^m0 | m1
			sv.amps[i], sv.amps[j] = sv.amps[j], sv.amps[i]
		}
	}
}
