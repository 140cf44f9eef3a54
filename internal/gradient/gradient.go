// Package gradient computes circuit gradients with the two-term
// parameter-shift rule. For each differentiable parameter it rebuilds
// the circuit at θ+s and θ−s, submits every shifted circuit of one call
// as a single batch, and combines the results into a Jacobian with one
// row per observable and one column per parameter.
package gradient

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/qadapt/qadapt/internal/backend"
	"github.com/qadapt/qadapt/internal/capability"
	"github.com/qadapt/qadapt/internal/circuit"
	"github.com/qadapt/qadapt/internal/dispatch"
	"github.com/qadapt/qadapt/internal/eventbus"
	"github.com/qadapt/qadapt/internal/events"
	"github.com/qadapt/qadapt/internal/shape"
	"github.com/qadapt/qadapt/internal/translate"
)

// UnsupportedGradientError reports a differentiable parameter owned by a
// gate with no known shift rule.
type UnsupportedGradientError struct {
	Gate   string
	Param  int
	Device string
}

func (e *UnsupportedGradientError) Error() string {
	return fmt.Sprintf("no parameter-shift rule for gate %q (parameter %d) on device %q", e.Gate, e.Param, e.Device)
}

// EvaluationError marks parameters whose shift circuits failed. Columns
// for other parameters are still valid in the returned Jacobian.
type EvaluationError struct {
	Failed map[int]error
}

func (e *EvaluationError) Error() string {
	params := make([]int, 0, len(e.Failed))
	for p := range e.Failed {
		params = append(params, p)
	}
	sort.Ints(params)
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprintf("parameter %d: %v", p, e.Failed[p])
	}
	return "gradient evaluation failed for " + strings.Join(parts, "; ")
}

// Engine computes Jacobians against one dispatcher/backend pair.
type Engine struct {
	disp     *dispatch.Dispatcher
	dev      *capability.Descriptor
	maxBatch int
}

// New returns an Engine. maxBatch bounds how many shift circuits are
// submitted per dispatcher call; values < 1 disable chunking.
func New(d *dispatch.Dispatcher, dev *capability.Descriptor, maxBatch int) *Engine {
	return &Engine{disp: d, dev: dev, maxBatch: maxBatch}
}

// Jacobian computes ∂⟨O_r⟩/∂θ_c for every measurement row r and every
// requested parameter column c. All measurements of c must be
// expectation values. A nil params slice differentiates every parameter.
//
// If some parameters' shift circuits fail, their columns are NaN and an
// *EvaluationError naming them is returned alongside the Jacobian.
func (e *Engine) Jacobian(ctx context.Context, c *circuit.Circuit, params []int) ([][]float64, error) {
	for i, m := range c.Measurements {
		if m.Mode != circuit.Expectation {
			return nil, fmt.Errorf("gradient requires expectation measurements, measurement %d is %s", i, m.Mode)
		}
	}
	if params == nil {
		params = make([]int, c.NumParams())
		for i := range params {
			params[i] = i
		}
	}

	// Resolve shift rules first: capability mismatches surface before any
	// network call.
	rules := make([]*capability.ShiftRule, len(params))
	for i, p := range params {
		op, err := c.OpForParam(p)
		if err != nil {
			return nil, err
		}
		spec, err := e.dev.Gate(op.Name)
		if err != nil {
			return nil, err
		}
		if spec.Shift == nil {
			return nil, &UnsupportedGradientError{Gate: op.Name, Param: p, Device: e.dev.Name}
		}
		rules[i] = spec.Shift
	}

	specs := make([]backend.Spec, 0, 2*len(params))
	for i, p := range params {
		for _, sign := range []float64{1, -1} {
			shifted, err := c.ShiftParam(p, sign*rules[i].Shift)
			if err != nil {
				return nil, err
			}
			prog, err := translate.BuildProgram(shifted, e.dev)
			if err != nil {
				return nil, err
			}
			specs = append(specs, backend.Spec{Program: prog, Shots: c.Shots})
		}
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GradientStart{
		Backend:    e.disp.Backend().Name(),
		Parameters: len(params),
		Circuits:   len(specs),
	})

	results, err := e.run(ctx, specs)
	if err != nil {
		eventbus.Publish(ctx, events.GradientFinish{
			Backend: e.disp.Backend().Name(), Err: err, Duration: time.Since(start),
		})
		return nil, err
	}

	rows := len(c.Measurements)
	jac := make([][]float64, rows)
	for r := range jac {
		jac[r] = make([]float64, len(params))
	}
	failed := make(map[int]error)
	for i, p := range params {
		plus, minus := results[2*i], results[2*i+1]
		if plus.Err != nil {
			failed[p] = fmt.Errorf("+shift circuit: %w", plus.Err)
		} else if minus.Err != nil {
			failed[p] = fmt.Errorf("-shift circuit: %w", minus.Err)
		}
		if _, ok := failed[p]; ok {
			for r := range jac {
				jac[r][i] = math.NaN()
			}
			continue
		}
		fPlus, err := shape.Expectations(plus.Result, c)
		if err == nil {
			var fMinus []float64
			fMinus, err = shape.Expectations(minus.Result, c)
			if err == nil {
				for r := range jac {
					jac[r][i] = (fPlus[r] - fMinus[r]) * rules[i].Scale
				}
				continue
			}
		}
		failed[p] = err
		for r := range jac {
			jac[r][i] = math.NaN()
		}
	}

	var evalErr error
	if len(failed) > 0 {
		evalErr = &EvaluationError{Failed: failed}
	}
	eventbus.Publish(ctx, events.GradientFinish{
		Backend:  e.disp.Backend().Name(),
		Failed:   len(failed),
		Err:      evalErr,
		Duration: time.Since(start),
	})
	return jac, evalErr
}

// run submits specs in maxBatch-sized chunks and concatenates results in
// submission order.
func (e *Engine) run(ctx context.Context, specs []backend.Spec) ([]dispatch.TaskResult, error) {
	chunk := e.maxBatch
	if chunk < 1 {
		chunk = len(specs)
	}
	var all []dispatch.TaskResult
	for off := 0; off < len(specs); off += chunk {
		end := off + chunk
		if end > len(specs) {
			end = len(specs)
		}
		tasks, err := e.disp.Submit(ctx, specs[off:end])
		if err != nil {
			return nil, err
		}
		all = append(all, e.disp.Await(ctx, tasks)...)
	}
	return all, nil
}
