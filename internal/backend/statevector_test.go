package backend

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/qadapt/qadapt/internal/translate"
)

func angle(v float64) *float64 { return &v }

func approx() cmp.Option { return cmpopts.EquateApprox(0, 1e-9) }

func TestEvaluateSuperposition(t *testing.T) {
	p := &translate.Program{
		Version:      "1",
		QubitCount:   1,
		Instructions: []translate.Instruction{{Type: "h", Targets: []int{0}}},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := map[string]float64{"0": 0.5, "1": 0.5}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateBellState(t *testing.T) {
	p := &translate.Program{
		Version:    "1",
		QubitCount: 2,
		Instructions: []translate.Instruction{
			{Type: "h", Targets: []int{0}},
			{Type: "cnot", Targets: []int{0, 1}},
		},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := map[string]float64{"00": 0.5, "11": 0.5}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateRotation(t *testing.T) {
	theta := 0.543
	p := &translate.Program{
		Version:      "1",
		QubitCount:   1,
		Instructions: []translate.Instruction{{Type: "rx", Targets: []int{0}, Angle: angle(theta)}},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	c, s := math.Cos(theta/2), math.Sin(theta/2)
	want := map[string]float64{"0": c * c, "1": s * s}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateBasisRotation(t *testing.T) {
	// |+⟩ measured in the x basis is deterministic.
	p := &translate.Program{
		Version:        "1",
		QubitCount:     1,
		Instructions:   []translate.Instruction{{Type: "h", Targets: []int{0}}},
		BasisRotations: []translate.Instruction{{Type: "h", Targets: []int{0}}},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := map[string]float64{"0": 1}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateToffoli(t *testing.T) {
	p := &translate.Program{
		Version:    "1",
		QubitCount: 3,
		Instructions: []translate.Instruction{
			{Type: "x", Targets: []int{0}},
			{Type: "x", Targets: []int{1}},
			{Type: "ccnot", Targets: []int{0, 1, 2}},
		},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := map[string]float64{"111": 1}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateControlledSwap(t *testing.T) {
	p := &translate.Program{
		Version:    "1",
		QubitCount: 3,
		Instructions: []translate.Instruction{
			{Type: "x", Targets: []int{0}},
			{Type: "x", Targets: []int{1}},
			{Type: "cswap", Targets: []int{0, 1, 2}},
		},
	}
	probs, err := Evaluate(p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := map[string]float64{"101": 1}
	if diff := cmp.Diff(want, probs, approx()); diff != "" {
		t.Fatalf("probabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateUnknownInstruction(t *testing.T) {
	p := &translate.Program{
		Version:      "1",
		QubitCount:   1,
		Instructions: []translate.Instruction{{Type: "unitary", Targets: []int{0}}},
	}
	if _, err := Evaluate(p); err == nil {
		t.Fatal("Evaluate accepted an unknown instruction")
	}
}

func TestSampleProgram(t *testing.T) {
	p := &translate.Program{
		Version:    "1",
		QubitCount: 2,
		Instructions: []translate.Instruction{
			{Type: "h", Targets: []int{0}},
			{Type: "cnot", Targets: []int{0, 1}},
		},
	}
	const shots = 2000
	rows, err := SampleProgram(p, shots, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("SampleProgram: %v", err)
	}
	if len(rows) != shots {
		t.Fatalf("got %d shots, want %d", len(rows), shots)
	}
	both := 0
	for _, row := range rows {
		if len(row) != 2 {
			t.Fatalf("shot has %d bits, want 2", len(row))
		}
		if row[0] != row[1] {
			t.Fatalf("bell-state shot with uncorrelated bits: %v", row)
		}
		if row[0] == 1 {
			both++
		}
	}
	frac := float64(both) / shots
	if frac < 0.4 || frac > 0.6 {
		t.Fatalf("P(11) estimate = %v, want ≈ 0.5", frac)
	}
}

func TestSampleProgramDeterministicForSeed(t *testing.T) {
	p := &translate.Program{
		Version:      "1",
		QubitCount:   1,
		Instructions: []translate.Instruction{{Type: "h", Targets: []int{0}}},
	}
	a, err := SampleProgram(p, 50, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("SampleProgram: %v", err)
	}
	b, err := SampleProgram(p, 50, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("SampleProgram: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different samples (-first +second):\n%s", diff)
	}
}
