package training

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

// setLinear overwrites a layer's weights and bias with known values.
func setLinear(t *testing.T, l *Linear, weights, bias []float32) {
	t.Helper()
	copy(l.weight.Value.Data().([]float32), weights)
	if l.bias != nil {
		copy(l.bias.Value.Data().([]float32), bias)
	}
}

// TestLinearForward checks the forward pass against hand-computed values.
func TestLinearForward(t *testing.T) {
	l, err := NewLinear("test", 2, 1, true)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	setLinear(t, l, []float32{0.5, -0.25}, []float32{0.1})

	input := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 2}))
	out, err := l.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// 0.5*1 + (-0.25)*2 + 0.1 = 0.1
	got := out.Data().([]float32)[0]
	if math.Abs(float64(got)-0.1) > 1e-6 {
		t.Errorf("Expected output 0.1, got %v", got)
	}
}

// TestLinearBackward checks analytic gradients for a single example.
func TestLinearBackward(t *testing.T) {
	l, err := NewLinear("test", 2, 1, true)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	setLinear(t, l, []float32{0.5, -0.25}, []float32{0.1})

	input := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 2}))
	if _, err := l.Forward(input); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	gradOut := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 1), tensor.WithBacking([]float32{1}))
	if err := l.Backward(gradOut); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dL/dW = x^T * g = [1, 2], dL/db = g = [1]
	wGrad := l.weight.Grad.Data().([]float32)
	if wGrad[0] != 1 || wGrad[1] != 2 {
		t.Errorf("Expected weight gradient [1 2], got %v", wGrad)
	}
	bGrad := l.bias.Grad.Data().([]float32)
	if bGrad[0] != 1 {
		t.Errorf("Expected bias gradient [1], got %v", bGrad)
	}
}

// TestReLUForward checks the activation clamps negatives to zero.
func TestReLUForward(t *testing.T) {
	r := NewReLU()
	input := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 4), tensor.WithBacking([]float32{-1, 0, 0.5, 2}))
	out, err := r.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	expected := []float32{0, 0, 0.5, 2}
	got := out.Data().([]float32)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Element %d: expected %v, got %v", i, expected[i], got[i])
		}
	}
}

// TestBuildModelFreezesBackbone verifies only the head is trainable while
// snapshots still cover every parameter.
func TestBuildModelFreezesBackbone(t *testing.T) {
	net, err := BuildModel(ModelConfig{InputDim: 4, HiddenDims: []int{8}, NumClasses: 2, Seed: 7})
	if err != nil {
		t.Fatalf("BuildModel failed: %v", err)
	}

	trainable := 0
	frozen := 0
	for _, p := range net.Parameters() {
		if p.RequiresGrad() {
			trainable++
		} else {
			frozen++
		}
	}
	// Backbone Linear(4,8) has weight+bias frozen; head Linear(8,2) weight+bias trainable.
	if frozen != 2 {
		t.Errorf("Expected 2 frozen backbone parameters, got %d", frozen)
	}
	if trainable != 2 {
		t.Errorf("Expected 2 trainable head parameters, got %d", trainable)
	}

	snap := net.StateDict()
	if len(snap) != 4 {
		t.Errorf("Expected snapshot of all 4 parameters, got %d", len(snap))
	}
}

// TestStateDictRoundTrip checks that a snapshot restores exactly and that it
// is independent of the live parameters.
func TestStateDictRoundTrip(t *testing.T) {
	net, err := BuildModel(ModelConfig{InputDim: 4, HiddenDims: []int{8}, NumClasses: 2, Seed: 7})
	if err != nil {
		t.Fatalf("BuildModel failed: %v", err)
	}

	snap := net.StateDict()

	// Mutate the live parameters; the snapshot must not change.
	for _, p := range net.Parameters() {
		data := p.Value.Data().([]float32)
		for i := range data {
			data[i] += 100
		}
	}
	for i, ts := range snap {
		live := net.Parameters()[i].Value.Data().([]float32)
		if ts.Data[0] == live[0] {
			t.Fatalf("Snapshot aliases live parameter %q", ts.Name)
		}
	}

	if err := net.LoadStateDict(snap); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}
	restored := net.StateDict()
	for i := range snap {
		for j := range snap[i].Data {
			if restored[i].Data[j] != snap[i].Data[j] {
				t.Fatalf("Parameter %q not restored at element %d", snap[i].Name, j)
			}
		}
	}
}

// TestLoadStateDictRejectsMismatch ensures restoring an incompatible
// snapshot fails instead of silently truncating.
func TestLoadStateDictRejectsMismatch(t *testing.T) {
	net, err := BuildModel(ModelConfig{InputDim: 4, HiddenDims: []int{8}, NumClasses: 2, Seed: 7})
	if err != nil {
		t.Fatalf("BuildModel failed: %v", err)
	}

	if err := net.LoadStateDict(Snapshot{}); err == nil {
		t.Error("Expected error loading an empty snapshot")
	}

	bad := net.StateDict()
	bad[0].Name = "nonexistent"
	if err := net.LoadStateDict(bad); err == nil {
		t.Error("Expected error loading a snapshot with an unknown parameter name")
	}
}

// TestFineTuneNetFlattensInput checks a [batch, C, H, W] image tensor is
// accepted by the dense backbone.
func TestFineTuneNetFlattensInput(t *testing.T) {
	net, err := BuildModel(ModelConfig{InputDim: 12, HiddenDims: []int{4}, NumClasses: 3, Seed: 7})
	if err != nil {
		t.Fatalf("BuildModel failed: %v", err)
	}

	input := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 3, 2, 2), tensor.WithBacking(make([]float32, 24)))
	scores, err := net.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	shape := scores.Shape()
	if shape[0] != 2 || shape[1] != 3 {
		t.Errorf("Expected [2 3] scores, got %v", shape)
	}
}
