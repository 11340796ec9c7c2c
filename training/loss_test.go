package training

import (
	"errors"
	"math"
	"testing"

	"gorgonia.org/tensor"
)

// TestCrossEntropyUniformScores checks loss = ln(numClasses) when all
// classes score equally.
func TestCrossEntropyUniformScores(t *testing.T) {
	ce := NewCrossEntropyLoss()
	scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 4), tensor.WithBacking(make([]float32, 8)))

	loss, err := ce.Forward(scores, []int{0, 3})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-6 {
		t.Errorf("Expected loss ln(4)=%v, got %v", math.Log(4), loss)
	}
}

// TestCrossEntropyGradient checks the softmax-minus-onehot gradient on a
// single two-class example.
func TestCrossEntropyGradient(t *testing.T) {
	ce := NewCrossEntropyLoss()
	scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))

	if _, err := ce.Forward(scores, []int{0}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad, err := ce.Backward()
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// softmax([0,0]) = [0.5,0.5]; grad = [0.5-1, 0.5] / 1
	g := grad.Data().([]float32)
	if math.Abs(float64(g[0])+0.5) > 1e-6 || math.Abs(float64(g[1])-0.5) > 1e-6 {
		t.Errorf("Expected gradient [-0.5 0.5], got %v", g)
	}
}

// TestCrossEntropyGradientSumsToZero verifies each example's gradient row
// sums to zero (softmax probabilities minus a one-hot both sum to one).
func TestCrossEntropyGradientSumsToZero(t *testing.T) {
	ce := NewCrossEntropyLoss()
	scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 3),
		tensor.WithBacking([]float32{1.5, -0.5, 0.25, -2, 0.75, 3}))

	if _, err := ce.Forward(scores, []int{2, 0}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad, err := ce.Backward()
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	g := grad.Data().([]float32)
	for row := 0; row < 2; row++ {
		var sum float64
		for c := 0; c < 3; c++ {
			sum += float64(g[row*3+c])
		}
		if math.Abs(sum) > 1e-6 {
			t.Errorf("Row %d gradient sums to %v, expected 0", row, sum)
		}
	}
}

// TestCrossEntropyErrors exercises the failure paths.
func TestCrossEntropyErrors(t *testing.T) {
	ce := NewCrossEntropyLoss()

	if _, err := ce.Backward(); !errors.Is(err, ErrComputation) {
		t.Errorf("Backward before Forward: expected ErrComputation, got %v", err)
	}

	scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))
	if _, err := ce.Forward(scores, []int{5}); !errors.Is(err, ErrComputation) {
		t.Errorf("Out-of-range label: expected ErrComputation, got %v", err)
	}
	if _, err := ce.Forward(scores, []int{0, 1}); !errors.Is(err, ErrComputation) {
		t.Errorf("Label count mismatch: expected ErrComputation, got %v", err)
	}
}
