package training

import (
	"errors"
	"math"
	"testing"

	"gorgonia.org/tensor"
)

// TestMetricAccumulatorWeightedLoss verifies the epoch loss is the
// batch-size-weighted mean over a short-final-batch sequence {4, 4, 2}.
func TestMetricAccumulatorWeightedLoss(t *testing.T) {
	acc := NewMetricAccumulator(2)

	// batch 1: size 4, loss 1.0, 3 correct
	if err := acc.AddBatch(1.0, []int{0, 1, 0, 1}, []int{0, 1, 0, 0}); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}
	// batch 2: size 4, loss 0.5, 2 correct
	if err := acc.AddBatch(0.5, []int{1, 1, 0, 0}, []int{1, 0, 1, 0}); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}
	// batch 3: size 2, loss 2.0, 1 correct
	if err := acc.AddBatch(2.0, []int{0, 1}, []int{0, 0}); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	loss, accuracy, err := acc.Reduce()
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}

	// (1.0*4 + 0.5*4 + 2.0*2) / 10 = 1.0
	if math.Abs(loss-1.0) > 1e-12 {
		t.Errorf("Expected weighted loss 1.0, got %v", loss)
	}
	// (3 + 2 + 1) / 10 = 0.6
	if math.Abs(accuracy-0.6) > 1e-12 {
		t.Errorf("Expected accuracy 0.6, got %v", accuracy)
	}
	if acc.Total() != 10 {
		t.Errorf("Expected 10 recorded examples, got %d", acc.Total())
	}
}

// TestMetricAccumulatorEmpty ensures reducing with no recorded batches is a
// data error, not a silent zero.
func TestMetricAccumulatorEmpty(t *testing.T) {
	acc := NewMetricAccumulator(2)
	if _, _, err := acc.Reduce(); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset, got %v", err)
	}
}

// TestMetricAccumulatorMismatch checks prediction/label length mismatch is
// rejected.
func TestMetricAccumulatorMismatch(t *testing.T) {
	acc := NewMetricAccumulator(2)
	if err := acc.AddBatch(1.0, []int{0, 1}, []int{0}); !errors.Is(err, ErrComputation) {
		t.Errorf("Expected ErrComputation, got %v", err)
	}
	if err := acc.AddBatch(1.0, nil, nil); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset for empty batch, got %v", err)
	}
}

// TestMetricAccumulatorReset verifies Reset clears all state.
func TestMetricAccumulatorReset(t *testing.T) {
	acc := NewMetricAccumulator(2)
	if err := acc.AddBatch(1.0, []int{0}, []int{0}); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}
	acc.Reset()
	if acc.Total() != 0 {
		t.Errorf("Expected 0 examples after reset, got %d", acc.Total())
	}
	if _, _, err := acc.Reduce(); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset after reset, got %v", err)
	}
}

// TestConfusionMatrix checks accuracy, precision, and recall arithmetic.
func TestConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(2)

	pairs := []struct{ predicted, actual int }{
		{0, 0}, {0, 0}, {1, 0}, // class 0: 2 recalled of 3
		{1, 1}, {1, 1}, {0, 1}, // class 1: 2 recalled of 3
	}
	for _, p := range pairs {
		if err := cm.Add(p.predicted, p.actual); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if got := cm.Accuracy(); math.Abs(got-4.0/6.0) > 1e-12 {
		t.Errorf("Expected accuracy 4/6, got %v", got)
	}
	if got := cm.Precision(0); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Errorf("Expected precision(0) 2/3, got %v", got)
	}
	if got := cm.Recall(0); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Errorf("Expected recall(0) 2/3, got %v", got)
	}

	if err := cm.Add(2, 0); !errors.Is(err, ErrComputation) {
		t.Errorf("Expected out-of-range class to be rejected, got %v", err)
	}

	cm.Reset()
	if cm.TotalSamples != 0 {
		t.Errorf("Expected 0 samples after reset, got %d", cm.TotalSamples)
	}
}

// TestArgmax verifies per-row argmax over a score tensor.
func TestArgmax(t *testing.T) {
	scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, 3),
		tensor.WithBacking([]float32{
			0.1, 0.7, 0.2,
			0.9, 0.05, 0.05,
			0.2, 0.2, 0.6,
		}))

	predicted, err := Argmax(scores)
	if err != nil {
		t.Fatalf("Argmax failed: %v", err)
	}

	expected := []int{1, 0, 2}
	for i := range expected {
		if predicted[i] != expected[i] {
			t.Errorf("Row %d: expected class %d, got %d", i, expected[i], predicted[i])
		}
	}
}
