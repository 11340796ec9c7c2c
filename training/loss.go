package training

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward computes the scalar batch loss; Backward returns d(loss)/d(scores)
// for the scores passed to the most recent Forward call.
type Loss interface {
	Forward(scores *tensor.Dense, labels []int) (float64, error)
	Backward() (*tensor.Dense, error)
}

// CrossEntropyLoss implements softmax cross-entropy over integer class
// labels, averaged over the batch.
type CrossEntropyLoss struct {
	probs      []float32
	labels     []int
	batchSize  int
	numClasses int
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes L = -(1/B) * sum_b log softmax(scores_b)[label_b] using
// the max-shifted log-sum-exp for numerical stability.
func (ce *CrossEntropyLoss) Forward(scores *tensor.Dense, labels []int) (float64, error) {
	shape := scores.Shape()
	if len(shape) != 2 {
		return 0, fmt.Errorf("%w: cross-entropy expects [batch, classes] scores, got %v", ErrComputation, shape)
	}
	batchSize, numClasses := shape[0], shape[1]
	if batchSize == 0 {
		return 0, fmt.Errorf("%w: cross-entropy over an empty batch", ErrEmptyDataset)
	}
	if len(labels) != batchSize {
		return 0, fmt.Errorf("%w: %d scores rows but %d labels", ErrComputation, batchSize, len(labels))
	}

	data := scores.Data().([]float32)
	probs := make([]float32, batchSize*numClasses)
	var totalLoss float64

	for b := 0; b < batchSize; b++ {
		label := labels[b]
		if label < 0 || label >= numClasses {
			return 0, fmt.Errorf("%w: label %d out of range [0, %d)", ErrComputation, label, numClasses)
		}

		row := data[b*numClasses : (b+1)*numClasses]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxVal))
		}
		logSumExp := math.Log(sumExp)

		for c, v := range row {
			probs[b*numClasses+c] = float32(math.Exp(float64(v-maxVal) - logSumExp))
		}

		totalLoss += logSumExp - float64(row[label]-maxVal)
	}

	ce.probs = probs
	ce.labels = labels
	ce.batchSize = batchSize
	ce.numClasses = numClasses

	return totalLoss / float64(batchSize), nil
}

// Backward returns d(loss)/d(scores) = (softmax(scores) - onehot(labels)) / B.
func (ce *CrossEntropyLoss) Backward() (*tensor.Dense, error) {
	if ce.probs == nil {
		return nil, fmt.Errorf("%w: loss backward called before forward", ErrComputation)
	}

	grad := make([]float32, len(ce.probs))
	scale := float32(1.0 / float64(ce.batchSize))
	copy(grad, ce.probs)
	for b, label := range ce.labels {
		grad[b*ce.numClasses+label] -= 1.0
	}
	for i := range grad {
		grad[i] *= scale
	}

	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(ce.batchSize, ce.numClasses), tensor.WithBacking(grad)), nil
}
