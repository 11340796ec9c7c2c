package training

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// MetricAccumulator collects per-batch loss and prediction outcomes across
// one pass of a dataset and reduces them to epoch-level loss and accuracy.
// The epoch loss is the batch-size-weighted mean of batch losses, so a short
// final batch contributes proportionally to its actual size.
type MetricAccumulator struct {
	losses  []float64
	weights []float64
	correct int
	total   int
	matrix  *ConfusionMatrix
}

// NewMetricAccumulator creates an accumulator. When numClasses > 0 a
// confusion matrix is kept alongside the scalar metrics.
func NewMetricAccumulator(numClasses int) *MetricAccumulator {
	acc := &MetricAccumulator{}
	if numClasses > 0 {
		acc.matrix = NewConfusionMatrix(numClasses)
	}
	return acc
}

// AddBatch records one batch: its loss, and the predicted vs. true label for
// every example in it. The batch size is taken from the label count.
func (m *MetricAccumulator) AddBatch(loss float64, predicted, actual []int) error {
	if len(predicted) != len(actual) {
		return fmt.Errorf("%w: %d predictions for %d labels", ErrComputation, len(predicted), len(actual))
	}
	if len(predicted) == 0 {
		return fmt.Errorf("%w: batch with zero examples", ErrEmptyDataset)
	}

	m.losses = append(m.losses, loss)
	m.weights = append(m.weights, float64(len(predicted)))
	m.total += len(predicted)

	for i := range predicted {
		if predicted[i] == actual[i] {
			m.correct++
		}
		if m.matrix != nil {
			if err := m.matrix.Add(predicted[i], actual[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// Reduce returns the epoch loss and accuracy over everything recorded so far.
// Reducing before any batch was added is a data error, not a zero result.
func (m *MetricAccumulator) Reduce() (loss, accuracy float64, err error) {
	if m.total == 0 {
		return 0, 0, fmt.Errorf("%w: no batches recorded", ErrEmptyDataset)
	}
	loss = stat.Mean(m.losses, m.weights)
	accuracy = float64(m.correct) / float64(m.total)
	return loss, accuracy, nil
}

// Total returns the number of examples recorded.
func (m *MetricAccumulator) Total() int { return m.total }

// Matrix returns the confusion matrix, or nil if class count was unknown.
func (m *MetricAccumulator) Matrix() *ConfusionMatrix { return m.matrix }

// Reset clears the accumulator for a new pass.
func (m *MetricAccumulator) Reset() {
	m.losses = m.losses[:0]
	m.weights = m.weights[:0]
	m.correct = 0
	m.total = 0
	if m.matrix != nil {
		m.matrix.Reset()
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Add records one (predicted, actual) pair.
func (cm *ConfusionMatrix) Add(predicted, actual int) error {
	if predicted < 0 || predicted >= cm.NumClasses {
		return fmt.Errorf("%w: predicted class %d out of range [0, %d)", ErrComputation, predicted, cm.NumClasses)
	}
	if actual < 0 || actual >= cm.NumClasses {
		return fmt.Errorf("%w: actual class %d out of range [0, %d)", ErrComputation, actual, cm.NumClasses)
	}
	cm.Matrix[actual][predicted]++
	cm.TotalSamples++
	return nil
}

// Accuracy returns the fraction of correctly classified samples.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// Precision returns TP / (TP + FP) for the given class.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	if class < 0 || class >= cm.NumClasses {
		return 0
	}
	tp := cm.Matrix[class][class]
	predicted := 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Matrix[i][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(tp) / float64(predicted)
}

// Recall returns TP / (TP + FN) for the given class.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	if class < 0 || class >= cm.NumClasses {
		return 0
	}
	tp := cm.Matrix[class][class]
	actual := 0
	for i := 0; i < cm.NumClasses; i++ {
		actual += cm.Matrix[class][i]
	}
	if actual == 0 {
		return 0
	}
	return float64(tp) / float64(actual)
}

// Reset clears all recorded samples.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Argmax returns the predicted class per row of a [batch, classes] score
// tensor.
func Argmax(scores *tensor.Dense) ([]int, error) {
	shape := scores.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: argmax expects [batch, classes] scores, got %v", ErrComputation, shape)
	}
	batchSize, numClasses := shape[0], shape[1]
	if numClasses == 0 {
		return nil, fmt.Errorf("%w: argmax over zero classes", ErrComputation)
	}

	data := scores.Data().([]float32)
	predicted := make([]int, batchSize)
	for b := 0; b < batchSize; b++ {
		maxIdx := 0
		maxVal := data[b*numClasses]
		for c := 1; c < numClasses; c++ {
			if data[b*numClasses+c] > maxVal {
				maxVal = data[b*numClasses+c]
				maxIdx = c
			}
		}
		predicted[b] = maxIdx
	}

	return predicted, nil
}
