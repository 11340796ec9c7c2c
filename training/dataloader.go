package training

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// Sample is a single example: an input tensor and its class label.
type Sample struct {
	Input *tensor.Dense
	Label int
}

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                    // Total number of samples
	NumClasses() int             // Number of distinct class labels
	Get(idx int) (Sample, error) // Returns a single sample
}

// Batch represents a batch of stacked inputs and their labels. Size is the
// actual number of examples, which for the last batch of an epoch may be
// smaller than the loader's nominal batch size.
type Batch struct {
	Data   *tensor.Dense
	Labels []int
	Size   int
}

// DataLoader provides batching, per-epoch shuffling, and concurrent sample
// loading. Worker parallelism only affects how fast samples are fetched; the
// delivered batch order is a deterministic function of the shuffle seed.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	rng        *rand.Rand
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfig, batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("%w: dataset has no samples", ErrEmptyDataset)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		rng:        rand.New(rand.NewSource(seed)),
		indices:    indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// DatasetSize returns the total number of examples per epoch.
func (dl *DataLoader) DatasetSize() int {
	return dl.dataset.Len()
}

// NumClasses returns the class count of the underlying dataset.
func (dl *DataLoader) NumClasses() int {
	return dl.dataset.NumClasses()
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled. Every
// epoch still visits every example exactly once.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch, or nil when the epoch is complete.
func (dl *DataLoader) Next(ctx context.Context) (*Batch, error) {
	dl.mutex.Lock()
	if dl.position >= len(dl.indices) {
		dl.mutex.Unlock()
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd
	dl.mutex.Unlock()

	return dl.loadBatch(ctx, batchIndices)
}

// loadBatch fetches the samples for one batch concurrently and stacks them.
// Each sample lands at its own position, so worker scheduling cannot reorder
// the batch contents.
func (dl *DataLoader) loadBatch(ctx context.Context, indices []int) (*Batch, error) {
	samples := make([]Sample, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(dl.numWorkers)
	for pos, idx := range indices {
		pos, idx := pos, idx
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sample, err := dl.dataset.Get(idx)
			if err != nil {
				return fmt.Errorf("sample %d: %w", idx, err)
			}
			samples[pos] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	return collate(samples)
}

// collate stacks samples into a single [batch, ...] tensor plus label slice.
func collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrEmptyDataset)
	}

	first := samples[0].Input
	sampleShape := first.Shape()
	sampleSize := sampleShape.TotalSize()

	data := make([]float32, len(samples)*sampleSize)
	labels := make([]int, len(samples))

	for i, s := range samples {
		if s.Input == nil {
			return nil, fmt.Errorf("%w: sample %d has no input tensor", ErrEmptyDataset, i)
		}
		src := s.Input.Data().([]float32)
		if len(src) != sampleSize {
			return nil, fmt.Errorf("%w: sample %d has %d values, expected %d",
				ErrComputation, i, len(src), sampleSize)
		}
		copy(data[i*sampleSize:], src)
		labels[i] = s.Label
	}

	batchShape := append([]int{len(samples)}, sampleShape...)
	stacked := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(batchShape...), tensor.WithBacking(data))

	return &Batch{Data: stacked, Labels: labels, Size: len(samples)}, nil
}

// TensorDataset is an in-memory Dataset over pre-built samples. Used for
// synthetic data in tests and small experiments.
type TensorDataset struct {
	samples    []Sample
	numClasses int
}

// NewTensorDataset creates a dataset from samples already in tensor form.
func NewTensorDataset(samples []Sample, numClasses int) *TensorDataset {
	return &TensorDataset{samples: samples, numClasses: numClasses}
}

// Len returns the number of samples.
func (d *TensorDataset) Len() int { return len(d.samples) }

// NumClasses returns the class count.
func (d *TensorDataset) NumClasses() int { return d.numClasses }

// Get returns the sample at idx.
func (d *TensorDataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(d.samples) {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.samples))
	}
	return d.samples[idx], nil
}
