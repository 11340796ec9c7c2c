// Package checkpoints persists model parameter snapshots as JSON documents.
// A checkpoint couples the weight tensors with the training state that
// produced them, so a saved artifact records which accuracy its weights
// earned.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finetune/training"
)

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the training progress that produced the weights.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestAccuracy float64 `json:"best_accuracy"`
	LearningRate float64 `json:"learning_rate"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Checkpoint represents a complete model state: weights plus training metadata.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// Saver handles saving and loading model checkpoints.
type Saver struct{}

// NewSaver creates a new checkpoint saver.
func NewSaver() *Saver {
	return &Saver{}
}

// Save writes a checkpoint atomically: the JSON document goes to a temporary
// file in the target directory and is renamed into place, so an interrupted
// write never leaves a truncated checkpoint behind.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "finetune"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint from disk.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// FromSnapshot converts a parameter snapshot into checkpoint weight tensors.
func FromSnapshot(snap training.Snapshot) []WeightTensor {
	weights := make([]WeightTensor, len(snap))
	for i, ts := range snap {
		shape := make([]int, len(ts.Shape))
		copy(shape, ts.Shape)
		data := make([]float32, len(ts.Data))
		copy(data, ts.Data)
		weights[i] = WeightTensor{Name: ts.Name, Shape: shape, Data: data}
	}
	return weights
}

// ToSnapshot converts checkpoint weight tensors back into a snapshot that
// can be loaded into a model with LoadStateDict.
func ToSnapshot(weights []WeightTensor) training.Snapshot {
	snap := make(training.Snapshot, len(weights))
	for i, w := range weights {
		shape := make([]int, len(w.Shape))
		copy(shape, w.Shape)
		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		snap[i] = training.TensorState{Name: w.Name, Shape: shape, Data: data}
	}
	return snap
}
