package checkpoints

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"finetune/training"
)

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		Weights: []WeightTensor{
			{Name: "backbone.0.weight", Shape: []int{4, 8}, Data: make([]float32, 32)},
			{Name: "head.weight", Shape: []int{8, 2}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
		},
		TrainingState: TrainingState{
			Epoch:        3,
			BestAccuracy: 0.875,
			LearningRate: 0.001,
		},
		Metadata: Metadata{
			Description: "test checkpoint",
			Tags:        []string{"augmented"},
		},
	}
}

// TestSaveLoadRoundTrip verifies a checkpoint survives the disk round trip.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt.json")

	saver := NewSaver()
	if err := saver.Save(testCheckpoint(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.TrainingState.Epoch != 3 {
		t.Errorf("Expected epoch 3, got %d", loaded.TrainingState.Epoch)
	}
	if loaded.TrainingState.BestAccuracy != 0.875 {
		t.Errorf("Expected best accuracy 0.875, got %v", loaded.TrainingState.BestAccuracy)
	}
	if len(loaded.Weights) != 2 {
		t.Fatalf("Expected 2 weight tensors, got %d", len(loaded.Weights))
	}
	if loaded.Weights[1].Name != "head.weight" {
		t.Errorf("Expected head.weight, got %q", loaded.Weights[1].Name)
	}
	for i, v := range loaded.Weights[1].Data {
		if v != float32(i+1) {
			t.Fatalf("Weight data corrupted at %d: got %v", i, v)
		}
	}
	if loaded.Metadata.Framework != "finetune" {
		t.Errorf("Expected framework metadata to be filled in, got %q", loaded.Metadata.Framework)
	}
	if loaded.Metadata.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be filled in")
	}
}

// TestSaveLeavesNoTempFiles verifies the atomic write cleans up after
// itself.
func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt.json")

	if err := NewSaver().Save(testCheckpoint(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("Expected exactly the checkpoint file, got %d entries", len(entries))
	}
}

// TestLoadMissingFile checks the error path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := NewSaver().Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected an error loading a missing checkpoint")
	}
}

// TestSnapshotConversion verifies FromSnapshot/ToSnapshot produce
// independent copies in both directions.
func TestSnapshotConversion(t *testing.T) {
	snap := training.Snapshot{
		{Name: "head.weight", Shape: []int{2}, Data: []float32{1.5, -2.5}},
	}

	weights := FromSnapshot(snap)
	snap[0].Data[0] = 99
	if weights[0].Data[0] != 1.5 {
		t.Error("FromSnapshot aliases the source snapshot")
	}

	back := ToSnapshot(weights)
	weights[0].Data[0] = -7
	if back[0].Data[0] != 1.5 {
		t.Error("ToSnapshot aliases the weight tensors")
	}
	if back[0].Name != "head.weight" || back[0].Shape[0] != 2 {
		t.Errorf("Conversion lost metadata: %+v", back[0])
	}
}
