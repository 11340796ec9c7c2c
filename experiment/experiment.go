// Package experiment runs fine-tuning configuration variants sequentially
// and persists the best model from each one.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"finetune/checkpoints"
	"finetune/training"
)

// Variant is one complete training configuration, run independently
// end-to-end. The augmentation flag selects the data pipeline; everything
// else is hyperparameters for the training loop.
type Variant struct {
	Name         string
	Augment      bool
	Epochs       int
	BatchSize    int
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	NumWorkers   int
	Seed         int64
}

// Validate verifies the variant is runnable before any model is built.
func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: variant needs a name", training.ErrInvalidConfig)
	}
	if v.Epochs <= 0 {
		return fmt.Errorf("%w: variant %q: epochs must be > 0, got %d", training.ErrInvalidConfig, v.Name, v.Epochs)
	}
	if v.BatchSize <= 0 {
		return fmt.Errorf("%w: variant %q: batch size must be > 0, got %d", training.ErrInvalidConfig, v.Name, v.BatchSize)
	}
	if v.LearningRate <= 0 {
		return fmt.Errorf("%w: variant %q: learning rate must be > 0, got %g", training.ErrInvalidConfig, v.Name, v.LearningRate)
	}
	return nil
}

// DatasetBuilder constructs the train and evaluation datasets for one
// variant. The augment flag selects the transform pipeline; both regimes
// must enumerate the same underlying examples.
type DatasetBuilder func(augment bool) (train, eval training.Dataset, err error)

// ModelBuilder constructs a fresh model with the given output class count.
type ModelBuilder func(numClasses int) (training.TrainableModel, error)

// Result summarizes one variant's run.
type Result struct {
	Variant        string
	BestAccuracy   float64
	CheckpointPath string
	Err            error
}

// Runner executes configuration variants sequentially, never interleaved:
// each variant gets a fresh model, data pipeline, loss, and optimizer, so
// one variant's state cannot influence another.
type Runner struct {
	Datasets DatasetBuilder
	Model    ModelBuilder
	OutDir   string
	Logger   *zap.Logger

	saver *checkpoints.Saver
}

// NewRunner creates a Runner. A nil logger disables logging.
func NewRunner(datasets DatasetBuilder, model ModelBuilder, outDir string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Datasets: datasets,
		Model:    model,
		OutDir:   outDir,
		Logger:   logger,
		saver:    checkpoints.NewSaver(),
	}
}

// Run executes every variant in order. A failing variant is recorded in its
// Result and does not stop subsequent variants; the returned error joins all
// per-variant failures.
func (r *Runner) Run(ctx context.Context, variants []Variant) ([]Result, error) {
	if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	results := make([]Result, 0, len(variants))
	var failures []error

	for _, variant := range variants {
		result := r.runVariant(ctx, variant)
		results = append(results, result)
		if result.Err != nil {
			r.Logger.Error("variant failed",
				zap.String("variant", variant.Name),
				zap.Error(result.Err),
			)
			failures = append(failures, fmt.Errorf("variant %q: %w", variant.Name, result.Err))
			continue
		}
		r.Logger.Info("variant complete",
			zap.String("variant", variant.Name),
			zap.Float64("best_accuracy", result.BestAccuracy),
			zap.String("checkpoint", result.CheckpointPath),
		)
	}

	return results, errors.Join(failures...)
}

// runVariant builds everything fresh for one variant and trains it.
func (r *Runner) runVariant(ctx context.Context, variant Variant) Result {
	result := Result{Variant: variant.Name}

	// Configuration errors surface before any model state exists.
	if err := variant.Validate(); err != nil {
		result.Err = err
		return result
	}

	trainData, evalData, err := r.Datasets(variant.Augment)
	if err != nil {
		result.Err = fmt.Errorf("building datasets: %w", err)
		return result
	}

	model, err := r.Model(trainData.NumClasses())
	if err != nil {
		result.Err = fmt.Errorf("building model: %w", err)
		return result
	}

	trainLoader, err := training.NewDataLoader(trainData, variant.BatchSize, true, variant.NumWorkers, variant.Seed)
	if err != nil {
		result.Err = fmt.Errorf("building train loader: %w", err)
		return result
	}
	evalLoader, err := training.NewDataLoader(evalData, variant.BatchSize, false, variant.NumWorkers, variant.Seed)
	if err != nil {
		result.Err = fmt.Errorf("building eval loader: %w", err)
		return result
	}

	optimizer, err := training.NewSGD(model.Parameters(), variant.LearningRate, variant.Momentum, variant.WeightDecay)
	if err != nil {
		result.Err = err
		return result
	}

	checkpointPath := filepath.Join(r.OutDir, variant.Name+".ckpt.json")
	result.CheckpointPath = checkpointPath

	logger := r.Logger.With(zap.String("variant", variant.Name))
	logger.Info("starting variant",
		zap.Bool("augment", variant.Augment),
		zap.Int("epochs", variant.Epochs),
		zap.Int("batch_size", variant.BatchSize),
		zap.Float64("learning_rate", variant.LearningRate),
		zap.Int("train_examples", trainData.Len()),
		zap.Int("eval_examples", evalData.Len()),
		zap.Int("num_classes", trainData.NumClasses()),
	)

	// Every improving epoch is persisted immediately, so an interrupted run
	// keeps its best snapshot so far instead of losing the whole variant.
	config := training.TrainingConfig{
		Epochs: variant.Epochs,
		OnImprove: func(result training.EpochResult, snapshot training.Snapshot) error {
			return r.persist(checkpointPath, variant, result.Epoch, result.ValidAccuracy, snapshot)
		},
	}

	trainer, err := training.NewTrainer(model, optimizer, training.NewCrossEntropyLoss(), config, logger)
	if err != nil {
		result.Err = err
		return result
	}

	bestAccuracy, err := trainer.Train(ctx, trainLoader, evalLoader)
	if err != nil {
		result.Err = err
		return result
	}
	result.BestAccuracy = bestAccuracy

	// Final write covers the degenerate case where no epoch ever improved:
	// the persisted artifact is then the model's initial parameters.
	if err := r.persist(checkpointPath, variant, variant.Epochs, bestAccuracy, model.StateDict()); err != nil {
		result.Err = fmt.Errorf("persisting final checkpoint: %w", err)
		return result
	}

	return result
}

// persist writes a snapshot under the variant's checkpoint path.
func (r *Runner) persist(path string, variant Variant, epoch int, accuracy float64, snapshot training.Snapshot) error {
	ckpt := &checkpoints.Checkpoint{
		Weights: checkpoints.FromSnapshot(snapshot),
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			BestAccuracy: accuracy,
			LearningRate: variant.LearningRate,
		},
		Metadata: checkpoints.Metadata{
			Description: fmt.Sprintf("best model for variant %q", variant.Name),
			Tags:        []string{variant.Name},
		},
	}
	return r.saver.Save(ckpt, path)
}
