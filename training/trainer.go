package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs int
	// OnImprove, when set, is called after each epoch whose validation
	// accuracy strictly improved on the best seen so far, with the epoch
	// result and an independent copy of the improving parameters. An error
	// aborts the run.
	OnImprove func(result EpochResult, snapshot Snapshot) error
}

// EpochResult holds the metrics for a single completed epoch.
type EpochResult struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValidAccuracy float64
	Duration      time.Duration
}

// Trainer drives the fine-tuning loop: for each epoch it runs one full pass
// of gradient updates over the training data, evaluates on the validation
// data, and offers the result to a BestTracker. When all epochs complete the
// model carries the best-seen parameters, not the final epoch's.
type Trainer struct {
	model     TrainableModel
	optimizer Optimizer
	criterion Loss
	config    TrainingConfig
	logger    *zap.Logger
	history   []EpochResult
}

// NewTrainer creates a new Trainer. A nil logger disables logging.
func NewTrainer(model TrainableModel, optimizer Optimizer, criterion Loss, config TrainingConfig, logger *zap.Logger) (*Trainer, error) {
	if config.Epochs < 0 {
		return nil, fmt.Errorf("%w: epoch count must be >= 0, got %d", ErrInvalidConfig, config.Epochs)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		model:     model,
		optimizer: optimizer,
		criterion: criterion,
		config:    config,
		logger:    logger,
	}, nil
}

// Train runs the complete training loop and returns the best validation
// accuracy observed. On return the model's active parameters equal the best
// snapshot recorded across all completed epochs; with zero epochs (or a
// validation accuracy that never rises above zero) that is the model's
// initial parameter set.
func (t *Trainer) Train(ctx context.Context, trainLoader, validLoader *DataLoader) (float64, error) {
	tracker := NewBestTracker(t.model.StateDict())

	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		epochStart := time.Now()

		t.model.Train()
		trainLoss, trainAcc, err := t.trainEpoch(ctx, trainLoader)
		if err != nil {
			return 0, fmt.Errorf("epoch %d: training: %w", epoch, err)
		}

		validAcc, err := t.Evaluate(ctx, validLoader)
		if err != nil {
			return 0, fmt.Errorf("epoch %d: evaluation: %w", epoch, err)
		}

		result := EpochResult{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValidAccuracy: validAcc,
			Duration:      time.Since(epochStart),
		}
		t.history = append(t.history, result)

		t.logger.Info("epoch complete",
			zap.Int("epoch", epoch),
			zap.Int("epochs", t.config.Epochs),
			zap.Float64("train_loss", trainLoss),
			zap.Float64("train_accuracy", trainAcc),
			zap.Float64("valid_accuracy", validAcc),
			zap.Duration("duration", result.Duration),
		)

		if tracker.Observe(validAcc, t.model.StateDict()) {
			t.logger.Info("validation accuracy improved, keeping snapshot",
				zap.Int("epoch", epoch),
				zap.Float64("valid_accuracy", validAcc),
			)
			if t.config.OnImprove != nil {
				if err := t.config.OnImprove(result, tracker.BestSnapshot()); err != nil {
					return 0, fmt.Errorf("epoch %d: improvement callback: %w", epoch, err)
				}
			}
		}
	}

	// Restore the best-seen parameters into the live model.
	if err := t.model.LoadStateDict(tracker.BestSnapshot()); err != nil {
		return 0, fmt.Errorf("restoring best snapshot: %w", err)
	}

	return tracker.BestAccuracy(), nil
}

// trainEpoch runs one full pass of gradient updates over the training data
// and returns the epoch's weighted loss and accuracy.
func (t *Trainer) trainEpoch(ctx context.Context, loader *DataLoader) (float64, float64, error) {
	acc := NewMetricAccumulator(loader.NumClasses())
	loader.Reset()

	batchIdx := 0
	for {
		batch, err := loader.Next(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		if batch == nil {
			break // end of epoch
		}

		t.optimizer.ZeroGrad()

		scores, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: forward pass: %w", batchIdx, err)
		}

		loss, err := t.criterion.Forward(scores, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: loss computation: %w", batchIdx, err)
		}

		gradScores, err := t.criterion.Backward()
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: loss gradient: %w", batchIdx, err)
		}

		if err := t.model.Backward(gradScores); err != nil {
			return 0, 0, fmt.Errorf("batch %d: backward pass: %w", batchIdx, err)
		}

		if err := t.optimizer.Step(); err != nil {
			return 0, 0, fmt.Errorf("batch %d: optimizer step: %w", batchIdx, err)
		}

		predicted, err := Argmax(scores)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		if err := acc.AddBatch(loss, predicted, batch.Labels); err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}

		batchIdx++
	}

	loss, accuracy, err := acc.Reduce()
	if err != nil {
		return 0, 0, err
	}
	return loss, accuracy, nil
}

// Evaluate runs a full inference-mode pass over the loader and returns the
// aggregate accuracy. The model's parameters are not touched: no gradients
// are accumulated and no optimizer step runs, so repeated calls on the same
// data yield identical results.
func (t *Trainer) Evaluate(ctx context.Context, loader *DataLoader) (float64, error) {
	t.model.Eval()
	defer t.model.Train()

	acc := NewMetricAccumulator(loader.NumClasses())
	loader.Reset()

	batchIdx := 0
	for {
		batch, err := loader.Next(ctx)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		if batch == nil {
			break
		}

		scores, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, fmt.Errorf("batch %d: forward pass: %w", batchIdx, err)
		}

		loss, err := t.criterion.Forward(scores, batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("batch %d: loss computation: %w", batchIdx, err)
		}

		predicted, err := Argmax(scores)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		if err := acc.AddBatch(loss, predicted, batch.Labels); err != nil {
			return 0, fmt.Errorf("batch %d: %w", batchIdx, err)
		}

		batchIdx++
	}

	_, accuracy, err := acc.Reduce()
	if err != nil {
		return 0, err
	}
	return accuracy, nil
}

// History returns the per-epoch results recorded so far.
func (t *Trainer) History() []EpochResult {
	return t.history
}
