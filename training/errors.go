package training

import "errors"

// Error taxonomy for a training run. Failures are never absorbed per-batch;
// they propagate to the caller wrapped around one of these sentinels so the
// orchestrator can tell a bad dataset from a bad hyperparameter from a
// failure inside the numeric step.
var (
	// ErrEmptyDataset indicates a dataset or batch sequence with zero
	// examples. Metrics over zero examples are undefined, so this is fatal.
	ErrEmptyDataset = errors.New("training: empty dataset")

	// ErrInvalidConfig indicates a hyperparameter that fails validation
	// before any model state is touched.
	ErrInvalidConfig = errors.New("training: invalid configuration")

	// ErrComputation indicates a failure inside the model, loss, or
	// optimizer during a batch step. The run cannot be resumed mid-epoch.
	ErrComputation = errors.New("training: computation failed")
)
