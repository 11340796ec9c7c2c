package training

import (
	"fmt"

	"gorgonia.org/tensor"
)

// FineTuneNet is a pretrained feature extractor with its final classification
// layer replaced by a freshly initialized head sized to the target class
// count. Only the head receives gradients; the backbone stays frozen, which
// is what makes analytic backpropagation through just the final layer
// sufficient. Snapshots still cover every parameter so a restored model is
// complete.
type FineTuneNet struct {
	backbone Module
	head     *Linear
	training bool
}

// NewFineTuneNet wraps a backbone with a new classifier head mapping
// featureDim scores to numClasses. Backbone parameters are frozen.
func NewFineTuneNet(backbone Module, featureDim, numClasses int) (*FineTuneNet, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: class count must be > 0, got %d", ErrInvalidConfig, numClasses)
	}

	head, err := NewLinear("head", featureDim, numClasses, true)
	if err != nil {
		return nil, err
	}

	for _, p := range backbone.Parameters() {
		p.SetRequiresGrad(false)
	}

	return &FineTuneNet{
		backbone: backbone,
		head:     head,
		training: true,
	}, nil
}

// Forward flattens the input to [batch, features], runs the frozen backbone,
// and scores the extracted features with the classifier head.
func (n *FineTuneNet) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	flat, err := flatten2D(input)
	if err != nil {
		return nil, err
	}

	features, err := n.backbone.Forward(flat)
	if err != nil {
		return nil, fmt.Errorf("backbone forward: %w", err)
	}

	scores, err := n.head.Forward(features)
	if err != nil {
		return nil, fmt.Errorf("head forward: %w", err)
	}

	return scores, nil
}

// Backward accumulates head gradients from d(loss)/d(scores). The backbone
// is frozen, so backpropagation stops at the head's cached feature input.
func (n *FineTuneNet) Backward(gradScores *tensor.Dense) error {
	return n.head.Backward(gradScores)
}

// Parameters returns backbone parameters (frozen) followed by head parameters.
func (n *FineTuneNet) Parameters() []*Parameter {
	return append(n.backbone.Parameters(), n.head.Parameters()...)
}

// Train sets the network to training mode.
func (n *FineTuneNet) Train() {
	n.training = true
	n.backbone.Train()
	n.head.Train()
}

// Eval sets the network to evaluation mode.
func (n *FineTuneNet) Eval() {
	n.training = false
	n.backbone.Eval()
	n.head.Eval()
}

// IsTraining returns true if in training mode.
func (n *FineTuneNet) IsTraining() bool { return n.training }

// StateDict returns a deep snapshot of every parameter, frozen and trainable.
func (n *FineTuneNet) StateDict() Snapshot {
	params := n.Parameters()
	snap := make(Snapshot, len(params))
	for i, p := range params {
		shape := make([]int, len(p.Value.Shape()))
		copy(shape, p.Value.Shape())
		src := p.Value.Data().([]float32)
		data := make([]float32, len(src))
		copy(data, src)
		snap[i] = TensorState{Name: p.Name, Shape: shape, Data: data}
	}
	return snap
}

// LoadStateDict restores every parameter from a snapshot produced by
// StateDict. Names and shapes must match exactly.
func (n *FineTuneNet) LoadStateDict(snap Snapshot) error {
	params := n.Parameters()
	if len(snap) != len(params) {
		return fmt.Errorf("%w: snapshot has %d tensors, model has %d parameters",
			ErrComputation, len(snap), len(params))
	}

	byName := make(map[string]TensorState, len(snap))
	for _, ts := range snap {
		byName[ts.Name] = ts
	}

	for _, p := range params {
		ts, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: snapshot missing parameter %q", ErrComputation, p.Name)
		}
		dst := p.Value.Data().([]float32)
		if len(ts.Data) != len(dst) {
			return fmt.Errorf("%w: parameter %q has %d values, snapshot has %d",
				ErrComputation, p.Name, len(dst), len(ts.Data))
		}
		copy(dst, ts.Data)
	}

	return nil
}

// ModelConfig describes the fine-tunable classifier to build.
type ModelConfig struct {
	InputDim    int   // flattened input size, e.g. 3*H*W for RGB images
	HiddenDims  []int // backbone layer widths
	NumClasses  int   // classifier head output size
	Seed        int64 // weight initialization seed, 0 keeps the current seed
}

// BuildModel constructs a fresh FineTuneNet: a Linear+ReLU backbone acting as
// the feature extractor, frozen, with a trainable classifier head. Pretrained
// backbone weights can be restored afterwards with LoadStateDict.
func BuildModel(cfg ModelConfig) (*FineTuneNet, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("%w: input dimension must be > 0, got %d", ErrInvalidConfig, cfg.InputDim)
	}
	if len(cfg.HiddenDims) == 0 {
		return nil, fmt.Errorf("%w: backbone needs at least one hidden layer", ErrInvalidConfig)
	}
	if cfg.Seed != 0 {
		SetRandomSeed(cfg.Seed)
	}

	var modules []Module
	in := cfg.InputDim
	for i, width := range cfg.HiddenDims {
		layer, err := NewLinear(fmt.Sprintf("backbone.%d", i), in, width, true)
		if err != nil {
			return nil, err
		}
		modules = append(modules, layer, NewReLU())
		in = width
	}

	return NewFineTuneNet(NewSequential(modules...), in, cfg.NumClasses)
}

// flatten2D views an N-dimensional batch tensor as [batch, rest].
func flatten2D(t *tensor.Dense) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: cannot flatten a scalar input", ErrComputation)
	}
	if len(shape) == 2 {
		return t, nil
	}
	batch := shape[0]
	rest := 1
	for _, d := range shape[1:] {
		rest *= d
	}
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(batch, rest), tensor.WithBacking(t.Data().([]float32))), nil
}
