package training

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Global random source for deterministic weight initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named, trainable tensor together with its accumulated
// gradient. Parameters with RequiresGrad() == false are carried in snapshots
// but never receive gradients or optimizer updates (frozen backbone weights).
type Parameter struct {
	Name         string
	Value        *tensor.Dense
	Grad         *tensor.Dense
	requiresGrad bool
}

// NewParameter creates a trainable parameter with a zeroed gradient buffer.
func NewParameter(name string, value *tensor.Dense) *Parameter {
	n := value.Shape().TotalSize()
	grad := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(value.Shape()...), tensor.WithBacking(make([]float32, n)))
	return &Parameter{
		Name:         name,
		Value:        value,
		Grad:         grad,
		requiresGrad: true,
	}
}

// RequiresGrad reports whether the optimizer should update this parameter.
func (p *Parameter) RequiresGrad() bool {
	return p.requiresGrad
}

// SetRequiresGrad marks the parameter as trainable or frozen.
func (p *Parameter) SetRequiresGrad(requires bool) {
	p.requiresGrad = requires
}

// ZeroGrad resets the accumulated gradient to zero.
func (p *Parameter) ZeroGrad() {
	grad := p.Grad.Data().([]float32)
	for i := range grad {
		grad[i] = 0
	}
}

// TensorState holds one parameter's detached values.
type TensorState struct {
	Name  string
	Shape []int
	Data  []float32
}

// Snapshot is an independent, non-aliased copy of a model's full parameter
// set at a point in time. Mutating the live model never changes a snapshot
// and vice versa.
type Snapshot []TensorState

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for i, ts := range s {
		shape := make([]int, len(ts.Shape))
		copy(shape, ts.Shape)
		data := make([]float32, len(ts.Data))
		copy(data, ts.Data)
		out[i] = TensorState{Name: ts.Name, Shape: shape, Data: data}
	}
	return out
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Dense) (*tensor.Dense, error)
	Parameters() []*Parameter
	Train() // Sets module to training mode
	Eval()  // Sets module to evaluation mode
	IsTraining() bool
}

// TrainableModel is a Module whose classifier head supports analytic
// backpropagation and whose full parameter set can be snapshotted and
// restored. This is the contract the Trainer consumes.
type TrainableModel interface {
	Module
	// Backward accumulates gradients for the trainable parameters given
	// d(loss)/d(scores) from the most recent Forward call.
	Backward(gradScores *tensor.Dense) error
	// StateDict returns a deep snapshot of every parameter, frozen or not.
	StateDict() Snapshot
	// LoadStateDict restores every parameter from a snapshot.
	LoadStateDict(snap Snapshot) error
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // shape [in, out]
	bias        *Parameter // shape [out], nil when bias is disabled
	lastInput   *tensor.Dense
	training    bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform initialization.
func NewLinear(name string, inFeatures, outFeatures int, bias bool) (*Linear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("%w: linear layer %q needs positive dimensions, got %dx%d",
			ErrInvalidConfig, name, inFeatures, outFeatures)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inFeatures+outFeatures))
	weightData := make([]float32, inFeatures*outFeatures)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	weight := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(inFeatures, outFeatures), tensor.WithBacking(weightData))

	l := &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", weight),
		training:    true,
	}

	if bias {
		biasT := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(outFeatures), tensor.WithBacking(make([]float32, outFeatures)))
		l.bias = NewParameter(name+".bias", biasT)
	}

	return l, nil
}

// Forward performs the forward pass for a [batch, in] input, producing
// [batch, out] scores. The input is cached for Backward while in training mode.
func (l *Linear) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		return nil, fmt.Errorf("%w: linear forward expects [batch, %d] input, got %v",
			ErrComputation, l.inFeatures, shape)
	}

	batchSize := shape[0]
	x := input.Data().([]float32)
	w := l.weight.Value.Data().([]float32)

	out := make([]float32, batchSize*l.outFeatures)
	for b := 0; b < batchSize; b++ {
		for o := 0; o < l.outFeatures; o++ {
			var sum float32
			if l.bias != nil {
				sum = l.bias.Value.Data().([]float32)[o]
			}
			for i := 0; i < l.inFeatures; i++ {
				sum += x[b*l.inFeatures+i] * w[i*l.outFeatures+o]
			}
			out[b*l.outFeatures+o] = sum
		}
	}

	if l.training {
		l.lastInput = input
	}

	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(batchSize, l.outFeatures), tensor.WithBacking(out)), nil
}

// Backward accumulates dL/dW and dL/db from the cached forward input and the
// upstream gradient with respect to this layer's output.
func (l *Linear) Backward(gradOut *tensor.Dense) error {
	if l.lastInput == nil {
		return fmt.Errorf("%w: linear backward called before forward", ErrComputation)
	}
	shape := gradOut.Shape()
	if len(shape) != 2 || shape[1] != l.outFeatures {
		return fmt.Errorf("%w: linear backward expects [batch, %d] gradient, got %v",
			ErrComputation, l.outFeatures, shape)
	}
	batchSize := shape[0]
	if l.lastInput.Shape()[0] != batchSize {
		return fmt.Errorf("%w: gradient batch %d does not match cached input batch %d",
			ErrComputation, batchSize, l.lastInput.Shape()[0])
	}

	x := l.lastInput.Data().([]float32)
	g := gradOut.Data().([]float32)
	wGrad := l.weight.Grad.Data().([]float32)

	for b := 0; b < batchSize; b++ {
		for i := 0; i < l.inFeatures; i++ {
			xi := x[b*l.inFeatures+i]
			for o := 0; o < l.outFeatures; o++ {
				wGrad[i*l.outFeatures+o] += xi * g[b*l.outFeatures+o]
			}
		}
	}

	if l.bias != nil {
		bGrad := l.bias.Grad.Data().([]float32)
		for b := 0; b < batchSize; b++ {
			for o := 0; o < l.outFeatures; o++ {
				bGrad[o] += g[b*l.outFeatures+o]
			}
		}
	}

	return nil
}

// Parameters returns the layer's trainable parameters.
func (l *Linear) Parameters() []*Parameter {
	if l.bias != nil {
		return []*Parameter{l.weight, l.bias}
	}
	return []*Parameter{l.weight}
}

// Train sets the layer to training mode.
func (l *Linear) Train() { l.training = true }

// Eval sets the layer to evaluation mode.
func (l *Linear) Eval() {
	l.training = false
	l.lastInput = nil
}

// IsTraining returns true if in training mode.
func (l *Linear) IsTraining() bool { return l.training }

// ReLU applies max(0, x) elementwise. It has no parameters.
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward applies the activation.
func (r *ReLU) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	in := input.Data().([]float32)
	out := make([]float32, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = v
		}
	}
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(input.Shape()...), tensor.WithBacking(out)), nil
}

// Parameters returns no parameters.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Train sets the module to training mode.
func (r *ReLU) Train() { r.training = true }

// Eval sets the module to evaluation mode.
func (r *ReLU) Eval() { r.training = false }

// IsTraining returns true if in training mode.
func (r *ReLU) IsTraining() bool { return r.training }

// Sequential chains modules, feeding each module's output to the next.
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules, training: true}
}

// Forward runs each child module in order.
func (s *Sequential) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("sequential module %d: %w", i, err)
		}
	}
	return out, nil
}

// Parameters returns the concatenated parameters of all children.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Train sets all children to training mode.
func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

// Eval sets all children to evaluation mode.
func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

// IsTraining returns true if in training mode.
func (s *Sequential) IsTraining() bool { return s.training }
