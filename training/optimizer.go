package training

import (
	"fmt"
	"sync"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements stochastic gradient descent with optional momentum and
// weight decay. Frozen parameters (RequiresGrad() == false) are skipped.
type SGD struct {
	parameters   []*Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[*Parameter][]float32
	mutex        sync.Mutex
}

// NewSGD creates a new SGD optimizer bound to the given parameters.
func NewSGD(parameters []*Parameter, lr, momentum, weightDecay float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be > 0, got %g", ErrInvalidConfig, lr)
	}
	if momentum < 0 || weightDecay < 0 {
		return nil, fmt.Errorf("%w: momentum and weight decay must be >= 0", ErrInvalidConfig)
	}

	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[*Parameter][]float32),
	}

	if momentum > 0 {
		for _, param := range parameters {
			if param.RequiresGrad() {
				sgd.velocities[param] = make([]float32, param.Value.Shape().TotalSize())
			}
		}
	}

	return sgd, nil
}

// Step performs a single optimization step over all trainable parameters.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		if !param.RequiresGrad() {
			continue
		}

		value := param.Value.Data().([]float32)
		grad := param.Grad.Data().([]float32)
		if len(value) != len(grad) {
			return fmt.Errorf("%w: parameter %q value/gradient size mismatch", ErrComputation, param.Name)
		}

		lr := float32(sgd.learningRate)
		wd := float32(sgd.weightDecay)

		if sgd.momentum > 0 {
			velocity := sgd.velocities[param]
			if velocity == nil {
				velocity = make([]float32, len(value))
				sgd.velocities[param] = velocity
			}
			mu := float32(sgd.momentum)
			for i := range value {
				g := grad[i] + wd*value[i]
				velocity[i] = mu*velocity[i] + g
				value[i] -= lr * velocity[i]
			}
		} else {
			for i := range value {
				g := grad[i] + wd*value[i]
				value[i] -= lr * g
			}
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all trainable parameters.
func (sgd *SGD) ZeroGrad() {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		if param.RequiresGrad() {
			param.ZeroGrad()
		}
	}
}

// GetLR returns the current learning rate.
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	return sgd.learningRate
}

// SetLR sets the learning rate.
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}
