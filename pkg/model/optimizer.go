package model

import (
	"github.com/nlpodyssey/spago/optimizers"
	"github.com/nlpodyssey/spago/optimizers/adam"
)

// NewDefaultAdamConfig returns the Adam hyperparameters used for training: step size 0.001,
// beta1 0.9, beta2 0.999 and epsilon 1e-7.
func NewDefaultAdamConfig() adam.Config {
	return adam.NewConfig(0.001, 0.9, 0.999, 1e-7)
}

// Optimizer applies Adam updates to the parameters of a network.
type Optimizer struct {
	optimizer *optimizers.Optimizer
	strategy  *adam.Adam
	steps     int
}

// Optimize applies the accumulated gradients, clears them and advances the Adam time step.
func (o *Optimizer) Optimize() error {
	if err := o.optimizer.Optimize(); err != nil {
		return err
	}
	o.strategy.IncExample()
	o.steps++
	return nil
}

func (o *Optimizer) Steps() int {
	return o.steps
}
