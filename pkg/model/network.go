package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/initializers"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/rand"
	"github.com/nlpodyssey/spago/nn"
	"github.com/nlpodyssey/spago/nn/activation"
	"github.com/nlpodyssey/spago/nn/linear"
	"github.com/nlpodyssey/spago/optimizers"
	"github.com/nlpodyssey/spago/optimizers/adam"
	gomat "gonum.org/v1/gonum/mat"
)

const (
	// Epsilon clips probabilities before taking logarithms in the cross-entropy loss
	Epsilon = 1e-7

	softPlusThreshold = 20.0
)

// NetworkConfig describes a feed-forward binary classifier
type NetworkConfig struct {
	InputDimension int
	HiddenLayers   []int
}

// Network is a multilayer perceptron with ReLU hidden layers and a single sigmoid output
// producing the probability of the positive class.
type Network struct {
	nn.Module
	NetworkConfig
	Layers []*linear.Model
}

func NewNetwork(config NetworkConfig) (*Network, error) {
	if config.InputDimension <= 0 {
		return nil, fmt.Errorf("invalid input dimension %d", config.InputDimension)
	}
	layers := make([]*linear.Model, 0, len(config.HiddenLayers)+1)
	in := config.InputDimension
	for _, width := range config.HiddenLayers {
		if width <= 0 {
			return nil, fmt.Errorf("invalid hidden layer width %d", width)
		}
		layers = append(layers, linear.New[float64](in, width))
		in = width
	}
	layers = append(layers, linear.New[float64](in, 1))
	return &Network{NetworkConfig: config, Layers: layers}, nil
}

// Init applies Glorot uniform initialization to the weights and zeroes the biases
func (n *Network) Init(seed uint64) {
	rnd := rand.NewLockedRand(seed)
	for i, l := range n.Layers {
		gain := initializers.Gain(activation.ReLU)
		if i == len(n.Layers)-1 {
			gain = initializers.Gain(activation.Sigmoid)
		}
		initializers.XavierUniform(l.W.Value().(mat.Matrix), gain, rnd)
		initializers.Zeros(l.B.Value().(mat.Matrix))
	}
}

// NewOptimizer returns an Adam optimizer over every parameter of the network.
func (n *Network) NewOptimizer(config adam.Config) *Optimizer {
	strategy := adam.New(config)
	return &Optimizer{
		optimizer: optimizers.New(nn.Parameters(n), strategy),
		strategy:  strategy,
	}
}

// ClearState drops the optimizer moments attached to the parameters so a trained network
// serializes without them.
func (n *Network) ClearState() {
	nn.ForEachParam(n, func(p *nn.Param) {
		p.State = nil
		p.ZeroGrad()
	})
}

// logit runs a single encoded row through the network and returns the pre-sigmoid output
func (n *Network) logit(x mat.Tensor) mat.Tensor {
	h := x
	last := len(n.Layers) - 1
	for i, l := range n.Layers {
		h = l.Forward(h)[0]
		if i < last {
			h = ag.ReLU(h)
		}
	}
	return h
}

func (n *Network) checkInput(x gomat.Matrix) error {
	rows, cols := x.Dims()
	if rows == 0 {
		return errors.New("empty input")
	}
	if cols != n.InputDimension {
		return fmt.Errorf("input has %d columns, network expects %d", cols, n.InputDimension)
	}
	return nil
}

func row(x gomat.Matrix, i int) mat.Tensor {
	return mat.NewDense[float64](mat.WithBacking(gomat.Row(nil, i, x)))
}

// Predict returns the positive class probability of every row of x.
func (n *Network) Predict(x gomat.Matrix) ([]float64, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	rows, _ := x.Dims()
	probabilities := make([]float64, rows)
	for i := range probabilities {
		probabilities[i] = ag.Sigmoid(n.logit(row(x, i))).Value().Item().F64()
	}
	return probabilities, nil
}

// TrainBatch runs a forward and backward pass over a batch, accumulating gradients into the
// network parameters. It returns the mean binary cross-entropy and the batch probabilities.
// Rows are back-propagated one at a time, in order, so parameter gradients always sum in
// the same order.
func (n *Network) TrainBatch(x gomat.Matrix, targets []float64) (float64, []float64, error) {
	if err := n.checkInput(x); err != nil {
		return 0, nil, err
	}
	rows, _ := x.Dims()
	if rows != len(targets) {
		return 0, nil, fmt.Errorf("batch has %d rows and %d targets", rows, len(targets))
	}

	size := mat.Scalar(float64(rows))
	probabilities := make([]float64, rows)
	total := 0.0
	for i := range probabilities {
		z := n.logit(row(x, i))
		probabilities[i] = ag.Sigmoid(z).Value().Item().F64()
		loss := logitCrossEntropy(z, targets[i])
		total += loss.Value().Item().F64()
		if err := ag.Backward(ag.DivScalar(loss, size)); err != nil {
			return 0, nil, err
		}
	}
	return total / float64(rows), probabilities, nil
}

// logitCrossEntropy is the binary cross-entropy of sigmoid(z) against y in {0, 1}, computed
// as softplus(-z) for positives and softplus(z) for negatives so it stays finite for large
// logits.
func logitCrossEntropy(z mat.Tensor, y float64) mat.Tensor {
	sign := mat.Scalar(1 - 2*y)
	return ag.SoftPlus(ag.ProdScalar(z, sign), mat.Scalar(1.0), mat.Scalar(softPlusThreshold))
}

// BinaryCrossEntropy is the mean cross-entropy of probabilities against 0/1 targets
func BinaryCrossEntropy(probabilities, targets []float64) float64 {
	if len(probabilities) == 0 {
		return 0
	}
	total := 0.0
	for i, p := range probabilities {
		p = math.Min(math.Max(p, Epsilon), 1-Epsilon)
		total -= targets[i]*math.Log(p) + (1-targets[i])*math.Log(1-p)
	}
	return total / float64(len(probabilities))
}
