package pkg

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"attrition/pkg/io"
	"attrition/pkg/model"
)

var ErrTrainingFailed = errors.New("training failed")

type TrainingParameters struct {
	HiddenLayers   []int
	BatchSize      int
	NumEpochs      int
	LearningRate   float64
	ReportInterval int
	RndSeed        int64
	TrainFraction  float64
}

func DefaultTrainingParameters() TrainingParameters {
	return TrainingParameters{
		HiddenLayers:   []int{32, 16},
		BatchSize:      32,
		NumEpochs:      50,
		LearningRate:   0.001,
		ReportInterval: 10,
		RndSeed:        42,
		TrainFraction:  0.8,
	}
}

func (p TrainingParameters) Validate() error {
	if p.NumEpochs <= 0 {
		return fmt.Errorf("number of epochs must be positive, got %d", p.NumEpochs)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", p.BatchSize)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", p.LearningRate)
	}
	if p.TrainFraction <= 0 || p.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be in (0, 1), got %v", p.TrainFraction)
	}
	for _, width := range p.HiddenLayers {
		if width <= 0 {
			return fmt.Errorf("hidden layer widths must be positive, got %v", p.HiddenLayers)
		}
	}
	return nil
}

// EpochResult is reported once per epoch
type EpochResult struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
}

// Observer receives epoch results while a training run progresses
type Observer func(EpochResult)

// History holds one entry per epoch for every tracked metric
type History struct {
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
}

func (h *History) append(r EpochResult) {
	h.Loss = append(h.Loss, r.Loss)
	h.Accuracy = append(h.Accuracy, r.Accuracy)
	h.ValLoss = append(h.ValLoss, r.ValLoss)
	h.ValAccuracy = append(h.ValAccuracy, r.ValAccuracy)
}

func (h History) Epochs() int {
	return len(h.Loss)
}

type Trainer struct {
	params    TrainingParameters
	optimizer *model.Optimizer
	network   *model.Network
	observer  Observer
}

// Train fits a network on train, validating against test after every epoch. The context is
// checked between batches.
func Train(ctx context.Context, train, test *io.DataSet, params TrainingParameters, observer Observer) (network *model.Network, history History, err error) {
	defer func() {
		if r := recover(); r != nil {
			network, history, err = nil, History{}, fmt.Errorf("%w: %v", ErrTrainingFailed, r)
		}
	}()

	numColumns, err := train.Validate()
	if err != nil {
		return nil, History{}, fmt.Errorf("invalid training set: %w", err)
	}
	if test.Size() > 0 {
		testColumns, err := test.Validate()
		if err != nil {
			return nil, History{}, fmt.Errorf("invalid validation set: %w", err)
		}
		if testColumns != numColumns {
			return nil, History{}, fmt.Errorf("%w: validation set has %d features, training set %d", io.ErrRaggedFeatures, testColumns, numColumns)
		}
	}

	//Overwrite values that are only known after encoding the dataset
	t := &Trainer{params: params, observer: observer}
	t.network, err = model.NewNetwork(model.NetworkConfig{InputDimension: numColumns, HiddenLayers: params.HiddenLayers})
	if err != nil {
		return nil, History{}, err
	}
	t.network.Init(uint64(params.RndSeed))

	updaterConfig := model.NewDefaultAdamConfig()
	updaterConfig.StepSize = params.LearningRate
	t.optimizer = t.network.NewOptimizer(updaterConfig)

	reportInterval := params.ReportInterval
	if reportInterval <= 0 {
		reportInterval = 1
	}

	for epoch := 0; epoch < params.NumEpochs; epoch++ {
		result, err := t.trainEpoch(ctx, epoch, train, test)
		if err != nil {
			return nil, History{}, fmt.Errorf("%w: epoch %d: %w", ErrTrainingFailed, epoch, err)
		}
		history.append(result)
		if t.observer != nil {
			t.observer(result)
		}
		if epoch%reportInterval == 0 || epoch == params.NumEpochs-1 {
			log.Info().Int("Epoch", epoch).
				Float64("Loss", result.Loss).
				Float64("Accuracy", result.Accuracy).
				Float64("ValLoss", result.ValLoss).
				Float64("ValAccuracy", result.ValAccuracy).
				Msg("")
		}
	}

	t.network.ClearState()
	return t.network, history, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int, train, test *io.DataSet) (EpochResult, error) {
	train.ResetOrder(io.RandomOrder)
	totalLoss, correct, seen := 0.0, 0, 0
	for batch := train.Next(); batch.Size() > 0; batch = train.Next() {
		if err := ctx.Err(); err != nil {
			return EpochResult{}, err
		}
		loss, probabilities, err := t.trainBatch(batch)
		if err != nil {
			return EpochResult{}, err
		}
		if err := t.optimizer.Optimize(); err != nil {
			return EpochResult{}, err
		}
		totalLoss += loss * float64(batch.Size())
		correct += countCorrect(probabilities, batch.Targets())
		seen += batch.Size()
	}

	result := EpochResult{
		Epoch:    epoch,
		Loss:     totalLoss / float64(seen),
		Accuracy: float64(correct) / float64(seen),
	}
	if test.Size() > 0 {
		valLoss, valAccuracy, err := validate(t.network, test)
		if err != nil {
			return EpochResult{}, err
		}
		result.ValLoss, result.ValAccuracy = valLoss, valAccuracy
	}
	return result, nil
}

func (t *Trainer) trainBatch(batch io.DataBatch) (float64, []float64, error) {
	ws := &model.Workspace{}
	defer ws.Release()
	x := ws.Own(batch.Matrix())
	return t.network.TrainBatch(x, batch.Targets())
}

func validate(network *model.Network, test *io.DataSet) (float64, float64, error) {
	ws := &model.Workspace{}
	defer ws.Release()
	probabilities, err := network.Predict(ws.Own(test.Matrix()))
	if err != nil {
		return 0, 0, err
	}
	targets := test.Targets()
	loss := model.BinaryCrossEntropy(probabilities, targets)
	return loss, float64(countCorrect(probabilities, targets)) / float64(len(targets)), nil
}

func countCorrect(probabilities, targets []float64) int {
	correct := 0
	for i, p := range probabilities {
		if Decide(p) == (targets[i] == 1) {
			correct++
		}
	}
	return correct
}
