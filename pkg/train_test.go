package pkg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"attrition/pkg/io"
)

func TestTrain(t *testing.T) {
	_, data := sampleData(t)
	train, test, err := data.Split(0.8)
	require.NoError(t, err)

	var epochs []int
	observer := func(r EpochResult) {
		epochs = append(epochs, r.Epoch)
	}
	network, history, err := Train(context.Background(), train, test, testParameters(), observer)
	require.NoError(t, err)
	require.NotNil(t, network)
	require.Equal(t, []int{0, 1, 2, 3, 4}, epochs)
	require.Equal(t, 5, history.Epochs())
	require.Len(t, history.Accuracy, 5)
	require.Len(t, history.ValLoss, 5)
	require.Len(t, history.ValAccuracy, 5)
	for _, loss := range history.Loss {
		require.Greater(t, loss, 0.0)
	}
}

func TestTrainDeterministic(t *testing.T) {
	run := func() History {
		_, data := sampleData(t)
		train, test, err := data.Split(0.8)
		require.NoError(t, err)
		_, history, err := Train(context.Background(), train, test, testParameters(), nil)
		require.NoError(t, err)
		return history
	}
	require.Equal(t, run(), run())
}

func TestTrainInvalidData(t *testing.T) {
	empty := io.NewDataSet(nil, 4, 42)
	_, _, err := Train(context.Background(), empty, empty, testParameters(), nil)
	require.ErrorIs(t, err, io.ErrEmptyDataSet)

	ragged := io.NewDataSet([]*io.Example{
		{Features: []float64{0, 1}, Target: 1},
		{Features: []float64{1}, Target: 0},
	}, 4, 42)
	_, _, err = Train(context.Background(), ragged, empty, testParameters(), nil)
	require.ErrorIs(t, err, io.ErrRaggedFeatures)

	train := io.NewDataSet([]*io.Example{{Features: []float64{0, 1}, Target: 1}}, 4, 42)
	test := io.NewDataSet([]*io.Example{{Features: []float64{0, 1, 2}, Target: 1}}, 4, 42)
	_, _, err = Train(context.Background(), train, test, testParameters(), nil)
	require.ErrorIs(t, err, io.ErrRaggedFeatures)
}

func TestTrainCancelled(t *testing.T) {
	_, data := sampleData(t)
	train, test, err := data.Split(0.8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	network, history, err := Train(ctx, train, test, testParameters(), nil)
	require.ErrorIs(t, err, ErrTrainingFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, network)
	require.Equal(t, 0, history.Epochs())
}

func TestTrainingParametersValidate(t *testing.T) {
	require.NoError(t, DefaultTrainingParameters().Validate())

	tests := []func(p *TrainingParameters){
		func(p *TrainingParameters) { p.NumEpochs = 0 },
		func(p *TrainingParameters) { p.BatchSize = 0 },
		func(p *TrainingParameters) { p.LearningRate = 0 },
		func(p *TrainingParameters) { p.TrainFraction = 1 },
		func(p *TrainingParameters) { p.HiddenLayers = []int{8, -1} },
	}
	for _, modify := range tests {
		p := DefaultTrainingParameters()
		modify(&p)
		require.Error(t, p.Validate())
	}
}
