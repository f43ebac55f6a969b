package pkg

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"attrition/pkg/io"
	"attrition/pkg/model"
)

// Prediction is the outcome of scoring a single employee
type Prediction struct {
	Probability float64
	WillLeave   bool
}

// Ingest builds the encoding tables over the full corpus and encodes every record.
func Ingest(records []model.Record, schema model.Schema, policy model.UnseenPolicy, batchSize int, seed int64) (*model.Metadata, *io.DataSet, error) {
	metaData, err := model.BuildMetadata(records, schema, policy)
	if err != nil {
		return nil, nil, err
	}
	examples := make([]*io.Example, len(records))
	for i, r := range records {
		features, err := metaData.Encode(r)
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding record %d: %w", i, err)
		}
		target, err := metaData.Target(r)
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding record %d: %w", i, err)
		}
		examples[i] = &io.Example{Features: features, Target: target}
	}
	log.Debug().Int("Records", len(records)).Int("Features", metaData.FeatureCount()).Msg("Corpus ingested")
	return metaData, io.NewDataSet(examples, batchSize, seed), nil
}

// TrainAndEvaluate splits the data, trains a network and scores it on the held-out part.
func TrainAndEvaluate(ctx context.Context, metaData *model.Metadata, data *io.DataSet, params TrainingParameters, observer Observer) (*model.Model, *io.DataSet, ModelStats, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, ModelStats{}, err
	}
	// every run splits and shuffles from the same seed
	data = io.NewDataSetSplit(data.Data, params.BatchSize, data.Indices(), rand.New(rand.NewSource(params.RndSeed)))
	train, test, err := data.Split(params.TrainFraction)
	if err != nil {
		return nil, nil, ModelStats{}, err
	}
	log.Info().Int("Train", train.Size()).Int("Test", test.Size()).Msg("Data split")

	network, history, err := Train(ctx, train, test, params, observer)
	if err != nil {
		return nil, nil, ModelStats{}, err
	}
	m := &model.Model{MetaData: metaData, Network: network}

	stats, err := Evaluate(m, test)
	if err != nil {
		return nil, nil, ModelStats{}, fmt.Errorf("%w: %w", ErrTrainingFailed, err)
	}
	stats.History = history
	return m, train, stats, nil
}

// Predict scores a record that must supply every feature attribute of the model.
func Predict(m *model.Model, fields map[string]string) (Prediction, error) {
	if m == nil || m.Network == nil || m.MetaData == nil {
		return Prediction{}, ErrModelUnavailable
	}
	record, err := m.MetaData.Schema.ParseInput(fields)
	if err != nil {
		return Prediction{}, err
	}
	probability, err := m.PredictRecord(record)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Probability: probability, WillLeave: Decide(probability)}, nil
}

// ComputeImportance runs permutation importance of the model over a data set.
func ComputeImportance(m *model.Model, data *io.DataSet, seed int64) ([]FeatureImportance, error) {
	if m == nil || m.Network == nil || m.MetaData == nil {
		return nil, ErrModelUnavailable
	}
	if _, err := data.Validate(); err != nil {
		return nil, err
	}
	ws := &model.Workspace{}
	defer ws.Release()
	return PermutationImportance(m, ws.Own(data.Matrix()), m.MetaData.Features, rand.New(rand.NewSource(seed)))
}
