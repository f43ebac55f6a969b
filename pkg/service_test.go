package pkg

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"attrition/pkg/metrics"
	"attrition/pkg/model"
	"attrition/pkg/storage"
)

func newTestService(t *testing.T, store *storage.Store) (*Service, *metrics.Metrics) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	service := NewService(ServiceConfig{
		Schema:       model.AttritionSchema(),
		UnseenPolicy: model.RejectUnseen,
		Params:       testParameters(),
		Store:        store,
		Metrics:      m,
	})
	return service, m
}

func TestServiceUnavailable(t *testing.T) {
	service, m := newTestService(t, nil)
	require.Equal(t, Unloaded, service.State())
	require.Nil(t, service.Snapshot())

	_, err := service.Predict(sampleFields(t))
	require.ErrorIs(t, err, ErrModelUnavailable)
	_, err = service.Importance()
	require.ErrorIs(t, err, ErrModelUnavailable)
	_, err = service.Stats()
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.Equal(t, 1.0, testutil.ToFloat64(m.PredictionFailures))

	_, err = service.Retrain(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoCorpus)
	require.Equal(t, Unloaded, service.State())
	_, _, err = service.Corpus()
	require.ErrorIs(t, err, ErrNoCorpus)
}

func TestServiceRetrain(t *testing.T) {
	service, m := newTestService(t, nil)
	require.NoError(t, service.Ingest(sampleRecords(t)))
	records, metaData, err := service.Corpus()
	require.NoError(t, err)
	require.Len(t, records, 8)
	require.Equal(t, 28, metaData.FeatureCount())

	epochs := 0
	first, err := service.Retrain(context.Background(), func(EpochResult) { epochs++ })
	require.NoError(t, err)
	require.Equal(t, 5, epochs)
	require.Equal(t, Ready, service.State())
	require.Equal(t, first, service.Snapshot())
	require.NotEmpty(t, first.RunID)
	require.Len(t, first.Importance, 28)

	stats, err := service.Stats()
	require.NoError(t, err)
	require.Equal(t, first.Stats, stats)

	prediction, err := service.Predict(sampleFields(t))
	require.NoError(t, err)
	require.True(t, prediction.Probability >= 0 && prediction.Probability <= 1)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Predictions))

	second, err := service.Retrain(context.Background(), nil)
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, first.Stats, second.Stats)
	require.Equal(t, first.Importance, second.Importance)
	require.Equal(t, second, service.Snapshot())
	require.Equal(t, 2.0, testutil.ToFloat64(m.TrainingRuns))
	require.Equal(t, second.Stats.Accuracy, testutil.ToFloat64(m.ModelAccuracy))
}

func TestServiceFailedRetrainKeepsSnapshot(t *testing.T) {
	service, m := newTestService(t, nil)
	require.NoError(t, service.Ingest(sampleRecords(t)))
	previous, err := service.Retrain(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = service.Retrain(ctx, nil)
	require.ErrorIs(t, err, ErrTrainingFailed)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, Ready, service.State())
	require.Same(t, previous, service.Snapshot())
	require.Equal(t, 1.0, testutil.ToFloat64(m.TrainingFailures))
}

func TestServicePersistFailureKeepsSnapshot(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	service, m := newTestService(t, store)
	require.NoError(t, service.Ingest(sampleRecords(t)))
	previous, err := service.Retrain(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	_, err = service.Retrain(context.Background(), nil)
	require.ErrorIs(t, err, bbolt.ErrDatabaseNotOpen)

	require.Equal(t, Ready, service.State())
	require.Same(t, previous, service.Snapshot())
	require.Equal(t, 1.0, testutil.ToFloat64(m.TrainingFailures))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRuns))
	require.NoError(t, store.Close())
}

func TestServiceRejectsConcurrentTraining(t *testing.T) {
	service, m := newTestService(t, nil)
	require.NoError(t, service.Ingest(sampleRecords(t)))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	observer := func(EpochResult) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	done, err := service.TrainAsync(context.Background(), observer)
	require.NoError(t, err)
	<-started

	require.Equal(t, Training, service.State())
	_, err = service.Retrain(context.Background(), nil)
	require.ErrorIs(t, err, ErrTrainingInProgress)
	_, err = service.TrainAsync(context.Background(), nil)
	require.ErrorIs(t, err, ErrTrainingInProgress)
	require.ErrorIs(t, service.Ingest(sampleRecords(t)), ErrTrainingInProgress)
	require.Nil(t, service.Snapshot())

	close(release)
	result := <-done
	require.NoError(t, result.Err)
	require.Equal(t, result.Snapshot, service.Snapshot())
	require.Equal(t, Ready, service.State())
	require.Equal(t, 2.0, testutil.ToFloat64(m.TrainingRejected))

	_, err = service.Retrain(context.Background(), nil)
	require.NoError(t, err)
}

func TestServiceRestore(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	service, _ := newTestService(t, store)
	require.NoError(t, service.Ingest(sampleRecords(t)))
	snapshot, err := service.Retrain(context.Background(), nil)
	require.NoError(t, err)

	active, err := store.ActiveID()
	require.NoError(t, err)
	require.Equal(t, snapshot.RunID, active)

	restored, _ := newTestService(t, store)
	loaded, err := restored.Restore()
	require.NoError(t, err)
	require.Equal(t, Ready, restored.State())
	require.Equal(t, snapshot.RunID, loaded.RunID)
	require.Equal(t, snapshot.Stats, loaded.Stats)
	require.Equal(t, snapshot.Importance, loaded.Importance)

	fields := sampleFields(t)
	expected, err := service.Predict(fields)
	require.NoError(t, err)
	actual, err := restored.Predict(fields)
	require.NoError(t, err)
	require.Equal(t, expected, actual)

	unconfigured, _ := newTestService(t, nil)
	_, err = unconfigured.Restore()
	require.Error(t, err)
}
