package pkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"attrition/pkg/io"
	"attrition/pkg/metrics"
	"attrition/pkg/model"
	"attrition/pkg/storage"
)

var (
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrNoCorpus           = errors.New("no corpus ingested")
)

// State is the lifecycle state of the service model
type State int32

const (
	Unloaded State = iota
	Training
	Ready
)

func (s State) String() string {
	switch s {
	case Training:
		return "training"
	case Ready:
		return "ready"
	default:
		return "unloaded"
	}
}

// Snapshot is an immutable view of a finished training run. Consumers never observe a
// snapshot being modified.
type Snapshot struct {
	RunID      string
	TrainedAt  time.Time
	Model      *model.Model
	Stats      ModelStats
	Importance []FeatureImportance
}

type corpus struct {
	records  []model.Record
	metaData *model.Metadata
	data     *io.DataSet
}

// ServiceConfig configures a Service. Store and Metrics are optional.
type ServiceConfig struct {
	Schema       model.Schema
	UnseenPolicy model.UnseenPolicy
	Params       TrainingParameters
	Store        *storage.Store
	Metrics      *metrics.Metrics
}

// Service owns the current model and its stats. Training requests are serialized; a new
// snapshot replaces the previous one atomically once a run has fully succeeded.
type Service struct {
	config ServiceConfig

	trainMu sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[Snapshot]
	corpus  atomic.Pointer[corpus]
}

func NewService(config ServiceConfig) *Service {
	return &Service{config: config}
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// Snapshot returns the current snapshot, or nil before the first successful run.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Ingest replaces the corpus and rebuilds its encoding tables. It is rejected while a
// training run is in flight.
func (s *Service) Ingest(records []model.Record) error {
	if !s.trainMu.TryLock() {
		return ErrTrainingInProgress
	}
	defer s.trainMu.Unlock()

	metaData, data, err := Ingest(records, s.config.Schema, s.config.UnseenPolicy, s.config.Params.BatchSize, s.config.Params.RndSeed)
	if err != nil {
		return err
	}
	s.corpus.Store(&corpus{records: records, metaData: metaData, data: data})
	return nil
}

// Corpus returns the ingested records and their encoding tables.
func (s *Service) Corpus() ([]model.Record, *model.Metadata, error) {
	c := s.corpus.Load()
	if c == nil {
		return nil, nil, ErrNoCorpus
	}
	return c.records, c.metaData, nil
}

// Retrain trains, evaluates and analyzes a new model over the ingested corpus. On failure or
// cancellation the previous snapshot stays current. A request made while another run is in
// flight fails with ErrTrainingInProgress.
func (s *Service) Retrain(ctx context.Context, observer Observer) (*Snapshot, error) {
	if !s.trainMu.TryLock() {
		if s.config.Metrics != nil {
			s.config.Metrics.TrainingRejected.Inc()
		}
		return nil, ErrTrainingInProgress
	}
	defer s.trainMu.Unlock()
	return s.retrain(ctx, observer)
}

// TrainAsync starts Retrain on a new goroutine. The returned channel yields exactly one
// result. ErrTrainingInProgress is returned synchronously.
func (s *Service) TrainAsync(ctx context.Context, observer Observer) (<-chan TrainResult, error) {
	if !s.trainMu.TryLock() {
		if s.config.Metrics != nil {
			s.config.Metrics.TrainingRejected.Inc()
		}
		return nil, ErrTrainingInProgress
	}
	// state is set before returning so callers observe the run immediately
	s.state.Store(int32(Training))
	done := make(chan TrainResult, 1)
	go func() {
		defer s.trainMu.Unlock()
		snapshot, err := s.retrain(ctx, observer)
		done <- TrainResult{Snapshot: snapshot, Err: err}
		close(done)
	}()
	return done, nil
}

type TrainResult struct {
	Snapshot *Snapshot
	Err      error
}

func (s *Service) retrain(ctx context.Context, observer Observer) (*Snapshot, error) {
	c := s.corpus.Load()
	if c == nil {
		s.restoreState()
		return nil, ErrNoCorpus
	}

	s.state.Store(int32(Training))
	start := time.Now()
	snapshot, err := s.run(ctx, c, s.observe(observer))
	if err != nil {
		s.restoreState()
		if s.config.Metrics != nil {
			s.config.Metrics.TrainingFailures.Inc()
		}
		log.Error().Err(err).Msg("Training failed")
		return nil, err
	}

	if s.config.Store != nil {
		if err := s.persist(snapshot, len(c.records)); err != nil {
			s.restoreState()
			if s.config.Metrics != nil {
				s.config.Metrics.TrainingFailures.Inc()
			}
			log.Error().Err(err).Str("RunID", snapshot.RunID).Msg("Persisting run failed")
			return nil, fmt.Errorf("error persisting run %s: %w", snapshot.RunID, err)
		}
	}

	s.current.Store(snapshot)
	s.state.Store(int32(Ready))
	if m := s.config.Metrics; m != nil {
		m.TrainingRuns.Inc()
		m.TrainingDuration.Observe(time.Since(start).Seconds())
		m.ModelAccuracy.Set(snapshot.Stats.Accuracy)
		m.ModelF1.Set(snapshot.Stats.F1Score)
		m.ModelLoss.Set(snapshot.Stats.Loss)
	}
	log.Info().Str("RunID", snapshot.RunID).Dur("Duration", time.Since(start)).Msg("Training finished")
	return snapshot, nil
}

func (s *Service) run(ctx context.Context, c *corpus, observer Observer) (*Snapshot, error) {
	m, train, stats, err := TrainAndEvaluate(ctx, c.metaData, c.data, s.config.Params, observer)
	if err != nil {
		return nil, err
	}
	importance, err := ComputeImportance(m, train, s.config.Params.RndSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: importance: %w", ErrTrainingFailed, err)
	}
	return &Snapshot{
		RunID:      uuid.NewString(),
		TrainedAt:  time.Now().UTC(),
		Model:      m,
		Stats:      stats,
		Importance: importance,
	}, nil
}

func (s *Service) observe(observer Observer) Observer {
	m := s.config.Metrics
	if m == nil {
		return observer
	}
	return func(r EpochResult) {
		m.EpochLoss.Set(r.Loss)
		m.EpochValLoss.Set(r.ValLoss)
		if observer != nil {
			observer(r)
		}
	}
}

func (s *Service) restoreState() {
	if s.current.Load() != nil {
		s.state.Store(int32(Ready))
	} else {
		s.state.Store(int32(Unloaded))
	}
}

func (s *Service) persist(snapshot *Snapshot, records int) error {
	stats, err := json.Marshal(snapshot.Stats)
	if err != nil {
		return err
	}
	importance, err := json.Marshal(snapshot.Importance)
	if err != nil {
		return err
	}
	return s.config.Store.SaveRun(storage.Run{
		ID:         snapshot.RunID,
		CreatedAt:  snapshot.TrainedAt,
		Records:    records,
		Stats:      stats,
		Importance: importance,
	}, snapshot.Model)
}

// Restore loads the active run of the store as the current snapshot.
func (s *Service) Restore() (*Snapshot, error) {
	if s.config.Store == nil {
		return nil, errors.New("no store configured")
	}
	if !s.trainMu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer s.trainMu.Unlock()

	snapshot, err := SnapshotFromRun(s.config.Store.LoadActive())
	if err != nil {
		return nil, err
	}
	s.current.Store(snapshot)
	s.state.Store(int32(Ready))
	return snapshot, nil
}

// SnapshotFromRun rebuilds a snapshot from a stored run.
func SnapshotFromRun(run storage.Run, m *model.Model, err error) (*Snapshot, error) {
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{RunID: run.ID, TrainedAt: run.CreatedAt, Model: m}
	if err := json.Unmarshal(run.Stats, &snapshot.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats of run %s: %w", run.ID, err)
	}
	if len(run.Importance) > 0 {
		if err := json.Unmarshal(run.Importance, &snapshot.Importance); err != nil {
			return nil, fmt.Errorf("unmarshal importance of run %s: %w", run.ID, err)
		}
	}
	return snapshot, nil
}

// Predict scores raw fields with the current model.
func (s *Service) Predict(fields map[string]string) (Prediction, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		s.countPrediction(Prediction{}, ErrModelUnavailable)
		return Prediction{}, ErrModelUnavailable
	}
	p, err := Predict(snapshot.Model, fields)
	s.countPrediction(p, err)
	return p, err
}

func (s *Service) countPrediction(p Prediction, err error) {
	m := s.config.Metrics
	if m == nil {
		return
	}
	if err != nil {
		m.PredictionFailures.Inc()
		return
	}
	m.Predictions.Inc()
	m.PredictionScores.Observe(p.Probability)
}

// Importance returns the feature importance of the current model.
func (s *Service) Importance() ([]FeatureImportance, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil, ErrModelUnavailable
	}
	return snapshot.Importance, nil
}

// Stats returns the stats of the current model.
func (s *Service) Stats() (ModelStats, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		return ModelStats{}, ErrModelUnavailable
	}
	return snapshot.Stats, nil
}
