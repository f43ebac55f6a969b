// Package metrics provides Prometheus metrics for training runs and predictions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the attrition predictor.
type Metrics struct {
	// Training metrics
	TrainingRuns     prometheus.Counter   // Completed training runs
	TrainingFailures prometheus.Counter   // Failed or cancelled training runs
	TrainingRejected prometheus.Counter   // Training requests rejected while a run was in flight
	TrainingDuration prometheus.Histogram // Duration of training runs in seconds
	EpochLoss        prometheus.Gauge     // Training loss of the last finished epoch
	EpochValLoss     prometheus.Gauge     // Validation loss of the last finished epoch

	// Model quality
	ModelAccuracy prometheus.Gauge
	ModelF1       prometheus.Gauge
	ModelLoss     prometheus.Gauge

	// Prediction metrics
	Predictions        prometheus.Counter
	PredictionFailures prometheus.Counter
	PredictionScores   prometheus.Histogram
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "attrition_training_runs_total",
			Help: "Total number of completed training runs",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attrition_training_failures_total",
			Help: "Total number of failed or cancelled training runs",
		}),
		TrainingRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "attrition_training_rejected_total",
			Help: "Total number of training requests rejected while a run was in progress",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attrition_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		EpochLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attrition_epoch_loss",
			Help: "Training loss of the last finished epoch",
		}),
		EpochValLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attrition_epoch_val_loss",
			Help: "Validation loss of the last finished epoch",
		}),
		ModelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attrition_model_accuracy",
			Help: "Held-out accuracy of the current model",
		}),
		ModelF1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attrition_model_f1",
			Help: "Held-out F1 score of the current model",
		}),
		ModelLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attrition_model_loss",
			Help: "Held-out binary cross-entropy of the current model",
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "attrition_predictions_total",
			Help: "Total number of predictions served",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attrition_prediction_failures_total",
			Help: "Total number of rejected prediction requests",
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attrition_prediction_scores",
			Help:    "Distribution of predicted attrition probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}
}

// WriteTextfile dumps every metric of the gatherer in text exposition format, for the node
// exporter textfile collector.
func WriteTextfile(fileName string, gatherer prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(fileName, gatherer)
}
