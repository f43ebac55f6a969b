package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)

	m.TrainingRuns.Inc()
	m.ModelAccuracy.Set(0.75)
	m.PredictionScores.Observe(0.3)

	require.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRuns))
	require.Equal(t, 0.75, testutil.ToFloat64(m.ModelAccuracy))
	require.Equal(t, 1, testutil.CollectAndCount(m.PredictionScores))

	require.Panics(t, func() { NewWithRegistry(registry) })
}

func TestWriteTextfile(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	m.Predictions.Add(3)

	fileName := filepath.Join(t.TempDir(), "attrition.prom")
	require.NoError(t, WriteTextfile(fileName, registry))
	content, err := os.ReadFile(fileName)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(content), "attrition_predictions_total 3"))
}
