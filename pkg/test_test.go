package pkg

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"attrition/pkg/io"
)

// fixedClassifier returns its probabilities regardless of the input
type fixedClassifier []float64

func (c fixedClassifier) Predict(x mat.Matrix) ([]float64, error) {
	return append([]float64(nil), c...), nil
}

func TestEvaluate(t *testing.T) {
	targets := []float64{1, 1, 1, 1, 0, 0, 0, 0}
	examples := make([]*io.Example, len(targets))
	for i, target := range targets {
		examples[i] = &io.Example{Features: []float64{float64(i)}, Target: target}
	}
	test := io.NewDataSet(examples, 4, 42)

	stats, err := Evaluate(fixedClassifier{0.9, 0.8, 0.7, 0.2, 0.6, 0.1, 0.3, 0.4}, test)
	require.NoError(t, err)
	require.Equal(t, ConfusionMatrix{TruePos: 3, FalsePos: 1, TrueNeg: 3, FalseNeg: 1}, stats.ConfusionMatrix)
	require.Equal(t, test.Size(), stats.ConfusionMatrix.Total())
	require.InDelta(t, 0.75, stats.Accuracy, 1e-12)
	require.InDelta(t, 0.75, stats.Precision, 1e-12)
	require.InDelta(t, 0.75, stats.Recall, 1e-12)
	require.InDelta(t, 0.75, stats.Specificity, 1e-12)
	require.InDelta(t, 0.75, stats.F1Score, 1e-12)
	require.Greater(t, stats.Loss, 0.0)

	_, err = Evaluate(fixedClassifier{0.9}, test)
	require.Error(t, err)
}

func TestEvaluateEmpty(t *testing.T) {
	stats, err := Evaluate(fixedClassifier{}, io.NewDataSet(nil, 4, 42))
	require.NoError(t, err)
	require.Equal(t, ModelStats{}, stats)
}

func TestConfusionMatrixZeroDivision(t *testing.T) {
	tests := []struct {
		name      string
		confusion ConfusionMatrix
		expected  ModelStats
	}{
		{
			name:      "no positive predictions",
			confusion: ConfusionMatrix{TrueNeg: 2, FalseNeg: 2},
			expected: ModelStats{
				Accuracy:    0.5,
				Specificity: 1,
			},
		},
		{
			name:      "no negatives",
			confusion: ConfusionMatrix{TruePos: 1, FalseNeg: 1},
			expected: ModelStats{
				Accuracy:  0.5,
				Precision: 1,
				Recall:    0.5,
				F1Score:   2.0 / 3.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := StatsFrom(tt.confusion, 0)
			tt.expected.ConfusionMatrix = tt.confusion
			require.InDelta(t, tt.expected.F1Score, stats.F1Score, 1e-12)
			stats.F1Score = tt.expected.F1Score
			require.Equal(t, tt.expected, stats)
		})
	}
}

func TestDecide(t *testing.T) {
	require.True(t, Decide(0.5))
	require.True(t, Decide(0.99))
	require.False(t, Decide(0.4999))
}
