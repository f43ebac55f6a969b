package pkg

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"attrition/pkg/model"
)

// MaxImportanceSamples caps the number of rows used for permutation importance
const MaxImportanceSamples = 1000

type FeatureImportance struct {
	Feature    string
	Importance float64
}

// PermutationImportance measures, for every column, the mean absolute change of the
// predictions when that column is shuffled across the first MaxImportanceSamples rows.
// The result is sorted by descending importance; ties keep the column order.
func PermutationImportance(c Classifier, features *mat.Dense, names []string, rnd *rand.Rand) ([]FeatureImportance, error) {
	rows, cols := features.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty feature matrix")
	}
	if len(names) != cols {
		return nil, fmt.Errorf("got %d feature names for %d columns", len(names), cols)
	}

	ws := &model.Workspace{}
	defer ws.Release()

	n := rows
	if n > MaxImportanceSamples {
		n = MaxImportanceSamples
	}
	sample := ws.Own(mat.DenseCopyOf(features.Slice(0, n, 0, cols)))

	baseline, err := c.Predict(sample)
	if err != nil {
		return nil, fmt.Errorf("error computing baseline predictions: %w", err)
	}

	result := make([]FeatureImportance, cols)
	permuted := ws.NewDense(n, cols, nil)
	column := make([]float64, n)
	for j := 0; j < cols; j++ {
		permuted.Copy(sample)
		mat.Col(column, j, sample)
		rnd.Shuffle(n, func(a, b int) {
			column[a], column[b] = column[b], column[a]
		})
		permuted.SetCol(j, column)

		predictions, err := c.Predict(permuted)
		if err != nil {
			return nil, fmt.Errorf("error predicting with permuted feature %s: %w", names[j], err)
		}
		result[j] = FeatureImportance{
			Feature:    names[j],
			Importance: floats.Distance(baseline, predictions, 1) / float64(n),
		}
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Importance > result[b].Importance
	})
	return result, nil
}
