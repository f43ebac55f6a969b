package pkg

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"attrition/pkg/io"
	"attrition/pkg/model"
)

// Threshold is the probability at or above which a prediction is positive
const Threshold = 0.5

// Classifier returns the positive class probability of every row of x
type Classifier interface {
	Predict(x mat.Matrix) ([]float64, error)
}

func Decide(probability float64) bool {
	return probability >= Threshold
}

// ConfusionMatrix counts binary predictions against actual labels
type ConfusionMatrix struct {
	TruePos  int
	FalsePos int
	TrueNeg  int
	FalseNeg int
}

func (c *ConfusionMatrix) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePos++
	case predicted && !actual:
		c.FalsePos++
	case !predicted && !actual:
		c.TrueNeg++
	default:
		c.FalseNeg++
	}
}

func (c ConfusionMatrix) Total() int {
	return c.TruePos + c.FalsePos + c.TrueNeg + c.FalseNeg
}

func (c ConfusionMatrix) Precision() float64 {
	return ratio(c.TruePos, c.TruePos+c.FalsePos)
}

func (c ConfusionMatrix) Recall() float64 {
	return ratio(c.TruePos, c.TruePos+c.FalseNeg)
}

func (c ConfusionMatrix) Specificity() float64 {
	return ratio(c.TrueNeg, c.TrueNeg+c.FalsePos)
}

func (c ConfusionMatrix) Accuracy() float64 {
	return ratio(c.TruePos+c.TrueNeg, c.Total())
}

func (c ConfusionMatrix) F1Score() float64 {
	precision, recall := c.Precision(), c.Recall()
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// ratio is 0 when the denominator is 0
func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// ModelStats summarizes a trained model against its held-out set
type ModelStats struct {
	Accuracy        float64
	Loss            float64
	Precision       float64
	Recall          float64
	F1Score         float64
	Specificity     float64
	ConfusionMatrix ConfusionMatrix
	History         History
}

// StatsFrom derives the scalar metrics of a confusion matrix.
func StatsFrom(c ConfusionMatrix, loss float64) ModelStats {
	return ModelStats{
		Accuracy:        c.Accuracy(),
		Loss:            loss,
		Precision:       c.Precision(),
		Recall:          c.Recall(),
		F1Score:         c.F1Score(),
		Specificity:     c.Specificity(),
		ConfusionMatrix: c,
	}
}

// Evaluate scores the classifier on the test set. The returned stats carry no history.
func Evaluate(c Classifier, test *io.DataSet) (ModelStats, error) {
	if test.Size() == 0 {
		return StatsFrom(ConfusionMatrix{}, 0), nil
	}
	if _, err := test.Validate(); err != nil {
		return ModelStats{}, fmt.Errorf("invalid test set: %w", err)
	}

	ws := &model.Workspace{}
	defer ws.Release()
	probabilities, err := c.Predict(ws.Own(test.Matrix()))
	if err != nil {
		return ModelStats{}, fmt.Errorf("error predicting test set: %w", err)
	}
	targets := test.Targets()
	if len(probabilities) != len(targets) {
		return ModelStats{}, fmt.Errorf("classifier returned %d predictions for %d examples", len(probabilities), len(targets))
	}

	var confusion ConfusionMatrix
	for i, p := range probabilities {
		confusion.Add(Decide(p), targets[i] == 1)
	}
	return StatsFrom(confusion, model.BinaryCrossEntropy(probabilities, targets)), nil
}

// LogMetrics writes the stats to the global logger
func (s ModelStats) LogMetrics() {
	c := s.ConfusionMatrix
	log.Info().
		Int("TP", c.TruePos).
		Int("FP", c.FalsePos).
		Int("TN", c.TrueNeg).
		Int("FN", c.FalseNeg).
		Msg("Confusion matrix")
	log.Info().
		Float64("Accuracy", s.Accuracy).
		Float64("Precision", s.Precision).
		Float64("Recall", s.Recall).
		Float64("F1", s.F1Score).
		Float64("Specificity", s.Specificity).
		Float64("Loss", s.Loss).
		Msg("Model performance")
}
