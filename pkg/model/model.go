package model

import "gonum.org/v1/gonum/mat"

// Model bundles a trained network with the encoding tables its inputs were built with.
type Model struct {
	MetaData *Metadata
	Network  *Network
}

func (m *Model) Predict(x mat.Matrix) ([]float64, error) {
	return m.Network.Predict(x)
}

// PredictRecord encodes a single record and returns its positive class probability.
func (m *Model) PredictRecord(r Record) (float64, error) {
	features, err := m.MetaData.Encode(r)
	if err != nil {
		return 0, err
	}
	ws := &Workspace{}
	defer ws.Release()
	probabilities, err := m.Network.Predict(ws.NewDense(1, len(features), features))
	if err != nil {
		return 0, err
	}
	return probabilities[0], nil
}
