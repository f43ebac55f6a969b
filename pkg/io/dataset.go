package io

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyDataSet    = errors.New("empty data set")
	ErrRaggedFeatures  = errors.New("feature vectors of inconsistent length")
	ErrInvalidFraction = errors.New("invalid train fraction")
)

// Example is one encoded record with its 0/1 target
type Example struct {
	Features []float64
	Target   float64
}

type DataBatch []*Example

func (b DataBatch) Size() int {
	return len(b)
}

// Matrix stacks the batch features into a rows x features matrix.
func (b DataBatch) Matrix() *mat.Dense {
	return rowsMatrix(len(b), func(i int) []float64 { return b[i].Features })
}

func (b DataBatch) Targets() []float64 {
	targets := make([]float64, len(b))
	for i, e := range b {
		targets[i] = e.Target
	}
	return targets
}

type DataSet struct {
	Data         []*Example
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		ind := d.Rand.Perm(len(d.currentOrder))
		for i := range ind {
			d.currentOrder[i] = d.dataIndices[ind[i]]
		}
	}

	d.currentIndex = 0
}

// Next returns the next batch in the current order, or an empty batch once exhausted.
func (d *DataSet) Next() DataBatch {
	batch := make(DataBatch, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(batch) < d.BatchSize; d.currentIndex++ {
		batch = append(batch, d.Data[d.currentOrder[d.currentIndex]])
	}
	return batch
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

// Indices returns the data indices of the set in original order.
func (d *DataSet) Indices() []int {
	return append([]int(nil), d.dataIndices...)
}

// Example returns the i-th example of the set in original order.
func (d *DataSet) Example(i int) *Example {
	return d.Data[d.dataIndices[i]]
}

func NewDataSet(data []*Example, batchSize int, seed int64) *DataSet {
	dataIndices := make([]int, len(data))
	for i := range dataIndices {
		dataIndices[i] = i
	}
	ds := &DataSet{Data: data, BatchSize: batchSize, Rand: rand.New(rand.NewSource(seed)), dataIndices: dataIndices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func NewDataSetSplit(data []*Example, batchSize int, indices []int, rnd *rand.Rand) *DataSet {
	ds := &DataSet{
		Data: data, BatchSize: batchSize, Rand: rnd, dataIndices: indices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func (d *DataSet) RandomSplit(sizes ...int) []*DataSet {
	indices := make([]int, len(d.dataIndices))
	copy(indices, d.dataIndices)
	d.Rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	splits := make([]*DataSet, len(sizes))
	idx := 0
	for i := range sizes {
		splitIndices := make([]int, sizes[i])
		for j := range splitIndices {
			splitIndices[j] = indices[idx]
			idx++
		}
		splits[i] = NewDataSetSplit(d.Data, d.BatchSize, splitIndices, d.Rand)
	}
	return splits
}

// Split shuffles the whole set and assigns the first floor(trainFraction*n) examples to the
// training set and the rest to the test set.
func (d *DataSet) Split(trainFraction float64) (train, test *DataSet, err error) {
	if trainFraction < 0 || trainFraction > 1 || math.IsNaN(trainFraction) {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFraction, trainFraction)
	}
	n := d.Size()
	trainSize := int(math.Floor(trainFraction * float64(n)))
	splits := d.RandomSplit(trainSize, n-trainSize)
	return splits[0], splits[1], nil
}

// Validate checks that the set is non-empty and that all feature vectors have the same
// length, which it returns.
func (d *DataSet) Validate() (int, error) {
	if d.Size() == 0 {
		return 0, ErrEmptyDataSet
	}
	width := len(d.Example(0).Features)
	if width == 0 {
		return 0, fmt.Errorf("%w: example 0 has no features", ErrRaggedFeatures)
	}
	for i := 1; i < d.Size(); i++ {
		if l := len(d.Example(i).Features); l != width {
			return 0, fmt.Errorf("%w: example %d has %d features, expected %d", ErrRaggedFeatures, i, l, width)
		}
	}
	return width, nil
}

// Matrix stacks the features of the set, in original order, into a matrix.
func (d *DataSet) Matrix() *mat.Dense {
	return rowsMatrix(d.Size(), func(i int) []float64 { return d.Example(i).Features })
}

func (d *DataSet) Targets() []float64 {
	targets := make([]float64, d.Size())
	for i := range targets {
		targets[i] = d.Example(i).Target
	}
	return targets
}

func rowsMatrix(rows int, row func(i int) []float64) *mat.Dense {
	if rows == 0 {
		return &mat.Dense{}
	}
	cols := len(row(0))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		m.SetRow(i, row(i))
	}
	return m
}
