package model

import (
	"errors"
	"fmt"
	"math"
)

var ErrUnseenCategory = errors.New("unseen category")

// UnknownCategory is the reserved table entry used by the UnknownBucket policy.
const UnknownCategory = "<unknown>"

// UnseenPolicy decides how a categorical value absent from the encoding table is encoded.
type UnseenPolicy int

const (
	// RejectUnseen fails the encoding with ErrUnseenCategory
	RejectUnseen UnseenPolicy = iota
	// UnknownBucket maps the value to the reserved UnknownCategory index
	UnknownBucket
)

func ParseUnseenPolicy(s string) (UnseenPolicy, error) {
	switch s {
	case "", "reject":
		return RejectUnseen, nil
	case "unknown":
		return UnknownBucket, nil
	default:
		return RejectUnseen, fmt.Errorf("invalid unseen category policy %q (want reject or unknown)", s)
	}
}

func (p UnseenPolicy) String() string {
	if p == UnknownBucket {
		return "unknown"
	}
	return "reject"
}

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// ValueFor returns the index of name, assigning the next free index if name was never seen.
func (f NameMap) ValueFor(name string) int {
	index, ok := f.NameToIndex[name]
	if !ok {
		index = f.Size()
		f.Set(name, index)
	}
	return index
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

// Range is the observed (min, max) of a numeric attribute
type Range struct {
	Min float64
	Max float64
}

// Normalize rescales v to the observed range. Values outside the range are not clamped.
func (r Range) Normalize(v float64) float64 {
	span := r.Max - r.Min
	if span == 0 {
		span = 1
	}
	return (v - r.Min) / span
}

// EncodingTable maps a categorical attribute to its value index table
type EncodingTable map[string]NameMap

// NormalizationRanges maps a numeric attribute to its observed range
type NormalizationRanges map[string]Range

// Metadata holds everything needed to turn a Record into a feature vector. It is built once
// per corpus and shared by training, evaluation and inference.
type Metadata struct {
	Schema Schema

	// Features is the attribute order of every encoded vector
	Features []string

	Categorical EncodingTable
	Numeric     NormalizationRanges

	UnseenPolicy UnseenPolicy
}

// BuildMetadata computes the encoding tables and normalization ranges over the full corpus.
func BuildMetadata(records []Record, schema Schema, policy UnseenPolicy) (*Metadata, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("cannot build encoding tables from an empty corpus")
	}

	m := &Metadata{
		Schema:       schema,
		Features:     append([]string(nil), schema.Features...),
		Categorical:  EncodingTable{},
		Numeric:      NormalizationRanges{},
		UnseenPolicy: policy,
	}

	for _, attribute := range schema.Features {
		if schema.IsCategorical(attribute) {
			m.Categorical[attribute] = NewNameMap()
		} else {
			m.Numeric[attribute] = Range{Min: math.Inf(1), Max: math.Inf(-1)}
		}
	}

	for i, r := range records {
		for attribute, table := range m.Categorical {
			value, ok := r.Category(attribute)
			if !ok {
				return nil, fmt.Errorf("record %d: %w: %s", i, ErrMissingAttribute, attribute)
			}
			table.ValueFor(value)
		}
		for attribute, rng := range m.Numeric {
			value, ok := r.Value(attribute)
			if !ok {
				return nil, fmt.Errorf("record %d: %w: %s", i, ErrMissingAttribute, attribute)
			}
			m.Numeric[attribute] = Range{Min: math.Min(rng.Min, value), Max: math.Max(rng.Max, value)}
		}
	}

	if policy == UnknownBucket {
		for _, table := range m.Categorical {
			if _, ok := table.ContainsName(UnknownCategory); !ok {
				table.Set(UnknownCategory, table.Size())
			}
		}
	}

	return m, nil
}

func (m *Metadata) FeatureCount() int {
	return len(m.Features)
}

// Encode converts a record to a feature vector in Features order.
func (m *Metadata) Encode(r Record) ([]float64, error) {
	vector := make([]float64, len(m.Features))
	for i, attribute := range m.Features {
		if table, ok := m.Categorical[attribute]; ok {
			value, ok := r.Category(attribute)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingAttribute, attribute)
			}
			index, ok := table.ContainsName(value)
			if !ok {
				if m.UnseenPolicy != UnknownBucket {
					return nil, fmt.Errorf("%w %q for attribute %s", ErrUnseenCategory, value, attribute)
				}
				index = table.NameToIndex[UnknownCategory]
			}
			vector[i] = float64(index)
			continue
		}
		value, ok := r.Value(attribute)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingAttribute, attribute)
		}
		vector[i] = m.Numeric[attribute].Normalize(value)
	}
	return vector, nil
}

// Target encodes the record label: 1 for the positive literal, 0 otherwise.
func (m *Metadata) Target(r Record) (float64, error) {
	label, ok := r.Label()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingAttribute, m.Schema.Label)
	}
	if label == m.Schema.Positive {
		return 1, nil
	}
	return 0, nil
}
