package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrMissingAttribute = errors.New("missing attribute")
	ErrInvalidNumber    = errors.New("invalid numeric value")
)

// Schema describes which attributes of a raw record are used as features, which of them are
// categorical, and which attribute holds the label.
type Schema struct {
	// Features lists the feature attributes in vector order
	Features []string

	// Categorical lists the subset of Features holding string values
	Categorical []string

	// Label is the attribute holding the binary target
	Label string

	// Positive is the label value encoded as 1
	Positive string
}

// AttritionSchema returns the schema of the employee attrition corpus.
func AttritionSchema() Schema {
	return Schema{
		Features: []string{
			"Age", "BusinessTravel", "DailyRate", "Department", "DistanceFromHome",
			"Education", "EducationField", "EnvironmentSatisfaction", "Gender",
			"JobInvolvement", "JobLevel", "JobRole", "JobSatisfaction",
			"MaritalStatus", "MonthlyIncome", "NumCompaniesWorked", "OverTime",
			"PercentSalaryHike", "PerformanceRating", "RelationshipSatisfaction",
			"StockOptionLevel", "TotalWorkingYears", "TrainingTimesLastYear",
			"WorkLifeBalance", "YearsAtCompany", "YearsInCurrentRole",
			"YearsSinceLastPromotion", "YearsWithCurrManager",
		},
		Categorical: []string{
			"BusinessTravel", "Department", "EducationField",
			"Gender", "JobRole", "MaritalStatus", "OverTime",
		},
		Label:    "Attrition",
		Positive: "Yes",
	}
}

func (s Schema) IsCategorical(attribute string) bool {
	for _, c := range s.Categorical {
		if c == attribute {
			return true
		}
	}
	return false
}

// Validate checks that the schema is internally consistent.
func (s Schema) Validate() error {
	if len(s.Features) == 0 {
		return errors.New("schema has no feature attributes")
	}
	if s.Label == "" {
		return errors.New("schema has no label attribute")
	}
	seen := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if seen[f] {
			return fmt.Errorf("duplicate feature attribute %s", f)
		}
		if f == s.Label {
			return fmt.Errorf("label attribute %s cannot be a feature", f)
		}
		seen[f] = true
	}
	for _, c := range s.Categorical {
		if !seen[c] {
			return fmt.Errorf("categorical attribute %s is not a feature", c)
		}
	}
	return nil
}

// Record is a validated raw record. Categorical and numeric attributes are split at
// construction time; a Record is never modified afterwards.
type Record struct {
	categorical map[string]string
	numeric     map[string]float64
	label       string
	labeled     bool
}

func (r Record) Category(attribute string) (string, bool) {
	v, ok := r.categorical[attribute]
	return v, ok
}

func (r Record) Value(attribute string) (float64, bool) {
	v, ok := r.numeric[attribute]
	return v, ok
}

// Label returns the raw label value and whether the record carries one.
func (r Record) Label() (string, bool) {
	return r.label, r.labeled
}

// ParseRecord builds a labeled record from raw string fields. Every feature attribute and the
// label must be present, numeric attributes must parse as numbers.
func (s Schema) ParseRecord(fields map[string]string) (Record, error) {
	label, ok := fields[s.Label]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrMissingAttribute, s.Label)
	}
	r, err := s.parseFeatures(fields)
	if err != nil {
		return Record{}, err
	}
	r.label = strings.TrimSpace(label)
	r.labeled = true
	return r, nil
}

// ParseInput builds a record used for prediction. The label is optional.
func (s Schema) ParseInput(fields map[string]string) (Record, error) {
	r, err := s.parseFeatures(fields)
	if err != nil {
		return Record{}, err
	}
	if label, ok := fields[s.Label]; ok {
		r.label = strings.TrimSpace(label)
		r.labeled = true
	}
	return r, nil
}

func (s Schema) parseFeatures(fields map[string]string) (Record, error) {
	r := Record{
		categorical: make(map[string]string, len(s.Categorical)),
		numeric:     make(map[string]float64, len(s.Features)-len(s.Categorical)),
	}
	for _, attribute := range s.Features {
		raw, ok := fields[attribute]
		if !ok {
			return Record{}, fmt.Errorf("%w: %s", ErrMissingAttribute, attribute)
		}
		raw = strings.TrimSpace(raw)
		if s.IsCategorical(attribute) {
			r.categorical[attribute] = raw
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return Record{}, fmt.Errorf("%w for %s: %q", ErrInvalidNumber, attribute, raw)
		}
		r.numeric[attribute] = value
	}
	return r, nil
}
