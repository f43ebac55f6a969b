package pkg

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"attrition/pkg/model"
)

// GroupCount is the number of records sharing an attribute value
type GroupCount struct {
	Name  string
	Count int
}

// GroupRate is the attrition rate of the records sharing an attribute value
type GroupRate struct {
	Name      string
	Total     int
	Attrition int
	Rate      float64
}

// Bucket is a labelled histogram bin
type Bucket struct {
	Label string
	Count int
}

// Summary holds the corpus level statistics shown next to the model
type Summary struct {
	TotalEmployees    int
	AttritionCount    int
	AttritionRate     float64
	AvgAge            float64
	AvgYearsAtCompany float64
	AvgMonthlyIncome  float64
	TopDepartments    []GroupCount
	AgeDistribution   []Bucket
	SalaryBuckets     []Bucket
}

// Summarize computes the corpus statistics. The records must carry labels.
func Summarize(records []model.Record, schema model.Schema) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, fmt.Errorf("empty corpus")
	}

	s := Summary{TotalEmployees: len(records)}
	ages := make([]float64, len(records))
	years := make([]float64, len(records))
	incomes := make([]float64, len(records))
	departments := map[string]int{}

	for i, r := range records {
		if left(r, schema) {
			s.AttritionCount++
		}
		var err error
		if ages[i], err = numeric(r, "Age"); err != nil {
			return Summary{}, err
		}
		if years[i], err = numeric(r, "YearsAtCompany"); err != nil {
			return Summary{}, err
		}
		if incomes[i], err = numeric(r, "MonthlyIncome"); err != nil {
			return Summary{}, err
		}
		department, _ := r.Category("Department")
		departments[department]++
	}

	s.AttritionRate = float64(s.AttritionCount) / float64(len(records))
	s.AvgAge = stat.Mean(ages, nil)
	s.AvgYearsAtCompany = stat.Mean(years, nil)
	s.AvgMonthlyIncome = stat.Mean(incomes, nil)
	s.TopDepartments = topGroups(departments, 3)
	s.AgeDistribution = AgeDistribution(ages)
	s.SalaryBuckets = SalaryDistribution(incomes)
	return s, nil
}

// AttritionBy groups the records by the value of an attribute, in first-seen order.
func AttritionBy(records []model.Record, schema model.Schema, attribute string) ([]GroupRate, error) {
	var groups []GroupRate
	index := map[string]int{}
	for _, r := range records {
		value, ok := r.Category(attribute)
		if !ok {
			v, ok := r.Value(attribute)
			if !ok {
				return nil, fmt.Errorf("%w: %s", model.ErrMissingAttribute, attribute)
			}
			value = strconv.FormatFloat(v, 'f', -1, 64)
		}
		i, ok := index[value]
		if !ok {
			i = len(groups)
			index[value] = i
			groups = append(groups, GroupRate{Name: value})
		}
		groups[i].Total++
		if left(r, schema) {
			groups[i].Attrition++
		}
	}
	for i := range groups {
		groups[i].Rate = float64(groups[i].Attrition) / float64(groups[i].Total)
	}
	return groups, nil
}

func AgeDistribution(ages []float64) []Bucket {
	buckets := []Bucket{{Label: "18-25"}, {Label: "26-35"}, {Label: "36-45"}, {Label: "46-55"}, {Label: "56+"}}
	for _, age := range ages {
		switch {
		case age <= 25:
			buckets[0].Count++
		case age <= 35:
			buckets[1].Count++
		case age <= 45:
			buckets[2].Count++
		case age <= 55:
			buckets[3].Count++
		default:
			buckets[4].Count++
		}
	}
	return buckets
}

func SalaryDistribution(incomes []float64) []Bucket {
	buckets := []Bucket{{Label: "<5K"}, {Label: "5K-10K"}, {Label: "10K-15K"}, {Label: "15K-20K"}, {Label: ">20K"}}
	for _, income := range incomes {
		switch {
		case income < 5000:
			buckets[0].Count++
		case income < 10000:
			buckets[1].Count++
		case income < 15000:
			buckets[2].Count++
		case income < 20000:
			buckets[3].Count++
		default:
			buckets[4].Count++
		}
	}
	return buckets
}

func left(r model.Record, schema model.Schema) bool {
	label, ok := r.Label()
	return ok && label == schema.Positive
}

func numeric(r model.Record, attribute string) (float64, error) {
	v, ok := r.Value(attribute)
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrMissingAttribute, attribute)
	}
	return v, nil
}

func topGroups(counts map[string]int, n int) []GroupCount {
	groups := make([]GroupCount, 0, len(counts))
	for name, count := range counts {
		groups = append(groups, GroupCount{Name: name, Count: count})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Name < groups[j].Name
	})
	if len(groups) > n {
		groups = groups[:n]
	}
	return groups
}
