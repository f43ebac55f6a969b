package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		Features:    []string{"Age", "Department", "Income"},
		Categorical: []string{"Department"},
		Label:       "Attrition",
		Positive:    "Yes",
	}
}

func testRecords(t *testing.T, schema Schema) []Record {
	rows := []map[string]string{
		{"Age": "41", "Department": "Sales", "Income": "5993", "Attrition": "Yes"},
		{"Age": "49", "Department": "Research & Development", "Income": "5130", "Attrition": "No"},
		{"Age": "27", "Department": "Sales", "Income": "3000", "Attrition": "No"},
		{"Age": "59", "Department": "Human Resources", "Income": "3000", "Attrition": "Yes"},
	}
	records := make([]Record, len(rows))
	for i, row := range rows {
		r, err := schema.ParseRecord(row)
		require.NoError(t, err)
		records[i] = r
	}
	return records
}

func TestBuildMetadata(t *testing.T) {
	schema := testSchema()
	metaData, err := BuildMetadata(testRecords(t, schema), schema, RejectUnseen)
	require.NoError(t, err)
	require.Equal(t, 3, metaData.FeatureCount())

	departments := metaData.Categorical["Department"]
	require.Equal(t, 3, departments.Size())
	for name, index := range departments.NameToIndex {
		require.Equal(t, name, departments.IndexToName[index])
		require.True(t, index >= 0 && index < departments.Size())
	}
	index, ok := departments.ContainsName("Sales")
	require.True(t, ok)
	require.Equal(t, 0, index)
	index, _ = departments.ContainsName("Human Resources")
	require.Equal(t, 2, index)

	require.Equal(t, Range{Min: 27, Max: 59}, metaData.Numeric["Age"])
	require.Equal(t, Range{Min: 3000, Max: 5993}, metaData.Numeric["Income"])
}

func TestEncode(t *testing.T) {
	schema := testSchema()
	records := testRecords(t, schema)
	metaData, err := BuildMetadata(records, schema, RejectUnseen)
	require.NoError(t, err)

	youngest, err := metaData.Encode(records[2])
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0}, youngest)

	oldest, err := metaData.Encode(records[3])
	require.NoError(t, err)
	require.Equal(t, 1.0, oldest[0])
	require.Equal(t, 2.0, oldest[1])

	again, err := metaData.Encode(records[3])
	require.NoError(t, err)
	require.Equal(t, oldest, again)

	target, err := metaData.Target(records[0])
	require.NoError(t, err)
	require.Equal(t, 1.0, target)
	target, err = metaData.Target(records[1])
	require.NoError(t, err)
	require.Equal(t, 0.0, target)
}

func TestEncodeConstantColumn(t *testing.T) {
	schema := Schema{Features: []string{"Hours"}, Label: "Attrition", Positive: "Yes"}
	var records []Record
	for _, label := range []string{"Yes", "No"} {
		r, err := schema.ParseRecord(map[string]string{"Hours": "80", "Attrition": label})
		require.NoError(t, err)
		records = append(records, r)
	}
	metaData, err := BuildMetadata(records, schema, RejectUnseen)
	require.NoError(t, err)

	v, err := metaData.Encode(records[0])
	require.NoError(t, err)
	require.Equal(t, []float64{0}, v)
}

func TestEncodeUnseenCategory(t *testing.T) {
	schema := testSchema()
	records := testRecords(t, schema)
	input, err := schema.ParseInput(map[string]string{"Age": "30", "Department": "Legal", "Income": "4000"})
	require.NoError(t, err)

	tests := []struct {
		policy   UnseenPolicy
		expected float64
		err      error
	}{
		{policy: RejectUnseen, err: ErrUnseenCategory},
		{policy: UnknownBucket, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			metaData, err := BuildMetadata(records, schema, tt.policy)
			require.NoError(t, err)
			v, err := metaData.Encode(input)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, v[1])
			require.Equal(t, UnknownCategory, metaData.Categorical["Department"].IndexToName[3])
		})
	}
}

func TestParseRecord(t *testing.T) {
	schema := testSchema()

	_, err := schema.ParseRecord(map[string]string{"Age": "30", "Department": "Sales", "Attrition": "No"})
	require.ErrorIs(t, err, ErrMissingAttribute)

	for _, raw := range []string{"thirty", "NaN", "Inf", "-Inf", "+infinity"} {
		_, err = schema.ParseRecord(map[string]string{"Age": raw, "Department": "Sales", "Income": "1", "Attrition": "No"})
		require.ErrorIs(t, err, ErrInvalidNumber, raw)
	}

	_, err = schema.ParseRecord(map[string]string{"Age": "30", "Department": "Sales", "Income": "1"})
	require.ErrorIs(t, err, ErrMissingAttribute)

	r, err := schema.ParseInput(map[string]string{"Age": " 30 ", "Department": "Sales", "Income": "1"})
	require.NoError(t, err)
	_, labeled := r.Label()
	require.False(t, labeled)
	age, ok := r.Value("Age")
	require.True(t, ok)
	require.Equal(t, 30.0, age)
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, AttritionSchema().Validate())
	require.Len(t, AttritionSchema().Features, 28)

	bad := testSchema()
	bad.Categorical = append(bad.Categorical, "Gender")
	require.Error(t, bad.Validate())

	bad = testSchema()
	bad.Features = append(bad.Features, "Attrition")
	require.Error(t, bad.Validate())
}

func TestParseUnseenPolicy(t *testing.T) {
	p, err := ParseUnseenPolicy("unknown")
	require.NoError(t, err)
	require.Equal(t, UnknownBucket, p)
	p, err = ParseUnseenPolicy("")
	require.NoError(t, err)
	require.Equal(t, RejectUnseen, p)
	_, err = ParseUnseenPolicy("drop")
	require.Error(t, err)
}

func TestBuildMetadataIdempotent(t *testing.T) {
	schema := testSchema()
	records := testRecords(t, schema)
	first, err := BuildMetadata(records, schema, UnknownBucket)
	require.NoError(t, err)
	second, err := BuildMetadata(records, schema, UnknownBucket)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = BuildMetadata(nil, schema, RejectUnseen)
	require.Error(t, err)
}
