package evaluate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func numThreshold(cmp db.Comparison, bound float64) *db.Threshold {
	return &db.Threshold{Comparison: cmp, ValueNum: &bound}
}

func boolThreshold(cmp db.Comparison, bound bool) *db.Threshold {
	return &db.Threshold{Comparison: cmp, ValueBool: &bound}
}

func strThreshold(cmp db.Comparison, bound string) *db.Threshold {
	return &db.Threshold{Comparison: cmp, ValueStr: &bound}
}

func TestCompare_Number(t *testing.T) {
	tests := []struct {
		name     string
		cmp      db.Comparison
		bound    float64
		observed float64
		breached bool
	}{
		{"gt above", db.ComparisonGT, 90, 95.5, true},
		{"gt equal", db.ComparisonGT, 90, 90, false},
		{"gt below", db.ComparisonGT, 90, 42, false},
		{"lt below", db.ComparisonLT, 10, 2, true},
		{"lt equal", db.ComparisonLT, 10, 10, false},
		{"ge equal", db.ComparisonGE, 90, 90, true},
		{"ge below", db.ComparisonGE, 90, 89.999, false},
		{"le equal", db.ComparisonLE, 10, 10, true},
		{"le above", db.ComparisonLE, 10, 10.001, false},
		{"eq equal", db.ComparisonEQ, 0, 0, true},
		{"eq different", db.ComparisonEQ, 0, 0.1, false},
		{"ne different", db.ComparisonNE, 1, 0, true},
		{"ne equal", db.ComparisonNE, 1, 1, false},
		{"negative bound", db.ComparisonLT, -5, -10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := Observation{Type: db.ValueTypeNumber, Num: tt.observed}
			breached, ok := Compare(obs, numThreshold(tt.cmp, tt.bound))
			require.True(t, ok)
			require.Equal(t, tt.breached, breached)
		})
	}
}

func TestCompare_Bool(t *testing.T) {
	obs := Observation{Type: db.ValueTypeBool, Bool: true}

	breached, ok := Compare(obs, boolThreshold(db.ComparisonEQ, true))
	require.True(t, ok)
	require.True(t, breached)

	breached, ok = Compare(obs, boolThreshold(db.ComparisonNE, true))
	require.True(t, ok)
	require.False(t, breached)

	// gt makes no sense for bools
	_, ok = Compare(obs, boolThreshold(db.ComparisonGT, true))
	require.False(t, ok)
}

func TestCompare_String(t *testing.T) {
	obs := Observation{Type: db.ValueTypeString, Str: "disk degraded on sda"}

	breached, ok := Compare(obs, strThreshold(db.ComparisonContains, "degraded"))
	require.True(t, ok)
	require.True(t, breached)

	breached, ok = Compare(obs, strThreshold(db.ComparisonEQ, "degraded"))
	require.True(t, ok)
	require.False(t, breached)

	breached, ok = Compare(obs, strThreshold(db.ComparisonNE, "degraded"))
	require.True(t, ok)
	require.True(t, breached)
}

func TestCompare_Unjudgeable(t *testing.T) {
	// NaN never breaches and never resolves either
	nan := Observation{Type: db.ValueTypeNumber, Num: math.NaN()}
	_, ok := Compare(nan, numThreshold(db.ComparisonGT, 0))
	require.False(t, ok)

	// bound of the wrong type for the observation
	num := Observation{Type: db.ValueTypeNumber, Num: 1}
	_, ok = Compare(num, boolThreshold(db.ComparisonEQ, true))
	require.False(t, ok)

	// contains is string-only
	_, ok = Compare(num, numThreshold(db.ComparisonContains, 1))
	require.False(t, ok)
}

func TestParseObservation(t *testing.T) {
	obs, ok := ParseObservation(db.ValueTypeNumber, "42.5")
	require.True(t, ok)
	require.Equal(t, 42.5, obs.Num)

	obs, ok = ParseObservation(db.ValueTypeNumber, " 7 ")
	require.True(t, ok)
	require.Equal(t, 7.0, obs.Num)

	_, ok = ParseObservation(db.ValueTypeNumber, "NaN")
	require.False(t, ok)

	_, ok = ParseObservation(db.ValueTypeNumber, "not a number")
	require.False(t, ok)

	obs, ok = ParseObservation(db.ValueTypeBool, "true")
	require.True(t, ok)
	require.True(t, obs.Bool)

	_, ok = ParseObservation(db.ValueTypeBool, "maybe")
	require.False(t, ok)

	obs, ok = ParseObservation(db.ValueTypeString, "raid: ok")
	require.True(t, ok)
	require.Equal(t, "raid: ok", obs.Str)
}

func TestValidComparison(t *testing.T) {
	tests := []struct {
		valueType db.ValueType
		cmp       db.Comparison
		want      bool
	}{
		{db.ValueTypeNumber, db.ComparisonGT, true},
		{db.ValueTypeNumber, db.ComparisonLT, true},
		{db.ValueTypeNumber, db.ComparisonGE, true},
		{db.ValueTypeNumber, db.ComparisonLE, true},
		{db.ValueTypeNumber, db.ComparisonEQ, true},
		{db.ValueTypeNumber, db.ComparisonNE, true},
		{db.ValueTypeNumber, db.ComparisonContains, false},
		{db.ValueTypeBool, db.ComparisonEQ, true},
		{db.ValueTypeBool, db.ComparisonNE, true},
		{db.ValueTypeBool, db.ComparisonGT, false},
		{db.ValueTypeBool, db.ComparisonContains, false},
		{db.ValueTypeString, db.ComparisonEQ, true},
		{db.ValueTypeString, db.ComparisonNE, true},
		{db.ValueTypeString, db.ComparisonContains, true},
		{db.ValueTypeString, db.ComparisonGE, false},
		{"unknown", db.ComparisonEQ, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.valueType)+" "+string(tt.cmp), func(t *testing.T) {
			require.Equal(t, tt.want, ValidComparison(tt.valueType, tt.cmp))
		})
	}
}

func TestObservationText(t *testing.T) {
	require.Equal(t, "42.5", Observation{Type: db.ValueTypeNumber, Num: 42.5}.Text())
	require.Equal(t, "true", Observation{Type: db.ValueTypeBool, Bool: true}.Text())
	require.Equal(t, "up", Observation{Type: db.ValueTypeString, Str: "up"}.Text())
}

func TestThresholdValueText(t *testing.T) {
	require.Equal(t, "90", ThresholdValueText(numThreshold(db.ComparisonGT, 90)))
	require.Equal(t, "false", ThresholdValueText(boolThreshold(db.ComparisonEQ, false)))
	require.Equal(t, "degraded", ThresholdValueText(strThreshold(db.ComparisonContains, "degraded")))
	require.Equal(t, "", ThresholdValueText(&db.Threshold{}))
}
