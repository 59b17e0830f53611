package evaluate

import (
	"math"
	"strconv"
	"strings"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

// Observation is one typed reading ready for comparison.
type Observation struct {
	Type db.ValueType
	Num  float64
	Bool bool
	Str  string
}

// Text renders the observation the way ingest stores values.
func (o Observation) Text() string {
	switch o.Type {
	case db.ValueTypeNumber:
		return strconv.FormatFloat(o.Num, 'f', -1, 64)
	case db.ValueTypeBool:
		return strconv.FormatBool(o.Bool)
	}
	return o.Str
}

// ParseObservation turns the stored text rendering of a value back into a
// typed observation. ok=false means the value cannot be judged (unparsable
// or NaN) and the subject goes UNKNOWN.
func ParseObservation(valueType db.ValueType, text string) (Observation, bool) {
	switch valueType {
	case db.ValueTypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil || math.IsNaN(n) {
			return Observation{}, false
		}
		return Observation{Type: db.ValueTypeNumber, Num: n}, true
	case db.ValueTypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Observation{}, false
		}
		return Observation{Type: db.ValueTypeBool, Bool: b}, true
	case db.ValueTypeString:
		return Observation{Type: db.ValueTypeString, Str: text}, true
	}
	return Observation{}, false
}

// Compare judges an observation against a threshold. breached is only
// meaningful when ok is true; ok=false covers type mismatches, NaN, and
// comparisons outside the closed set for the value type.
func Compare(obs Observation, t *db.Threshold) (breached bool, ok bool) {
	switch obs.Type {
	case db.ValueTypeNumber:
		if t.ValueNum == nil || math.IsNaN(obs.Num) {
			return false, false
		}
		want := *t.ValueNum
		switch t.Comparison {
		case db.ComparisonGT:
			return obs.Num > want, true
		case db.ComparisonLT:
			return obs.Num < want, true
		case db.ComparisonGE:
			return obs.Num >= want, true
		case db.ComparisonLE:
			return obs.Num <= want, true
		case db.ComparisonEQ:
			return obs.Num == want, true
		case db.ComparisonNE:
			return obs.Num != want, true
		}
		return false, false

	case db.ValueTypeBool:
		if t.ValueBool == nil {
			return false, false
		}
		switch t.Comparison {
		case db.ComparisonEQ:
			return obs.Bool == *t.ValueBool, true
		case db.ComparisonNE:
			return obs.Bool != *t.ValueBool, true
		}
		return false, false

	case db.ValueTypeString:
		if t.ValueStr == nil {
			return false, false
		}
		switch t.Comparison {
		case db.ComparisonEQ:
			return obs.Str == *t.ValueStr, true
		case db.ComparisonNE:
			return obs.Str != *t.ValueStr, true
		case db.ComparisonContains:
			return strings.Contains(obs.Str, *t.ValueStr), true
		}
		return false, false
	}

	return false, false
}

// ValidComparison reports whether the comparison is inside the closed set
// for the value type. The API rejects thresholds outside it.
func ValidComparison(valueType db.ValueType, cmp db.Comparison) bool {
	switch valueType {
	case db.ValueTypeNumber:
		switch cmp {
		case db.ComparisonGT, db.ComparisonLT, db.ComparisonGE,
			db.ComparisonLE, db.ComparisonEQ, db.ComparisonNE:
			return true
		}
	case db.ValueTypeBool:
		switch cmp {
		case db.ComparisonEQ, db.ComparisonNE:
			return true
		}
	case db.ValueTypeString:
		switch cmp {
		case db.ComparisonEQ, db.ComparisonNE, db.ComparisonContains:
			return true
		}
	}
	return false
}

// ThresholdValueText renders the configured bound for titles and messages.
func ThresholdValueText(t *db.Threshold) string {
	switch {
	case t.ValueNum != nil:
		return strconv.FormatFloat(*t.ValueNum, 'f', -1, 64)
	case t.ValueBool != nil:
		return strconv.FormatBool(*t.ValueBool)
	case t.ValueStr != nil:
		return *t.ValueStr
	}
	return ""
}
