package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/healthmate/healthmate/internal/domain/healthdata"
)

// Record is a single row flowing through a pipeline.
type Record map[string]interface{}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Quality dimensions.
const (
	DimCompleteness = "completeness"
	DimAccuracy     = "accuracy"
	DimConsistency  = "consistency"
	DimTimeliness   = "timeliness"
	DimValidity     = "validity"
)

// Quality levels.
const (
	LevelExcellent = "excellent"
	LevelGood      = "good"
	LevelFair      = "fair"
	LevelPoor      = "poor"
	LevelUnusable  = "unusable"
)

// QualityLevel buckets an overall score.
func QualityLevel(score float64) string {
	switch {
	case score >= 0.9:
		return LevelExcellent
	case score >= 0.75:
		return LevelGood
	case score >= 0.5:
		return LevelFair
	case score >= 0.25:
		return LevelPoor
	default:
		return LevelUnusable
	}
}

type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Cross-field rule kinds.
const (
	RuleGreaterThan = "greater_than" // Field > Other
	RuleNotBefore   = "not_before"   // Field >= Other, both timestamps
	RuleMetricUnit  = "metric_unit"  // Other holds the canonical unit of metric Field
)

type ConsistencyRule struct {
	Kind  string `json:"kind" yaml:"kind"`
	Field string `json:"field" yaml:"field"`
	Other string `json:"other" yaml:"other"`
}

// Schema declares what a well-formed record looks like.
type Schema struct {
	Required       []string            `json:"required,omitempty" yaml:"required,omitempty"`
	Ranges         map[string]Range    `json:"ranges,omitempty" yaml:"ranges,omitempty"`
	Enums          map[string][]string `json:"enums,omitempty" yaml:"enums,omitempty"`
	TimestampField string              `json:"timestamp_field,omitempty" yaml:"timestamp_field,omitempty"`
	MaxAgeDays     int                 `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	KeyFields      []string            `json:"key_fields,omitempty" yaml:"key_fields,omitempty"`
	Rules          []ConsistencyRule   `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// HealthDataSchema describes rows of the health_data table.
func HealthDataSchema() Schema {
	return Schema{
		Required: []string{"user_id", "metric_type", "value", "unit", "recorded_at"},
		Enums:    map[string][]string{"metric_type": healthdata.MetricTypes()},
		Ranges: map[string]Range{
			"value": {Min: 0, Max: 200000},
		},
		TimestampField: "recorded_at",
		MaxAgeDays:     365,
		KeyFields:      []string{"user_id", "metric_type", "recorded_at"},
		Rules:          []ConsistencyRule{{Kind: RuleMetricUnit, Field: "metric_type", Other: "unit"}},
	}
}

type Weights struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
	Validity     float64 `json:"validity"`
}

func DefaultWeights() Weights {
	return Weights{Completeness: 0.25, Accuracy: 0.25, Consistency: 0.2, Timeliness: 0.15, Validity: 0.15}
}

func (w Weights) sum() float64 {
	return w.Completeness + w.Accuracy + w.Consistency + w.Timeliness + w.Validity
}

type Scores struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
	Validity     float64 `json:"validity"`
}

type Issue struct {
	Record    int    `json:"record"`
	Field     string `json:"field,omitempty"`
	Dimension string `json:"dimension"`
	Message   string `json:"message"`
}

// MaxIssues caps the issues listed in a report; the rest are only counted.
const MaxIssues = 200

type QualityReport struct {
	RecordCount  int       `json:"record_count"`
	Scores       Scores    `json:"scores"`
	OverallScore float64   `json:"overall_score"`
	Level        string    `json:"quality_level"`
	Issues       []Issue   `json:"issues"`
	IssueCount   int       `json:"issue_count"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// verdict is one record's outcome in one dimension. A record passes a
// dimension only when every check it was subject to passed.
type verdict struct{ checked, failed bool }

func (v *verdict) check(ok bool) bool {
	v.checked = true
	if !ok {
		v.failed = true
	}
	return ok
}

// tally counts passing and applicable records for one dimension.
type tally struct{ passed, total int }

func (t *tally) add(v verdict) {
	if !v.checked {
		return
	}
	t.total++
	if !v.failed {
		t.passed++
	}
}

// score is 1.0 when no record was subject to a check.
func (t tally) score() float64 {
	if t.total == 0 {
		return 1
	}
	return float64(t.passed) / float64(t.total)
}

// DataValidator scores record batches against a Schema. Each dimension is the
// fraction of records passing it, among records it applies to.
type DataValidator struct {
	Weights Weights
	Now     func() time.Time
}

func NewDataValidator() *DataValidator {
	return &DataValidator{Weights: DefaultWeights(), Now: time.Now}
}

// Validate scores records. An empty batch scores 0.
func (v *DataValidator) Validate(records []Record, schema Schema) *QualityReport {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	rep := &QualityReport{RecordCount: len(records), Issues: []Issue{}, EvaluatedAt: now().UTC()}
	if len(records) == 0 {
		rep.Level = LevelUnusable
		return rep
	}

	var compT, accT, consT, tmlT, valT tally
	issue := func(i int, field, dim, format string, args ...interface{}) {
		rep.IssueCount++
		if len(rep.Issues) < MaxIssues {
			rep.Issues = append(rep.Issues, Issue{Record: i, Field: field, Dimension: dim, Message: fmt.Sprintf(format, args...)})
		}
	}

	rangeFields := sortedKeys(schema.Ranges)
	enumFields := sortedKeys(schema.Enums)
	seen := make(map[string]int)

	for i, rec := range records {
		var comp, acc, cons, tml, val verdict

		for _, f := range schema.Required {
			if !comp.check(present(rec[f])) {
				issue(i, f, DimCompleteness, "required field is missing")
			}
		}

		for _, f := range rangeFields {
			raw, ok := rec[f]
			if !ok || raw == nil {
				continue
			}
			n, isNum := toFloat(raw)
			if !val.check(isNum) {
				issue(i, f, DimValidity, "value %v is not numeric", raw)
				continue
			}
			r := schema.Ranges[f]
			if !acc.check(n >= r.Min && n <= r.Max) {
				issue(i, f, DimAccuracy, "value %g outside [%g, %g]", n, r.Min, r.Max)
			}
		}

		for _, f := range enumFields {
			raw, ok := rec[f]
			if !ok || raw == nil {
				continue
			}
			s := fmt.Sprint(raw)
			if !val.check(lo.Contains(schema.Enums[f], s)) {
				issue(i, f, DimValidity, "%q is not an allowed value", s)
			}
		}

		if tf := schema.TimestampField; tf != "" {
			ts, parsed := toTime(rec[tf])
			if present(rec[tf]) && !val.check(parsed) {
				issue(i, tf, DimValidity, "timestamp %v is not parseable", rec[tf])
			}
			// A record without a usable timestamp cannot be shown to be fresh.
			fresh := parsed && !ts.After(now().Add(futureSkew))
			if fresh && schema.MaxAgeDays > 0 {
				fresh = now().Sub(ts) <= time.Duration(schema.MaxAgeDays)*24*time.Hour
			}
			if !tml.check(fresh) {
				issue(i, tf, DimTimeliness, "timestamp is missing, in the future or older than %d days", schema.MaxAgeDays)
			}
		}

		for _, rule := range schema.Rules {
			ok, applicable := evalRule(rule, rec)
			if !applicable {
				continue
			}
			if !cons.check(ok) {
				issue(i, rule.Field, DimConsistency, "rule %s(%s, %s) violated", rule.Kind, rule.Field, rule.Other)
			}
		}

		if len(schema.KeyFields) > 0 && lo.EveryBy(schema.KeyFields, func(f string) bool { return present(rec[f]) }) {
			key := recordKey(rec, schema.KeyFields)
			first, dup := seen[key]
			if !cons.check(!dup) {
				issue(i, strings.Join(schema.KeyFields, ","), DimConsistency, "duplicate of record %d", first)
			} else {
				seen[key] = i
			}
		}

		compT.add(comp)
		accT.add(acc)
		consT.add(cons)
		tmlT.add(tml)
		valT.add(val)
	}

	rep.Scores = Scores{
		Completeness: compT.score(),
		Accuracy:     accT.score(),
		Consistency:  consT.score(),
		Timeliness:   tmlT.score(),
		Validity:     valT.score(),
	}
	rep.OverallScore = v.overall(rep.Scores)
	rep.Level = QualityLevel(rep.OverallScore)
	return rep
}

func (v *DataValidator) overall(s Scores) float64 {
	w := v.Weights
	if w.sum() <= 0 {
		w = DefaultWeights()
	}
	total := w.Completeness*s.Completeness + w.Accuracy*s.Accuracy + w.Consistency*s.Consistency +
		w.Timeliness*s.Timeliness + w.Validity*s.Validity
	return total / w.sum()
}

const futureSkew = 5 * time.Minute

func evalRule(rule ConsistencyRule, rec Record) (ok, applicable bool) {
	a, b := rec[rule.Field], rec[rule.Other]
	if !present(a) || !present(b) {
		return false, false
	}
	switch rule.Kind {
	case RuleGreaterThan:
		x, ok1 := toFloat(a)
		y, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return false, true
		}
		return x > y, true
	case RuleNotBefore:
		x, ok1 := toTime(a)
		y, ok2 := toTime(b)
		if !ok1 || !ok2 {
			return false, true
		}
		return !x.Before(y), true
	case RuleMetricUnit:
		want := healthdata.CanonicalUnit(fmt.Sprint(a))
		if want == "" {
			return false, false
		}
		return strings.EqualFold(want, fmt.Sprint(b)), true
	}
	return false, false
}

func recordKey(rec Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if t, ok := toTime(rec[f]); ok {
			parts[i] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		parts[i] = fmt.Sprint(rec[f])
	}
	return strings.Join(parts, "\x00")
}

func present(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
