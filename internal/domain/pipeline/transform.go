package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Transform operations.
const (
	OpTrim      = "trim"
	OpLower     = "lower"
	OpUpper     = "upper"
	OpToFloat   = "to_float"
	OpRound     = "round"
	OpConvert   = "convert"
	OpClamp     = "clamp"
	OpDefault   = "default"
	OpTimestamp = "timestamp"
	OpRename    = "rename"
	OpDrop      = "drop"
)

// Rule is one normalization step applied to Field. Which of the optional
// arguments are read depends on Op.
type Rule struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`

	Digits    int         `json:"digits,omitempty" yaml:"digits,omitempty"`
	From      string      `json:"from,omitempty" yaml:"from,omitempty"`
	To        string      `json:"to,omitempty" yaml:"to,omitempty"`
	UnitField string      `json:"unit_field,omitempty" yaml:"unit_field,omitempty"`
	Min       *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

func (r Rule) validate() error {
	if r.Field == "" {
		return fmt.Errorf("rule %q: field is required", r.Op)
	}
	switch r.Op {
	case OpTrim, OpLower, OpUpper, OpToFloat, OpTimestamp, OpDrop:
	case OpRound:
		if r.Digits < 0 || r.Digits > 10 {
			return fmt.Errorf("rule round(%s): digits must be 0-10", r.Field)
		}
	case OpConvert:
		if _, ok := conversion(r.From, r.To); !ok {
			return fmt.Errorf("rule convert(%s): no conversion from %q to %q", r.Field, r.From, r.To)
		}
	case OpClamp:
		if r.Min == nil && r.Max == nil {
			return fmt.Errorf("rule clamp(%s): min or max is required", r.Field)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("rule clamp(%s): min > max", r.Field)
		}
	case OpDefault:
		if r.Value == nil {
			return fmt.Errorf("rule default(%s): value is required", r.Field)
		}
	case OpRename:
		if r.To == "" {
			return fmt.Errorf("rule rename(%s): target is required", r.Field)
		}
	default:
		return fmt.Errorf("unknown transform op %q", r.Op)
	}
	return nil
}

type unitPair struct{ from, to string }

var conversions = map[unitPair]func(float64) float64{
	{"lb", "kg"}:        func(v float64) float64 { return v * 0.45359237 },
	{"kg", "lb"}:        func(v float64) float64 { return v / 0.45359237 },
	{"in", "cm"}:        func(v float64) float64 { return v * 2.54 },
	{"cm", "in"}:        func(v float64) float64 { return v / 2.54 },
	{"f", "c"}:          func(v float64) float64 { return (v - 32) * 5 / 9 },
	{"c", "f"}:          func(v float64) float64 { return v*9/5 + 32 },
	{"mmol/l", "mg/dl"}: func(v float64) float64 { return v * 18.0182 },
	{"mg/dl", "mmol/l"}: func(v float64) float64 { return v / 18.0182 },
}

func normUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	return strings.TrimPrefix(u, "°")
}

func conversion(from, to string) (func(float64) float64, bool) {
	fn, ok := conversions[unitPair{normUnit(from), normUnit(to)}]
	return fn, ok
}

// RecordError reports why a record could not be transformed.
type RecordError struct {
	Record int    `json:"record"`
	Field  string `json:"field"`
	Op     string `json:"op"`
	Error  string `json:"error"`
}

type TransformResult struct {
	Records []Record      `json:"records"`
	Input   int           `json:"input"`
	Output  int           `json:"output"`
	Dropped int           `json:"dropped"`
	Errors  []RecordError `json:"errors"`
}

// DataTransformer applies Rules in order to every record. Input records are
// not modified.
type DataTransformer struct {
	Rules []Rule
	// DropOnError discards a record at its first failing rule; otherwise the
	// record is kept with the fields transformed so far.
	DropOnError bool
}

// NewDataTransformer validates rules up front.
func NewDataTransformer(rules []Rule, dropOnError bool) (*DataTransformer, error) {
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return &DataTransformer{Rules: rules, DropOnError: dropOnError}, nil
}

func (t *DataTransformer) Transform(records []Record) *TransformResult {
	res := &TransformResult{Records: make([]Record, 0, len(records)), Input: len(records), Errors: []RecordError{}}
	for i, in := range records {
		rec := in.clone()
		failed := false
		for _, rule := range t.Rules {
			if err := applyRule(rec, rule); err != nil {
				res.Errors = append(res.Errors, RecordError{Record: i, Field: rule.Field, Op: rule.Op, Error: err.Error()})
				failed = true
				if t.DropOnError {
					break
				}
			}
		}
		if failed && t.DropOnError {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	res.Output = len(res.Records)
	return res
}

func applyRule(rec Record, r Rule) error {
	v, ok := rec[r.Field]
	if r.Op == OpDefault {
		if !present(v) {
			rec[r.Field] = r.Value
		}
		return nil
	}
	if r.Op == OpDrop {
		delete(rec, r.Field)
		return nil
	}
	// Missing fields are left for the validator to report.
	if !ok || v == nil {
		return nil
	}

	switch r.Op {
	case OpTrim, OpLower, OpUpper:
		s, isStr := v.(string)
		if !isStr {
			return fmt.Errorf("expected string, got %T", v)
		}
		switch r.Op {
		case OpTrim:
			s = strings.TrimSpace(s)
		case OpLower:
			s = strings.ToLower(s)
		default:
			s = strings.ToUpper(s)
		}
		rec[r.Field] = s
	case OpToFloat:
		f, isNum := toFloat(v)
		if !isNum {
			return fmt.Errorf("cannot parse %v as number", v)
		}
		rec[r.Field] = f
	case OpRound:
		f, isNum := toFloat(v)
		if !isNum {
			return fmt.Errorf("cannot parse %v as number", v)
		}
		p := math.Pow(10, float64(r.Digits))
		rec[r.Field] = math.Round(f*p) / p
	case OpConvert:
		if r.UnitField != "" && normUnit(fmt.Sprint(rec[r.UnitField])) != normUnit(r.From) {
			return nil
		}
		f, isNum := toFloat(v)
		if !isNum {
			return fmt.Errorf("cannot parse %v as number", v)
		}
		fn, _ := conversion(r.From, r.To)
		rec[r.Field] = fn(f)
		if r.UnitField != "" {
			rec[r.UnitField] = canonicalUnitLabel(r.To)
		}
	case OpClamp:
		f, isNum := toFloat(v)
		if !isNum {
			return fmt.Errorf("cannot parse %v as number", v)
		}
		if r.Min != nil && f < *r.Min {
			f = *r.Min
		}
		if r.Max != nil && f > *r.Max {
			f = *r.Max
		}
		rec[r.Field] = f
	case OpTimestamp:
		ts, parsed := toTime(v)
		if !parsed {
			return fmt.Errorf("cannot parse %v as timestamp", v)
		}
		rec[r.Field] = ts.UTC().Format(time.RFC3339)
	case OpRename:
		delete(rec, r.Field)
		rec[r.To] = v
	}
	return nil
}

// canonicalUnitLabel spells converted units the way health_data stores them.
func canonicalUnitLabel(u string) string {
	switch normUnit(u) {
	case "mg/dl":
		return "mg/dL"
	case "mmol/l":
		return "mmol/L"
	case "c":
		return "C"
	case "f":
		return "F"
	}
	return normUnit(u)
}
