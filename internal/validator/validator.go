// Package validator guards the sink against malformed, partial, or
// diagnostic-contaminated billing records.
//
// A record is a raw map as returned by a billing source. Validate checks the
// dataset's required fields, coerces numeric fields to decimal.Decimal, and
// rejects any record carrying log or stack-trace text. Rejection never aborts a
// run; callers count it in a Tally and move on.
package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonMissing     Reason = "missing_field"
	ReasonNotNumeric  Reason = "not_numeric"
	ReasonNonFinite   Reason = "non_finite"
	ReasonNegative    Reason = "negative"
	ReasonDiagnostic  Reason = "diagnostic_output"
	ReasonCurrency    Reason = "unknown_currency"
	ReasonTooLong     Reason = "too_long"
	ReasonControlChar Reason = "control_character"
	ReasonBadDate     Reason = "bad_date"
	ReasonBadType     Reason = "bad_type"
	ReasonDataset     Reason = "unknown_dataset"
	ReasonInvalid     Reason = "invalid"
)

// Rejection describes why a record was refused. It matches domain.ErrValidation.
type Rejection struct {
	Dataset domain.Dataset
	Field   string
	Reason  Reason
	Detail  string
}

func (r *Rejection) Error() string {
	msg := fmt.Sprintf("validator: %s record: %s", r.Dataset, r.Reason)
	if r.Field != "" {
		msg += fmt.Sprintf(" (field %q)", r.Field)
	}
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	return msg
}

func (r *Rejection) Unwrap() error { return domain.ErrValidation }

// DefaultCurrency is assigned when an auxiliary dataset omits its currency.
const DefaultCurrency = "USD"

const (
	defaultMaxShortText = 512
	defaultMaxLongText  = 8192
)

// Validator checks raw records. The zero value is not usable; call New.
type Validator struct {
	maxShortText int
	maxLongText  int
}

// New creates a Validator with default field-length limits.
func New() *Validator {
	return &Validator{maxShortText: defaultMaxShortText, maxLongText: defaultMaxLongText}
}

// Validate checks raw against the schema of ds and returns a normalized copy:
// numeric fields become decimal.Decimal, the date becomes a UTC day, text is
// trimmed and currency upper-cased. raw is never modified.
func (v *Validator) Validate(ds domain.Dataset, raw map[string]any) (map[string]any, error) {
	sc, ok := schemas[ds]
	if !ok {
		return nil, &Rejection{Dataset: ds, Reason: ReasonDataset}
	}
	reject := func(field string, reason Reason, detail string) (map[string]any, error) {
		return nil, &Rejection{Dataset: ds, Field: field, Reason: reason, Detail: detail}
	}

	// Diagnostic text anywhere in the record poisons all of it.
	for k, val := range raw {
		if s, isStr := val.(string); isStr && looksDiagnostic(s) {
			return reject(k, ReasonDiagnostic, truncate(s, 80))
		}
	}

	for _, f := range sc.required {
		if isBlank(raw[f]) {
			return reject(f, ReasonMissing, "")
		}
	}

	out := make(map[string]any, len(raw))
	for k, val := range raw {
		if s, isStr := val.(string); isStr {
			out[k] = strings.TrimSpace(s)
			continue
		}
		out[k] = val
	}

	for _, f := range sc.numeric {
		val, present := raw[f]
		if !present || isBlank(val) {
			continue
		}
		d, reason, err := coerceDecimal(val)
		if err != nil {
			return reject(f, reason, err.Error())
		}
		out[f] = d
	}

	for _, f := range sc.shortText {
		if r, detail := v.checkText(raw[f], v.maxShortText, false); r != "" {
			return reject(f, r, detail)
		}
	}
	for _, f := range sc.longText {
		if r, detail := v.checkText(raw[f], v.maxLongText, true); r != "" {
			return reject(f, r, detail)
		}
	}

	cur, _ := out[FieldCurrency].(string)
	cur = strings.ToUpper(cur)
	switch {
	case cur == "" && sc.currencyRequired:
		return reject(FieldCurrency, ReasonMissing, "")
	case cur == "":
		cur = DefaultCurrency
	case !domain.IsKnownCurrency(cur):
		return reject(FieldCurrency, ReasonCurrency, cur)
	}
	out[FieldCurrency] = cur

	if val, present := raw[FieldDate]; present {
		day, err := coerceDate(val)
		if err != nil {
			return reject(FieldDate, ReasonBadDate, err.Error())
		}
		out[FieldDate] = day
	}

	if val, present := raw[FieldTags]; present && val != nil {
		tags, err := coerceTags(val)
		if err != nil {
			return reject(FieldTags, ReasonBadType, err.Error())
		}
		out[FieldTags] = tags
	}

	return out, nil
}

func (v *Validator) checkText(val any, max int, multiline bool) (Reason, string) {
	if val == nil {
		return "", ""
	}
	s, ok := val.(string)
	if !ok {
		return ReasonBadType, fmt.Sprintf("expected text, got %T", val)
	}
	if len(s) > max {
		return ReasonTooLong, fmt.Sprintf("%d bytes exceeds %d", len(s), max)
	}
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			if multiline {
				continue
			}
			return ReasonControlChar, "line break in single-line field"
		}
		if unicode.IsControl(r) {
			return ReasonControlChar, fmt.Sprintf("control character %U", r)
		}
	}
	return "", ""
}

// coerceDecimal converts the numeric representations a source may emit.
func coerceDecimal(val any) (decimal.Decimal, Reason, error) {
	var d decimal.Decimal
	switch n := val.(type) {
	case decimal.Decimal:
		d = n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return d, ReasonNonFinite, fmt.Errorf("%v", n)
		}
		d = decimal.NewFromFloat(n)
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return d, ReasonNonFinite, fmt.Errorf("%v", n)
		}
		d = decimal.NewFromFloat32(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case int32:
		d = decimal.NewFromInt(int64(n))
	case json.Number:
		return coerceDecimal(string(n))
	case string:
		s := strings.TrimSpace(n)
		switch strings.ToLower(strings.TrimLeft(s, "+-")) {
		case "nan", "inf", "infinity":
			return d, ReasonNonFinite, fmt.Errorf("%q", s)
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return d, ReasonNotNumeric, fmt.Errorf("%q", truncate(s, 40))
		}
		d = parsed
	default:
		return d, ReasonNotNumeric, fmt.Errorf("unsupported type %T", val)
	}
	if d.IsNegative() {
		return d, ReasonNegative, fmt.Errorf("%s", d)
	}
	return d, "", nil
}

var dateLayouts = []string{domain.DateLayout, time.RFC3339, "20060102"}

func coerceDate(val any) (time.Time, error) {
	switch t := val.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return domain.Day(t), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return domain.Day(parsed), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", truncate(s, 40))
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", val)
}

func coerceTags(val any) (map[string]string, error) {
	switch t := val.(type) {
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, v := range t {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("tag %q has type %T", k, v)
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T", val)
}

func isBlank(val any) bool {
	if val == nil {
		return true
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
