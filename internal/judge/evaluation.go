// Package judge builds evaluator prompts and interprets the untrusted JSON
// verdicts a judge model returns.
package judge

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Scope selects the round or final judge prompt.
type Scope string

const (
	ScopeRound Scope = "round"
	ScopeFinal Scope = "final"
)

// ParseScope returns ScopeFinal for "final" (any case), ScopeRound otherwise.
func ParseScope(s string) Scope {
	if strings.EqualFold(strings.TrimSpace(s), string(ScopeFinal)) {
		return ScopeFinal
	}
	return ScopeRound
}

// Status is the canonical agreement status.
type Status string

const (
	StatusOngoing Status = "ongoing"
	StatusReached Status = "reached"
	StatusFailed  Status = "failed"
)

// ErrNotJSON is the error value of the sentinel evaluation returned for
// judge output that is not a JSON object.
const ErrNotJSON = "judge_output_not_json"

// Evaluation is a judge verdict as decoded from JSON. Values keep their
// decoded dynamic types; use the accessors for coerced reads.
type Evaluation map[string]any

// String returns the trimmed string form of key, or "".
func (e Evaluation) String(key string) string {
	s, _ := e[key].(string)
	return strings.TrimSpace(s)
}

// Bool reports whether key holds exactly the boolean true.
func (e Evaluation) Bool(key string) bool {
	b, ok := e[key].(bool)
	return ok && b
}

// Int coerces key to an integer. Floats truncate, numeric strings parse,
// everything else (booleans included) reports false.
func (e Evaluation) Int(key string) (int, bool) {
	return ToInt(e[key])
}

// IsError reports whether e is the sentinel for unparseable judge output.
func (e Evaluation) IsError() bool {
	return e.String("error") == ErrNotJSON
}

// ToInt is the coercion used by Evaluation.Int.
func ToInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// StripCodeFences removes a leading ``` or ```json fence and a trailing
// fence. Text that does not start with a fence is only trimmed.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Parse recovers an Evaluation from raw judge text. It never fails: output
// that is not a JSON object yields {error: judge_output_not_json, raw: raw}.
func Parse(raw string) Evaluation {
	var decoded any
	if err := json.Unmarshal([]byte(StripCodeFences(raw)), &decoded); err == nil {
		if obj, ok := decoded.(map[string]any); ok {
			return Evaluation(obj)
		}
	}
	return Evaluation{"error": ErrNotJSON, "raw": raw}
}

var statusWords = []struct {
	status Status
	re     *regexp.Regexp
}{
	{StatusOngoing, regexp.MustCompile(`\bongoing\b`)},
	{StatusReached, regexp.MustCompile(`\breached\b`)},
	{StatusFailed, regexp.MustCompile(`\bfailed\b`)},
}

// NormalizeStatus maps a free-form value to a Status: exact label, then the
// prefix before a colon, then a whole-word search in ongoing, reached,
// failed order. Non-strings never match.
func NormalizeStatus(v any) (Status, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	label := strings.ToLower(strings.TrimSpace(s))
	if st, ok := exactStatus(label); ok {
		return st, true
	}
	prefix, _, _ := strings.Cut(label, ":")
	if st, ok := exactStatus(strings.TrimSpace(prefix)); ok {
		return st, true
	}
	for _, w := range statusWords {
		if w.re.MatchString(label) {
			return w.status, true
		}
	}
	return "", false
}

func exactStatus(label string) (Status, bool) {
	switch st := Status(label); st {
	case StatusOngoing, StatusReached, StatusFailed:
		return st, true
	}
	return "", false
}

// ExtractStatus reads the agreement status from an evaluation: the
// agreement_status field, then the legacy agreement_reached boolean, then
// the raw output of a sentinel evaluation.
func ExtractStatus(e Evaluation) (Status, bool) {
	if st, ok := NormalizeStatus(e["agreement_status"]); ok {
		return st, true
	}
	if legacy, ok := e["agreement_reached"].(bool); ok {
		if legacy {
			return StatusReached, true
		}
		return StatusFailed, true
	}
	return NormalizeStatus(e["raw"])
}

// Agreement types.
const (
	AgreementNone    = "none"
	AgreementPartial = "partial"
	AgreementFull    = "full"
)

// NormalizeAgreementType maps a value to none, partial or full, defaulting
// to none.
func NormalizeAgreementType(v any) string {
	s, ok := v.(string)
	if !ok {
		return AgreementNone
	}
	label, _, _ := strings.Cut(s, ":")
	switch label = strings.ToLower(strings.TrimSpace(label)); label {
	case AgreementNone, AgreementPartial, AgreementFull:
		return label
	}
	return AgreementNone
}
