package scoreerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by who has to act on them.
type Kind string

const (
	// KindConfiguration errors come from instrument, rule or table authoring
	// and are surfaced to clinical/admin staff.
	KindConfiguration Kind = "configuration"
	// KindInput errors come from the answer set and are surfaced to the
	// test-taking flow so it can request completion.
	KindInput Kind = "input"
	// KindCoverage errors mean the normative data has no band for the
	// patient. The raw score is still valid.
	KindCoverage Kind = "coverage"
)

// Stable error codes.
const (
	CodeRuleUnknown           = "RULE_UNKNOWN"
	CodeRuleCustomUnsupported = "RULE_CUSTOM_UNSUPPORTED"
	CodeUnknownQuestion       = "UNKNOWN_QUESTION"
	CodeMissingScale          = "MISSING_SCALE_OPTIONS"
	CodeRequiredUnanswered    = "REQUIRED_UNANSWERED"
	CodeInvalidAnswer         = "INVALID_ANSWER"
	CodeNoNormativeBand       = "NO_NORMATIVE_BAND"
	CodeInvalidBand           = "INVALID_NORMATIVE_BAND"
	CodeTableEntryMissing     = "TABLE_ENTRY_MISSING"
	CodeInvalidDemographics   = "INVALID_DEMOGRAPHICS"
	CodeInvalidDefinition     = "INVALID_INSTRUMENT_DEFINITION"
)

// Error is a typed scoring failure.
type Error struct {
	Code     string `json:"code"`
	Kind     Kind   `json:"kind"`
	Status   int    `json:"status"`
	Message  string `json:"message"`
	Question int    `json:"question,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so callers can compare against a template error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func statusFor(k Kind) int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindCoverage:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func newErr(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Status: statusFor(kind), Message: msg}
}

func RuleUnknown(tag string) *Error {
	return newErr(CodeRuleUnknown, KindConfiguration, fmt.Sprintf("unknown calculation rule type %q", tag))
}

func RuleCustomUnsupported() *Error {
	return newErr(CodeRuleCustomUnsupported, KindConfiguration,
		"custom scoring is not supported by the engine; route the answers to manual clinical scoring")
}

func UnknownQuestion(number int) *Error {
	e := newErr(CodeUnknownQuestion, KindConfiguration,
		fmt.Sprintf("rule references question %d which is not part of the instrument", number))
	e.Question = number
	return e
}

func MissingScaleOptions(number int) *Error {
	e := newErr(CodeMissingScale, KindConfiguration,
		fmt.Sprintf("question %d is inverted but declares no scale options", number))
	e.Question = number
	return e
}

func RequiredUnanswered(number int) *Error {
	e := newErr(CodeRequiredUnanswered, KindInput, fmt.Sprintf("required question %d unanswered", number))
	e.Question = number
	return e
}

func InvalidAnswer(number int, value interface{}) *Error {
	e := newErr(CodeInvalidAnswer, KindInput, fmt.Sprintf("invalid answer %v for question %d", value, number))
	e.Question = number
	return e
}

// MissingMaxScaleValue reports an inverted question in a rule that gives no
// max_scale_value to invert against.
func MissingMaxScaleValue(number int) *Error {
	e := newErr(CodeMissingScale, KindConfiguration,
		fmt.Sprintf("question %d is inverted but the rule has no positive max_scale_value", number))
	e.Question = number
	return e
}

func NoNormativeBand(table string, age, education int, sex string) *Error {
	return newErr(CodeNoNormativeBand, KindCoverage,
		fmt.Sprintf("no applicable normative band in %q for age %d, education %d, sex %q", table, age, education, sex))
}

func InvalidBand(msg string) *Error {
	return newErr(CodeInvalidBand, KindConfiguration, msg)
}

func TableEntryMissing(msg string) *Error {
	return newErr(CodeTableEntryMissing, KindConfiguration, msg)
}

func InvalidDemographics(msg string) *Error {
	return newErr(CodeInvalidDemographics, KindInput, msg)
}

func InvalidDefinition(msg string) *Error {
	return newErr(CodeInvalidDefinition, KindConfiguration, msg)
}

// As returns the typed error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the stable code of err, or "" for untyped errors.
func CodeOf(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// StatusOf maps err to an HTTP status. Untyped errors are 500.
func StatusOf(err error) int {
	if se, ok := As(err); ok {
		return se.Status
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err is a typed error of kind k.
func IsKind(err error, k Kind) bool {
	se, ok := As(err)
	return ok && se.Kind == k
}
