package calculation

import (
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// Engine selects the strategy for a rule and delegates to it. It holds no
// state and is safe for concurrent use.
type Engine struct {
	simple    SimpleSumStrategy
	weighted  WeightedSumStrategy
	sectioned SectionedStrategy
}

func NewEngine() *Engine {
	return &Engine{}
}

// Calculate produces the raw score for answers under rule.
func (e *Engine) Calculate(rule Rule, answers AnswerSet, questions []Question) (RawScore, error) {
	switch r := deref(rule).(type) {
	case SimpleSumRule:
		return e.simple.Calculate(r, answers, questions)
	case WeightedSumRule:
		return e.weighted.Calculate(r, answers, questions)
	case SectionedRule:
		return e.sectioned.Calculate(r, answers, questions)
	case CustomRule:
		return RawScore{}, scoreerr.RuleCustomUnsupported()
	default:
		return RawScore{}, scoreerr.RuleUnknown(tagOf(rule))
	}
}

// Validate runs the same entry checks as Calculate without scoring.
func (e *Engine) Validate(rule Rule, answers AnswerSet, questions []Question) error {
	switch r := deref(rule).(type) {
	case SimpleSumRule:
		return e.simple.Validate(r, answers, questions)
	case WeightedSumRule:
		return e.weighted.Validate(r, answers, questions)
	case SectionedRule:
		return e.sectioned.Validate(r, answers, questions)
	case CustomRule:
		return scoreerr.RuleCustomUnsupported()
	default:
		return scoreerr.RuleUnknown(tagOf(rule))
	}
}

// CheckRule runs the configuration checks of a rule against its question
// list without any answers. A custom rule passes: it is stored for manual
// scoring and only rejected when calculated.
func (e *Engine) CheckRule(rule Rule, questions []Question) error {
	r := deref(rule)
	switch r := r.(type) {
	case SimpleSumRule:
		if len(r.Inverted) > 0 && r.MaxScaleValue <= 0 {
			return scoreerr.MissingMaxScaleValue(r.Inverted[0])
		}
		return checkReferences(r, indexQuestions(questions))
	case WeightedSumRule:
		return checkReferences(r, indexQuestions(questions))
	case SectionedRule:
		return e.sectioned.checkConfig(r, indexQuestions(questions))
	case CustomRule:
		return nil
	default:
		return scoreerr.RuleUnknown(tagOf(rule))
	}
}

func deref(rule Rule) Rule {
	switch r := rule.(type) {
	case *SimpleSumRule:
		if r != nil {
			return *r
		}
	case *WeightedSumRule:
		if r != nil {
			return *r
		}
	case *SectionedRule:
		if r != nil {
			return *r
		}
	case *CustomRule:
		if r != nil {
			return *r
		}
	default:
		return rule
	}
	return nil
}

func tagOf(rule Rule) string {
	if r := deref(rule); r != nil {
		return string(r.Type())
	}
	return ""
}
