package calculation

import (
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// validateAnswers runs the checks shared by every strategy: all required
// questions answered, and every answer the rule will read is numeric.
// Nothing is summed until this passes.
func validateAnswers(answers AnswerSet, questions []Question, used []int) error {
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if _, ok := answers.Lookup(q.Number); !ok {
			return scoreerr.RequiredUnanswered(q.Number)
		}
	}
	for _, n := range used {
		v, ok := answers.Lookup(n)
		if !ok {
			continue
		}
		if _, err := coerce(n, v); err != nil {
			return err
		}
	}
	return nil
}

func checkReferences(rule Rule, idx questionIndex) error {
	for _, n := range rule.references() {
		if _, ok := idx[n]; !ok {
			return scoreerr.UnknownQuestion(n)
		}
	}
	return nil
}

func toSet(nums []int) map[int]bool {
	s := make(map[int]bool, len(nums))
	for _, n := range nums {
		s[n] = true
	}
	return s
}

// SimpleSumStrategy adds the included answers, inverting the listed ones as
// MaxScaleValue - v.
type SimpleSumStrategy struct{}

func (SimpleSumStrategy) Validate(r SimpleSumRule, answers AnswerSet, questions []Question) error {
	if err := checkReferences(r, indexQuestions(questions)); err != nil {
		return err
	}
	return validateAnswers(answers, questions, r.Questions)
}

func (s SimpleSumStrategy) Calculate(r SimpleSumRule, answers AnswerSet, questions []Question) (RawScore, error) {
	if err := s.Validate(r, answers, questions); err != nil {
		return RawScore{}, err
	}
	inverted := toSet(r.Inverted)
	var total float64
	for _, n := range r.Questions {
		v, ok := answers.Lookup(n)
		if !ok {
			continue
		}
		f, _ := coerce(n, v)
		if inverted[n] {
			f = invert(f, r.MaxScaleValue)
		}
		total += f
	}
	return RawScore{Total: total}, nil
}

// WeightedSumStrategy multiplies each answer by its declared weight. Weights
// carry direction, so there is no inversion step.
type WeightedSumStrategy struct{}

func (WeightedSumStrategy) Validate(r WeightedSumRule, answers AnswerSet, questions []Question) error {
	if err := checkReferences(r, indexQuestions(questions)); err != nil {
		return err
	}
	return validateAnswers(answers, questions, r.references())
}

func (s WeightedSumStrategy) Calculate(r WeightedSumRule, answers AnswerSet, questions []Question) (RawScore, error) {
	if err := s.Validate(r, answers, questions); err != nil {
		return RawScore{}, err
	}
	var total float64
	for _, w := range r.Weights {
		v, ok := answers.Lookup(w.Question)
		if !ok {
			continue
		}
		f, _ := coerce(w.Question, v)
		total += f * w.Weight
	}
	return RawScore{Total: total}, nil
}

// SectionedStrategy scores each section separately. Total is only filled
// when the rule's policy is TotalSumOfSections; otherwise it stays 0 and
// callers read Sections.
type SectionedStrategy struct{}

func (s SectionedStrategy) Validate(r SectionedRule, answers AnswerSet, questions []Question) error {
	if err := s.checkConfig(r, indexQuestions(questions)); err != nil {
		return err
	}
	return validateAnswers(answers, questions, r.references())
}

func (SectionedStrategy) checkConfig(r SectionedRule, idx questionIndex) error {
	if err := checkReferences(r, idx); err != nil {
		return err
	}
	for _, sec := range r.Sections {
		for _, n := range sec.Inverted {
			if _, ok := idx[n].MaxScaleValue(); !ok {
				return scoreerr.MissingScaleOptions(n)
			}
		}
	}
	return nil
}

func (s SectionedStrategy) Calculate(r SectionedRule, answers AnswerSet, questions []Question) (RawScore, error) {
	if err := s.Validate(r, answers, questions); err != nil {
		return RawScore{}, err
	}
	idx := indexQuestions(questions)
	score := RawScore{Sections: make(map[string]float64, len(r.Sections))}
	for _, sec := range r.Sections {
		inverted := toSet(sec.Inverted)
		var subtotal float64
		for _, n := range sec.Questions {
			v, ok := answers.Lookup(n)
			if !ok {
				continue
			}
			f, _ := coerce(n, v)
			if inverted[n] {
				max, _ := idx[n].MaxScaleValue()
				f = invert(f, max)
			}
			subtotal += f
		}
		weighted := subtotal * sec.weight()
		score.Sections[sec.Name] = weighted
		if r.TotalPolicy == TotalSumOfSections {
			score.Total += weighted
		}
	}
	return score, nil
}

func invert(v, max float64) float64 {
	return max - v
}
