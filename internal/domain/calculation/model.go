package calculation

import (
	"strconv"
	"strings"
)

// ScaleOption is one labelled point on a question's response scale.
type ScaleOption struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Question is the scoring view of an instrument item. Numbers are 1-based
// and stable once the instrument is published.
type Question struct {
	Number       int           `json:"number"`
	Required     bool          `json:"required"`
	ScaleOptions []ScaleOption `json:"scale_options,omitempty"`
	Invertible   bool          `json:"invertible,omitempty"`
}

// MaxScaleValue returns the highest option value, or false when the question
// declares no options.
func (q Question) MaxScaleValue() (float64, bool) {
	if len(q.ScaleOptions) == 0 {
		return 0, false
	}
	max := q.ScaleOptions[0].Value
	for _, o := range q.ScaleOptions[1:] {
		if o.Value > max {
			max = o.Value
		}
	}
	return max, true
}

// AnswerSet maps "N" or "qN" to an answer value.
type AnswerSet map[string]interface{}

// Lookup returns the answer for a question number. Nil values and blank
// strings count as unanswered.
func (a AnswerSet) Lookup(number int) (interface{}, bool) {
	n := strconv.Itoa(number)
	for _, key := range []string{n, "q" + n} {
		v, ok := a[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// Merge copies other into a, replacing answers for the same question.
func (a AnswerSet) Merge(other AnswerSet) {
	for k, v := range other {
		key := strings.TrimPrefix(k, "q")
		delete(a, key)
		delete(a, "q"+key)
		a[k] = v
	}
}

// RawScore is the outcome of a calculation. Sections is only set by
// sectioned rules.
type RawScore struct {
	Total    float64            `json:"total"`
	Sections map[string]float64 `json:"sections,omitempty"`
}

// questionIndex is the instrument's question list keyed by number.
type questionIndex map[int]Question

func indexQuestions(questions []Question) questionIndex {
	idx := make(questionIndex, len(questions))
	for _, q := range questions {
		idx[q.Number] = q
	}
	return idx
}
