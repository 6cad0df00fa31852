package calculation

import (
	"encoding/json"
	"fmt"

	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// RuleType is the tag of a calculation rule variant.
type RuleType string

const (
	RuleSimpleSum   RuleType = "simple_sum"
	RuleWeightedSum RuleType = "weighted_sum"
	RuleSectioned   RuleType = "sectioned"
	RuleCustom      RuleType = "custom"
)

// TotalSumOfSections makes a sectioned rule add every section into Total.
const TotalSumOfSections = "sum_of_sections"

// Rule is a closed set of calculation rule variants: SimpleSumRule,
// WeightedSumRule, SectionedRule and CustomRule.
type Rule interface {
	Type() RuleType
	references() []int
}

type SimpleSumRule struct {
	Questions     []int   `json:"questions"`
	Inverted      []int   `json:"inverted,omitempty"`
	MaxScaleValue float64 `json:"max_scale_value"`
}

func (SimpleSumRule) Type() RuleType { return RuleSimpleSum }

func (r SimpleSumRule) references() []int {
	return append(append([]int{}, r.Questions...), r.Inverted...)
}

type QuestionWeight struct {
	Question int     `json:"question"`
	Weight   float64 `json:"weight"`
}

type WeightedSumRule struct {
	Weights []QuestionWeight `json:"weights"`
}

func (WeightedSumRule) Type() RuleType { return RuleWeightedSum }

func (r WeightedSumRule) references() []int {
	out := make([]int, 0, len(r.Weights))
	for _, w := range r.Weights {
		out = append(out, w.Question)
	}
	return out
}

// Section is one named group of a sectioned rule. A zero Weight means 1.
type Section struct {
	Name      string  `json:"name"`
	Questions []int   `json:"questions"`
	Inverted  []int   `json:"inverted,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

func (s Section) weight() float64 {
	if s.Weight == 0 {
		return 1
	}
	return s.Weight
}

type SectionedRule struct {
	Sections    []Section `json:"sections"`
	TotalPolicy string    `json:"total_policy,omitempty"`
}

func (SectionedRule) Type() RuleType { return RuleSectioned }

func (r SectionedRule) references() []int {
	var out []int
	for _, s := range r.Sections {
		out = append(out, s.Questions...)
		out = append(out, s.Inverted...)
	}
	return out
}

// CustomRule marks an instrument scored by hand. The engine always rejects it.
type CustomRule struct {
	Description string `json:"description,omitempty"`
}

func (CustomRule) Type() RuleType { return RuleCustom }

func (CustomRule) references() []int { return nil }

// DecodeRule parses a JSON rule document tagged by its "type" field.
func DecodeRule(data []byte) (Rule, error) {
	var head struct {
		Type RuleType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}

	var (
		rule Rule
		err  error
	)
	switch head.Type {
	case RuleSimpleSum:
		var r SimpleSumRule
		err = json.Unmarshal(data, &r)
		rule = r
	case RuleWeightedSum:
		var r WeightedSumRule
		err = json.Unmarshal(data, &r)
		rule = r
	case RuleSectioned:
		var r SectionedRule
		err = json.Unmarshal(data, &r)
		rule = r
	case RuleCustom:
		var r CustomRule
		err = json.Unmarshal(data, &r)
		rule = r
	default:
		return nil, scoreerr.RuleUnknown(string(head.Type))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s rule: %w", head.Type, err)
	}
	return rule, nil
}

// EncodeRule renders a rule as a JSON document carrying its "type" tag.
func EncodeRule(rule Rule) ([]byte, error) {
	if rule == nil {
		return nil, scoreerr.RuleUnknown("")
	}
	body, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("encode rule: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode rule: %w", err)
	}
	tag, _ := json.Marshal(rule.Type())
	fields["type"] = tag
	return json.Marshal(fields)
}
