package multiscale

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// ParseDefinition decodes a YAML (or JSON) instrument definition.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, scoreerr.InvalidDefinition(fmt.Sprintf("parse definition: %v", err))
	}
	return def, nil
}

// LoadDefinition reads and decodes the definition file at path.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// AnswersFromSet converts a generic answer set into true/false responses.
// Unanswered items count as not endorsed.
func AnswersFromSet(set calculation.AnswerSet, itemCount int) (Answers, error) {
	out := make(Answers, len(set))
	for i := 1; i <= itemCount; i++ {
		v, ok := set.Lookup(i)
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			v = strings.TrimSpace(s)
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, scoreerr.InvalidAnswer(i, v)
		}
		out[i] = b
	}
	return out, nil
}

// DecodeAnswers reads a JSON answer payload: either an array in item order
// (index 0 is item 1) or an object keyed by item number. Empty and null
// payloads yield no answers.
func DecodeAnswers(data []byte, itemCount int) (Answers, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Answers{}, nil
	}
	if data[0] == '[' {
		var values []interface{}
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		set := make(calculation.AnswerSet, len(values))
		for i, v := range values {
			if v != nil {
				set[fmt.Sprint(i+1)] = v
			}
		}
		return AnswersFromSet(set, itemCount)
	}
	var set calculation.AnswerSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return AnswersFromSet(set, itemCount)
}
