package calculation

import (
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// coerce turns an answer into a number. Booleans, NaN and infinities are
// rejected rather than mapped to 0/1.
func coerce(number int, v interface{}) (float64, error) {
	switch t := v.(type) {
	case bool:
		return 0, scoreerr.InvalidAnswer(number, v)
	case string:
		v = strings.TrimSpace(t)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, scoreerr.InvalidAnswer(number, v)
	}
	return f, nil
}
