package interpretation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
)

const (
	highAlertPrefix     = "⚠️ HIGH ALERT: "
	criticalAlertPrefix = "🚨 CRITICAL ALERT: "
)

// Interpret renders the first rule whose condition holds. Without a match it
// falls back to generic prose keyed on the percentile band. result may be nil
// when no normative band covered the patient; only raw-bounded rules can
// match then.
func Interpret(rules []Rule, result *normalization.NormalizedResult, raw *calculation.RawScore) string {
	for _, r := range rules {
		if matches(r.Condition, result, raw) {
			return render(r)
		}
	}
	if result == nil {
		return rawOnlyNarrative(raw)
	}
	return genericNarrative(result)
}

// InterpretSections renders one narrative per section of raw, using the
// first matching rule scoped to that section or "Score: N".
func InterpretSections(rules []Rule, result *normalization.NormalizedResult, raw calculation.RawScore) map[string]string {
	out := make(map[string]string, len(raw.Sections))
	names := make([]string, 0, len(raw.Sections))
	for name := range raw.Sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out[name] = "Score: " + formatScore(raw.Sections[name])
		for _, r := range rules {
			if r.Condition.Section == name && matches(r.Condition, result, &raw) {
				out[name] = render(r)
				break
			}
		}
	}
	return out
}

func matches(c Condition, result *normalization.NormalizedResult, raw *calculation.RawScore) bool {
	if c.normative() {
		if result == nil {
			return false
		}
		if !within(float64(result.Percentile), c.PercentileMin, c.PercentileMax) {
			return false
		}
		if !within(result.ZScore, c.ZMin, c.ZMax) {
			return false
		}
	}
	if c.rawBounded() || c.Section != "" {
		if raw == nil {
			return false
		}
		v := raw.Total
		if c.Section != "" {
			sv, ok := raw.Sections[c.Section]
			if !ok {
				return false
			}
			v = sv
		}
		if !within(v, c.RawMin, c.RawMax) {
			return false
		}
	}
	return true
}

func within(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func render(r Rule) string {
	var b strings.Builder
	switch r.AlertLevel {
	case AlertHigh:
		b.WriteString(highAlertPrefix)
	case AlertCritical:
		b.WriteString(criticalAlertPrefix)
	}
	b.WriteString(r.Text)
	writeRecommendations(&b, r.Recommendations)
	return b.String()
}

func writeRecommendations(b *strings.Builder, recs []string) {
	if len(recs) == 0 {
		return
	}
	b.WriteString("\n\nRecommendations:")
	for _, rec := range recs {
		b.WriteString("\n- ")
		b.WriteString(rec)
	}
}

type bandProse struct {
	below          int
	narrative      string
	recommendation string
}

// Ordered by upper bound; the last entry catches everything else.
var genericProse = []bandProse{
	{5, "This result is well below the expected range for the patient's demographic group and warrants clinical attention.",
		"Consider a comprehensive follow-up assessment and specialist referral."},
	{25, "This result is below average for the patient's demographic group.",
		"Consider monitoring and reassessment at the next scheduled visit."},
	{75, "This result is within normal limits for the patient's demographic group.",
		"No specific follow-up is indicated on the basis of this score alone."},
	{95, "This result is above average for the patient's demographic group.",
		"Interpret alongside the clinical presentation; no deficit is indicated."},
	{101, "This result is well above the expected range for the patient's demographic group.",
		"Interpret alongside the clinical presentation and the instrument's scoring direction."},
}

func proseFor(percentile int) bandProse {
	for _, p := range genericProse {
		if percentile < p.below {
			return p
		}
	}
	return genericProse[len(genericProse)-1]
}

func genericNarrative(res *normalization.NormalizedResult) string {
	p := proseFor(res.Percentile)
	var b strings.Builder
	fmt.Fprintf(&b, "Score falls in the %s range (percentile %d, Z-score %.2f). %s",
		res.Classification, res.Percentile, res.ZScore, p.narrative)
	writeRecommendations(&b, []string{p.recommendation})
	return b.String()
}

func rawOnlyNarrative(raw *calculation.RawScore) string {
	if raw == nil {
		return "No normative comparison is available for this result."
	}
	return "Raw score: " + formatScore(raw.Total) +
		". No normative comparison is available for the patient's demographic group."
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
