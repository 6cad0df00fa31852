package multiscale

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// Scorer scores answer sets against one compiled definition. Tables are
// parsed once at construction; Score is safe for concurrent use.
type Scorer struct {
	def      Definition
	validity ValidityCodes
	rawToBR  map[string]*lookupTable
	brToPct  map[string]*lookupTable
	logger   zerolog.Logger
}

// NewScorer checks def for structural errors and parses its tables.
func NewScorer(def Definition, logger zerolog.Logger) (*Scorer, error) {
	if err := checkDefinition(def); err != nil {
		return nil, err
	}
	s := &Scorer{
		def:      def,
		validity: def.Validity,
		rawToBR:  make(map[string]*lookupTable, len(def.Tables.RawToBaseRate)),
		brToPct:  make(map[string]*lookupTable, len(def.Tables.BaseRateToPercentile)),
		logger:   logger.With().Str("instrument", def.Code).Logger(),
	}
	if s.validity == (ValidityCodes{}) {
		s.validity = DefaultValidityCodes
	}
	for code, raw := range def.Tables.RawToBaseRate {
		if len(raw) == 0 {
			continue
		}
		t, err := parseTable(rawKeyPrefix, raw)
		if err != nil {
			return nil, scoreerr.InvalidDefinition(fmt.Sprintf("raw_to_br table %s: %v", code, err))
		}
		s.rawToBR[code] = t
	}
	for code, br := range def.Tables.BaseRateToPercentile {
		if len(br) == 0 {
			continue
		}
		t, err := parseTable(brKeyPrefix, br)
		if err != nil {
			return nil, scoreerr.InvalidDefinition(fmt.Sprintf("br_to_percentile table %s: %v", code, err))
		}
		s.brToPct[code] = t
	}
	return s, nil
}

func (s *Scorer) Definition() Definition { return s.def }

// CheckTables reports the first clinical scale or facet with no conversion
// table. Score tolerates such gaps; registration does not.
func (s *Scorer) CheckTables() error {
	for _, sc := range s.def.Scales {
		if sc.Group == GroupValidity {
			continue
		}
		if err := s.checkTables(sc.Code, sc.Code); err != nil {
			return err
		}
	}
	for _, f := range s.def.Facets {
		parent, _, _ := strings.Cut(f.Code, ".")
		if err := s.checkTables(f.Code, parent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scorer) checkTables(code, brTable string) error {
	if _, ok := s.rawToBR[brTable]; !ok {
		return scoreerr.TableEntryMissing(fmt.Sprintf("scale %s: no raw_to_br table %q", code, brTable))
	}
	if _, ok := s.brToPct[code]; !ok {
		return scoreerr.TableEntryMissing(fmt.Sprintf("scale %s: no br_to_percentile table", code))
	}
	return nil
}

func checkDefinition(def Definition) error {
	if def.ItemCount <= 0 {
		return scoreerr.InvalidDefinition("item_count must be positive")
	}
	if len(def.Scales) == 0 {
		return scoreerr.InvalidDefinition("at least one scale is required")
	}
	codes := make(map[string]bool, len(def.Scales)+len(def.Facets))
	checkItems := func(code string, items []int) error {
		seen := make(map[int]bool, len(items))
		for _, it := range items {
			if it < 1 || it > def.ItemCount {
				return scoreerr.InvalidDefinition(fmt.Sprintf("%s: item %d outside 1..%d", code, it, def.ItemCount))
			}
			if seen[it] {
				return scoreerr.InvalidDefinition(fmt.Sprintf("%s: item %d listed twice", code, it))
			}
			seen[it] = true
		}
		return nil
	}
	for _, sc := range def.Scales {
		if sc.Code == "" || codes[sc.Code] {
			return scoreerr.InvalidDefinition(fmt.Sprintf("scale code %q is empty or duplicated", sc.Code))
		}
		codes[sc.Code] = true
		switch sc.Group {
		case GroupPersonality, GroupSeverePathology, GroupClinicalSyndrome, GroupValidity:
		default:
			return scoreerr.InvalidDefinition(fmt.Sprintf("scale %s: unknown group %q", sc.Code, sc.Group))
		}
		if err := checkItems(sc.Code, append(append([]int{}, sc.ItemsWeight2...), sc.ItemsWeight1...)); err != nil {
			return err
		}
	}
	for _, f := range def.Facets {
		parent, _, ok := strings.Cut(f.Code, ".")
		if !ok || !codes[parent] {
			return scoreerr.InvalidDefinition(fmt.Sprintf("facet %q has no parent scale", f.Code))
		}
		if codes[f.Code] {
			return scoreerr.InvalidDefinition(fmt.Sprintf("facet code %q duplicated", f.Code))
		}
		codes[f.Code] = true
		if err := checkItems(f.Code, append(append([]int{}, f.ItemsWeight2...), f.ItemsWeight1...)); err != nil {
			return err
		}
	}
	for _, n := range def.Noteworthy {
		if err := checkItems("noteworthy "+n.Name, n.Items); err != nil {
			return err
		}
	}
	return nil
}

// Score computes the full profile. Missing or sparse tables never fail the
// call; they are clamped, logged and reported in Profile.Warnings.
func (s *Scorer) Score(answers Answers) *Profile {
	p := &Profile{
		Instrument:           s.def.Code,
		PersonalityPatterns:  []ScaleScore{},
		SeverePathology:      []ScaleScore{},
		ClinicalSyndromes:    []ScaleScore{},
		Facets:               []ScaleScore{},
		SignificantResponses: []SignificantResponse{},
	}

	byCode := make(map[string]ScaleScore, len(s.def.Scales))
	for _, sc := range s.def.Scales {
		raw := rawScore(sc, answers)
		ss := s.convert(sc, sc.Code, raw, &p.Warnings)
		byCode[sc.Code] = ss
		switch sc.Group {
		case GroupPersonality:
			p.PersonalityPatterns = append(p.PersonalityPatterns, ss)
		case GroupSeverePathology:
			p.SeverePathology = append(p.SeverePathology, ss)
		case GroupClinicalSyndrome:
			p.ClinicalSyndromes = append(p.ClinicalSyndromes, ss)
		}
	}
	for _, f := range s.def.Facets {
		parent, _, _ := strings.Cut(f.Code, ".")
		p.Facets = append(p.Facets, s.convert(f, parent, rawScore(f, answers), &p.Warnings))
	}

	p.Validity = s.checkValidity(byCode)
	p.SignificantResponses = s.significant(answers)
	p.Summary = summarize(p)
	return p
}

func rawScore(sc ScaleDefinition, answers Answers) int {
	raw := 0
	for _, it := range sc.ItemsWeight2 {
		if answers[it] {
			raw += 2
		}
	}
	for _, it := range sc.ItemsWeight1 {
		if answers[it] {
			raw++
		}
	}
	return raw
}

// convert maps raw to base rate with brTable's raw_to_br table and the base
// rate to a percentile with sc's own br_to_percentile table.
func (s *Scorer) convert(sc ScaleDefinition, brTable string, raw int, warnings *[]string) ScaleScore {
	ss := ScaleScore{Code: sc.Code, Name: sc.Name, Group: sc.Group, Raw: raw}
	ss.BaseRate = s.lookup(s.rawToBR, brTable, sc.Code, rawKeyPrefix, raw, warnings)
	ss.Percentile = s.lookup(s.brToPct, sc.Code, sc.Code, brKeyPrefix, ss.BaseRate, warnings)
	ss.Level = LevelFor(ss.BaseRate)
	return ss
}

func (s *Scorer) lookup(tables map[string]*lookupTable, table, scale, prefix string, key int, warnings *[]string) int {
	t, ok := tables[table]
	if !ok {
		msg := fmt.Sprintf("%s: no %s conversion table for %s; using 0", scale, strings.TrimSuffix(prefix, "_"), table)
		s.logger.Warn().Str("scale", scale).Str("table", table).Msg("conversion table missing")
		*warnings = append(*warnings, msg)
		return 0
	}
	v, used, clamped := t.lookup(key)
	if clamped {
		msg := fmt.Sprintf("%s: %s%d not tabulated in %s; used nearest %s%d", scale, prefix, key, table, prefix, used)
		s.logger.Warn().Str("scale", scale).Str("table", table).Int("key", key).Int("used_key", used).Msg("conversion key clamped")
		*warnings = append(*warnings, msg)
	}
	return v
}

func (s *Scorer) checkValidity(byCode map[string]ScaleScore) ValidityResult {
	v := ValidityResult{IsValid: true}
	get := func(code string) *ScaleScore {
		if ss, ok := byCode[code]; ok && code != "" {
			return &ss
		}
		if code != "" {
			v.Warnings = append(v.Warnings, fmt.Sprintf("validity scale %s is not defined; its check was skipped", code))
		}
		return nil
	}
	invalid := func(format string, args ...interface{}) {
		v.IsValid = false
		v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
	}

	v.Invalidity = get(s.validity.Invalidity)
	v.Inconsistency = get(s.validity.Inconsistency)
	v.Candor = get(s.validity.Candor)
	v.Desirability = get(s.validity.Desirability)
	v.Devaluation = get(s.validity.Devaluation)

	if sc := v.Invalidity; sc != nil {
		switch {
		case sc.Raw >= 2:
			invalid("Invalidity raw score %d: the profile is invalid (random or confused responding)", sc.Raw)
		case sc.Raw == 1:
			v.Warnings = append(v.Warnings, "Invalidity raw score 1: validity is questionable; interpret with caution")
		}
	}
	if sc := v.Inconsistency; sc != nil && sc.Raw >= 7 {
		invalid("Inconsistency raw score %d: responses are inconsistent across similar items", sc.Raw)
	}
	if sc := v.Candor; sc != nil && sc.Raw < 27 {
		invalid("Candor raw score %d: responding was too guarded for a reliable profile", sc.Raw)
	}
	if sc := v.Desirability; sc != nil && sc.BaseRate >= 78 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Desirability base rate %d: the patient may be presenting favorably", sc.BaseRate))
	}
	if sc := v.Devaluation; sc != nil && sc.BaseRate >= 37 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Devaluation base rate %d: the patient may be over-reporting difficulties", sc.BaseRate))
	}
	return v
}

func (s *Scorer) significant(answers Answers) []SignificantResponse {
	out := []SignificantResponse{}
	for _, cat := range s.def.Noteworthy {
		var endorsed []int
		for _, it := range cat.Items {
			if answers[it] {
				endorsed = append(endorsed, it)
			}
		}
		if len(endorsed) > 0 {
			out = append(out, SignificantResponse{Category: cat.Name, Items: endorsed})
		}
	}
	return out
}

func summarize(p *Profile) Summary {
	sum := Summary{
		TopPersonality:      top(p.PersonalityPatterns),
		TopSeverePathology:  top(p.SeverePathology),
		TopClinicalSyndrome: top(p.ClinicalSyndromes),
		ElevatedScales:      []ScaleScore{},
	}
	for _, group := range [][]ScaleScore{p.PersonalityPatterns, p.SeverePathology, p.ClinicalSyndromes, p.Facets} {
		for _, ss := range group {
			if ss.BaseRate >= ElevatedBaseRate {
				sum.ElevatedScales = append(sum.ElevatedScales, ss)
			}
		}
	}
	sort.SliceStable(sum.ElevatedScales, func(i, j int) bool {
		return sum.ElevatedScales[i].BaseRate > sum.ElevatedScales[j].BaseRate
	})
	return sum
}

// top returns the highest base rate; the earlier scale wins ties.
func top(scores []ScaleScore) *ScaleScore {
	if len(scores) == 0 {
		return nil
	}
	best := scores[0]
	for _, ss := range scores[1:] {
		if ss.BaseRate > best.BaseRate {
			best = ss
		}
	}
	return &best
}
