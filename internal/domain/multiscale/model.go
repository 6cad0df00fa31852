package multiscale

// Group places a scale in one section of the profile.
type Group string

const (
	GroupPersonality      Group = "personality"
	GroupSeverePathology  Group = "severe_pathology"
	GroupClinicalSyndrome Group = "clinical_syndrome"
	GroupValidity         Group = "validity"
)

// Severity levels by base rate.
const (
	LevelNotPresent = "not present"
	LevelAtRisk     = "at risk"
	LevelClinical   = "clinical pattern"
	LevelProminent  = "prominent"
)

// ElevatedBaseRate is the base rate from which a scale is listed as elevated.
const ElevatedBaseRate = 75

// ScaleDefinition lists the items keyed true on a scale. Prototypal items
// count twice.
type ScaleDefinition struct {
	Code         string `yaml:"code" json:"code"`
	Name         string `yaml:"name" json:"name"`
	Group        Group  `yaml:"group,omitempty" json:"group,omitempty"`
	ItemsWeight2 []int  `yaml:"items_x2" json:"items_x2"`
	ItemsWeight1 []int  `yaml:"items_x1" json:"items_x1"`
}

// ValidityCodes name the scales used for the validity cross-check.
type ValidityCodes struct {
	Invalidity    string `yaml:"invalidity" json:"invalidity"`
	Inconsistency string `yaml:"inconsistency" json:"inconsistency"`
	Candor        string `yaml:"candor" json:"candor"`
	Desirability  string `yaml:"desirability" json:"desirability"`
	Devaluation   string `yaml:"devaluation" json:"devaluation"`
}

// DefaultValidityCodes is used when a definition leaves the codes empty.
var DefaultValidityCodes = ValidityCodes{
	Invalidity:    "V",
	Inconsistency: "W",
	Candor:        "X",
	Desirability:  "Y",
	Devaluation:   "Z",
}

// NoteworthyCategory groups items whose endorsement is reported verbatim.
type NoteworthyCategory struct {
	Name  string `yaml:"name" json:"name"`
	Items []int  `yaml:"items" json:"items"`
}

// ConversionTables hold the categorical lookups, keyed "raw_N" and "br_N".
type ConversionTables struct {
	RawToBaseRate        map[string]map[string]int `yaml:"raw_to_br" json:"raw_to_br"`
	BaseRateToPercentile map[string]map[string]int `yaml:"br_to_percentile" json:"br_to_percentile"`
}

// Definition is a complete multi-scale instrument.
type Definition struct {
	Code       string               `yaml:"code" json:"code"`
	Name       string               `yaml:"name" json:"name"`
	ItemCount  int                  `yaml:"item_count" json:"item_count"`
	Scales     []ScaleDefinition    `yaml:"scales" json:"scales"`
	Facets     []ScaleDefinition    `yaml:"facets,omitempty" json:"facets,omitempty"`
	Validity   ValidityCodes        `yaml:"validity,omitempty" json:"validity,omitempty"`
	Noteworthy []NoteworthyCategory `yaml:"noteworthy,omitempty" json:"noteworthy,omitempty"`
	Tables     ConversionTables     `yaml:"tables" json:"tables"`
}

// Answers maps item number to the true/false response.
type Answers map[int]bool

type ScaleScore struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Group      Group  `json:"group,omitempty"`
	Raw        int    `json:"raw"`
	BaseRate   int    `json:"base_rate"`
	Percentile int    `json:"percentile"`
	Level      string `json:"level"`
}

type ValidityResult struct {
	Invalidity    *ScaleScore `json:"invalidity,omitempty"`
	Inconsistency *ScaleScore `json:"inconsistency,omitempty"`
	Candor        *ScaleScore `json:"candor,omitempty"`
	Desirability  *ScaleScore `json:"desirability,omitempty"`
	Devaluation   *ScaleScore `json:"devaluation,omitempty"`
	IsValid       bool        `json:"is_valid"`
	Warnings      []string    `json:"warnings,omitempty"`
}

type SignificantResponse struct {
	Category string `json:"category"`
	Items    []int  `json:"items"`
}

type Summary struct {
	TopPersonality      *ScaleScore  `json:"top_personality,omitempty"`
	TopSeverePathology  *ScaleScore  `json:"top_severe_pathology,omitempty"`
	TopClinicalSyndrome *ScaleScore  `json:"top_clinical_syndrome,omitempty"`
	ElevatedScales      []ScaleScore `json:"elevated_scales"`
}

// Profile is the full scored result of one administration.
type Profile struct {
	Instrument           string                `json:"instrument"`
	Validity             ValidityResult        `json:"validity"`
	PersonalityPatterns  []ScaleScore          `json:"personality_patterns"`
	SeverePathology      []ScaleScore          `json:"severe_pathology"`
	ClinicalSyndromes    []ScaleScore          `json:"clinical_syndromes"`
	Facets               []ScaleScore          `json:"facets"`
	SignificantResponses []SignificantResponse `json:"significant_responses"`
	Summary              Summary               `json:"summary"`
	Warnings             []string              `json:"warnings,omitempty"`
}

// LevelFor bands a base rate into a severity level.
func LevelFor(baseRate int) string {
	switch {
	case baseRate < 60:
		return LevelNotPresent
	case baseRate < ElevatedBaseRate:
		return LevelAtRisk
	case baseRate < 85:
		return LevelClinical
	default:
		return LevelProminent
	}
}
