package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Tables bundles the static reference tables consulted by a run.
type Tables struct {
	Zoning  ZoningTable
	Buffers BufferTable
	Scoring ScoringTable
}

// ZoningStandard holds the dimensional standards of one zone.
type ZoningStandard struct {
	Jurisdiction string  `yaml:"jurisdiction" json:"jurisdiction"`
	Code         string  `yaml:"code" json:"code"`
	MinLotArea   float64 `yaml:"min_lot_sqft" json:"min_lot_sqft"`
	MinLotWidth  float64 `yaml:"min_lot_width_ft" json:"min_lot_width_ft"`
	FrontSetback float64 `yaml:"setback_front_ft" json:"setback_front_ft"`
	SideSetback  float64 `yaml:"setback_side_ft" json:"setback_side_ft"`
	RearSetback  float64 `yaml:"setback_rear_ft" json:"setback_rear_ft"`
	MaxCoverage  float64 `yaml:"max_lot_coverage" json:"max_lot_coverage"`
	MaxDensity   float64 `yaml:"max_density_du_acre" json:"max_density_du_acre"`
}

// MaxSetback returns the largest of the three yard setbacks.
func (z ZoningStandard) MaxSetback() float64 {
	return max(z.FrontSetback, z.SideSetback, z.RearSetback)
}

// ZoningTable maps zone codes to standards.
type ZoningTable struct {
	DefaultJurisdiction string            `yaml:"default_jurisdiction"`
	Standards           []ZoningStandard  `yaml:"standards"`
	Aliases             map[string]string `yaml:"aliases"`
}

var upper = cases.Upper(language.Und)

// NormalizeZoneCode upper-cases a zone code and strips whitespace so that
// "r-9600", "R 9600" and "R-9600 " compare equal after alias resolution.
func NormalizeZoneCode(code string) string {
	code = upper.String(strings.TrimSpace(code))
	return strings.Join(strings.Fields(code), "")
}

// Lookup finds the standard for a zone code. An empty jurisdiction matches
// the table default.
func (t ZoningTable) Lookup(jurisdiction, code string) (ZoningStandard, bool) {
	norm := NormalizeZoneCode(code)
	if alias, ok := t.Aliases[norm]; ok {
		norm = NormalizeZoneCode(alias)
	}
	if jurisdiction == "" {
		jurisdiction = t.DefaultJurisdiction
	}
	for _, s := range t.Standards {
		if NormalizeZoneCode(s.Code) != norm {
			continue
		}
		if s.Jurisdiction == "" || jurisdiction == "" || strings.EqualFold(s.Jurisdiction, jurisdiction) {
			return s, true
		}
	}
	return ZoningStandard{}, false
}

// BufferTable holds regulatory buffer distances in feet.
type BufferTable struct {
	Streams        map[string]float64 `yaml:"streams"`
	StreamDefault  float64            `yaml:"stream_default"`
	Wetlands       map[string]float64 `yaml:"wetlands"`
	WetlandDefault float64            `yaml:"wetland_default"`
	Fixed          map[string]float64 `yaml:"fixed"`
}

// Fixed distances keyed by layer name.
const (
	BufferFlood     = "flood"
	BufferSlope     = "slope"
	BufferGeology   = "geology"
	BufferShoreline = "shoreline"
	BufferRoads     = "roads"
)

// FixedDistance returns the configured fixed buffer for a layer.
func (b BufferTable) FixedDistance(layer string) float64 {
	return b.Fixed[layer]
}

// StreamDistance returns the buffer for a stream type, falling back to the
// table default.
func (b BufferTable) StreamDistance(streamType string) float64 {
	if d, ok := b.Streams[NormalizeZoneCode(streamType)]; ok {
		return d
	}
	return b.StreamDefault
}

// WetlandDistance returns the buffer for a wetland category (I through IV).
func (b BufferTable) WetlandDistance(category string) float64 {
	if d, ok := b.Wetlands[NormalizeZoneCode(category)]; ok {
		return d
	}
	return b.WetlandDefault
}

// ScoringTable holds scoring weights and cost rates.
type ScoringTable struct {
	Weights ScoringWeights `yaml:"weights"`
	Costs   CostRates      `yaml:"costs"`
}

// ScoringWeights controls the layout scorer. Penalties are subtracted.
type ScoringWeights struct {
	Base              float64 `yaml:"base"`
	LotCount          float64 `yaml:"lot_count"`
	LotCountCap       int     `yaml:"lot_count_cap"`
	StormwaterPenalty float64 `yaml:"stormwater_penalty"`
	DrivewayPenalty   float64 `yaml:"driveway_penalty"`
	EnvelopePenalty   float64 `yaml:"envelope_penalty"`
	ConstraintPenalty float64 `yaml:"constraint_penalty"`
	ShortPlatBonus    float64 `yaml:"short_plat_bonus"`
}

// CostRates are planning-level unit costs in USD.
type CostRates struct {
	SurveyEngineering     float64 `yaml:"survey_engineering" json:"survey_engineering"`
	ShortPlatApplication  float64 `yaml:"short_plat_application" json:"short_plat_application"`
	FormalPlatApplication float64 `yaml:"formal_plat_application" json:"formal_plat_application"`
	RoadPerLinearFt       float64 `yaml:"road_per_linear_ft" json:"road_per_linear_ft"`
	TurnaroundAllowance   float64 `yaml:"turnaround_allowance" json:"turnaround_allowance"`
	UtilityPerLot         float64 `yaml:"utility_per_lot" json:"utility_per_lot"`
	WellPerLot            float64 `yaml:"well_per_lot" json:"well_per_lot"`
	SepticPerLot          float64 `yaml:"septic_per_lot" json:"septic_per_lot"`
	StormwaterBase        float64 `yaml:"stormwater_base" json:"stormwater_base"`
	StormwaterPerSqFt     float64 `yaml:"stormwater_per_sqft" json:"stormwater_per_sqft"`
	ClearingPerAcre       float64 `yaml:"clearing_per_acre" json:"clearing_per_acre"`
}

// DefaultScoringTable returns the scoring weights and rates used when the
// scoring table omits a value.
func DefaultScoringTable() ScoringTable {
	return ScoringTable{
		Weights: ScoringWeights{
			Base:              50,
			LotCount:          30,
			LotCountCap:       8,
			StormwaterPenalty: 30,
			DrivewayPenalty:   20,
			EnvelopePenalty:   20,
			ConstraintPenalty: 2,
			ShortPlatBonus:    10,
		},
		Costs: CostRates{
			SurveyEngineering:     25000,
			ShortPlatApplication:  18000,
			FormalPlatApplication: 45000,
			RoadPerLinearFt:       220,
			TurnaroundAllowance:   15000,
			UtilityPerLot:         18000,
			WellPerLot:            25000,
			SepticPerLot:          30000,
			StormwaterBase:        60000,
			StormwaterPerSqFt:     2.5,
			ClearingPerAcre:       22000,
		},
	}
}

// DefaultBufferTable returns the buffer distances used when no table is
// configured.
func DefaultBufferTable() BufferTable {
	return BufferTable{
		Streams:        map[string]float64{"S": 150, "F": 150, "NP": 75, "NS": 50},
		StreamDefault:  75,
		Wetlands:       map[string]float64{"I": 190, "II": 150, "III": 110, "IV": 40},
		WetlandDefault: 40,
		Fixed: map[string]float64{
			BufferFlood:     0,
			BufferSlope:     25,
			BufferGeology:   50,
			BufferShoreline: 0,
			BufferRoads:     30,
		},
	}
}

// LoadTables reads the three reference tables. Missing scoring or buffer
// files fall back to defaults; the zoning table is required.
func LoadTables(cfg TablesConfig) (*Tables, error) {
	t := &Tables{
		Buffers: DefaultBufferTable(),
		Scoring: DefaultScoringTable(),
	}

	if err := readYAML(cfg.Zoning, &t.Zoning, false); err != nil {
		return nil, err
	}
	if err := readYAML(cfg.Buffers, &t.Buffers, true); err != nil {
		return nil, err
	}
	if err := readYAML(cfg.Scoring, &t.Scoring, true); err != nil {
		return nil, err
	}

	if err := ValidateStandards(t.Zoning); err != nil {
		return nil, err
	}
	if err := ValidateWeights(t.Scoring.Weights); err != nil {
		return nil, err
	}
	return t, nil
}

func readYAML(path string, out any, optional bool) error {
	if path == "" {
		if optional {
			return nil
		}
		return eris.New("config: table path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "config: read table %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "config: parse table %s", path)
	}
	return nil
}

// ValidateStandards checks that every zoning standard is usable.
func ValidateStandards(t ZoningTable) error {
	var errs []string
	for i, s := range t.Standards {
		if strings.TrimSpace(s.Code) == "" {
			errs = append(errs, fmt.Sprintf("standards[%d]: code is required", i))
		}
		if s.MinLotArea <= 0 {
			errs = append(errs, fmt.Sprintf("%s: min_lot_sqft must be > 0", s.Code))
		}
		if s.MinLotWidth < 0 || s.FrontSetback < 0 || s.SideSetback < 0 || s.RearSetback < 0 {
			errs = append(errs, fmt.Sprintf("%s: widths and setbacks must be >= 0", s.Code))
		}
		if s.MaxCoverage < 0 || s.MaxCoverage > 1 {
			errs = append(errs, fmt.Sprintf("%s: max_lot_coverage must be within [0, 1]", s.Code))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("config: invalid zoning table: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWeights checks that scoring weights are non-negative.
func ValidateWeights(w ScoringWeights) error {
	var errs []string
	weights := map[string]float64{
		"base":               w.Base,
		"lot_count":          w.LotCount,
		"stormwater_penalty": w.StormwaterPenalty,
		"driveway_penalty":   w.DrivewayPenalty,
		"envelope_penalty":   w.EnvelopePenalty,
		"constraint_penalty": w.ConstraintPenalty,
		"short_plat_bonus":   w.ShortPlatBonus,
	}
	for name, v := range weights {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}
	if w.LotCountCap <= 0 {
		errs = append(errs, "lot_count_cap must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: invalid scoring weights: %s", strings.Join(errs, "; "))
	}
	return nil
}
