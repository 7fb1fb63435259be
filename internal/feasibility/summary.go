package feasibility

import (
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/cost"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// Summary is the JSON-friendly result of a run, without geometries.
type Summary struct {
	ParcelID     string                 `json:"parcel_id"`
	Phase        Phase                  `json:"phase"`
	Address      string                 `json:"address,omitempty"`
	Owner        string                 `json:"owner,omitempty"`
	Jurisdiction string                 `json:"jurisdiction,omitempty"`
	ParcelSqFt   float64                `json:"parcel_sqft"`
	ParcelAcres  float64                `json:"parcel_acres"`
	ZoneCode     string                 `json:"zone_code,omitempty"`
	Standard     *config.ZoningStandard `json:"zoning_standard,omitempty"`
	BuildSqFt    float64                `json:"buildable_sqft"`

	Stopped    bool   `json:"stopped"`
	StopReason string `json:"stop_reason,omitempty"`

	BestLayoutID string  `json:"best_layout_id,omitempty"`
	BestScore    float64 `json:"best_score"`

	Layouts     []LayoutSummary     `json:"layouts"`
	Constraints []constraint.Result `json:"constraints"`

	Tags      []string           `json:"tags"`
	RiskTags  []string           `json:"risk_tags"`
	Warnings  []string           `json:"warnings"`
	Artifacts map[string]string  `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	History   []PhaseRecord      `json:"history"`
}

// LayoutSummary is one ranked layout with its cost.
type LayoutSummary struct {
	ID               string             `json:"id"`
	Strategy         layout.Strategy    `json:"strategy"`
	PlatClass        layout.PlatClass   `json:"plat_class"`
	Lots             int                `json:"lots"`
	LotAreas         []float64          `json:"lot_areas_sqft"`
	Score            float64            `json:"score"`
	ScoreComponents  map[string]float64 `json:"score_components,omitempty"`
	StormwaterSqFt   float64            `json:"stormwater_reserve_sqft"`
	DrivewayLengthFt float64            `json:"driveway_length_ft"`
	Tags             []string           `json:"tags"`
	Cost             *cost.Estimate     `json:"cost,omitempty"`
}

// Summary builds the run summary.
func (s State) Summary() Summary {
	out := Summary{
		ParcelID:     s.ParcelID,
		Phase:        s.Phase,
		Address:      s.Parcel.Address,
		Owner:        s.Parcel.Owner,
		Jurisdiction: s.Parcel.Jurisdiction,
		ParcelSqFt:   s.Parcel.Area(),
		ParcelAcres:  s.Parcel.Area() / 43560,
		ZoneCode:     s.ZoneCode,
		Standard:     s.Standard,
		BuildSqFt:    geometry.Area(s.Buildable),
		Stopped:      s.Stopped,
		StopReason:   s.StopReason,
		BestLayoutID: s.BestLayoutID,
		BestScore:    s.BestScore,
		Layouts:      make([]LayoutSummary, 0, len(s.Layouts)),
		Constraints:  s.ConstraintResults(),
		Tags:         nonNil(s.Tags),
		RiskTags:     nonNil(s.RiskTags()),
		Warnings:     nonNil(s.Warnings),
		Artifacts:    s.Artifacts,
		Metrics:      s.Metrics,
		History:      s.History,
	}
	for _, l := range s.Layouts {
		ls := LayoutSummary{
			ID:               l.ID,
			Strategy:         l.Strategy,
			PlatClass:        l.PlatClass,
			Lots:             l.LotCount(),
			Score:            l.Score,
			StormwaterSqFt:   l.StormwaterReserve,
			DrivewayLengthFt: l.DrivewayLength(),
			Tags:             nonNil(l.Tags),
		}
		for _, lot := range l.Lots {
			ls.LotAreas = append(ls.LotAreas, lot.Area)
		}
		if sc, ok := s.Scores[l.ID]; ok {
			ls.ScoreComponents = sc.Components
		}
		if est, ok := s.Costs[l.ID]; ok {
			ls.Cost = &est
		}
		out.Layouts = append(out.Layouts, ls)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
