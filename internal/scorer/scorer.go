// Package scorer ranks candidate subdivision layouts.
package scorer

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// Component names reported in LayoutScore.Components.
const (
	ComponentBase       = "base"
	ComponentLotCount   = "lot_count"
	ComponentStormwater = "stormwater"
	ComponentDriveway   = "driveway"
	ComponentEnvelope   = "envelope"
	ComponentConstraint = "constraint"
	ComponentShortPlat  = "short_plat"
)

// LayoutScore holds the scoring result for a single layout.
type LayoutScore struct {
	LayoutID   string             `json:"layout_id"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// Scorer computes layout scores on a 0-100 scale.
type Scorer struct {
	w config.ScoringWeights
}

// New creates a Scorer.
func New(w config.ScoringWeights) *Scorer {
	if w.LotCountCap <= 0 {
		w.LotCountCap = 1
	}
	return &Scorer{w: w}
}

// Score computes one layout's score. riskTags is the number of parcel-level
// RISK_ tags; each costs the constraint penalty.
func (s *Scorer) Score(l layout.Layout, riskTags int) LayoutScore {
	c := map[string]float64{
		ComponentBase:     s.w.Base,
		ComponentLotCount: float64(min(l.LotCount(), s.w.LotCountCap)) / float64(s.w.LotCountCap) * s.w.LotCount,
	}
	if l.HasTag(layout.TagStormwaterConstrained) {
		c[ComponentStormwater] = -s.w.StormwaterPenalty
	}
	if l.HasTag(layout.TagDrivewayInfeasible) || l.HasTag(layout.TagDrivewaySteep) {
		c[ComponentDriveway] = -s.w.DrivewayPenalty
	}
	if l.HasTag(layout.TagTightEnvelope) {
		c[ComponentEnvelope] = -s.w.EnvelopePenalty
	}
	if riskTags > 0 {
		c[ComponentConstraint] = -s.w.ConstraintPenalty * float64(riskTags)
	}
	if l.PlatClass == layout.ShortPlat {
		c[ComponentShortPlat] = s.w.ShortPlatBonus
	}

	total := 0.0
	for _, v := range c {
		total += v
	}
	total = math.Max(0, math.Min(100, total))
	return LayoutScore{
		LayoutID:   l.ID,
		Score:      math.Round(total*100) / 100,
		Components: c,
	}
}

// Rank scores every layout and returns copies sorted by descending score.
// Ties keep generation order.
func (s *Scorer) Rank(layouts []layout.Layout, parcelTags []string) ([]layout.Layout, []LayoutScore) {
	risk := CountRisk(parcelTags)
	out := make([]layout.Layout, len(layouts))
	scores := make([]LayoutScore, len(layouts))
	for i, l := range layouts {
		scores[i] = s.Score(l, risk)
		l = l.Clone()
		l.Score = scores[i].Score
		out[i] = l
	}
	slices.SortStableFunc(out, func(a, b layout.Layout) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	slices.SortStableFunc(scores, func(a, b LayoutScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out, scores
}

// CountRisk counts RISK_ tags.
func CountRisk(tags []string) int {
	n := 0
	for _, t := range tags {
		if strings.HasPrefix(t, "RISK_") {
			n++
		}
	}
	return n
}

// SummaryTags returns the tags recording the best layout.
func SummaryTags(best layout.Layout) []string {
	return []string{
		fmt.Sprintf("SCORE_SUBDIVISION_FEASIBILITY:%d", int(best.Score)),
		"SCORE_BEST_LAYOUT:" + best.ID,
	}
}
