// Package cost produces planning-level development cost estimates for
// candidate subdivision layouts.
package cost

import (
	"math"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

const sqFtPerAcre = 43560.0

// Site describes parcel-wide facts that change per-lot costs.
type Site struct {
	WellRequired   bool
	SepticRequired bool
}

// Estimate is the cost breakdown of one layout in USD.
type Estimate struct {
	LayoutID          string  `json:"layout_id"`
	Lots              int     `json:"lots"`
	SurveyEngineering float64 `json:"survey_engineering"`
	PlatApplication   float64 `json:"plat_application"`
	Road              float64 `json:"road"`
	Utilities         float64 `json:"utilities"`
	Stormwater        float64 `json:"stormwater"`
	Clearing          float64 `json:"clearing"`
	Total             float64 `json:"total"`
}

// PerLot returns the total spread over the layout's lots.
func (e Estimate) PerLot() float64 {
	if e.Lots == 0 {
		return 0
	}
	return e.Total / float64(e.Lots)
}

// Calculator computes layout costs from unit rates.
type Calculator struct {
	rates config.CostRates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates config.CostRates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate computes the cost of one layout. It does not consult the score.
func (c *Calculator) Estimate(l layout.Layout, site Site) Estimate {
	r := c.rates
	lots := float64(l.LotCount())
	e := Estimate{
		LayoutID:          l.ID,
		Lots:              l.LotCount(),
		SurveyEngineering: r.SurveyEngineering,
	}

	switch l.PlatClass {
	case layout.FormalSubdivision:
		e.PlatApplication = r.FormalPlatApplication
	default:
		e.PlatApplication = r.ShortPlatApplication
	}

	e.Road = l.DrivewayLength() * r.RoadPerLinearFt
	for _, d := range l.Driveways {
		if d.Turnaround {
			e.Road += r.TurnaroundAllowance
		}
	}

	e.Utilities = lots * r.UtilityPerLot
	if site.WellRequired {
		e.Utilities += lots * r.WellPerLot
	}
	if site.SepticRequired {
		e.Utilities += lots * r.SepticPerLot
	}

	e.Stormwater = r.StormwaterBase + l.StormwaterReserve*r.StormwaterPerSqFt
	e.Clearing = l.LotArea() / sqFtPerAcre * r.ClearingPerAcre

	e.SurveyEngineering = round2(e.SurveyEngineering)
	e.PlatApplication = round2(e.PlatApplication)
	e.Road = round2(e.Road)
	e.Utilities = round2(e.Utilities)
	e.Stormwater = round2(e.Stormwater)
	e.Clearing = round2(e.Clearing)
	e.Total = round2(e.SurveyEngineering + e.PlatApplication + e.Road +
		e.Utilities + e.Stormwater + e.Clearing)
	return e
}

// EstimateAll computes costs for every layout keyed by layout ID.
func (c *Calculator) EstimateAll(layouts []layout.Layout, site Site) map[string]Estimate {
	out := make(map[string]Estimate, len(layouts))
	for _, l := range layouts {
		out[l.ID] = c.Estimate(l, site)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
