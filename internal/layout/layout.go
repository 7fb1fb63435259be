// Package layout subdivides a buildable area into candidate lot layouts.
package layout

import (
	"fmt"
	"slices"

	"github.com/twpayne/go-geom"
)

// Strategy names a layout generation strategy.
type Strategy string

// Layout strategies, in generation order.
const (
	MaxLots            Strategy = "max_lots"
	EqualSplit         Strategy = "equal_split"
	RoadOptimized      Strategy = "road_optimized"
	ConstraintAdaptive Strategy = "constraint_adaptive"
	Hybrid             Strategy = "hybrid"
)

// Strategies lists every strategy in generation order.
var Strategies = []Strategy{MaxLots, EqualSplit, RoadOptimized, ConstraintAdaptive, Hybrid}

// PlatClass is the regulatory review path of a layout.
type PlatClass string

const (
	// ShortPlat covers subdivisions of four lots or fewer.
	ShortPlat PlatClass = "short_plat"
	// FormalSubdivision covers subdivisions of five lots or more.
	FormalSubdivision PlatClass = "formal_subdivision"
)

// Layout issue tags set by the refiners and read by the scorer.
const (
	TagStormwaterConstrained   = "STORMWATER_CONSTRAINED"
	TagDrivewayInfeasible      = "DRIVEWAY_INFEASIBLE"
	TagDrivewaySteep           = "DRIVEWAY_STEEP"
	TagTightEnvelope           = "TIGHT_BUILDING_ENVELOPE"
	TagElevationDataIncomplete = "ELEVATION_DATA_INCOMPLETE"
)

// ShortPlatMaxLots is the largest lot count reviewed as a short plat.
const ShortPlatMaxLots = 4

// Classify returns the plat class for a lot count.
func Classify(lots int) PlatClass {
	if lots <= ShortPlatMaxLots {
		return ShortPlat
	}
	return FormalSubdivision
}

// Lot is one parcel of a layout.
type Lot struct {
	ID       int                `json:"id"`
	Geometry *geom.MultiPolygon `json:"-"`
	Area     float64            `json:"area_sqft"`
	Width    float64            `json:"width_ft"`
	AreaOK   bool               `json:"area_ok"`
	WidthOK  bool               `json:"width_ok"`
}

// Valid reports whether the lot meets both dimensional minimums.
func (l Lot) Valid() bool { return l.AreaOK && l.WidthOK }

// Driveway is the access route of one lot.
type Driveway struct {
	LotID  int              `json:"lot_id"`
	Line   *geom.LineString `json:"-"`
	Length float64          `json:"length_ft"`
	// GradePct is the average absolute grade; meaningful only when
	// GradeKnown is set.
	GradePct   float64 `json:"grade_pct"`
	GradeKnown bool    `json:"grade_known"`
	WidthFt    float64 `json:"width_ft"`
	Turnaround bool    `json:"turnaround"`
	Feasible   bool    `json:"feasible"`
}

// Envelope is the approximate building footprint of one lot.
type Envelope struct {
	LotID    int                `json:"lot_id"`
	Geometry *geom.MultiPolygon `json:"-"`
	Area     float64            `json:"area_sqft"`
}

// Layout is one candidate subdivision.
type Layout struct {
	ID        string    `json:"id"`
	Strategy  Strategy  `json:"strategy"`
	Lots      []Lot     `json:"lots"`
	PlatClass PlatClass `json:"plat_class"`
	Tags      []string  `json:"tags"`

	// Set by the refiners.
	StormwaterReserve float64    `json:"stormwater_reserve_sqft"`
	Driveways         []Driveway `json:"driveways,omitempty"`
	Envelopes         []Envelope `json:"envelopes,omitempty"`
	Score             float64    `json:"score"`
}

// LotCount returns the number of lots.
func (l Layout) LotCount() int { return len(l.Lots) }

// LotArea returns the summed lot area in square feet.
func (l Layout) LotArea() float64 {
	total := 0.0
	for _, lot := range l.Lots {
		total += lot.Area
	}
	return total
}

// DrivewayLength returns the summed driveway length in feet.
func (l Layout) DrivewayLength() float64 {
	total := 0.0
	for _, d := range l.Driveways {
		total += d.Length
	}
	return total
}

// HasTag reports whether the layout carries tag.
func (l Layout) HasTag(tag string) bool { return slices.Contains(l.Tags, tag) }

// Tag adds tag once.
func (l *Layout) Tag(tag string) {
	if !l.HasTag(tag) {
		l.Tags = append(l.Tags, tag)
	}
}

// Clone returns a copy whose slices can be modified independently.
// Geometries are shared; they are never modified in place.
func (l Layout) Clone() Layout {
	out := l
	out.Lots = slices.Clone(l.Lots)
	out.Tags = slices.Clone(l.Tags)
	out.Driveways = slices.Clone(l.Driveways)
	out.Envelopes = slices.Clone(l.Envelopes)
	return out
}

func newLayout(strategy Strategy, seq int, lots []Lot) Layout {
	l := Layout{
		ID:        fmt.Sprintf("%s_%d", strategy, seq),
		Strategy:  strategy,
		Lots:      lots,
		PlatClass: Classify(len(lots)),
	}
	l.Tag(string(l.PlatClass))
	return l
}
