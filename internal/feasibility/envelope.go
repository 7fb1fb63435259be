package feasibility

import (
	"math"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// PlaceEnvelopes approximates a building envelope on every lot: the lot is
// inset by the largest setback, the inset's minimum rotated rectangle is
// clipped to the lot, and the result is scaled about its centroid to honor
// the coverage limit. The rectangle is a bounding proxy, not the largest
// inscribed rectangle.
func PlaceEnvelopes(layouts []layout.Layout, std config.ZoningStandard, cfg config.EnvelopeConfig) []layout.Layout {
	coverage := std.MaxCoverage
	if coverage <= 0 {
		coverage = cfg.DefaultCoverage
	}
	inset := std.MaxSetback()

	out := make([]layout.Layout, len(layouts))
	for i, l := range layouts {
		l = l.Clone()
		l.Envelopes = make([]layout.Envelope, 0, len(l.Lots))
		for _, lot := range l.Lots {
			env := layout.Envelope{LotID: lot.ID, Geometry: geometry.EmptyPolygonal()}

			core := geometry.Buffer(lot.Geometry, -inset)
			if !geometry.IsEmpty(core) {
				shape := geometry.Intersection(geometry.MinimumRotatedRectangle(core), lot.Geometry)
				area := geometry.Area(shape)
				if limit := lot.Area * coverage; coverage > 0 && area > limit {
					if c, ok := geometry.Centroid(shape); ok {
						shape = geometry.ScaleAbout(shape, math.Sqrt(limit/area), c)
						area = geometry.Area(shape)
					}
				}
				env.Geometry, env.Area = shape, area
			}

			if env.Area < cfg.MinAreaSqFt {
				l.Tag(layout.TagTightEnvelope)
			}
			l.Envelopes = append(l.Envelopes, env)
		}
		out[i] = l
	}
	return out
}
