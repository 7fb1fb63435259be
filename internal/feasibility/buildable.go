package feasibility

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

var unionBuffers = geometry.Union

// Buildable is the result of the buildable area engine.
type Buildable struct {
	// Envelope is the parcel inset by the largest setback.
	Envelope *geom.MultiPolygon
	// Excluded is the union of every constraint buffer.
	Excluded *geom.MultiPolygon
	Geometry *geom.MultiPolygon
	Area     float64
}

// ComputeBuildable insets the parcel by the zone's largest setback and
// removes every non-empty constraint buffer. Degenerate inputs yield an
// empty result rather than an error.
func ComputeBuildable(parcel *geom.MultiPolygon, std config.ZoningStandard, results []constraint.Result) Buildable {
	b := Buildable{Excluded: geometry.EmptyPolygonal()}

	b.Envelope = parcel
	if inset := std.MaxSetback(); inset > 0 {
		b.Envelope = geometry.Buffer(parcel, -inset)
	}
	if geometry.IsEmpty(b.Envelope) {
		b.Envelope = geometry.EmptyPolygonal()
		b.Geometry = geometry.EmptyPolygonal()
		return b
	}

	var buffers []geom.T
	for _, r := range results {
		if !geometry.IsEmpty(r.Buffer) {
			buffers = append(buffers, r.Buffer)
		}
	}
	b.Geometry = geometry.AsMultiPolygon(b.Envelope)
	if len(buffers) > 0 {
		b.Excluded = unionBuffers(buffers...)
		if geometry.IsEmpty(b.Excluded) {
			// The union failed on non-empty input. Remove each buffer in
			// turn; Excluded becomes whatever of the envelope was removed.
			for _, buf := range buffers {
				b.Geometry = geometry.Difference(b.Geometry, buf)
			}
			b.Excluded = geometry.Difference(b.Envelope, b.Geometry)
		} else {
			b.Geometry = geometry.Difference(b.Envelope, b.Excluded)
		}
	}
	b.Area = geometry.Area(b.Geometry)
	return b
}

// FailsBuildableGate reports whether the buildable area cannot hold two lots
// of the zone's minimum size.
func FailsBuildableGate(buildableArea float64, std config.ZoningStandard) bool {
	return buildableArea < 2*std.MinLotArea
}
