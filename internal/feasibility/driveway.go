package feasibility

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// TagTurnaroundRequired marks a layout with a driveway long enough to need
// a fire turnaround.
const TagTurnaroundRequired = "INFO_TURNAROUND_REQUIRED"

// US survey feet per meter.
const feetPerMeter = 3937.0 / 1200.0

// DrivewayRouter draws straight driveways from lot centroids to the nearest
// road and grades them from sampled elevations.
type DrivewayRouter struct {
	fetcher   arcgis.Fetcher
	elevation arcgis.Service
	policy    config.DrivewayConfig
}

// NewDrivewayRouter creates a router that samples elevation from svc.
func NewDrivewayRouter(f arcgis.Fetcher, svc arcgis.Service, policy config.DrivewayConfig) *DrivewayRouter {
	return &DrivewayRouter{fetcher: f, elevation: svc, policy: policy}
}

// Route adds driveways to every layout. Violations become layout tags; no
// layout is removed. Without roads every layout is tagged infeasible.
func (r *DrivewayRouter) Route(ctx context.Context, layouts []layout.Layout, roads []geom.T) []layout.Layout {
	out := make([]layout.Layout, len(layouts))
	for i, l := range layouts {
		l = l.Clone()
		l.Driveways = nil
		if len(roads) == 0 {
			l.Tag(layout.TagDrivewayInfeasible)
			out[i] = l
			continue
		}

		for _, lot := range l.Lots {
			d, ok := r.route(lot, roads)
			if !ok {
				l.Tag(layout.TagDrivewayInfeasible)
				continue
			}
			l.Driveways = append(l.Driveways, d)
		}
		r.grade(ctx, &l)

		for _, d := range l.Driveways {
			if !d.Feasible {
				l.Tag(layout.TagDrivewayInfeasible)
			}
			if d.Turnaround {
				l.Tag(TagTurnaroundRequired)
			}
			if d.GradeKnown && d.GradePct > r.policy.MaxGradePct {
				l.Tag(layout.TagDrivewaySteep)
			}
		}
		if len(l.Driveways) > 0 {
			l.Tag(fmt.Sprintf("INFO_DRIVEWAY_LENGTH:%d", int(math.Round(l.DrivewayLength()))))
		}
		out[i] = l
	}
	return out
}

func (r *DrivewayRouter) route(lot layout.Lot, roads []geom.T) (layout.Driveway, bool) {
	c, ok := geometry.Centroid(lot.Geometry)
	if !ok {
		return layout.Driveway{}, false
	}
	var to geom.Coord
	best := math.Inf(1)
	for _, road := range roads {
		p, ok := geometry.NearestPoint(road, c)
		if !ok {
			continue
		}
		if d := math.Hypot(p.X()-c.X(), p.Y()-c.Y()); d < best {
			best, to = d, p
		}
	}
	if to == nil {
		return layout.Driveway{}, false
	}
	return layout.Driveway{
		LotID:      lot.ID,
		Line:       geometry.Line(c, to),
		Length:     best,
		WidthFt:    r.policy.MinWidthFt,
		Turnaround: best > r.policy.TurnaroundLengthFt,
		Feasible:   best <= r.policy.MaxLengthFt,
	}, true
}

// grade samples every driveway of a layout in one request. Missing samples
// leave the grade unknown and tag the layout.
func (r *DrivewayRouter) grade(ctx context.Context, l *layout.Layout) {
	if len(l.Driveways) == 0 {
		return
	}
	var points []geom.Coord
	spans := make([][2]int, len(l.Driveways))
	for i, d := range l.Driveways {
		pts := samplePoints(d.Line, r.policy.SampleIntervalFt)
		spans[i] = [2]int{len(points), len(points) + len(pts)}
		points = append(points, pts...)
	}

	samples := r.fetcher.Samples(ctx, r.elevation, points)
	if samples.Status != arcgis.StatusAvailable {
		l.Tag(layout.TagElevationDataIncomplete)
		return
	}
	scale := 1.0
	if strings.EqualFold(r.policy.ElevationUnits, "meters") {
		scale = feetPerMeter
	}

	for i := range l.Driveways {
		d := &l.Driveways[i]
		lo, hi := spans[i][0], spans[i][1]
		if d.Length == 0 {
			d.GradeKnown = true
			continue
		}
		climb, complete := 0.0, true
		for j := lo; j < hi; j++ {
			if j >= len(samples.Valid) || !samples.Valid[j] {
				complete = false
				break
			}
			if j > lo {
				climb += math.Abs(samples.Values[j]-samples.Values[j-1]) * scale
			}
		}
		if !complete {
			l.Tag(layout.TagElevationDataIncomplete)
			continue
		}
		d.GradePct = climb / d.Length * 100
		d.GradeKnown = true
	}
}

// samplePoints spaces points along a line at most interval apart, both
// endpoints included.
func samplePoints(line *geom.LineString, interval float64) []geom.Coord {
	if line == nil || line.NumCoords() < 2 {
		return nil
	}
	a, b := line.Coord(0), line.Coord(line.NumCoords()-1)
	length := math.Hypot(b.X()-a.X(), b.Y()-a.Y())
	n := 1
	if interval > 0 {
		n = max(1, int(math.Ceil(length/interval)))
	}
	pts := make([]geom.Coord, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		pts = append(pts, geom.Coord{a.X() + t*(b.X()-a.X()), a.Y() + t*(b.Y()-a.Y())})
	}
	return pts
}
