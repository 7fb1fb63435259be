package constraint

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// SpatialFilter selects the geometry sent with a feature query.
type SpatialFilter int

const (
	// FilterParcel intersects with the parcel polygon.
	FilterParcel SpatialFilter = iota
	// FilterCentroid intersects with the parcel centroid.
	FilterCentroid
)

// QueryMode controls how a multi-service source combines answers.
type QueryMode int

const (
	// Fallback tries services in order until one returns features.
	Fallback QueryMode = iota
	// All queries every service and concatenates the features.
	All
)

// FeatureSource queries one or more feature services.
type FeatureSource struct {
	Services []arcgis.Service
	Mode     QueryMode
	Filter   SpatialFilter
	// Distance widens the spatial filter, in feet.
	Distance float64
}

// Fetch implements Source.
func (s FeatureSource) Fetch(ctx context.Context, env Env, parcel *geom.MultiPolygon) Fetched {
	out := Fetched{Sources: map[string]arcgis.Status{}}

	q := arcgis.Query{Distance: s.Distance}
	switch s.Filter {
	case FilterCentroid:
		c, ok := geometry.Centroid(parcel)
		if !ok {
			out.Availability = Unavailable
			return out
		}
		q.Geometry = geometry.Point(c)
	default:
		q.Geometry = parcel
	}

	answered := 0
	for _, svc := range s.Services {
		fs := env.Fetcher.Query(ctx, svc, q)
		out.Sources[svc.Name] = fs.Status
		if !fs.Available() {
			continue
		}
		answered++
		for _, f := range fs.Features {
			out.Features = append(out.Features, stamp(f, svc.Name))
		}
		if s.Mode == Fallback && len(fs.Features) > 0 {
			break
		}
	}

	out.Availability = availability(answered, len(out.Sources))
	if s.Mode == Fallback && answered > 0 {
		// Any answer from the chain is a complete answer.
		out.Availability = Available
	}
	return out
}

func availability(answered, asked int) Availability {
	switch {
	case asked == 0 || answered == 0:
		return Unavailable
	case answered < asked:
		return Partial
	default:
		return Available
	}
}

func stamp(f arcgis.Feature, service string) arcgis.Feature {
	attrs := make(map[string]any, len(f.Attributes)+1)
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	attrs[SourceAttr] = service
	return arcgis.Feature{Geometry: f.Geometry, Attributes: attrs}
}

// Slope classes in degrees.
const (
	SteepSlopeDegrees    = 33.0
	ModerateSlopeDegrees = 15.0
)

// Slope feature classes.
const (
	SlopeSteep    = "steep"
	SlopeModerate = "moderate"
)

// SlopeSource samples a slope raster over the parcel bounds and vectorizes
// the steep and moderate cells.
type SlopeSource struct {
	Service arcgis.Service
	// Grid is the raster size in cells along each axis.
	Grid int
}

// Fetch implements Source.
func (s SlopeSource) Fetch(ctx context.Context, env Env, parcel *geom.MultiPolygon) Fetched {
	out := Fetched{Sources: map[string]arcgis.Status{}, Metrics: map[string]float64{}}
	grid := s.Grid
	if grid <= 0 {
		grid = 64
	}

	box := geometry.Bounds(parcel)
	r := env.Fetcher.ExportImage(ctx, s.Service, arcgis.ImageRequest{
		Box:            box,
		Width:          grid,
		Height:         grid,
		RasterFunction: "Slope Degrees",
	})
	out.Sources[s.Service.Name] = r.Status
	if !r.Available() {
		out.Availability = Unavailable
		return out
	}
	out.Availability = Available

	steep := cellRuns(r, func(v float64) bool { return v >= SteepSlopeDegrees })
	moderate := cellRuns(r, func(v float64) bool { return v >= ModerateSlopeDegrees && v < SteepSlopeDegrees })

	area := geometry.Area(parcel)
	for class, cells := range map[string]*geom.MultiPolygon{SlopeSteep: steep, SlopeModerate: moderate} {
		frac := 0.0
		if area > 0 {
			frac = geometry.Area(geometry.Intersection(cells, parcel)) / area
		}
		out.Metrics["slope_"+class+"_fraction"] = frac
	}
	if !geometry.IsEmpty(steep) {
		out.Features = append(out.Features, arcgis.Feature{
			Geometry:   steep,
			Attributes: map[string]any{SourceAttr: s.Service.Name, "class": SlopeSteep},
		})
	}
	if !geometry.IsEmpty(moderate) {
		out.Features = append(out.Features, arcgis.Feature{
			Geometry:   moderate,
			Attributes: map[string]any{SourceAttr: s.Service.Name, "class": SlopeModerate},
		})
	}
	return out
}

// cellRuns unions the cells matching keep, merging horizontal runs first so
// the union sees one rectangle per run instead of one per cell.
func cellRuns(r arcgis.Raster, keep func(float64) bool) *geom.MultiPolygon {
	var rects []geom.T
	for y := 0; y < r.Height; y++ {
		start := -1
		for x := 0; x <= r.Width; x++ {
			in := x < r.Width && keep(r.At(x, y))
			switch {
			case in && start < 0:
				start = x
			case !in && start >= 0:
				first, last := r.CellBox(start, y), r.CellBox(x-1, y)
				rects = append(rects, geometry.Rect(geometry.Box{
					MinX: first.MinX, MinY: first.MinY, MaxX: last.MaxX, MaxY: last.MaxY,
				}))
				start = -1
			}
		}
	}
	return geometry.Union(rects...)
}

// SoilSource reads the soil map unit under the parcel centroid from a tabular
// service and septic records from a feature service.
type SoilSource struct {
	Tabular arcgis.Service
	Septic  arcgis.Service
}

// SoilQuery returns the SDA SQL for the map units at a WGS84 point.
func SoilQuery(pointWKT string) string {
	return fmt.Sprintf(`SELECT TOP 5 mu.mukey, mu.muname, c.drainagecl, c.hydgrp
FROM SDA_Get_Mukey_from_intersection_with_WktWgs84('%s') AS k
INNER JOIN mapunit mu ON mu.mukey = k.mukey
LEFT JOIN component c ON c.mukey = mu.mukey AND c.majcompflag = 'Yes'`, pointWKT)
}

// Fetch implements Source.
func (s SoilSource) Fetch(ctx context.Context, env Env, parcel *geom.MultiPolygon) Fetched {
	out := Fetched{Sources: map[string]arcgis.Status{}}

	answered := 0
	if pt, ok := s.centroidWKT(env, parcel); ok {
		tbl := env.Fetcher.PostTabular(ctx, s.Tabular, SoilQuery(pt))
		out.Sources[s.Tabular.Name] = tbl.Status
		if tbl.Available() {
			answered++
			for _, rec := range tbl.Records() {
				attrs := map[string]any{SourceAttr: s.Tabular.Name}
				for k, v := range rec {
					attrs[k] = v
				}
				out.Features = append(out.Features, arcgis.Feature{Attributes: attrs})
			}
		}
	} else {
		out.Sources[s.Tabular.Name] = arcgis.StatusUnavailable
	}

	fs := env.Fetcher.Query(ctx, s.Septic, arcgis.Query{Geometry: parcel})
	out.Sources[s.Septic.Name] = fs.Status
	if fs.Available() {
		answered++
		for _, f := range fs.Features {
			out.Features = append(out.Features, stamp(f, s.Septic.Name))
		}
	}

	out.Availability = availability(answered, 2)
	return out
}

func (s SoilSource) centroidWKT(env Env, parcel *geom.MultiPolygon) (string, bool) {
	c, ok := geometry.Centroid(parcel)
	if !ok || env.Reproj == nil {
		return "", false
	}
	ll, err := env.Reproj.TransformCoord(c, geometry.WorkingSRID, geometry.SRIDWGS84)
	if err != nil {
		return "", false
	}
	pt := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{round6(ll.X()), round6(ll.Y())})
	text, err := wkt.Marshal(pt)
	if err != nil {
		return "", false
	}
	return text, true
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// attrText joins a feature's attribute values, lower-cased, for keyword
// checks against free-text hazard descriptions.
func attrText(f arcgis.Feature) string {
	var b strings.Builder
	for k, v := range f.Attributes {
		if k == SourceAttr || v == nil {
			continue
		}
		b.WriteString(strings.ToLower(fmt.Sprint(v)))
		b.WriteByte(' ')
	}
	return b.String()
}
