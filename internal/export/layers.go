// Package export writes the artifacts of a feasibility run: GeoJSON layers,
// a GeoPackage, shapefiles, a summary workbook, a map image and the JSON
// summary.
package export

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// Layer names, in export order. They are also the file and table names.
const (
	LayerParcel      = "parcel"
	LayerConstraints = "constraints"
	LayerBuildable   = "buildable"
	LayerLayouts     = "layouts"
	LayerDriveways   = "driveways"
	LayerEnvelopes   = "envelopes"
)

// Kind is the geometry type of a layer.
type Kind int

const (
	// Polygonal layers hold multipolygons.
	Polygonal Kind = iota
	// Linear layers hold linestrings.
	Linear
)

// FieldType is the attribute type of a field.
type FieldType int

// Field types.
const (
	Text FieldType = iota
	Real
	Integer
)

// Field is one attribute column. Names fit the ten-character dBASE limit.
type Field struct {
	Name string
	Type FieldType
}

// Feature is one geometry with its attribute values keyed by field name.
// Values are string, float64 or int.
type Feature struct {
	Geometry   geom.T
	Properties map[string]any
}

// Layer is a named feature set with a fixed schema.
type Layer struct {
	Name     string
	Kind     Kind
	Fields   []Field
	Features []Feature
}

// Bounds returns the extent of every feature in the layer.
func (l Layer) Bounds() geometry.Box {
	var gs []geom.T
	for _, f := range l.Features {
		gs = append(gs, f.Geometry)
	}
	return boundsOf(gs...)
}

var (
	parcelFields = []Field{
		{Name: "parcel_id", Type: Text},
		{Name: "area_sqft", Type: Real},
		{Name: "acres", Type: Real},
		{Name: "zone", Type: Text},
		{Name: "address", Type: Text},
	}
	constraintFields = []Field{
		{Name: "layer", Type: Text},
		{Name: "avail", Type: Text},
		{Name: "overlap", Type: Real},
		{Name: "area_sqft", Type: Real},
		{Name: "tags", Type: Text},
	}
	buildableFields = []Field{
		{Name: "area_sqft", Type: Real},
	}
	lotFields = []Field{
		{Name: "layout_id", Type: Text},
		{Name: "strategy", Type: Text},
		{Name: "lot_id", Type: Integer},
		{Name: "area_sqft", Type: Real},
		{Name: "width_ft", Type: Real},
		{Name: "score", Type: Real},
	}
	drivewayFields = []Field{
		{Name: "layout_id", Type: Text},
		{Name: "lot_id", Type: Integer},
		{Name: "length_ft", Type: Real},
		{Name: "grade_pct", Type: Real},
		{Name: "turnaround", Type: Integer},
		{Name: "feasible", Type: Integer},
	}
	envelopeFields = []Field{
		{Name: "layout_id", Type: Text},
		{Name: "lot_id", Type: Integer},
		{Name: "area_sqft", Type: Real},
	}
)

// BuildLayers converts a run snapshot into the six export layers. Layers
// without geometry are returned empty, never omitted.
func BuildLayers(s feasibility.State) []Layer {
	return []Layer{
		parcelLayer(s),
		constraintLayer(s),
		buildableLayer(s),
		lotLayer(s.Layouts),
		drivewayLayer(s.Layouts),
		envelopeLayer(s.Layouts),
	}
}

func parcelLayer(s feasibility.State) Layer {
	l := Layer{Name: LayerParcel, Kind: Polygonal, Fields: parcelFields}
	if geometry.IsEmpty(s.Parcel.Geometry) {
		return l
	}
	l.Features = append(l.Features, Feature{
		Geometry: s.Parcel.Geometry,
		Properties: map[string]any{
			"parcel_id": s.ParcelID,
			"area_sqft": round2(s.Parcel.Area()),
			"acres":     round2(s.Parcel.Area() / 43560),
			"zone":      s.ZoneCode,
			"address":   s.Parcel.Address,
		},
	})
	return l
}

func constraintLayer(s feasibility.State) Layer {
	l := Layer{Name: LayerConstraints, Kind: Polygonal, Fields: constraintFields}
	for _, r := range s.ConstraintResults() {
		if geometry.IsEmpty(r.Buffer) {
			continue
		}
		l.Features = append(l.Features, Feature{
			Geometry: r.Buffer,
			Properties: map[string]any{
				"layer":     r.Layer,
				"avail":     r.Availability.String(),
				"overlap":   round4(r.Overlap),
				"area_sqft": round2(geometry.Area(r.Buffer)),
				"tags":      strings.Join(r.Tags, ";"),
			},
		})
	}
	return l
}

func buildableLayer(s feasibility.State) Layer {
	l := Layer{Name: LayerBuildable, Kind: Polygonal, Fields: buildableFields}
	if geometry.IsEmpty(s.Buildable) {
		return l
	}
	l.Features = append(l.Features, Feature{
		Geometry:   s.Buildable,
		Properties: map[string]any{"area_sqft": round2(geometry.Area(s.Buildable))},
	})
	return l
}

func lotLayer(layouts []layout.Layout) Layer {
	l := Layer{Name: LayerLayouts, Kind: Polygonal, Fields: lotFields}
	for _, lay := range layouts {
		for _, lot := range lay.Lots {
			if geometry.IsEmpty(lot.Geometry) {
				continue
			}
			l.Features = append(l.Features, Feature{
				Geometry: lot.Geometry,
				Properties: map[string]any{
					"layout_id": lay.ID,
					"strategy":  string(lay.Strategy),
					"lot_id":    lot.ID,
					"area_sqft": round2(lot.Area),
					"width_ft":  round2(lot.Width),
					"score":     lay.Score,
				},
			})
		}
	}
	return l
}

func drivewayLayer(layouts []layout.Layout) Layer {
	l := Layer{Name: LayerDriveways, Kind: Linear, Fields: drivewayFields}
	for _, lay := range layouts {
		for _, d := range lay.Driveways {
			if d.Line == nil || d.Line.NumCoords() < 2 {
				continue
			}
			grade := -1.0
			if d.GradeKnown {
				grade = round2(d.GradePct)
			}
			l.Features = append(l.Features, Feature{
				Geometry: d.Line,
				Properties: map[string]any{
					"layout_id":  lay.ID,
					"lot_id":     d.LotID,
					"length_ft":  round2(d.Length),
					"grade_pct":  grade,
					"turnaround": boolInt(d.Turnaround),
					"feasible":   boolInt(d.Feasible),
				},
			})
		}
	}
	return l
}

func envelopeLayer(layouts []layout.Layout) Layer {
	l := Layer{Name: LayerEnvelopes, Kind: Polygonal, Fields: envelopeFields}
	for _, lay := range layouts {
		for _, e := range lay.Envelopes {
			if geometry.IsEmpty(e.Geometry) {
				continue
			}
			l.Features = append(l.Features, Feature{
				Geometry: e.Geometry,
				Properties: map[string]any{
					"layout_id": lay.ID,
					"lot_id":    e.LotID,
					"area_sqft": round2(e.Area),
				},
			})
		}
	}
	return l
}

// boundsOf returns the combined extent of the non-empty geometries.
func boundsOf(gs ...geom.T) geometry.Box {
	var out geometry.Box
	first := true
	for _, g := range gs {
		if geometry.IsEmpty(g) {
			continue
		}
		b := geometry.Bounds(g)
		if first {
			out, first = b, false
			continue
		}
		out.MinX = min(out.MinX, b.MinX)
		out.MinY = min(out.MinY, b.MinY)
		out.MaxX = max(out.MaxX, b.MaxX)
		out.MaxY = max(out.MaxY, b.MaxY)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round2(v float64) float64 { return roundTo(v, 100) }

func round4(v float64) float64 { return roundTo(v, 10000) }

func roundTo(v, scale float64) float64 { return math.Round(v*scale) / scale }
