// Package geometry holds the planar operations used by the feasibility
// pipeline. Values crossing the package boundary are go-geom types tagged with
// the working SRID; GEOS handles live only inside a single call.
package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
)

// WorkingSRID is NAD83 / Washington North (US survey feet). All areas are
// square feet and all distances feet.
const WorkingSRID = 2285

const quadSegs = 8

// Box is an axis-aligned bounding rectangle.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width is the X extent.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height is the Y extent.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Empty reports whether the box encloses nothing.
func (b Box) Empty() bool { return !(b.MaxX > b.MinX) || !(b.MaxY > b.MinY) }

// MinSide is the shorter of width and height.
func (b Box) MinSide() float64 { return min(b.Width(), b.Height()) }

// Center returns the box midpoint.
func (b Box) Center() geom.Coord { return geom.Coord{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2} }

// Expand grows the box by d on every side.
func (b Box) Expand(d float64) Box {
	return Box{b.MinX - d, b.MinY - d, b.MaxX + d, b.MaxY + d}
}

// EmptyPolygonal returns an empty multipolygon in the working CRS.
func EmptyPolygonal() *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY).SetSRID(WorkingSRID)
}

// IsEmpty reports whether g is nil or has no coordinates.
func IsEmpty(g geom.T) bool {
	switch g := g.(type) {
	case nil:
		return true
	case *geom.MultiPolygon:
		return g == nil || g.NumPolygons() == 0
	case *geom.GeometryCollection:
		if g == nil {
			return true
		}
		for _, child := range g.Geoms() {
			if !IsEmpty(child) {
				return false
			}
		}
		return true
	default:
		return len(g.FlatCoords()) == 0
	}
}

// safe runs fn and converts a GEOS panic into the fallback value. GEOS
// reports topology failures by panicking through go-geos.
func safe[T any](op string, fallback T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Debug("geometry: degenerate operation", zap.String("op", op), zap.Any("panic", r))
			out = fallback
		}
	}()
	return fn()
}

func toGEOS(g geom.T) (*geos.Geom, bool) {
	if IsEmpty(g) {
		return nil, false
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, false
	}
	gg, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, false
	}
	if !gg.IsValid() {
		fixed := gg.MakeValid()
		gg.Destroy()
		gg = fixed
	}
	return gg, true
}

func fromGEOS(gg *geos.Geom) geom.T {
	if gg == nil || gg.IsEmpty() {
		return nil
	}
	t, err := wkb.Unmarshal(gg.ToWKB())
	if err != nil {
		return nil
	}
	return SetSRID(t, WorkingSRID)
}

func polygonalFromGEOS(gg *geos.Geom) *geom.MultiPolygon {
	return AsMultiPolygon(fromGEOS(gg))
}

// AsMultiPolygon extracts the areal parts of g. Points and lines are dropped.
func AsMultiPolygon(g geom.T) *geom.MultiPolygon {
	out := EmptyPolygonal()
	appendPolygons(out, g)
	return out
}

func appendPolygons(dst *geom.MultiPolygon, g geom.T) {
	switch g := g.(type) {
	case *geom.Polygon:
		if g != nil && g.NumLinearRings() > 0 {
			_ = dst.Push(force2D(g))
		}
	case *geom.MultiPolygon:
		if g == nil {
			return
		}
		for i := 0; i < g.NumPolygons(); i++ {
			appendPolygons(dst, g.Polygon(i))
		}
	case *geom.GeometryCollection:
		if g == nil {
			return
		}
		for _, child := range g.Geoms() {
			appendPolygons(dst, child)
		}
	}
}

func force2D(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	rings := make([][]geom.Coord, p.NumLinearRings())
	for i := range rings {
		lr := p.LinearRing(i)
		rings[i] = make([]geom.Coord, lr.NumCoords())
		for j := range rings[i] {
			c := lr.Coord(j)
			rings[i][j] = geom.Coord{c.X(), c.Y()}
		}
	}
	return geom.NewPolygon(geom.XY).MustSetCoords(rings)
}

// Polygons splits a multipolygon into its parts.
func Polygons(mp *geom.MultiPolygon) []*geom.Polygon {
	if mp == nil {
		return nil
	}
	out := make([]*geom.Polygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		out = append(out, mp.Polygon(i).SetSRID(WorkingSRID))
	}
	return out
}

// Area returns the planar area of g in square feet.
func Area(g geom.T) float64 {
	gg, ok := toGEOS(g)
	if !ok {
		return 0
	}
	defer gg.Destroy()
	return safe("area", 0, gg.Area)
}

// Length returns the planar length (or perimeter) of g in feet.
func Length(g geom.T) float64 {
	gg, ok := toGEOS(g)
	if !ok {
		return 0
	}
	defer gg.Destroy()
	return safe("length", 0, gg.Length)
}

// Buffer offsets g by d feet. A negative d insets polygons.
func Buffer(g geom.T, d float64) *geom.MultiPolygon {
	gg, ok := toGEOS(g)
	if !ok {
		return EmptyPolygonal()
	}
	defer gg.Destroy()
	return safe("buffer", EmptyPolygonal(), func() *geom.MultiPolygon {
		return polygonalFromGEOS(gg.Buffer(d, quadSegs))
	})
}

// Union merges the areal parts of gs.
func Union(gs ...geom.T) *geom.MultiPolygon {
	parts := make([]*geos.Geom, 0, len(gs))
	for _, g := range gs {
		if gg, ok := toGEOS(g); ok {
			parts = append(parts, gg)
		}
	}
	if len(parts) == 0 {
		return EmptyPolygonal()
	}
	return safe("union", EmptyPolygonal(), func() *geom.MultiPolygon {
		coll := geos.NewCollection(geos.TypeIDGeometryCollection, parts)
		defer coll.Destroy()
		return polygonalFromGEOS(coll.UnaryUnion())
	})
}

// Difference returns a minus b.
func Difference(a, b geom.T) *geom.MultiPolygon {
	ga, ok := toGEOS(a)
	if !ok {
		return EmptyPolygonal()
	}
	defer ga.Destroy()
	gb, ok := toGEOS(b)
	if !ok {
		return polygonalFromGEOS(ga)
	}
	defer gb.Destroy()
	return safe("difference", EmptyPolygonal(), func() *geom.MultiPolygon {
		return polygonalFromGEOS(ga.Difference(gb))
	})
}

// Intersection returns the areal overlap of a and b.
func Intersection(a, b geom.T) *geom.MultiPolygon {
	ga, ok := toGEOS(a)
	if !ok {
		return EmptyPolygonal()
	}
	defer ga.Destroy()
	gb, ok := toGEOS(b)
	if !ok {
		return EmptyPolygonal()
	}
	defer gb.Destroy()
	return safe("intersection", EmptyPolygonal(), func() *geom.MultiPolygon {
		return polygonalFromGEOS(ga.Intersection(gb))
	})
}

// IntersectionLength returns the length of the linear overlap of lines with
// area.
func IntersectionLength(lines, area geom.T) float64 {
	gl, ok := toGEOS(lines)
	if !ok {
		return 0
	}
	defer gl.Destroy()
	ga, ok := toGEOS(area)
	if !ok {
		return 0
	}
	defer ga.Destroy()
	return safe("intersection_length", 0, func() float64 {
		return gl.Intersection(ga).Length()
	})
}

// Intersects reports whether a and b share any point.
func Intersects(a, b geom.T) bool {
	ga, ok := toGEOS(a)
	if !ok {
		return false
	}
	defer ga.Destroy()
	gb, ok := toGEOS(b)
	if !ok {
		return false
	}
	defer gb.Destroy()
	return safe("intersects", false, func() bool { return ga.Intersects(gb) })
}

// Contains reports whether b lies entirely within a.
func Contains(a, b geom.T) bool {
	ga, ok := toGEOS(a)
	if !ok {
		return false
	}
	defer ga.Destroy()
	gb, ok := toGEOS(b)
	if !ok {
		return false
	}
	defer gb.Destroy()
	return safe("contains", false, func() bool { return ga.Contains(gb) })
}

// Distance returns the minimum distance between a and b, or +Inf when either
// is empty.
func Distance(a, b geom.T) float64 {
	ga, ok := toGEOS(a)
	if !ok {
		return math.Inf(1)
	}
	defer ga.Destroy()
	gb, ok := toGEOS(b)
	if !ok {
		return math.Inf(1)
	}
	defer gb.Destroy()
	return safe("distance", math.Inf(1), func() float64 { return ga.Distance(gb) })
}

// Centroid returns the center of mass of g.
func Centroid(g geom.T) (geom.Coord, bool) {
	gg, ok := toGEOS(g)
	if !ok {
		return nil, false
	}
	defer gg.Destroy()
	c := safe("centroid", geom.Coord(nil), func() geom.Coord {
		pt := gg.Centroid()
		defer pt.Destroy()
		if pt.IsEmpty() {
			return nil
		}
		return geom.Coord{pt.X(), pt.Y()}
	})
	return c, c != nil
}

// NearestPoint returns the point on target closest to from.
func NearestPoint(target geom.T, from geom.Coord) (geom.Coord, bool) {
	gt, ok := toGEOS(target)
	if !ok {
		return nil, false
	}
	defer gt.Destroy()
	pt, ok := toGEOS(Point(from))
	if !ok {
		return nil, false
	}
	defer pt.Destroy()
	c := safe("nearest_point", geom.Coord(nil), func() geom.Coord {
		pts := gt.NearestPoints(pt)
		if len(pts) == 0 {
			return nil
		}
		return geom.Coord{pts[0][0], pts[0][1]}
	})
	return c, c != nil
}

// Boundary returns the linear boundary of an areal geometry.
func Boundary(g geom.T) geom.T {
	gg, ok := toGEOS(g)
	if !ok {
		return nil
	}
	defer gg.Destroy()
	return safe("boundary", geom.T(nil), func() geom.T { return fromGEOS(gg.Boundary()) })
}

// MinimumRotatedRectangle returns the smallest-area rectangle enclosing g.
func MinimumRotatedRectangle(g geom.T) *geom.MultiPolygon {
	gg, ok := toGEOS(g)
	if !ok {
		return EmptyPolygonal()
	}
	defer gg.Destroy()
	return safe("minimum_rotated_rectangle", EmptyPolygonal(), func() *geom.MultiPolygon {
		return polygonalFromGEOS(gg.MinimumRotatedRectangle())
	})
}

// Bounds returns the bounding box of g.
func Bounds(g geom.T) Box {
	if IsEmpty(g) {
		return Box{}
	}
	b := g.Bounds()
	return Box{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Rect builds the polygon for a box.
func Rect(b Box) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}, {b.MinX, b.MinY},
	}}).SetSRID(WorkingSRID)
}

// Point builds a point in the working CRS.
func Point(c geom.Coord) *geom.Point {
	return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{c.X(), c.Y()}).SetSRID(WorkingSRID)
}

// Line builds a line string in the working CRS.
func Line(coords ...geom.Coord) *geom.LineString {
	return geom.NewLineString(geom.XY).MustSetCoords(coords).SetSRID(WorkingSRID)
}

// ScaleAbout scales every vertex of mp toward origin by factor.
func ScaleAbout(mp *geom.MultiPolygon, factor float64, origin geom.Coord) *geom.MultiPolygon {
	if IsEmpty(mp) {
		return EmptyPolygonal()
	}
	out := geom.NewMultiPolygonFlat(geom.XY, append([]float64(nil), mp.FlatCoords()...), cloneEndss(mp.Endss())).SetSRID(WorkingSRID)
	flat := out.FlatCoords()
	for i := 0; i+1 < len(flat); i += 2 {
		flat[i] = origin.X() + (flat[i]-origin.X())*factor
		flat[i+1] = origin.Y() + (flat[i+1]-origin.Y())*factor
	}
	return out
}

func cloneEndss(endss [][]int) [][]int {
	out := make([][]int, len(endss))
	for i, ends := range endss {
		out[i] = append([]int(nil), ends...)
	}
	return out
}

// SetSRID tags g with srid and returns it.
func SetSRID(g geom.T, srid int) geom.T {
	switch g := g.(type) {
	case *geom.Point:
		return g.SetSRID(srid)
	case *geom.LineString:
		return g.SetSRID(srid)
	case *geom.Polygon:
		return g.SetSRID(srid)
	case *geom.MultiPoint:
		return g.SetSRID(srid)
	case *geom.MultiLineString:
		return g.SetSRID(srid)
	case *geom.MultiPolygon:
		return g.SetSRID(srid)
	case *geom.GeometryCollection:
		return g.SetSRID(srid)
	default:
		return g
	}
}
