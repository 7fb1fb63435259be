package layout

import (
	"math"
	"slices"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

const (
	bisectIters = 28
	// Pieces smaller than this are numerical noise from the cuts.
	sliverArea = 1.0
	// Pieces closer than this share a cut line.
	touchTolerance = 0.5
)

// frame is a rotated coordinate system. Strips are cut perpendicular to u
// and span the full v range.
type frame struct {
	ux, uy float64
}

func newFrame(theta float64) frame {
	return frame{ux: math.Cos(theta), uy: math.Sin(theta)}
}

func (f frame) project(x, y float64) (u, v float64) {
	return x*f.ux + y*f.uy, -x*f.uy + y*f.ux
}

func (f frame) coord(u, v float64) geom.Coord {
	return geom.Coord{u*f.ux - v*f.uy, u*f.uy + v*f.ux}
}

// extent is the bounding box of a geometry in frame coordinates.
type extent struct {
	umin, umax, vmin, vmax float64
}

func (f frame) extent(mp *geom.MultiPolygon) extent {
	e := extent{umin: math.Inf(1), umax: math.Inf(-1), vmin: math.Inf(1), vmax: math.Inf(-1)}
	flat, stride := mp.FlatCoords(), mp.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		u, v := f.project(flat[i], flat[i+1])
		e.umin, e.umax = min(e.umin, u), max(e.umax, u)
		e.vmin, e.vmax = min(e.vmin, v), max(e.vmax, v)
	}
	return e
}

// band returns the strip a <= u <= b over the whole v range, padded.
func (f frame) band(e extent, a, b float64) *geom.Polygon {
	vmin, vmax := e.vmin-1, e.vmax+1
	ring := []geom.Coord{f.coord(a, vmin), f.coord(b, vmin), f.coord(b, vmax), f.coord(a, vmax), f.coord(a, vmin)}
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{ring}).SetSRID(geometry.WorkingSRID)
}

// equalAreaCuts returns n+1 u positions splitting mp into n parts of equal
// area, found by bisection.
func (f frame) equalAreaCuts(mp *geom.MultiPolygon, n int) []float64 {
	e := f.extent(mp)
	total := geometry.Area(mp)
	cuts := make([]float64, 0, n+1)
	cuts = append(cuts, e.umin)
	lo := e.umin
	for k := 1; k < n; k++ {
		target := total * float64(k) / float64(n)
		a, b := lo, e.umax
		for range bisectIters {
			mid := (a + b) / 2
			if geometry.Area(geometry.Intersection(mp, f.band(e, e.umin-1, mid))) < target {
				a = mid
			} else {
				b = mid
			}
		}
		lo = (a + b) / 2
		cuts = append(cuts, lo)
	}
	return append(cuts, e.umax)
}

// strips splits mp into n equal-area strips across u. Disconnected parts of
// a strip become separate pieces.
func (f frame) strips(mp *geom.MultiPolygon, n int) []*geom.MultiPolygon {
	if n < 1 || geometry.IsEmpty(mp) {
		return nil
	}
	if n == 1 {
		return pieces(mp)
	}
	e := f.extent(mp)
	cuts := f.equalAreaCuts(mp, n)
	var out []*geom.MultiPolygon
	for i := 0; i+1 < len(cuts); i++ {
		out = append(out, pieces(geometry.Intersection(mp, f.band(e, cuts[i], cuts[i+1])))...)
	}
	return out
}

// grid splits mp into two equal-area rows along v, then each row into
// columns across u.
func (f frame) grid(mp *geom.MultiPolygon, n int) []*geom.MultiPolygon {
	rows := f.rotate90().strips(mp, 2)
	if len(rows) < 2 {
		return f.strips(mp, n)
	}
	var out []*geom.MultiPolygon
	for i, row := range rows {
		cols := n / 2
		if i == 0 {
			cols = n - n/2
		}
		out = append(out, f.strips(row, cols)...)
	}
	return out
}

func (f frame) rotate90() frame { return frame{ux: -f.uy, uy: f.ux} }

func pieces(mp *geom.MultiPolygon) []*geom.MultiPolygon {
	var out []*geom.MultiPolygon
	for _, p := range geometry.Polygons(mp) {
		if geometry.Area(p) < sliverArea {
			continue
		}
		out = append(out, geometry.AsMultiPolygon(p))
	}
	return out
}

// principalAxes returns the long-side and short-side orientations of the
// minimum rotated rectangle of mp.
func principalAxes(mp *geom.MultiPolygon) []float64 {
	mrr := geometry.MinimumRotatedRectangle(mp)
	polys := geometry.Polygons(mrr)
	if len(polys) == 0 {
		return []float64{0, math.Pi / 2}
	}
	ring := polys[0].LinearRing(0)
	if ring.NumCoords() < 3 {
		return []float64{0, math.Pi / 2}
	}
	c0, c1, c2 := ring.Coord(0), ring.Coord(1), ring.Coord(2)
	e1x, e1y := c1.X()-c0.X(), c1.Y()-c0.Y()
	e2x, e2y := c2.X()-c1.X(), c2.Y()-c1.Y()
	long := math.Atan2(e1y, e1x)
	if math.Hypot(e2x, e2y) > math.Hypot(e1x, e1y) {
		long = math.Atan2(e2y, e2x)
	}
	return []float64{long, long + math.Pi/2}
}

// candidateAxes is the principal axes plus the grid axes, de-duplicated.
func candidateAxes(mp *geom.MultiPolygon) []float64 {
	out := principalAxes(mp)
	for _, theta := range []float64{0, math.Pi / 2} {
		dup := slices.ContainsFunc(out, func(o float64) bool {
			d := math.Mod(math.Abs(o-theta), math.Pi)
			return d < 1e-3 || math.Pi-d < 1e-3
		})
		if !dup {
			out = append(out, theta)
		}
	}
	return out
}

// Width approximates a lot's width as the short side of its minimum
// rotated rectangle.
func Width(mp *geom.MultiPolygon) float64 {
	polys := geometry.Polygons(geometry.MinimumRotatedRectangle(mp))
	if len(polys) == 0 || polys[0].LinearRing(0).NumCoords() < 3 {
		return geometry.Bounds(mp).MinSide()
	}
	ring := polys[0].LinearRing(0)
	c0, c1, c2 := ring.Coord(0), ring.Coord(1), ring.Coord(2)
	return min(math.Hypot(c1.X()-c0.X(), c1.Y()-c0.Y()), math.Hypot(c2.X()-c1.X(), c2.Y()-c1.Y()))
}

// measure validates one piece against the zone minimums.
func measure(mp *geom.MultiPolygon, std config.ZoningStandard) Lot {
	area := geometry.Area(mp)
	width := Width(mp)
	return Lot{
		Geometry: mp,
		Area:     area,
		Width:    width,
		AreaOK:   area >= std.MinLotArea,
		WidthOK:  width >= std.MinLotWidth,
	}
}

// settle validates pieces and merges each failing piece into its smallest
// touching neighbour until every remaining piece is valid. Pieces with no
// neighbour to absorb them are left out as remainder. Lots are numbered in
// piece order.
func settle(parts []*geom.MultiPolygon, std config.ZoningStandard) []Lot {
	lots := make([]Lot, 0, len(parts))
	for _, p := range parts {
		lots = append(lots, measure(p, std))
	}

	for {
		bad := -1
		for i, l := range lots {
			if !l.Valid() && (bad < 0 || l.Area < lots[bad].Area) {
				bad = i
			}
		}
		if bad < 0 {
			break
		}

		into := -1
		for j, l := range lots {
			if j == bad || geometry.Distance(lots[bad].Geometry, l.Geometry) > touchTolerance {
				continue
			}
			if into < 0 || l.Area < lots[into].Area {
				into = j
			}
		}
		if into >= 0 {
			lots[into] = measure(geometry.Union(lots[into].Geometry, lots[bad].Geometry), std)
		}
		lots = slices.Delete(lots, bad, bad+1)
	}

	for i := range lots {
		lots[i].ID = i + 1
	}
	return lots
}
