package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/twpayne/go-geom"
)

// Simplify reduces vertex density with Douglas-Peucker at tolerance feet.
// Used to shorten the polygons sent as spatial filters to GIS services; the
// result is never used for area computations.
func Simplify(mp *geom.MultiPolygon, tolerance float64) *geom.MultiPolygon {
	if IsEmpty(mp) || tolerance <= 0 {
		return mp
	}

	src := make(orb.MultiPolygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		poly := make(orb.Polygon, 0, p.NumLinearRings())
		for j := 0; j < p.NumLinearRings(); j++ {
			lr := p.LinearRing(j)
			ring := make(orb.Ring, lr.NumCoords())
			for k := range ring {
				c := lr.Coord(k)
				ring[k] = orb.Point{c.X(), c.Y()}
			}
			poly = append(poly, ring)
		}
		src = append(src, poly)
	}

	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(src.Clone()).(orb.MultiPolygon)
	if !ok {
		return mp
	}

	out := EmptyPolygonal()
	for _, poly := range simplified {
		var rings [][]geom.Coord
		for _, ring := range poly {
			if len(ring) < 4 {
				continue
			}
			coords := make([]geom.Coord, len(ring))
			for k, pt := range ring {
				coords[k] = geom.Coord{pt[0], pt[1]}
			}
			rings = append(rings, coords)
		}
		if len(rings) == 0 {
			continue
		}
		p, err := geom.NewPolygon(geom.XY).SetCoords(rings)
		if err != nil {
			continue
		}
		_ = out.Push(p)
	}
	if IsEmpty(out) {
		return mp
	}
	return out
}
