package layout

import (
	"math"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Options tunes layout generation.
type Options struct {
	// Roads are road centerlines near the parcel, used to measure access.
	Roads []geom.T
	// MaxLots caps the lots of any layout. Zero means no cap.
	MaxLots int
	// HybridLambda weighs access length against lot count in the hybrid
	// strategy, in lots per 1,000 ft of access.
	HybridLambda float64
}

// Lot counts tried below the area-derived maximum before giving up on a
// strategy.
const maxCountSteps = 6

// Generate runs every strategy once over the buildable area. Layouts with no
// valid lot are discarded, so the result may be shorter than Strategies.
func Generate(buildable *geom.MultiPolygon, std config.ZoningStandard, opts Options) []Layout {
	log := zap.L().With(zap.String("component", "layout"))
	if geometry.IsEmpty(buildable) || std.MinLotArea <= 0 {
		return nil
	}
	g := &generator{buildable: buildable, std: std, opts: opts}
	g.maxN = int(geometry.Area(buildable) / std.MinLotArea)
	if opts.MaxLots > 0 {
		g.maxN = min(g.maxN, opts.MaxLots)
	}
	if g.maxN < 1 {
		return nil
	}

	var out []Layout
	for _, s := range Strategies {
		lots := g.run(s)
		if len(lots) == 0 {
			log.Debug("layout: strategy produced no valid lots", zap.String("strategy", string(s)))
			continue
		}
		out = append(out, newLayout(s, len(out)+1, lots))
	}
	return out
}

type generator struct {
	buildable *geom.MultiPolygon
	std       config.ZoningStandard
	opts      Options
	maxN      int
}

func (g *generator) run(s Strategy) []Lot {
	switch s {
	case MaxLots:
		return g.maxLots()
	case EqualSplit:
		return g.equalSplit()
	case RoadOptimized:
		return g.roadOptimized()
	case ConstraintAdaptive:
		return g.constraintAdaptive()
	case Hybrid:
		return g.hybrid()
	default:
		return nil
	}
}

// counts lists lot counts from the maximum down.
func (g *generator) counts() []int {
	var out []int
	for n := g.maxN; n >= 1 && len(out) < maxCountSteps; n-- {
		out = append(out, n)
	}
	return out
}

// maxLots tries strips along both principal axes and a two-row grid,
// keeping whichever settles into the most lots.
func (g *generator) maxLots() []Lot {
	axes := principalAxes(g.buildable)
	var best []Lot
	for _, n := range g.counts() {
		if len(best) >= n {
			break
		}
		for _, theta := range axes {
			f := newFrame(theta)
			for _, parts := range [][]*geom.MultiPolygon{f.strips(g.buildable, n), f.grid(g.buildable, n)} {
				if lots := settle(parts, g.std); len(lots) > len(best) {
					best = lots
				}
			}
		}
	}
	return best
}

// equalSplit cuts equal-area strips across the long axis and accepts the
// largest count whose parts are all valid without merging. Failing that,
// it settles an even split in two.
func (g *generator) equalSplit() []Lot {
	f := newFrame(principalAxes(g.buildable)[0])
	for _, n := range g.counts() {
		if n < 2 {
			break
		}
		parts := f.strips(g.buildable, n)
		if len(parts) != n {
			continue
		}
		lots := settle(parts, g.std)
		if len(lots) == n {
			return lots
		}
	}
	return settle(f.strips(g.buildable, min(2, g.maxN)), g.std)
}

// roadOptimized orients strips so each reaches the road, choosing the
// orientation with the least summed access length.
func (g *generator) roadOptimized() []Lot {
	axes := candidateAxes(g.buildable)
	var best []Lot
	bestAccess := math.Inf(1)
	for _, n := range g.counts() {
		for _, theta := range axes {
			lots := settle(newFrame(theta).strips(g.buildable, n), g.std)
			if len(lots) == 0 {
				continue
			}
			access := g.access(lots)
			if len(lots) > len(best) || (len(lots) == len(best) && access < bestAccess) {
				best, bestAccess = lots, access
			}
		}
		if len(best) >= n {
			break
		}
	}
	return best
}

// constraintAdaptive allots lots to each connected buildable component in
// proportion to its area, so lot lines fall on constraint edges wherever a
// buffer divides the site.
func (g *generator) constraintAdaptive() []Lot {
	var parts []*geom.MultiPolygon
	remaining := g.maxN
	for _, p := range geometry.Polygons(g.buildable) {
		comp := geometry.AsMultiPolygon(p)
		k := min(int(geometry.Area(comp)/g.std.MinLotArea), remaining)
		if k < 1 {
			continue
		}
		remaining -= k
		parts = append(parts, newFrame(principalAxes(comp)[0]).strips(comp, k)...)
		if remaining == 0 {
			break
		}
	}
	return settle(parts, g.std)
}

// hybrid maximises lots minus lambda times access length over counts and
// orientations.
func (g *generator) hybrid() []Lot {
	axes := candidateAxes(g.buildable)
	var best []Lot
	bestObj := math.Inf(-1)
	for _, n := range g.counts() {
		for _, theta := range axes {
			lots := settle(newFrame(theta).strips(g.buildable, n), g.std)
			if len(lots) == 0 {
				continue
			}
			obj := float64(len(lots)) - g.opts.HybridLambda*g.access(lots)/1000
			if obj > bestObj {
				best, bestObj = lots, obj
			}
		}
	}
	return best
}

// access sums the distance from each lot centroid to the nearest road. With
// no roads every orientation costs the same.
func (g *generator) access(lots []Lot) float64 {
	if len(g.opts.Roads) == 0 {
		return 0
	}
	total := 0.0
	for _, l := range lots {
		c, ok := geometry.Centroid(l.Geometry)
		if !ok {
			continue
		}
		pt := geometry.Point(c)
		nearest := math.Inf(1)
		for _, r := range g.opts.Roads {
			nearest = min(nearest, geometry.Distance(pt, r))
		}
		if !math.IsInf(nearest, 1) {
			total += nearest
		}
	}
	return total
}
