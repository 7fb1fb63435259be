package geometry

import (
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-proj/v10"
)

// Common source reference systems.
const (
	SRIDWGS84           = 4326
	SRIDWebMercator     = 3857
	SRIDWashingtonSouth = 2927
)

// Reprojector converts geometries between EPSG codes. Transformers are
// created once per (source, target) pair; PROJ objects are not safe for
// concurrent use, so each carries its own lock.
type Reprojector struct {
	mu         sync.Mutex
	transforms map[[2]int]*transform
}

type transform struct {
	mu sync.Mutex
	pj *proj.PJ
}

// NewReprojector returns an empty transformer cache.
func NewReprojector() *Reprojector {
	return &Reprojector{transforms: make(map[[2]int]*transform)}
}

func (r *Reprojector) get(src, dst int) (*transform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := [2]int{src, dst}
	if t, ok := r.transforms[key]; ok {
		return t, nil
	}
	pj, err := proj.NewCRSToCRS(fmt.Sprintf("EPSG:%d", src), fmt.Sprintf("EPSG:%d", dst), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: create transform %d -> %d", src, dst)
	}
	// Longitude/latitude order for geographic systems, easting/northing for
	// projected ones.
	norm, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: normalize transform %d -> %d", src, dst)
	}
	t := &transform{pj: norm}
	r.transforms[key] = t
	return t, nil
}

// ToWorking reprojects g from srcSRID into the working CRS.
func (r *Reprojector) ToWorking(g geom.T, srcSRID int) (geom.T, error) {
	return r.Transform(g, srcSRID, WorkingSRID)
}

// Transform returns a copy of g reprojected from src to dst. A zero src is
// taken to mean the geometry is already in dst.
func (r *Reprojector) Transform(g geom.T, src, dst int) (geom.T, error) {
	if IsEmpty(g) {
		return g, nil
	}
	clone, err := deepCopy(g)
	if err != nil {
		return nil, err
	}
	if src == 0 || src == dst {
		return SetSRID(clone, dst), nil
	}

	t, err := r.get(src, dst)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := transformInPlace(t.pj, clone); err != nil {
		return nil, eris.Wrapf(err, "geometry: reproject %d -> %d", src, dst)
	}
	return SetSRID(clone, dst), nil
}

// TransformCoord reprojects a single coordinate.
func (r *Reprojector) TransformCoord(c geom.Coord, src, dst int) (geom.Coord, error) {
	if src == dst {
		return geom.Coord{c.X(), c.Y()}, nil
	}
	t, err := r.get(src, dst)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := t.pj.Forward(proj.Coord{c.X(), c.Y(), 0, 0})
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: reproject coord %d -> %d", src, dst)
	}
	return geom.Coord{out[0], out[1]}, nil
}

func deepCopy(g geom.T) (geom.T, error) {
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: copy marshal")
	}
	clone, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: copy unmarshal")
	}
	return clone, nil
}

func transformInPlace(pj *proj.PJ, g geom.T) error {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, child := range gc.Geoms() {
			if err := transformInPlace(pj, child); err != nil {
				return err
			}
		}
		return nil
	}

	flat := g.FlatCoords()
	stride := g.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		out, err := pj.Forward(proj.Coord{flat[i], flat[i+1], 0, 0})
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = out[0], out[1]
	}
	return nil
}
