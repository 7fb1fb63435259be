package arcgis

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Well-known IDs Esri uses in place of EPSG codes.
var esriWKID = map[int]int{
	102100: geometry.SRIDWebMercator,
	102113: geometry.SRIDWebMercator,
	102748: geometry.WorkingSRID,
	102749: geometry.SRIDWashingtonSouth,
}

func normalizeWKID(wkid int) int {
	if epsg, ok := esriWKID[wkid]; ok {
		return epsg
	}
	return wkid
}

type esriSpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

func (sr *esriSpatialReference) srid() int {
	if sr == nil {
		return 0
	}
	if sr.LatestWKID != 0 {
		return normalizeWKID(sr.LatestWKID)
	}
	return normalizeWKID(sr.WKID)
}

type esriGeometry struct {
	X      *float64      `json:"x,omitempty"`
	Y      *float64      `json:"y,omitempty"`
	Points [][]float64   `json:"points,omitempty"`
	Paths  [][][]float64 `json:"paths,omitempty"`
	Rings  [][][]float64 `json:"rings,omitempty"`

	SpatialReference *esriSpatialReference `json:"spatialReference,omitempty"`
}

type esriFeatureSet struct {
	SpatialReference      *esriSpatialReference `json:"spatialReference"`
	ExceededTransferLimit bool                  `json:"exceededTransferLimit"`
	Features              []struct {
		Attributes map[string]any `json:"attributes"`
		Geometry   *esriGeometry  `json:"geometry"`
	} `json:"features"`
}

func decodeEsri(body []byte, requested int) (page, error) {
	var fs esriFeatureSet
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&fs); err != nil {
		return page{}, eris.Wrap(err, "esri json")
	}

	srid := fs.SpatialReference.srid()
	if srid == 0 {
		srid = requested
	}
	if srid == 0 {
		srid = geometry.WorkingSRID
	}

	pg := page{srid: srid, more: fs.ExceededTransferLimit}
	for _, f := range fs.Features {
		feat := Feature{Attributes: f.Attributes}
		if feat.Attributes == nil {
			feat.Attributes = map[string]any{}
		}
		if f.Geometry != nil {
			g, err := f.Geometry.toGeom()
			if err != nil {
				return page{}, err
			}
			feat.Geometry = g
		}
		pg.features = append(pg.features, feat)
	}
	return pg, nil
}

func (e *esriGeometry) toGeom() (geom.T, error) {
	switch {
	case e.X != nil && e.Y != nil:
		return geom.NewPoint(geom.XY).SetCoords(geom.Coord{*e.X, *e.Y})
	case len(e.Points) > 0:
		return geom.NewMultiPoint(geom.XY).SetCoords(toCoords(e.Points))
	case len(e.Paths) == 1:
		return geom.NewLineString(geom.XY).SetCoords(toCoords(e.Paths[0]))
	case len(e.Paths) > 1:
		lines := make([][]geom.Coord, len(e.Paths))
		for i, p := range e.Paths {
			lines[i] = toCoords(p)
		}
		return geom.NewMultiLineString(geom.XY).SetCoords(lines)
	case len(e.Rings) > 0:
		return assembleRings(e.Rings)
	default:
		return nil, nil
	}
}

func toCoords(pts [][]float64) []geom.Coord {
	out := make([]geom.Coord, 0, len(pts))
	for _, p := range pts {
		if len(p) >= 2 {
			out = append(out, geom.Coord{p[0], p[1]})
		}
	}
	return out
}

// assembleRings groups Esri rings into polygons. Esri writes shells clockwise
// and holes counter-clockwise, with no explicit grouping.
func assembleRings(rings [][][]float64) (*geom.MultiPolygon, error) {
	type shell struct {
		ring  orb.Ring
		holes []orb.Ring
	}
	var (
		shells []*shell
		holes  []orb.Ring
	)
	for _, r := range rings {
		ring := make(orb.Ring, 0, len(r))
		for _, p := range r {
			if len(p) >= 2 {
				ring = append(ring, orb.Point{p[0], p[1]})
			}
		}
		if len(ring) < 4 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		switch ring.Orientation() {
		case orb.CW:
			shells = append(shells, &shell{ring: ring})
		case orb.CCW:
			holes = append(holes, ring)
		}
	}

	// Services that ignore the winding convention send only one orientation.
	if len(shells) == 0 {
		for _, h := range holes {
			shells = append(shells, &shell{ring: h})
		}
		holes = nil
	}

	for _, h := range holes {
		for _, s := range shells {
			if planar.RingContains(s.ring, h[0]) {
				s.holes = append(s.holes, h)
				break
			}
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, s := range shells {
		coords := [][]geom.Coord{ringCoords(s.ring)}
		for _, h := range s.holes {
			coords = append(coords, ringCoords(h))
		}
		p, err := geom.NewPolygon(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, eris.Wrap(err, "esri rings")
		}
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "esri rings")
		}
	}
	return mp, nil
}

func ringCoords(r orb.Ring) []geom.Coord {
	out := make([]geom.Coord, len(r))
	for i, p := range r {
		out[i] = geom.Coord{p[0], p[1]}
	}
	return out
}

// encodeEsriGeometry renders a working-CRS geometry as an Esri JSON filter.
func encodeEsriGeometry(g geom.T) (string, string, error) {
	sr := &esriSpatialReference{WKID: geometry.WorkingSRID}
	var (
		out      esriGeometry
		geomType string
	)
	switch g := g.(type) {
	case *geom.Point:
		x, y := g.X(), g.Y()
		out = esriGeometry{X: &x, Y: &y}
		geomType = "esriGeometryPoint"
	case *geom.LineString:
		out = esriGeometry{Paths: [][][]float64{flatPairs(g.Coords())}}
		geomType = "esriGeometryPolyline"
	case *geom.Polygon:
		out = esriGeometry{Rings: polygonRings(g)}
		geomType = "esriGeometryPolygon"
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			out.Rings = append(out.Rings, polygonRings(g.Polygon(i))...)
		}
		geomType = "esriGeometryPolygon"
	default:
		return "", "", eris.Errorf("arcgis: unsupported filter geometry %T", g)
	}
	out.SpatialReference = sr
	data, err := json.Marshal(out)
	if err != nil {
		return "", "", eris.Wrap(err, "arcgis: encode filter geometry")
	}
	return string(data), geomType, nil
}

// polygonRings emits the shell clockwise and holes counter-clockwise.
func polygonRings(p *geom.Polygon) [][][]float64 {
	out := make([][][]float64, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c.X(), c.Y()}
		}
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		pairs := make([][]float64, len(ring))
		for j, pt := range ring {
			pairs[j] = []float64{round(pt[0]), round(pt[1])}
		}
		out = append(out, pairs)
	}
	return out
}

func flatPairs(coords []geom.Coord) [][]float64 {
	out := make([][]float64, len(coords))
	for i, c := range coords {
		out[i] = []float64{round(c.X()), round(c.Y())}
	}
	return out
}

// round trims filter coordinates to hundredths of a foot, keeping URLs short
// and cache keys stable.
func round(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return f
}

func decodeGeoJSON(body []byte) (page, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return page{}, eris.Wrap(err, "geojson")
	}
	var more bool
	var ext struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
		Properties            struct {
			ExceededTransferLimit bool `json:"exceededTransferLimit"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &ext); err == nil {
		more = ext.ExceededTransferLimit || ext.Properties.ExceededTransferLimit
	}

	pg := page{srid: geometry.SRIDWGS84, more: more}
	for _, f := range fc.Features {
		attrs := f.Properties
		if attrs == nil {
			attrs = map[string]any{}
		}
		pg.features = append(pg.features, Feature{Geometry: f.Geometry, Attributes: attrs})
	}
	return pg, nil
}
