package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// dBASE field widths.
const (
	textWidth    = 254
	numberWidth  = 18
	realDecimals = 4
)

// WriteShapefile writes a layer to <dir>/<layer>.shp with its .shx, .dbf and
// .prj siblings, and returns the .shp path.
func WriteShapefile(dir string, l Layer) (string, error) {
	path := filepath.Join(dir, l.Name+".shp")
	shapeType := shp.POLYGON
	if l.Kind == Linear {
		shapeType = shp.POLYLINE
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return "", eris.Wrapf(err, "shapefile: create %s", path)
	}
	defer w.Close()

	fields := make([]shp.Field, len(l.Fields))
	for i, f := range l.Fields {
		switch f.Type {
		case Real:
			fields[i] = shp.FloatField(f.Name, numberWidth, realDecimals)
		case Integer:
			fields[i] = shp.NumberField(f.Name, numberWidth)
		default:
			fields[i] = shp.StringField(f.Name, textWidth)
		}
	}
	if err := w.SetFields(fields); err != nil {
		return "", eris.Wrapf(err, "shapefile: set fields %s", l.Name)
	}

	var skipped int
	for _, f := range l.Features {
		shape := toShape(f.Geometry)
		if shape == nil {
			skipped++
			continue
		}
		row := int(w.Write(shape))
		for j, field := range l.Fields {
			if err := w.WriteAttribute(row, j, attributeValue(field, f.Properties[field.Name])); err != nil {
				return "", eris.Wrapf(err, "shapefile: write %s.%s", l.Name, field.Name)
			}
		}
	}
	if skipped > 0 {
		zap.L().Debug("shapefile: skipped features",
			zap.String("layer", l.Name),
			zap.Int("skipped", skipped),
		)
	}

	prj := strings.TrimSuffix(path, ".shp") + ".prj"
	if err := os.WriteFile(prj, []byte(StatePlaneWKT), 0o644); err != nil {
		return "", eris.Wrapf(err, "shapefile: write %s", prj)
	}
	return path, nil
}

func attributeValue(f Field, v any) any {
	switch f.Type {
	case Real:
		if x, ok := v.(float64); ok {
			return x
		}
		return 0.0
	case Integer:
		if x, ok := v.(int); ok {
			return x
		}
		return 0
	default:
		s, _ := v.(string)
		if len(s) > textWidth {
			s = s[:textWidth]
		}
		return s
	}
}

// toShape converts a go-geom geometry to a go-shp shape. Returns nil for
// unsupported or empty geometries.
func toShape(g geom.T) shp.Shape {
	switch g := g.(type) {
	case *geom.MultiPolygon:
		return multiPolygonToShape(g)
	case *geom.Polygon:
		return multiPolygonToShape(geometry.AsMultiPolygon(g))
	case *geom.LineString:
		return lineStringToShape(g)
	default:
		return nil
	}
}

// multiPolygonToShape converts a multipolygon to a shapefile Polygon. Outer
// rings are written clockwise and holes counter-clockwise.
func multiPolygonToShape(mp *geom.MultiPolygon) shp.Shape {
	if geometry.IsEmpty(mp) {
		return nil
	}
	var parts [][]shp.Point
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			pts := shpPoints(poly.LinearRing(r).Coords())
			if len(pts) < 4 {
				continue
			}
			clockwise := signedArea(pts) < 0
			if (r == 0) != clockwise {
				reverse(pts)
			}
			parts = append(parts, pts)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p
}

func lineStringToShape(ls *geom.LineString) shp.Shape {
	if ls == nil || ls.NumCoords() < 2 {
		return nil
	}
	return shp.NewPolyLine([][]shp.Point{shpPoints(ls.Coords())})
}

func shpPoints(coords []geom.Coord) []shp.Point {
	pts := make([]shp.Point, len(coords))
	for i, c := range coords {
		pts[i] = shp.Point{X: c.X(), Y: c.Y()}
	}
	return pts
}

// signedArea is positive for counter-clockwise rings.
func signedArea(pts []shp.Point) float64 {
	sum := 0.0
	for i := 0; i+1 < len(pts); i++ {
		sum += pts[i].X*pts[i+1].Y - pts[i+1].X*pts[i].Y
	}
	return sum / 2
}

func reverse(pts []shp.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
