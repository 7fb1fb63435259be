package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/multierr"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/cost"
	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

const (
	originX = 1_300_000.0
	originY = 350_000.0
)

func rect(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return geometry.AsMultiPolygon(geometry.Rect(geometry.Box{
		MinX: originX + minX, MinY: originY + minY,
		MaxX: originX + maxX, MaxY: originY + maxY,
	}))
}

// testState is a finished run over a 400 x 300 ft parcel with a stream
// buffer along its east edge and one two-lot layout.
func testState() feasibility.State {
	s := feasibility.NewState("27050100100100")
	s.Phase = feasibility.PhaseExporting
	s.Parcel = feasibility.Parcel{ID: s.ParcelID, Geometry: rect(0, 0, 400, 300), Address: "123 MAIN ST"}
	s.ZoneCode = "R-20000"
	s.Constraints = map[string]constraint.Result{
		constraint.LayerStreams:   {Layer: constraint.LayerStreams, Buffer: rect(350, 0, 400, 300), Overlap: 0.125, Tags: []string{"RISK_STREAM_BUFFER"}},
		constraint.LayerUtilities: {Layer: constraint.LayerUtilities, Buffer: geometry.EmptyPolygonal(), Tags: []string{"INFO_PUBLIC_WATER_AVAILABLE"}},
	}
	s.LayerOrder = []string{constraint.LayerStreams, constraint.LayerUtilities}
	s.Buildable = rect(25, 25, 350, 280)

	l := layout.Layout{
		ID:        "equal_split_1",
		Strategy:  layout.EqualSplit,
		PlatClass: layout.ShortPlat,
		Tags:      []string{"short_plat"},
		Score:     72.5,
		Lots: []layout.Lot{
			{ID: 1, Geometry: rect(25, 25, 187.5, 280), Area: 41437.5, Width: 162.5, AreaOK: true, WidthOK: true},
			{ID: 2, Geometry: rect(187.5, 25, 350, 280), Area: 41437.5, Width: 162.5, AreaOK: true, WidthOK: true},
		},
		Driveways: []layout.Driveway{
			{LotID: 1, Line: geometry.Line(geom.Coord{originX + 106, originY + 152}, geom.Coord{originX + 106, originY - 10}), Length: 162, GradePct: 4, GradeKnown: true, WidthFt: 12, Feasible: true, Turnaround: true},
			{LotID: 2, Line: geometry.Line(geom.Coord{originX + 268, originY + 152}, geom.Coord{originX + 268, originY - 10}), Length: 162, WidthFt: 12, Feasible: true, Turnaround: true},
		},
		Envelopes: []layout.Envelope{
			{LotID: 1, Geometry: rect(60, 60, 150, 200), Area: 12600},
			{LotID: 2, Geometry: rect(220, 60, 310, 200), Area: 12600},
		},
	}
	s.Layouts = []layout.Layout{l}
	s.Costs = map[string]cost.Estimate{l.ID: {LayoutID: l.ID, Lots: 2, SurveyEngineering: 30000, Total: 100000}}
	s.Tags = []string{"RISK_STREAM_BUFFER", "INFO_PUBLIC_WATER_AVAILABLE", "SCORE_BEST_LAYOUT:equal_split_1"}
	s.BestLayoutID = l.ID
	s.BestScore = l.Score
	return s
}

func stoppedState() feasibility.State {
	s := feasibility.NewState("1")
	s.Phase = feasibility.PhaseExporting
	s.Parcel = feasibility.Parcel{ID: "1", Geometry: rect(0, 0, 100, 100)}
	s.Stopped = true
	s.StopReason = "parcel area 10000 sq ft cannot hold two lots of 20000 sq ft"
	s.Tags = []string{feasibility.TagNotSubdividable}
	return s
}

func layerByName(t *testing.T, layers []Layer, name string) Layer {
	t.Helper()
	for _, l := range layers {
		if l.Name == name {
			return l
		}
	}
	t.Fatalf("layer %s not found", name)
	return Layer{}
}

func TestBuildLayers(t *testing.T) {
	layers := BuildLayers(testState())
	require.Len(t, layers, 6)

	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	assert.Equal(t, []string{LayerParcel, LayerConstraints, LayerBuildable, LayerLayouts, LayerDriveways, LayerEnvelopes}, names)

	assert.Len(t, layerByName(t, layers, LayerParcel).Features, 1)
	constraints := layerByName(t, layers, LayerConstraints)
	require.Len(t, constraints.Features, 1, "empty buffers are skipped")
	assert.Equal(t, constraint.LayerStreams, constraints.Features[0].Properties["layer"])
	assert.Equal(t, "RISK_STREAM_BUFFER", constraints.Features[0].Properties["tags"])

	lots := layerByName(t, layers, LayerLayouts)
	require.Len(t, lots.Features, 2)
	assert.Equal(t, "equal_split_1", lots.Features[1].Properties["layout_id"])
	assert.Equal(t, 2, lots.Features[1].Properties["lot_id"])

	driveways := layerByName(t, layers, LayerDriveways)
	require.Len(t, driveways.Features, 2)
	assert.Equal(t, Linear, driveways.Kind)
	assert.InDelta(t, 4, driveways.Features[0].Properties["grade_pct"], 0)
	assert.InDelta(t, -1, driveways.Features[1].Properties["grade_pct"], 0, "unknown grade")

	for _, l := range layers {
		for _, f := range l.Fields {
			assert.LessOrEqual(t, len(f.Name), 10, "%s.%s", l.Name, f.Name)
		}
	}
}

func TestBuildLayers_Stopped(t *testing.T) {
	layers := BuildLayers(stoppedState())
	require.Len(t, layers, 6)
	assert.Len(t, layers[0].Features, 1)
	for _, l := range layers[1:] {
		assert.Empty(t, l.Features, l.Name)
	}
}

func TestMarshalGeoJSON(t *testing.T) {
	data, err := MarshalGeoJSON(layerByName(t, BuildLayers(testState()), LayerLayouts))
	require.NoError(t, err)

	var raw struct {
		Type string `json:"type"`
		Name string `json:"name"`
		CRS  struct {
			Properties map[string]string `json:"properties"`
		} `json:"crs"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "FeatureCollection", raw.Type)
	assert.Equal(t, LayerLayouts, raw.Name)
	assert.Equal(t, "urn:ogc:def:crs:EPSG::2285", raw.CRS.Properties["name"])

	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	require.Len(t, fc.Features, 2)
	assert.InDelta(t, 162.5*255, geometry.Area(fc.Features[0].Geometry), 1)
	assert.Equal(t, "layouts.1", fc.Features[0].ID)
}

func TestMarshalGeoJSON_EmptyLayer(t *testing.T) {
	data, err := MarshalGeoJSON(Layer{Name: LayerDriveways, Kind: Linear})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"features": []`)

	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Empty(t, fc.Features)
}

func TestWriteGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), GeoPackageFile)
	layers := BuildLayers(testState())
	require.NoError(t, WriteGeoPackage(context.Background(), path, layers))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	var appID, version int
	require.NoError(t, db.QueryRow("PRAGMA application_id").Scan(&appID))
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, gpkgApplicationID, appID)
	assert.Equal(t, gpkgUserVersion, version)

	var tables int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM gpkg_contents WHERE data_type = 'features'").Scan(&tables))
	assert.Equal(t, 6, tables)

	var geomType string
	require.NoError(t, db.QueryRow("SELECT geometry_type_name FROM gpkg_geometry_columns WHERE table_name = 'driveways'").Scan(&geomType))
	assert.Equal(t, "LINESTRING", geomType)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "layouts"`).Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "envelopes"`).Scan(&count))
	assert.Equal(t, 2, count)

	var blob []byte
	var layoutID string
	var lotID int
	require.NoError(t, db.QueryRow(`SELECT geom, layout_id, lot_id FROM "layouts" ORDER BY fid LIMIT 1`).Scan(&blob, &layoutID, &lotID))
	assert.Equal(t, "equal_split_1", layoutID)
	assert.Equal(t, 1, lotID)
	require.Greater(t, len(blob), 40)
	assert.Equal(t, []byte{'G', 'P', 0, 0x03}, blob[:4])

	g, err := wkb.Unmarshal(blob[40:])
	require.NoError(t, err)
	assert.InDelta(t, 162.5*255, geometry.Area(g), 1)
}

func TestWriteGeoPackage_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), GeoPackageFile)
	require.NoError(t, WriteGeoPackage(context.Background(), path, BuildLayers(testState())))
	require.NoError(t, WriteGeoPackage(context.Background(), path, BuildLayers(stoppedState())))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "layouts"`).Scan(&count))
	assert.Zero(t, count)
}

// readShapefile reads a shapefile back into features keyed by lower-case
// field name.
func readShapefile(t *testing.T, path string) ([]shp.Shape, []map[string]string) {
	t.Helper()
	reader, err := shp.Open(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	var shapes []shp.Shape
	var rows []map[string]string
	for reader.Next() {
		_, shape := reader.Shape()
		row := make(map[string]string, len(fields))
		for i, f := range fields {
			name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
			row[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		shapes = append(shapes, shape)
		rows = append(rows, row)
	}
	return shapes, rows
}

func TestWriteShapefile_Polygons(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteShapefile(dir, layerByName(t, BuildLayers(testState()), LayerLayouts))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "layouts.shp"), path)
	for _, ext := range []string{".shx", ".dbf", ".prj"} {
		assert.FileExists(t, filepath.Join(dir, "layouts"+ext))
	}

	shapes, rows := readShapefile(t, path)
	require.Len(t, shapes, 2)
	assert.Equal(t, "equal_split_1", rows[0]["layout_id"])
	assert.Equal(t, "2", rows[1]["lot_id"])

	poly, ok := shapes[0].(*shp.Polygon)
	require.True(t, ok)
	assert.Equal(t, int32(1), poly.NumParts)
	assert.Less(t, signedArea(poly.Points), 0.0, "outer rings are clockwise")
	assert.InDelta(t, 162.5*255, -signedArea(poly.Points), 1)
}

func TestWriteShapefile_HoleOrientation(t *testing.T) {
	withHole := geometry.Difference(rect(0, 0, 100, 100), rect(40, 40, 60, 60))
	shape := toShape(withHole)
	poly, ok := shape.(*shp.Polygon)
	require.True(t, ok)
	require.Equal(t, int32(2), poly.NumParts)

	outer := poly.Points[poly.Parts[0]:poly.Parts[1]]
	hole := poly.Points[poly.Parts[1]:]
	assert.Less(t, signedArea(outer), 0.0)
	assert.Greater(t, signedArea(hole), 0.0)
}

func TestWriteShapefile_Lines(t *testing.T) {
	path, err := WriteShapefile(t.TempDir(), layerByName(t, BuildLayers(testState()), LayerDriveways))
	require.NoError(t, err)

	shapes, rows := readShapefile(t, path)
	require.Len(t, shapes, 2)
	line, ok := shapes[0].(*shp.PolyLine)
	require.True(t, ok)
	assert.Len(t, line.Points, 2)
	assert.Equal(t, "1", rows[0]["turnaround"])
}

func TestWriteShapefile_EmptyLayer(t *testing.T) {
	path, err := WriteShapefile(t.TempDir(), Layer{Name: LayerEnvelopes, Kind: Polygonal, Fields: envelopeFields})
	require.NoError(t, err)

	shapes, _ := readShapefile(t, path)
	assert.Empty(t, shapes)
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), WorkbookFile)
	require.NoError(t, WriteWorkbook(path, testState()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	for _, name := range []string{SheetSummary, SheetLayouts, SheetCosts, SheetTags} {
		require.Contains(t, f.Sheet, name)
	}

	layouts := f.Sheet[SheetLayouts]
	require.Len(t, layouts.Rows, 2)
	assert.Equal(t, "Layout", layouts.Rows[0].Cells[1].String())
	assert.Equal(t, "equal_split_1", layouts.Rows[1].Cells[1].String())
	assert.Equal(t, "short_plat", layouts.Rows[1].Cells[3].String())

	costs := f.Sheet[SheetCosts]
	require.Len(t, costs.Rows, 2)
	assert.Equal(t, "100000", costs.Rows[1].Cells[8].String())

	tags := f.Sheet[SheetTags]
	require.Len(t, tags.Rows, 5, "header, three parcel tags, one layout tag")
	assert.Equal(t, "risk", tags.Rows[1].Cells[2].String())
	assert.Equal(t, "equal_split_1", tags.Rows[4].Cells[0].String())
}

func TestTagKind(t *testing.T) {
	assert.Equal(t, "risk", tagKind("RISK_WETLAND_PRESENT"))
	assert.Equal(t, "info", tagKind("INFO_FLAG_LOT_CANDIDATE"))
	assert.Equal(t, "score", tagKind("SCORE_BEST_LAYOUT:hybrid_1"))
	assert.Equal(t, "status", tagKind("NOT_SUBDIVIDABLE"))
}

func TestRenderMap(t *testing.T) {
	for name, s := range map[string]feasibility.State{
		"full":    testState(),
		"stopped": stoppedState(),
		"empty":   feasibility.NewState("none"),
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), MapFile)
			require.NoError(t, RenderMap(path, s, 800))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close() //nolint:errcheck
			img, err := png.Decode(f)
			require.NoError(t, err)
			assert.Equal(t, 800, img.Bounds().Dx())
			assert.Equal(t, int(800-legendWidth), img.Bounds().Dy())
		})
	}
}

func TestProjection(t *testing.T) {
	// The extent grows by 5% on each side.
	p := newProjection(geometry.Box{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}, 500)
	assert.InDelta(t, 500/1100.0, p.scale, 1e-9)

	x, y := p.point(geom.Coord{0, 1000})
	assert.InDelta(t, mapMargin+50*p.scale, x, 1e-6)
	assert.InDelta(t, mapMargin+50*p.scale, y, 1e-6, "north is up")

	_, yLow := p.point(geom.Coord{0, 0})
	assert.Greater(t, yLow, y)

	empty := newProjection(geometry.Box{}, 500)
	assert.Greater(t, empty.scale, 0.0)
}

func TestExporter_Dir(t *testing.T) {
	e := New(config.ExportConfig{OutputRoot: "/out"})
	assert.Equal(t, "/out/27050100100100", e.Dir("27050100100100"))
	assert.Equal(t, "/out/.._etc_passwd", e.Dir("../etc/passwd"))
	assert.Equal(t, "/out/_", e.Dir(".."))
}

func TestExporter_Export(t *testing.T) {
	root := t.TempDir()
	e := New(config.ExportConfig{OutputRoot: root, MapWidth: 600, Shapefiles: true, Workbook: true})

	paths, err := e.Export(context.Background(), testState())
	require.NoError(t, err)

	dir := filepath.Join(root, "27050100100100")
	assert.Equal(t, dir, paths[ArtifactDir])
	for _, name := range []string{
		"parcel.geojson", "constraints.geojson", "buildable.geojson",
		"layouts.geojson", "driveways.geojson", "envelopes.geojson",
		GeoPackageFile, WorkbookFile, MapFile, SummaryFile,
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	for _, l := range []string{LayerParcel, LayerConstraints, LayerBuildable, LayerLayouts, LayerDriveways, LayerEnvelopes} {
		assert.FileExists(t, filepath.Join(dir, ShapefileDir, l+".shp"))
		assert.Equal(t, filepath.Join(dir, l+".geojson"), paths[l])
	}

	data, err := os.ReadFile(paths[ArtifactSummary])
	require.NoError(t, err)
	var sum struct {
		ParcelID     string            `json:"parcel_id"`
		BestLayoutID string            `json:"best_layout_id"`
		Artifacts    map[string]string `json:"artifacts"`
		Layouts      []struct {
			Cost *cost.Estimate `json:"cost"`
		} `json:"layouts"`
	}
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, "27050100100100", sum.ParcelID)
	assert.Equal(t, "equal_split_1", sum.BestLayoutID)
	assert.Equal(t, paths[ArtifactMap], sum.Artifacts[ArtifactMap])
	assert.Equal(t, paths[ArtifactSummary], sum.Artifacts[ArtifactSummary])
	require.Len(t, sum.Layouts, 1)
	require.NotNil(t, sum.Layouts[0].Cost)
}

func TestExporter_StoppedRunStillExports(t *testing.T) {
	root := t.TempDir()
	e := New(config.ExportConfig{OutputRoot: root, Workbook: true})

	paths, err := e.Export(context.Background(), stoppedState())
	require.NoError(t, err)
	assert.NotContains(t, paths, ArtifactShapefiles)

	data, err := os.ReadFile(paths[LayerLayouts])
	require.NoError(t, err)
	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Empty(t, fc.Features)

	data, err = os.ReadFile(paths[ArtifactSummary])
	require.NoError(t, err)
	assert.Contains(t, string(data), feasibility.TagNotSubdividable)
	assert.Contains(t, string(data), `"stopped": true`)
}

func TestExporter_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(config.ExportConfig{OutputRoot: t.TempDir()})
	_, err := e.Export(ctx, testState())
	require.Error(t, err)
}

func TestExporter_FailedArtifactsDoNotStopOthers(t *testing.T) {
	root := t.TempDir()
	e := New(config.ExportConfig{OutputRoot: root, MapWidth: 400, Shapefiles: true, Workbook: true})

	// A file where the shapefile directory belongs and a directory where
	// the workbook belongs make both writes fail.
	dir := e.Dir("27050100100100")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, WorkbookFile), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ShapefileDir), []byte("x"), 0o644))

	paths, err := e.Export(context.Background(), testState())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	assert.NotContains(t, paths, ArtifactShapefiles)
	assert.NotContains(t, paths, ArtifactWorkbook)
	for _, key := range []string{LayerParcel, ArtifactGeoPackage, ArtifactMap, ArtifactSummary} {
		require.Contains(t, paths, key)
		assert.FileExists(t, paths[key])
	}

	data, err := os.ReadFile(paths[ArtifactSummary])
	require.NoError(t, err)
	var sum struct {
		Artifacts map[string]string `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, paths[ArtifactMap], sum.Artifacts[ArtifactMap])
	assert.NotContains(t, sum.Artifacts, ArtifactShapefiles)
}
