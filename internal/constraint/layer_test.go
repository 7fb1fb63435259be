package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/arcgis/arcgistest"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// square returns a side x side parcel anchored at the origin.
func square(side float64) *geom.MultiPolygon {
	return geometry.AsMultiPolygon(geometry.Rect(geometry.Box{MaxX: side, MaxY: side}))
}

func testCatalog() map[string]Layer {
	svcs := arcgis.Services{}
	out := map[string]Layer{}
	for _, l := range Catalog(svcs, config.DefaultBufferTable(), CatalogOptions{SlopeGrid: 4}) {
		out[l.Name] = l
	}
	return out
}

func testEnv(f arcgis.Fetcher) Env {
	return Env{Fetcher: f, OverlapImpact: 0.20}
}

func TestCatalogHasTenLayersInOrder(t *testing.T) {
	layers := Catalog(arcgis.Services{}, config.DefaultBufferTable(), CatalogOptions{})
	names := make([]string, 0, len(layers))
	for _, l := range layers {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{
		LayerStreams, LayerWetlands, LayerFlood, LayerSlope, LayerGeology,
		LayerSoils, LayerUtilities, LayerRoads, LayerFutureLandUse, LayerShoreline,
	}, names)
}

func TestStreamBufferAndImpactTag(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceWatercourses: {{
			Geometry:   geometry.Line(geom.Coord{500, -100}, geom.Coord{500, 1100}),
			Attributes: map[string]any{"StreamType": "S"},
		}},
	}}

	res := testCatalog()[LayerStreams].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Available, res.Availability)
	assert.InDelta(t, 300_000, geometry.Area(res.Buffer), 1)
	assert.InDelta(t, 0.30, res.Overlap, 1e-6)
	assert.Contains(t, res.Tags, "INFO_STREAM_PRESENT")
	assert.Contains(t, res.Tags, "RISK_STREAM_BUFFER_IMPACT")
	assert.Equal(t, 0, fake.Calls(config.SourceNHDFlowlines), "fallback not needed")
}

func TestStreamFallsBackToNHD(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceNHDFlowlines: {{
			Geometry:   geometry.Line(geom.Coord{-100, 50}, geom.Coord{1100, 50}),
			Attributes: map[string]any{"FCODE_DESC": "Stream/River"},
		}},
	}}

	res := testCatalog()[LayerStreams].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Available, res.Availability)
	assert.Equal(t, 1, fake.Calls(config.SourceWatercourses))
	assert.Equal(t, 1, fake.Calls(config.SourceNHDFlowlines))
	require.Len(t, res.Features, 1)
	assert.Equal(t, config.SourceNHDFlowlines, res.Features[0].String(SourceAttr))
	// Default 75 ft buffer, clipped at the parcel's south edge.
	assert.InDelta(t, 125_000, geometry.Area(res.Buffer), 1)
}

func TestUnavailableSourceFailsClosed(t *testing.T) {
	fake := &arcgistest.Fake{Down: map[string]bool{
		config.SourceWatercourses: true,
		config.SourceNHDFlowlines: true,
	}}

	res := testCatalog()[LayerStreams].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Unavailable, res.Availability)
	assert.True(t, geometry.IsEmpty(res.Buffer))
	assert.Equal(t, []string{"STREAMS_DATA_INCOMPLETE"}, res.Tags)
}

func TestWetlandCategoryBuffer(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceWetlands: {{
			Geometry:   geometry.Rect(geometry.Box{MinX: 900, MinY: 0, MaxX: 1100, MaxY: 1000}),
			Attributes: map[string]any{"ATTRIBUTE": "PEM1C"},
		}},
	}}

	res := testCatalog()[LayerWetlands].Evaluate(context.Background(), testEnv(fake), square(1000))

	// Category II, 150 ft: x from 750 to 1000 across the full height.
	assert.InDelta(t, 250_000, geometry.Area(res.Buffer), 1)
	assert.Contains(t, res.Tags, "RISK_WETLAND_PRESENT")
	assert.Contains(t, res.Tags, "RISK_WETLAND_BUFFER_IMPACT")
}

func TestCowardinCategory(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"PFO1A", "I"},
		{"pem1c", "II"},
		{"PSS1C", "II"},
		{"R3UBH", "III"},
		{"L1UBH", "IV"},
		{"", "IV"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, CowardinCategory(tt.code))
		})
	}
}

func TestFloodEntireParcel(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceFloodHazard: {
			{
				Geometry:   geometry.Rect(geometry.Box{MinX: -10, MinY: -10, MaxX: 1010, MaxY: 1010}),
				Attributes: map[string]any{"FLD_ZONE": "AE"},
			},
			{
				Geometry:   geometry.Rect(geometry.Box{MinX: 1000, MinY: 0, MaxX: 1200, MaxY: 1000}),
				Attributes: map[string]any{"FLD_ZONE": "X"},
			},
		},
	}}

	res := testCatalog()[LayerFlood].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.InDelta(t, 1.0, res.Overlap, 1e-9)
	assert.Contains(t, res.Tags, "RISK_FEMA_100YR_FLOOD")
	assert.Contains(t, res.Tags, "INFO_FEMA_500YR_FLOOD")
	assert.Contains(t, res.Tags, "RISK_ENTIRE_PARCEL_FLOODPLAIN")
	assert.InDelta(t, 1.0, res.Metrics["flood_overlap_fraction"], 1e-9)
}

func TestFloodZoneXIsNotBuffered(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceFloodHazard: {{
			Geometry:   geometry.Rect(geometry.Box{MaxX: 1000, MaxY: 1000}),
			Attributes: map[string]any{"FLD_ZONE": "X"},
		}},
	}}

	res := testCatalog()[LayerFlood].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.True(t, geometry.IsEmpty(res.Buffer))
	assert.Equal(t, []string{"INFO_FEMA_500YR_FLOOD"}, res.Tags)
}

func TestSlopeCells(t *testing.T) {
	// 4x4 grid, top row steep, second row moderate.
	fake := &arcgistest.Fake{Rasters: map[string][]float64{
		config.SourceElevation: {
			40, 40, 40, 40,
			20, 20, 20, 20,
			2, 2, 2, 2,
			2, 2, 2, 2,
		},
	}}

	res := testCatalog()[LayerSlope].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Available, res.Availability)
	assert.InDelta(t, 0.25, res.Metrics["slope_steep_fraction"], 1e-6)
	assert.InDelta(t, 0.25, res.Metrics["slope_moderate_fraction"], 1e-6)
	assert.Contains(t, res.Tags, "RISK_STEEP_SLOPE")
	assert.Contains(t, res.Tags, "RISK_EROSION_HAZARD")
	assert.Contains(t, res.Tags, "INFO_SLOPE_CONSTRAINT")
	// Steep band y 750..1000 plus a 25 ft buffer, clipped.
	assert.InDelta(t, 275_000, geometry.Area(res.Buffer), 200)
}

func TestGeologyPartial(t *testing.T) {
	fake := &arcgistest.Fake{
		Features: map[string][]arcgis.Feature{
			config.SourceGroundResponse: {{
				Geometry:   geometry.Rect(geometry.Box{MaxX: 1000, MaxY: 1000}),
				Attributes: map[string]any{"DESCRIPTION": "High liquefaction susceptibility"},
			}},
		},
		Down: map[string]bool{config.SourceLandslides: true},
	}

	res := testCatalog()[LayerGeology].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Partial, res.Availability)
	assert.Contains(t, res.Tags, "RISK_LIQUEFACTION")
	assert.Contains(t, res.Tags, "RISK_GEOLOGIC_HAZARD")
	assert.Contains(t, res.Tags, "GEOLOGY_DATA_INCOMPLETE")
	assert.True(t, geometry.IsEmpty(res.Buffer), "ground response is tag-only")
}

func TestUtilitiesAreInformational(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceWaterDistricts: {{
			Geometry:   geometry.Rect(geometry.Box{MinX: -5000, MinY: -5000, MaxX: 5000, MaxY: 5000}),
			Attributes: map[string]any{"DISTRICT": "Alderwood Water"},
		}},
	}}

	res := testCatalog()[LayerUtilities].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Available, res.Availability)
	assert.True(t, geometry.IsEmpty(res.Buffer))
	assert.Contains(t, res.Tags, "INFO_PUBLIC_WATER_AVAILABLE")
	assert.Contains(t, res.Tags, "RISK_SEPTIC_REQUIRED")
}

func TestUtilitiesSewerDownIsPartial(t *testing.T) {
	fake := &arcgistest.Fake{Down: map[string]bool{config.SourceSewerDistricts: true}}

	res := testCatalog()[LayerUtilities].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Equal(t, Partial, res.Availability)
	assert.Contains(t, res.Tags, "RISK_WELL_REQUIRED")
	assert.NotContains(t, res.Tags, "RISK_SEPTIC_REQUIRED")
	assert.Contains(t, res.Tags, "UTILITIES_DATA_INCOMPLETE")
}

func TestRoadFrontage(t *testing.T) {
	road := geometry.Line(geom.Coord{-100, -20}, geom.Coord{1100, -20})
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceRoads: {{Geometry: road, Attributes: map[string]any{"ST_NAME": "MAIN ST"}}},
	}}

	res := testCatalog()[LayerRoads].Evaluate(context.Background(), testEnv(fake), square(1000))

	frontage := res.Metrics["road_frontage_ft"]
	assert.Greater(t, frontage, 1000.0)
	assert.NotContains(t, res.Tags, "RISK_INSUFFICIENT_FRONTAGE")
	assert.NotContains(t, res.Tags, "INFO_FLAG_LOT_CANDIDATE")
	require.Len(t, res.Features, 1, "centerlines are kept for driveway routing")
	// 30 ft right of way reaches 10 ft into the parcel.
	assert.InDelta(t, 10_000, geometry.Area(res.Buffer), 50)
}

func TestNoRoadsMeansNoFrontage(t *testing.T) {
	res := testCatalog()[LayerRoads].Evaluate(context.Background(), testEnv(&arcgistest.Fake{}), square(1000))

	assert.Equal(t, 0.0, res.Metrics["road_frontage_ft"])
	assert.Contains(t, res.Tags, "RISK_INSUFFICIENT_FRONTAGE")
}

func TestFutureLandUseMismatch(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceFutureLandUse: {{
			Geometry:   geometry.Rect(geometry.Box{MinX: -100, MinY: -100, MaxX: 1100, MaxY: 1100}),
			Attributes: map[string]any{"DESIGNATION": "Rural Residential", "ZONES": "R-5"},
		}},
	}}
	env := testEnv(fake)
	env.ZoneCode = "R-9600"

	res := testCatalog()[LayerFutureLandUse].Evaluate(context.Background(), env, square(1000))

	assert.Contains(t, res.Tags, "INFO_FLU_DESIGNATION:Rural Residential")
	assert.Contains(t, res.Tags, "INFO_FLU_ZONING_MISMATCH")

	env.ZoneCode = "r-5"
	res = testCatalog()[LayerFutureLandUse].Evaluate(context.Background(), env, square(1000))
	assert.NotContains(t, res.Tags, "INFO_FLU_ZONING_MISMATCH")
}

func TestShorelineJurisdiction(t *testing.T) {
	fake := &arcgistest.Fake{Features: map[string][]arcgis.Feature{
		config.SourceShoreline: {{
			Geometry:   geometry.Rect(geometry.Box{MinX: 1150, MinY: 0, MaxX: 1400, MaxY: 1000}),
			Attributes: map[string]any{"ENVIRONMENT": "Rural Conservancy"},
		}},
	}}

	res := testCatalog()[LayerShoreline].Evaluate(context.Background(), testEnv(fake), square(1000))

	assert.Contains(t, res.Tags, "RISK_SHORELINE_JURISDICTION")
	assert.True(t, geometry.IsEmpty(res.Buffer), "zero fixed buffer keeps only the polygon, which is off-parcel")
}

func TestSoilsTabularAndSeptic(t *testing.T) {
	fake := &arcgistest.Fake{
		Tables: map[string]arcgis.Table{
			config.SourceSoils: {
				Columns: []string{"mukey", "muname", "drainagecl", "hydgrp"},
				Rows:    [][]string{{"1234", "Tokul gravelly medial loam", "Moderately well drained", "C"}, {"1235", "Norma loam", "Poorly drained", "B/D"}},
			},
		},
		Features: map[string][]arcgis.Feature{
			config.SourceSeptic: {{Attributes: map[string]any{"SYSTEM": "gravity"}}},
		},
	}
	env := testEnv(fake)
	env.Reproj = geometry.NewReprojector()
	parcel := geometry.AsMultiPolygon(geometry.Rect(geometry.Box{MinX: 1300000, MinY: 350000, MaxX: 1301000, MaxY: 351000}))

	res := testCatalog()[LayerSoils].Evaluate(context.Background(), env, parcel)

	assert.Equal(t, Available, res.Availability)
	assert.True(t, geometry.IsEmpty(res.Buffer))
	assert.Contains(t, res.Tags, "INFO_SOIL_TYPE")
	assert.Contains(t, res.Tags, "INFO_SOIL_TYPE:Tokul gravelly medial loam")
	assert.Contains(t, res.Tags, "RISK_POOR_SOIL_DRAINAGE")
	assert.Contains(t, res.Tags, "RISK_SEPTIC_LIMITATION")
}

func TestSoilQueryEmbedsPoint(t *testing.T) {
	q := SoilQuery("POINT (-122.2 47.9)")
	assert.Contains(t, q, "SDA_Get_Mukey_from_intersection_with_WktWgs84('POINT (-122.2 47.9)')")
	assert.Contains(t, q, "drainagecl")
}

func TestDataIncompleteTag(t *testing.T) {
	assert.Equal(t, "FUTURE_LAND_USE_DATA_INCOMPLETE", DataIncompleteTag(LayerFutureLandUse))
}

func TestAvailabilityText(t *testing.T) {
	for _, a := range []Availability{Available, Partial, Unavailable} {
		text, err := a.MarshalText()
		require.NoError(t, err)
		var got Availability
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, a, got)
	}
	var a Availability
	assert.Error(t, a.UnmarshalText([]byte("sometimes")))
}
