package layout

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

func rect(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return geometry.AsMultiPolygon(geometry.Rect(geometry.Box{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}))
}

func standard(minArea, minWidth float64) config.ZoningStandard {
	return config.ZoningStandard{Code: "TEST", MinLotArea: minArea, MinLotWidth: minWidth}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		lots int
		want PlatClass
	}{
		{1, ShortPlat},
		{2, ShortPlat},
		{4, ShortPlat},
		{5, FormalSubdivision},
		{40, FormalSubdivision},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.lots), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.lots))
		})
	}
}

func TestGenerateLotsMeetMinimums(t *testing.T) {
	std := standard(45_000, 90)
	layouts := Generate(rect(0, 0, 1000, 500), std, Options{MaxLots: 40, HybridLambda: 1})

	require.NotEmpty(t, layouts)
	for _, l := range layouts {
		require.NotEmpty(t, l.Lots, l.ID)
		for _, lot := range l.Lots {
			assert.GreaterOrEqual(t, lot.Area, std.MinLotArea, "%s lot %d", l.ID, lot.ID)
			assert.GreaterOrEqual(t, lot.Width, std.MinLotWidth, "%s lot %d", l.ID, lot.ID)
			assert.True(t, lot.AreaOK && lot.WidthOK)
		}
	}
}

func TestGenerateExactlyOnePlatClass(t *testing.T) {
	for _, l := range Generate(rect(0, 0, 1000, 500), standard(45_000, 90), Options{}) {
		short := l.HasTag(string(ShortPlat))
		formal := l.HasTag(string(FormalSubdivision))
		assert.True(t, short != formal, l.ID)
		assert.Equal(t, l.LotCount() <= ShortPlatMaxLots, short, l.ID)
		assert.Equal(t, Classify(l.LotCount()), l.PlatClass)
	}
}

func TestGenerateMaxLots(t *testing.T) {
	layouts := Generate(rect(0, 0, 1000, 500), standard(45_000, 90), Options{})

	require.NotEmpty(t, layouts)
	first := layouts[0]
	assert.Equal(t, MaxLots, first.Strategy)
	assert.Equal(t, "max_lots_1", first.ID)
	assert.Equal(t, 11, first.LotCount())
	assert.Equal(t, FormalSubdivision, first.PlatClass)
	for _, l := range layouts {
		assert.LessOrEqual(t, l.LotCount(), first.LotCount(), l.ID)
	}
}

func TestGenerateRespectsMaxLots(t *testing.T) {
	layouts := Generate(rect(0, 0, 1000, 500), standard(45_000, 90), Options{MaxLots: 3})
	require.NotEmpty(t, layouts)
	for _, l := range layouts {
		assert.LessOrEqual(t, l.LotCount(), 3, l.ID)
	}
}

func TestGenerateEqualSplitAreas(t *testing.T) {
	layouts := Generate(rect(0, 0, 1000, 500), standard(45_000, 90), Options{})

	var eq *Layout
	for i := range layouts {
		if layouts[i].Strategy == EqualSplit {
			eq = &layouts[i]
		}
	}
	require.NotNil(t, eq)
	require.Greater(t, eq.LotCount(), 1)
	want := 500_000.0 / float64(eq.LotCount())
	for _, lot := range eq.Lots {
		assert.InDelta(t, want, lot.Area, 1)
	}
}

func TestGenerateRoadOptimizedLotsReachRoad(t *testing.T) {
	road := geometry.Line(geom.Coord{-200, -50}, geom.Coord{1200, -50})
	layouts := Generate(rect(0, 0, 1000, 400), standard(38_000, 50), Options{Roads: []geom.T{road}})

	var ro *Layout
	for i := range layouts {
		if layouts[i].Strategy == RoadOptimized {
			ro = &layouts[i]
		}
	}
	require.NotNil(t, ro)
	assert.Equal(t, 10, ro.LotCount())
	for _, lot := range ro.Lots {
		assert.InDelta(t, 50, geometry.Distance(lot.Geometry, road), 1, "lot %d fronts the road", lot.ID)
	}
}

func TestGenerateConstraintAdaptiveFollowsComponents(t *testing.T) {
	big := geometry.Rect(geometry.Box{MaxX: 300, MaxY: 300})
	small := geometry.Rect(geometry.Box{MinX: 500, MaxX: 700, MaxY: 200})
	buildable := geometry.Union(big, small)

	layouts := Generate(buildable, standard(40_000, 50), Options{})

	var ca *Layout
	for i := range layouts {
		if layouts[i].Strategy == ConstraintAdaptive {
			ca = &layouts[i]
		}
	}
	require.NotNil(t, ca)
	assert.Equal(t, 3, ca.LotCount())
	for _, lot := range ca.Lots {
		inBig := geometry.Intersects(lot.Geometry, big)
		inSmall := geometry.Intersects(lot.Geometry, small)
		assert.True(t, inBig != inSmall, "lot %d lies in one component", lot.ID)
	}
}

func TestGenerateTooSmall(t *testing.T) {
	assert.Empty(t, Generate(rect(0, 0, 100, 100), standard(20_000, 50), Options{}))
	assert.Empty(t, Generate(geometry.EmptyPolygonal(), standard(20_000, 50), Options{}))
}

func TestGenerateDiscardsLayoutsWithoutValidLots(t *testing.T) {
	// Big enough by area, but too narrow for any lot.
	assert.Empty(t, Generate(rect(0, 0, 2000, 30), standard(10_000, 50), Options{}))
}

func TestSettleMergesIntoNeighbour(t *testing.T) {
	std := standard(9_000, 50)
	parts := []*geom.MultiPolygon{
		rect(0, 0, 100, 100),
		rect(100, 0, 200, 100),
		rect(200, 0, 210, 100),
	}

	lots := settle(parts, std)

	require.Len(t, lots, 2)
	assert.InDelta(t, 21_000, lots[0].Area+lots[1].Area, 1e-6)
	assert.Equal(t, 1, lots[0].ID)
	assert.Equal(t, 2, lots[1].ID)
}

func TestSettleDropsIsolatedPiece(t *testing.T) {
	std := standard(9_000, 50)
	lots := settle([]*geom.MultiPolygon{rect(0, 0, 100, 100), rect(500, 0, 510, 100)}, std)

	require.Len(t, lots, 1)
	assert.InDelta(t, 10_000, lots[0].Area, 1e-6)
}

func TestWidthOfRotatedLot(t *testing.T) {
	// 100 x 40 rectangle rotated 45 degrees.
	c, s := math.Cos(math.Pi/4), math.Sin(math.Pi/4)
	pt := func(x, y float64) geom.Coord { return geom.Coord{x*c - y*s, x*s + y*c} }
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		pt(0, 0), pt(100, 0), pt(100, 40), pt(0, 40), pt(0, 0),
	}}).SetSRID(geometry.WorkingSRID)

	assert.InDelta(t, 40, Width(geometry.AsMultiPolygon(poly)), 1e-6)
}

func TestLayoutTagAndClone(t *testing.T) {
	l := newLayout(Hybrid, 5, []Lot{{ID: 1, Area: 10}})
	assert.Equal(t, "hybrid_5", l.ID)
	assert.Equal(t, []string{"short_plat"}, l.Tags)

	l.Tag("STORMWATER_CONSTRAINED")
	l.Tag("STORMWATER_CONSTRAINED")
	assert.Len(t, l.Tags, 2)

	c := l.Clone()
	c.Tag("DRIVEWAY_STEEP")
	c.Lots[0].Area = 99
	assert.Len(t, l.Tags, 2)
	assert.Equal(t, 10.0, l.Lots[0].Area)
}
