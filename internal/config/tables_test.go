package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZoning = `
default_jurisdiction: snohomish
aliases:
  R9600: R-9600
standards:
  - jurisdiction: snohomish
    code: R-9600
    min_lot_sqft: 9600
    min_lot_width_ft: 65
    setback_front_ft: 20
    setback_side_ft: 5
    setback_rear_ft: 15
    max_lot_coverage: 0.35
`

func writeTable(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadTables(t *testing.T) {
	dir := t.TempDir()
	cfg := TablesConfig{
		Zoning:  writeTable(t, dir, "zoning.yaml", testZoning),
		Buffers: writeTable(t, dir, "buffers.yaml", "streams:\n  S: 200\n"),
		Scoring: writeTable(t, dir, "scoring.yaml", "weights:\n  short_plat_bonus: 5\n"),
	}

	tables, err := LoadTables(cfg)
	require.NoError(t, err)

	std, ok := tables.Zoning.Lookup("", "r 9600")
	require.True(t, ok)
	assert.Equal(t, 9600.0, std.MinLotArea)
	assert.Equal(t, 20.0, std.MaxSetback())

	// File values override, defaults fill the rest.
	assert.Equal(t, 200.0, tables.Buffers.StreamDistance("s"))
	assert.Equal(t, 75.0, tables.Buffers.StreamDistance("Np"))
	assert.Equal(t, 75.0, tables.Buffers.StreamDistance("unknown"))
	assert.Equal(t, 190.0, tables.Buffers.WetlandDistance("I"))
	assert.Equal(t, 5.0, tables.Scoring.Weights.ShortPlatBonus)
	assert.Equal(t, 30.0, tables.Scoring.Weights.LotCount)
	assert.Equal(t, 220.0, tables.Scoring.Costs.RoadPerLinearFt)
}

func TestLoadTablesOptionalFilesMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := TablesConfig{
		Zoning:  writeTable(t, dir, "zoning.yaml", testZoning),
		Buffers: filepath.Join(dir, "missing-buffers.yaml"),
		Scoring: filepath.Join(dir, "missing-scoring.yaml"),
	}

	tables, err := LoadTables(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferTable().StreamDefault, tables.Buffers.StreamDefault)
	assert.Equal(t, DefaultScoringTable().Weights, tables.Scoring.Weights)
}

func TestLoadTablesZoningRequired(t *testing.T) {
	_, err := LoadTables(TablesConfig{Zoning: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read table")
}

func TestLoadTablesRejectsInvalidStandard(t *testing.T) {
	dir := t.TempDir()
	cfg := TablesConfig{
		Zoning: writeTable(t, dir, "zoning.yaml", "standards:\n  - code: R-1\n    min_lot_sqft: 0\n    max_lot_coverage: 2\n"),
	}
	_, err := LoadTables(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_lot_sqft")
	assert.Contains(t, err.Error(), "max_lot_coverage")
}

func TestZoningLookupJurisdiction(t *testing.T) {
	table := ZoningTable{
		Standards: []ZoningStandard{
			{Jurisdiction: "king", Code: "R-4", MinLotArea: 8000},
			{Jurisdiction: "snohomish", Code: "R-4", MinLotArea: 9000},
		},
	}

	std, ok := table.Lookup("snohomish", "R-4")
	require.True(t, ok)
	assert.Equal(t, 9000.0, std.MinLotArea)

	_, ok = table.Lookup("pierce", "R-4")
	assert.False(t, ok)
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights(DefaultScoringTable().Weights))

	w := DefaultScoringTable().Weights
	w.DrivewayPenalty = -1
	w.LotCountCap = 0
	err := ValidateWeights(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driveway_penalty")
	assert.Contains(t, err.Error(), "lot_count_cap")
}

func TestNormalizeZoneCode(t *testing.T) {
	assert.Equal(t, "R-9600", NormalizeZoneCode(" r-9600 "))
	assert.Equal(t, "R9600", NormalizeZoneCode("r 9600"))
}

func TestRepoTablesLoad(t *testing.T) {
	root := filepath.Join("..", "..", "config")
	tables, err := LoadTables(TablesConfig{
		Zoning:  filepath.Join(root, "zoning_standards.yaml"),
		Buffers: filepath.Join(root, "buffers.yaml"),
		Scoring: filepath.Join(root, "scoring.yaml"),
	})
	require.NoError(t, err)
	_, ok := tables.Zoning.Lookup("snohomish", "R9600")
	assert.True(t, ok)
}
