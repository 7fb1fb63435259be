package constraint

import (
	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
)

// Layer names.
const (
	LayerStreams       = "streams"
	LayerWetlands      = "wetlands"
	LayerFlood         = "flood"
	LayerSlope         = "slope"
	LayerGeology       = "geology"
	LayerSoils         = "soils"
	LayerUtilities     = "utilities"
	LayerRoads         = "roads"
	LayerFutureLandUse = "future_land_use"
	LayerShoreline     = "shoreline"
)

// Query reach for layers whose features matter near, not only on, the parcel.
const (
	roadSearchFt      = 300.0
	shorelineSearchFt = ShorelineReach
)

// CatalogOptions tunes layers that take more than a buffer table.
type CatalogOptions struct {
	SlopeGrid int
}

// Catalog returns the ten layers in evaluation order.
func Catalog(svcs arcgis.Services, buffers config.BufferTable, opts CatalogOptions) []Layer {
	geology := []arcgis.Service{
		svcs.Get(config.SourceLandslides),
		svcs.Get(config.SourceGroundResponse),
		svcs.Get(config.SourceVolcanic),
	}

	return []Layer{
		{
			Name: LayerStreams,
			Source: FeatureSource{
				Services: []arcgis.Service{svcs.Get(config.SourceWatercourses), svcs.Get(config.SourceNHDFlowlines)},
				Mode:     Fallback,
				Distance: widest(buffers.StreamDefault, buffers.Streams),
			},
			Buffer:    StreamBuffer(buffers),
			Tags:      streamTags,
			ImpactTag: "RISK_STREAM_BUFFER_IMPACT",
		},
		{
			Name:      LayerWetlands,
			Source:    FeatureSource{Services: []arcgis.Service{svcs.Get(config.SourceWetlands)}, Distance: widest(buffers.WetlandDefault, buffers.Wetlands)},
			Buffer:    WetlandBuffer(buffers),
			Tags:      wetlandTags,
			ImpactTag: "RISK_WETLAND_BUFFER_IMPACT",
		},
		{
			Name:   LayerFlood,
			Source: FeatureSource{Services: []arcgis.Service{svcs.Get(config.SourceFloodHazard)}},
			Buffer: FloodBuffer(buffers.FixedDistance(config.BufferFlood)),
			Tags:   floodTags,
		},
		{
			Name:   LayerSlope,
			Source: SlopeSource{Service: svcs.Get(config.SourceElevation), Grid: opts.SlopeGrid},
			Buffer: ClassBuffer(buffers.FixedDistance(config.BufferSlope), SlopeSteep),
			Tags:   slopeTags,
		},
		{
			Name:   LayerGeology,
			Source: FeatureSource{Services: geology, Mode: All},
			Buffer: SourceBuffer(buffers.FixedDistance(config.BufferGeology),
				config.SourceLandslides, config.SourceVolcanic),
			Tags: geologyTags(config.SourceLandslides, config.SourceGroundResponse, config.SourceVolcanic),
		},
		{
			Name: LayerSoils,
			Source: SoilSource{
				Tabular: svcs.Get(config.SourceSoils),
				Septic:  svcs.Get(config.SourceSeptic),
			},
			Tags:          soilTags(config.SourceSoils, config.SourceSeptic),
			Informational: true,
		},
		{
			Name: LayerUtilities,
			Source: FeatureSource{
				Services: []arcgis.Service{svcs.Get(config.SourceWaterDistricts), svcs.Get(config.SourceSewerDistricts)},
				Mode:     All,
				Filter:   FilterCentroid,
			},
			Tags:          utilityTags(config.SourceWaterDistricts, config.SourceSewerDistricts),
			Informational: true,
		},
		{
			Name: LayerRoads,
			Source: FeatureSource{
				Services: []arcgis.Service{svcs.Get(config.SourceRoads)},
				Distance: roadSearchFt,
			},
			Buffer: Fixed(buffers.FixedDistance(config.BufferRoads)),
			Tags:   roadTags,
		},
		{
			Name:          LayerFutureLandUse,
			Source:        FeatureSource{Services: []arcgis.Service{svcs.Get(config.SourceFutureLandUse)}, Filter: FilterCentroid},
			Tags:          futureLandUseTags,
			Informational: true,
		},
		{
			Name: LayerShoreline,
			Source: FeatureSource{
				Services: []arcgis.Service{svcs.Get(config.SourceShoreline)},
				Distance: shorelineSearchFt,
			},
			Buffer: Fixed(buffers.FixedDistance(config.BufferShoreline)),
			Tags:   shorelineTags,
		},
	}
}

// widest is the largest buffer of a table: a feature any farther away cannot
// reach the parcel.
func widest(fallback float64, table map[string]float64) float64 {
	d := fallback
	for _, v := range table {
		d = max(d, v)
	}
	return d
}
