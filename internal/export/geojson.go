package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// featureCollection is a GeoJSON FeatureCollection carrying the legacy named
// CRS member, since coordinates stay in the working state-plane CRS.
type featureCollection struct {
	Type     string             `json:"type"`
	Name     string             `json:"name"`
	CRS      *geojson.CRS       `json:"crs"`
	Features []*geojson.Feature `json:"features"`
}

func workingCRS() *geojson.CRS {
	return &geojson.CRS{
		Type:       "name",
		Properties: map[string]any{"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", geometry.WorkingSRID)},
	}
}

// MarshalGeoJSON encodes a layer as a FeatureCollection.
func MarshalGeoJSON(l Layer) ([]byte, error) {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Name:     l.Name,
		CRS:      workingCRS(),
		Features: make([]*geojson.Feature, 0, len(l.Features)),
	}
	for i, f := range l.Features {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         fmt.Sprintf("%s.%d", l.Name, i+1),
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, eris.Wrapf(err, "geojson: encode %s", l.Name)
	}
	return data, nil
}

// WriteGeoJSON writes a layer to path.
func WriteGeoJSON(path string, l Layer) error {
	data, err := MarshalGeoJSON(l)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "geojson: write %s", path)
	}
	return nil
}
