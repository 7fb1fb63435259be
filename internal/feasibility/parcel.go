package feasibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Terminal resolution errors. A run that hits either exports nothing.
var (
	ErrParcelNotFound = eris.New("parcel not found")
	ErrCityParcel     = eris.New("parcel lies inside an incorporated city")
)

// Parcel is the resolved parcel boundary and the attributes kept from its
// record.
type Parcel struct {
	ID           string             `json:"parcel_id"`
	Geometry     *geom.MultiPolygon `json:"-"`
	Acres        float64            `json:"gis_acres,omitempty"`
	SqFt         float64            `json:"gis_sqft,omitempty"`
	Address      string             `json:"address,omitempty"`
	Owner        string             `json:"owner,omitempty"`
	Jurisdiction string             `json:"jurisdiction,omitempty"`
	ZoneCode     string             `json:"zone_code,omitempty"`
	Source       string             `json:"source"`
}

// Area returns the parcel area in square feet, from the geometry when it has
// one and the recorded GIS area otherwise.
func (p Parcel) Area() float64 {
	if a := geometry.Area(p.Geometry); a > 0 {
		return a
	}
	return p.SqFt
}

// ParcelSource is one entry of the parcel lookup chain.
type ParcelSource struct {
	Service arcgis.Service
	IDField string
}

// DefaultParcelSources is the county lookup chain: tax parcels, then parcel
// labels, then house-number labels.
func DefaultParcelSources(svcs arcgis.Services) []ParcelSource {
	return []ParcelSource{
		{Service: svcs.Get(config.SourceTaxParcels), IDField: "PARCEL_ID"},
		{Service: svcs.Get(config.SourceParcelLabels), IDField: "PARCEL_ID"},
		{Service: svcs.Get(config.SourceAddressLabels), IDField: "PARCEL_ID"},
	}
}

// Attribute candidates, first match wins.
var (
	parcelIDFields     = []string{"PARCEL_ID", "Parcel_ID", "PIN"}
	acresFields        = []string{"GIS_ACRES", "ACRES"}
	sqftFields         = []string{"GIS_SQ_FT", "SQ_FT"}
	addressFields      = []string{"SITUS_ADDRESS", "FULL_ADDRESS", "SITUSADDR", "address"}
	ownerFields        = []string{"OWNER_NAME", "OWNER", "owner"}
	jurisdictionFields = []string{"JURISDICTION", "MUNICIPALITY", "CITY"}
	zoneFields         = []string{"ZONE_CD", "ZONE", "ZONE_CODE", "ZONING", "ZONECLASS"}
)

// ParcelResolver looks parcels up by ID.
type ParcelResolver struct {
	fetcher arcgis.Fetcher
	sources []ParcelSource
}

// NewParcelResolver creates a resolver over an ordered source chain.
func NewParcelResolver(f arcgis.Fetcher, sources []ParcelSource) *ParcelResolver {
	return &ParcelResolver{fetcher: f, sources: sources}
}

// Resolve finds the parcel in the first source that returns features. Every
// matching feature is unioned into one boundary.
func (r *ParcelResolver) Resolve(ctx context.Context, parcelID string) (Parcel, error) {
	log := zap.L().With(zap.String("component", "parcel"), zap.String("parcel_id", parcelID))
	id := strings.TrimSpace(parcelID)
	if id == "" {
		return Parcel{}, eris.Wrap(ErrParcelNotFound, "parcel: empty parcel id")
	}

	unavailable := 0
	for _, src := range r.sources {
		fs := r.fetcher.Query(ctx, src.Service, arcgis.Query{
			Where: fmt.Sprintf("%s='%s'", src.IDField, strings.ReplaceAll(id, "'", "''")),
		})
		if !fs.Available() {
			unavailable++
			log.Warn("parcel: source unavailable", zap.String("source", src.Service.Name), zap.Error(fs.Err))
			continue
		}
		if len(fs.Features) == 0 {
			continue
		}

		p := parcelFromFeatures(id, src.Service.Name, fs.Features)
		if city := cityOf(fs.Features); city != "" {
			return Parcel{}, eris.Wrapf(ErrCityParcel, "parcel %s: jurisdiction %q", id, city)
		}
		if geometry.IsEmpty(p.Geometry) {
			return Parcel{}, eris.Wrapf(ErrParcelNotFound, "parcel %s: %s returned no polygon", id, src.Service.Name)
		}
		log.Info("parcel: resolved",
			zap.String("source", src.Service.Name),
			zap.Int("features", len(fs.Features)),
			zap.Float64("area_sqft", p.Area()),
		)
		return p, nil
	}

	if unavailable > 0 {
		return Parcel{}, eris.Wrapf(ErrParcelNotFound, "parcel %s: no match, %d of %d sources unavailable",
			id, unavailable, len(r.sources))
	}
	return Parcel{}, eris.Wrapf(ErrParcelNotFound, "parcel %s", id)
}

func parcelFromFeatures(id, source string, features []arcgis.Feature) Parcel {
	geoms := make([]geom.T, 0, len(features))
	for _, f := range features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	first := features[0]
	p := Parcel{
		ID:           first.String(parcelIDFields...),
		Geometry:     geometry.Union(geoms...),
		Address:      first.String(addressFields...),
		Owner:        first.String(ownerFields...),
		Jurisdiction: first.String(jurisdictionFields...),
		ZoneCode:     first.String(zoneFields...),
		Source:       source,
	}
	if p.ID == "" {
		p.ID = id
	}
	p.Acres = firstFloat(first, acresFields)
	p.SqFt = firstFloat(first, sqftFields)
	return p
}

func firstFloat(f arcgis.Feature, keys []string) float64 {
	for _, k := range keys {
		if v, ok := f.Float(k); ok {
			return v
		}
	}
	return 0
}

// cityOf returns the incorporated jurisdiction named by any feature, or ""
// when every feature is unincorporated or carries no jurisdiction.
func cityOf(features []arcgis.Feature) string {
	for _, f := range features {
		for _, field := range jurisdictionFields {
			v := strings.TrimSpace(f.String(field))
			if v == "" {
				continue
			}
			switch strings.ToLower(v) {
			case "unincorporated", "uninc", "county", "snohomish county":
				continue
			}
			return v
		}
	}
	return ""
}
