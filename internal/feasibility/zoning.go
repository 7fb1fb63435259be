package feasibility

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Where a zone code came from.
const (
	ZoneFromService = "zoning_service"
	ZoneFromParcel  = "parcel_record"
)

// ZoningResolution is the outcome of a zoning lookup.
type ZoningResolution struct {
	Code     string
	Source   string
	Standard config.ZoningStandard
	// Found is set when the code has a standard in the table.
	Found bool
	Tags  []string
}

// ZoningResolver finds a parcel's zone and its dimensional standards.
type ZoningResolver struct {
	fetcher arcgis.Fetcher
	service arcgis.Service
	table   config.ZoningTable
}

// NewZoningResolver creates a resolver over the zoning layer and table.
func NewZoningResolver(f arcgis.Fetcher, svc arcgis.Service, table config.ZoningTable) *ZoningResolver {
	return &ZoningResolver{fetcher: f, service: svc, table: table}
}

// Resolve queries the zoning layer at the parcel centroid. When the layer is
// unavailable or has no zone there, the parcel record's zone is used and the
// result is tagged as incomplete.
func (z *ZoningResolver) Resolve(ctx context.Context, p Parcel) ZoningResolution {
	log := zap.L().With(zap.String("component", "zoning"), zap.String("parcel_id", p.ID))
	var res ZoningResolution

	if c, ok := geometry.Centroid(p.Geometry); ok {
		fs := z.fetcher.Query(ctx, z.service, arcgis.Query{Geometry: geometry.Point(c)})
		if fs.Available() {
			for _, f := range fs.Features {
				if code := f.String(zoneFields...); code != "" {
					res.Code, res.Source = code, ZoneFromService
					break
				}
			}
		} else {
			log.Warn("zoning: service unavailable, falling back to parcel record", zap.Error(fs.Err))
		}
	}

	if res.Code == "" {
		res.Tags = append(res.Tags, TagZoningDataIncomplete)
		if p.ZoneCode != "" {
			res.Code, res.Source = p.ZoneCode, ZoneFromParcel
		}
	}
	if res.Code == "" {
		return res
	}

	res.Standard, res.Found = z.table.Lookup(p.Jurisdiction, res.Code)
	if !res.Found {
		res.Tags = append(res.Tags, TagZoningStandardUnknown)
	}
	log.Info("zoning: resolved",
		zap.String("zone", res.Code),
		zap.String("source", res.Source),
		zap.Bool("standard_found", res.Found),
	)
	return res
}

// FailsParcelGate reports whether a parcel is too small to hold two lots of
// the zone's minimum size.
func FailsParcelGate(parcelArea float64, std config.ZoningStandard) bool {
	if std.MinLotArea <= 0 {
		return false
	}
	return parcelArea/(2*std.MinLotArea) < 1
}
