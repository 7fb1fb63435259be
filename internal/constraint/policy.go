package constraint

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Fixed buffers every feature by d feet.
func Fixed(d float64) BufferPolicy {
	return func(arcgis.Feature) (float64, bool) { return d, true }
}

// StreamTypeFields are the attributes that carry a stream's water type.
var StreamTypeFields = []string{"StreamType", "STREAM_TYPE", "TYPE", "WATERTYPE", "FCODE_DESC"}

// StreamBuffer sizes stream buffers by water type (S, F, Np, Ns).
func StreamBuffer(table config.BufferTable) BufferPolicy {
	return func(f arcgis.Feature) (float64, bool) {
		return table.StreamDistance(f.String(StreamTypeFields...)), true
	}
}

// WetlandCodeFields are the attributes that carry a Cowardin code.
var WetlandCodeFields = []string{"ATTRIBUTE", "WETLAND_TY", "WETLAND_TYPE"}

// CowardinCategory maps a Cowardin classification code to a rating
// category: forested palustrine wetlands rate highest, emergent and
// scrub-shrub next, riverine after that.
func CowardinCategory(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(c, "PFO"):
		return "I"
	case strings.HasPrefix(c, "PEM"), strings.HasPrefix(c, "PSS"):
		return "II"
	case strings.HasPrefix(c, "R"):
		return "III"
	default:
		return "IV"
	}
}

// WetlandBuffer sizes wetland buffers by rating category.
func WetlandBuffer(table config.BufferTable) BufferPolicy {
	return func(f arcgis.Feature) (float64, bool) {
		return table.WetlandDistance(CowardinCategory(f.String(WetlandCodeFields...))), true
	}
}

// FloodZoneFields are the attributes that carry the FEMA zone.
var FloodZoneFields = []string{"FLD_ZONE", "ZONE_SUBTY"}

var highRiskFloodZones = map[string]bool{
	"A": true, "AE": true, "AO": true, "AH": true, "A99": true, "AR": true, "V": true, "VE": true,
}

// HighRiskFloodZone reports whether a FEMA zone is a special flood hazard area.
func HighRiskFloodZone(zone string) bool {
	return highRiskFloodZones[strings.ToUpper(strings.TrimSpace(zone))]
}

// FloodBuffer buffers only special flood hazard areas.
func FloodBuffer(d float64) BufferPolicy {
	return func(f arcgis.Feature) (float64, bool) {
		return d, HighRiskFloodZone(f.String(FloodZoneFields...))
	}
}

// SourceBuffer buffers features from the listed services only.
func SourceBuffer(d float64, services ...string) BufferPolicy {
	return func(f arcgis.Feature) (float64, bool) {
		src := f.String(SourceAttr)
		for _, s := range services {
			if s == src {
				return d, true
			}
		}
		return 0, false
	}
}

// ClassBuffer buffers only features whose "class" attribute matches.
func ClassBuffer(d float64, class string) BufferPolicy {
	return func(f arcgis.Feature) (float64, bool) {
		return d, f.String("class") == class
	}
}

// Tag policies.

func streamTags(tc *TagContext) {
	if len(tc.Features()) > 0 {
		tc.Tag("INFO_STREAM_PRESENT")
	}
}

func wetlandTags(tc *TagContext) {
	if len(tc.Features()) > 0 {
		tc.Tag("RISK_WETLAND_PRESENT")
	}
}

func floodTags(tc *TagContext) {
	var high, moderate bool
	for _, f := range tc.Features() {
		zone := strings.ToUpper(f.String(FloodZoneFields...))
		if HighRiskFloodZone(zone) {
			high = true
		}
		if strings.HasPrefix(zone, "X") || strings.Contains(zone, "0.2 PCT") {
			moderate = true
		}
	}
	if high {
		tc.Tag("RISK_FEMA_100YR_FLOOD")
	}
	if moderate {
		tc.Tag("INFO_FEMA_500YR_FLOOD")
	}
	tc.Metric("flood_overlap_fraction", tc.Overlap)
	if tc.Overlap > 0.90 {
		tc.Tag("RISK_ENTIRE_PARCEL_FLOODPLAIN")
	}
}

func slopeTags(tc *TagContext) {
	steep := tc.Fetched.Metrics["slope_steep_fraction"]
	moderate := tc.Fetched.Metrics["slope_moderate_fraction"]
	if steep > 0.20 {
		tc.Tag("RISK_STEEP_SLOPE")
	}
	if moderate > 0.20 {
		tc.Tag("RISK_EROSION_HAZARD")
	}
	if steep > 0 || moderate > 0 {
		tc.Tag("INFO_SLOPE_CONSTRAINT")
	}
}

func geologyTags(landslides, ground, volcanic string) TagPolicy {
	return func(tc *TagContext) {
		hazard := false
		if len(tc.FromSource(landslides)) > 0 {
			tc.Tag("RISK_LANDSLIDE_HAZARD")
			hazard = true
		}
		for _, f := range tc.FromSource(ground) {
			if strings.Contains(attrText(f), "liquef") {
				tc.Tag("RISK_LIQUEFACTION")
				hazard = true
				break
			}
		}
		if len(tc.FromSource(volcanic)) > 0 {
			tc.Tag("RISK_LAHAR_ZONE")
			hazard = true
		}
		if hazard {
			tc.Tag("RISK_GEOLOGIC_HAZARD")
		}
	}
}

func soilTags(soils, septic string) TagPolicy {
	return func(tc *TagContext) {
		units := tc.FromSource(soils)
		if len(units) > 0 {
			tc.Tag("INFO_SOIL_TYPE")
			if name := units[0].String("muname"); name != "" {
				tc.Tagf("INFO_SOIL_TYPE:%s", name)
			}
		}
		for _, u := range units {
			drainage := strings.ToLower(u.String("drainagecl"))
			if strings.Contains(drainage, "poorly") {
				tc.Tag("RISK_POOR_SOIL_DRAINAGE")
				break
			}
		}
		if len(tc.FromSource(septic)) > 0 {
			tc.Tag("RISK_SEPTIC_LIMITATION")
		}
	}
}

func utilityTags(water, sewer string) TagPolicy {
	return func(tc *TagContext) {
		if tc.Fetched.Answered(water) {
			if len(tc.FromSource(water)) > 0 {
				tc.Tag("INFO_PUBLIC_WATER_AVAILABLE")
			} else {
				tc.Tag("RISK_WELL_REQUIRED")
			}
		}
		if tc.Fetched.Answered(sewer) {
			if len(tc.FromSource(sewer)) > 0 {
				tc.Tag("INFO_PUBLIC_SEWER_AVAILABLE")
			} else {
				tc.Tag("RISK_SEPTIC_REQUIRED")
			}
		}
	}
}

// FrontageReach is how close a road must run to the parcel boundary to count
// as frontage.
const FrontageReach = 50.0

func roadTags(tc *TagContext) {
	roads := tc.Features()
	if len(roads) == 0 {
		tc.Metric("road_frontage_ft", 0)
		tc.Tag("RISK_INSUFFICIENT_FRONTAGE")
		return
	}

	reach := make([]geom.T, 0, len(roads))
	for _, r := range roads {
		if r.Geometry != nil {
			reach = append(reach, geometry.Buffer(r.Geometry, FrontageReach))
		}
	}
	frontage := 0.0
	if boundary := geometry.Boundary(tc.Parcel); boundary != nil {
		frontage = geometry.IntersectionLength(boundary, geometry.Union(reach...))
	}
	frontage = math.Round(frontage)

	tc.Metric("road_frontage_ft", frontage)
	tc.Tagf("INFO_ROAD_FRONTAGE_FT:%d", int(frontage))
	switch {
	case frontage < 40:
		tc.Tag("RISK_INSUFFICIENT_FRONTAGE")
	case frontage < 100:
		tc.Tag("INFO_FLAG_LOT_CANDIDATE")
	}
}

// DesignationFields carry the future land use designation.
var DesignationFields = []string{"DESIGNATION", "FLU_DESC", "LABEL", "FLU"}

func futureLandUseTags(tc *TagContext) {
	features := tc.Features()
	if len(features) == 0 {
		return
	}
	f := features[0]
	if d := f.String(DesignationFields...); d != "" {
		tc.Tagf("INFO_FLU_DESIGNATION:%s", d)
	}
	zone := config.NormalizeZoneCode(tc.Env.ZoneCode)
	if zone == "" {
		return
	}
	text := config.NormalizeZoneCode(attrText(f))
	if !strings.Contains(text, zone) {
		tc.Tag("INFO_FLU_ZONING_MISMATCH")
	}
}

// ShorelineReach is the distance from the parcel within which shoreline
// jurisdiction applies.
const ShorelineReach = 200.0

func shorelineTags(tc *TagContext) {
	for _, f := range tc.Features() {
		if geometry.Distance(f.Geometry, tc.Parcel) <= ShorelineReach {
			tc.Tag("RISK_SHORELINE_JURISDICTION")
			return
		}
	}
}
