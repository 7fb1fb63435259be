package feasibility

import (
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

// ReserveStormwater sets aside pct of the buildable area on every layout and
// tags layouts whose minimum lot area no longer fits in the remainder. No
// layout is removed.
func ReserveStormwater(layouts []layout.Layout, buildableArea, pct float64, std config.ZoningStandard) []layout.Layout {
	reserve := buildableArea * pct
	remaining := max(0, buildableArea-reserve)
	out := make([]layout.Layout, len(layouts))
	for i, l := range layouts {
		l = l.Clone()
		l.StormwaterReserve = reserve
		if remaining < float64(l.LotCount())*std.MinLotArea {
			l.Tag(layout.TagStormwaterConstrained)
		}
		out[i] = l
	}
	return out
}
