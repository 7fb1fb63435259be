// Package arcgistest provides an in-memory arcgis.Fetcher for tests.
package arcgistest

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Fake answers queries from in-memory fixtures keyed by service name.
// Services listed in Down answer as unavailable. The zero value answers
// every query with no features.
type Fake struct {
	// Features are returned by Query when they intersect the query geometry
	// widened by the query distance. Features without geometry always match.
	Features map[string][]arcgis.Feature
	// Rasters fill ExportImage. The returned raster takes the request's box.
	Rasters map[string][]float64
	// Elevation answers Samples; nil means every sample is invalid.
	Elevation func(geom.Coord) float64
	// Tables answer PostTabular.
	Tables map[string]arcgis.Table
	// Down marks services that fail every call.
	Down map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

var errDown = eris.New("arcgistest: service down")

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

// Calls returns the number of calls made to a service.
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// TotalCalls returns the number of calls made to every service.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Query implements arcgis.Fetcher.
func (f *Fake) Query(_ context.Context, svc arcgis.Service, q arcgis.Query) arcgis.FeatureSet {
	f.record(svc.Name)
	if f.Down[svc.Name] {
		return arcgis.FeatureSet{Status: arcgis.StatusUnavailable, Err: errDown}
	}

	var filter geom.T
	if q.Geometry != nil {
		filter = q.Geometry
		if q.Distance > 0 {
			filter = geometry.Buffer(q.Geometry, q.Distance)
		}
	}
	out := arcgis.FeatureSet{Status: arcgis.StatusAvailable, SourceSRID: geometry.WorkingSRID}
	for _, feat := range f.Features[svc.Name] {
		if feat.Geometry == nil || filter == nil || geometry.Intersects(feat.Geometry, filter) {
			out.Features = append(out.Features, feat)
		}
	}
	return out
}

// ExportImage implements arcgis.Fetcher.
func (f *Fake) ExportImage(_ context.Context, svc arcgis.Service, ir arcgis.ImageRequest) arcgis.Raster {
	f.record(svc.Name)
	values, ok := f.Rasters[svc.Name]
	if f.Down[svc.Name] || !ok {
		return arcgis.Raster{Status: arcgis.StatusUnavailable, Err: errDown}
	}
	return arcgis.Raster{
		Box:    ir.Box,
		Width:  ir.Width,
		Height: ir.Height,
		Values: resample(values, ir.Width*ir.Height),
		Status: arcgis.StatusAvailable,
	}
}

// resample stretches or truncates a fixture to n cells.
func resample(values []float64, n int) []float64 {
	out := make([]float64, n)
	if len(values) == 0 {
		return out
	}
	for i := range out {
		out[i] = values[i*len(values)/n]
	}
	return out
}

// Samples implements arcgis.Fetcher.
func (f *Fake) Samples(_ context.Context, svc arcgis.Service, points []geom.Coord) arcgis.SampleSet {
	f.record(svc.Name)
	if f.Down[svc.Name] || f.Elevation == nil {
		return arcgis.SampleSet{Status: arcgis.StatusUnavailable, Err: errDown}
	}
	out := arcgis.SampleSet{
		Values: make([]float64, len(points)),
		Valid:  make([]bool, len(points)),
		Status: arcgis.StatusAvailable,
	}
	for i, p := range points {
		out.Values[i] = f.Elevation(p)
		out.Valid[i] = true
	}
	return out
}

// PostTabular implements arcgis.Fetcher.
func (f *Fake) PostTabular(_ context.Context, svc arcgis.Service, _ string) arcgis.Table {
	f.record(svc.Name)
	if f.Down[svc.Name] {
		return arcgis.Table{Status: arcgis.StatusUnavailable, Err: errDown}
	}
	t := f.Tables[svc.Name]
	t.Status = arcgis.StatusAvailable
	return t
}

var _ arcgis.Fetcher = (*Fake)(nil)
