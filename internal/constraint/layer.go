// Package constraint evaluates environmental, hazard and infrastructure
// layers against a parcel. Every layer is the same Layer type configured with
// a source, a buffer policy and a tag policy.
package constraint

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Availability reports how much of a layer's source data was obtained.
type Availability int

const (
	// Available means every source answered.
	Available Availability = iota
	// Partial means some sources answered.
	Partial
	// Unavailable means no source answered.
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Partial:
		return "partial"
	default:
		return "unavailable"
	}
}

// MarshalText encodes the availability by name.
func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an availability name.
func (a *Availability) UnmarshalText(text []byte) error {
	switch string(text) {
	case "available":
		*a = Available
	case "partial":
		*a = Partial
	case "unavailable":
		*a = Unavailable
	default:
		return eris.Errorf("constraint: unknown availability %q", text)
	}
	return nil
}

// Env carries the per-run collaborators a layer may consult.
type Env struct {
	Fetcher arcgis.Fetcher
	Reproj  *geometry.Reprojector
	// ZoneCode is the resolved zone, used for plan-consistency checks.
	ZoneCode string
	// OverlapImpact is the buffered share of the parcel above which a
	// layer emits its impact tag.
	OverlapImpact float64
}

// Fetched is what a Source returns.
type Fetched struct {
	Features     []arcgis.Feature
	Availability Availability
	// Sources records the status of each underlying service by name.
	Sources map[string]arcgis.Status
	Metrics map[string]float64
}

// Answered reports whether the named underlying service responded.
func (f Fetched) Answered(service string) bool {
	st, ok := f.Sources[service]
	return ok && st == arcgis.StatusAvailable
}

// Source fetches the raw features of a layer.
type Source interface {
	Fetch(ctx context.Context, env Env, parcel *geom.MultiPolygon) Fetched
}

// BufferPolicy returns the buffer distance in feet for a feature, and false
// when the feature does not restrict building.
type BufferPolicy func(f arcgis.Feature) (float64, bool)

// TagPolicy inspects a layer's evaluation and adds tags or metrics.
type TagPolicy func(tc *TagContext)

// TagContext is the view of an evaluation handed to a TagPolicy.
type TagContext struct {
	Env      Env
	Parcel   *geom.MultiPolygon
	Fetched  Fetched
	Buffer   *geom.MultiPolygon
	Overlap  float64
	tags     []string
	metrics  map[string]float64
	features []arcgis.Feature
}

// Features returns the fetched features.
func (tc *TagContext) Features() []arcgis.Feature { return tc.features }

// FromSource returns the features that came from the named service.
func (tc *TagContext) FromSource(service string) []arcgis.Feature {
	var out []arcgis.Feature
	for _, f := range tc.features {
		if f.String(SourceAttr) == service {
			out = append(out, f)
		}
	}
	return out
}

// Tag adds a tag once.
func (tc *TagContext) Tag(tag string) {
	for _, t := range tc.tags {
		if t == tag {
			return
		}
	}
	tc.tags = append(tc.tags, tag)
}

// Tagf adds a formatted tag.
func (tc *TagContext) Tagf(format string, args ...any) {
	tc.Tag(fmt.Sprintf(format, args...))
}

// Metric records a numeric observation.
func (tc *TagContext) Metric(name string, v float64) {
	tc.metrics[name] = v
}

// SourceAttr is the attribute stamped on every feature naming the service it
// came from.
const SourceAttr = "_source"

// Layer is one constraint layer.
type Layer struct {
	Name   string
	Source Source
	Buffer BufferPolicy
	Tags   TagPolicy
	// ImpactTag is emitted when the buffered share of the parcel exceeds
	// Env.OverlapImpact. Empty disables it.
	ImpactTag string
	// Informational layers never contribute a buffer.
	Informational bool
}

// Result is the normalized outcome of one layer.
type Result struct {
	Layer string `json:"layer"`
	// Buffer is the restricted area clipped to the parcel.
	Buffer       *geom.MultiPolygon `json:"-"`
	Availability Availability       `json:"availability"`
	Tags         []string           `json:"tags"`
	// Features are the raw source features, e.g. road centerlines.
	Features []arcgis.Feature   `json:"-"`
	Overlap  float64            `json:"overlap"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// DataIncompleteTag names the fail-closed tag of a layer.
func DataIncompleteTag(layer string) string {
	return strings.ToUpper(layer) + "_DATA_INCOMPLETE"
}

// Evaluate queries, buffers and tags the layer for one parcel. An
// unavailable source yields an empty buffer and the data-incomplete tag.
func (l Layer) Evaluate(ctx context.Context, env Env, parcel *geom.MultiPolygon) Result {
	log := zap.L().With(zap.String("component", "constraint"), zap.String("layer", l.Name))

	res := Result{
		Layer:   l.Name,
		Buffer:  geometry.EmptyPolygonal(),
		Metrics: map[string]float64{},
	}

	fetched := l.Source.Fetch(ctx, env, parcel)
	res.Availability = fetched.Availability
	res.Features = fetched.Features
	for k, v := range fetched.Metrics {
		res.Metrics[k] = v
	}

	if fetched.Availability == Unavailable {
		log.Warn("constraint: source unavailable, failing closed")
		res.Tags = []string{DataIncompleteTag(l.Name)}
		return res
	}

	if !l.Informational && l.Buffer != nil {
		res.Buffer = l.buffer(fetched.Features, parcel)
	}
	if parcelArea := geometry.Area(parcel); parcelArea > 0 {
		res.Overlap = geometry.Area(res.Buffer) / parcelArea
	}

	tc := &TagContext{
		Env:      env,
		Parcel:   parcel,
		Fetched:  fetched,
		Buffer:   res.Buffer,
		Overlap:  res.Overlap,
		metrics:  res.Metrics,
		features: fetched.Features,
	}
	if l.Tags != nil {
		l.Tags(tc)
	}
	if l.ImpactTag != "" && env.OverlapImpact > 0 && res.Overlap > env.OverlapImpact {
		tc.Tag(l.ImpactTag)
	}
	if fetched.Availability == Partial {
		tc.Tag(DataIncompleteTag(l.Name))
	}
	res.Tags = tc.tags

	log.Debug("constraint: layer evaluated",
		zap.Int("features", len(fetched.Features)),
		zap.Float64("overlap", res.Overlap),
		zap.Strings("tags", res.Tags),
	)
	return res
}

func (l Layer) buffer(features []arcgis.Feature, parcel *geom.MultiPolygon) *geom.MultiPolygon {
	parts := make([]geom.T, 0, len(features))
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		d, ok := l.Buffer(f)
		if !ok {
			continue
		}
		if d <= 0 {
			// Zero distance keeps areal features as-is; lines and points
			// have no area to restrict.
			if poly := geometry.AsMultiPolygon(f.Geometry); !geometry.IsEmpty(poly) {
				parts = append(parts, poly)
			}
			continue
		}
		parts = append(parts, geometry.Buffer(f.Geometry, d))
	}
	if len(parts) == 0 {
		return geometry.EmptyPolygonal()
	}
	return geometry.Intersection(geometry.Union(parts...), parcel)
}
