// Package feasibility runs the subdivision feasibility pipeline for one
// parcel: resolution, zoning, constraints, buildable area, layouts,
// refinement, scoring, costing and export.
package feasibility

import (
	"maps"
	"slices"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/cost"
	"github.com/sells-group/parcel-feasibility/internal/layout"
	"github.com/sells-group/parcel-feasibility/internal/scorer"
)

// Phase is a state of the pipeline state machine.
type Phase string

// Pipeline phases in execution order. Stopped is entered from either gate
// and leads straight to Exporting.
const (
	PhaseResolvingParcel       Phase = "resolving_parcel"
	PhaseResolvingZoning       Phase = "resolving_zoning"
	PhaseEvaluatingConstraints Phase = "evaluating_constraints"
	PhaseComputingBuildable    Phase = "computing_buildable_area"
	PhaseStopped               Phase = "stopped"
	PhaseGeneratingLayouts     Phase = "generating_layouts"
	PhaseRefiningLayouts       Phase = "refining_layouts"
	PhaseScoring               Phase = "scoring"
	PhaseExporting             Phase = "exporting"
	PhaseDone                  Phase = "done"
	PhaseFailed                Phase = "failed"
)

// Tags set by the pipeline itself.
const (
	TagNotSubdividable       = "NOT_SUBDIVIDABLE"
	TagZoningDataIncomplete  = "ZONING_DATA_INCOMPLETE"
	TagZoningStandardUnknown = "ZONING_STANDARD_UNKNOWN"
	TagDataIncomplete        = "RISK_DATA_INCOMPLETE"
)

// PhaseRecord is one entry of the phase history.
type PhaseRecord struct {
	Phase      Phase  `json:"phase"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	// From is the phase a terminal failure interrupted.
	From Phase `json:"from,omitempty"`
}

// State is one snapshot of a pipeline run. Stages never modify the snapshot
// they receive; they return the next one with Version incremented. Every
// geometry is in the working CRS.
type State struct {
	Version  int
	Phase    Phase
	ParcelID string
	Parcel   Parcel

	ZoneCode string
	Standard *config.ZoningStandard

	// Constraints holds each evaluated layer by name; LayerOrder keeps the
	// evaluation order.
	Constraints map[string]constraint.Result
	LayerOrder  []string

	Buildable *geom.MultiPolygon
	Layouts   []layout.Layout
	Costs     map[string]cost.Estimate

	Tags     []string
	Warnings []string

	Stopped    bool
	StopReason string

	BestLayoutID string
	BestScore    float64
	// Scores holds the score breakdown of each layout by layout ID.
	Scores map[string]scorer.LayoutScore

	Artifacts map[string]string
	Metrics   map[string]float64
	History   []PhaseRecord
}

// NewState returns the initial snapshot for a parcel.
func NewState(parcelID string) State {
	return State{
		Phase:       PhaseResolvingParcel,
		ParcelID:    parcelID,
		Constraints: map[string]constraint.Result{},
		Costs:       map[string]cost.Estimate{},
		Scores:      map[string]scorer.LayoutScore{},
		Artifacts:   map[string]string{},
		Metrics:     map[string]float64{},
	}
}

// next returns a deep copy with the version bumped.
func (s State) next() State {
	out := s.clone()
	out.Version++
	return out
}

// clone returns a deep copy. Geometries are shared; they are never modified
// in place.
func (s State) clone() State {
	out := s
	out.Constraints = maps.Clone(s.Constraints)
	out.LayerOrder = slices.Clone(s.LayerOrder)
	out.Costs = maps.Clone(s.Costs)
	out.Scores = maps.Clone(s.Scores)
	out.Tags = slices.Clone(s.Tags)
	out.Warnings = slices.Clone(s.Warnings)
	out.Artifacts = maps.Clone(s.Artifacts)
	out.Metrics = maps.Clone(s.Metrics)
	out.History = slices.Clone(s.History)
	if s.Standard != nil {
		std := *s.Standard
		out.Standard = &std
	}
	out.Layouts = make([]layout.Layout, len(s.Layouts))
	for i, l := range s.Layouts {
		out.Layouts[i] = l.Clone()
	}
	if out.Constraints == nil {
		out.Constraints = map[string]constraint.Result{}
	}
	if out.Costs == nil {
		out.Costs = map[string]cost.Estimate{}
	}
	if out.Scores == nil {
		out.Scores = map[string]scorer.LayoutScore{}
	}
	if out.Artifacts == nil {
		out.Artifacts = map[string]string{}
	}
	if out.Metrics == nil {
		out.Metrics = map[string]float64{}
	}
	return out
}

// addTag appends tag once.
func (s *State) addTag(tag string) {
	if !slices.Contains(s.Tags, tag) {
		s.Tags = append(s.Tags, tag)
	}
}

// addWarning appends warning once.
func (s *State) addWarning(w string) {
	if !slices.Contains(s.Warnings, w) {
		s.Warnings = append(s.Warnings, w)
	}
}

func (s *State) stop(reason string) {
	s.Stopped = true
	s.StopReason = reason
	s.addTag(TagNotSubdividable)
}

// HasTag reports whether the run carries tag.
func (s State) HasTag(tag string) bool { return slices.Contains(s.Tags, tag) }

// FailedPhase returns the phase a failed run was in when it stopped, or
// the current phase when the run did not fail.
func (s State) FailedPhase() Phase {
	if s.Phase != PhaseFailed {
		return s.Phase
	}
	if n := len(s.History); n > 0 && s.History[n-1].From != "" {
		return s.History[n-1].From
	}
	return PhaseFailed
}

// RiskTags returns the RISK_ tags of the run.
func (s State) RiskTags() []string {
	var out []string
	for _, t := range s.Tags {
		if strings.HasPrefix(t, "RISK_") {
			out = append(out, t)
		}
	}
	return out
}

// ConstraintResults returns the layer results in evaluation order.
func (s State) ConstraintResults() []constraint.Result {
	out := make([]constraint.Result, 0, len(s.LayerOrder))
	for _, name := range s.LayerOrder {
		if r, ok := s.Constraints[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Layout returns the layout with the given ID.
func (s State) Layout(id string) (layout.Layout, bool) {
	for _, l := range s.Layouts {
		if l.ID == id {
			return l, true
		}
	}
	return layout.Layout{}, false
}
