package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// Evaluator runs a set of layers against one parcel.
type Evaluator struct {
	layers []Layer
	limit  int
}

// NewEvaluator creates an Evaluator running at most limit layers at once.
// A limit below one runs layers sequentially.
func NewEvaluator(layers []Layer, limit int) *Evaluator {
	if limit < 1 {
		limit = 1
	}
	return &Evaluator{layers: layers, limit: limit}
}

// EvaluateAll evaluates every layer concurrently. Each layer is isolated: a
// panic becomes a warning and that layer's data-incomplete tag. Results are
// returned in layer order.
func (e *Evaluator) EvaluateAll(ctx context.Context, env Env, parcel *geom.MultiPolygon) []Result {
	log := zap.L().With(zap.String("component", "constraint.evaluator"))
	results := make([]Result, len(e.layers))

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, l := range e.layers {
		g.Go(func() error {
			start := time.Now()
			results[i] = evaluateIsolated(ctx, l, env, parcel)
			log.Debug("layer done",
				zap.String("layer", l.Name),
				zap.String("availability", results[i].Availability.String()),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func evaluateIsolated(ctx context.Context, l Layer, env Env, parcel *geom.MultiPolygon) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("constraint: layer panicked",
				zap.String("layer", l.Name),
				zap.Any("panic", r),
			)
			res = Result{
				Layer:        l.Name,
				Buffer:       geometry.EmptyPolygonal(),
				Availability: Unavailable,
				Tags:         []string{DataIncompleteTag(l.Name)},
				Metrics:      map[string]float64{},
				Warnings:     []string{fmt.Sprintf("layer %s failed: %v", l.Name, r)},
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result{
			Layer:        l.Name,
			Buffer:       geometry.EmptyPolygonal(),
			Availability: Unavailable,
			Tags:         []string{DataIncompleteTag(l.Name)},
			Metrics:      map[string]float64{},
			Warnings:     []string{fmt.Sprintf("layer %s skipped: %v", l.Name, err)},
		}
	}
	return l.Evaluate(ctx, env, parcel)
}
