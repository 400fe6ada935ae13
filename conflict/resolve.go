package conflict

import (
	"context"
	"sort"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResolutionApplier moves an object as proposed by a conflict resolution.
type ResolutionApplier interface {
	ApplyResolution(ctx context.Context, c *models.ConflictReport) error
}

// ApplierFunc adapts a function to a ResolutionApplier.
type ApplierFunc func(ctx context.Context, c *models.ConflictReport) error

func (f ApplierFunc) ApplyResolution(ctx context.Context, c *models.ConflictReport) error {
	return f(ctx, c)
}

type ResolveSummary struct {
	Resolved   []uuid.UUID `json:"resolved"`
	Unresolved []uuid.UUID `json:"unresolved"`
	TotalCost  float64     `json:"total_cost"`
	TotalHours float64     `json:"total_hours"`
}

// Resolve applies the proposed resolution of the given active conflicts, or
// of every active conflict when no id is given. Conflicts are handled by
// severity, then by descending cost. A conflict without resolution, or whose
// resolution fails, stays active.
func (e *Engine) Resolve(ctx context.Context, applier ResolutionApplier, ids ...uuid.UUID) (ResolveSummary, error) {
	ctx, span := tracer.Start(ctx, "conflict.Resolve",
		trace.WithAttributes(
			attribute.Int("requested", len(ids)),
		),
	)
	defer span.End()

	pending := e.pending(ids)
	var summary ResolveSummary

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			err = errors.New("resolving conflicts interrupted").Wrap(err)
			endSpan(span, err)
			return summary, err
		}

		if c.Resolution == nil {
			summary.Unresolved = append(summary.Unresolved, c.ID)
			instrumentResolution("unresolvable")
			continue
		}

		if err := applier.ApplyResolution(ctx, c); err != nil {
			logs.Warn(errors.New("applying conflict resolution failed").
				WithTag("conflict_id", c.ID).
				WithTag("object_id", c.Resolution.MoveObject).
				Wrap(err))
			summary.Unresolved = append(summary.Unresolved, c.ID)
			instrumentResolution("failed")
			continue
		}

		e.markResolved(c.ID)
		summary.Resolved = append(summary.Resolved, c.ID)
		summary.TotalCost += c.Resolution.EstimatedCost
		summary.TotalHours += c.Resolution.EstimatedHours
		instrumentResolution("resolved")
	}

	span.SetAttributes(
		attribute.Int("resolved", len(summary.Resolved)),
		attribute.Int("unresolved", len(summary.Unresolved)),
	)
	endSpan(span, nil)
	return summary, nil
}

// pending returns copies of the active conflicts to resolve, in resolution
// order. Unknown ids are ignored.
func (e *Engine) pending(ids []uuid.UUID) []*models.ConflictReport {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()

	var res []*models.ConflictReport
	if len(ids) == 0 {
		for _, c := range e.active {
			res = append(res, c.Clone())
		}
	} else {
		for _, id := range ids {
			if c, ok := e.active[id]; ok {
				res = append(res, c.Clone())
			}
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		return resolutionCost(a) > resolutionCost(b)
	})
	return res
}

// markResolved moves a conflict to the resolved set when the applier did not
// already do it through a redetection.
func (e *Engine) markResolved(id uuid.UUID) {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()

	if c, ok := e.active[id]; ok {
		e.resolve(id, c, e.now())
	}
}

func resolutionCost(c *models.ConflictReport) float64 {
	if c.Resolution == nil {
		return 0
	}
	return c.Resolution.EstimatedCost
}
