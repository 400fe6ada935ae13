// Package smoketest runs end-to-end scenarios against fresh in-memory
// engines to check that a deployed binary behaves.
package smoketest

import (
	"context"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/bygg/lifecycle"
	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

const defaultTimeout = time.Second * 30

type Options struct {
	Version string

	// The maximum duration of a run. Defaults to 30s.
	Timeout time.Duration

	Now func() time.Time
}

// Request selects the scenarios to run. Every scenario runs when empty.
type Request struct {
	Scenarios []string `json:"scenarios,omitempty"`
}

type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Results struct {
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Passed    bool      `json:"passed"`
	Scenarios []Result  `json:"scenarios"`
}

type scenario struct {
	name string
	run  func(ctx context.Context, e *lifecycle.Engine) error

	evaluator lifecycle.ConstraintEvaluator
}

var scenarios = []scenario{
	{name: "overlap", run: runOverlap},
	{name: "sprinkler_spacing", run: runSprinklerSpacing},
	{name: "locks", run: runLocks},
	{name: "transaction_rollback", run: runTransactionRollback, evaluator: rejectX(50)},
	{name: "removal", run: runRemoval},
}

// Scenarios returns the names of the available scenarios.
func Scenarios() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

// HandleSmokeTest runs the requested scenarios and responds with the
// results. The response status is 200 when every scenario passed and 500
// otherwise.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request

		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		res, err := Run(ctx, opts, req.Scenarios...)
		if err != nil {
			logs.WithTag("scenarios", req.Scenarios).Warn(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status := http.StatusOK
		if !res.Passed {
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(res)
	}
}

// Run runs the named scenarios, or all of them when no name is given, each
// against its own engine.
func Run(ctx context.Context, opts Options, names ...string) (Results, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	selected, err := selectScenarios(names)
	if err != nil {
		return Results{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res := Results{
		Version:   opts.Version,
		StartedAt: opts.Now(),
		Passed:    true,
	}

	for _, s := range selected {
		start := time.Now()
		err := runScenario(ctx, opts, s)

		r := Result{
			Name:     s.name,
			Passed:   err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			r.Error = err.Error()
			res.Passed = false
			logs.WithTag("scenario", s.name).Warn(err)
		}
		res.Scenarios = append(res.Scenarios, r)
	}

	logs.WithTag("passed", res.Passed).
		WithTag("scenarios", len(res.Scenarios)).
		Info("smoke test done")
	return res, nil
}

func selectScenarios(names []string) ([]scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}

	var selected []scenario
	for _, name := range names {
		found := false
		for _, s := range scenarios {
			if s.name == strings.TrimSpace(name) {
				selected = append(selected, s)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("unknown scenario").WithTag("scenario", name)
		}
	}
	return selected, nil
}

func runScenario(ctx context.Context, opts Options, s scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := lifecycle.New(lifecycle.Options{
		Evaluator: s.evaluator,
		Now:       opts.Now,
	})
	if err != nil {
		return errors.New("creating engine failed").Wrap(err)
	}
	defer e.Close()

	return s.run(ctx, e)
}

func box(typ models.ObjectType, center models.Vector3, length, width, height float64) lifecycle.CreateRequest {
	return lifecycle.CreateRequest{
		Type: typ,
		Geometry: models.Geometry{
			Center: center,
			Length: length,
			Width:  width,
			Height: height,
			Shape:  models.ShapeBox,
		},
		Precision: models.PrecisionStandard,
	}
}

func runOverlap(ctx context.Context, e *lifecycle.Engine) error {
	column, err := e.Create(ctx, box(models.ObjectStructuralColumn, models.Vector3{}, 2, 2, 10))
	if err != nil {
		return err
	}
	outlet, err := e.Create(ctx, box(models.ObjectElectricalOutlet, models.Vector3{X: 0.5}, 0.5, 0.5, 0.5))
	if err != nil {
		return err
	}

	reports, err := e.CheckConflicts(ctx, outlet.ID, nil)
	if err != nil {
		return err
	}
	if len(reports) != 1 {
		return errors.New("unexpected number of conflicts").WithTag("conflicts", len(reports))
	}

	r := reports[0]
	if !r.Involves(column.ID) {
		return errors.New("conflict does not involve the column").WithTag("conflict_id", r.ID)
	}
	if r.Type != models.ConflictOverlap {
		return errors.New("unexpected conflict type").WithTag("type", r.Type)
	}
	if r.Severity != models.ConflictSeverityCritical {
		return errors.New("unexpected conflict severity").WithTag("severity", r.Severity)
	}

	expected := column.Bounds.IntersectionVolume(outlet.Bounds)
	if math.Abs(r.OverlapVolume-expected) > 1e-9 {
		return errors.New("unexpected overlap volume").
			WithTag("overlap_volume", r.OverlapVolume).
			WithTag("expected", expected)
	}
	return nil
}

func runSprinklerSpacing(ctx context.Context, e *lifecycle.Engine) error {
	var sprinklers []*models.SpatialObject
	for _, x := range []float64{0, 20} {
		req := box(models.ObjectFireSprinkler, models.Vector3{X: x, Z: 10}, 0.5, 0.5, 0.5)
		req.FloorID = "level-1"

		obj, err := e.Create(ctx, req)
		if err != nil {
			return err
		}
		sprinklers = append(sprinklers, obj)
	}

	reports, err := e.CheckConflicts(ctx, sprinklers[1].ID, nil)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if r.Type == models.ConflictCodeViolation &&
			strings.HasPrefix(r.CodeReference, "NFPA 13") {
			return nil
		}
	}
	return errors.New("sprinkler spacing violation not detected").
		WithTag("conflicts", len(reports))
}

func runLocks(ctx context.Context, e *lifecycle.Engine) error {
	obj, err := e.Create(ctx, box(models.ObjectHVACDuct, models.Vector3{}, 4, 0.5, 0.5))
	if err != nil {
		return err
	}

	if _, err := e.LockObject(ctx, obj.ID, "userX", 0); err != nil {
		return err
	}

	name := "supply duct"
	_, err = e.Update(ctx, obj.ID, lifecycle.UpdateRequest{Actor: "userY", Name: &name})
	if !errors.IsType(err, models.ErrTypeLockConflict) {
		return errors.New("update by another actor was not rejected").Wrap(err)
	}

	updated, err := e.Update(ctx, obj.ID, lifecycle.UpdateRequest{Actor: "userX", Name: &name})
	if err != nil {
		return err
	}
	if updated.Version <= obj.Version {
		return errors.New("version not incremented").
			WithTag("before", obj.Version).
			WithTag("after", updated.Version)
	}
	return nil
}

// rejectX refuses objects centered at the given x.
func rejectX(x float64) lifecycle.EvaluatorFunc {
	return func(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint, env map[string]any) (models.ValidationResult, error) {
		if obj.Geometry.Center.X != x {
			return models.ValidationResult{Valid: true}, nil
		}
		return models.ValidationResult{
			Violations: []models.Violation{{
				Type:     "position",
				Message:  "position is reserved",
				Severity: models.SeverityError,
			}},
		}, nil
	}
}

func runTransactionRollback(ctx context.Context, e *lifecycle.Engine) error {
	b, err := e.Create(ctx, box(models.ObjectPlumbingPipe, models.Vector3{X: 10}, 1, 1, 1))
	if err != nil {
		return err
	}

	e.BeginTransaction(ctx, "smoke test")

	a, err := e.Create(ctx, box(models.ObjectHVACDuct, models.Vector3{}, 1, 1, 1))
	if err != nil {
		e.RollbackTransaction(ctx)
		return err
	}

	g := b.Geometry.Moved(models.Vector3{X: 50})
	if _, err := e.Update(ctx, b.ID, lifecycle.UpdateRequest{Geometry: &g}); err != nil {
		e.RollbackTransaction(ctx)
		return err
	}

	if err := e.CommitTransaction(ctx); !errors.IsType(err, models.ErrTypeTransactionFailed) {
		return errors.New("invalid transaction was committed").Wrap(err)
	}

	if _, err := e.Get(a.ID); !errors.IsType(err, models.ErrTypeNotFound) {
		return errors.New("object created in the transaction still exists").WithTag("object_id", a.ID)
	}

	restored, err := e.Get(b.ID)
	if err != nil {
		return err
	}
	if restored.Geometry != b.Geometry {
		return errors.New("geometry not restored").
			WithTag("geometry", restored.Geometry).
			WithTag("expected", b.Geometry)
	}
	return nil
}

func runRemoval(ctx context.Context, e *lifecycle.Engine) error {
	obj, err := e.Create(ctx, box(models.ObjectHVACUnit, models.Vector3{X: 3, Y: 3}, 2, 2, 2))
	if err != nil {
		return err
	}
	region := obj.Bounds.Expand(1)

	if found := e.FindInRegion(region); len(found) != 1 {
		return errors.New("object not indexed").WithTag("found", len(found))
	}

	if err := e.Delete(ctx, obj.ID, lifecycle.DeleteOptions{}); err != nil {
		return err
	}

	if found := e.FindInRegion(region); len(found) != 0 {
		return errors.New("deleted object still in volume index").WithTag("found", len(found))
	}
	if found := e.FindInPlan(region.Plan()); len(found) != 0 {
		return errors.New("deleted object still in plan index").WithTag("found", len(found))
	}
	if e.Conflicts().Contains(obj.ID) {
		return errors.New("deleted object still indexed").WithTag("object_id", obj.ID)
	}
	if _, err := e.Get(obj.ID); !errors.IsType(err, models.ErrTypeNotFound) {
		return errors.New("deleted object still exists").Wrap(err)
	}
	return nil
}
