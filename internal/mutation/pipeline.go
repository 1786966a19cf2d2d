package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/permissions"
)

// Batch outcomes reported to Metrics.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics receives per-batch measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordBatch(ctx context.Context, entity string, family Family, size int, outcome string, duration time.Duration)
	RecordRejectedRow(ctx context.Context, entity string, family Family, code apierrors.Code)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatch(context.Context, string, Family, int, string, time.Duration) {}
func (noopMetrics) RecordRejectedRow(context.Context, string, Family, apierrors.Code)       {}

// Options configures a Pipeline.
type Options struct {
	Limits  Limits
	Logger  *slog.Logger
	Metrics Metrics
	// Now and NewID default to the wall clock and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// Pipeline runs bulk mutations against one database.
type Pipeline struct {
	exec         dbexec.QueryExecutor
	organization *catalog.Entity
	limits       Limits
	logger       *slog.Logger
	metrics      Metrics
	tracer       trace.Tracer
	now          func() time.Time
	newID        func() string
}

// NewPipeline creates a Pipeline. reg must contain the Organization entity.
func NewPipeline(exec dbexec.QueryExecutor, reg *catalog.Registry, opts Options) (*Pipeline, error) {
	if exec == nil {
		return nil, errors.New("mutation: executor is required")
	}
	org, ok := reg.Entity(catalog.Organization)
	if !ok {
		return nil, errors.New("mutation: registry has no Organization entity")
	}
	p := &Pipeline{
		exec:         exec,
		organization: org,
		limits:       opts.Limits.normalized(),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("taxonomy-graphql/mutation"),
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p, nil
}

// Limits returns the effective input limits.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Result holds the affected records in input order.
type Result struct {
	Records []catalog.Record
}

// Nodes projects the records onto API nodes.
func (r *Result) Nodes() []map[string]interface{} {
	nodes := make([]map[string]interface{}, len(r.Records))
	for i, rec := range r.Records {
		nodes[i] = rec.Node()
	}
	return nodes
}

// Create inserts new records.
func (p *Pipeline) Create(ctx context.Context, d *Descriptor, inputs []CreateInput) (*Result, error) {
	return p.run(ctx, d, FamilyCreate, &createFamily{inputs: normalizeCreate(inputs), newID: p.newID})
}

// Update renames records and replaces their children.
func (p *Pipeline) Update(ctx context.Context, d *Descriptor, inputs []UpdateInput) (*Result, error) {
	return p.run(ctx, d, FamilyUpdate, &updateFamily{inputs: normalizeUpdate(inputs)})
}

// Delete soft-deletes records.
func (p *Pipeline) Delete(ctx context.Context, d *Descriptor, inputs []DeleteInput) (*Result, error) {
	return p.run(ctx, d, FamilyDelete, &deleteFamily{inputs: normalizeDelete(inputs)})
}

// AddChildren attaches children to parents.
func (p *Pipeline) AddChildren(ctx context.Context, d *Descriptor, inputs []RelationInput) (*Result, error) {
	return p.run(ctx, d, FamilyAddRelation, &relationFamily{inputs: normalizeRelation(inputs)})
}

// RemoveChildren detaches children from parents.
func (p *Pipeline) RemoveChildren(ctx context.Context, d *Descriptor, inputs []RelationInput) (*Result, error) {
	return p.run(ctx, d, FamilyRemoveRelation, &relationFamily{inputs: normalizeRelation(inputs), remove: true})
}

// run executes every stage of a batch. Request-level failures return a
// single *apierrors.APIError; row failures return an *apierrors.Collection
// and nothing is written.
func (p *Pipeline) run(ctx context.Context, d *Descriptor, kind Family, f family) (res *Result, err error) {
	if d == nil || !d.Supports(kind) {
		return nil, fmt.Errorf("mutation: %s is not supported", kind)
	}
	entity := d.Entity.Name
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "mutation."+string(kind), trace.WithAttributes(
		attribute.String("mutation.entity", entity),
		attribute.Int("mutation.batch_size", f.size()),
	))
	defer func() {
		outcome := OutcomeApplied
		if err != nil {
			outcome = OutcomeFailed
			if _, ok := apierrors.AsCollection(err); ok {
				outcome = OutcomeRejected
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("mutation.outcome", outcome))
		span.End()
		p.metrics.RecordBatch(ctx, entity, kind, f.size(), outcome, time.Since(start))
	}()

	if lengthErr := p.limits.validateInputLength(d.InputTypeName(kind), f.size()); lengthErr != nil {
		return nil, lengthErr
	}

	perm := d.permissionFor(kind)
	checker, ok := permissions.FromContext(ctx)
	if !ok {
		return nil, apierrors.NewUnauthorized(nil, entity, "", string(perm))
	}

	maps, err := p.generateEntityMaps(ctx, d, f.request())
	if err != nil {
		return nil, fmt.Errorf("preload %s: %w", entity, err)
	}

	collection := apierrors.NewCollection()
	inputErrs := f.validateAll(d, maps, p.limits)
	collection.Add(inputErrs.errs...)

	v := &rowValidator{d: d, maps: maps, checker: checker, perm: perm}
	for i := 0; i < f.size(); i++ {
		if inputErrs.invalid[i] {
			continue
		}
		collection.Add(f.validateRow(i, v)...)
	}

	if rejected := collection.ErrOrNil(); rejected != nil {
		for _, e := range collection.Errors {
			p.metrics.RecordRejectedRow(ctx, entity, kind, e.Code)
		}
		p.logger.InfoContext(ctx, "mutation rejected",
			slog.String("entity", entity),
			slog.String("family", string(kind)),
			slog.Int("rows", f.size()),
			slog.Int("errors", collection.Len()),
			slog.String("subject", checker.Subject()),
		)
		return nil, rejected
	}

	var records []catalog.Record
	w := &writer{d: d, now: p.now().UTC()}
	txErr := dbexec.RunInTx(ctx, p.exec, func(tx dbexec.Querier) error {
		w.tx = tx
		var applyErr error
		records, applyErr = f.apply(ctx, w, maps)
		return applyErr
	})
	if txErr != nil {
		saveErr := apierrors.NewDatabaseSaveError(entity, txErr)
		p.logger.ErrorContext(ctx, "mutation failed",
			slog.String("entity", entity),
			slog.String("family", string(kind)),
			slog.Int("rows", f.size()),
			slog.String("classification", saveErr.Classification),
			slog.String("error", txErr.Error()),
		)
		return nil, saveErr
	}

	p.logger.DebugContext(ctx, "mutation applied",
		slog.String("entity", entity),
		slog.String("family", string(kind)),
		slog.Int("rows", f.size()),
	)
	return &Result{Records: records}, nil
}
