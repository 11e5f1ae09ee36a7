// Package orchestrator runs full scan passes: every applicable rule against
// every resource, with findings persisted in one bulk insert.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/policy"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
	"github.com/yairfalse/surface/wal"
)

// Options configures an Orchestrator. Every field is optional.
type Options struct {
	// Exclusive rejects a scan while another is running
	Exclusive bool

	Logger  *telemetry.Logger
	Tracer  trace.Tracer
	Metrics *telemetry.ScanMetrics
	Emitter Emitter
	Journal Journal

	NewID func() string
	Now   func() time.Time
}

// Orchestrator coordinates load → match → persist for a scan pass
type Orchestrator struct {
	store   storage.DocumentStore
	matcher *policy.Matcher
	opts    Options
	logger  *telemetry.Logger
	tracer  trace.Tracer

	running atomic.Bool
}

// NewOrchestrator creates a new orchestrator over store
func NewOrchestrator(store storage.DocumentStore, opts Options) *Orchestrator {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/yairfalse/surface/orchestrator")
	}

	return &Orchestrator{
		store: store,
		matcher: policy.NewMatcher(policy.MatcherOptions{
			NewID:  opts.NewID,
			Now:    opts.Now,
			Logger: opts.Logger,
		}),
		opts:   opts,
		logger: opts.Logger,
		tracer: opts.Tracer,
	}
}

// Running reports whether a scan is in progress. Only tracked in exclusive mode.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunScan evaluates every applicable rule against every resource and stores
// the findings. A collection read failure returns *LoadError with nothing
// persisted; a failed bulk insert returns *PartialPersistError.
func (o *Orchestrator) RunScan(ctx context.Context) (*types.ScanResult, error) {
	if o.opts.Exclusive {
		if !o.running.CompareAndSwap(false, true) {
			o.opts.Metrics.RecordScan(ctx, telemetry.OutcomeAlreadyRunning, telemetry.ScanCounts{}, 0)
			return nil, ErrScanInProgress
		}
		defer o.running.Store(false)
	}

	result := &types.ScanResult{
		ScanID:    o.opts.NewID(),
		StartedAt: o.opts.Now().UTC(),
	}

	ctx, span := telemetry.StartScan(ctx, o.tracer, result.ScanID)
	defer span.End()

	o.logger.LogScanStarted(ctx, result.ScanID)
	o.journal(wal.EntryScanStarted, result.ScanID, nil, nil)

	resources, rules, err := o.load(ctx)
	if err != nil {
		return nil, o.fail(ctx, span, result, telemetry.OutcomeLoadFailed, err)
	}
	result.RulesLoaded = len(rules)

	active := o.activeRules(ctx, span, result, rules)

	findings, err := o.evaluate(ctx, result, resources, active)
	if err != nil {
		return nil, o.fail(ctx, span, result, telemetry.OutcomeLoadFailed, err)
	}

	if err := o.persist(ctx, findings); err != nil {
		result.Duration = o.opts.Now().Sub(result.StartedAt)
		perr := &PartialPersistError{Computed: len(findings), Result: result, Err: err}
		telemetry.RecordPersistFailedEvent(span.Span(), len(findings), err.Error())
		o.journal(wal.EntryPersistFailed, result.ScanID, result, err)
		o.emit(ctx, types.ScanReport{Result: *result, Findings: findings})
		return result, o.fail(ctx, span, result, telemetry.OutcomePersistFailed, perr)
	}
	result.FindingsCreated = len(findings)
	result.Duration = o.opts.Now().Sub(result.StartedAt)

	span.SetCounts(counts(result))
	o.opts.Metrics.RecordScan(ctx, telemetry.OutcomeSuccess, counts(result), result.Duration)
	o.journal(wal.EntryScanCompleted, result.ScanID, result, nil)
	o.logger.LogScanCompleted(ctx, result.ScanID, result.ResourcesScanned, result.FindingsCreated,
		float64(result.Duration.Microseconds())/1000)
	o.emit(ctx, types.ScanReport{Result: *result, Findings: findings, Persisted: true})

	return result, nil
}

func (o *Orchestrator) load(ctx context.Context) ([]types.Document, []types.Document, error) {
	ctx, span := telemetry.StartPhase(ctx, o.tracer, telemetry.PhaseLoad)

	resources, _, err := o.store.Find(ctx, storage.CollectionResources, filter.Query{})
	if err != nil {
		err = &LoadError{Collection: storage.CollectionResources, Err: err}
		telemetry.EndPhase(span, err)
		return nil, nil, err
	}

	rules, _, err := o.store.Find(ctx, storage.CollectionRules, filter.Query{})
	if err != nil {
		err = &LoadError{Collection: storage.CollectionRules, Err: err}
		telemetry.EndPhase(span, err)
		return nil, nil, err
	}

	telemetry.EndPhase(span, nil)
	return resources, rules, nil
}

// activeRules drops unreadable rules and rules with unsupported operators
// for the whole pass.
func (o *Orchestrator) activeRules(ctx context.Context, span *telemetry.ScanSpan, result *types.ScanResult, docs []types.Document) []types.Rule {
	active := make([]types.Rule, 0, len(docs))
	for _, doc := range docs {
		rule, err := types.RuleFromDocument(doc)
		if err != nil {
			result.RulesSkipped++
			telemetry.RecordRuleSkippedEvent(span.Span(), doc.ID(), "", "", err.Error())
			o.journal(wal.EntryRuleSkipped, doc.ID(), nil, err)
			o.logger.WithContext(ctx).Warn().Err(err).Str("rule_id", doc.ID()).Msg("skipping unreadable rule")
			continue
		}
		if !rule.Op.IsSupported() {
			err := &policy.UnsupportedOperatorError{Op: rule.Op}
			result.RulesSkipped++
			telemetry.RecordRuleSkippedEvent(span.Span(), rule.ID, rule.Name, string(rule.Op), err.Error())
			o.journal(wal.EntryRuleSkipped, rule.ID, nil, err)
			o.logger.LogRuleSkipped(ctx, rule.ID, string(rule.Op))
			continue
		}
		active = append(active, rule)
	}
	return active
}

func (o *Orchestrator) evaluate(ctx context.Context, result *types.ScanResult, docs []types.Document, rules []types.Rule) ([]types.Finding, error) {
	ctx, span := telemetry.StartPhase(ctx, o.tracer, telemetry.PhaseEvaluate)

	p := newPlan(rules)
	failuresBefore := o.matcher.Failures()
	findings := []types.Finding{}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("scan interrupted: %w", err)
			telemetry.EndPhase(span, err)
			return nil, err
		}

		resource, err := types.ResourceFromDocument(doc)
		if err != nil {
			result.ResourcesSkipped++
			telemetry.RecordResourceSkippedEvent(trace.SpanFromContext(ctx), doc.ID(), err.Error())
			o.logger.LogResourceSkipped(ctx, doc.ID(), err)
			continue
		}
		result.ResourcesScanned++

		for _, rule := range p.rulesFor(resource.ResourceType) {
			result.RulesEvaluated++
			if f := o.matcher.Match(ctx, resource, rule); f != nil {
				f.ScanID = result.ScanID
				findings = append(findings, *f)
			}
		}
	}

	result.EvaluationErrors = int(o.matcher.Failures() - failuresBefore)
	telemetry.EndPhase(span, nil)
	return findings, nil
}

func (o *Orchestrator) persist(ctx context.Context, findings []types.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	ctx, span := telemetry.StartPhase(ctx, o.tracer, telemetry.PhasePersist)

	docs := make([]types.Document, len(findings))
	for i, f := range findings {
		docs[i] = f.Document()
	}
	o.logger.LogBatchOperation(ctx, "insert", storage.CollectionFindings, len(docs))

	_, err := o.store.InsertMany(ctx, storage.CollectionFindings, docs)
	telemetry.EndPhase(span, err)
	return err
}

func (o *Orchestrator) fail(ctx context.Context, span *telemetry.ScanSpan, result *types.ScanResult, outcome string, err error) error {
	if result.Duration == 0 {
		result.Duration = o.opts.Now().Sub(result.StartedAt)
	}
	span.SetCounts(counts(result))
	span.Fail(err)
	o.opts.Metrics.RecordScan(ctx, outcome, counts(result), result.Duration)
	o.journal(wal.EntryScanFailed, result.ScanID, result, err)
	o.logger.LogStorageError(ctx, "scan", err)
	return err
}

func (o *Orchestrator) journal(entryType wal.EntryType, subjectID string, data any, err error) {
	if o.opts.Journal == nil {
		return
	}
	var jerr error
	if err != nil {
		jerr = o.opts.Journal.AppendError(entryType, subjectID, data, err)
	} else {
		jerr = o.opts.Journal.Append(entryType, subjectID, data)
	}
	if jerr != nil {
		o.logger.Warn().Err(jerr).Str("entry", string(entryType)).Msg("failed to write scan journal")
	}
}

func (o *Orchestrator) emit(ctx context.Context, report types.ScanReport) {
	if o.opts.Emitter == nil {
		return
	}
	if err := o.opts.Emitter.Emit(ctx, report); err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Str("scan_id", report.Result.ScanID).Msg("failed to emit scan report")
	}
}

func counts(r *types.ScanResult) telemetry.ScanCounts {
	return telemetry.ScanCounts{
		ResourcesScanned: r.ResourcesScanned,
		ResourcesSkipped: r.ResourcesSkipped,
		RulesEvaluated:   r.RulesEvaluated,
		RulesSkipped:     r.RulesSkipped,
		FindingsCreated:  r.FindingsCreated,
	}
}
