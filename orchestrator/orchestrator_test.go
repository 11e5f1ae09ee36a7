package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/types"
	"github.com/yairfalse/surface/wal"
)

// failingStore injects errors into an otherwise working store
type failingStore struct {
	storage.DocumentStore
	findErr   map[string]error
	insertErr error
	block     chan struct{}
}

func (s *failingStore) Find(ctx context.Context, collection string, q filter.Query) ([]types.Document, int, error) {
	if s.block != nil {
		<-s.block
	}
	if err := s.findErr[collection]; err != nil {
		return nil, 0, err
	}
	return s.DocumentStore.Find(ctx, collection, q)
}

func (s *failingStore) InsertMany(ctx context.Context, collection string, docs []types.Document) (int, error) {
	if collection == storage.CollectionFindings && s.insertErr != nil {
		return 0, s.insertErr
	}
	return s.DocumentStore.InsertMany(ctx, collection, docs)
}

type recordingEmitter struct {
	mu      sync.Mutex
	reports []types.ScanReport
}

func (e *recordingEmitter) Emit(_ context.Context, r types.ScanReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
	return nil
}

type recordingJournal struct {
	entries []wal.EntryType
}

func (j *recordingJournal) Append(t wal.EntryType, _ string, _ any) error {
	j.entries = append(j.entries, t)
	return nil
}

func (j *recordingJournal) AppendError(t wal.EntryType, _ string, _ any, _ error) error {
	j.entries = append(j.entries, t)
	return nil
}

func seq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func insert(t *testing.T, s storage.DocumentStore, collection string, docs ...types.Document) {
	t.Helper()
	_, err := s.InsertMany(context.Background(), collection, docs)
	require.NoError(t, err)
}

func resource(id, name, resourceType string, kv ...any) types.Document {
	d := types.Document{
		types.FieldID:           types.String(id),
		types.FieldName:         types.String(name),
		types.FieldResourceType: types.String(resourceType),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := types.FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		d[kv[i].(string)] = v
	}
	return d
}

func rule(id, field string, op types.Operator, value types.Value, sev types.Severity, resourceType string) types.Document {
	return types.Rule{
		ID:           id,
		Name:         id,
		Field:        field,
		Op:           op,
		Value:        value,
		Severity:     sev,
		ResourceType: resourceType,
	}.Document()
}

func findings(t *testing.T, s storage.DocumentStore) []types.Finding {
	t.Helper()
	docs, _, err := s.Find(context.Background(), storage.CollectionFindings, filter.Query{})
	require.NoError(t, err)
	out := make([]types.Finding, len(docs))
	for i, d := range docs {
		out[i], err = types.FindingFromDocument(d)
		require.NoError(t, err)
	}
	return out
}

func newTestOrchestrator(s storage.DocumentStore, opts Options) *Orchestrator {
	if opts.NewID == nil {
		opts.NewID = seq("id")
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	}
	return NewOrchestrator(s, opts)
}

func TestRunScan_PublicIPFinding(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources,
		resource("r1", "web1", "ec2", "region", "us-east-1", "public_ip", "true"))
	insert(t, store, storage.CollectionRules,
		rule("public", "public_ip", types.OpEq, types.String("true"), types.SeverityHigh, "ec2"))

	result, err := newTestOrchestrator(store, Options{}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FindingsCreated)
	assert.Equal(t, 1, result.ResourcesScanned)
	assert.Equal(t, 1, result.RulesEvaluated)

	got := findings(t, store)
	require.Len(t, got, 1)
	assert.Equal(t, types.SeverityHigh, got[0].Severity)
	assert.Equal(t, "true", got[0].ActualValue)
	assert.Equal(t, "true", got[0].ExpectedValue)
	assert.Equal(t, "web1", got[0].ResourceName)
	assert.Equal(t, "ec2", got[0].ResourceType)
	assert.Equal(t, result.ScanID, got[0].ScanID)
}

func TestRunScan_NoRulesNoFindings(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources, resource("r1", "web1", "ec2"))

	result, err := newTestOrchestrator(store, Options{}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.FindingsCreated)
	assert.Empty(t, findings(t, store))
}

func TestRunScan_RepeatDuplicates(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources,
		resource("r1", "web1", "ec2", "public_ip", "true"),
		resource("r2", "web2", "ec2", "public_ip", "true"))
	insert(t, store, storage.CollectionRules,
		rule("public", "public_ip", types.OpEq, types.String("true"), types.SeverityHigh, ""))

	o := newTestOrchestrator(store, Options{})
	first, err := o.RunScan(context.Background())
	require.NoError(t, err)
	second, err := o.RunScan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first.FindingsCreated)
	assert.Equal(t, 2, second.FindingsCreated)
	assert.NotEqual(t, first.ScanID, second.ScanID)
	assert.Len(t, findings(t, store), 4)
}

func TestRunScan_ScopeAndOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources,
		resource("r1", "web1", "ec2", "open", true),
		resource("r2", "bucket", "s3", "open", true))
	insert(t, store, storage.CollectionRules,
		rule("any-open", "open", types.OpEq, types.Bool(true), types.SeverityLow, ""),
		rule("ec2-open", "open", types.OpEq, types.Bool(true), types.SeverityHigh, "ec2"),
		rule("s3-open", "open", types.OpEq, types.Bool(true), types.SeverityCritical, "s3"),
		rule("any-named", "name", types.OpContains, types.String("e"), types.SeverityInfo, ""))

	result, err := newTestOrchestrator(store, Options{}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.RulesEvaluated, "out-of-scope rules are never evaluated")

	got := findings(t, store)
	pairs := make([]string, len(got))
	for i, f := range got {
		pairs[i] = f.ResourceID + "/" + f.RuleID
	}
	assert.Equal(t, []string{
		"r1/any-open", "r1/ec2-open", "r1/any-named",
		"r2/any-open", "r2/s3-open", "r2/any-named",
	}, pairs)
}

func TestRunScan_AbsentFieldNeverMatches(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources, resource("r1", "web1", "ec2"))
	insert(t, store, storage.CollectionRules,
		rule("neq", "encryption", types.OpNeq, types.String("on"), types.SeverityHigh, ""),
		rule("nin", "encryption", types.OpNotIn, types.List(types.String("on")), types.SeverityHigh, ""))

	result, err := newTestOrchestrator(store, Options{}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.FindingsCreated)
}

func TestRunScan_UnsupportedOperatorSkipped(t *testing.T) {
	store := storage.NewMemoryStore()
	journal := &recordingJournal{}
	insert(t, store, storage.CollectionResources,
		resource("r1", "web1", "ec2", "port", 22),
		resource("r2", "web2", "ec2", "port", 22))
	insert(t, store, storage.CollectionRules,
		rule("regex", "name", types.Operator("regex"), types.String("web.*"), types.SeverityHigh, ""),
		rule("ssh", "port", types.OpEq, types.Int(22), types.SeverityMedium, ""))

	result, err := newTestOrchestrator(store, Options{Journal: journal}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.RulesLoaded)
	assert.Equal(t, 1, result.RulesSkipped, "counted once per scan, not per resource")
	assert.Equal(t, 2, result.RulesEvaluated)
	assert.Equal(t, 2, result.FindingsCreated)
	assert.Zero(t, result.EvaluationErrors)
	assert.Contains(t, journal.entries, wal.EntryRuleSkipped)
}

func TestRunScan_UnreadableResourceSkipped(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources,
		types.Document{types.FieldID: types.String("bad"), types.FieldResourceType: types.Int(5)},
		resource("r1", "web1", "ec2", "port", 22))
	insert(t, store, storage.CollectionRules,
		rule("ssh", "port", types.OpEq, types.Int(22), types.SeverityMedium, ""))

	result, err := newTestOrchestrator(store, Options{}).RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResourcesSkipped)
	assert.Equal(t, 1, result.ResourcesScanned)
	assert.Equal(t, 1, result.FindingsCreated)
}

func TestRunScan_LoadFailure(t *testing.T) {
	for _, coll := range []string{storage.CollectionResources, storage.CollectionRules} {
		t.Run(coll, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			insert(t, mem, storage.CollectionResources, resource("r1", "web1", "ec2", "port", 22))
			insert(t, mem, storage.CollectionRules, rule("ssh", "port", types.OpEq, types.Int(22), types.SeverityLow, ""))

			store := &failingStore{
				DocumentStore: mem,
				findErr:       map[string]error{coll: storage.ErrUnavailable},
			}
			journal := &recordingJournal{}

			result, err := newTestOrchestrator(store, Options{Journal: journal}).RunScan(context.Background())
			require.Error(t, err)
			assert.Nil(t, result)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, coll, loadErr.Collection)
			assert.ErrorIs(t, err, storage.ErrUnavailable)
			assert.Empty(t, findings(t, mem))
			assert.Contains(t, journal.entries, wal.EntryScanFailed)
		})
	}
}

func TestRunScan_PersistFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	insert(t, mem, storage.CollectionResources,
		resource("r1", "web1", "ec2", "port", 22),
		resource("r2", "web2", "ec2", "port", 22))
	insert(t, mem, storage.CollectionRules, rule("ssh", "port", types.OpEq, types.Int(22), types.SeverityLow, ""))

	insertErr := errors.New("disk full")
	store := &failingStore{DocumentStore: mem, insertErr: insertErr}
	emitter := &recordingEmitter{}

	result, err := newTestOrchestrator(store, Options{Emitter: emitter}).RunScan(context.Background())
	require.Error(t, err)

	var perr *PartialPersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Computed)
	assert.ErrorIs(t, err, insertErr)
	require.NotNil(t, result)
	assert.Zero(t, result.FindingsCreated)
	assert.Empty(t, findings(t, mem))

	require.Len(t, emitter.reports, 1)
	assert.False(t, emitter.reports[0].Persisted)
	assert.Len(t, emitter.reports[0].Findings, 2)
}

func TestRunScan_EmitterAndJournal(t *testing.T) {
	store := storage.NewMemoryStore()
	insert(t, store, storage.CollectionResources, resource("r1", "web1", "ec2", "port", 22))
	insert(t, store, storage.CollectionRules, rule("ssh", "port", types.OpEq, types.Int(22), types.SeverityLow, ""))

	emitter := &recordingEmitter{}
	journal := &recordingJournal{}
	result, err := newTestOrchestrator(store, Options{Emitter: emitter, Journal: journal}).RunScan(context.Background())
	require.NoError(t, err)

	require.Len(t, emitter.reports, 1)
	assert.True(t, emitter.reports[0].Persisted)
	assert.Equal(t, result.ScanID, emitter.reports[0].Result.ScanID)
	assert.Equal(t, []wal.EntryType{wal.EntryScanStarted, wal.EntryScanCompleted}, journal.entries)
}

func TestRunScan_ExclusiveGuard(t *testing.T) {
	mem := storage.NewMemoryStore()
	block := make(chan struct{})
	store := &failingStore{DocumentStore: mem, block: block}
	o := newTestOrchestrator(store, Options{Exclusive: true, NewID: func() string { return "x" }})

	done := make(chan error, 1)
	go func() {
		_, err := o.RunScan(context.Background())
		done <- err
	}()

	require.Eventually(t, o.Running, time.Second, time.Millisecond)

	_, err := o.RunScan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, o.Running())

	_, err = o.RunScan(context.Background())
	assert.NoError(t, err)
}

func TestRunScan_Cancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.RunScan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan_CachesPerType(t *testing.T) {
	p := newPlan([]types.Rule{
		{ID: "a"},
		{ID: "b", ResourceType: "ec2"},
		{ID: "c"},
		{ID: "d", ResourceType: "s3"},
	})

	ruleIDs := func(rules []types.Rule) []string {
		out := make([]string, len(rules))
		for i, r := range rules {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ruleIDs(p.rulesFor("ec2")))
	assert.Equal(t, []string{"a", "c", "d"}, ruleIDs(p.rulesFor("s3")))
	assert.Equal(t, []string{"a", "c"}, ruleIDs(p.rulesFor("")))
	assert.Len(t, p.cache, 3)
}
