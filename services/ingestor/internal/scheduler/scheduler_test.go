package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database/memstore"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/reconcile"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/registry"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopAdapter struct{ code string }

func (a nopAdapter) Code() string { return a.code }
func (a nopAdapter) ListSymbols(ctx context.Context) (exchange.SymbolBatch, error) {
	return exchange.SymbolBatch{}, nil
}
func (a nopAdapter) ListLimits(ctx context.Context) (exchange.LimitBatch, error) {
	return exchange.LimitBatch{}, nil
}
func (a nopAdapter) ListFees(ctx context.Context, resolver exchange.SymbolResolver) (exchange.FeeBatch, error) {
	return exchange.FeeBatch{}, nil
}
func (a nopAdapter) ListPrices(ctx context.Context) (exchange.PriceBatch, error) {
	return exchange.PriceBatch{}, nil
}

var fakeTable = exchange.Table{
	"FAKE": func(cfg exchange.ClientConfig, logger *logrus.Logger) exchange.Adapter {
		return nopAdapter{code: cfg.Exchange.Code}
	},
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, ex models.Exchange, adapter exchange.Adapter, kind models.JobKind) (reconcile.Result, error) {
	args := m.Called(ctx, ex.Code, kind)
	return args.Get(0).(reconcile.Result), args.Error(1)
}

func seed(store *memstore.Store, code string) models.Exchange {
	ex := store.AddExchange(models.Exchange{
		Code:               code,
		BaseURLPublic:      "https://fake.example",
		SymbolsIntervalMin: 60,
		LimitsIntervalMin:  1440,
		FeesIntervalMin:    1440,
		PricesIntervalMin:  1,
		IsActive:           true,
	})
	store.AddCredential(models.Credential{ExchangeID: ex.ID, IsService: true, IsActive: true})
	return ex
}

func newTestScheduler(store *memstore.Store, runner Runner) *Scheduler {
	reg := registry.New(store, fakeTable, quietLogger())
	return NewScheduler(reg, runner, store, Config{JobTimeout: time.Second, ShutdownTimeout: time.Second}, quietLogger())
}

func entryIDs(s *Scheduler) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]int, len(s.jobs))
	for id, j := range s.jobs {
		ids[id] = int(j.entryID)
	}
	return ids
}

func TestReloadRegistersOneJobPerKind(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	s := newTestScheduler(store, new(MockRunner))

	require.NoError(t, s.Reload(context.Background()))
	require.NoError(t, s.Reload(context.Background()))

	jobs := s.Jobs()
	require.Len(t, jobs, 4, "reloading twice must not duplicate jobs")
	assert.Equal(t, ex.JobID(models.KindFees), jobs[0].ID)
	assert.Equal(t, "fees_FAKE_"+ex.ID.String(), jobs[0].ID)
	for _, j := range jobs {
		assert.Equal(t, "FAKE", j.Exchange)
	}
}

func TestReloadReplacesOnlyChangedJobs(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	s := newTestScheduler(store, new(MockRunner))
	ctx := context.Background()

	require.NoError(t, s.Reload(ctx))
	before := entryIDs(s)

	ex.PricesIntervalMin = 5
	store.UpdateExchange(ex)
	require.NoError(t, s.Reload(ctx))
	after := entryIDs(s)

	assert.NotEqual(t, before[ex.JobID(models.KindPrices)], after[ex.JobID(models.KindPrices)])
	assert.Equal(t, before[ex.JobID(models.KindSymbols)], after[ex.JobID(models.KindSymbols)])
	assert.Equal(t, before[ex.JobID(models.KindFees)], after[ex.JobID(models.KindFees)])
}

func TestReloadRemovesDeactivatedExchange(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	s := newTestScheduler(store, new(MockRunner))
	ctx := context.Background()
	require.NoError(t, s.AddSystemJob("news_ingest", time.Hour, func(context.Context) error { return nil }))

	require.NoError(t, s.Reload(ctx))
	require.Len(t, s.Jobs(), 5)

	ex.IsActive = false
	store.UpdateExchange(ex)
	require.NoError(t, s.Reload(ctx))

	jobs := s.Jobs()
	require.Len(t, jobs, 1, "system jobs survive reloads")
	assert.Equal(t, "news_ingest", jobs[0].ID)
}

type failingRegistry struct{}

func (failingRegistry) Load(ctx context.Context) ([]registry.Entry, error) {
	return nil, errors.New("db down")
}

func TestReloadKeepsJobsOnRegistryError(t *testing.T) {
	store := memstore.New()
	seed(store, "FAKE")
	s := newTestScheduler(store, new(MockRunner))
	require.NoError(t, s.Reload(context.Background()))

	s.registry = failingRegistry{}
	assert.Error(t, s.Reload(context.Background()))
	assert.Len(t, s.Jobs(), 4)
}

func TestSingleFlight(t *testing.T) {
	s := newTestScheduler(memstore.New(), new(MockRunner))

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.AddSystemJob("news_backfill", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))

	require.NoError(t, s.RunNow("news_backfill"))
	<-started

	assert.ErrorIs(t, s.RunNow("news_backfill"), ErrJobRunning)

	s.mu.Lock()
	j := s.jobs["news_backfill"]
	s.mu.Unlock()
	assert.False(t, s.trigger(j), "a timer tick while running is skipped")

	close(release)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), runs.Load())
}

func TestRunNowUnknownJob(t *testing.T) {
	s := newTestScheduler(memstore.New(), new(MockRunner))
	assert.ErrorIs(t, s.RunNow("nope"), ErrJobNotFound)
}

func TestRunNowExchangeJobUsesRunner(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	runner := new(MockRunner)
	done := make(chan struct{})
	runner.On("Run", mock.Anything, "FAKE", models.KindSymbols).
		Return(reconcile.Result{Kind: models.KindSymbols}, nil).
		Run(func(mock.Arguments) { close(done) }).
		Once()

	s := newTestScheduler(store, runner)
	require.NoError(t, s.Reload(context.Background()))
	require.NoError(t, s.RunNow(ex.JobID(models.KindSymbols)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, s.Stop())
	runner.AssertExpectations(t)
}

func TestPanicIsRecordedAndIsolated(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "FAKE", models.KindLimits).
		Return(reconcile.Result{}, nil).
		Run(func(mock.Arguments) { panic("boom") })

	s := newTestScheduler(store, runner)
	require.NoError(t, s.Reload(context.Background()))

	s.mu.Lock()
	j := s.jobs[ex.JobID(models.KindLimits)]
	s.mu.Unlock()

	assert.True(t, s.trigger(j))
	assert.False(t, j.guard.Load(), "guard is released after a panic")

	history := store.StatusHistory()
	require.Len(t, history, 1)
	assert.Equal(t, models.AuditError, history[0].Status)
	assert.Equal(t, "limits_refresh", history[0].Event)
	assert.Contains(t, history[0].Message, "boom")

	assert.True(t, s.trigger(j), "the next tick runs again")
}

func TestStartSchedulesAndStops(t *testing.T) {
	store := memstore.New()
	seed(store, "FAKE")
	s := newTestScheduler(store, new(MockRunner))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	jobs := s.Jobs()
	require.Len(t, jobs, 4)
	for _, j := range jobs {
		assert.NotNil(t, j.NextRun)
	}
	require.NoError(t, s.Stop())
}

// ctxRecorder fails like a real database would on a finished context.
type ctxRecorder struct {
	rows []models.StatusHistory
}

func (r *ctxRecorder) RecordStatus(ctx context.Context, audit models.StatusHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.rows = append(r.rows, audit)
	return nil
}

func TestPanicAfterJobTimeoutIsStillRecorded(t *testing.T) {
	store := memstore.New()
	ex := seed(store, "FAKE")
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "FAKE", models.KindFees).
		Return(reconcile.Result{}, nil).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
			panic("late failure")
		})

	recorder := &ctxRecorder{}
	reg := registry.New(store, fakeTable, quietLogger())
	s := NewScheduler(reg, runner, recorder, Config{JobTimeout: 10 * time.Millisecond, ShutdownTimeout: time.Second}, quietLogger())
	require.NoError(t, s.Reload(context.Background()))

	s.mu.Lock()
	j := s.jobs[ex.JobID(models.KindFees)]
	s.mu.Unlock()

	assert.True(t, s.trigger(j))
	require.Len(t, recorder.rows, 1)
	assert.Equal(t, models.AuditError, recorder.rows[0].Status)
	assert.Contains(t, recorder.rows[0].Message, "late failure")
}
