package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/cache"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
)

// Store persists one batch per call: upserts, the refresh stamp and the
// audit row commit or roll back together.
type Store interface {
	exchange.SymbolResolver
	SaveSymbols(ctx context.Context, exchangeID uuid.UUID, symbols []models.ExchangeSymbol, audit models.StatusHistory) error
	SaveLimits(ctx context.Context, exchangeID uuid.UUID, limits []models.ExchangeLimit, audit models.StatusHistory) error
	SaveFees(ctx context.Context, exchangeID uuid.UUID, fees []models.ExchangeFee, audit models.StatusHistory) error
	SavePriceTicks(ctx context.Context, exchangeID uuid.UUID, ticks []models.PriceTick, audit models.StatusHistory) error
	RecordStatus(ctx context.Context, audit models.StatusHistory) error
	SymbolRefs(ctx context.Context, exchangeID uuid.UUID) (map[string]uuid.UUID, error)
}

type PriceCache interface {
	SetLatest(ctx context.Context, prices []cache.LatestPrice) error
}

// Result is the outcome of one reconciliation run.
type Result struct {
	Kind    models.JobKind
	OK      int
	Failed  int
	Status  string
	Message string
}

func newResult(kind models.JobKind, ok, failed int) Result {
	status := models.AuditOK
	if ok > 0 && failed > 0 {
		status = models.AuditPartial
	}
	return Result{
		Kind:    kind,
		OK:      ok,
		Failed:  failed,
		Status:  status,
		Message: fmt.Sprintf("%d %s upserted, %d rejected", ok, kind, failed),
	}
}

func (r Result) audit(exchangeID uuid.UUID) models.StatusHistory {
	return models.StatusHistory{
		ExchangeID: exchangeID,
		Event:      r.Kind.Event(),
		Status:     r.Status,
		Message:    r.Message,
		OkCount:    r.OK,
		FailCount:  r.Failed,
	}
}

type Reconciler struct {
	store  Store
	cache  PriceCache
	logger *logrus.Logger
	now    func() time.Time
}

// New builds a Reconciler. prices may be nil.
func New(store Store, prices PriceCache, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		cache:  prices,
		logger: logger,
		now:    time.Now,
	}
}

// Run fetches one kind of data through the adapter and applies it. Adapter
// and store failures are recorded as an error audit row and returned.
func (r *Reconciler) Run(ctx context.Context, ex models.Exchange, adapter exchange.Adapter, kind models.JobKind) (Result, error) {
	start := time.Now()
	log := r.logger.WithFields(logrus.Fields{
		"exchange": ex.Code,
		"kind":     kind,
	})

	var (
		result Result
		err    error
	)
	switch kind {
	case models.KindSymbols:
		var batch exchange.SymbolBatch
		if batch, err = adapter.ListSymbols(ctx); err == nil {
			result, err = r.ApplySymbols(ctx, ex, batch.Symbols)
		}
	case models.KindLimits:
		var batch exchange.LimitBatch
		if batch, err = adapter.ListLimits(ctx); err == nil {
			result, err = r.ApplyLimits(ctx, ex, batch.Limits)
		}
	case models.KindFees:
		var batch exchange.FeeBatch
		if batch, err = adapter.ListFees(ctx, r.store); err == nil {
			result, err = r.ApplyFees(ctx, ex, batch.Fees)
		}
	case models.KindPrices:
		var batch exchange.PriceBatch
		if batch, err = adapter.ListPrices(ctx); err == nil {
			result, err = r.ApplyPrices(ctx, ex, batch.Prices)
		}
	default:
		err = fmt.Errorf("unknown job kind %q", kind)
	}

	if err != nil {
		log.WithError(err).Error("Refresh failed")
		r.recordError(ctx, ex, kind, err)
		return Result{Kind: kind, Status: models.AuditError, Message: err.Error()}, err
	}

	log.WithFields(logrus.Fields{
		"ok":          result.OK,
		"rejected":    result.Failed,
		"status":      result.Status,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Refresh completed")
	return result, nil
}

// auditTimeout bounds writing a failure row once the job context is gone.
const auditTimeout = 5 * time.Second

func (r *Reconciler) recordError(ctx context.Context, ex models.Exchange, kind models.JobKind, cause error) {
	audit := models.StatusHistory{
		ExchangeID: ex.ID,
		Event:      kind.Event(),
		Status:     models.AuditError,
		Message:    cause.Error(),
	}
	// The job context may already be past its deadline when the failure
	// was a timeout; the audit row must still land.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := r.store.RecordStatus(auditCtx, audit); err != nil {
		r.logger.WithError(err).WithField("exchange", ex.Code).Error("Failed to record error status")
	}
}

func (r *Reconciler) ApplySymbols(ctx context.Context, ex models.Exchange, symbols []models.ExchangeSymbol) (Result, error) {
	valid := make([]models.ExchangeSymbol, 0, len(symbols))
	for _, s := range symbols {
		if err := validateSymbol(s); err != nil {
			r.reject(ex, models.KindSymbols, s.SymbolID, err)
			continue
		}
		valid = append(valid, s)
	}

	result := newResult(models.KindSymbols, len(valid), len(symbols)-len(valid))
	if err := r.store.SaveSymbols(ctx, ex.ID, valid, result.audit(ex.ID)); err != nil {
		return Result{}, fmt.Errorf("failed to save symbols: %w", err)
	}
	return result, nil
}

func (r *Reconciler) ApplyLimits(ctx context.Context, ex models.Exchange, limits []models.ExchangeLimit) (Result, error) {
	valid := make([]models.ExchangeLimit, 0, len(limits))
	for _, l := range limits {
		if err := validateLimit(l); err != nil {
			r.reject(ex, models.KindLimits, l.LimitType, err)
			continue
		}
		valid = append(valid, l)
	}

	result := newResult(models.KindLimits, len(valid), len(limits)-len(valid))
	if err := r.store.SaveLimits(ctx, ex.ID, valid, result.audit(ex.ID)); err != nil {
		return Result{}, fmt.Errorf("failed to save limits: %w", err)
	}
	return result, nil
}

func (r *Reconciler) ApplyFees(ctx context.Context, ex models.Exchange, fees []models.ExchangeFee) (Result, error) {
	valid := make([]models.ExchangeFee, 0, len(fees))
	for _, f := range fees {
		if err := validateFee(f); err != nil {
			r.reject(ex, models.KindFees, f.VolumeThreshold.String(), err)
			continue
		}
		valid = append(valid, f)
	}

	result := newResult(models.KindFees, len(valid), len(fees)-len(valid))
	if err := r.store.SaveFees(ctx, ex.ID, valid, result.audit(ex.ID)); err != nil {
		return Result{}, fmt.Errorf("failed to save fees: %w", err)
	}
	return result, nil
}

// ApplyPrices maps quotes onto known symbols and appends them as ticks.
// Quotes for symbols that were never ingested are skipped without counting
// as rejected.
func (r *Reconciler) ApplyPrices(ctx context.Context, ex models.Exchange, quotes []models.PriceQuote) (Result, error) {
	refs, err := r.store.SymbolRefs(ctx, ex.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load symbol refs: %w", err)
	}

	now := r.now().UTC()
	ticks := make([]models.PriceTick, 0, len(quotes))
	latest := make([]cache.LatestPrice, 0, len(quotes))
	failed, unknown := 0, 0
	for _, q := range quotes {
		if err := validateQuote(q); err != nil {
			r.reject(ex, models.KindPrices, q.SymbolID, err)
			failed++
			continue
		}
		ref, ok := refs[q.SymbolID]
		if !ok {
			unknown++
			continue
		}
		ts := q.Timestamp
		if ts.IsZero() {
			ts = now
		}
		ticks = append(ticks, models.PriceTick{
			ExchangeID: ex.ID,
			SymbolRef:  ref,
			Price:      q.Price,
			Timestamp:  ts,
		})
		latest = append(latest, cache.LatestPrice{
			Exchange:  ex.Code,
			SymbolID:  q.SymbolID,
			SymbolRef: ref,
			Price:     q.Price,
			Timestamp: ts,
		})
	}
	if unknown > 0 {
		r.logger.WithFields(logrus.Fields{
			"exchange": ex.Code,
			"count":    unknown,
		}).Debug("Skipped prices for untracked symbols")
	}

	result := newResult(models.KindPrices, len(ticks), failed)
	if err := r.store.SavePriceTicks(ctx, ex.ID, ticks, result.audit(ex.ID)); err != nil {
		return Result{}, fmt.Errorf("failed to save price ticks: %w", err)
	}

	if r.cache != nil && len(latest) > 0 {
		if err := r.cache.SetLatest(ctx, latest); err != nil {
			r.logger.WithError(err).WithField("exchange", ex.Code).Warn("Failed to update price cache")
		}
	}
	return result, nil
}

func (r *Reconciler) reject(ex models.Exchange, kind models.JobKind, key string, reason error) {
	r.logger.WithFields(logrus.Fields{
		"exchange": ex.Code,
		"kind":     kind,
		"record":   key,
		"reason":   reason.Error(),
	}).Debug("Rejected record")
}
