package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
)

const symbolColumns = `id, exchange_id, symbol_id, symbol, base_asset, quote_asset, status, COALESCE(type, ''),
        base_precision, quote_precision, step_size, tick_size, min_qty, max_qty, min_notional, max_notional,
        filters, is_active, fetched_at`

func scanSymbol(row rowScanner) (models.ExchangeSymbol, error) {
	var s models.ExchangeSymbol
	err := row.Scan(
		&s.ID, &s.ExchangeID, &s.SymbolID, &s.Symbol, &s.BaseAsset, &s.QuoteAsset, &s.Status, &s.Type,
		&s.BasePrecision, &s.QuotePrecision, &s.StepSize, &s.TickSize, &s.MinQty, &s.MaxQty,
		&s.MinNotional, &s.MaxNotional, &s.Filters, &s.IsActive, &s.FetchedAt,
	)
	return s, err
}

func (r *Repository) ListSymbols(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeSymbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM exchange_symbols WHERE exchange_id = $1 ORDER BY symbol_id`

	rows, err := r.db.QueryContext(ctx, query, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []models.ExchangeSymbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (r *Repository) GetSymbol(ctx context.Context, exchangeID uuid.UUID, symbolID string) (*models.ExchangeSymbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM exchange_symbols WHERE exchange_id = $1 AND symbol_id = $2`

	s, err := scanSymbol(r.db.QueryRowContext(ctx, query, exchangeID, symbolID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get symbol %s: %w", symbolID, err)
	}
	return &s, nil
}

func (r *Repository) ListLimits(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeLimit, error) {
	query := `
        SELECT id, exchange_id, limit_type, interval_unit, interval_num, "limit", raw_json, fetched_at
        FROM exchange_limits WHERE exchange_id = $1
        ORDER BY limit_type, interval_unit, interval_num`

	rows, err := r.db.QueryContext(ctx, query, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	var limits []models.ExchangeLimit
	for rows.Next() {
		var l models.ExchangeLimit
		if err := rows.Scan(&l.ID, &l.ExchangeID, &l.LimitType, &l.IntervalUnit, &l.IntervalNum, &l.Limit, &l.RawJSON, &l.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

func (r *Repository) ListFees(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeFee, error) {
	query := `
        SELECT id, exchange_id, symbol_ref, volume_threshold, maker_fee, taker_fee, fetched_at
        FROM exchange_fees WHERE exchange_id = $1
        ORDER BY symbol_ref NULLS FIRST, volume_threshold`

	rows, err := r.db.QueryContext(ctx, query, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fees: %w", err)
	}
	defer rows.Close()

	var fees []models.ExchangeFee
	for rows.Next() {
		var f models.ExchangeFee
		if err := rows.Scan(&f.ID, &f.ExchangeID, &f.SymbolRef, &f.VolumeThreshold, &f.MakerFee, &f.TakerFee, &f.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fee: %w", err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

func (r *Repository) ListStatusHistory(ctx context.Context, exchangeID uuid.UUID, limit int) ([]models.StatusHistory, error) {
	query := `
        SELECT id, exchange_id, event, status, message, ok_count, fail_count, created_at
        FROM exchange_status_history WHERE exchange_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, exchangeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		if err := rows.Scan(&h.ID, &h.ExchangeID, &h.Event, &h.Status, &h.Message, &h.OkCount, &h.FailCount, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListPriceTicks returns ticks in [from, to] ordered by time, newest last.
func (r *Repository) ListPriceTicks(ctx context.Context, symbolRef uuid.UUID, from, to time.Time, limit int) ([]models.PriceTick, error) {
	query := `
        SELECT id, exchange_id, symbol_ref, price, ts FROM (
            SELECT id, exchange_id, symbol_ref, price, ts FROM price_ticks
            WHERE symbol_ref = $1 AND ts >= $2 AND ts <= $3
            ORDER BY ts DESC, id DESC
            LIMIT $4
        ) recent
        ORDER BY ts, id`

	rows, err := r.db.QueryContext(ctx, query, symbolRef, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list price ticks: %w", err)
	}
	defer rows.Close()

	var ticks []models.PriceTick
	for rows.Next() {
		var t models.PriceTick
		if err := rows.Scan(&t.ID, &t.ExchangeID, &t.SymbolRef, &t.Price, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan price tick: %w", err)
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (r *Repository) LatestPriceTick(ctx context.Context, symbolRef uuid.UUID) (*models.PriceTick, error) {
	query := `
        SELECT id, exchange_id, symbol_ref, price, ts FROM price_ticks
        WHERE symbol_ref = $1
        ORDER BY ts DESC, id DESC
        LIMIT 1`

	tick, err := r.queryTick(ctx, query, symbolRef)
	if err != nil {
		return nil, err
	}
	if tick == nil {
		return nil, ErrNotFound
	}
	return tick, nil
}
