package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
)

// tickBatchSize bounds the number of rows in one multi-row INSERT.
const tickBatchSize = 1000

var refreshColumns = map[models.JobKind]string{
	models.KindSymbols: "last_symbols_refresh_at",
	models.KindLimits:  "last_limits_refresh_at",
	models.KindFees:    "last_fees_refresh_at",
	models.KindPrices:  "last_prices_refresh_at",
}

// SaveSymbols upserts symbols by (exchange_id, symbol_id), bumps the
// exchange refresh stamp and appends the audit row in one transaction.
func (r *Repository) SaveSymbols(ctx context.Context, exchangeID uuid.UUID, symbols []models.ExchangeSymbol, audit models.StatusHistory) error {
	query := `
        INSERT INTO exchange_symbols (exchange_id, symbol_id, symbol, base_asset, quote_asset, status, type,
            base_precision, quote_precision, step_size, tick_size, min_qty, max_qty, min_notional, max_notional,
            filters, is_active, fetched_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
        ON CONFLICT (exchange_id, symbol_id) DO UPDATE SET
            symbol = EXCLUDED.symbol,
            base_asset = EXCLUDED.base_asset,
            quote_asset = EXCLUDED.quote_asset,
            status = EXCLUDED.status,
            type = EXCLUDED.type,
            base_precision = EXCLUDED.base_precision,
            quote_precision = EXCLUDED.quote_precision,
            step_size = EXCLUDED.step_size,
            tick_size = EXCLUDED.tick_size,
            min_qty = EXCLUDED.min_qty,
            max_qty = EXCLUDED.max_qty,
            min_notional = EXCLUDED.min_notional,
            max_notional = EXCLUDED.max_notional,
            filters = EXCLUDED.filters,
            is_active = EXCLUDED.is_active,
            fetched_at = now()`

	return r.saveBatch(ctx, exchangeID, models.KindSymbols, audit, func(tx *sql.Tx) error {
		for _, s := range symbols {
			_, err := tx.ExecContext(ctx, query,
				exchangeID, s.SymbolID, s.Symbol, s.BaseAsset, s.QuoteAsset, s.Status, s.Type,
				s.BasePrecision, s.QuotePrecision, s.StepSize, s.TickSize, s.MinQty, s.MaxQty,
				s.MinNotional, s.MaxNotional, s.Filters, s.IsActive,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert symbol %s: %w", s.SymbolID, err)
			}
		}
		return nil
	})
}

func (r *Repository) SaveLimits(ctx context.Context, exchangeID uuid.UUID, limits []models.ExchangeLimit, audit models.StatusHistory) error {
	query := `
        INSERT INTO exchange_limits (exchange_id, limit_type, interval_unit, interval_num, "limit", raw_json, fetched_at)
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (exchange_id, limit_type, interval_unit, interval_num) DO UPDATE SET
            "limit" = EXCLUDED."limit",
            raw_json = EXCLUDED.raw_json,
            fetched_at = now()`

	return r.saveBatch(ctx, exchangeID, models.KindLimits, audit, func(tx *sql.Tx) error {
		for _, l := range limits {
			_, err := tx.ExecContext(ctx, query,
				exchangeID, l.LimitType, l.IntervalUnit, l.IntervalNum, l.Limit, l.RawJSON,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert limit %s/%d %s: %w", l.LimitType, l.IntervalNum, l.IntervalUnit, err)
			}
		}
		return nil
	})
}

// SaveFees upserts on uq_exchange_fee, which treats a null symbol_ref as a
// regular value so venue-wide tiers are deduplicated too.
func (r *Repository) SaveFees(ctx context.Context, exchangeID uuid.UUID, fees []models.ExchangeFee, audit models.StatusHistory) error {
	query := `
        INSERT INTO exchange_fees (exchange_id, symbol_ref, volume_threshold, maker_fee, taker_fee, fetched_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT ON CONSTRAINT uq_exchange_fee DO UPDATE SET
            maker_fee = EXCLUDED.maker_fee,
            taker_fee = EXCLUDED.taker_fee,
            fetched_at = now()`

	return r.saveBatch(ctx, exchangeID, models.KindFees, audit, func(tx *sql.Tx) error {
		for _, f := range fees {
			_, err := tx.ExecContext(ctx, query,
				exchangeID, f.SymbolRef, f.VolumeThreshold, f.MakerFee, f.TakerFee,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert fee: %w", err)
			}
		}
		return nil
	})
}

// SavePriceTicks appends ticks with multi-row inserts.
func (r *Repository) SavePriceTicks(ctx context.Context, exchangeID uuid.UUID, ticks []models.PriceTick, audit models.StatusHistory) error {
	start := time.Now()

	err := r.saveBatch(ctx, exchangeID, models.KindPrices, audit, func(tx *sql.Tx) error {
		for i := 0; i < len(ticks); i += tickBatchSize {
			end := i + tickBatchSize
			if end > len(ticks) {
				end = len(ticks)
			}
			if err := insertTicks(ctx, tx, exchangeID, ticks[i:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"records_count": len(ticks),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Debug("Inserted price ticks")
	return nil
}

func insertTicks(ctx context.Context, tx *sql.Tx, exchangeID uuid.UUID, ticks []models.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	query := `INSERT INTO price_ticks (exchange_id, symbol_ref, price, ts) VALUES `

	values := make([]string, 0, len(ticks))
	args := make([]interface{}, 0, len(ticks)*4)
	for i, t := range ticks {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", i*4+1, i*4+2, i*4+3, i*4+4))
		args = append(args, exchangeID, t.SymbolRef, t.Price, t.Timestamp)
	}
	query += strings.Join(values, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert price ticks: %w", err)
	}
	return nil
}

func (r *Repository) saveBatch(ctx context.Context, exchangeID uuid.UUID, kind models.JobKind, audit models.StatusHistory, apply func(tx *sql.Tx) error) error {
	column, ok := refreshColumns[kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := apply(tx); err != nil {
			return err
		}

		touch := `UPDATE exchanges SET ` + column + ` = now(), updated_at = now() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, touch, exchangeID); err != nil {
			return fmt.Errorf("failed to update %s: %w", column, err)
		}

		return insertStatus(ctx, tx, audit)
	})
}

// RecordStatus appends an audit row outside of any batch, used for failed runs.
func (r *Repository) RecordStatus(ctx context.Context, audit models.StatusHistory) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return insertStatus(ctx, tx, audit)
	})
}

func insertStatus(ctx context.Context, tx *sql.Tx, audit models.StatusHistory) error {
	query := `
        INSERT INTO exchange_status_history (exchange_id, event, status, message, ok_count, fail_count)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.ExecContext(ctx, query,
		audit.ExchangeID, audit.Event, audit.Status, audit.Message, audit.OkCount, audit.FailCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// EnsureSymbol returns the id of (exchange_id, symbol.SymbolID), inserting
// the given row first when it does not exist. Existing rows are untouched.
func (r *Repository) EnsureSymbol(ctx context.Context, exchangeID uuid.UUID, symbol models.ExchangeSymbol) (uuid.UUID, error) {
	query := `
        WITH ins AS (
            INSERT INTO exchange_symbols (exchange_id, symbol_id, symbol, base_asset, quote_asset, status,
                step_size, tick_size, min_qty, min_notional, filters, is_active, fetched_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
            ON CONFLICT (exchange_id, symbol_id) DO NOTHING
            RETURNING id
        )
        SELECT id FROM ins
        UNION ALL
        SELECT id FROM exchange_symbols WHERE exchange_id = $1 AND symbol_id = $2
        LIMIT 1`

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query,
		exchangeID, symbol.SymbolID, symbol.Symbol, symbol.BaseAsset, symbol.QuoteAsset, symbol.Status,
		symbol.StepSize, symbol.TickSize, symbol.MinQty, symbol.MinNotional, symbol.Filters, symbol.IsActive,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to ensure symbol %s: %w", symbol.SymbolID, err)
	}
	return id, nil
}

// SymbolRefs maps vendor symbol ids to ExchangeSymbol ids for one exchange.
func (r *Repository) SymbolRefs(ctx context.Context, exchangeID uuid.UUID) (map[string]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol_id, id FROM exchange_symbols WHERE exchange_id = $1`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]uuid.UUID)
	for rows.Next() {
		var (
			symbolID string
			id       uuid.UUID
		)
		if err := rows.Scan(&symbolID, &id); err != nil {
			return nil, fmt.Errorf("failed to scan symbol ref: %w", err)
		}
		refs[symbolID] = id
	}
	return refs, rows.Err()
}
