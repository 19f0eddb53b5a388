package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
)

const newsColumns = `id, published_at, title, summary, source, url, keyword, symbol_ref, sentiment,
        price_before, price_after_1h, price_after_6h, price_after_24h,
        pct_change_1h, pct_change_6h, pct_change_24h, created_at`

func scanNews(row rowScanner) (models.NewsEvent, error) {
	var n models.NewsEvent
	err := row.Scan(
		&n.ID, &n.PublishedAt, &n.Title, &n.Summary, &n.Source, &n.URL, &n.Keyword, &n.SymbolRef, &n.Sentiment,
		&n.PriceBefore, &n.PriceAfter1h, &n.PriceAfter6h, &n.PriceAfter24h,
		&n.PctChange1h, &n.PctChange6h, &n.PctChange24h, &n.CreatedAt,
	)
	return n, err
}

// InsertNews stores the event unless (published_at, title) already exists.
// It reports whether a row was inserted.
func (r *Repository) InsertNews(ctx context.Context, n models.NewsEvent) (bool, error) {
	query := `
        INSERT INTO news_events (published_at, title, summary, source, url, keyword, symbol_ref, sentiment)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (published_at, title) DO NOTHING
        RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		n.PublishedAt, n.Title, n.Summary, n.Source, n.URL, n.Keyword, n.SymbolRef, n.Sentiment,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert news: %w", err)
	}
	return true, nil
}

// PendingNewsPrices lists symbol-resolved events published since the given
// time that still have an empty price or change column. Events checked least
// recently come first, so events that can never be priced rotate to the back
// instead of filling every batch.
func (r *Repository) PendingNewsPrices(ctx context.Context, since time.Time, limit int) ([]models.NewsEvent, error) {
	query := `SELECT ` + newsColumns + `
        FROM news_events
        WHERE symbol_ref IS NOT NULL
          AND published_at >= $1
          AND (price_before IS NULL OR price_after_1h IS NULL OR price_after_6h IS NULL OR price_after_24h IS NULL
               OR pct_change_1h IS NULL OR pct_change_6h IS NULL OR pct_change_24h IS NULL)
        ORDER BY backfill_checked_at ASC NULLS FIRST, published_at DESC, id
        LIMIT $2`

	return r.queryNews(ctx, query, since, limit)
}

// UpdateNewsPrices fills only columns that are still null and marks the
// event as checked, even when p is empty.
func (r *Repository) UpdateNewsPrices(ctx context.Context, id int64, p models.NewsPrices) error {
	query := `
        UPDATE news_events SET
            price_before = COALESCE(price_before, $2),
            price_after_1h = COALESCE(price_after_1h, $3),
            price_after_6h = COALESCE(price_after_6h, $4),
            price_after_24h = COALESCE(price_after_24h, $5),
            pct_change_1h = COALESCE(pct_change_1h, $6),
            pct_change_6h = COALESCE(pct_change_6h, $7),
            pct_change_24h = COALESCE(pct_change_24h, $8),
            backfill_checked_at = now()
        WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id,
		p.PriceBefore, p.PriceAfter1h, p.PriceAfter6h, p.PriceAfter24h,
		p.PctChange1h, p.PctChange6h, p.PctChange24h,
	)
	if err != nil {
		return fmt.Errorf("failed to update news %d prices: %w", id, err)
	}
	return nil
}

func (r *Repository) SentimentSince(ctx context.Context, since time.Time) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sentiment FROM news_events WHERE published_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentiment: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// TickAtOrBefore returns the latest tick in [notBefore, target], or nil.
func (r *Repository) TickAtOrBefore(ctx context.Context, symbolRef uuid.UUID, target, notBefore time.Time) (*models.PriceTick, error) {
	query := `
        SELECT id, exchange_id, symbol_ref, price, ts FROM price_ticks
        WHERE symbol_ref = $1 AND ts <= $2 AND ts >= $3
        ORDER BY ts DESC, id ASC
        LIMIT 1`
	return r.queryTick(ctx, query, symbolRef, target, notBefore)
}

// TickAtOrAfter returns the earliest tick in [target, notAfter], or nil.
func (r *Repository) TickAtOrAfter(ctx context.Context, symbolRef uuid.UUID, target, notAfter time.Time) (*models.PriceTick, error) {
	query := `
        SELECT id, exchange_id, symbol_ref, price, ts FROM price_ticks
        WHERE symbol_ref = $1 AND ts >= $2 AND ts <= $3
        ORDER BY ts ASC, id ASC
        LIMIT 1`
	return r.queryTick(ctx, query, symbolRef, target, notAfter)
}

func (r *Repository) queryTick(ctx context.Context, query string, args ...interface{}) (*models.PriceTick, error) {
	var t models.PriceTick
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.ExchangeID, &t.SymbolRef, &t.Price, &t.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up price tick: %w", err)
	}
	return &t, nil
}

// FindSymbolRef resolves a vendor symbol id on the exchange with the given
// code, or returns nil when either is unknown.
func (r *Repository) FindSymbolRef(ctx context.Context, exchangeCode, symbolID string) (*uuid.UUID, error) {
	query := `
        SELECT s.id FROM exchange_symbols s
        JOIN exchanges e ON e.id = s.exchange_id
        WHERE e.code = $1 AND s.symbol_id = $2`

	var id uuid.UUID
	if err := r.db.QueryRowContext(ctx, query, exchangeCode, symbolID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve symbol %s on %s: %w", symbolID, exchangeCode, err)
	}
	return &id, nil
}

func (r *Repository) ListNews(ctx context.Context, limit, offset int) ([]models.NewsEvent, error) {
	query := `SELECT ` + newsColumns + ` FROM news_events ORDER BY published_at DESC, id DESC LIMIT $1 OFFSET $2`
	return r.queryNews(ctx, query, limit, offset)
}

func (r *Repository) GetNews(ctx context.Context, id int64) (*models.NewsEvent, error) {
	query := `SELECT ` + newsColumns + ` FROM news_events WHERE id = $1`

	n, err := scanNews(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get news %d: %w", id, err)
	}
	return &n, nil
}

func (r *Repository) queryNews(ctx context.Context, query string, args ...interface{}) ([]models.NewsEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query news: %w", err)
	}
	defer rows.Close()

	var events []models.NewsEvent
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan news: %w", err)
		}
		events = append(events, n)
	}
	return events, rows.Err()
}
