package news

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// horizon is one "after" offset and the event fields it fills.
type horizon struct {
	offset time.Duration
	price  func(*models.NewsEvent) *decimal.NullDecimal
	pct    func(*models.NewsEvent) *decimal.NullDecimal
}

var horizons = []horizon{
	{
		offset: time.Hour,
		price:  func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PriceAfter1h },
		pct:    func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PctChange1h },
	},
	{
		offset: 6 * time.Hour,
		price:  func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PriceAfter6h },
		pct:    func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PctChange6h },
	},
	{
		offset: 24 * time.Hour,
		price:  func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PriceAfter24h },
		pct:    func(n *models.NewsEvent) *decimal.NullDecimal { return &n.PctChange24h },
	},
}

type BackfillResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// Backfill fills the price and change fields of recent resolved events from
// the price series. Fields already written are never recomputed.
func (s *Service) Backfill(ctx context.Context) (BackfillResult, error) {
	start := time.Now()
	settings := s.settings.News(ctx)
	now := s.now().UTC()

	events, err := s.store.PendingNewsPrices(ctx, now.Add(-settings.BackfillHorizon), settings.BackfillBatch)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("failed to load pending news: %w", err)
	}

	result := BackfillResult{Scanned: len(events)}
	for _, event := range events {
		update, err := s.resolvePrices(ctx, event, settings.PriceWindow, now)
		if err != nil {
			return result, err
		}
		// An empty update still marks the event as checked.
		if err := s.store.UpdateNewsPrices(ctx, event.ID, update); err != nil {
			return result, err
		}
		if !update.Empty() {
			result.Updated++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"scanned":     result.Scanned,
		"updated":     result.Updated,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("News price backfill completed")
	return result, nil
}

// resolvePrices computes the still-empty fields of one event. Offsets whose
// target is in the future are left for a later run.
func (s *Service) resolvePrices(ctx context.Context, event models.NewsEvent, window time.Duration, now time.Time) (models.NewsPrices, error) {
	var update models.NewsPrices
	if event.SymbolRef == nil || event.PublishedAt.After(now) {
		return update, nil
	}
	ref := *event.SymbolRef
	filled := event

	if !event.PriceBefore.Valid {
		price, err := s.priceBefore(ctx, ref, event.PublishedAt, window)
		if err != nil {
			return update, err
		}
		update.PriceBefore = price
		filled.PriceBefore = price
	}

	for i, h := range horizons {
		target := event.PublishedAt.Add(h.offset)
		if target.After(now) {
			continue
		}

		after := *h.price(&filled)
		if !after.Valid {
			price, err := s.priceAfter(ctx, ref, target, window)
			if err != nil {
				return update, err
			}
			after = price
			*h.price(&filled) = price
			setPrice(&update, i, price)
		}

		if h.pct(&filled).Valid || !filled.PriceBefore.Valid || !after.Valid {
			continue
		}
		if pct, ok := utils.PercentChange(filled.PriceBefore.Decimal, after.Decimal); ok {
			setPct(&update, i, decimal.NewNullDecimal(pct))
		}
	}
	return update, nil
}

// priceBefore is the latest tick at or before target within window.
func (s *Service) priceBefore(ctx context.Context, ref uuid.UUID, target time.Time, window time.Duration) (decimal.NullDecimal, error) {
	tick, err := s.store.TickAtOrBefore(ctx, ref, target, target.Add(-window))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to look up price before %s: %w", target, err)
	}
	if tick == nil {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(tick.Price), nil
}

// priceAfter is the earliest tick at or after target within window.
func (s *Service) priceAfter(ctx context.Context, ref uuid.UUID, target time.Time, window time.Duration) (decimal.NullDecimal, error) {
	tick, err := s.store.TickAtOrAfter(ctx, ref, target, target.Add(window))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to look up price after %s: %w", target, err)
	}
	if tick == nil {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(tick.Price), nil
}

func setPrice(p *models.NewsPrices, i int, v decimal.NullDecimal) {
	switch i {
	case 0:
		p.PriceAfter1h = v
	case 1:
		p.PriceAfter6h = v
	case 2:
		p.PriceAfter24h = v
	}
}

func setPct(p *models.NewsPrices, i int, v decimal.NullDecimal) {
	switch i {
	case 0:
		p.PctChange1h = v
	case 1:
		p.PctChange6h = v
	case 2:
		p.PctChange24h = v
	}
}
