package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NewsState string

const (
	NewsNew             NewsState = "new"
	NewsSymbolResolved  NewsState = "symbol-resolved"
	NewsPartiallyPriced NewsState = "partially-priced"
	NewsFullyPriced     NewsState = "fully-priced"
)

type NewsEvent struct {
	ID            int64               `db:"id" json:"id"`
	PublishedAt   time.Time           `db:"published_at" json:"published_at"`
	Title         string              `db:"title" json:"title"`
	Summary       string              `db:"summary" json:"summary,omitempty"`
	Source        string              `db:"source" json:"source,omitempty"`
	URL           string              `db:"url" json:"url,omitempty"`
	Keyword       string              `db:"keyword" json:"keyword,omitempty"`
	SymbolRef     *uuid.UUID          `db:"symbol_ref" json:"symbol_ref,omitempty"`
	Sentiment     float64             `db:"sentiment" json:"sentiment"`
	PriceBefore   decimal.NullDecimal `db:"price_before" json:"price_before"`
	PriceAfter1h  decimal.NullDecimal `db:"price_after_1h" json:"price_after_1h"`
	PriceAfter6h  decimal.NullDecimal `db:"price_after_6h" json:"price_after_6h"`
	PriceAfter24h decimal.NullDecimal `db:"price_after_24h" json:"price_after_24h"`
	PctChange1h   decimal.NullDecimal `db:"pct_change_1h" json:"pct_change_1h"`
	PctChange6h   decimal.NullDecimal `db:"pct_change_6h" json:"pct_change_6h"`
	PctChange24h  decimal.NullDecimal `db:"pct_change_24h" json:"pct_change_24h"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// State derives the correlation state from which fields are populated.
func (n NewsEvent) State() NewsState {
	if n.SymbolRef == nil {
		return NewsNew
	}
	priced := 0
	for _, p := range []decimal.NullDecimal{n.PriceBefore, n.PriceAfter1h, n.PriceAfter6h, n.PriceAfter24h} {
		if p.Valid {
			priced++
		}
	}
	switch priced {
	case 0:
		return NewsSymbolResolved
	case 4:
		return NewsFullyPriced
	default:
		return NewsPartiallyPriced
	}
}

// NeedsPrices reports whether any price or change field is still empty.
func (n NewsEvent) NeedsPrices() bool {
	return !n.PriceBefore.Valid ||
		!n.PriceAfter1h.Valid || !n.PriceAfter6h.Valid || !n.PriceAfter24h.Valid ||
		!n.PctChange1h.Valid || !n.PctChange6h.Valid || !n.PctChange24h.Valid
}

// NewsPrices is a partial update for a news event. Only valid fields are
// written, and only into columns that are still null.
type NewsPrices struct {
	PriceBefore   decimal.NullDecimal
	PriceAfter1h  decimal.NullDecimal
	PriceAfter6h  decimal.NullDecimal
	PriceAfter24h decimal.NullDecimal
	PctChange1h   decimal.NullDecimal
	PctChange6h   decimal.NullDecimal
	PctChange24h  decimal.NullDecimal
}

func (p NewsPrices) Empty() bool {
	for _, d := range []decimal.NullDecimal{
		p.PriceBefore, p.PriceAfter1h, p.PriceAfter6h, p.PriceAfter24h,
		p.PctChange1h, p.PctChange6h, p.PctChange24h,
	} {
		if d.Valid {
			return false
		}
	}
	return true
}

// SentimentSignal is the advisory halt outcome over a lookback window.
type SentimentSignal struct {
	Mean          float64   `json:"mean"`
	Count         int       `json:"count"`
	Threshold     float64   `json:"threshold"`
	LookbackHours int       `json:"lookback_hours"`
	Halt          bool      `json:"halt"`
	ComputedAt    time.Time `json:"computed_at"`
}
