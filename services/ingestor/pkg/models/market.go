package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/shopspring/decimal"
)

// StatusTrading is the canonical status of a symbol open for trading. Every
// other vendor state collapses to StatusHalted.
const (
	StatusTrading = "TRADING"
	StatusHalted  = "HALTED"
)

type ExchangeSymbol struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	ExchangeID     uuid.UUID           `db:"exchange_id" json:"exchange_id"`
	SymbolID       string              `db:"symbol_id" json:"symbol_id"`
	Symbol         string              `db:"symbol" json:"symbol"`
	BaseAsset      string              `db:"base_asset" json:"base_asset"`
	QuoteAsset     string              `db:"quote_asset" json:"quote_asset"`
	Status         string              `db:"status" json:"status"`
	Type           string              `db:"type" json:"type,omitempty"`
	BasePrecision  *int                `db:"base_precision" json:"base_precision,omitempty"`
	QuotePrecision *int                `db:"quote_precision" json:"quote_precision,omitempty"`
	StepSize       decimal.NullDecimal `db:"step_size" json:"step_size"`
	TickSize       decimal.NullDecimal `db:"tick_size" json:"tick_size"`
	MinQty         decimal.NullDecimal `db:"min_qty" json:"min_qty"`
	MaxQty         decimal.NullDecimal `db:"max_qty" json:"max_qty"`
	MinNotional    decimal.NullDecimal `db:"min_notional" json:"min_notional"`
	MaxNotional    decimal.NullDecimal `db:"max_notional" json:"max_notional"`
	Filters        database.JSONB      `db:"filters" json:"filters,omitempty"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	FetchedAt      time.Time           `db:"fetched_at" json:"fetched_at"`
}

type ExchangeLimit struct {
	ID           int64          `db:"id" json:"id"`
	ExchangeID   uuid.UUID      `db:"exchange_id" json:"exchange_id"`
	LimitType    string         `db:"limit_type" json:"limit_type"`
	IntervalUnit string         `db:"interval_unit" json:"interval_unit"`
	IntervalNum  int            `db:"interval_num" json:"interval_num"`
	Limit        int            `db:"limit" json:"limit"`
	RawJSON      database.JSONB `db:"raw_json" json:"raw_json,omitempty"`
	FetchedAt    time.Time      `db:"fetched_at" json:"fetched_at"`
}

// ExchangeFee is a maker/taker tier. SymbolRef is nil for venue-wide fees.
type ExchangeFee struct {
	ID              int64               `db:"id" json:"id"`
	ExchangeID      uuid.UUID           `db:"exchange_id" json:"exchange_id"`
	SymbolRef       *uuid.UUID          `db:"symbol_ref" json:"symbol_ref,omitempty"`
	VolumeThreshold decimal.Decimal     `db:"volume_threshold" json:"volume_threshold"`
	MakerFee        decimal.NullDecimal `db:"maker_fee" json:"maker_fee"`
	TakerFee        decimal.NullDecimal `db:"taker_fee" json:"taker_fee"`
	FetchedAt       time.Time           `db:"fetched_at" json:"fetched_at"`
}

const (
	AuditOK      = "ok"
	AuditPartial = "partial"
	AuditError   = "error"
)

type StatusHistory struct {
	ID         int64     `db:"id" json:"id"`
	ExchangeID uuid.UUID `db:"exchange_id" json:"exchange_id"`
	Event      string    `db:"event" json:"event"`
	Status     string    `db:"status" json:"status"`
	Message    string    `db:"message" json:"message"`
	OkCount    int       `db:"ok_count" json:"ok_count"`
	FailCount  int       `db:"fail_count" json:"fail_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PriceQuote is a vendor price keyed by the vendor-native symbol id, before
// it is mapped onto an ExchangeSymbol.
type PriceQuote struct {
	SymbolID  string          `json:"symbol_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type PriceTick struct {
	ID         int64           `db:"id" json:"id"`
	ExchangeID uuid.UUID       `db:"exchange_id" json:"exchange_id"`
	SymbolRef  uuid.UUID       `db:"symbol_ref" json:"symbol_ref"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Timestamp  time.Time       `db:"ts" json:"ts"`
}

type Setting struct {
	ServiceName string    `db:"service_name"`
	Key         string    `db:"key"`
	Value       string    `db:"value"`
	ValueType   string    `db:"value_type"`
	UpdatedAt   time.Time `db:"updated_at"`
}
