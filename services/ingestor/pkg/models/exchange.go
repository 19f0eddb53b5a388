package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindSymbols JobKind = "symbols"
	KindLimits  JobKind = "limits"
	KindFees    JobKind = "fees"
	KindPrices  JobKind = "prices"
)

// JobKinds lists every per-exchange job kind in scheduling order.
var JobKinds = []JobKind{KindSymbols, KindLimits, KindFees, KindPrices}

// Event is the audit event name recorded for a run of this kind.
func (k JobKind) Event() string {
	return string(k) + "_refresh"
}

func (k JobKind) Valid() bool {
	switch k {
	case KindSymbols, KindLimits, KindFees, KindPrices:
		return true
	}
	return false
}

type Exchange struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	Code                 string     `db:"code" json:"code"`
	Name                 string     `db:"name" json:"name"`
	BaseURLPublic        string     `db:"base_url_public" json:"base_url_public,omitempty"`
	BaseURLPrivate       string     `db:"base_url_private" json:"base_url_private,omitempty"`
	SymbolsIntervalMin   int        `db:"fetch_symbols_interval_min" json:"fetch_symbols_interval_min"`
	LimitsIntervalMin    int        `db:"fetch_limits_interval_min" json:"fetch_limits_interval_min"`
	FeesIntervalMin      int        `db:"fetch_fees_interval_min" json:"fetch_fees_interval_min"`
	PricesIntervalMin    int        `db:"fetch_prices_interval_min" json:"fetch_prices_interval_min"`
	RequestTimeoutMs     int        `db:"request_timeout_ms" json:"request_timeout_ms"`
	RateLimitPerMin      int        `db:"rate_limit_per_min" json:"rate_limit_per_min,omitempty"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	LastSymbolsRefreshAt *time.Time `db:"last_symbols_refresh_at" json:"last_symbols_refresh_at,omitempty"`
	LastLimitsRefreshAt  *time.Time `db:"last_limits_refresh_at" json:"last_limits_refresh_at,omitempty"`
	LastFeesRefreshAt    *time.Time `db:"last_fees_refresh_at" json:"last_fees_refresh_at,omitempty"`
	LastPricesRefreshAt  *time.Time `db:"last_prices_refresh_at" json:"last_prices_refresh_at,omitempty"`
}

// IntervalMinutes returns the configured poll interval for kind.
func (e Exchange) IntervalMinutes(kind JobKind) int {
	switch kind {
	case KindSymbols:
		return e.SymbolsIntervalMin
	case KindLimits:
		return e.LimitsIntervalMin
	case KindFees:
		return e.FeesIntervalMin
	case KindPrices:
		return e.PricesIntervalMin
	}
	return 0
}

func (e Exchange) Interval(kind JobKind) time.Duration {
	return time.Duration(e.IntervalMinutes(kind)) * time.Minute
}

// BaseURL prefers the private endpoint, as credentials are attached.
func (e Exchange) BaseURL() string {
	if e.BaseURLPrivate != "" {
		return e.BaseURLPrivate
	}
	return e.BaseURLPublic
}

func (e Exchange) RequestTimeout() time.Duration {
	if e.RequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}

func (e Exchange) LastRefreshAt(kind JobKind) *time.Time {
	switch kind {
	case KindSymbols:
		return e.LastSymbolsRefreshAt
	case KindLimits:
		return e.LastLimitsRefreshAt
	case KindFees:
		return e.LastFeesRefreshAt
	case KindPrices:
		return e.LastPricesRefreshAt
	}
	return nil
}

func (e Exchange) Validate() error {
	if e.Code == "" {
		return fmt.Errorf("exchange %s has no code", e.ID)
	}
	for _, kind := range JobKinds {
		if e.IntervalMinutes(kind) <= 0 {
			return fmt.Errorf("exchange %s: %s interval must be positive, got %d", e.Code, kind, e.IntervalMinutes(kind))
		}
	}
	return nil
}

// JobID is the deterministic scheduler key for (kind, exchange).
func (e Exchange) JobID(kind JobKind) string {
	return fmt.Sprintf("%s_%s_%s", kind, e.Code, e.ID)
}

type Credential struct {
	ID            uuid.UUID `db:"id"`
	ExchangeID    uuid.UUID `db:"exchange_id"`
	Label         string    `db:"label"`
	APIKey        string    `db:"api_key"`
	APISecret     string    `db:"api_secret"`
	APIPassphrase string    `db:"api_passphrase"`
	IsService     bool      `db:"is_service"`
	IsActive      bool      `db:"is_active"`
}
