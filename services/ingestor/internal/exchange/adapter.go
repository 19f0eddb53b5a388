package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/restclient"
	"github.com/sirupsen/logrus"
)

// SymbolResolver returns the surrogate id for a vendor symbol, creating the
// row from the given record when it does not exist yet.
type SymbolResolver interface {
	EnsureSymbol(ctx context.Context, exchangeID uuid.UUID, symbol models.ExchangeSymbol) (uuid.UUID, error)
}

type SymbolBatch struct {
	Symbols []models.ExchangeSymbol
	Raw     json.RawMessage
}

type LimitBatch struct {
	Limits []models.ExchangeLimit
	Raw    json.RawMessage
}

type FeeBatch struct {
	Fees []models.ExchangeFee
	Raw  json.RawMessage
}

type PriceBatch struct {
	Prices []models.PriceQuote
	Raw    json.RawMessage
}

// Adapter translates one vendor's REST API into canonical records. A vendor
// without a given capability returns an empty batch and no error.
type Adapter interface {
	Code() string
	ListSymbols(ctx context.Context) (SymbolBatch, error)
	ListLimits(ctx context.Context) (LimitBatch, error)
	ListFees(ctx context.Context, resolver SymbolResolver) (FeeBatch, error)
	ListPrices(ctx context.Context) (PriceBatch, error)
}

// ClientConfig is everything an adapter needs to reach its vendor.
type ClientConfig struct {
	Exchange   models.Exchange
	BaseURL    string
	Credential *models.Credential
}

type Factory func(cfg ClientConfig, logger *logrus.Logger) Adapter

// Table maps an exchange code to its adapter factory.
type Table map[string]Factory

// DefaultTable is the closed set of supported vendors.
var DefaultTable = Table{
	"BINANCE": NewBinance,
	"KRAKEN":  NewKraken,
	"KUCOIN":  NewKuCoin,
}

func (t Table) Lookup(code string) (Factory, bool) {
	f, ok := t[strings.ToUpper(code)]
	return f, ok
}

// IngestError is the typed failure of a single adapter call.
type IngestError struct {
	Exchange   string
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *IngestError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timeout: %v", e.Exchange, e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: http %d: %v", e.Exchange, e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Exchange, e.Op, e.Err)
	}
}

func (e *IngestError) Unwrap() error { return e.Err }

func ingestError(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	ie := &IngestError{Exchange: exchange, Op: op, Err: err}
	var apiErr *restclient.APIError
	if errors.As(err, &apiErr) {
		ie.StatusCode = apiErr.StatusCode
		ie.Timeout = apiErr.Timeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ie.Timeout = true
	}
	return ie
}

func credentialOrEmpty(c *models.Credential) models.Credential {
	if c == nil {
		return models.Credential{}
	}
	return *c
}

func marshalRaw(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
