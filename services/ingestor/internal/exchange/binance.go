package exchange

import (
	"context"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/binance"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Binance struct {
	client   *binance.Client
	exchange models.Exchange
	hasKeys  bool
	logger   *logrus.Logger
	now      func() time.Time
}

func NewBinance(cfg ClientConfig, logger *logrus.Logger) Adapter {
	cred := credentialOrEmpty(cfg.Credential)
	return &Binance{
		client: binance.NewClient(binance.Config{
			BaseURL:   cfg.BaseURL,
			APIKey:    cred.APIKey,
			APISecret: cred.APISecret,
			Timeout:   cfg.Exchange.RequestTimeout(),
			RateLimit: cfg.Exchange.RateLimitPerMin,
		}, logger),
		exchange: cfg.Exchange,
		hasKeys:  cred.APIKey != "" && cred.APISecret != "",
		logger:   logger,
		now:      time.Now,
	}
}

func (b *Binance) Code() string { return b.exchange.Code }

func (b *Binance) ListSymbols(ctx context.Context) (SymbolBatch, error) {
	info, raw, err := b.client.GetExchangeInfo(ctx)
	if err != nil {
		return SymbolBatch{}, ingestError(b.Code(), "list symbols", err)
	}

	symbols := make([]models.ExchangeSymbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}

		filters := s.FilterMap()
		lot := filters["LOT_SIZE"]
		price := filters["PRICE_FILTER"]
		notional, ok := filters["MIN_NOTIONAL"]
		if !ok {
			notional = filters["NOTIONAL"]
		}

		symbols = append(symbols, models.ExchangeSymbol{
			SymbolID:       s.Symbol,
			Symbol:         s.BaseAsset + "/" + s.QuoteAsset,
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			Status:         models.StatusTrading,
			Type:           "spot",
			BasePrecision:  s.BaseAssetPrecision,
			QuotePrecision: s.QuotePrecision,
			StepSize:       positive(lot.StepSize),
			TickSize:       positive(price.TickSize),
			MinQty:         positive(lot.MinQty),
			MaxQty:         positive(lot.MaxQty),
			MinNotional:    positive(notional.MinNotional),
			MaxNotional:    positive(notional.MaxNotional),
			Filters:        database.JSONB(marshalRaw(s.Filters)),
			IsActive:       true,
		})
	}

	return SymbolBatch{Symbols: symbols, Raw: raw}, nil
}

func (b *Binance) ListLimits(ctx context.Context) (LimitBatch, error) {
	info, raw, err := b.client.GetExchangeInfo(ctx)
	if err != nil {
		return LimitBatch{}, ingestError(b.Code(), "list limits", err)
	}

	limits := make([]models.ExchangeLimit, 0, len(info.RateLimits))
	for _, rl := range info.RateLimits {
		limits = append(limits, models.ExchangeLimit{
			LimitType:    rl.RateLimitType,
			IntervalUnit: rl.Interval,
			IntervalNum:  rl.IntervalNum,
			Limit:        rl.Limit,
			RawJSON:      database.JSONB(marshalRaw(rl)),
		})
	}

	return LimitBatch{Limits: limits, Raw: raw}, nil
}

// ListFees reads the account commission, which needs a signed request.
// Without credentials the capability is absent and the batch is empty.
func (b *Binance) ListFees(ctx context.Context, resolver SymbolResolver) (FeeBatch, error) {
	if !b.hasKeys {
		b.logger.WithField("exchange", b.Code()).Debug("No API credentials, skipping account fees")
		return FeeBatch{}, nil
	}

	account, raw, err := b.client.GetAccount(ctx)
	if err != nil {
		return FeeBatch{}, ingestError(b.Code(), "list fees", err)
	}

	fee := models.ExchangeFee{
		VolumeThreshold: decimal.Zero,
		MakerFee:        decimal.NewNullDecimal(commissionPercent(account.MakerCommission)),
		TakerFee:        decimal.NewNullDecimal(commissionPercent(account.TakerCommission)),
	}
	return FeeBatch{Fees: []models.ExchangeFee{fee}, Raw: raw}, nil
}

func (b *Binance) ListPrices(ctx context.Context) (PriceBatch, error) {
	tickers, raw, err := b.client.GetTickerPrices(ctx)
	if err != nil {
		return PriceBatch{}, ingestError(b.Code(), "list prices", err)
	}

	now := b.now().UTC()
	prices := make([]models.PriceQuote, 0, len(tickers))
	for _, t := range tickers {
		prices = append(prices, models.PriceQuote{
			SymbolID:  t.Symbol,
			Price:     utils.ParseDecimalSafe(t.Price),
			Timestamp: now,
		})
	}
	return PriceBatch{Prices: prices, Raw: raw}, nil
}

// commissionPercent converts Binance commission units (1 = 0.01%) to percent.
func commissionPercent(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}

// positive parses a vendor filter value. Binance reports disabled filter
// bounds as zero, which is stored as null.
func positive(s string) decimal.NullDecimal {
	d := utils.ParseNullDecimal(s)
	if d.Valid && !d.Decimal.IsPositive() {
		return decimal.NullDecimal{}
	}
	return d
}
