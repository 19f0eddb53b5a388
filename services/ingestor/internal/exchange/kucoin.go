package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/kucoin"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

type KuCoin struct {
	client   *kucoin.Client
	exchange models.Exchange
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKuCoin(cfg ClientConfig, logger *logrus.Logger) Adapter {
	cred := credentialOrEmpty(cfg.Credential)
	return &KuCoin{
		client: kucoin.NewClient(kucoin.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cred.APIKey,
			APISecret:  cred.APISecret,
			Passphrase: cred.APIPassphrase,
			Timeout:    cfg.Exchange.RequestTimeout(),
			RateLimit:  cfg.Exchange.RateLimitPerMin,
		}, logger),
		exchange: cfg.Exchange,
		logger:   logger,
		now:      time.Now,
	}
}

func (k *KuCoin) Code() string { return k.exchange.Code }

func (k *KuCoin) ListSymbols(ctx context.Context) (SymbolBatch, error) {
	symbols, raw, err := k.client.GetSymbols(ctx)
	if err != nil {
		return SymbolBatch{}, ingestError(k.Code(), "list symbols", err)
	}

	out := make([]models.ExchangeSymbol, 0, len(symbols))
	for _, s := range symbols {
		if !s.EnableTrading {
			continue
		}
		out = append(out, kucoinSymbol(s))
	}
	return SymbolBatch{Symbols: out, Raw: raw}, nil
}

// ListLimits returns an empty batch: KuCoin exposes no rate-limit endpoint.
func (k *KuCoin) ListLimits(ctx context.Context) (LimitBatch, error) {
	return LimitBatch{}, nil
}

// ListFees emits per-symbol rates from allTickers and, with credentials,
// the account's venue-wide base fee. Rates are converted to percent.
// allTickers also lists markets with trading disabled; those are skipped so
// the fees job never creates a symbol the symbols job filtered out.
func (k *KuCoin) ListFees(ctx context.Context, resolver SymbolResolver) (FeeBatch, error) {
	symbols, _, err := k.client.GetSymbols(ctx)
	if err != nil {
		return FeeBatch{}, ingestError(k.Code(), "list fees", err)
	}
	tradable := make(map[string]kucoin.Symbol, len(symbols))
	for _, s := range symbols {
		if s.EnableTrading {
			tradable[s.Symbol] = s
		}
	}

	tickers, raw, err := k.client.GetAllTickers(ctx)
	if err != nil {
		return FeeBatch{}, ingestError(k.Code(), "list fees", err)
	}

	var fees []models.ExchangeFee
	if k.client.HasCredentials() {
		base, _, err := k.client.GetBaseFee(ctx)
		if err != nil {
			return FeeBatch{}, ingestError(k.Code(), "list fees", err)
		}
		fees = append(fees, models.ExchangeFee{
			VolumeThreshold: decimal.Zero,
			MakerFee:        percent(base.MakerFeeRate),
			TakerFee:        percent(base.TakerFeeRate),
		})
	}

	for _, t := range tickers.Ticker {
		sym, ok := tradable[t.Symbol]
		if !ok {
			continue
		}
		maker, taker := percent(t.MakerFeeRate), percent(t.TakerFeeRate)
		if !maker.Valid && !taker.Valid {
			continue
		}

		ref, err := resolver.EnsureSymbol(ctx, k.exchange.ID, kucoinSymbol(sym))
		if err != nil {
			return FeeBatch{}, fmt.Errorf("failed to resolve kucoin symbol %s: %w", t.Symbol, err)
		}
		fees = append(fees, models.ExchangeFee{
			SymbolRef:       &ref,
			VolumeThreshold: decimal.Zero,
			MakerFee:        maker,
			TakerFee:        taker,
		})
	}
	return FeeBatch{Fees: fees, Raw: raw}, nil
}

func (k *KuCoin) ListPrices(ctx context.Context) (PriceBatch, error) {
	tickers, raw, err := k.client.GetAllTickers(ctx)
	if err != nil {
		return PriceBatch{}, ingestError(k.Code(), "list prices", err)
	}

	ts := k.now().UTC()
	if tickers.Time > 0 {
		ts = time.UnixMilli(tickers.Time).UTC()
	}

	prices := make([]models.PriceQuote, 0, len(tickers.Ticker))
	for _, t := range tickers.Ticker {
		if t.Last == "" {
			continue
		}
		prices = append(prices, models.PriceQuote{
			SymbolID:  t.Symbol,
			Price:     utils.ParseDecimalSafe(t.Last),
			Timestamp: ts,
		})
	}
	return PriceBatch{Prices: prices, Raw: raw}, nil
}

func kucoinSymbol(s kucoin.Symbol) models.ExchangeSymbol {
	return models.ExchangeSymbol{
		SymbolID:    s.Symbol,
		Symbol:      s.BaseCurrency + "/" + s.QuoteCurrency,
		BaseAsset:   s.BaseCurrency,
		QuoteAsset:  s.QuoteCurrency,
		Status:      models.StatusTrading,
		Type:        "spot",
		StepSize:    positive(s.BaseIncrement),
		TickSize:    positive(s.PriceIncrement),
		MinQty:      positive(s.BaseMinSize),
		MaxQty:      positive(s.BaseMaxSize),
		MinNotional: positive(s.MinFunds),
		MaxNotional: positive(s.QuoteMaxSize),
		Filters:     database.JSONB(marshalRaw(s)),
		IsActive:    true,
	}
}
