package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/kraken"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// krakenRateLimit is Kraken's documented public REST budget. The API does
// not report limits, so one static rule is published.
var krakenRateLimit = models.ExchangeLimit{
	LimitType:    "REQUEST_WEIGHT",
	IntervalUnit: "SECOND",
	IntervalNum:  1,
	Limit:        15,
	RawJSON:      database.JSONB(`{"source":"https://docs.kraken.com/api/docs/guides/spot-rest-ratelimits","static":true}`),
}

type Kraken struct {
	client   *kraken.Client
	exchange models.Exchange
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKraken(cfg ClientConfig, logger *logrus.Logger) Adapter {
	return &Kraken{
		client: kraken.NewClient(kraken.Config{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Exchange.RequestTimeout(),
			RateLimit: cfg.Exchange.RateLimitPerMin,
		}, logger),
		exchange: cfg.Exchange,
		logger:   logger,
		now:      time.Now,
	}
}

func (k *Kraken) Code() string { return k.exchange.Code }

// tradable reports whether a pair accepts regular orders. Older API
// versions omit status entirely.
func tradable(p kraken.AssetPair) bool {
	return p.Status == "" || p.Status == "online"
}

func krakenSymbol(pairID string, p kraken.AssetPair) models.ExchangeSymbol {
	name := p.Wsname
	if name == "" {
		name = p.Altname
	}
	if name == "" {
		name = pairID
	}

	var step, tick decimal.NullDecimal
	if p.LotDecimals != nil {
		step = utils.PowTenNeg(*p.LotDecimals)
	}
	tick = positive(p.TickSize)
	if !tick.Valid && p.PairDecimals != nil {
		tick = utils.PowTenNeg(*p.PairDecimals)
	}

	filters := p
	filters.Fees, filters.FeesMaker = nil, nil

	return models.ExchangeSymbol{
		SymbolID:       pairID,
		Symbol:         name,
		BaseAsset:      p.Base,
		QuoteAsset:     p.Quote,
		Status:         models.StatusTrading,
		Type:           "spot",
		BasePrecision:  p.LotDecimals,
		QuotePrecision: p.PairDecimals,
		StepSize:       step,
		TickSize:       tick,
		MinQty:         positive(p.OrderMin),
		MinNotional:    positive(p.CostMin),
		Filters:        database.JSONB(marshalRaw(filters)),
		IsActive:       true,
	}
}

// sortedPairIDs gives deterministic iteration over Kraken's pair map.
func sortedPairIDs(pairs map[string]kraken.AssetPair) []string {
	ids := make([]string, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (k *Kraken) ListSymbols(ctx context.Context) (SymbolBatch, error) {
	pairs, raw, err := k.client.GetAssetPairs(ctx)
	if err != nil {
		return SymbolBatch{}, ingestError(k.Code(), "list symbols", err)
	}

	symbols := make([]models.ExchangeSymbol, 0, len(pairs))
	for _, id := range sortedPairIDs(pairs) {
		if !tradable(pairs[id]) {
			continue
		}
		symbols = append(symbols, krakenSymbol(id, pairs[id]))
	}
	return SymbolBatch{Symbols: symbols, Raw: raw}, nil
}

func (k *Kraken) ListLimits(ctx context.Context) (LimitBatch, error) {
	raw, _ := json.Marshal([]models.ExchangeLimit{krakenRateLimit})
	return LimitBatch{Limits: []models.ExchangeLimit{krakenRateLimit}, Raw: raw}, nil
}

// ListFees emits the per-pair volume tiers. Taker tiers come from "fees",
// maker tiers from "fees_maker" at the same index.
func (k *Kraken) ListFees(ctx context.Context, resolver SymbolResolver) (FeeBatch, error) {
	pairs, raw, err := k.client.GetAssetPairs(ctx)
	if err != nil {
		return FeeBatch{}, ingestError(k.Code(), "list fees", err)
	}

	var fees []models.ExchangeFee
	for _, id := range sortedPairIDs(pairs) {
		pair := pairs[id]
		if !tradable(pair) || len(pair.Fees) == 0 {
			continue
		}

		ref, err := resolver.EnsureSymbol(ctx, k.exchange.ID, krakenSymbol(id, pair))
		if err != nil {
			return FeeBatch{}, fmt.Errorf("failed to resolve kraken pair %s: %w", id, err)
		}

		for i, tier := range pair.Fees {
			if len(tier) < 2 {
				continue
			}
			fee := models.ExchangeFee{
				SymbolRef:       &ref,
				VolumeThreshold: tier[0],
				TakerFee:        decimal.NewNullDecimal(tier[1]),
			}
			if i < len(pair.FeesMaker) && len(pair.FeesMaker[i]) >= 2 {
				fee.MakerFee = decimal.NewNullDecimal(pair.FeesMaker[i][1])
			}
			fees = append(fees, fee)
		}
	}
	return FeeBatch{Fees: fees, Raw: raw}, nil
}

func (k *Kraken) ListPrices(ctx context.Context) (PriceBatch, error) {
	tickers, raw, err := k.client.GetTickers(ctx)
	if err != nil {
		return PriceBatch{}, ingestError(k.Code(), "list prices", err)
	}

	now := k.now().UTC()
	prices := make([]models.PriceQuote, 0, len(tickers))
	for id, t := range tickers {
		if len(t.LastTrade) == 0 {
			continue
		}
		prices = append(prices, models.PriceQuote{
			SymbolID:  id,
			Price:     utils.ParseDecimalSafe(t.LastTrade[0]),
			Timestamp: now,
		})
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].SymbolID < prices[j].SymbolID })
	return PriceBatch{Prices: prices, Raw: raw}, nil
}
