package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const krakenAssetPairs = `{
  "error": [],
  "result": {
    "XXBTZUSD": {
      "altname": "XBTUSD", "wsname": "XBT/USD", "base": "XXBT", "quote": "ZUSD",
      "pair_decimals": 1, "lot_decimals": 8, "cost_decimals": 5,
      "fees": [[0, 0.26], [50000, 0.24]],
      "fees_maker": [[0, 0.16], [50000, 0.14]],
      "ordermin": "0.0001", "costmin": "0.5", "tick_size": "0.1", "status": "online"
    },
    "XETHZUSD": {
      "altname": "ETHUSD", "wsname": "ETH/USD", "base": "XETH", "quote": "ZUSD",
      "pair_decimals": 2, "lot_decimals": 8,
      "fees": [[0, 0.26]],
      "ordermin": "0.002", "status": "online"
    },
    "LUNAUSD": {
      "altname": "LUNAUSD", "base": "LUNA", "quote": "ZUSD",
      "pair_decimals": 4, "lot_decimals": 8, "status": "delisted"
    }
  }
}`

func TestKrakenListSymbols(t *testing.T) {
	srv := vendorServer(t, map[string]string{"/0/public/AssetPairs": krakenAssetPairs})

	batch, err := NewKraken(testConfig("KRAKEN", srv.URL, nil), quietLogger()).ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Symbols, 2)

	eth, btc := batch.Symbols[0], batch.Symbols[1]
	assert.Equal(t, "XETHZUSD", eth.SymbolID)
	assert.Equal(t, "ETH/USD", eth.Symbol)
	assert.True(t, eth.TickSize.Decimal.Equal(dec("0.01")), "tick falls back to 10^-pair_decimals")
	assert.False(t, eth.MinNotional.Valid)

	assert.Equal(t, "XXBTZUSD", btc.SymbolID)
	assert.True(t, btc.StepSize.Decimal.Equal(dec("0.00000001")))
	assert.True(t, btc.TickSize.Decimal.Equal(dec("0.1")))
	assert.True(t, btc.MinQty.Decimal.Equal(dec("0.0001")))
	assert.True(t, btc.MinNotional.Decimal.Equal(dec("0.5")))
	assert.False(t, btc.MaxQty.Valid)
}

func TestKrakenListLimitsIsStatic(t *testing.T) {
	batch, err := NewKraken(testConfig("KRAKEN", "http://unused.invalid", nil), quietLogger()).ListLimits(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Limits, 1)
	assert.Equal(t, "REQUEST_WEIGHT", batch.Limits[0].LimitType)
	assert.Equal(t, 15, batch.Limits[0].Limit)
}

func TestKrakenListFeesResolvesSymbols(t *testing.T) {
	srv := vendorServer(t, map[string]string{"/0/public/AssetPairs": krakenAssetPairs})
	cfg := testConfig("KRAKEN", srv.URL, nil)

	btcRef, ethRef := uuid.New(), uuid.New()
	resolver := new(MockSymbolResolver)
	resolver.On("EnsureSymbol", mock.Anything, cfg.Exchange.ID, "XXBTZUSD").Return(btcRef, nil).Once()
	resolver.On("EnsureSymbol", mock.Anything, cfg.Exchange.ID, "XETHZUSD").Return(ethRef, nil).Once()

	batch, err := NewKraken(cfg, quietLogger()).ListFees(context.Background(), resolver)
	require.NoError(t, err)
	require.Len(t, batch.Fees, 3)
	resolver.AssertExpectations(t)

	eth := batch.Fees[0]
	assert.Equal(t, ethRef, *eth.SymbolRef)
	assert.True(t, eth.TakerFee.Decimal.Equal(dec("0.26")))
	assert.False(t, eth.MakerFee.Valid, "missing maker tier stays null")

	tier := batch.Fees[2]
	assert.Equal(t, btcRef, *tier.SymbolRef)
	assert.True(t, tier.VolumeThreshold.Equal(dec("50000")))
	assert.True(t, tier.MakerFee.Decimal.Equal(dec("0.14")))
	assert.True(t, tier.TakerFee.Decimal.Equal(dec("0.24")))
}

func TestKrakenListFeesResolverFailure(t *testing.T) {
	srv := vendorServer(t, map[string]string{"/0/public/AssetPairs": krakenAssetPairs})
	resolver := new(MockSymbolResolver)
	resolver.On("EnsureSymbol", mock.Anything, mock.Anything, mock.Anything).Return(uuid.Nil, errors.New("db down"))

	_, err := NewKraken(testConfig("KRAKEN", srv.URL, nil), quietLogger()).ListFees(context.Background(), resolver)
	assert.ErrorContains(t, err, "db down")
}

func TestKrakenErrorEnvelope(t *testing.T) {
	srv := vendorServer(t, map[string]string{"/0/public/Ticker": `{"error": ["EGeneral:Too many requests"], "result": {}}`})

	_, err := NewKraken(testConfig("KRAKEN", srv.URL, nil), quietLogger()).ListPrices(context.Background())
	var ie *IngestError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Error(), "Too many requests")
}

func TestKrakenListPrices(t *testing.T) {
	srv := vendorServer(t, map[string]string{
		"/0/public/Ticker": `{"error": [], "result": {"XXBTZUSD": {"a": ["64001.0", "1", "1.0"], "b": ["64000.0", "1", "1.0"], "c": ["64000.5", "0.01"]}}}`,
	})

	batch, err := NewKraken(testConfig("KRAKEN", srv.URL, nil), quietLogger()).ListPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Prices, 1)
	assert.Equal(t, "XXBTZUSD", batch.Prices[0].SymbolID)
	assert.True(t, batch.Prices[0].Price.Equal(dec("64000.5")))
}
