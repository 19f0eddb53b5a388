package registry

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database/memstore"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func exchangeRow(code string) models.Exchange {
	return models.Exchange{
		Code:               code,
		Name:               code,
		BaseURLPublic:      "https://public.example",
		SymbolsIntervalMin: 60,
		LimitsIntervalMin:  1440,
		FeesIntervalMin:    1440,
		PricesIntervalMin:  1,
		IsActive:           true,
	}
}

func TestLoadSkipsUnusableExchanges(t *testing.T) {
	store := memstore.New()

	binance := store.AddExchange(exchangeRow("BINANCE"))
	store.AddCredential(models.Credential{ExchangeID: binance.ID, IsService: true, IsActive: true})

	// no credential
	store.AddExchange(exchangeRow("KRAKEN"))

	// credential is not a service credential
	kucoin := store.AddExchange(exchangeRow("KUCOIN"))
	store.AddCredential(models.Credential{ExchangeID: kucoin.ID, IsService: false, IsActive: true})

	// no adapter
	unknown := store.AddExchange(exchangeRow("BITFINEX"))
	store.AddCredential(models.Credential{ExchangeID: unknown.ID, IsService: true, IsActive: true})

	inactive := exchangeRow("OKX")
	inactive.IsActive = false
	store.AddExchange(inactive)

	entries, err := New(store, exchange.DefaultTable, quietLogger()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BINANCE", entries[0].Exchange.Code)
	assert.Equal(t, "https://public.example", entries[0].BaseURL)
	assert.NotNil(t, entries[0].Adapter)
}

func TestLoadPrefersPrivateBaseURL(t *testing.T) {
	store := memstore.New()
	row := exchangeRow("KRAKEN")
	row.BaseURLPrivate = "https://private.example"
	ex := store.AddExchange(row)
	store.AddCredential(models.Credential{ExchangeID: ex.ID, IsService: true, IsActive: true})

	entries, err := New(store, exchange.DefaultTable, quietLogger()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://private.example", entries[0].BaseURL)
}

func TestLoadSkipsMissingBaseURL(t *testing.T) {
	store := memstore.New()
	row := exchangeRow("BINANCE")
	row.BaseURLPublic = ""
	ex := store.AddExchange(row)
	store.AddCredential(models.Credential{ExchangeID: ex.ID, IsService: true, IsActive: true})

	entries, err := New(store, exchange.DefaultTable, quietLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Exchange), args.Error(1)
}

func (m *MockStore) GetServiceCredential(ctx context.Context, exchangeID uuid.UUID) (*models.Credential, error) {
	args := m.Called(ctx, exchangeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func TestLoadPropagatesListError(t *testing.T) {
	store := new(MockStore)
	store.On("ListExchanges", mock.Anything).Return(nil, errors.New("db down"))

	_, err := New(store, exchange.DefaultTable, quietLogger()).Load(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestFingerprintTracksKindInterval(t *testing.T) {
	entry := Entry{Exchange: exchangeRow("BINANCE"), BaseURL: "https://a"}
	before := entry.Fingerprint(models.KindSymbols)

	entry.Exchange.PricesIntervalMin = 5
	assert.Equal(t, before, entry.Fingerprint(models.KindSymbols))

	entry.Exchange.SymbolsIntervalMin = 30
	assert.NotEqual(t, before, entry.Fingerprint(models.KindSymbols))
}
