package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSymbolResolver struct {
	mock.Mock
}

func (m *MockSymbolResolver) EnsureSymbol(ctx context.Context, exchangeID uuid.UUID, symbol models.ExchangeSymbol) (uuid.UUID, error) {
	args := m.Called(ctx, exchangeID, symbol.SymbolID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// vendorServer serves fixed JSON bodies keyed by request path.
func vendorServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(code, baseURL string, cred *models.Credential) ClientConfig {
	return ClientConfig{
		Exchange: models.Exchange{
			ID:               uuid.New(),
			Code:             code,
			RequestTimeoutMs: 2000,
		},
		BaseURL:    baseURL,
		Credential: cred,
	}
}

func TestDefaultTableLookup(t *testing.T) {
	for _, code := range []string{"BINANCE", "kraken", "KuCoin"} {
		_, ok := DefaultTable.Lookup(code)
		assert.True(t, ok, code)
	}
	_, ok := DefaultTable.Lookup("BITFINEX")
	assert.False(t, ok)
}

func TestIngestErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"msg":"maintenance"}`)
	}))
	defer srv.Close()

	adapter := NewBinance(testConfig("BINANCE", srv.URL, nil), quietLogger())
	_, err := adapter.ListSymbols(context.Background())
	require.Error(t, err)

	var ie *IngestError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "BINANCE", ie.Exchange)
	assert.Equal(t, "list symbols", ie.Op)
	assert.Equal(t, http.StatusServiceUnavailable, ie.StatusCode)
}

func TestIngestErrorOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig("KRAKEN", srv.URL, nil)
	cfg.Exchange.RequestTimeoutMs = 50

	start := time.Now()
	_, err := NewKraken(cfg, quietLogger()).ListPrices(context.Background())
	require.Error(t, err)

	var ie *IngestError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Timeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMalformedPayloadIsIngestError(t *testing.T) {
	srv := vendorServer(t, map[string]string{"/api/v3/exchangeInfo": `{"symbols": "nope"`})

	_, err := NewBinance(testConfig("BINANCE", srv.URL, nil), quietLogger()).ListLimits(context.Background())
	var ie *IngestError
	assert.True(t, errors.As(err, &ie))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
