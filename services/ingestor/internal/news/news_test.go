package news

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/config"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database/memstore"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/newsapi"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticSettings config.NewsSettings

func (s staticSettings) News(ctx context.Context) config.NewsSettings {
	return config.NewsSettings(s)
}

func defaultSettings() staticSettings {
	return staticSettings{
		Query:           "bitcoin",
		Language:        "en",
		PageSize:        10,
		Blacklist:       []string{"reddit.com"},
		Keywords:        config.DefaultKeywords,
		HaltThreshold:   -0.5,
		LookbackHours:   3,
		PriceWindow:     5 * time.Minute,
		BackfillHorizon: 48 * time.Hour,
		BackfillBatch:   100,
		PriceExchange:   "BINANCE",
	}
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Everything(ctx context.Context, q newsapi.Query) ([]newsapi.Article, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]newsapi.Article), args.Error(1)
}

// keywordScorer scores -0.9 for anything mentioning "hack", 0.3 otherwise.
type keywordScorer struct{}

func (keywordScorer) Score(text string) float64 {
	if strings.Contains(strings.ToLower(text), "hack") {
		return -0.9
	}
	return 0.3
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSignal(ctx context.Context, signal models.SentimentSignal) error {
	return m.Called(ctx, signal).Error(0)
}

func (m *MockPublisher) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(store *memstore.Store, source Source, settings Settings, pub *MockPublisher) *Service {
	svc := NewService(store, source, settings, keywordScorer{}, nil, quietLogger())
	if pub != nil {
		svc.publisher = pub
	}
	svc.now = func() time.Time { return t0 }
	return svc
}

// seedSymbol creates BINANCE with a BTCUSDT symbol and returns its ref.
func seedSymbol(t *testing.T, store *memstore.Store) uuid.UUID {
	t.Helper()
	ex := store.AddExchange(models.Exchange{Code: "BINANCE", IsActive: true})
	ref, err := store.EnsureSymbol(context.Background(), ex.ID, models.ExchangeSymbol{
		SymbolID: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: models.StatusTrading,
	})
	require.NoError(t, err)
	return ref
}

func article(title, source, published string) newsapi.Article {
	return newsapi.Article{
		Title:       title,
		Description: "details",
		Source:      newsapi.Source{Name: source},
		URL:         "https://news.example/" + strings.ReplaceAll(title, " ", "-"),
		PublishedAt: published,
	}
}

func TestIngestDeduplicates(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	source := new(MockSource)
	source.On("Everything", mock.Anything, mock.MatchedBy(func(q newsapi.Query) bool {
		return q.Q == "bitcoin" && q.SortBy == "publishedAt" && q.PageSize == 10
	})).Return([]newsapi.Article{
		article("Bitcoin rallies", "CoinDesk", "2024-05-01T11:00:00Z"),
		article("Bitcoin rallies", "CoinDesk", "2024-05-01T11:00:00Z"),
	}, nil)

	svc := newTestService(store, source, defaultSettings(), nil)

	first, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 1, first.Duplicates)

	second, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)

	stored, err := store.ListNews(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "bitcoin", stored[0].Keyword)
	require.NotNil(t, stored[0].SymbolRef)
	assert.Equal(t, ref, *stored[0].SymbolRef)
	assert.Equal(t, models.NewsSymbolResolved, stored[0].State())
}

func TestIngestFiltersAndTruncates(t *testing.T) {
	store := memstore.New()
	seedSymbol(t, store)
	long := strings.Repeat("é", 600)
	source := new(MockSource)
	source.On("Everything", mock.Anything, mock.Anything).Return([]newsapi.Article{
		article("Bitcoin on reddit", "Reddit.com", "2024-05-01T11:00:00Z"),
		article("", "CoinDesk", "2024-05-01T11:00:00Z"),
		article("No date", "CoinDesk", ""),
		article("Exchange hack drains wallets", "Decrypt", "2024-05-01T10:00:00Z"),
		article(long, "Bloomberg", "2024-05-01T09:00:00Z"),
	}, nil)

	svc := newTestService(store, source, defaultSettings(), nil)
	result, err := svc.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Filtered)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Resolved)

	stored, err := store.ListNews(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	hack := stored[0]
	assert.Equal(t, "hack", hack.Keyword, "keyword mapped to no symbol leaves the event unresolved")
	assert.Nil(t, hack.SymbolRef)
	assert.Equal(t, -0.9, hack.Sentiment)

	assert.Len(t, []rune(stored[1].Title), 500)
}

func TestIngestWhitelist(t *testing.T) {
	store := memstore.New()
	source := new(MockSource)
	source.On("Everything", mock.Anything, mock.Anything).Return([]newsapi.Article{
		article("Ethereum upgrade", "CoinDesk", "2024-05-01T11:00:00Z"),
		article("Ethereum upgrade delayed", "Some Blog", "2024-05-01T11:00:00Z"),
	}, nil)

	settings := defaultSettings()
	settings.Whitelist = []string{"coindesk"}
	result, err := newTestService(store, source, settings, nil).Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Filtered)
}

func TestIngestSourceError(t *testing.T) {
	source := new(MockSource)
	source.On("Everything", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	_, err := newTestService(memstore.New(), source, defaultSettings(), nil).Ingest(context.Background())
	assert.ErrorContains(t, err, "rate limited")
}

func TestMatchKeywordFirstWins(t *testing.T) {
	keywords := []config.Keyword{{Keyword: "sec", Symbol: ""}, {Keyword: "bitcoin", Symbol: "BTCUSDT"}}

	kw, sym := matchKeyword(keywords, "SEC sues over Bitcoin ETF")
	assert.Equal(t, "sec", kw)
	assert.Empty(t, sym)

	kw, sym = matchKeyword(keywords, "Bitcoin hits new high")
	assert.Equal(t, "bitcoin", kw)
	assert.Equal(t, "BTCUSDT", sym)

	kw, _ = matchKeyword(keywords, "Markets are quiet")
	assert.Empty(t, kw)
}

func TestMatchKeywordPaddedTickersNeedWholeWords(t *testing.T) {
	kw, _ := matchKeyword(config.DefaultKeywords, "A new method for second-layer scaling")
	assert.Empty(t, kw)

	kw, sym := matchKeyword(config.DefaultKeywords, "ETH rallies as SEC's review stalls")
	assert.Equal(t, "eth", kw)
	assert.Equal(t, "ETHUSDT", sym)

	kw, sym = matchKeyword(config.DefaultKeywords, "Regulators: the SEC, again")
	assert.Equal(t, "sec", kw)
	assert.Empty(t, sym)

	kw, sym = matchKeyword(config.DefaultKeywords, "Ethereum upgrade ships")
	assert.Equal(t, "ethereum", kw)
	assert.Equal(t, "ETHUSDT", sym)
}

func tick(store *memstore.Store, ref uuid.UUID, at time.Time, price string) {
	store.AddPriceTick(models.PriceTick{SymbolRef: ref, Price: decimal.RequireFromString(price), Timestamp: at})
}

func insertEvent(t *testing.T, store *memstore.Store, ref uuid.UUID, published time.Time) models.NewsEvent {
	t.Helper()
	r := ref
	_, err := store.InsertNews(context.Background(), models.NewsEvent{PublishedAt: published, Title: "Bitcoin moves", SymbolRef: &r})
	require.NoError(t, err)
	events, err := store.ListNews(context.Background(), 1, 0)
	require.NoError(t, err)
	return events[0]
}

func TestNearestTickResolution(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	published := t0.Add(-25 * time.Hour)

	tick(store, ref, published.Add(-10*time.Minute), "100")
	tick(store, ref, published.Add(-4*time.Minute), "101")
	tick(store, ref, published.Add(3*time.Minute), "103")
	tick(store, ref, published.Add(61*time.Minute), "110")

	svc := newTestService(store, nil, defaultSettings(), nil)

	before, err := svc.priceBefore(context.Background(), ref, published, time.Hour)
	require.NoError(t, err)
	assert.True(t, before.Decimal.Equal(decimal.NewFromInt(101)), "latest tick at or before target")

	before, err = svc.priceBefore(context.Background(), ref, published.Add(-5*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, before.Decimal.Equal(decimal.NewFromInt(100)))

	after, err := svc.priceAfter(context.Background(), ref, published.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, after.Valid)
	assert.True(t, after.Decimal.Equal(decimal.NewFromInt(110)), "earliest tick at or after target")

	missing, err := svc.priceAfter(context.Background(), ref, published.Add(6*time.Hour), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, missing.Valid, "no tick inside the window stays null")
}

func TestNearestTickBeforeUsesLatestAtOrBefore(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	tick(store, ref, t0.Add(-10*time.Minute), "100")
	tick(store, ref, t0.Add(3*time.Minute), "103")

	svc := newTestService(store, nil, defaultSettings(), nil)
	before, err := svc.priceBefore(context.Background(), ref, t0, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, before.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestBackfillFillsAvailableOffsets(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	published := t0.Add(-7 * time.Hour)

	tick(store, ref, published.Add(-2*time.Minute), "100")
	tick(store, ref, published.Add(time.Hour+time.Minute), "102.5")
	event := insertEvent(t, store, ref, published)

	svc := newTestService(store, nil, defaultSettings(), nil)
	result, err := svc.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	got, err := store.GetNews(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, got.PriceBefore.Decimal.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.PriceAfter1h.Decimal.Equal(decimal.RequireFromString("102.5")))
	assert.True(t, got.PctChange1h.Decimal.Equal(decimal.RequireFromString("2.5")))
	assert.False(t, got.PriceAfter6h.Valid, "no tick near +6h")
	assert.False(t, got.PriceAfter24h.Valid, "+24h target is still in the future")
	assert.Equal(t, models.NewsPartiallyPriced, got.State())
}

func TestBackfillNeverOverwrites(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	published := t0.Add(-2 * time.Hour)
	tick(store, ref, published, "100")
	tick(store, ref, published.Add(time.Hour), "110")
	event := insertEvent(t, store, ref, published)

	svc := newTestService(store, nil, defaultSettings(), nil)
	_, err := svc.Backfill(context.Background())
	require.NoError(t, err)

	tick(store, ref, published.Add(-time.Second), "50")
	tick(store, ref, published.Add(time.Hour-time.Second), "60")
	_, err = svc.Backfill(context.Background())
	require.NoError(t, err)

	got, err := store.GetNews(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, got.PriceBefore.Decimal.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.PriceAfter1h.Decimal.Equal(decimal.NewFromInt(110)))
	assert.True(t, got.PctChange1h.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestBackfillBacklogDoesNotStarveNewEvents(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	insertEvent(t, store, ref, t0.Add(-41*time.Hour))
	insertEvent(t, store, ref, t0.Add(-40*time.Hour))

	published := t0.Add(-2 * time.Hour)
	tick(store, ref, published.Add(-time.Minute), "100")
	tick(store, ref, published.Add(61*time.Minute), "101")
	event := insertEvent(t, store, ref, published)

	settings := defaultSettings()
	settings.BackfillBatch = 2
	svc := newTestService(store, nil, settings, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Backfill(context.Background())
		require.NoError(t, err)
	}

	got, err := store.GetNews(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, got.PriceBefore.Decimal.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.PriceAfter1h.Decimal.Equal(decimal.NewFromInt(101)))
}

func TestBackfillRotatesUnpriceableEvents(t *testing.T) {
	store := memstore.New()
	ref := seedSymbol(t, store)
	first := insertEvent(t, store, ref, t0.Add(-30*time.Hour))
	second := insertEvent(t, store, ref, t0.Add(-20*time.Hour))

	settings := defaultSettings()
	settings.BackfillBatch = 1
	svc := newTestService(store, nil, settings, nil)

	result, err := svc.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Zero(t, result.Updated, "nothing to fill")

	pending, err := store.PendingNewsPrices(context.Background(), t0.Add(-48*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID, "checked event moves behind the unchecked one")

	_, err = svc.Backfill(context.Background())
	require.NoError(t, err)
	pending, err = store.PendingNewsPrices(context.Background(), t0.Add(-48*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func addSentiment(t *testing.T, store *memstore.Store, scores ...float64) {
	t.Helper()
	for i, score := range scores {
		_, err := store.InsertNews(context.Background(), models.NewsEvent{
			PublishedAt: t0.Add(-time.Duration(i+1) * 10 * time.Minute),
			Title:       "headline " + string(rune('a'+i)),
			Sentiment:   score,
		})
		require.NoError(t, err)
	}
}

func TestSignalHaltScenario(t *testing.T) {
	settings := defaultSettings()
	settings.HaltThreshold = -0.8

	store := memstore.New()
	addSentiment(t, store, -0.9, -0.85, -0.7)
	pub := new(MockPublisher)
	pub.On("PublishSignal", mock.Anything, mock.MatchedBy(func(s models.SentimentSignal) bool { return s.Halt })).Return(nil).Once()

	signal, err := newTestService(store, nil, settings, pub).PublishSignal(context.Background())
	require.NoError(t, err)
	assert.True(t, signal.Halt)
	assert.Equal(t, 3, signal.Count)
	assert.InDelta(t, -0.8167, signal.Mean, 1e-9)
	pub.AssertExpectations(t)

	replaced := memstore.New()
	addSentiment(t, replaced, -0.9, -0.85, 0.5)
	signal, err = newTestService(replaced, nil, settings, nil).ComputeSignal(context.Background())
	require.NoError(t, err)
	assert.False(t, signal.Halt)
}

func TestSignalIgnoresOldNewsAndEmptyWindow(t *testing.T) {
	store := memstore.New()
	_, err := store.InsertNews(context.Background(), models.NewsEvent{PublishedAt: t0.Add(-4 * time.Hour), Title: "old", Sentiment: -1})
	require.NoError(t, err)

	signal, err := newTestService(store, nil, defaultSettings(), nil).ComputeSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, signal.Count)
	assert.False(t, signal.Halt, "an empty window never halts")
}

func TestVaderScorer(t *testing.T) {
	scorer := NewVaderScorer()
	assert.Greater(t, scorer.Score("Bitcoin surges to a great record high, investors are happy"), 0.0)
	assert.Less(t, scorer.Score("Exchange hacked, terrible losses and panic"), 0.0)
}
