// Package memstore is an in-memory implementation of the repository used by
// behavioural tests and local runs without Postgres. Upserts are expressed as
// read-check-then-write under a single mutex.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/shopspring/decimal"
)

type limitKey struct {
	exchangeID   uuid.UUID
	limitType    string
	intervalUnit string
	intervalNum  int
}

type feeKey struct {
	exchangeID uuid.UUID
	symbolRef  uuid.UUID // uuid.Nil for venue-wide tiers
	threshold  string
}

type newsKey struct {
	publishedAt int64
	title       string
}

type Store struct {
	mu sync.Mutex

	exchanges   map[uuid.UUID]*models.Exchange
	credentials []models.Credential
	settings    []models.Setting

	symbols  map[uuid.UUID]*models.ExchangeSymbol
	limits   map[limitKey]*models.ExchangeLimit
	fees     map[feeKey]*models.ExchangeFee
	history  []models.StatusHistory
	ticks    []models.PriceTick
	news     []*models.NewsEvent
	newsKeys map[newsKey]int64
	// checked orders news by the sequence of its last backfill check.
	checked map[int64]int64
	checks  int64

	nextID int64
	now    func() time.Time

	// FailSave makes the next batch save fail, for transaction tests.
	FailSave error
}

func New() *Store {
	return &Store{
		exchanges: make(map[uuid.UUID]*models.Exchange),
		symbols:   make(map[uuid.UUID]*models.ExchangeSymbol),
		limits:    make(map[limitKey]*models.ExchangeLimit),
		fees:      make(map[feeKey]*models.ExchangeFee),
		newsKeys:  make(map[newsKey]int64),
		checked:   make(map[int64]int64),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for fetched_at and created_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddExchange stores ex, assigning an id when it has none.
func (s *Store) AddExchange(ex models.Exchange) models.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	s.exchanges[ex.ID] = &ex
	return ex
}

// UpdateExchange replaces a stored exchange, keeping refresh stamps.
func (s *Store) UpdateExchange(ex models.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.exchanges[ex.ID]; ok {
		ex.LastSymbolsRefreshAt = old.LastSymbolsRefreshAt
		ex.LastLimitsRefreshAt = old.LastLimitsRefreshAt
		ex.LastFeesRefreshAt = old.LastFeesRefreshAt
		ex.LastPricesRefreshAt = old.LastPricesRefreshAt
	}
	s.exchanges[ex.ID] = &ex
}

func (s *Store) DeleteExchange(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exchanges, id)
}

func (s *Store) AddCredential(c models.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.credentials = append(s.credentials, c)
}

func (s *Store) PutSetting(setting models.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setting.UpdatedAt = s.now()
	s.settings = append(s.settings, setting)
}

// AddPriceTick appends a tick directly, bypassing audit bookkeeping.
func (s *Store) AddPriceTick(t models.PriceTick) models.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.ticks = append(s.ticks, t)
	return t
}

func (s *Store) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Exchange, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		out = append(out, *ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetExchangeByCode(ctx context.Context, code string) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.exchanges {
		if ex.Code == code {
			cp := *ex
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) GetServiceCredential(ctx context.Context, exchangeID uuid.UUID) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.credentials) - 1; i >= 0; i-- {
		c := s.credentials[i]
		if c.ExchangeID == exchangeID && c.IsService && c.IsActive {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) GetSetting(ctx context.Context, serviceNames []string, key string) (*models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Setting
	for i := range s.settings {
		setting := s.settings[i]
		if setting.Key != key || !contains(serviceNames, setting.ServiceName) {
			continue
		}
		if found == nil || !setting.UpdatedAt.Before(found.UpdatedAt) {
			found = &setting
		}
	}
	return found, nil
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }

func (s *Store) checkFail() error {
	if err := s.FailSave; err != nil {
		s.FailSave = nil
		return err
	}
	return nil
}

func (s *Store) touch(exchangeID uuid.UUID, kind models.JobKind, at time.Time) error {
	ex, ok := s.exchanges[exchangeID]
	if !ok {
		return fmt.Errorf("exchange %s does not exist", exchangeID)
	}
	switch kind {
	case models.KindSymbols:
		ex.LastSymbolsRefreshAt = &at
	case models.KindLimits:
		ex.LastLimitsRefreshAt = &at
	case models.KindFees:
		ex.LastFeesRefreshAt = &at
	case models.KindPrices:
		ex.LastPricesRefreshAt = &at
	}
	return nil
}

func (s *Store) appendStatus(audit models.StatusHistory, at time.Time) {
	audit.ID = s.id()
	audit.CreatedAt = at
	s.history = append(s.history, audit)
}

func (s *Store) SaveSymbols(ctx context.Context, exchangeID uuid.UUID, symbols []models.ExchangeSymbol, audit models.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	now := s.now()
	if err := s.touch(exchangeID, models.KindSymbols, now); err != nil {
		return err
	}

	for _, sym := range symbols {
		existing := s.findSymbol(exchangeID, sym.SymbolID)
		if existing != nil {
			sym.ID = existing.ID
		} else {
			sym.ID = uuid.New()
		}
		sym.ExchangeID = exchangeID
		sym.FetchedAt = now
		s.symbols[sym.ID] = &sym
	}
	s.appendStatus(audit, now)
	return nil
}

func (s *Store) SaveLimits(ctx context.Context, exchangeID uuid.UUID, limits []models.ExchangeLimit, audit models.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	now := s.now()
	if err := s.touch(exchangeID, models.KindLimits, now); err != nil {
		return err
	}

	for _, l := range limits {
		key := limitKey{exchangeID, l.LimitType, l.IntervalUnit, l.IntervalNum}
		if existing, ok := s.limits[key]; ok {
			l.ID = existing.ID
		} else {
			l.ID = s.id()
		}
		l.ExchangeID = exchangeID
		l.FetchedAt = now
		s.limits[key] = &l
	}
	s.appendStatus(audit, now)
	return nil
}

func (s *Store) SaveFees(ctx context.Context, exchangeID uuid.UUID, fees []models.ExchangeFee, audit models.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	now := s.now()
	if err := s.touch(exchangeID, models.KindFees, now); err != nil {
		return err
	}

	for _, f := range fees {
		key := feeKey{exchangeID: exchangeID, threshold: f.VolumeThreshold.String()}
		if f.SymbolRef != nil {
			key.symbolRef = *f.SymbolRef
		}
		if existing, ok := s.fees[key]; ok {
			f.ID = existing.ID
		} else {
			f.ID = s.id()
		}
		f.ExchangeID = exchangeID
		f.FetchedAt = now
		s.fees[key] = &f
	}
	s.appendStatus(audit, now)
	return nil
}

func (s *Store) SavePriceTicks(ctx context.Context, exchangeID uuid.UUID, ticks []models.PriceTick, audit models.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail(); err != nil {
		return err
	}
	for _, t := range ticks {
		if _, ok := s.symbols[t.SymbolRef]; !ok {
			return fmt.Errorf("price tick references unknown symbol %s", t.SymbolRef)
		}
	}
	now := s.now()
	if err := s.touch(exchangeID, models.KindPrices, now); err != nil {
		return err
	}

	for _, t := range ticks {
		t.ID = s.id()
		t.ExchangeID = exchangeID
		s.ticks = append(s.ticks, t)
	}
	s.appendStatus(audit, now)
	return nil
}

func (s *Store) RecordStatus(ctx context.Context, audit models.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendStatus(audit, s.now())
	return nil
}

func (s *Store) findSymbol(exchangeID uuid.UUID, symbolID string) *models.ExchangeSymbol {
	for _, sym := range s.symbols {
		if sym.ExchangeID == exchangeID && sym.SymbolID == symbolID {
			return sym
		}
	}
	return nil
}

func (s *Store) EnsureSymbol(ctx context.Context, exchangeID uuid.UUID, symbol models.ExchangeSymbol) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findSymbol(exchangeID, symbol.SymbolID); existing != nil {
		return existing.ID, nil
	}
	symbol.ID = uuid.New()
	symbol.ExchangeID = exchangeID
	symbol.FetchedAt = s.now()
	s.symbols[symbol.ID] = &symbol
	return symbol.ID, nil
}

func (s *Store) SymbolRefs(ctx context.Context, exchangeID uuid.UUID) (map[string]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]uuid.UUID)
	for _, sym := range s.symbols {
		if sym.ExchangeID == exchangeID {
			refs[sym.SymbolID] = sym.ID
		}
	}
	return refs, nil
}

func (s *Store) FindSymbolRef(ctx context.Context, exchangeCode, symbolID string) (*uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.exchanges {
		if ex.Code != exchangeCode {
			continue
		}
		if sym := s.findSymbol(ex.ID, symbolID); sym != nil {
			id := sym.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (s *Store) InsertNews(ctx context.Context, n models.NewsEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := newsKey{n.PublishedAt.UnixNano(), n.Title}
	if _, ok := s.newsKeys[key]; ok {
		return false, nil
	}
	n.ID = s.id()
	n.CreatedAt = s.now()
	s.newsKeys[key] = n.ID
	s.news = append(s.news, &n)
	return true, nil
}

func (s *Store) PendingNewsPrices(ctx context.Context, since time.Time, limit int) ([]models.NewsEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NewsEvent
	for _, n := range s.sortedNews(false) {
		if n.SymbolRef == nil || n.PublishedAt.Before(since) || !n.NeedsPrices() {
			continue
		}
		out = append(out, *n)
	}
	// Never-checked first, then least recently checked; newest first on ties.
	sort.SliceStable(out, func(i, j int) bool {
		return s.checked[out[i].ID] < s.checked[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateNewsPrices(ctx context.Context, id int64, p models.NewsPrices) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.newsByID(id)
	if n == nil {
		return nil
	}
	s.checks++
	s.checked[id] = s.checks
	coalesce(&n.PriceBefore, p.PriceBefore)
	coalesce(&n.PriceAfter1h, p.PriceAfter1h)
	coalesce(&n.PriceAfter6h, p.PriceAfter6h)
	coalesce(&n.PriceAfter24h, p.PriceAfter24h)
	coalesce(&n.PctChange1h, p.PctChange1h)
	coalesce(&n.PctChange6h, p.PctChange6h)
	coalesce(&n.PctChange24h, p.PctChange24h)
	return nil
}

func coalesce(dst *decimal.NullDecimal, v decimal.NullDecimal) {
	if !dst.Valid && v.Valid {
		*dst = v
	}
}

func (s *Store) SentimentSince(ctx context.Context, since time.Time) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var scores []float64
	for _, n := range s.news {
		if !n.PublishedAt.Before(since) {
			scores = append(scores, n.Sentiment)
		}
	}
	return scores, nil
}

func (s *Store) TickAtOrBefore(ctx context.Context, symbolRef uuid.UUID, target, notBefore time.Time) (*models.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PriceTick
	for i := range s.ticks {
		t := &s.ticks[i]
		if t.SymbolRef != symbolRef || t.Timestamp.After(target) || t.Timestamp.Before(notBefore) {
			continue
		}
		if best == nil || t.Timestamp.After(best.Timestamp) || (t.Timestamp.Equal(best.Timestamp) && t.ID < best.ID) {
			best = t
		}
	}
	return copyTick(best), nil
}

func (s *Store) TickAtOrAfter(ctx context.Context, symbolRef uuid.UUID, target, notAfter time.Time) (*models.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PriceTick
	for i := range s.ticks {
		t := &s.ticks[i]
		if t.SymbolRef != symbolRef || t.Timestamp.Before(target) || t.Timestamp.After(notAfter) {
			continue
		}
		if best == nil || t.Timestamp.Before(best.Timestamp) || (t.Timestamp.Equal(best.Timestamp) && t.ID < best.ID) {
			best = t
		}
	}
	return copyTick(best), nil
}

func copyTick(t *models.PriceTick) *models.PriceTick {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func (s *Store) ListSymbols(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeSymbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExchangeSymbol
	for _, sym := range s.symbols {
		if sym.ExchangeID == exchangeID {
			out = append(out, *sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SymbolID < out[j].SymbolID })
	return out, nil
}

func (s *Store) GetSymbol(ctx context.Context, exchangeID uuid.UUID, symbolID string) (*models.ExchangeSymbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sym := s.findSymbol(exchangeID, symbolID); sym != nil {
		cp := *sym
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (s *Store) ListLimits(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExchangeLimit
	for _, l := range s.limits {
		if l.ExchangeID == exchangeID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LimitType != b.LimitType {
			return a.LimitType < b.LimitType
		}
		if a.IntervalUnit != b.IntervalUnit {
			return a.IntervalUnit < b.IntervalUnit
		}
		return a.IntervalNum < b.IntervalNum
	})
	return out, nil
}

func (s *Store) ListFees(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeFee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExchangeFee
	for _, f := range s.fees {
		if f.ExchangeID == exchangeID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListStatusHistory(ctx context.Context, exchangeID uuid.UUID, limit int) ([]models.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusHistory
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].ExchangeID == exchangeID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func (s *Store) ListPriceTicks(ctx context.Context, symbolRef uuid.UUID, from, to time.Time, limit int) ([]models.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceTick
	for _, t := range s.ticks {
		if t.SymbolRef == symbolRef && !t.Timestamp.Before(from) && !t.Timestamp.After(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) LatestPriceTick(ctx context.Context, symbolRef uuid.UUID) (*models.PriceTick, error) {
	ticks, _ := s.ListPriceTicks(ctx, symbolRef, time.Time{}, time.Unix(1<<40, 0), 1)
	if len(ticks) == 0 {
		return nil, database.ErrNotFound
	}
	return &ticks[0], nil
}

func (s *Store) ListNews(ctx context.Context, limit, offset int) ([]models.NewsEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedNews(false)
	var out []models.NewsEvent
	for i := offset; i < len(sorted) && len(out) < limit; i++ {
		out = append(out, *sorted[i])
	}
	return out, nil
}

func (s *Store) GetNews(ctx context.Context, id int64) (*models.NewsEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.newsByID(id); n != nil {
		cp := *n
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (s *Store) newsByID(id int64) *models.NewsEvent {
	for _, n := range s.news {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (s *Store) sortedNews(ascending bool) []*models.NewsEvent {
	out := append([]*models.NewsEvent(nil), s.news...)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out
}

// StatusHistory returns every audit row in insertion order.
func (s *Store) StatusHistory() []models.StatusHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatusHistory(nil), s.history...)
}

// Ticks returns every stored price tick in insertion order.
func (s *Store) Ticks() []models.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceTick(nil), s.ticks...)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
