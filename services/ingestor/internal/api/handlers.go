package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultLimit   = 100
	maxLimit       = 1000
	defaultHistory = 50
	defaultRange   = 24 * time.Hour
)

// LatestPriceResponse reports where the price was read from.
type LatestPriceResponse struct {
	Exchange  string          `json:"exchange"`
	SymbolID  string          `json:"symbol_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"ts"`
	Source    string          `json:"source"`
}

func (s *Server) listExchanges(c *gin.Context) {
	exchanges, err := s.store.ListExchanges(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, exchanges)
}

func (s *Server) exchange(c *gin.Context) (*models.Exchange, bool) {
	code := strings.ToUpper(c.Param("code"))
	ex, err := s.store.GetExchangeByCode(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrExchangeNotFound
		}
		c.Error(err)
		return nil, false
	}
	return ex, true
}

func (s *Server) symbol(c *gin.Context, ex *models.Exchange) (*models.ExchangeSymbol, bool) {
	sym, err := s.store.GetSymbol(c.Request.Context(), ex.ID, c.Param("symbolId"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrSymbolNotFound
		}
		c.Error(err)
		return nil, false
	}
	return sym, true
}

func (s *Server) listSymbols(c *gin.Context) {
	ex, found := s.exchange(c)
	if !found {
		return
	}
	symbols, err := s.store.ListSymbols(c.Request.Context(), ex.ID)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, symbols)
}

func (s *Server) listLimits(c *gin.Context) {
	ex, found := s.exchange(c)
	if !found {
		return
	}
	limits, err := s.store.ListLimits(c.Request.Context(), ex.ID)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, limits)
}

func (s *Server) listFees(c *gin.Context) {
	ex, found := s.exchange(c)
	if !found {
		return
	}
	fees, err := s.store.ListFees(c.Request.Context(), ex.ID)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, fees)
}

func (s *Server) listStatusHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultHistory)
	if err != nil || limit <= 0 {
		c.Error(ErrInvalidLimit)
		return
	}
	ex, found := s.exchange(c)
	if !found {
		return
	}
	history, err := s.store.ListStatusHistory(c.Request.Context(), ex.ID, min(limit, maxLimit))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, history)
}

func (s *Server) listPrices(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil || limit <= 0 {
		c.Error(ErrInvalidLimit)
		return
	}
	from, to, err := timeRange(c, time.Now().UTC())
	if err != nil {
		c.Error(ErrInvalidTime)
		return
	}

	ex, found := s.exchange(c)
	if !found {
		return
	}
	sym, found := s.symbol(c, ex)
	if !found {
		return
	}

	ticks, err := s.store.ListPriceTicks(c.Request.Context(), sym.ID, from, to, min(limit, maxLimit))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, ticks)
}

// latestPrice serves from the cache when possible and falls back to the
// newest stored tick.
func (s *Server) latestPrice(c *gin.Context) {
	ctx := c.Request.Context()
	ex, found := s.exchange(c)
	if !found {
		return
	}
	symbolID := c.Param("symbolId")

	if s.prices != nil {
		cached, err := s.prices.GetLatest(ctx, ex.Code, symbolID)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"exchange": ex.Code,
				"symbol":   symbolID,
			}).Warn("Price cache read failed, falling back to store")
		}
		if cached != nil {
			ok(c, http.StatusOK, LatestPriceResponse{
				Exchange:  ex.Code,
				SymbolID:  symbolID,
				Price:     cached.Price,
				Timestamp: cached.Timestamp,
				Source:    "cache",
			})
			return
		}
	}

	sym, found := s.symbol(c, ex)
	if !found {
		return
	}
	tick, err := s.store.LatestPriceTick(ctx, sym.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrNoPrice
		}
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, LatestPriceResponse{
		Exchange:  ex.Code,
		SymbolID:  symbolID,
		Price:     tick.Price,
		Timestamp: tick.Timestamp,
		Source:    "store",
	})
}

func (s *Server) listNews(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil || limit <= 0 {
		c.Error(ErrInvalidLimit)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.Error(ErrInvalidOffset)
		return
	}

	events, err := s.store.ListNews(c.Request.Context(), min(limit, maxLimit), offset)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, events)
}

func (s *Server) getNews(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(ErrInvalidID)
		return
	}
	event, err := s.store.GetNews(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrNewsNotFound
		}
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, event)
}

func (s *Server) getSignal(c *gin.Context) {
	signal, err := s.signal.ComputeSignal(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, signal)
}

func (s *Server) listJobs(c *gin.Context) {
	if s.jobs == nil {
		c.Error(ErrJobsUnavailable)
		return
	}
	ok(c, http.StatusOK, s.jobs.Jobs())
}

func (s *Server) runJob(c *gin.Context) {
	if s.jobs == nil {
		c.Error(ErrJobsUnavailable)
		return
	}
	id := c.Param("id")
	if err := s.jobs.RunNow(id); err != nil {
		c.Error(err)
		return
	}
	s.logger.WithField("job_id", id).Info("Job triggered via API")
	ok(c, http.StatusAccepted, gin.H{"job_id": id})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// timeRange parses from/to, defaulting to the last day ending at now.
func timeRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	to := now
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.Add(-defaultRange)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from after to")
	}
	return from, to, nil
}
