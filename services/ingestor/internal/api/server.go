package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/cache"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/scheduler"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
)

// Store is the read side of the repository.
type Store interface {
	ListExchanges(ctx context.Context) ([]models.Exchange, error)
	GetExchangeByCode(ctx context.Context, code string) (*models.Exchange, error)
	ListSymbols(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeSymbol, error)
	GetSymbol(ctx context.Context, exchangeID uuid.UUID, symbolID string) (*models.ExchangeSymbol, error)
	ListLimits(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeLimit, error)
	ListFees(ctx context.Context, exchangeID uuid.UUID) ([]models.ExchangeFee, error)
	ListStatusHistory(ctx context.Context, exchangeID uuid.UUID, limit int) ([]models.StatusHistory, error)
	ListPriceTicks(ctx context.Context, symbolRef uuid.UUID, from, to time.Time, limit int) ([]models.PriceTick, error)
	LatestPriceTick(ctx context.Context, symbolRef uuid.UUID) (*models.PriceTick, error)
	ListNews(ctx context.Context, limit, offset int) ([]models.NewsEvent, error)
	GetNews(ctx context.Context, id int64) (*models.NewsEvent, error)
}

type PriceReader interface {
	GetLatest(ctx context.Context, exchange, symbolID string) (*cache.LatestPrice, error)
}

type Jobs interface {
	Jobs() []scheduler.JobInfo
	RunNow(id string) error
}

type SignalSource interface {
	ComputeSignal(ctx context.Context) (models.SentimentSignal, error)
}

// Probes serves the liveness and readiness endpoints.
type Probes interface {
	Handler() http.HandlerFunc
	ReadyHandler() http.HandlerFunc
}

type Config struct {
	Port           string
	RequestTimeout time.Duration
}

type Server struct {
	store  Store
	prices PriceReader
	jobs   Jobs
	signal SignalSource
	probes Probes
	cfg    Config
	logger *logrus.Logger
	http   *http.Server
}

// NewServer wires the router. prices, jobs and probes may be nil.
func NewServer(cfg Config, store Store, prices PriceReader, jobs Jobs, signal SignalSource, probes Probes, logger *logrus.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		store:  store,
		prices: prices,
		jobs:   jobs,
		signal: signal,
		probes: probes,
		cfg:    cfg,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandler(s.logger))
	r.Use(Timeout(s.cfg.RequestTimeout))

	if s.probes != nil {
		r.GET("/health", gin.WrapF(s.probes.Handler()))
		r.GET("/ready", gin.WrapF(s.probes.ReadyHandler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/exchanges", s.listExchanges)
		v1.GET("/exchanges/:code/symbols", s.listSymbols)
		v1.GET("/exchanges/:code/symbols/:symbolId/prices", s.listPrices)
		v1.GET("/exchanges/:code/symbols/:symbolId/price", s.latestPrice)
		v1.GET("/exchanges/:code/limits", s.listLimits)
		v1.GET("/exchanges/:code/fees", s.listFees)
		v1.GET("/exchanges/:code/status-history", s.listStatusHistory)

		v1.GET("/news", s.listNews)
		v1.GET("/news/signal", s.getSignal)
		v1.GET("/news/:id", s.getNews)

		v1.GET("/jobs", s.listJobs)
		v1.POST("/jobs/:id/run", s.runJob)
	}
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("port", s.cfg.Port).Info("Starting API server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.http.Shutdown(ctx)
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}
