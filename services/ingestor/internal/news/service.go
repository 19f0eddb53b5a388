package news

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/config"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/publisher"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/newsapi"
	"github.com/sirupsen/logrus"
)

type Store interface {
	InsertNews(ctx context.Context, n models.NewsEvent) (bool, error)
	FindSymbolRef(ctx context.Context, exchangeCode, symbolID string) (*uuid.UUID, error)
	PendingNewsPrices(ctx context.Context, since time.Time, limit int) ([]models.NewsEvent, error)
	UpdateNewsPrices(ctx context.Context, id int64, p models.NewsPrices) error
	SentimentSince(ctx context.Context, since time.Time) ([]float64, error)
	TickAtOrBefore(ctx context.Context, symbolRef uuid.UUID, target, notBefore time.Time) (*models.PriceTick, error)
	TickAtOrAfter(ctx context.Context, symbolRef uuid.UUID, target, notAfter time.Time) (*models.PriceTick, error)
}

// Source fetches raw articles from the news provider.
type Source interface {
	Everything(ctx context.Context, q newsapi.Query) ([]newsapi.Article, error)
}

// Settings resolves the tunables for one cycle.
type Settings interface {
	News(ctx context.Context) config.NewsSettings
}

// Service ingests news, correlates it with the price series and computes
// the advisory sentiment signal.
type Service struct {
	store     Store
	source    Source
	settings  Settings
	scorer    Scorer
	publisher publisher.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(store Store, source Source, settings Settings, scorer Scorer, pub publisher.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		store:     store,
		source:    source,
		settings:  settings,
		scorer:    scorer,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}
