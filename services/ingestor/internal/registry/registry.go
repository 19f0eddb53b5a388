package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/sirupsen/logrus"
)

type Store interface {
	ListExchanges(ctx context.Context) ([]models.Exchange, error)
	GetServiceCredential(ctx context.Context, exchangeID uuid.UUID) (*models.Credential, error)
}

// Entry is an exchange with a ready adapter.
type Entry struct {
	Exchange   models.Exchange
	Adapter    exchange.Adapter
	BaseURL    string
	Credential *models.Credential
}

// Fingerprint changes whenever a job of this kind must be rebuilt.
func (e Entry) Fingerprint(kind models.JobKind) string {
	credID := uuid.Nil
	if e.Credential != nil {
		credID = e.Credential.ID
	}
	return fmt.Sprintf("%d|%s|%s|%d|%d",
		e.Exchange.IntervalMinutes(kind), e.BaseURL, credID,
		e.Exchange.RequestTimeoutMs, e.Exchange.RateLimitPerMin)
}

type Registry struct {
	store  Store
	table  exchange.Table
	logger *logrus.Logger
}

func New(store Store, table exchange.Table, logger *logrus.Logger) *Registry {
	return &Registry{
		store:  store,
		table:  table,
		logger: logger,
	}
}

// Load returns every active exchange that can be polled. Exchanges without a
// base URL, service credential or adapter are skipped with a warning.
func (r *Registry) Load(ctx context.Context) ([]Entry, error) {
	exchanges, err := r.store.ListExchanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}

	entries := make([]Entry, 0, len(exchanges))
	for _, ex := range exchanges {
		log := r.logger.WithFields(logrus.Fields{
			"exchange":    ex.Code,
			"exchange_id": ex.ID,
		})

		if !ex.IsActive {
			log.Debug("Exchange inactive, not scheduling")
			continue
		}
		if err := ex.Validate(); err != nil {
			log.WithError(err).Warn("Invalid exchange configuration, skipping")
			continue
		}

		factory, ok := r.table.Lookup(ex.Code)
		if !ok {
			log.Warn("No adapter for exchange, skipping")
			continue
		}

		baseURL := ex.BaseURL()
		if baseURL == "" {
			log.Warn("Exchange has no base URL, skipping")
			continue
		}

		cred, err := r.store.GetServiceCredential(ctx, ex.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to load service credential, skipping")
			continue
		}
		if cred == nil {
			log.Warn("No active service credential, skipping")
			continue
		}

		entries = append(entries, Entry{
			Exchange:   ex,
			Adapter:    factory(exchange.ClientConfig{Exchange: ex, BaseURL: baseURL, Credential: cred}, r.logger),
			BaseURL:    baseURL,
			Credential: cred,
		})
	}
	return entries, nil
}
