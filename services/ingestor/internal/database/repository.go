package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

type Repository struct {
	db     *database.DB
	logger *logrus.Logger
}

func NewRepository(db *database.DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	r.logger.Info("Database schema is up to date")
	return nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

const exchangeColumns = `id, code, name, base_url_public, base_url_private,
        fetch_symbols_interval_min, fetch_limits_interval_min, fetch_fees_interval_min, fetch_prices_interval_min,
        request_timeout_ms, rate_limit_per_min, is_active,
        last_symbols_refresh_at, last_limits_refresh_at, last_fees_refresh_at, last_prices_refresh_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExchange(row rowScanner) (models.Exchange, error) {
	var (
		ex                    models.Exchange
		publicURL, privateURL sql.NullString
		rateLimit             sql.NullInt64
	)
	err := row.Scan(
		&ex.ID, &ex.Code, &ex.Name, &publicURL, &privateURL,
		&ex.SymbolsIntervalMin, &ex.LimitsIntervalMin, &ex.FeesIntervalMin, &ex.PricesIntervalMin,
		&ex.RequestTimeoutMs, &rateLimit, &ex.IsActive,
		&ex.LastSymbolsRefreshAt, &ex.LastLimitsRefreshAt, &ex.LastFeesRefreshAt, &ex.LastPricesRefreshAt,
	)
	if err != nil {
		return ex, err
	}
	ex.BaseURLPublic = publicURL.String
	ex.BaseURLPrivate = privateURL.String
	ex.RateLimitPerMin = int(rateLimit.Int64)
	return ex, nil
}

func (r *Repository) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []models.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func (r *Repository) GetExchangeByCode(ctx context.Context, code string) (*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE code = $1`

	ex, err := scanExchange(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exchange %s: %w", code, err)
	}
	return &ex, nil
}

// GetServiceCredential returns the newest active service credential, or nil
// when the exchange has none.
func (r *Repository) GetServiceCredential(ctx context.Context, exchangeID uuid.UUID) (*models.Credential, error) {
	query := `
        SELECT id, exchange_id, COALESCE(label, ''), COALESCE(api_key, ''), COALESCE(api_secret, ''),
               COALESCE(api_passphrase, ''), is_service, is_active
        FROM exchange_credentials
        WHERE exchange_id = $1 AND is_service AND is_active
        ORDER BY created_at DESC
        LIMIT 1
    `

	var c models.Credential
	err := r.db.QueryRowContext(ctx, query, exchangeID).Scan(
		&c.ID, &c.ExchangeID, &c.Label, &c.APIKey, &c.APISecret,
		&c.APIPassphrase, &c.IsService, &c.IsActive,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service credential: %w", err)
	}
	return &c, nil
}

// GetSetting returns the most recently updated value for key across the
// given service names, or nil when none is stored.
func (r *Repository) GetSetting(ctx context.Context, serviceNames []string, key string) (*models.Setting, error) {
	query := `
        SELECT service_name, key, value, value_type, updated_at
        FROM settings
        WHERE service_name = ANY($1) AND key = $2
        ORDER BY updated_at DESC
        LIMIT 1
    `

	var s models.Setting
	err := r.db.QueryRowContext(ctx, query, pq.Array(serviceNames), key).Scan(
		&s.ServiceName, &s.Key, &s.Value, &s.ValueType, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &s, nil
}
