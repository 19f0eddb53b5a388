package database

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRepository(database.Wrap(db, logger), logger), mock
}

func TestSaveSymbolsCommitsBatchRefreshAndAudit(t *testing.T) {
	repo, mock := newMockRepository(t)
	exchangeID := uuid.New()

	symbols := []models.ExchangeSymbol{{
		SymbolID:   "BTCUSDT",
		Symbol:     "BTC/USDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		Status:     models.StatusTrading,
		StepSize:   decimal.NewNullDecimal(decimal.RequireFromString("0.0001")),
		IsActive:   true,
	}}
	audit := models.StatusHistory{ExchangeID: exchangeID, Event: "symbols_refresh", Status: models.AuditOK, Message: "1 symbols upserted, 0 rejected", OkCount: 1}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exchange_symbols")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exchanges SET last_symbols_refresh_at = now()")).
		WithArgs(exchangeID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exchange_status_history")).
		WithArgs(exchangeID, "symbols_refresh", "ok", "1 symbols upserted, 0 rejected", 1, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SaveSymbols(context.Background(), exchangeID, symbols, audit)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFeesRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	exchangeID := uuid.New()

	fees := []models.ExchangeFee{{
		VolumeThreshold: decimal.Zero,
		MakerFee:        decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
		TakerFee:        decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
	}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT uq_exchange_fee")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.SaveFees(context.Background(), exchangeID, fees, models.StatusHistory{ExchangeID: exchangeID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePriceTicksUsesMultiRowInsert(t *testing.T) {
	repo, mock := newMockRepository(t)
	exchangeID := uuid.New()
	ref := uuid.New()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ticks := []models.PriceTick{
		{SymbolRef: ref, Price: decimal.NewFromInt(100), Timestamp: ts},
		{SymbolRef: ref, Price: decimal.NewFromInt(101), Timestamp: ts.Add(time.Minute)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO price_ticks (exchange_id, symbol_ref, price, ts) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exchanges SET last_prices_refresh_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exchange_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SavePriceTicks(context.Background(), exchangeID, ticks, models.StatusHistory{ExchangeID: exchangeID})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewsReportsDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := models.NewsEvent{PublishedAt: published, Title: "Bitcoin rallies", Sentiment: 0.4}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (published_at, title) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (published_at, title) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inserted, err := repo.InsertNews(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertNews(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNewsPricesOnlyFillsNulls(t *testing.T) {
	repo, mock := newMockRepository(t)
	before := decimal.NewNullDecimal(decimal.NewFromInt(100))

	mock.ExpectExec(regexp.QuoteMeta("backfill_checked_at = now()")).
		WithArgs(int64(3), before, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateNewsPrices(context.Background(), 3, models.NewsPrices{PriceBefore: before})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingNewsPricesRotatesByLastCheck(t *testing.T) {
	repo, mock := newMockRepository(t)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY backfill_checked_at ASC NULLS FIRST, published_at DESC")).
		WithArgs(since, 50).
		WillReturnRows(sqlmock.NewRows(nil))

	events, err := repo.PendingNewsPrices(context.Background(), since, 50)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickAtOrBeforeMiss(t *testing.T) {
	repo, mock := newMockRepository(t)
	ref := uuid.New()
	target := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ts DESC, id ASC")).
		WithArgs(ref, target, target.Add(-5*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "exchange_id", "symbol_ref", "price", "ts"}))

	tick, err := repo.TickAtOrBefore(context.Background(), ref, target, target.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, tick)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetServiceCredential(t *testing.T) {
	repo, mock := newMockRepository(t)
	exchangeID := uuid.New()
	credID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE exchange_id = $1 AND is_service AND is_active")).
		WithArgs(exchangeID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "exchange_id", "label", "api_key", "api_secret", "api_passphrase", "is_service", "is_active"}).
			AddRow(credID.String(), exchangeID.String(), "svc", "key", "secret", "", true, true))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE exchange_id = $1 AND is_service AND is_active")).
		WithArgs(exchangeID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	cred, err := repo.GetServiceCredential(context.Background(), exchangeID)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "key", cred.APIKey)
	assert.Equal(t, credID, cred.ID)

	cred, err = repo.GetServiceCredential(context.Background(), exchangeID)
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExchangeByCodeNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM exchanges WHERE code = $1")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetExchangeByCode(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}
