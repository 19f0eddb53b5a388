package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paaavkata/crypto-ingest-core/shared/pkg/restclient"
	"github.com/sirupsen/logrus"
)

const BaseURL = "https://api.kraken.com"

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute, 0 disables the limiter
}

type Client struct {
	rest   *restclient.Client
	logger *logrus.Logger
}

func NewClient(config Config, logger *logrus.Logger) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Client{
		rest: restclient.New(restclient.Config{
			BaseURL:    baseURL,
			Timeout:    config.Timeout,
			RetryCount: 2,
			RateLimit:  restclient.PerMinute(config.RateLimit),
		}, logger),
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) ([]byte, error) {
	var env Envelope
	raw, err := c.rest.GetJSON(ctx, path, query, &env)
	if err != nil {
		return nil, err
	}

	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken %s: %s", path, strings.Join(env.Error, "; "))
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kraken %s result: %w", path, err)
	}
	return raw, nil
}

// GetAssetPairs returns every tradable pair keyed by Kraken's pair id.
func (c *Client) GetAssetPairs(ctx context.Context) (map[string]AssetPair, []byte, error) {
	pairs := make(map[string]AssetPair)
	raw, err := c.get(ctx, "/0/public/AssetPairs", nil, &pairs)
	if err != nil {
		return nil, nil, err
	}

	c.logger.WithField("pair_count", len(pairs)).Debug("Fetched Kraken asset pairs")
	return pairs, raw, nil
}

// GetTickers returns tickers for the given pairs, or for every pair when
// none are given.
func (c *Client) GetTickers(ctx context.Context, pairs ...string) (map[string]Ticker, []byte, error) {
	var query map[string]string
	if len(pairs) > 0 {
		query = map[string]string{"pair": strings.Join(pairs, ",")}
	}

	tickers := make(map[string]Ticker)
	raw, err := c.get(ctx, "/0/public/Ticker", query, &tickers)
	if err != nil {
		return nil, nil, err
	}
	return tickers, raw, nil
}
