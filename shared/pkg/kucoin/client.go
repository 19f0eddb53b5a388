package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/restclient"
	"github.com/sirupsen/logrus"
)

const (
	BaseURL    = "https://api.kucoin.com"
	SandboxURL = "https://openapi-sandbox.kucoin.com"
)

type Client struct {
	rest       *restclient.Client
	apiKey     string
	apiSecret  string
	passphrase string
	logger     *logrus.Logger
	now        func() time.Time
}

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
	Timeout    time.Duration
	RateLimit  int // requests per minute, 0 disables the limiter
}

func NewClient(config Config, logger *logrus.Logger) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
		if config.Sandbox {
			baseURL = SandboxURL
		}
	}

	return &Client{
		rest: restclient.New(restclient.Config{
			BaseURL:    baseURL,
			Timeout:    config.Timeout,
			RetryCount: 2,
			RateLimit:  restclient.PerMinute(config.RateLimit),
		}, logger),
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		passphrase: config.Passphrase,
		logger:     logger,
		now:        time.Now,
	}
}

// HasCredentials reports whether signed endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.apiSecret != "" && c.passphrase != ""
}

func (c *Client) generateSignature(timestamp, method, endpoint, body string) string {
	message := timestamp + method + endpoint + body
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) generatePassphraseSignature() string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(c.passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) setAuthHeaders(req *resty.Request, method, endpoint, body string) {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := c.generateSignature(timestamp, method, endpoint, body)
	passphraseSignature := c.generatePassphraseSignature()

	req.SetHeaders(map[string]string{
		"KC-API-KEY":         c.apiKey,
		"KC-API-SIGN":        signature,
		"KC-API-TIMESTAMP":   timestamp,
		"KC-API-PASSPHRASE":  passphraseSignature,
		"KC-API-KEY-VERSION": "2",
		"Content-Type":       "application/json",
	})
}

// get executes a GET and unwraps the {code,data,msg} envelope into out.
func (c *Client) get(ctx context.Context, endpoint string, signed bool, out interface{}) ([]byte, error) {
	req, err := c.rest.R(ctx)
	if err != nil {
		return nil, err
	}
	if signed {
		c.setAuthHeaders(req, "GET", endpoint, "")
	}

	var apiResp APIResponse
	raw, err := c.rest.DoJSON(req, "GET", endpoint, &apiResp)
	if err != nil {
		return nil, err
	}

	if apiResp.Code != codeSuccess {
		return nil, fmt.Errorf("API error %s: %s", apiResp.Code, apiResp.Msg)
	}

	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s data: %w", endpoint, err)
	}
	return raw, nil
}

func (c *Client) GetAllTickers(ctx context.Context) (*AllTickersResponse, []byte, error) {
	var tickersResp AllTickersResponse
	raw, err := c.get(ctx, "/api/v1/market/allTickers", false, &tickersResp)
	if err != nil {
		c.logger.WithError(err).Error("Failed to fetch all tickers")
		return nil, nil, fmt.Errorf("failed to fetch tickers: %w", err)
	}

	c.logger.WithField("ticker_count", len(tickersResp.Ticker)).Debug("Successfully fetched all tickers")
	return &tickersResp, raw, nil
}

func (c *Client) GetSymbols(ctx context.Context) ([]Symbol, []byte, error) {
	var symbols []Symbol
	raw, err := c.get(ctx, "/api/v2/symbols", false, &symbols)
	if err != nil {
		c.logger.WithError(err).Error("Failed to fetch symbols")
		return nil, nil, fmt.Errorf("failed to fetch symbols: %w", err)
	}

	c.logger.WithField("symbol_count", len(symbols)).Debug("Successfully fetched symbols")
	return symbols, raw, nil
}

// GetBaseFee returns the account's base spot fee rates. Requires credentials.
func (c *Client) GetBaseFee(ctx context.Context) (*BaseFee, []byte, error) {
	if !c.HasCredentials() {
		return nil, nil, fmt.Errorf("kucoin base-fee endpoint requires credentials")
	}

	var fee BaseFee
	raw, err := c.get(ctx, "/api/v1/base-fee", true, &fee)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch base fee: %w", err)
	}
	return &fee, raw, nil
}
