package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/paaavkata/crypto-ingest-core/shared/pkg/restclient"
	"github.com/sirupsen/logrus"
)

const BaseURL = "https://api.binance.com"

type Config struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	Timeout      time.Duration
	RecvWindowMs int
	RateLimit    int // requests per minute, 0 disables the limiter
}

type Client struct {
	rest       *restclient.Client
	apiKey     string
	apiSecret  string
	recvWindow int
	logger     *logrus.Logger
	now        func() time.Time
}

func NewClient(config Config, logger *logrus.Logger) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	recvWindow := config.RecvWindowMs
	if recvWindow <= 0 {
		recvWindow = 5000
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
		recvWindow: recvWindow,
		logger:     logger,
		now:        time.Now,
	}
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetExchangeInfo returns trading rules and rate limits along with the raw body.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, []byte, error) {
	var info ExchangeInfo
	raw, err := c.rest.GetJSON(ctx, "/api/v3/exchangeInfo", nil, &info)
	if err != nil {
		return nil, nil, err
	}

	c.logger.WithField("symbol_count", len(info.Symbols)).Debug("Fetched Binance exchange info")
	return &info, raw, nil
}

// GetAccount is a signed call; commissions are reported in basis points.
func (c *Client) GetAccount(ctx context.Context) (*Account, []byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, nil, fmt.Errorf("binance account endpoint requires api key and secret")
	}

	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := c.rest.R(ctx)
	if err != nil {
		return nil, nil, err
	}
	req.SetHeader("X-MBX-APIKEY", c.apiKey)
	req.SetQueryString(query)

	var account Account
	raw, err := c.rest.DoJSON(req, "GET", "/api/v3/account", &account)
	if err != nil {
		return nil, nil, err
	}
	return &account, raw, nil
}

// GetTickerPrices returns the last price of every symbol.
func (c *Client) GetTickerPrices(ctx context.Context) ([]TickerPrice, []byte, error) {
	var prices []TickerPrice
	raw, err := c.rest.GetJSON(ctx, "/api/v3/ticker/price", nil, &prices)
	if err != nil {
		return nil, nil, err
	}
	return prices, raw, nil
}
