package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 10 * time.Second

// APIError is returned for every failed vendor call: transport failure,
// timeout, non-2xx status or an undecodable body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.Path, e.Err)
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RateLimit  *RateLimiter
	Headers    map[string]string
}

type Client struct {
	client  *resty.Client
	limiter *RateLimiter
	logger  *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *Client {
	client := resty.New()

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(config.RetryCount)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.SetHeader("Accept", "application/json")
	if len(config.Headers) > 0 {
		client.SetHeaders(config.Headers)
	}

	return &Client{
		client:  client,
		limiter: config.RateLimit,
		logger:  logger,
	}
}

// R returns a request bound to ctx after waiting for the rate limiter.
func (c *Client) R(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.client.R().SetContext(ctx), nil
}

// Do executes req against path and returns the raw body of a 2xx response.
func (c *Client) Do(req *resty.Request, method, path string) ([]byte, error) {
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		apiErr := &APIError{Method: method, Path: path, Err: err, Timeout: isTimeout(err)}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Warn("Vendor request failed")
		return nil, apiErr
	}

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Vendor request completed")

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}

	return resp.Body(), nil
}

// GetJSON performs a GET and decodes the body into out. The raw body is
// returned for traceability.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out interface{}) ([]byte, error) {
	req, err := c.R(ctx)
	if err != nil {
		return nil, &APIError{Method: "GET", Path: path, Err: err, Timeout: isTimeout(err)}
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	return c.decode(req, "GET", path, out)
}

// DoJSON executes a prepared request and decodes the body into out.
func (c *Client) DoJSON(req *resty.Request, method, path string, out interface{}) ([]byte, error) {
	return c.decode(req, method, path, out)
}

func (c *Client) decode(req *resty.Request, method, path string, out interface{}) ([]byte, error) {
	body, err := c.Do(req, method, path)
	if err != nil {
		return nil, err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, &APIError{
				Method:     method,
				Path:       path,
				StatusCode: 200,
				Body:       string(body),
				Err:        fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
