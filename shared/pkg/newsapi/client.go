package newsapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/paaavkata/crypto-ingest-core/shared/pkg/restclient"
	"github.com/sirupsen/logrus"
)

const BaseURL = "https://newsapi.org"

type Source struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

type Article struct {
	Source      Source `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

type EverythingResponse struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
}

type Query struct {
	Q        string
	Language string
	SortBy   string
	PageSize int
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
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
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		rest: restclient.New(restclient.Config{
			BaseURL:    baseURL,
			Timeout:    timeout,
			RetryCount: 1,
			Headers:    map[string]string{"X-Api-Key": config.APIKey},
		}, logger),
		logger: logger,
	}
}

// Everything queries /v2/everything.
func (c *Client) Everything(ctx context.Context, q Query) ([]Article, error) {
	params := map[string]string{"q": q.Q}
	if q.Language != "" {
		params["language"] = q.Language
	}
	if q.SortBy != "" {
		params["sortBy"] = q.SortBy
	}
	if q.PageSize > 0 {
		params["pageSize"] = strconv.Itoa(q.PageSize)
	}

	var resp EverythingResponse
	if _, err := c.rest.GetJSON(ctx, "/v2/everything", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("newsapi error %s: %s", resp.Code, resp.Message)
	}

	c.logger.WithFields(logrus.Fields{
		"articles":      len(resp.Articles),
		"total_results": resp.TotalResults,
	}).Debug("Fetched news articles")
	return resp.Articles, nil
}
