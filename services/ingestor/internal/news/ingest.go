package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/config"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/newsapi"
	"github.com/sirupsen/logrus"
)

const (
	maxTitleLen   = 500
	maxSummaryLen = 1000
)

type IngestResult struct {
	Fetched    int `json:"fetched"`
	Filtered   int `json:"filtered"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Resolved   int `json:"resolved"`
}

// Ingest fetches the latest articles and stores the new ones with their
// sentiment and resolved symbol.
func (s *Service) Ingest(ctx context.Context) (IngestResult, error) {
	start := time.Now()
	settings := s.settings.News(ctx)

	articles, err := s.source.Everything(ctx, newsapi.Query{
		Q:        settings.Query,
		Language: settings.Language,
		SortBy:   "publishedAt",
		PageSize: settings.PageSize,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to fetch news: %w", err)
	}

	result := IngestResult{Fetched: len(articles)}
	refs := make(map[string]*uuid.UUID)

	for _, a := range articles {
		event, ok := s.toEvent(a, settings)
		if !ok {
			result.Filtered++
			continue
		}

		keyword, symbolID := matchKeyword(settings.Keywords, event.Title+" "+event.Summary)
		event.Keyword = keyword
		if symbolID != "" {
			ref, err := s.symbolRef(ctx, refs, settings.PriceExchange, symbolID)
			if err != nil {
				return result, err
			}
			event.SymbolRef = ref
		}

		inserted, err := s.store.InsertNews(ctx, event)
		if err != nil {
			return result, fmt.Errorf("failed to store news: %w", err)
		}
		if !inserted {
			result.Duplicates++
			continue
		}
		result.Inserted++
		if event.SymbolRef != nil {
			result.Resolved++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"fetched":     result.Fetched,
		"filtered":    result.Filtered,
		"inserted":    result.Inserted,
		"duplicates":  result.Duplicates,
		"resolved":    result.Resolved,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("News ingest completed")
	return result, nil
}

func (s *Service) toEvent(a newsapi.Article, settings config.NewsSettings) (models.NewsEvent, bool) {
	title := strings.TrimSpace(a.Title)
	if title == "" || a.PublishedAt == "" {
		return models.NewsEvent{}, false
	}
	if !sourceAllowed(a, settings.Blacklist, settings.Whitelist) {
		return models.NewsEvent{}, false
	}

	published, err := time.Parse(time.RFC3339, a.PublishedAt)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"published_at": a.PublishedAt,
			"title":        title,
		}).Debug("Skipping article with unparsable timestamp")
		return models.NewsEvent{}, false
	}

	title = truncate(title, maxTitleLen)
	summary := truncate(strings.TrimSpace(a.Description), maxSummaryLen)
	source := a.Source.Name
	if source == "" {
		source = "newsapi"
	}

	return models.NewsEvent{
		PublishedAt: published.UTC(),
		Title:       title,
		Summary:     summary,
		Source:      source,
		URL:         a.URL,
		Sentiment:   s.scorer.Score(title + " " + summary),
	}, true
}

func (s *Service) symbolRef(ctx context.Context, cache map[string]*uuid.UUID, exchangeCode, symbolID string) (*uuid.UUID, error) {
	if ref, ok := cache[symbolID]; ok {
		return ref, nil
	}
	ref, err := s.store.FindSymbolRef(ctx, exchangeCode, symbolID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve symbol %s: %w", symbolID, err)
	}
	if ref == nil {
		s.logger.WithFields(logrus.Fields{
			"exchange": exchangeCode,
			"symbol":   symbolID,
		}).Debug("News symbol not ingested on reference exchange")
	}
	cache[symbolID] = ref
	return ref, nil
}

// matchKeyword returns the first keyword found in text and its symbol.
// A keyword mapped to an empty symbol still wins but leaves the event
// unresolved. Matching is by substring over the text with punctuation folded
// to single spaces, so a keyword padded with spaces only matches whole words.
func matchKeyword(keywords []config.Keyword, text string) (string, string) {
	folded := " " + foldText(text) + " "
	for _, k := range keywords {
		needle := foldKeyword(k.Keyword)
		if strings.TrimSpace(needle) != "" && strings.Contains(folded, needle) {
			return strings.TrimSpace(k.Keyword), k.Symbol
		}
	}
	return "", ""
}

func foldText(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func foldKeyword(keyword string) string {
	folded := foldText(keyword)
	if strings.HasPrefix(keyword, " ") {
		folded = " " + folded
	}
	if strings.HasSuffix(keyword, " ") {
		folded += " "
	}
	return folded
}

func sourceAllowed(a newsapi.Article, blacklist, whitelist []string) bool {
	names := sourceNames(a)
	for _, b := range blacklist {
		if names[b] {
			return false
		}
	}
	if len(whitelist) == 0 {
		return true
	}
	for _, w := range whitelist {
		if names[w] {
			return true
		}
	}
	return false
}

// sourceNames are the lowercased identities an article can be filtered by.
func sourceNames(a newsapi.Article) map[string]bool {
	names := make(map[string]bool, 3)
	if a.Source.Name != "" {
		names[strings.ToLower(a.Source.Name)] = true
	}
	if a.Source.ID != nil && *a.Source.ID != "" {
		names[strings.ToLower(*a.Source.ID)] = true
	}
	if u, err := url.Parse(a.URL); err == nil && u.Host != "" {
		names[strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")] = true
	}
	return names
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
