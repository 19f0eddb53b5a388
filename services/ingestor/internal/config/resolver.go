package config

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Setting keys understood by the resolver.
const (
	KeyNewsQuery           = "NEWS_QUERY"
	KeyNewsLanguage        = "NEWS_LANGUAGE"
	KeyNewsPageSize        = "NEWS_PAGE_SIZE"
	KeyNewsBlacklist       = "NEWS_BLACKLIST_SOURCES"
	KeyNewsWhitelist       = "NEWS_WHITELIST_SOURCES"
	KeyNewsKeywords        = "NEWS_KEYWORDS"
	KeyNewsHaltThreshold   = "NEWS_HALT_THRESHOLD"
	KeyNewsLookbackHours   = "NEWS_LOOKBACK_HOURS"
	KeyNewsPriceWindow     = "NEWS_PRICE_WINDOW_MINUTES"
	KeyNewsBackfillHorizon = "NEWS_BACKFILL_HORIZON_HOURS"
	KeyNewsBackfillBatch   = "NEWS_BACKFILL_BATCH"
	KeyNewsPriceExchange   = "NEWS_PRICE_EXCHANGE"
)

// DefaultSettings are the documented fallbacks for every resolver key.
var DefaultSettings = map[string]string{
	KeyNewsQuery:           "bitcoin OR ethereum OR binance OR sec OR hack",
	KeyNewsLanguage:        "en",
	KeyNewsPageSize:        "10",
	KeyNewsBlacklist:       "reddit.com",
	KeyNewsWhitelist:       "",
	KeyNewsHaltThreshold:   "-0.5",
	KeyNewsLookbackHours:   "3",
	KeyNewsPriceWindow:     "5",
	KeyNewsBackfillHorizon: "48",
	KeyNewsBackfillBatch:   "500",
	KeyNewsPriceExchange:   "BINANCE",
}

// SettingsSource reads persisted overrides. A missing key is (nil, nil).
type SettingsSource interface {
	GetSetting(ctx context.Context, serviceNames []string, key string) (*models.Setting, error)
}

// NewsSettings is the resolved configuration for one correlation cycle.
type NewsSettings struct {
	Query           string
	Language        string
	PageSize        int
	Blacklist       []string
	Whitelist       []string
	Keywords        []Keyword
	HaltThreshold   float64
	LookbackHours   int
	PriceWindow     time.Duration
	BackfillHorizon time.Duration
	BackfillBatch   int
	PriceExchange   string
}

// Resolver layers configuration as: non-empty env > settings row > default.
type Resolver struct {
	serviceNames []string
	store        SettingsSource
	defaults     map[string]string
	keywords     []Keyword
	getenv       func(string) string
	logger       *logrus.Logger
}

func NewResolver(serviceName string, store SettingsSource, keywords []Keyword, logger *logrus.Logger) *Resolver {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	names := []string{serviceName}
	if alt := strings.TrimSpace(os.Getenv("SERVICE_NAME")); alt != "" && alt != serviceName {
		names = append(names, alt)
	}
	return &Resolver{
		serviceNames: names,
		store:        store,
		defaults:     DefaultSettings,
		keywords:     keywords,
		getenv:       os.Getenv,
		logger:       logger,
	}
}

// lookup returns the raw value, its declared type and the layer it came from.
func (r *Resolver) lookup(ctx context.Context, key string) (string, string, string) {
	if v := r.getenv(key); v != "" {
		return v, "str", "env"
	}

	if r.store != nil {
		setting, err := r.store.GetSetting(ctx, r.serviceNames, key)
		if err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("Failed to read setting, falling back to default")
		} else if setting != nil {
			return setting.Value, strings.ToLower(setting.ValueType), "settings"
		}
	}

	return r.defaults[key], "str", "default"
}

func (r *Resolver) String(ctx context.Context, key string) string {
	v, _, _ := r.lookup(ctx, key)
	return v
}

func (r *Resolver) Int(ctx context.Context, key string) int {
	v, vt, src := r.lookup(ctx, key)
	if vt == "float" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int(f)
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.invalid(key, v, src, "int")
		n, _ = strconv.Atoi(r.defaults[key])
	}
	return n
}

func (r *Resolver) Float(ctx context.Context, key string) float64 {
	v, _, src := r.lookup(ctx, key)
	f, err := utils.ParseFloat(strings.TrimSpace(v))
	if err != nil {
		r.invalid(key, v, src, "float")
		f, _ = strconv.ParseFloat(r.defaults[key], 64)
	}
	return f
}

// List accepts a JSON array or a comma separated string.
func (r *Resolver) List(ctx context.Context, key string) []string {
	v, vt, src := r.lookup(ctx, key)
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if vt == "json" || strings.HasPrefix(v, "[") {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
		r.invalid(key, v, src, "json list")
	}
	return splitList(v)
}

// Keywords resolves the ordered keyword list. Env and settings values are
// parsed with ParseKeywords; otherwise the file/default list applies.
func (r *Resolver) Keywords(ctx context.Context) []Keyword {
	v, _, src := r.lookup(ctx, KeyNewsKeywords)
	if strings.TrimSpace(v) == "" {
		return r.keywords
	}
	keywords, err := ParseKeywords([]byte(v))
	if err != nil || len(keywords) == 0 {
		r.invalid(KeyNewsKeywords, v, src, "keyword list")
		return r.keywords
	}
	return keywords
}

func (r *Resolver) News(ctx context.Context) NewsSettings {
	return NewsSettings{
		Query:           r.String(ctx, KeyNewsQuery),
		Language:        r.String(ctx, KeyNewsLanguage),
		PageSize:        r.Int(ctx, KeyNewsPageSize),
		Blacklist:       lowerAll(r.List(ctx, KeyNewsBlacklist)),
		Whitelist:       lowerAll(r.List(ctx, KeyNewsWhitelist)),
		Keywords:        r.Keywords(ctx),
		HaltThreshold:   r.Float(ctx, KeyNewsHaltThreshold),
		LookbackHours:   r.Int(ctx, KeyNewsLookbackHours),
		PriceWindow:     time.Duration(r.Int(ctx, KeyNewsPriceWindow)) * time.Minute,
		BackfillHorizon: time.Duration(r.Int(ctx, KeyNewsBackfillHorizon)) * time.Hour,
		BackfillBatch:   r.Int(ctx, KeyNewsBackfillBatch),
		PriceExchange:   strings.ToUpper(r.String(ctx, KeyNewsPriceExchange)),
	}
}

func (r *Resolver) invalid(key, value, source, want string) {
	r.logger.WithFields(logrus.Fields{
		"key":    key,
		"value":  value,
		"source": source,
		"want":   want,
	}).Warn("Ignoring unparsable setting")
}

func lowerAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return values
}
