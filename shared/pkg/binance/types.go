package binance

import "encoding/json"

type ExchangeInfo struct {
	Timezone   string      `json:"timezone"`
	ServerTime int64       `json:"serverTime"`
	RateLimits []RateLimit `json:"rateLimits"`
	Symbols    []Symbol    `json:"symbols"`
}

type RateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
}

type Symbol struct {
	Symbol             string            `json:"symbol"`
	Status             string            `json:"status"`
	BaseAsset          string            `json:"baseAsset"`
	BaseAssetPrecision *int              `json:"baseAssetPrecision"`
	QuoteAsset         string            `json:"quoteAsset"`
	QuotePrecision     *int              `json:"quotePrecision"`
	Filters            []json.RawMessage `json:"filters"`
}

// Filter is the union of the exchangeInfo filter shapes the adapters read.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	MaxNotional string `json:"maxNotional,omitempty"`
}

// FilterMap indexes a symbol's filters by filterType. Undecodable entries are
// skipped.
func (s Symbol) FilterMap() map[string]Filter {
	filters := make(map[string]Filter, len(s.Filters))
	for _, raw := range s.Filters {
		var f Filter
		if err := json.Unmarshal(raw, &f); err != nil || f.FilterType == "" {
			continue
		}
		filters[f.FilterType] = f
	}
	return filters
}

type Account struct {
	MakerCommission  int64 `json:"makerCommission"`
	TakerCommission  int64 `json:"takerCommission"`
	BuyerCommission  int64 `json:"buyerCommission"`
	SellerCommission int64 `json:"sellerCommission"`
	CanTrade         bool  `json:"canTrade"`
	UpdateTime       int64 `json:"updateTime"`
}

type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}
