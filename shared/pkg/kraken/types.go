package kraken

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Envelope is Kraken's common response wrapper; a non-empty Error list means
// the call failed even with HTTP 200.
type Envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type AssetPair struct {
	Altname      string              `json:"altname"`
	Wsname       string              `json:"wsname"`
	Base         string              `json:"base"`
	Quote        string              `json:"quote"`
	PairDecimals *int                `json:"pair_decimals"`
	LotDecimals  *int                `json:"lot_decimals"`
	CostDecimals *int                `json:"cost_decimals"`
	Fees         [][]decimal.Decimal `json:"fees"`
	FeesMaker    [][]decimal.Decimal `json:"fees_maker"`
	OrderMin     string              `json:"ordermin"`
	CostMin      string              `json:"costmin"`
	TickSize     string              `json:"tick_size"`
	Status       string              `json:"status"`
}

type Ticker struct {
	Ask       []string `json:"a"`
	Bid       []string `json:"b"`
	LastTrade []string `json:"c"`
	Volume    []string `json:"v"`
}
