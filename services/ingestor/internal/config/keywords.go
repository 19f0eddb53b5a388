package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword maps a case-insensitive substring to a vendor symbol id. An empty
// Symbol marks the keyword as relevant for sentiment only. Surrounding spaces
// are kept and restrict the keyword to whole words.
type Keyword struct {
	Keyword string `yaml:"keyword" json:"keyword"`
	Symbol  string `yaml:"symbol" json:"symbol"`
}

// DefaultKeywords is evaluated in order; the first match wins. Short tickers
// are padded so "eth" does not fire on "method" or "sec" on "second".
var DefaultKeywords = []Keyword{
	{Keyword: "bitcoin", Symbol: "BTCUSDT"},
	{Keyword: " btc ", Symbol: "BTCUSDT"},
	{Keyword: "ethereum", Symbol: "ETHUSDT"},
	{Keyword: " eth ", Symbol: "ETHUSDT"},
	{Keyword: "binance", Symbol: "BNBUSDT"},
	{Keyword: "solana", Symbol: "SOLUSDT"},
	{Keyword: " sec ", Symbol: ""},
	{Keyword: "hack", Symbol: ""},
}

// ParseKeywords accepts either a sequence of {keyword, symbol} entries or a
// mapping of keyword to symbol. Mapping order is preserved. JSON input is
// valid YAML and parses the same way.
func ParseKeywords(data []byte) ([]Keyword, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse keywords: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	var keywords []Keyword
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keyword list: %w", err)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			keywords = append(keywords, Keyword{
				Keyword: root.Content[i].Value,
				Symbol:  root.Content[i+1].Value,
			})
		}
	default:
		return nil, fmt.Errorf("keywords must be a list or a mapping, got %s", kindName(root.Kind))
	}

	out := keywords[:0]
	for _, kw := range keywords {
		kw.Keyword = strings.ToLower(kw.Keyword)
		kw.Symbol = strings.TrimSpace(kw.Symbol)
		if strings.TrimSpace(kw.Keyword) == "" {
			continue
		}
		out = append(out, kw)
	}
	return out, nil
}

func LoadKeywordsFile(path string) ([]Keyword, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}
	return ParseKeywords(data)
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "unknown"
}
