package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
)

var (
	errMissingSymbolID = errors.New("missing symbol id")
	errMissingAssets   = errors.New("missing base or quote asset")
	errNoRates         = errors.New("fee tier has neither maker nor taker rate")
	errNonPositive     = errors.New("price must be positive")
)

func validateSymbol(s models.ExchangeSymbol) error {
	if strings.TrimSpace(s.SymbolID) == "" {
		return errMissingSymbolID
	}
	if strings.TrimSpace(s.BaseAsset) == "" || strings.TrimSpace(s.QuoteAsset) == "" {
		return errMissingAssets
	}
	return nil
}

func validateLimit(l models.ExchangeLimit) error {
	switch {
	case strings.TrimSpace(l.LimitType) == "":
		return errors.New("missing limit type")
	case strings.TrimSpace(l.IntervalUnit) == "":
		return errors.New("missing interval unit")
	case l.IntervalNum <= 0:
		return fmt.Errorf("interval count must be positive, got %d", l.IntervalNum)
	case l.Limit < 0:
		return fmt.Errorf("limit must not be negative, got %d", l.Limit)
	}
	return nil
}

func validateFee(f models.ExchangeFee) error {
	if f.VolumeThreshold.IsNegative() {
		return fmt.Errorf("volume threshold must not be negative, got %s", f.VolumeThreshold)
	}
	if !f.MakerFee.Valid && !f.TakerFee.Valid {
		return errNoRates
	}
	return nil
}

func validateQuote(q models.PriceQuote) error {
	if strings.TrimSpace(q.SymbolID) == "" {
		return errMissingSymbolID
	}
	if !q.Price.IsPositive() {
		return errNonPositive
	}
	return nil
}
