package domain

import (
	"fmt"
	"strings"
)

// WalletId identifies an account. Zero is not a valid wallet.
type WalletId int64

// OrderId identifies an order for its whole life. Assigned by the caller.
type OrderId int64

// Asset is an asset symbol, e.g. "BTC".
type Asset string

// MarketId is "<base>/<quote>", e.g. "BTC/USDC".
type MarketId string

// Validate checks the "<base>/<quote>" shape with distinct non-empty sides.
func (m MarketId) Validate() error {
	base, quote, ok := strings.Cut(string(m), "/")
	if !ok || base == "" || quote == "" {
		return fmt.Errorf("invalid market id: %q", m)
	}
	if base == quote {
		return fmt.Errorf("market id with identical assets: %q", m)
	}
	return nil
}

func (m MarketId) BaseAsset() Asset {
	base, _, _ := strings.Cut(string(m), "/")
	return Asset(base)
}

func (m MarketId) QuoteAsset() Asset {
	_, quote, _ := strings.Cut(string(m), "/")
	return Asset(quote)
}
