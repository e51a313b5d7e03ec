package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/pkg/quant"
)

// Clearing walks estimate what a market order would do without touching
// the book. They feed percentage sizing, limit checks and bridged
// two-market orders. All walk best to worse and stop at the side
// watermark.

func (b *OrderBook) eachOffer(fn func(*OrderBookLevel) bool) {
	for lvl := b.occupied.Ceiling(b.maxBidIxNow() + 1); lvl != nil && lvl.Ix <= b.maxOfferIx; lvl = lvl.Next() {
		if !fn(lvl) {
			return
		}
	}
}

func (b *OrderBook) eachBid(fn func(*OrderBookLevel) bool) {
	if b.minBidIx < 0 {
		return
	}
	for lvl := b.occupied.Floor(b.maxBidIxNow()); lvl != nil && lvl.Ix >= b.minBidIx; lvl = lvl.Prev() {
		if !fn(lvl) {
			return
		}
	}
}

func capToLevel(lvl *OrderBookLevel, remaining *big.Int) *big.Int {
	if lvl.TotalQuantity.Cmp(remaining) < 0 {
		return new(big.Int).Set(lvl.TotalQuantity)
	}
	return new(big.Int).Set(remaining)
}

// ClearingPriceAndQuantityForMarketBuy returns the volume-weighted price
// and the quantity available for a market buy of amount. Both are zero
// when the offer side is empty.
func (b *OrderBook) ClearingPriceAndQuantityForMarketBuy(amount *big.Int) (decimal.Decimal, *big.Int) {
	remaining := new(big.Int).Set(amount)
	totalPriceUnits := decimal.Zero
	b.eachOffer(func(lvl *OrderBookLevel) bool {
		q := capToLevel(lvl, remaining)
		totalPriceUnits = totalPriceUnits.Add(decimal.NewFromBigInt(q, 0).Mul(lvl.Price))
		remaining.Sub(remaining, q)
		return remaining.Sign() > 0
	})
	available := new(big.Int).Sub(amount, remaining)
	if available.Sign() == 0 {
		return decimal.Zero, available
	}
	return totalPriceUnits.DivRound(decimal.NewFromBigInt(available, 0), 18), available
}

// QuantityAndNotionalForMarketBuy caps amount to the offer-side
// liquidity and returns the quote notional that buying it would cost.
func (b *OrderBook) QuantityAndNotionalForMarketBuy(amount *big.Int) (*big.Int, *big.Int) {
	remaining := new(big.Int).Set(amount)
	notional := new(big.Int)
	b.eachOffer(func(lvl *OrderBookLevel) bool {
		q := capToLevel(lvl, remaining)
		notional.Add(notional, quant.Notional(q, lvl.Price, b.BaseDecimals, b.QuoteDecimals))
		remaining.Sub(remaining, q)
		return remaining.Sign() > 0
	})
	return new(big.Int).Sub(amount, remaining), notional
}

// QuantityAndNotionalForMarketSell caps amount to the bid-side liquidity
// and returns the quote notional that selling it would raise.
func (b *OrderBook) QuantityAndNotionalForMarketSell(amount *big.Int) (*big.Int, *big.Int) {
	remaining := new(big.Int).Set(amount)
	notional := new(big.Int)
	b.eachBid(func(lvl *OrderBookLevel) bool {
		q := capToLevel(lvl, remaining)
		notional.Add(notional, quant.Notional(q, lvl.Price, b.BaseDecimals, b.QuoteDecimals))
		remaining.Sub(remaining, q)
		return remaining.Sign() > 0
	})
	return new(big.Int).Sub(amount, remaining), notional
}

// ClearingQuantityForMarketSell is the sellable part of amount given the
// current bid-side liquidity.
func (b *OrderBook) ClearingQuantityForMarketSell(amount *big.Int) *big.Int {
	quantity, _ := b.QuantityAndNotionalForMarketSell(amount)
	return quantity
}

// QuantityForMarketBuy is the base quantity the given quote notional
// purchases, walking the offers and spending level by level.
func (b *OrderBook) QuantityForMarketBuy(notional *big.Int) *big.Int {
	remainingNotional := new(big.Int).Set(notional)
	quantity := new(big.Int)
	b.eachOffer(func(lvl *OrderBookLevel) bool {
		affordable := quant.QuantityFromNotionalAndPrice(remainingNotional, lvl.Price, b.BaseDecimals, b.QuoteDecimals)
		q := capToLevel(lvl, affordable)
		quantity.Add(quantity, q)
		remainingNotional.Sub(remainingNotional, quant.Notional(q, lvl.Price, b.BaseDecimals, b.QuoteDecimals))
		return remainingNotional.Sign() > 0 && q.Cmp(affordable) == 0
	})
	return quantity
}

// QuantityForMarketSell is the base quantity that must be sold into the
// bids to raise the given quote notional.
func (b *OrderBook) QuantityForMarketSell(notional *big.Int) *big.Int {
	remainingNotional := new(big.Int).Set(notional)
	quantity := new(big.Int)
	b.eachBid(func(lvl *OrderBookLevel) bool {
		needed := quant.QuantityFromNotionalAndPrice(remainingNotional, lvl.Price, b.BaseDecimals, b.QuoteDecimals)
		q := capToLevel(lvl, needed)
		quantity.Add(quantity, q)
		remainingNotional.Sub(remainingNotional, quant.Notional(q, lvl.Price, b.BaseDecimals, b.QuoteDecimals))
		return remainingNotional.Sign() > 0 && q.Cmp(needed) == 0
	})
	return quantity
}
