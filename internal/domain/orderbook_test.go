package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

// Tick 0.05 with the market price at 20000.025 puts the best bid grid
// price at 20000.00 and the best offer grid price at 20000.05.
func newTestBook() *OrderBook {
	return NewOrderBook(
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("20000.025"),
		1000, 100, 8, 6,
	)
}

func limitSell(guid OrderId, amount int64, price string) Order {
	return Order{Guid: guid, Type: LimitSell, Amount: big.NewInt(amount), Price: decimal.RequireFromString(price)}
}

func limitBuy(guid OrderId, amount int64, price string) Order {
	return Order{Guid: guid, Type: LimitBuy, Amount: big.NewInt(amount), Price: decimal.RequireFromString(price)}
}

func marketBuy(guid OrderId, amount int64) Order {
	return Order{Guid: guid, Type: MarketBuy, Amount: big.NewInt(amount)}
}

func marketSell(guid OrderId, amount int64) Order {
	return Order{Guid: guid, Type: MarketSell, Amount: big.NewInt(amount)}
}

func TestOrderBookLimitDispositions(t *testing.T) {
	book := newTestBook()
	cases := []struct {
		name  string
		order Order
		want  Disposition
	}{
		{"sell above market", limitSell(1, 100_000_000, "20000.05"), Accepted},
		{"sell at market", limitSell(2, 100_000_000, "20000.00"), CrossesMarket},
		{"buy below market", limitBuy(3, 100_000_000, "20000.00"), Accepted},
		{"buy above market", limitBuy(4, 100_000_000, "20000.10"), CrossesMarket},
		{"sell beyond ladder", limitSell(5, 100_000_000, "20030.00"), Rejected},
		{"buy below ladder", limitBuy(6, 100_000_000, "19975.00"), Rejected},
	}
	for _, c := range cases {
		result := book.AddOrder(c.order, 7, 500)
		if result.Disposition != c.want {
			t.Errorf("%s: disposition = %s, want %s", c.name, result.Disposition, c.want)
		}
	}
	if book.FindOrder(1) == nil || book.FindOrder(3) == nil {
		t.Fatal("accepted orders must be findable by guid")
	}
	if book.FindOrder(2) != nil {
		t.Fatal("crossing order must not rest")
	}
}

func TestOrderBookMarketBuyKeepsMidpoint(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 100_000_000, "20000.05"), 1, 500)

	result := book.AddOrder(marketBuy(2, 50_000_000), 2, 1000)
	if result.Disposition != Filled {
		t.Fatalf("disposition = %s, want Filled", result.Disposition)
	}
	if len(result.Executions) != 1 {
		t.Fatalf("executions = %d, want 1", len(result.Executions))
	}
	ex := result.Executions[0]
	if ex.Amount.Int64() != 50_000_000 || !ex.Price.Equal(decimal.RequireFromString("20000.05")) {
		t.Fatalf("execution = %+v", ex)
	}
	if ex.CounterOrderExhausted {
		t.Fatal("counter order should not be exhausted")
	}
	if ex.CounterOrder.Quantity.Int64() != 50_000_000 {
		t.Fatalf("counter quantity = %s, want 50000000", ex.CounterOrder.Quantity)
	}
	// Filled fully on the best offer level: midpoint of 20000.05 and
	// 20000.00 leaves the market price at 20000.025.
	if !book.MarketPrice.Equal(decimal.RequireFromString("20000.025")) {
		t.Fatalf("market price = %s, want 20000.025", book.MarketPrice)
	}
}

func TestOrderBookMarketBuyPartialMovesPriceUp(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 50_000_000, "20000.05"), 1, 500)

	result := book.AddOrder(marketBuy(2, 100_000_000), 2, 1000)
	if result.Disposition != PartiallyFilled {
		t.Fatalf("disposition = %s, want PartiallyFilled", result.Disposition)
	}
	// The walk ran past the offer watermark: midpoint of 20000.10 (one
	// past the consumed level) and 20000.00.
	if !book.MarketPrice.Equal(decimal.RequireFromString("20000.05")) {
		t.Fatalf("market price = %s, want 20000.05", book.MarketPrice)
	}
	if book.FindOrder(1) != nil {
		t.Fatal("exhausted counter order should be forgotten")
	}
}

func TestOrderBookMarketBuySkipsEmptyLevels(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 100_000_000, "20000.15"), 1, 500)

	result := book.AddOrder(marketBuy(2, 100_000_000), 2, 1000)
	if result.Disposition != Filled {
		t.Fatalf("disposition = %s, want Filled", result.Disposition)
	}
	if !result.Executions[0].Price.Equal(decimal.RequireFromString("20000.15")) {
		t.Fatalf("execution price = %s, want 20000.15", result.Executions[0].Price)
	}
	// Midpoint of the stopping level 20000.15 and bid boundary 20000.00.
	if !book.MarketPrice.Equal(decimal.RequireFromString("20000.075")) {
		t.Fatalf("market price = %s, want 20000.075", book.MarketPrice)
	}
}

func TestOrderBookMarketSellMovesPriceDown(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitBuy(1, 50_000_000, "20000.00"), 1, 500)

	result := book.AddOrder(marketSell(2, 100_000_000), 2, 1000)
	if result.Disposition != PartiallyFilled {
		t.Fatalf("disposition = %s, want PartiallyFilled", result.Disposition)
	}
	// Bid liquidity ran out: midpoint of 19999.95 (one below the
	// consumed level) and the offer boundary 20000.05.
	if !book.MarketPrice.Equal(decimal.RequireFromString("20000.00")) {
		t.Fatalf("market price = %s, want 20000.00", book.MarketPrice)
	}
}

func TestOrderBookMarketOrderNoLiquidity(t *testing.T) {
	book := newTestBook()
	if result := book.AddOrder(marketBuy(1, 100), 1, 1000); result.Disposition != Rejected {
		t.Fatalf("buy disposition = %s, want Rejected", result.Disposition)
	}
	if result := book.AddOrder(marketSell(2, 100), 1, 1000); result.Disposition != Rejected {
		t.Fatalf("sell disposition = %s, want Rejected", result.Disposition)
	}
	if !book.MarketPrice.Equal(decimal.RequireFromString("20000.025")) {
		t.Fatalf("rejected orders must not move the price, got %s", book.MarketPrice)
	}
}

func TestOrderBookChangeOrder(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 100_000_000, "20000.05"), 1, 500)

	// Same price: quantity adjusted in place.
	if d := book.ChangeOrder(limitSell(1, 60_000_000, "20000.05")); d != Accepted {
		t.Fatalf("quantity change = %s, want Accepted", d)
	}
	if book.FindOrder(1).Quantity.Int64() != 60_000_000 {
		t.Fatalf("quantity = %s, want 60000000", book.FindOrder(1).Quantity)
	}

	// New non-crossing price: moved to the other level.
	if d := book.ChangeOrder(limitSell(1, 60_000_000, "20000.10")); d != Accepted {
		t.Fatalf("price change = %s, want Accepted", d)
	}
	order := book.FindOrder(1)
	if order == nil || !book.LevelOf(order).Price.Equal(decimal.RequireFromString("20000.10")) {
		t.Fatal("order did not move to the new level")
	}

	// Crossing price: untouched.
	if d := book.ChangeOrder(limitSell(1, 60_000_000, "20000.00")); d != CrossesMarket {
		t.Fatalf("crossing change = %s, want CrossesMarket", d)
	}
	if d := book.ChangeOrder(limitSell(42, 1, "20000.10")); d != DoesNotExist {
		t.Fatalf("unknown change = %s, want DoesNotExist", d)
	}
}

func TestOrderBookReservedAssets(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitBuy(1, 100_000_000, "20000.00"), 7, 500)
	book.AddOrder(limitSell(2, 30_000_000, "20000.05"), 7, 500)

	base := book.BaseAssetsRequired(7)
	if base.Int64() != 30_000_000 {
		t.Fatalf("BaseAssetsRequired = %s, want 30000000", base)
	}
	// 1 BTC at 20000.00 is 20000000000 quote units, plus the 0.05%
	// maker fee of 10000000.
	quote := book.QuoteAssetsRequired(7)
	if quote.String() != "20010000000" {
		t.Fatalf("QuoteAssetsRequired = %s, want 20010000000", quote)
	}

	buyBase, buyQuote := book.AssetsReservedForOrder(book.FindOrder(1))
	if buyBase.Sign() != 0 || buyQuote.String() != "20010000000" {
		t.Fatalf("buy reserves = %s/%s", buyBase, buyQuote)
	}
	sellBase, sellQuote := book.AssetsReservedForOrder(book.FindOrder(2))
	if sellBase.Int64() != 30_000_000 || sellQuote.Sign() != 0 {
		t.Fatalf("sell reserves = %s/%s", sellBase, sellQuote)
	}
}

func TestOrderBookClearingWalks(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 50_000_000, "20000.05"), 1, 500)
	book.AddOrder(limitSell(2, 100_000_000, "20000.10"), 1, 500)
	book.AddOrder(limitBuy(3, 50_000_000, "20000.00"), 2, 500)

	price, quantity := book.ClearingPriceAndQuantityForMarketBuy(big.NewInt(100_000_000))
	if quantity.Int64() != 100_000_000 {
		t.Fatalf("clearing quantity = %s, want 100000000", quantity)
	}
	if !price.Equal(decimal.RequireFromString("20000.075")) {
		t.Fatalf("clearing price = %s, want 20000.075", price)
	}

	// More than the book holds: capped, price weighted over both levels.
	_, capped := book.ClearingPriceAndQuantityForMarketBuy(big.NewInt(500_000_000))
	if capped.Int64() != 150_000_000 {
		t.Fatalf("capped quantity = %s, want 150000000", capped)
	}

	// Empty side must not divide by zero.
	zeroPrice, zeroQty := NewOrderBook(decimal.RequireFromString("0.05"), decimal.RequireFromString("20000.025"), 1000, 100, 8, 6).
		ClearingPriceAndQuantityForMarketBuy(big.NewInt(1))
	if !zeroPrice.IsZero() || zeroQty.Sign() != 0 {
		t.Fatalf("empty book clearing = %s/%s, want 0/0", zeroPrice, zeroQty)
	}

	sellQty, sellNotional := book.QuantityAndNotionalForMarketSell(big.NewInt(100_000_000))
	if sellQty.Int64() != 50_000_000 {
		t.Fatalf("sell quantity = %s, want 50000000", sellQty)
	}
	// 0.5 BTC at 20000.00.
	if sellNotional.String() != "10000000000" {
		t.Fatalf("sell notional = %s, want 10000000000", sellNotional)
	}

	// The cost of the first ask level buys exactly that level.
	bought := book.QuantityForMarketBuy(big.NewInt(10_000_025_000))
	if bought.Int64() != 50_000_000 {
		t.Fatalf("QuantityForMarketBuy = %s, want 50000000", bought)
	}
}

func TestOrderBookRestoreRoundTrip(t *testing.T) {
	book := newTestBook()
	book.AddOrder(limitSell(1, 100_000_000, "20000.05"), 1, 500)
	book.AddOrder(limitSell(2, 70_000_000, "20000.15"), 2, 500)
	book.AddOrder(limitBuy(3, 50_000_000, "20000.00"), 3, 500)
	book.AddOrder(marketBuy(4, 50_000_000), 4, 1000)

	restored := NewOrderBook(book.TickSize, book.MarketPrice, book.MaxLevels, book.MaxOrdersPerLevel, book.BaseDecimals, book.QuoteDecimals)
	minBidIx, maxOfferIx := book.Watermarks()
	restored.RestoreWatermarks(minBidIx, maxOfferIx)
	book.EachOccupiedLevel(func(level *OrderBookLevel) {
		var orders []LevelOrder
		level.EachOrder(func(o *LevelOrder) {
			orders = append(orders, LevelOrder{
				Guid:           o.Guid,
				Wallet:         o.Wallet,
				Quantity:       new(big.Int).Set(o.Quantity),
				OriginalAmount: new(big.Int).Set(o.OriginalAmount),
				FeeRate:        o.FeeRate,
			})
		})
		restored.RestoreLevel(level.Ix, level.Side, orders)
	})

	if !book.Equal(restored) {
		t.Fatal("restored book must equal the original")
	}
	if book.Hash() != restored.Hash() {
		t.Fatal("restored book must hash equal")
	}
	if restored.FindOrder(1) == nil || restored.FindOrder(3) == nil {
		t.Fatal("restored orders must be findable by guid")
	}
}
