package engine

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dex_go/internal/domain"
	"dex_go/internal/event"
)

// Two chained markets: AAA is sold for BBB, BBB for CCC.
func newBridgedSequencer(t *testing.T) *Sequencer {
	t.Helper()
	s := newTestSequencer()

	resp := s.Apply(&event.Request{
		Seq:  1,
		Kind: event.KindAddMarket,
		AddMarket: &event.AddMarket{
			MarketId:          "AAA/BBB",
			TickSize:          decimal.RequireFromString("0.05"),
			MarketPrice:       decimal.RequireFromString("10.025"),
			MaxLevels:         1000,
			MaxOrdersPerLevel: 100,
			BaseDecimals:      8,
			QuoteDecimals:     8,
		},
	})
	require.Empty(t, resp.Error)

	resp = s.Apply(&event.Request{
		Seq:  2,
		Kind: event.KindAddMarket,
		AddMarket: &event.AddMarket{
			MarketId:          "BBB/CCC",
			TickSize:          decimal.RequireFromString("0.05"),
			MarketPrice:       decimal.RequireFromString("2.025"),
			MaxLevels:         1000,
			MaxOrdersPerLevel: 100,
			BaseDecimals:      8,
			QuoteDecimals:     6,
		},
	})
	require.Empty(t, resp.Error)

	resp = s.Apply(setFeeRatesRequest(3, 500, 1000))
	require.Empty(t, resp.Error)
	return s
}

func TestBackToBackOrderChainedSell(t *testing.T) {
	s := newBridgedSequencer(t)

	// Maker liquidity on both legs.
	s.Apply(depositRequest(4, 9, "BBB", 1_000_500_000))
	s.Apply(depositRequest(5, 8, "CCC", 40_020_000))
	s.Apply(depositRequest(6, 7, "AAA", 100_000_000))

	resp := s.Apply(orderBatchRequest(7, 9, "AAA/BBB", domain.Order{
		Guid: 90, Type: domain.LimitBuy, Amount: big.NewInt(100_000_000), Price: decimal.RequireFromString("10.00"),
	}))
	require.Empty(t, resp.Error)
	resp = s.Apply(orderBatchRequest(8, 8, "BBB/CCC", domain.Order{
		Guid: 80, Type: domain.LimitBuy, Amount: big.NewInt(2_000_000_000), Price: decimal.RequireFromString("2.00"),
	}))
	require.Empty(t, resp.Error)

	resp = s.Apply(&event.Request{
		Seq:  9,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "BBB/CCC",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketSell, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Empty(t, resp.Error)
	require.Len(t, resp.TradesCreated, 2)

	firstTrade := resp.TradesCreated[0]
	require.Equal(t, domain.MarketId("AAA/BBB"), firstTrade.MarketId)
	require.Equal(t, int64(100_000_000), firstTrade.Amount.Int64())
	require.Equal(t, int64(500_000), firstTrade.BuyerFee.Int64())
	// The bridge leg pays no taker fee.
	require.Equal(t, int64(0), firstTrade.SellerFee.Int64())

	secondTrade := resp.TradesCreated[1]
	require.Equal(t, domain.MarketId("BBB/CCC"), secondTrade.MarketId)
	require.Equal(t, int64(1_000_000_000), secondTrade.Amount.Int64())
	require.Equal(t, int64(10_000), secondTrade.BuyerFee.Int64())
	require.Equal(t, int64(20_000), secondTrade.SellerFee.Int64())

	taker := findOrderChanged(t, resp.OrdersChanged, 70)
	require.Equal(t, domain.Filled, taker.Disposition)

	// The bridge asset passes straight through the taker's wallet.
	require.Equal(t, int64(0), s.state.GetBalance(7, "AAA").Int64())
	require.Equal(t, int64(0), s.state.GetBalance(7, "BBB").Int64())
	require.Equal(t, int64(19_980_000), s.state.GetBalance(7, "CCC").Int64())

	require.Equal(t, int64(100_000_000), s.state.GetBalance(9, "AAA").Int64())
	require.Equal(t, int64(0), s.state.GetBalance(9, "BBB").Int64())
	require.Equal(t, int64(1_000_000_000), s.state.GetBalance(8, "BBB").Int64())
	require.Equal(t, int64(20_010_000), s.state.GetBalance(8, "CCC").Int64())
}

func TestBackToBackOrderValidation(t *testing.T) {
	s := newBridgedSequencer(t)

	resp := s.Apply(&event.Request{
		Seq:  4,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "XXX/YYY",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketSell, Amount: big.NewInt(1)},
		},
	})
	require.Equal(t, event.ErrUnknownMarket, resp.Error)

	// Both legs on the same market do not bridge anything.
	resp = s.Apply(&event.Request{
		Seq:  5,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "AAA/BBB",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketSell, Amount: big.NewInt(1)},
		},
	})
	require.Equal(t, event.ErrInvalidBackToBackOrder, resp.Error)

	resp = s.Apply(&event.Request{
		Seq:  6,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "BBB/CCC",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.LimitSell, Amount: big.NewInt(1), Price: decimal.RequireFromString("10.00")},
		},
	})
	require.Equal(t, event.ErrInvalidBackToBackOrder, resp.Error)

	// Empty books produce nothing on the first leg.
	resp = s.Apply(&event.Request{
		Seq:  7,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "BBB/CCC",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketSell, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Equal(t, event.ErrInvalidBackToBackOrder, resp.Error)
}

// Chained markets for the buy direction: CCC buys BBB, BBB buys AAA.
// The second market sits at 9.975 so an offer can rest at exactly 10.00.
func newChainedBuySequencer(t *testing.T) *Sequencer {
	t.Helper()
	s := newTestSequencer()

	resp := s.Apply(&event.Request{
		Seq:  1,
		Kind: event.KindAddMarket,
		AddMarket: &event.AddMarket{
			MarketId:          "BBB/CCC",
			TickSize:          decimal.RequireFromString("0.05"),
			MarketPrice:       decimal.RequireFromString("2.025"),
			MaxLevels:         1000,
			MaxOrdersPerLevel: 100,
			BaseDecimals:      8,
			QuoteDecimals:     6,
		},
	})
	require.Empty(t, resp.Error)

	resp = s.Apply(&event.Request{
		Seq:  2,
		Kind: event.KindAddMarket,
		AddMarket: &event.AddMarket{
			MarketId:          "AAA/BBB",
			TickSize:          decimal.RequireFromString("0.05"),
			MarketPrice:       decimal.RequireFromString("9.975"),
			MaxLevels:         1000,
			MaxOrdersPerLevel: 100,
			BaseDecimals:      8,
			QuoteDecimals:     8,
		},
	})
	require.Empty(t, resp.Error)

	resp = s.Apply(setFeeRatesRequest(3, 500, 1000))
	require.Empty(t, resp.Error)
	return s
}

func TestBackToBackOrderChainedBuy(t *testing.T) {
	s := newChainedBuySequencer(t)

	s.Apply(depositRequest(4, 8, "BBB", 200_000_000))
	s.Apply(depositRequest(5, 9, "AAA", 200_000_000))
	s.Apply(depositRequest(6, 7, "CCC", 2_050_000))

	resp := s.Apply(orderBatchRequest(7, 8, "BBB/CCC", domain.Order{
		Guid: 80, Type: domain.LimitSell, Amount: big.NewInt(200_000_000), Price: decimal.RequireFromString("2.05"),
	}))
	require.Empty(t, resp.Error)
	resp = s.Apply(orderBatchRequest(8, 9, "AAA/BBB", domain.Order{
		Guid: 90, Type: domain.LimitSell, Amount: big.NewInt(200_000_000), Price: decimal.RequireFromString("10.00"),
	}))
	require.Empty(t, resp.Error)

	// Buy 1.0 BBB with CCC, then spend the BBB on AAA at a price that
	// divides it exactly.
	resp = s.Apply(&event.Request{
		Seq:  9,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "BBB/CCC",
			SecondMarketId: "AAA/BBB",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketBuy, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Empty(t, resp.Error)
	require.Len(t, resp.TradesCreated, 2)

	firstTrade := resp.TradesCreated[0]
	require.Equal(t, domain.MarketId("BBB/CCC"), firstTrade.MarketId)
	require.Equal(t, int64(100_000_000), firstTrade.Amount.Int64())
	// The bridge leg pays no taker fee.
	require.Equal(t, int64(0), firstTrade.BuyerFee.Int64())
	require.Equal(t, int64(1_025), firstTrade.SellerFee.Int64())

	secondTrade := resp.TradesCreated[1]
	require.Equal(t, domain.MarketId("AAA/BBB"), secondTrade.MarketId)
	require.Equal(t, int64(9_990_000), secondTrade.Amount.Int64())
	require.Equal(t, int64(99_900), secondTrade.BuyerFee.Int64())
	require.Equal(t, int64(49_950), secondTrade.SellerFee.Int64())

	taker := findOrderChanged(t, resp.OrdersChanged, 70)
	require.Equal(t, domain.Filled, taker.Disposition)

	// The second leg spends the whole bridge amount (minus the taker
	// fee); only the fee-truncation remainder stays behind.
	require.Equal(t, int64(9_990_000), s.state.GetBalance(7, "AAA").Int64())
	require.Equal(t, int64(100), s.state.GetBalance(7, "BBB").Int64())
	require.Equal(t, int64(0), s.state.GetBalance(7, "CCC").Int64())

	require.Equal(t, int64(2_048_975), s.state.GetBalance(8, "CCC").Int64())
	require.Equal(t, int64(99_850_050), s.state.GetBalance(9, "BBB").Int64())
}

func TestBackToBackOrderChainedBuyUnevenPrice(t *testing.T) {
	s := newBridgedSequencer(t)

	s.Apply(depositRequest(4, 8, "BBB", 200_000_000))
	s.Apply(depositRequest(5, 9, "AAA", 200_000_000))
	s.Apply(depositRequest(6, 7, "CCC", 2_050_000))

	s.Apply(orderBatchRequest(7, 8, "BBB/CCC", domain.Order{
		Guid: 80, Type: domain.LimitSell, Amount: big.NewInt(200_000_000), Price: decimal.RequireFromString("2.05"),
	}))
	// 10.05 does not divide the bridge amount evenly, so the first leg
	// shrinks to what the second market can actually absorb.
	s.Apply(orderBatchRequest(8, 9, "AAA/BBB", domain.Order{
		Guid: 90, Type: domain.LimitSell, Amount: big.NewInt(200_000_000), Price: decimal.RequireFromString("10.05"),
	}))

	resp := s.Apply(&event.Request{
		Seq:  9,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "BBB/CCC",
			SecondMarketId: "AAA/BBB",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketBuy, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Empty(t, resp.Error)
	require.Len(t, resp.TradesCreated, 2)
	require.Equal(t, int64(99_999_992), resp.TradesCreated[0].Amount.Int64())
	require.Equal(t, int64(9_940_297), resp.TradesCreated[1].Amount.Int64())

	taker := findOrderChanged(t, resp.OrdersChanged, 70)
	require.Equal(t, domain.PartiallyFilled, taker.Disposition)

	require.Equal(t, int64(9_940_297), s.state.GetBalance(7, "AAA").Int64())
	require.Equal(t, int64(109), s.state.GetBalance(7, "BBB").Int64())
	require.Equal(t, int64(1), s.state.GetBalance(7, "CCC").Int64())
}

func TestBackToBackOrderSellRequiresBalance(t *testing.T) {
	s := newBridgedSequencer(t)

	s.Apply(depositRequest(4, 9, "BBB", 1_000_500_000))
	s.Apply(depositRequest(5, 8, "CCC", 40_020_000))

	s.Apply(orderBatchRequest(6, 9, "AAA/BBB", domain.Order{
		Guid: 90, Type: domain.LimitBuy, Amount: big.NewInt(100_000_000), Price: decimal.RequireFromString("10.00"),
	}))
	s.Apply(orderBatchRequest(7, 8, "BBB/CCC", domain.Order{
		Guid: 80, Type: domain.LimitBuy, Amount: big.NewInt(2_000_000_000), Price: decimal.RequireFromString("2.00"),
	}))

	// Wallet 6 holds no AAA at all; the sell must not reach the books.
	resp := s.Apply(&event.Request{
		Seq:  8,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "BBB/CCC",
			Wallet:         6,
			Order:          domain.Order{Guid: 60, Type: domain.MarketSell, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Equal(t, event.ErrExceedsLimit, resp.Error)
	require.Empty(t, resp.TradesCreated)
	require.Empty(t, resp.OrdersChanged)
	require.Equal(t, int64(0), s.state.GetBalance(6, "CCC").Int64())
	require.Equal(t, int64(0), s.state.GetBalance(6, "BBB").Int64())
}

func TestBackToBackOrderPartialSecondLeg(t *testing.T) {
	s := newBridgedSequencer(t)

	s.Apply(depositRequest(4, 9, "BBB", 1_000_500_000))
	s.Apply(depositRequest(5, 8, "CCC", 40_020_000))
	s.Apply(depositRequest(6, 7, "AAA", 100_000_000))

	s.Apply(orderBatchRequest(7, 9, "AAA/BBB", domain.Order{
		Guid: 90, Type: domain.LimitBuy, Amount: big.NewInt(100_000_000), Price: decimal.RequireFromString("10.00"),
	}))
	// The second market only absorbs half of the bridge the first leg
	// would produce, so the first leg has to shrink.
	s.Apply(orderBatchRequest(8, 8, "BBB/CCC", domain.Order{
		Guid: 80, Type: domain.LimitBuy, Amount: big.NewInt(500_000_000), Price: decimal.RequireFromString("2.00"),
	}))

	resp := s.Apply(&event.Request{
		Seq:  9,
		Kind: event.KindBackToBackOrder,
		BackToBackOrder: &event.BackToBackOrder{
			FirstMarketId:  "AAA/BBB",
			SecondMarketId: "BBB/CCC",
			Wallet:         7,
			Order:          domain.Order{Guid: 70, Type: domain.MarketSell, Amount: big.NewInt(100_000_000)},
		},
	})
	require.Empty(t, resp.Error)
	require.Len(t, resp.TradesCreated, 2)
	require.Equal(t, int64(50_000_000), resp.TradesCreated[0].Amount.Int64())
	require.Equal(t, int64(500_000_000), resp.TradesCreated[1].Amount.Int64())

	taker := findOrderChanged(t, resp.OrdersChanged, 70)
	require.Equal(t, domain.PartiallyFilled, taker.Disposition)

	require.Equal(t, int64(50_000_000), s.state.GetBalance(7, "AAA").Int64())
	require.Equal(t, int64(0), s.state.GetBalance(7, "BBB").Int64())
	require.Equal(t, int64(9_990_000), s.state.GetBalance(7, "CCC").Int64())
}
