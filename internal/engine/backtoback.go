package engine

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/pkg/quant"
)

// A back-to-back order is a market order routed through two markets that
// share exactly one asset, the bridge. The first leg trades with a zero
// taker fee so the whole fee burden lands on the second leg, and the
// first leg is sized down when the second market cannot absorb all of
// the bridge asset.
func (s *Sequencer) applyBackToBackOrder(req *event.Request, resp *event.Response) {
	b2b := req.BackToBackOrder
	if b2b == nil {
		resp.Error = event.ErrUnknownRequest
		return
	}
	first, ok := s.state.Markets[b2b.FirstMarketId]
	if !ok {
		resp.Error = event.ErrUnknownMarket
		return
	}
	second, ok := s.state.Markets[b2b.SecondMarketId]
	if !ok {
		resp.Error = event.ErrUnknownMarket
		return
	}

	assets := map[domain.Asset]bool{
		first.Id.BaseAsset():   true,
		first.Id.QuoteAsset():  true,
		second.Id.BaseAsset():  true,
		second.Id.QuoteAsset(): true,
	}
	if len(assets) != 3 {
		resp.Error = event.ErrInvalidBackToBackOrder
		return
	}

	order := b2b.Order
	var firstSide domain.Side
	switch order.Type {
	case domain.MarketSell:
		firstSide = domain.Sell
	case domain.MarketBuy:
		firstSide = domain.Buy
	default:
		resp.Error = event.ErrInvalidBackToBackOrder
		return
	}
	// Chained markets (A/B + B/C) keep the same side on both legs; a
	// shared base or quote (A/B + C/B) flips the second leg.
	chained := first.Id.QuoteAsset() == second.Id.BaseAsset() || first.Id.BaseAsset() == second.Id.QuoteAsset()
	secondSide := firstSide
	if !chained {
		if firstSide == domain.Sell {
			secondSide = domain.Buy
		} else {
			secondSide = domain.Sell
		}
	}

	resp.Error = s.handleBackToBackOrder(b2b, first, second, firstSide, secondSide, resp)
}

func (s *Sequencer) handleBackToBackOrder(
	b2b *event.BackToBackOrder,
	first, second *domain.Market,
	firstSide, secondSide domain.Side,
	resp *event.Response,
) event.ErrorCode {
	order := b2b.Order
	taker := s.state.FeeRates.Taker

	// Size percentage orders off the wallet's free balance in the first market.
	var startingAmount, maxAvailable *big.Int
	if order.Percentage > 0 {
		if firstSide == domain.Sell {
			balance := s.state.GetBalance(b2b.Wallet, first.Id.BaseAsset())
			startingAmount = first.CalculateAmountForPercentageSell(b2b.Wallet, balance, order.Percentage)
		} else {
			balance := s.state.GetBalance(b2b.Wallet, first.Id.QuoteAsset())
			startingAmount, maxAvailable = first.CalculateAmountForPercentageBuy(b2b.Wallet, balance, order.Percentage, taker)
		}
	} else {
		startingAmount = new(big.Int).Set(order.Amount)
	}

	// How much bridge asset the first leg is expected to produce.
	var firstLegBase, firstLegQuote *big.Int
	if firstSide == domain.Sell {
		firstLegBase, firstLegQuote = first.Book.QuantityAndNotionalForMarketSell(startingAmount)
	} else {
		firstLegBase, firstLegQuote = first.Book.QuantityAndNotionalForMarketBuy(startingAmount)
	}
	bridgeProduced := firstLegQuote
	if firstSide == domain.Buy {
		bridgeProduced = firstLegBase
	}

	// How much of it the second market can absorb.
	var bridgeAvailable *big.Int
	if secondSide == domain.Sell {
		bridgeAvailable = second.Book.ClearingQuantityForMarketSell(bridgeProduced)
	} else {
		_, notional := second.Book.QuantityAndNotionalForMarketBuy(second.Book.QuantityForMarketBuy(bridgeProduced))
		bridgeAvailable = notional
	}

	if firstLegBase.Sign() == 0 || bridgeAvailable.Sign() == 0 {
		return event.ErrInvalidBackToBackOrder
	}

	quantityForFirst, quantityForSecond := s.sizeBackToBackLegs(
		first, second, firstSide, secondSide,
		firstLegBase, firstLegQuote, bridgeProduced, bridgeAvailable)

	firstOrderType := domain.MarketSell
	if firstSide == domain.Buy {
		firstOrderType = domain.MarketBuy
	}
	firstBatch := domain.OrderBatch{
		MarketId: first.Id,
		Wallet:   b2b.Wallet,
		OrdersToAdd: []domain.Order{{
			Guid:         order.Guid,
			Type:         firstOrderType,
			Amount:       quantityForFirst,
			Percentage:   order.Percentage,
			MaxAvailable: maxAvailable,
		}},
	}
	if errCode := s.checkLimits(first, &firstBatch); errCode != "" {
		return errCode
	}

	secondOrderType := domain.MarketSell
	if secondSide == domain.Buy {
		secondOrderType = domain.MarketBuy
	}
	secondOrder := domain.Order{Guid: order.Guid, Type: secondOrderType, Amount: quantityForSecond}
	if second.IsBelowMinFee(secondOrder, s.state.FeeRates) {
		resp.OrdersChanged = append(resp.OrdersChanged, domain.OrderChanged{
			Guid:        order.Guid,
			Disposition: domain.Rejected,
		})
		return ""
	}

	// First leg trades with a zero taker fee; the bridge is internal.
	firstResult := first.ApplyOrderBatch(firstBatch, domain.FeeRates{Maker: s.state.FeeRates.Maker, Taker: 0})
	disposition := dispositionFor(firstResult.OrdersChanged, order.Guid)
	if disposition != domain.Filled && disposition != domain.PartiallyFilled {
		resp.OrdersChanged = append(resp.OrdersChanged, firstResult.OrdersChanged...)
		return ""
	}

	balances := domain.NewBalanceLedger()
	touched := s.applyMarketResult(firstResult, balances, resp)
	resp.OrdersChanged = append(resp.OrdersChanged, withoutGuid(firstResult.OrdersChanged, order.Guid)...)

	secondResult := second.ApplyOrderBatch(domain.OrderBatch{
		MarketId:    second.Id,
		Wallet:      b2b.Wallet,
		OrdersToAdd: []domain.Order{secondOrder},
	}, s.state.FeeRates)
	touched = append(touched, s.applyMarketResult(secondResult, balances, resp)...)
	resp.OrdersChanged = append(resp.OrdersChanged, withoutGuid(secondResult.OrdersChanged, order.Guid)...)

	finalDisposition := domain.Filled
	if quantityForFirst.Cmp(startingAmount) != 0 {
		finalDisposition = domain.PartiallyFilled
	}
	final := domain.OrderChanged{Guid: order.Guid, Disposition: finalDisposition}
	if order.Percentage > 0 {
		final.NewQuantity = new(big.Int).Set(startingAmount)
	}
	resp.OrdersChanged = append(resp.OrdersChanged, final)

	resp.BalancesChanged = balances.Changes()
	resp.OrdersChanged = append(resp.OrdersChanged, s.autoReduce(dedupe(touched), resp)...)
	return ""
}

// sizeBackToBackLegs picks the base quantity for each leg, shrinking the
// first when the second market cannot take all of the bridge asset.
func (s *Sequencer) sizeBackToBackLegs(
	first, second *domain.Market,
	firstSide, secondSide domain.Side,
	firstLegBase, firstLegQuote, bridgeProduced, bridgeAvailable *big.Int,
) (*big.Int, *big.Int) {
	taker := s.state.FeeRates.Taker

	if bridgeProduced.Cmp(bridgeAvailable) <= 0 {
		// Second market absorbs everything the first leg produces.
		if secondSide == domain.Sell {
			if firstSide == domain.Sell {
				return firstLegBase, firstLegQuote
			}
			return firstLegBase, new(big.Int).Set(firstLegBase)
		}
		// The second leg spends the bridge asset, not the first leg's
		// quote: for a buy-first chain the bridge is firstLegBase.
		spendable := new(big.Int).Sub(bridgeProduced, quant.NotionalFee(bridgeProduced, taker))
		return firstLegBase, second.Book.QuantityForMarketBuy(spendable)
	}

	if firstSide == domain.Sell {
		adjustedBase, adjustedQuote := first.Book.QuantityAndNotionalForMarketSell(bridgeAvailable)
		if secondSide == domain.Sell {
			// The second leg may still not clear fully; scale the first
			// leg down proportionally.
			sellable, _ := second.Book.QuantityAndNotionalForMarketSell(adjustedQuote)
			if sellable.Cmp(adjustedQuote) < 0 {
				ratio := decimal.NewFromBigInt(sellable, 0).DivRound(decimal.NewFromBigInt(adjustedQuote, 0), 18)
				scaled := decimal.NewFromBigInt(adjustedBase, 0).Mul(ratio).BigInt()
				_, notional := first.Book.QuantityAndNotionalForMarketSell(scaled)
				return scaled, notional
			}
			return adjustedBase, adjustedQuote
		}
		spendable := new(big.Int).Sub(adjustedQuote, quant.NotionalFee(adjustedQuote, taker))
		return adjustedBase, second.Book.QuantityForMarketBuy(spendable)
	}

	quantityForFirst := new(big.Int).Set(bridgeAvailable)
	if secondSide == domain.Buy {
		spendable := new(big.Int).Sub(bridgeAvailable, quant.NotionalFee(bridgeAvailable, taker))
		return quantityForFirst, second.Book.QuantityForMarketBuy(spendable)
	}
	sellable, _ := second.Book.QuantityAndNotionalForMarketSell(bridgeAvailable)
	return quantityForFirst, sellable
}

func dispositionFor(changes []domain.OrderChanged, guid domain.OrderId) domain.Disposition {
	for _, change := range changes {
		if change.Guid == guid {
			return change.Disposition
		}
	}
	return ""
}

func withoutGuid(changes []domain.OrderChanged, guid domain.OrderId) []domain.OrderChanged {
	var out []domain.OrderChanged
	for _, change := range changes {
		if change.Guid != guid {
			out = append(out, change)
		}
	}
	return out
}

func dedupe(keys []walletAsset) []walletAsset {
	seen := make(map[walletAsset]bool, len(keys))
	var out []walletAsset
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
