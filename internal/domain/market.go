package domain

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"dex_go/pkg/quant"
)

// Market wraps one order book with fee handling, settlement of
// executions into balance and consumption deltas, percentage order
// sizing and auto-reduce.
type Market struct {
	Id     MarketId
	Book   *OrderBook
	MinFee *big.Int
}

// OrderBatch carries one wallet's adds, changes and cancels against one
// market. Cancels run first, then changes, then adds.
type OrderBatch struct {
	MarketId       MarketId  `json:"marketId"`
	Wallet         WalletId  `json:"wallet"`
	OrdersToAdd    []Order   `json:"ordersToAdd,omitempty"`
	OrdersToChange []Order   `json:"ordersToChange,omitempty"`
	OrdersToCancel []OrderId `json:"ordersToCancel,omitempty"`
}

// ApplyResult is everything a batch did: per-order dispositions, trades
// and the aggregated balance and consumption deltas, all in
// deterministic order.
type ApplyResult struct {
	OrdersChanged      []OrderChanged
	Trades             []Trade
	BalanceChanges     []BalanceChange
	ConsumptionChanges []ConsumptionChange
}

func NewMarket(id MarketId, tickSize, marketPrice decimal.Decimal, maxLevels, maxOrdersPerLevel int, baseDecimals, quoteDecimals int32) *Market {
	return &Market{
		Id:     id,
		Book:   NewOrderBook(tickSize, marketPrice, maxLevels, maxOrdersPerLevel, baseDecimals, quoteDecimals),
		MinFee: new(big.Int),
	}
}

// SameParameters reports whether a creation request matches this
// market's static shape. The market price is excluded: it moves.
func (m *Market) SameParameters(tickSize decimal.Decimal, maxLevels, maxOrdersPerLevel int, baseDecimals, quoteDecimals int32) bool {
	b := m.Book
	return b.TickSize.Equal(tickSize) && b.MaxLevels == maxLevels && b.MaxOrdersPerLevel == maxOrdersPerLevel &&
		b.BaseDecimals == baseDecimals && b.QuoteDecimals == quoteDecimals
}

// ApplyOrderBatch runs cancels, changes and adds in that order and
// settles every execution the adds produced.
func (m *Market) ApplyOrderBatch(batch OrderBatch, feeRates FeeRates) ApplyResult {
	var ordersChanged []OrderChanged
	var trades []Trade
	balances := NewBalanceLedger()
	consumptions := NewConsumptionLedger()

	for _, guid := range batch.OrdersToCancel {
		if disposition := m.ValidateOrderForWallet(guid, batch.Wallet); disposition != "" {
			ordersChanged = append(ordersChanged, OrderChanged{Guid: guid, Disposition: disposition})
			continue
		}
		order := m.Book.FindOrder(guid)
		base, quote := m.Book.AssetsReservedForOrder(order)
		m.Book.RemoveOrder(guid)
		consumptions.Merge(batch.Wallet, m.Id.BaseAsset(), m.Id, new(big.Int).Neg(base))
		consumptions.Merge(batch.Wallet, m.Id.QuoteAsset(), m.Id, new(big.Int).Neg(quote))
		ordersChanged = append(ordersChanged, OrderChanged{Guid: guid, Disposition: Canceled})
	}

	for _, change := range batch.OrdersToChange {
		if disposition := m.ValidateOrderForWallet(change.Guid, batch.Wallet); disposition != "" {
			ordersChanged = append(ordersChanged, OrderChanged{Guid: change.Guid, Disposition: disposition})
			continue
		}
		order := m.Book.FindOrder(change.Guid)
		baseBefore, quoteBefore := m.Book.AssetsReservedForOrder(order)
		disposition := m.Book.ChangeOrder(change)
		if disposition != Accepted {
			ordersChanged = append(ordersChanged, OrderChanged{Guid: change.Guid, Disposition: disposition})
			continue
		}
		baseAfter, quoteAfter := new(big.Int), new(big.Int)
		if after := m.Book.FindOrder(change.Guid); after != nil {
			baseAfter, quoteAfter = m.Book.AssetsReservedForOrder(after)
		}
		consumptions.Merge(batch.Wallet, m.Id.BaseAsset(), m.Id, baseAfter.Sub(baseAfter, baseBefore))
		consumptions.Merge(batch.Wallet, m.Id.QuoteAsset(), m.Id, quoteAfter.Sub(quoteAfter, quoteBefore))
		ordersChanged = append(ordersChanged, OrderChanged{Guid: change.Guid, Disposition: Accepted, NewQuantity: new(big.Int).Set(change.Amount)})
	}

	for _, order := range batch.OrdersToAdd {
		if m.IsBelowMinFee(order, feeRates) {
			ordersChanged = append(ordersChanged, OrderChanged{Guid: order.Guid, Disposition: Rejected})
			continue
		}
		feeRate := feeRates.Taker
		if !order.Type.IsMarket() {
			feeRate = feeRates.Maker
		}
		result := m.Book.AddOrder(order, batch.Wallet, feeRate)
		changed := OrderChanged{Guid: order.Guid, Disposition: result.Disposition}
		if order.Percentage > 0 {
			changed.NewQuantity = new(big.Int).Set(order.Amount)
		}
		ordersChanged = append(ordersChanged, changed)

		if result.Disposition == Accepted {
			switch order.Type {
			case LimitBuy:
				consumptions.Merge(batch.Wallet, m.Id.QuoteAsset(), m.Id,
					quant.NotionalPlusFee(order.Amount, order.Price, m.Book.BaseDecimals, m.Book.QuoteDecimals, feeRates.Maker))
			case LimitSell:
				consumptions.Merge(batch.Wallet, m.Id.BaseAsset(), m.Id, order.Amount)
			}
		}

		for i, execution := range result.Executions {
			// For a 100%-of-balance market buy the last execution
			// learns what is still spendable so residual dust can be
			// swept into the fee.
			var remainingAvailable *big.Int
			if order.MaxAvailable != nil && i+1 == len(result.Executions) {
				remainingAvailable = new(big.Int).Set(order.MaxAvailable)
				balances.Each(func(w WalletId, a Asset, delta *big.Int) {
					if w == batch.Wallet && a == m.Id.QuoteAsset() {
						remainingAvailable.Add(remainingAvailable, delta)
					}
				})
			}
			trades, ordersChanged = m.processExecution(batch.Wallet, order, execution, feeRates,
				remainingAvailable, trades, ordersChanged, balances, consumptions)
		}
	}

	return ApplyResult{
		OrdersChanged:      ordersChanged,
		Trades:             trades,
		BalanceChanges:     balances.Changes(),
		ConsumptionChanges: consumptions.Changes(),
	}
}

func (m *Market) processExecution(
	takerWallet WalletId,
	takerOrder Order,
	execution Execution,
	feeRates FeeRates,
	remainingAvailable *big.Int,
	trades []Trade,
	ordersChanged []OrderChanged,
	balances *BalanceLedger,
	consumptions *ConsumptionLedger,
) ([]Trade, []OrderChanged) {
	notional := quant.Notional(execution.Amount, execution.Price, m.Book.BaseDecimals, m.Book.QuoteDecimals)
	base, quote := m.Id.BaseAsset(), m.Id.QuoteAsset()

	var buyOrderGuid, sellOrderGuid OrderId
	var buyer, seller WalletId
	var buyerFee, sellerFee *big.Int

	if takerOrder.Type.IsBuy() {
		buyOrderGuid, buyer = takerOrder.Guid, takerWallet
		buyerFee = quant.NotionalFee(notional, feeRates.Taker)

		if remainingAvailable != nil && takerOrder.Type == MarketBuy && takerOrder.Percentage == quant.PercentageMax {
			dust := new(big.Int).Sub(remainingAvailable, new(big.Int).Add(notional, buyerFee))
			// A large leftover means liquidity ran out, not dust.
			if dust.Cmp(buyerFee) <= 0 {
				buyerFee.Add(buyerFee, dust)
			}
		}

		sellOrderGuid, seller = execution.CounterOrder.Guid, execution.CounterOrder.Wallet
		sellerFee = quant.NotionalFee(notional, execution.CounterOrder.FeeRate)
		consumptions.Merge(seller, base, m.Id, new(big.Int).Neg(execution.Amount))
	} else {
		buyOrderGuid, buyer = execution.CounterOrder.Guid, execution.CounterOrder.Wallet
		buyerFee = quant.NotionalFee(notional, execution.CounterOrder.FeeRate)

		sellOrderGuid, seller = takerOrder.Guid, takerWallet
		sellerFee = quant.NotionalFee(notional, feeRates.Taker)
		consumptions.Merge(buyer, quote, m.Id, new(big.Int).Neg(new(big.Int).Add(notional, buyerFee)))
	}

	if execution.Amount.Sign() > 0 {
		trades = append(trades, Trade{
			MarketId:      m.Id,
			BuyOrderGuid:  buyOrderGuid,
			SellOrderGuid: sellOrderGuid,
			Amount:        new(big.Int).Set(execution.Amount),
			Price:         execution.Price,
			LevelIx:       execution.LevelIx,
			BuyerFee:      buyerFee,
			SellerFee:     sellerFee,
		})
	}

	if execution.CounterOrderExhausted {
		ordersChanged = append(ordersChanged, OrderChanged{Guid: execution.CounterOrder.Guid, Disposition: Filled})
	} else {
		ordersChanged = append(ordersChanged, OrderChanged{
			Guid:        execution.CounterOrder.Guid,
			Disposition: PartiallyFilled,
			NewQuantity: new(big.Int).Set(execution.CounterOrder.Quantity),
		})
	}

	balances.Merge(buyer, quote, new(big.Int).Neg(new(big.Int).Add(notional, buyerFee)))
	balances.Merge(seller, base, new(big.Int).Neg(execution.Amount))
	balances.Merge(buyer, base, execution.Amount)
	balances.Merge(seller, quote, new(big.Int).Sub(notional, sellerFee))
	return trades, ordersChanged
}

// IsBelowMinFee rejects orders whose expected fee would undercut the
// per-market minimum. An empty opposite side lets the order through; the
// book rejects it anyway.
func (m *Market) IsBelowMinFee(order Order, feeRates FeeRates) bool {
	if m.MinFee.Sign() <= 0 {
		return false
	}
	var price decimal.Decimal
	var feeRate quant.FeeRate
	switch order.Type {
	case MarketBuy:
		if feeRates.Taker == 0 {
			return false
		}
		lvl := m.Book.BestOffer()
		if lvl == nil {
			return false
		}
		price, feeRate = lvl.Price, feeRates.Taker
	case MarketSell:
		if feeRates.Taker == 0 {
			return false
		}
		lvl := m.Book.BestBid()
		if lvl == nil {
			return false
		}
		price, feeRate = lvl.Price, feeRates.Taker
	default:
		if feeRates.Maker == 0 {
			return false
		}
		price, feeRate = order.Price, feeRates.Maker
	}
	fee := quant.NotionalFee(quant.Notional(order.Amount, price, m.Book.BaseDecimals, m.Book.QuoteDecimals), feeRate)
	return fee.Cmp(m.MinFee) < 0
}

// AutoReduce shrinks the wallet's resting orders that reserve asset so
// their total reservation fits within limit. Best-priced orders are kept
// whole first. Consumption releases are merged into the given ledger.
func (m *Market) AutoReduce(wallet WalletId, asset Asset, limit *big.Int, consumptions *ConsumptionLedger) []OrderChanged {
	var changed []OrderChanged
	total := new(big.Int)
	if asset == m.Id.BaseAsset() {
		orders := append([]*LevelOrder(nil), m.Book.SellOrdersOf(wallet)...)
		sort.Slice(orders, func(i, j int) bool { return orders[i].LevelIx < orders[j].LevelIx })
		for _, order := range orders {
			headroom := new(big.Int).Sub(limit, total)
			if headroom.Sign() < 0 {
				headroom.SetInt64(0)
			}
			if order.Quantity.Cmp(headroom) <= 0 {
				total.Add(total, order.Quantity)
				continue
			}
			reduction := new(big.Int).Sub(order.Quantity, headroom)
			m.Book.LevelOf(order).ReduceOrder(order, headroom)
			total.Add(total, order.Quantity)
			consumptions.Merge(wallet, asset, m.Id, new(big.Int).Neg(reduction))
			changed = append(changed, OrderChanged{Guid: order.Guid, Disposition: AutoReduced, NewQuantity: new(big.Int).Set(order.Quantity)})
		}
	} else {
		orders := append([]*LevelOrder(nil), m.Book.BuyOrdersOf(wallet)...)
		sort.Slice(orders, func(i, j int) bool { return orders[i].LevelIx > orders[j].LevelIx })
		for _, order := range orders {
			level := m.Book.LevelOf(order)
			reserved := quant.NotionalPlusFee(order.Quantity, level.Price, m.Book.BaseDecimals, m.Book.QuoteDecimals, order.FeeRate)
			if new(big.Int).Add(reserved, total).Cmp(limit) <= 0 {
				total.Add(total, reserved)
				continue
			}
			// Invert the reservation: strip the fee from what is left,
			// then turn the notional back into a quantity.
			remainingPlusFee := new(big.Int).Sub(limit, total)
			if remainingPlusFee.Sign() < 0 {
				remainingPlusFee.SetInt64(0)
			}
			fee := new(big.Int).Mul(remainingPlusFee, big.NewInt(int64(order.FeeRate)))
			fee.Quo(fee, big.NewInt(int64(quant.FeeRateMax+order.FeeRate)))
			remainingNotional := new(big.Int).Sub(remainingPlusFee, fee)
			newQuantity := quant.QuantityFromNotionalAndPrice(remainingNotional, level.Price, m.Book.BaseDecimals, m.Book.QuoteDecimals)
			released := new(big.Int).Sub(reserved, remainingPlusFee)
			level.ReduceOrder(order, newQuantity)
			total.Add(total, remainingPlusFee)
			consumptions.Merge(wallet, asset, m.Id, new(big.Int).Neg(released))
			changed = append(changed, OrderChanged{Guid: order.Guid, Disposition: AutoReduced, NewQuantity: new(big.Int).Set(order.Quantity)})
		}
	}
	return changed
}

// CalculateAmountForPercentageSell sizes a market sell as a percentage
// of the wallet's free base balance, capped by bid-side liquidity.
func (m *Market) CalculateAmountForPercentageSell(wallet WalletId, assetBalance *big.Int, percent quant.Percentage) *big.Int {
	free := new(big.Int).Sub(assetBalance, m.Book.BaseAssetsRequired(wallet))
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	amount := m.Book.ClearingQuantityForMarketSell(free)
	amount.Mul(amount, big.NewInt(int64(percent)))
	return amount.Div(amount, big.NewInt(int64(quant.PercentageMax)))
}

// CalculateAmountForPercentageBuy sizes a market buy as a percentage of
// the wallet's free quote balance net of the taker fee. The second
// return value is the full balance when all of it is spendable (100%
// and nothing reserved); it enables the dust sweep.
func (m *Market) CalculateAmountForPercentageBuy(wallet WalletId, assetBalance *big.Int, percent quant.Percentage, takerFeeRate quant.FeeRate) (*big.Int, *big.Int) {
	quoteRequired := m.Book.QuoteAssetsRequired(wallet)
	free := new(big.Int).Sub(assetBalance, quoteRequired)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	quoteLimit := free.Mul(free, big.NewInt(int64(percent)))
	quoteLimit.Div(quoteLimit, big.NewInt(int64(quant.PercentageMax)))
	spendable := new(big.Int).Mul(quoteLimit, big.NewInt(int64(quant.FeeRateMax)))
	spendable.Div(spendable, big.NewInt(int64(quant.FeeRateMax+takerFeeRate)))
	var maxAvailable *big.Int
	if quoteRequired.Sign() == 0 && percent == quant.PercentageMax {
		maxAvailable = new(big.Int).Set(assetBalance)
	}
	return m.Book.QuantityForMarketBuy(spendable), maxAvailable
}

// ValidateOrderForWallet returns DoesNotExist or NotForWallet, or the
// empty disposition when the wallet may touch the order.
func (m *Market) ValidateOrderForWallet(guid OrderId, wallet WalletId) Disposition {
	order := m.Book.FindOrder(guid)
	if order == nil {
		return DoesNotExist
	}
	if order.Wallet != wallet {
		return NotForWallet
	}
	return ""
}

// Equal compares markets including full book state.
func (m *Market) Equal(o *Market) bool {
	return m.Id == o.Id && m.MinFee.Cmp(o.MinFee) == 0 && m.Book.Equal(o.Book)
}
