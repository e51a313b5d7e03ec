package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/pkg/quant"
)

var two = decimal.NewFromInt(2)

// OrderBook is a dense ladder of price levels spaced one tick apart.
// The market price sits exactly halfway between two ticks; levels below
// it hold bids, levels above it hold offers. All levels and their order
// slots are allocated up front, so steady-state matching does not
// allocate. The occupied tree indexes the non-empty levels for best
// bid/offer lookups and ordered traversal.
type OrderBook struct {
	MaxLevels         int
	MaxOrdersPerLevel int
	TickSize          decimal.Decimal
	MarketPrice       decimal.Decimal
	BaseDecimals      int32
	QuoteDecimals     int32

	priceScale int32
	halfTick   decimal.Decimal
	marketIx   int
	levels     []*OrderBookLevel
	occupied   LevelTree
	maxOfferIx int
	minBidIx   int

	ordersByGuid       map[OrderId]*LevelOrder
	buyOrdersByWallet  map[WalletId][]*LevelOrder
	sellOrdersByWallet map[WalletId][]*LevelOrder
}

func NewOrderBook(tickSize, marketPrice decimal.Decimal, maxLevels, maxOrdersPerLevel int, baseDecimals, quoteDecimals int32) *OrderBook {
	halfTick := tickSize.Mul(decimal.New(5, -1))
	q, _ := marketPrice.Sub(halfTick).QuoRem(tickSize, 0)
	marketIx := int(q.IntPart())
	if half := maxLevels / 2; marketIx > half {
		marketIx = half
	}
	b := &OrderBook{
		MaxLevels:          maxLevels,
		MaxOrdersPerLevel:  maxOrdersPerLevel,
		TickSize:           tickSize,
		MarketPrice:        marketPrice,
		BaseDecimals:       baseDecimals,
		QuoteDecimals:      quoteDecimals,
		priceScale:         -marketPrice.Exponent(),
		halfTick:           halfTick,
		marketIx:           marketIx,
		levels:             make([]*OrderBookLevel, maxLevels),
		maxOfferIx:         -1,
		minBidIx:           -1,
		ordersByGuid:       make(map[OrderId]*LevelOrder),
		buyOrdersByWallet:  make(map[WalletId][]*LevelOrder),
		sellOrdersByWallet: make(map[WalletId][]*LevelOrder),
	}
	for n := 0; n < maxLevels; n++ {
		side := Sell
		if n < marketIx {
			side = Buy
		}
		price := marketPrice.Add(b.TickSize.Mul(decimal.NewFromInt(int64(n - marketIx)))).Add(halfTick)
		b.levels[n] = NewOrderBookLevel(n, side, price, maxOrdersPerLevel)
	}
	return b
}

// maxBidIxNow derives the bid/offer boundary from the current market
// price: the highest level index on the buy side.
func (b *OrderBook) maxBidIxNow() int {
	q, _ := b.MarketPrice.Sub(b.halfTick).Sub(b.levels[0].Price).QuoRem(b.TickSize, 0)
	return int(q.IntPart())
}

// BestBid returns the highest non-empty bid level, or nil.
func (b *OrderBook) BestBid() *OrderBookLevel {
	if b.minBidIx < 0 {
		return nil
	}
	lvl := b.occupied.Floor(b.maxBidIxNow())
	if lvl == nil || lvl.Ix < b.minBidIx {
		return nil
	}
	return lvl
}

// BestOffer returns the lowest non-empty offer level, or nil.
func (b *OrderBook) BestOffer() *OrderBookLevel {
	lvl := b.occupied.Ceiling(b.maxBidIxNow() + 1)
	if lvl == nil || lvl.Ix > b.maxOfferIx {
		return nil
	}
	return lvl
}

// PriceAt returns the grid price of the given level index.
func (b *OrderBook) PriceAt(levelIx int) decimal.Decimal {
	return b.levels[levelIx].Price
}

// FindOrder returns the resting order with the given guid, or nil.
func (b *OrderBook) FindOrder(guid OrderId) *LevelOrder {
	return b.ordersByGuid[guid]
}

// LevelOf returns the level an order rests on.
func (b *OrderBook) LevelOf(order *LevelOrder) *OrderBookLevel {
	return b.levels[order.LevelIx]
}

// AddOrder places one order. Limit orders rest or are rejected; market
// orders sweep the opposite side and may move the market price.
func (b *OrderBook) AddOrder(order Order, wallet WalletId, feeRate quant.FeeRate) AddOrderResult {
	switch order.Type {
	case LimitSell:
		if order.Price.Cmp(b.MarketPrice) <= 0 {
			return AddOrderResult{Disposition: CrossesMarket}
		}
		return b.addLimitOrder(order, wallet, Sell, feeRate)
	case LimitBuy:
		if order.Price.Cmp(b.MarketPrice) >= 0 {
			return AddOrderResult{Disposition: CrossesMarket}
		}
		return b.addLimitOrder(order, wallet, Buy, feeRate)
	case MarketBuy, MarketSell:
		return b.handleMarketOrder(order, wallet)
	default:
		return AddOrderResult{Disposition: Rejected}
	}
}

func (b *OrderBook) addLimitOrder(order Order, wallet WalletId, side Side, feeRate quant.FeeRate) AddOrderResult {
	q, _ := order.Price.Sub(b.levels[0].Price).QuoRem(b.TickSize, 0)
	levelIx := int(q.IntPart())
	if levelIx < 0 || levelIx >= b.MaxLevels {
		return AddOrderResult{Disposition: Rejected}
	}
	level := b.levels[levelIx]
	wasEmpty := level.OrderCount() == 0
	levelOrder, disposition := level.AddOrder(order.Guid, wallet, order.Amount, feeRate)
	if disposition != Accepted {
		return AddOrderResult{Disposition: disposition}
	}
	if wasEmpty {
		// An empty level takes the side of the order occupying it. The
		// ladder is keyed by price, so a level drained on one side of the
		// market can later refill on the other as the midpoint moves; the
		// crossing check in AddOrder keeps a populated level's side fixed.
		// Side is part of ordered equality and the state hash, so it must
		// be retagged here, not lazily.
		level.Side = side
		b.occupied.Add(level)
	}
	if side == Sell {
		if levelIx > b.maxOfferIx {
			b.maxOfferIx = levelIx
		}
		b.sellOrdersByWallet[wallet] = append(b.sellOrdersByWallet[wallet], levelOrder)
	} else {
		if b.minBidIx < 0 || levelIx < b.minBidIx {
			b.minBidIx = levelIx
		}
		b.buyOrdersByWallet[wallet] = append(b.buyOrdersByWallet[wallet], levelOrder)
	}
	b.ordersByGuid[order.Guid] = levelOrder
	return AddOrderResult{Disposition: Accepted}
}

func (b *OrderBook) handleMarketOrder(order Order, wallet WalletId) AddOrderResult {
	originalAmount := order.Amount
	remaining := new(big.Int).Set(originalAmount)
	var executions []Execution
	maxBidIx := b.maxBidIxNow()
	minOfferIx := maxBidIx + 1
	isBuy := order.Type == MarketBuy

	// index ends on the level where filling stopped, or one past the
	// watermark when liquidity ran out, mirroring the midpoint rule.
	var index int
	if isBuy {
		index = b.maxOfferIx + 1
		for lvl := b.occupied.Ceiling(minOfferIx); lvl != nil && lvl.Ix <= b.maxOfferIx; {
			next := lvl.Next()
			remaining, executions = lvl.FillOrder(remaining, executions)
			if lvl.OrderCount() == 0 {
				b.occupied.Remove(lvl.Ix)
			}
			if remaining.Sign() == 0 {
				index = lvl.Ix
				break
			}
			lvl = next
		}
	} else {
		index = b.minBidIx - 1
		for lvl := b.occupied.Floor(maxBidIx); lvl != nil && lvl.Ix >= b.minBidIx; {
			prev := lvl.Prev()
			remaining, executions = lvl.FillOrder(remaining, executions)
			if lvl.OrderCount() == 0 {
				b.occupied.Remove(lvl.Ix)
			}
			if remaining.Sign() == 0 {
				index = lvl.Ix
				break
			}
			lvl = prev
		}
	}

	if remaining.Cmp(originalAmount) >= 0 {
		return AddOrderResult{Disposition: Rejected}
	}

	// Move the market price to the midpoint of the last touched offer
	// and bid boundary levels, rounded half-up at the book's price scale.
	var sum decimal.Decimal
	if isBuy {
		hi := min(index, b.MaxLevels-1)
		lo := max(maxBidIx, 0)
		sum = b.levels[hi].Price.Add(b.levels[lo].Price)
	} else {
		lo := max(index, 0)
		hi := min(minOfferIx, b.MaxLevels-1)
		sum = b.levels[lo].Price.Add(b.levels[hi].Price)
	}
	b.MarketPrice = sum.DivRound(two, b.priceScale+1).Round(b.priceScale)

	for _, ex := range executions {
		if ex.CounterOrderExhausted {
			b.forgetOrder(ex.CounterOrder, !isBuy)
		}
	}

	if remaining.Sign() > 0 {
		return AddOrderResult{Disposition: PartiallyFilled, Executions: executions}
	}
	return AddOrderResult{Disposition: Filled, Executions: executions}
}

// forgetOrder drops an order from the guid and wallet indexes. buySide
// tells which wallet list it was on.
func (b *OrderBook) forgetOrder(order *LevelOrder, buySide bool) {
	if buySide {
		b.buyOrdersByWallet[order.Wallet] = removeFromList(b.buyOrdersByWallet[order.Wallet], order)
		if len(b.buyOrdersByWallet[order.Wallet]) == 0 {
			delete(b.buyOrdersByWallet, order.Wallet)
		}
	} else {
		b.sellOrdersByWallet[order.Wallet] = removeFromList(b.sellOrdersByWallet[order.Wallet], order)
		if len(b.sellOrdersByWallet[order.Wallet]) == 0 {
			delete(b.sellOrdersByWallet, order.Wallet)
		}
	}
	delete(b.ordersByGuid, order.Guid)
}

func removeFromList(list []*LevelOrder, order *LevelOrder) []*LevelOrder {
	for i, o := range list {
		if o == order {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RemoveOrder takes a resting order off the book.
func (b *OrderBook) RemoveOrder(guid OrderId) bool {
	order := b.ordersByGuid[guid]
	if order == nil {
		return false
	}
	level := b.levels[order.LevelIx]
	b.forgetOrder(order, level.Side == Buy)
	level.RemoveOrder(order)
	if level.OrderCount() == 0 {
		b.occupied.Remove(level.Ix)
	}
	return true
}

// ChangeOrder adjusts a resting order's quantity, or cancels and
// re-adds it when the price moved to another non-crossing level. A price
// that would cross the market leaves the order untouched.
func (b *OrderBook) ChangeOrder(change Order) Disposition {
	order := b.ordersByGuid[change.Guid]
	if order == nil {
		return DoesNotExist
	}
	level := b.levels[order.LevelIx]
	if change.Price.Equal(level.Price) {
		level.ChangeOrderQuantity(order, change.Amount)
		return Accepted
	}
	crosses := level.Side == Buy && change.Price.Cmp(b.MarketPrice) >= 0 ||
		level.Side == Sell && change.Price.Cmp(b.MarketPrice) <= 0
	if crosses {
		return CrossesMarket
	}
	wallet := order.Wallet
	feeRate := order.FeeRate
	orderType := LimitBuy
	if level.Side == Sell {
		orderType = LimitSell
	}
	b.RemoveOrder(change.Guid)
	result := b.AddOrder(Order{
		Guid:   change.Guid,
		Type:   orderType,
		Amount: change.Amount,
		Price:  change.Price,
	}, wallet, feeRate)
	return result.Disposition
}

// BaseAssetsRequired is the base asset reserved by a wallet's resting
// sell orders.
func (b *OrderBook) BaseAssetsRequired(wallet WalletId) *big.Int {
	sum := new(big.Int)
	for _, order := range b.sellOrdersByWallet[wallet] {
		sum.Add(sum, order.Quantity)
	}
	return sum
}

// QuoteAssetsRequired is the quote asset (notional plus maker fee)
// reserved by a wallet's resting buy orders.
func (b *OrderBook) QuoteAssetsRequired(wallet WalletId) *big.Int {
	sum := new(big.Int)
	for _, order := range b.buyOrdersByWallet[wallet] {
		sum.Add(sum, quant.NotionalPlusFee(order.Quantity, b.levels[order.LevelIx].Price, b.BaseDecimals, b.QuoteDecimals, order.FeeRate))
	}
	return sum
}

// AssetsReservedForOrder returns the (base, quote) amounts one resting
// order reserves.
func (b *OrderBook) AssetsReservedForOrder(order *LevelOrder) (*big.Int, *big.Int) {
	level := b.levels[order.LevelIx]
	if level.Side == Buy {
		return new(big.Int), quant.NotionalPlusFee(order.Quantity, level.Price, b.BaseDecimals, b.QuoteDecimals, order.FeeRate)
	}
	return new(big.Int).Set(order.Quantity), new(big.Int)
}

// BuyOrdersOf and SellOrdersOf expose a wallet's resting orders. The
// returned slices must not be mutated.
func (b *OrderBook) BuyOrdersOf(wallet WalletId) []*LevelOrder  { return b.buyOrdersByWallet[wallet] }
func (b *OrderBook) SellOrdersOf(wallet WalletId) []*LevelOrder { return b.sellOrdersByWallet[wallet] }

// EachOccupiedLevel visits the non-empty levels in ascending index order.
func (b *OrderBook) EachOccupiedLevel(fn func(*OrderBookLevel)) {
	b.occupied.Traverse(fn)
}

// OccupiedLevels is the number of non-empty levels.
func (b *OrderBook) OccupiedLevels() int { return b.occupied.Size() }

// Watermarks returns (minBidIx, maxOfferIx), the outermost level indexes
// ever used on each side.
func (b *OrderBook) Watermarks() (int, int) { return b.minBidIx, b.maxOfferIx }

// RestoreLevel rebuilds one level from checkpoint data: side, then the
// resting orders head to tail.
func (b *OrderBook) RestoreLevel(ix int, side Side, orders []LevelOrder) {
	level := b.levels[ix]
	level.Side = side
	for i := range orders {
		o := &orders[i]
		levelOrder, disposition := level.AddOrder(o.Guid, o.Wallet, o.Quantity, o.FeeRate)
		if disposition != Accepted {
			panic("CHECKPOINT_CORRUPT: level overflow on restore")
		}
		levelOrder.OriginalAmount.Set(o.OriginalAmount)
		b.ordersByGuid[o.Guid] = levelOrder
		if side == Buy {
			b.buyOrdersByWallet[o.Wallet] = append(b.buyOrdersByWallet[o.Wallet], levelOrder)
		} else {
			b.sellOrdersByWallet[o.Wallet] = append(b.sellOrdersByWallet[o.Wallet], levelOrder)
		}
	}
	if level.OrderCount() > 0 {
		b.occupied.Add(level)
	}
}

// RestoreWatermarks sets the side watermarks from checkpoint data.
func (b *OrderBook) RestoreWatermarks(minBidIx, maxOfferIx int) {
	b.minBidIx = minBidIx
	b.maxOfferIx = maxOfferIx
}

// Equal compares books by parameters, market price, watermarks and
// ordered traversal of the occupied levels.
func (b *OrderBook) Equal(o *OrderBook) bool {
	if b.MaxLevels != o.MaxLevels || b.MaxOrdersPerLevel != o.MaxOrdersPerLevel ||
		!b.TickSize.Equal(o.TickSize) || !b.MarketPrice.Equal(o.MarketPrice) ||
		b.BaseDecimals != o.BaseDecimals || b.QuoteDecimals != o.QuoteDecimals ||
		b.minBidIx != o.minBidIx || b.maxOfferIx != o.maxOfferIx {
		return false
	}
	return b.occupied.Equal(&o.occupied)
}

// Hash folds the book parameters with the ordered level hashes.
func (b *OrderBook) Hash() uint64 {
	h := uint64(31*int64(b.MaxLevels) + int64(b.MaxOrdersPerLevel))
	h = h*31 + uint64(b.minBidIx+1)
	h = h*31 + uint64(b.maxOfferIx+1)
	return h*31 + b.occupied.Hash()
}
