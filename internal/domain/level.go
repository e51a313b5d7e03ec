package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/pkg/quant"
)

// OrderBookLevel holds the resting orders at one price tick in a
// fixed-capacity ring buffer. Order structs are preallocated once; adds
// initialize the slot at tail, fills advance head, removals shift the
// pointer window and recycle the removed struct at the vacated slot so
// pointers held by guid maps stay valid.
//
// A level is also a node of the occupied-level tree (see leveltree.go);
// the tree links are embedded to avoid boxing.
type OrderBookLevel struct {
	Ix            int
	Side          Side
	Price         decimal.Decimal
	MaxOrderCount int
	TotalQuantity *big.Int

	orders []*LevelOrder
	head   int
	tail   int

	left   *OrderBookLevel
	right  *OrderBookLevel
	parent *OrderBookLevel
	height int
}

func NewOrderBookLevel(ix int, side Side, price decimal.Decimal, maxOrderCount int) *OrderBookLevel {
	orders := make([]*LevelOrder, maxOrderCount)
	for i := range orders {
		orders[i] = &LevelOrder{Quantity: new(big.Int), OriginalAmount: new(big.Int)}
	}
	return &OrderBookLevel{
		Ix:            ix,
		Side:          side,
		Price:         price,
		MaxOrderCount: maxOrderCount,
		TotalQuantity: new(big.Int),
		orders:        orders,
		height:        1,
	}
}

// OrderCount is the number of resting orders on the level.
func (l *OrderBookLevel) OrderCount() int {
	return (l.tail - l.head + l.MaxOrderCount) % l.MaxOrderCount
}

// AddOrder places an order at the tail. One slot is kept free to tell a
// full ring from an empty one, so capacity is MaxOrderCount-1.
func (l *OrderBookLevel) AddOrder(guid OrderId, wallet WalletId, amount *big.Int, feeRate quant.FeeRate) (*LevelOrder, Disposition) {
	nextTail := (l.tail + 1) % l.MaxOrderCount
	if nextTail == l.head {
		return nil, Rejected
	}
	order := l.orders[l.tail]
	order.init(guid, wallet, amount, feeRate, l.Ix)
	l.tail = nextTail
	l.TotalQuantity.Add(l.TotalQuantity, amount)
	return order, Accepted
}

// FillOrder consumes resting orders head to tail until requestedAmount is
// satisfied or the level runs dry. Returns the unfilled remainder and one
// execution per touched order; exhausted orders leave the ring.
func (l *OrderBookLevel) FillOrder(requestedAmount *big.Int, executions []Execution) (*big.Int, []Execution) {
	remaining := new(big.Int).Set(requestedAmount)
	ix := l.head
	for ix != l.tail && remaining.Sign() > 0 {
		order := l.orders[ix]
		if remaining.Cmp(order.Quantity) >= 0 {
			executions = append(executions, Execution{
				CounterOrder:          order,
				Amount:                new(big.Int).Set(order.Quantity),
				Price:                 l.Price,
				LevelIx:               l.Ix,
				CounterOrderExhausted: true,
			})
			l.TotalQuantity.Sub(l.TotalQuantity, order.Quantity)
			remaining.Sub(remaining, order.Quantity)
			ix = (ix + 1) % l.MaxOrderCount
		} else {
			executions = append(executions, Execution{
				CounterOrder: order,
				Amount:       new(big.Int).Set(remaining),
				Price:        l.Price,
				LevelIx:      l.Ix,
			})
			l.TotalQuantity.Sub(l.TotalQuantity, remaining)
			order.Quantity.Sub(order.Quantity, remaining)
			remaining.SetInt64(0)
		}
	}
	l.head = ix
	return remaining, executions
}

// RemoveOrder takes one resting order out of the ring, preserving FIFO
// order of the rest.
func (l *OrderBookLevel) RemoveOrder(order *LevelOrder) bool {
	ix := l.head
	for ix != l.tail {
		if l.orders[ix] == order {
			break
		}
		ix = (ix + 1) % l.MaxOrderCount
	}
	if ix == l.tail {
		return false
	}
	l.TotalQuantity.Sub(l.TotalQuantity, order.Quantity)
	for next := (ix + 1) % l.MaxOrderCount; next != l.tail; next = (next + 1) % l.MaxOrderCount {
		l.orders[ix] = l.orders[next]
		ix = next
	}
	l.tail = (l.tail - 1 + l.MaxOrderCount) % l.MaxOrderCount
	// Recycle the removed struct at the vacated slot.
	l.orders[l.tail] = order
	return true
}

// ReduceOrder shrinks a resting order in place without treating it as a
// fresh quantity, used by auto-reduce.
func (l *OrderBookLevel) ReduceOrder(order *LevelOrder, newQuantity *big.Int) {
	l.TotalQuantity.Sub(l.TotalQuantity, order.Quantity)
	l.TotalQuantity.Add(l.TotalQuantity, newQuantity)
	order.Quantity.Set(newQuantity)
}

// ChangeOrderQuantity adjusts a resting order in place.
func (l *OrderBookLevel) ChangeOrderQuantity(order *LevelOrder, newQuantity *big.Int) {
	l.TotalQuantity.Sub(l.TotalQuantity, order.Quantity)
	l.TotalQuantity.Add(l.TotalQuantity, newQuantity)
	order.Quantity.Set(newQuantity)
	order.OriginalAmount.Set(newQuantity)
}

// EachOrder visits resting orders head to tail.
func (l *OrderBookLevel) EachOrder(fn func(*LevelOrder)) {
	for ix := l.head; ix != l.tail; ix = (ix + 1) % l.MaxOrderCount {
		fn(l.orders[ix])
	}
}

// Equal compares two levels by price, side and the FIFO sequence of
// resting orders, ignoring physical slot positions.
func (l *OrderBookLevel) Equal(o *OrderBookLevel) bool {
	if l.Ix != o.Ix || l.Side != o.Side || !l.Price.Equal(o.Price) ||
		l.MaxOrderCount != o.MaxOrderCount || l.TotalQuantity.Cmp(o.TotalQuantity) != 0 ||
		l.OrderCount() != o.OrderCount() {
		return false
	}
	a, b := l.head, o.head
	for a != l.tail {
		x, y := l.orders[a], o.orders[b]
		if x.Guid != y.Guid || x.Wallet != y.Wallet || x.Quantity.Cmp(y.Quantity) != 0 || x.FeeRate != y.FeeRate {
			return false
		}
		a = (a + 1) % l.MaxOrderCount
		b = (b + 1) % o.MaxOrderCount
	}
	return true
}

// Hash folds the level identity and its order sequence, order-dependent.
func (l *OrderBookLevel) Hash() uint64 {
	h := uint64(31*int64(l.Ix) + int64(l.OrderCount()))
	l.EachOrder(func(o *LevelOrder) {
		h = h*31 + uint64(o.Guid)
		h = h*31 + uint64(o.Wallet)
		h = h*31 + o.Quantity.Uint64()
	})
	return h
}
