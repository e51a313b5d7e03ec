package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/pkg/quant"
)

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

type OrderType string

const (
	MarketBuy  OrderType = "MarketBuy"
	MarketSell OrderType = "MarketSell"
	LimitBuy   OrderType = "LimitBuy"
	LimitSell  OrderType = "LimitSell"
)

// IsBuy reports whether the order takes base asset out of the book.
func (t OrderType) IsBuy() bool {
	return t == MarketBuy || t == LimitBuy
}

func (t OrderType) IsMarket() bool {
	return t == MarketBuy || t == MarketSell
}

// Disposition is the outcome of one order in a batch.
type Disposition string

const (
	Accepted        Disposition = "Accepted"
	Filled          Disposition = "Filled"
	PartiallyFilled Disposition = "PartiallyFilled"
	Rejected        Disposition = "Rejected"
	Canceled        Disposition = "Canceled"
	CrossesMarket   Disposition = "CrossesMarket"
	Failed          Disposition = "Failed"
	DoesNotExist    Disposition = "DoesNotExist"
	NotForWallet    Disposition = "NotForWallet"
	AutoReduced     Disposition = "AutoReduced"
)

// Order is an incoming order inside a batch. For changes, Amount is the
// new quantity and Price the (possibly new) price. Market orders may size
// themselves as a percentage of the available balance instead of Amount.
type Order struct {
	Guid       OrderId          `json:"guid"`
	Type       OrderType        `json:"type"`
	Amount     *big.Int         `json:"amount"`
	Price      decimal.Decimal  `json:"price"`
	Percentage quant.Percentage `json:"percentage,omitempty"`

	// MaxAvailable is set at apply time when a 100% market buy was
	// sized from the whole balance; it lets settlement sweep residual
	// dust into the fee so the balance is spent exactly. Derived, so
	// never serialized.
	MaxAvailable *big.Int `json:"-"`
}

// LevelOrder is an order resting on a book level. The struct is pooled
// inside its level; pointers handed out stay valid until the order leaves
// the book.
type LevelOrder struct {
	Guid           OrderId
	Wallet         WalletId
	Quantity       *big.Int
	OriginalAmount *big.Int
	FeeRate        quant.FeeRate
	LevelIx        int
}

func (o *LevelOrder) init(guid OrderId, wallet WalletId, amount *big.Int, feeRate quant.FeeRate, levelIx int) {
	o.Guid = guid
	o.Wallet = wallet
	o.Quantity.Set(amount)
	o.OriginalAmount.Set(amount)
	o.FeeRate = feeRate
	o.LevelIx = levelIx
}

// Execution is one fill against a resting counter order, produced by a
// book sweep and settled by the market layer.
type Execution struct {
	CounterOrder          *LevelOrder
	Amount                *big.Int
	Price                 decimal.Decimal
	LevelIx               int
	CounterOrderExhausted bool
}

// AddOrderResult is the book-level outcome of placing one order.
type AddOrderResult struct {
	Disposition Disposition
	Executions  []Execution
}

// Trade is a settled execution, reported in responses.
type Trade struct {
	MarketId      MarketId        `json:"marketId"`
	BuyOrderGuid  OrderId         `json:"buyOrderGuid"`
	SellOrderGuid OrderId         `json:"sellOrderGuid"`
	Amount        *big.Int        `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	LevelIx       int             `json:"levelIx"`
	BuyerFee      *big.Int        `json:"buyerFee"`
	SellerFee     *big.Int        `json:"sellerFee"`
}

// OrderChanged reports the disposition of one order. NewQuantity is set
// when the order remains on the book with a reduced quantity.
type OrderChanged struct {
	Guid        OrderId     `json:"guid"`
	Disposition Disposition `json:"disposition"`
	NewQuantity *big.Int    `json:"newQuantity,omitempty"`
}

// BalanceChange is a signed delta against a wallet's asset balance.
type BalanceChange struct {
	Wallet WalletId `json:"wallet"`
	Asset  Asset    `json:"asset"`
	Delta  *big.Int `json:"delta"`
}

// ConsumptionChange is a signed delta against the amount a wallet has
// reserved for resting orders on one market.
type ConsumptionChange struct {
	Wallet   WalletId `json:"wallet"`
	Asset    Asset    `json:"asset"`
	MarketId MarketId `json:"marketId"`
	Delta    *big.Int `json:"delta"`
}

// FeeRates are the exchange-wide maker and taker rates, in millionths.
type FeeRates struct {
	Maker quant.FeeRate `json:"maker"`
	Taker quant.FeeRate `json:"taker"`
}

func (f FeeRates) Valid() bool {
	return f.Maker.Valid() && f.Taker.Valid()
}
