package event

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/internal/domain"
	"dex_go/pkg/quant"
)

// Kind defines the type of request.
type Kind uint16

const (
	KindAddMarket Kind = iota + 1
	KindOrderBatch
	KindBackToBackOrder
	KindBalanceBatch
	KindSetFeeRates
	KindSetWithdrawalFees
	KindSetMarketMinFees
	KindReset
	KindGetState
)

var kindNames = map[Kind]string{
	KindAddMarket:         "AddMarket",
	KindOrderBatch:        "OrderBatch",
	KindBackToBackOrder:   "BackToBackOrder",
	KindBalanceBatch:      "BalanceBatch",
	KindSetFeeRates:       "SetFeeRates",
	KindSetWithdrawalFees: "SetWithdrawalFees",
	KindSetMarketMinFees:  "SetMarketMinFees",
	KindReset:             "Reset",
	KindGetState:          "GetState",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Request is the envelope written to the input log. Exactly one payload
// pointer is set, selected by Kind; Reset and GetState carry none.
type Request struct {
	Seq       uint64          `json:"seq"`
	Guid      string          `json:"guid"`
	CreatedAt quant.TimeStamp `json:"createdAt"`
	Kind      Kind            `json:"kind"`

	AddMarket         *AddMarket          `json:"addMarket,omitempty"`
	OrderBatch        *domain.OrderBatch  `json:"orderBatch,omitempty"`
	BackToBackOrder   *BackToBackOrder    `json:"backToBackOrder,omitempty"`
	BalanceBatch      *BalanceBatch       `json:"balanceBatch,omitempty"`
	SetFeeRates       *domain.FeeRates    `json:"setFeeRates,omitempty"`
	SetWithdrawalFees []WithdrawalFee     `json:"setWithdrawalFees,omitempty"`
	SetMarketMinFees  []MarketMinFee      `json:"setMarketMinFees,omitempty"`
}

// AddMarket creates a market. MinFee may be omitted for zero.
type AddMarket struct {
	MarketId          domain.MarketId `json:"marketId"`
	TickSize          decimal.Decimal `json:"tickSize"`
	MarketPrice       decimal.Decimal `json:"marketPrice"`
	MaxLevels         int             `json:"maxLevels"`
	MaxOrdersPerLevel int             `json:"maxOrdersPerLevel"`
	BaseDecimals      int32           `json:"baseDecimals"`
	QuoteDecimals     int32           `json:"quoteDecimals"`
	MinFee            *big.Int        `json:"minFee,omitempty"`
}

// BackToBackOrder is a market order routed through two markets that
// share a bridge asset: sell base into the bridge and the bridge into
// quote, or the reverse for a buy.
type BackToBackOrder struct {
	FirstMarketId  domain.MarketId `json:"firstMarketId"`
	SecondMarketId domain.MarketId `json:"secondMarketId"`
	Wallet         domain.WalletId `json:"wallet"`
	Order          domain.Order    `json:"order"`
}

// BalanceBatch carries custody movements: deposits, withdrawals and the
// reversals of failed withdrawals and failed trade settlements.
type BalanceBatch struct {
	Deposits          []Deposit          `json:"deposits,omitempty"`
	Withdrawals       []Withdrawal       `json:"withdrawals,omitempty"`
	FailedWithdrawals []FailedWithdrawal `json:"failedWithdrawals,omitempty"`
	FailedSettlements []FailedSettlement `json:"failedSettlements,omitempty"`
}

type Deposit struct {
	Wallet domain.WalletId `json:"wallet"`
	Asset  domain.Asset    `json:"asset"`
	Amount *big.Int        `json:"amount"`
}

// Withdrawal with a zero amount withdraws the whole balance.
type Withdrawal struct {
	Wallet       domain.WalletId `json:"wallet"`
	Asset        domain.Asset    `json:"asset"`
	Amount       *big.Int        `json:"amount"`
	ExternalGuid string          `json:"externalGuid"`
}

type FailedWithdrawal struct {
	Wallet domain.WalletId `json:"wallet"`
	Asset  domain.Asset    `json:"asset"`
	Amount *big.Int        `json:"amount"`
}

// FailedSettlement unwinds one trade: the seller gets the base back and
// returns the net proceeds, the buyer the reverse.
type FailedSettlement struct {
	MarketId     domain.MarketId `json:"marketId"`
	BuyerWallet  domain.WalletId `json:"buyerWallet"`
	SellerWallet domain.WalletId `json:"sellerWallet"`
	Amount       *big.Int        `json:"amount"`
	LevelIx      int             `json:"levelIx"`
	BuyerFee     *big.Int        `json:"buyerFee"`
	SellerFee    *big.Int        `json:"sellerFee"`
}

type WithdrawalFee struct {
	Asset domain.Asset `json:"asset"`
	Fee   *big.Int     `json:"fee"`
}

type MarketMinFee struct {
	MarketId domain.MarketId `json:"marketId"`
	MinFee   *big.Int        `json:"minFee"`
}
