package event

import (
	"encoding/json"
	"math/big"

	"github.com/shopspring/decimal"

	"dex_go/internal/domain"
	"dex_go/pkg/quant"
)

// ErrorCode classifies why a request was not applied. Empty means success.
type ErrorCode string

const (
	ErrUnknownRequest         ErrorCode = "UnknownRequest"
	ErrUnknownMarket          ErrorCode = "UnknownMarket"
	ErrMarketExists           ErrorCode = "MarketExists"
	ErrExceedsLimit           ErrorCode = "ExceedsLimit"
	ErrInvalidFeeRate         ErrorCode = "InvalidFeeRate"
	ErrInvalidWithdrawalFee   ErrorCode = "InvalidWithdrawalFee"
	ErrInvalidMarketMinFee    ErrorCode = "InvalidMarketMinFee"
	ErrInvalidBackToBackOrder ErrorCode = "InvalidBackToBackOrder"
)

// Response is the outcome of one request, written to the output log at
// the same sequence number.
type Response struct {
	Seq              uint64          `json:"seq"`
	Guid             string          `json:"guid"`
	CreatedAt        quant.TimeStamp `json:"createdAt"`
	ProcessingTimeNs int64           `json:"processingTimeNs"`
	Error            ErrorCode       `json:"error,omitempty"`

	MarketsCreated     []MarketCreated            `json:"marketsCreated,omitempty"`
	OrdersChanged      []domain.OrderChanged      `json:"ordersChanged,omitempty"`
	TradesCreated      []domain.Trade             `json:"tradesCreated,omitempty"`
	BalancesChanged    []domain.BalanceChange     `json:"balancesChanged,omitempty"`
	ConsumptionChanged []domain.ConsumptionChange `json:"consumptionChanged,omitempty"`
	WithdrawalsCreated []WithdrawalCreated        `json:"withdrawalsCreated,omitempty"`
	StateDump          *StateDump                 `json:"stateDump,omitempty"`
}

type MarketCreated struct {
	MarketId domain.MarketId `json:"marketId"`
	TickSize decimal.Decimal `json:"tickSize"`
}

type WithdrawalCreated struct {
	ExternalGuid string   `json:"externalGuid"`
	Fee          *big.Int `json:"fee"`
}

// StateDump is a readable snapshot of the sequencer state, produced for
// GetState and for the halt dump.
type StateDump struct {
	Balances       []BalanceEntry      `json:"balances,omitempty"`
	Markets        []MarketStateEntry  `json:"markets,omitempty"`
	FeeRates       domain.FeeRates     `json:"feeRates"`
	WithdrawalFees []WithdrawalFee     `json:"withdrawalFees,omitempty"`
}

type BalanceEntry struct {
	Wallet  domain.WalletId `json:"wallet"`
	Asset   domain.Asset    `json:"asset"`
	Balance *big.Int        `json:"balance"`
}

type MarketStateEntry struct {
	MarketId    domain.MarketId `json:"marketId"`
	TickSize    decimal.Decimal `json:"tickSize"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
	MinFee      *big.Int        `json:"minFee"`
	OrderCount  int             `json:"orderCount"`
}

// CanonicalJSON renders the response with the wall-clock fields zeroed,
// so two runs over the same input log can be compared byte for byte.
func (r *Response) CanonicalJSON() ([]byte, error) {
	canonical := *r
	canonical.CreatedAt = 0
	canonical.ProcessingTimeNs = 0
	return json.Marshal(&canonical)
}
