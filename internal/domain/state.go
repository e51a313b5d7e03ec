package domain

import (
	"math/big"
	"sort"
)

// SequencerState is the whole in-memory state: markets, balances,
// per-order reservations and fee configuration. Exactly one goroutine
// owns it; there is no locking here.
type SequencerState struct {
	Markets        map[MarketId]*Market
	Balances       map[WalletId]map[Asset]*big.Int
	Consumed       map[WalletId]map[Asset]map[MarketId]*big.Int
	FeeRates       FeeRates
	WithdrawalFees map[Asset]*big.Int
}

func NewSequencerState() *SequencerState {
	s := &SequencerState{}
	s.Reset()
	return s
}

// Reset drops everything: markets, balances, reservations and fees.
func (s *SequencerState) Reset() {
	s.Markets = make(map[MarketId]*Market)
	s.Balances = make(map[WalletId]map[Asset]*big.Int)
	s.Consumed = make(map[WalletId]map[Asset]map[MarketId]*big.Int)
	s.FeeRates = FeeRates{}
	s.WithdrawalFees = make(map[Asset]*big.Int)
}

// MarketIds returns the market ids in sorted order so state iteration
// stays deterministic.
func (s *SequencerState) MarketIds() []MarketId {
	ids := make([]MarketId, 0, len(s.Markets))
	for id := range s.Markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetBalance returns the wallet's balance for asset, zero if absent.
// The returned value must not be mutated.
func (s *SequencerState) GetBalance(wallet WalletId, asset Asset) *big.Int {
	if assets, ok := s.Balances[wallet]; ok {
		if balance, ok := assets[asset]; ok {
			return balance
		}
	}
	return new(big.Int)
}

// AdjustBalance applies a signed delta and returns the new balance.
// Zero balances are pruned so state compares canonically.
func (s *SequencerState) AdjustBalance(wallet WalletId, asset Asset, delta *big.Int) *big.Int {
	assets, ok := s.Balances[wallet]
	if !ok {
		assets = make(map[Asset]*big.Int)
		s.Balances[wallet] = assets
	}
	balance, ok := assets[asset]
	if !ok {
		balance = new(big.Int)
		assets[asset] = balance
	}
	balance.Add(balance, delta)
	if balance.Sign() == 0 {
		delete(assets, asset)
		if len(assets) == 0 {
			delete(s.Balances, wallet)
		}
	}
	return balance
}

// AdjustBalanceClamped applies a delta but never lets the balance go
// negative, matching how trade settlement merges are applied.
func (s *SequencerState) AdjustBalanceClamped(wallet WalletId, asset Asset, delta *big.Int) *big.Int {
	current := s.GetBalance(wallet, asset)
	next := new(big.Int).Add(current, delta)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	actual := new(big.Int).Sub(next, current)
	return s.AdjustBalance(wallet, asset, actual)
}

// GetConsumed returns how much of wallet's asset is reserved by resting
// orders on the given market. The returned value must not be mutated.
func (s *SequencerState) GetConsumed(wallet WalletId, asset Asset, marketId MarketId) *big.Int {
	if assets, ok := s.Consumed[wallet]; ok {
		if markets, ok := assets[asset]; ok {
			if consumed, ok := markets[marketId]; ok {
				return consumed
			}
		}
	}
	return new(big.Int)
}

// TotalConsumed sums the wallet's reservations of asset across markets.
func (s *SequencerState) TotalConsumed(wallet WalletId, asset Asset) *big.Int {
	sum := new(big.Int)
	if assets, ok := s.Consumed[wallet]; ok {
		for _, consumed := range assets[asset] {
			sum.Add(sum, consumed)
		}
	}
	return sum
}

// AdjustConsumed applies a signed reservation delta, pruning zeros.
func (s *SequencerState) AdjustConsumed(wallet WalletId, asset Asset, marketId MarketId, delta *big.Int) {
	assets, ok := s.Consumed[wallet]
	if !ok {
		assets = make(map[Asset]map[MarketId]*big.Int)
		s.Consumed[wallet] = assets
	}
	markets, ok := assets[asset]
	if !ok {
		markets = make(map[MarketId]*big.Int)
		assets[asset] = markets
	}
	consumed, ok := markets[marketId]
	if !ok {
		consumed = new(big.Int)
		markets[marketId] = consumed
	}
	consumed.Add(consumed, delta)
	if consumed.Sign() == 0 {
		delete(markets, marketId)
		if len(markets) == 0 {
			delete(assets, asset)
			if len(assets) == 0 {
				delete(s.Consumed, wallet)
			}
		}
	}
}

// WithdrawalFee returns the configured fee for asset, zero by default.
func (s *SequencerState) WithdrawalFee(asset Asset) *big.Int {
	if fee, ok := s.WithdrawalFees[asset]; ok {
		return fee
	}
	return new(big.Int)
}

// Equal compares full states, treating absent entries as zero on both
// sides (both maps are kept pruned).
func (s *SequencerState) Equal(o *SequencerState) bool {
	if s.FeeRates != o.FeeRates {
		return false
	}
	if len(s.Markets) != len(o.Markets) {
		return false
	}
	for id, market := range s.Markets {
		other, ok := o.Markets[id]
		if !ok || !market.Equal(other) {
			return false
		}
	}
	if len(s.WithdrawalFees) != len(o.WithdrawalFees) {
		return false
	}
	for asset, fee := range s.WithdrawalFees {
		other, ok := o.WithdrawalFees[asset]
		if !ok || fee.Cmp(other) != 0 {
			return false
		}
	}
	if len(s.Balances) != len(o.Balances) {
		return false
	}
	for wallet, assets := range s.Balances {
		otherAssets, ok := o.Balances[wallet]
		if !ok || len(assets) != len(otherAssets) {
			return false
		}
		for asset, balance := range assets {
			other, ok := otherAssets[asset]
			if !ok || balance.Cmp(other) != 0 {
				return false
			}
		}
	}
	if len(s.Consumed) != len(o.Consumed) {
		return false
	}
	for wallet, assets := range s.Consumed {
		otherAssets, ok := o.Consumed[wallet]
		if !ok || len(assets) != len(otherAssets) {
			return false
		}
		for asset, markets := range assets {
			otherMarkets, ok := otherAssets[asset]
			if !ok || len(markets) != len(otherMarkets) {
				return false
			}
			for marketId, consumed := range markets {
				other, ok := otherMarkets[marketId]
				if !ok || consumed.Cmp(other) != 0 {
					return false
				}
			}
		}
	}
	return true
}
