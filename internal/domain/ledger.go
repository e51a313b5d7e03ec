package domain

import "math/big"

// Ledgers accumulate signed deltas during request processing. Keys keep
// first-seen order so emitted change lists are deterministic; map
// iteration order never leaks into a response.

type balanceKey struct {
	Wallet WalletId
	Asset  Asset
}

type BalanceLedger struct {
	deltas map[balanceKey]*big.Int
	keys   []balanceKey
}

func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{deltas: make(map[balanceKey]*big.Int)}
}

func (l *BalanceLedger) Merge(wallet WalletId, asset Asset, delta *big.Int) {
	key := balanceKey{wallet, asset}
	if cur, ok := l.deltas[key]; ok {
		cur.Add(cur, delta)
		return
	}
	l.deltas[key] = new(big.Int).Set(delta)
	l.keys = append(l.keys, key)
}

// Changes returns the non-zero deltas in first-seen order.
func (l *BalanceLedger) Changes() []BalanceChange {
	changes := make([]BalanceChange, 0, len(l.keys))
	for _, key := range l.keys {
		delta := l.deltas[key]
		if delta.Sign() == 0 {
			continue
		}
		changes = append(changes, BalanceChange{Wallet: key.Wallet, Asset: key.Asset, Delta: delta})
	}
	return changes
}

// Each visits all touched (wallet, asset) pairs in first-seen order,
// including those whose deltas cancelled out.
func (l *BalanceLedger) Each(fn func(WalletId, Asset, *big.Int)) {
	for _, key := range l.keys {
		fn(key.Wallet, key.Asset, l.deltas[key])
	}
}

type consumptionKey struct {
	Wallet   WalletId
	Asset    Asset
	MarketId MarketId
}

type ConsumptionLedger struct {
	deltas map[consumptionKey]*big.Int
	keys   []consumptionKey
}

func NewConsumptionLedger() *ConsumptionLedger {
	return &ConsumptionLedger{deltas: make(map[consumptionKey]*big.Int)}
}

func (l *ConsumptionLedger) Merge(wallet WalletId, asset Asset, marketId MarketId, delta *big.Int) {
	key := consumptionKey{wallet, asset, marketId}
	if cur, ok := l.deltas[key]; ok {
		cur.Add(cur, delta)
		return
	}
	l.deltas[key] = new(big.Int).Set(delta)
	l.keys = append(l.keys, key)
}

func (l *ConsumptionLedger) Changes() []ConsumptionChange {
	changes := make([]ConsumptionChange, 0, len(l.keys))
	for _, key := range l.keys {
		delta := l.deltas[key]
		if delta.Sign() == 0 {
			continue
		}
		changes = append(changes, ConsumptionChange{Wallet: key.Wallet, Asset: key.Asset, MarketId: key.MarketId, Delta: delta})
	}
	return changes
}
