package engine

import (
	"math/big"
	"sort"

	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/pkg/quant"
)

type walletAsset struct {
	Wallet domain.WalletId
	Asset  domain.Asset
}

func (s *Sequencer) applyAddMarket(req *event.Request, resp *event.Response) {
	payload := req.AddMarket
	if payload == nil {
		resp.Error = event.ErrUnknownRequest
		return
	}
	if err := payload.MarketId.Validate(); err != nil {
		resp.Error = event.ErrUnknownMarket
		return
	}

	if existing, ok := s.state.Markets[payload.MarketId]; ok {
		if !existing.SameParameters(payload.TickSize, payload.MaxLevels, payload.MaxOrdersPerLevel, payload.BaseDecimals, payload.QuoteDecimals) {
			resp.Error = event.ErrMarketExists
			return
		}
	} else {
		market := domain.NewMarket(payload.MarketId, payload.TickSize, payload.MarketPrice,
			payload.MaxLevels, payload.MaxOrdersPerLevel, payload.BaseDecimals, payload.QuoteDecimals)
		if payload.MinFee != nil {
			market.MinFee.Set(payload.MinFee)
		}
		s.state.Markets[payload.MarketId] = market
	}

	resp.MarketsCreated = append(resp.MarketsCreated, event.MarketCreated{
		MarketId: payload.MarketId,
		TickSize: payload.TickSize,
	})
}

func (s *Sequencer) applySetFeeRates(req *event.Request, resp *event.Response) {
	payload := req.SetFeeRates
	if payload == nil || !payload.Valid() {
		resp.Error = event.ErrInvalidFeeRate
		return
	}
	s.state.FeeRates = *payload
}

func (s *Sequencer) applySetWithdrawalFees(req *event.Request, resp *event.Response) {
	fees := req.SetWithdrawalFees
	if len(fees) == 0 {
		resp.Error = event.ErrInvalidWithdrawalFee
		return
	}
	for _, fee := range fees {
		if fee.Fee == nil || fee.Fee.Sign() < 0 {
			resp.Error = event.ErrInvalidWithdrawalFee
			return
		}
	}
	for _, fee := range fees {
		s.state.WithdrawalFees[fee.Asset] = new(big.Int).Set(fee.Fee)
	}
}

func (s *Sequencer) applySetMarketMinFees(req *event.Request, resp *event.Response) {
	minFees := req.SetMarketMinFees
	if len(minFees) == 0 {
		resp.Error = event.ErrInvalidMarketMinFee
		return
	}
	for _, minFee := range minFees {
		if minFee.MinFee == nil || minFee.MinFee.Sign() < 0 {
			resp.Error = event.ErrInvalidMarketMinFee
			return
		}
	}
	for _, minFee := range minFees {
		if market, ok := s.state.Markets[minFee.MarketId]; ok {
			market.MinFee = new(big.Int).Set(minFee.MinFee)
		}
	}
}

func (s *Sequencer) applyOrderBatch(req *event.Request, resp *event.Response) {
	if req.OrderBatch == nil {
		resp.Error = event.ErrUnknownRequest
		return
	}
	batch := *req.OrderBatch
	market, ok := s.state.Markets[batch.MarketId]
	if !ok {
		resp.Error = event.ErrUnknownMarket
		return
	}

	adjusted := s.adjustBatchForPercentageMarketOrders(market, batch)
	if errCode := s.checkLimits(market, &adjusted); errCode != "" {
		resp.Error = errCode
		return
	}

	result := market.ApplyOrderBatch(adjusted, s.state.FeeRates)
	balances := domain.NewBalanceLedger()
	touched := s.applyMarketResult(result, balances, resp)
	resp.OrdersChanged = append(resp.OrdersChanged, result.OrdersChanged...)
	resp.BalancesChanged = balances.Changes()
	resp.OrdersChanged = append(resp.OrdersChanged, s.autoReduce(touched, resp)...)
}

func (s *Sequencer) applyBalanceBatch(req *event.Request, resp *event.Response) {
	batch := req.BalanceBatch
	if batch == nil {
		resp.Error = event.ErrUnknownRequest
		return
	}

	balances := domain.NewBalanceLedger()

	for _, deposit := range batch.Deposits {
		if deposit.Amount == nil || deposit.Amount.Sign() <= 0 {
			continue
		}
		s.state.AdjustBalance(deposit.Wallet, deposit.Asset, deposit.Amount)
		balances.Merge(deposit.Wallet, deposit.Asset, deposit.Amount)
	}

	for _, withdrawal := range batch.Withdrawals {
		fee := s.state.WithdrawalFee(withdrawal.Asset)
		balance := s.state.GetBalance(withdrawal.Wallet, withdrawal.Asset)
		amount := withdrawal.Amount
		if amount == nil || amount.Sign() == 0 {
			// Zero amount means withdraw everything.
			amount = new(big.Int).Set(balance)
		}
		if amount.Cmp(fee) > 0 && amount.Cmp(balance) <= 0 {
			debit := new(big.Int).Neg(amount)
			s.state.AdjustBalance(withdrawal.Wallet, withdrawal.Asset, debit)
			balances.Merge(withdrawal.Wallet, withdrawal.Asset, debit)
			resp.WithdrawalsCreated = append(resp.WithdrawalsCreated, event.WithdrawalCreated{
				ExternalGuid: withdrawal.ExternalGuid,
				Fee:          new(big.Int).Set(fee),
			})
		}
	}

	for _, failed := range batch.FailedWithdrawals {
		if failed.Amount == nil || failed.Amount.Sign() <= 0 {
			continue
		}
		s.state.AdjustBalance(failed.Wallet, failed.Asset, failed.Amount)
		balances.Merge(failed.Wallet, failed.Asset, failed.Amount)
	}

	for _, failed := range batch.FailedSettlements {
		market, ok := s.state.Markets[failed.MarketId]
		if !ok {
			continue
		}
		book := market.Book
		notional := quant.Notional(failed.Amount, book.PriceAt(failed.LevelIx), book.BaseDecimals, book.QuoteDecimals)
		baseAsset := failed.MarketId.BaseAsset()
		quoteAsset := failed.MarketId.QuoteAsset()

		sellerQuote := new(big.Int).Neg(new(big.Int).Sub(notional, failed.SellerFee))
		buyerBase := new(big.Int).Neg(failed.Amount)
		buyerQuote := new(big.Int).Add(notional, failed.BuyerFee)

		s.state.AdjustBalance(failed.SellerWallet, baseAsset, failed.Amount)
		balances.Merge(failed.SellerWallet, baseAsset, failed.Amount)
		s.state.AdjustBalance(failed.SellerWallet, quoteAsset, sellerQuote)
		balances.Merge(failed.SellerWallet, quoteAsset, sellerQuote)
		s.state.AdjustBalance(failed.BuyerWallet, baseAsset, buyerBase)
		balances.Merge(failed.BuyerWallet, baseAsset, buyerBase)
		s.state.AdjustBalance(failed.BuyerWallet, quoteAsset, buyerQuote)
		balances.Merge(failed.BuyerWallet, quoteAsset, buyerQuote)
	}

	var touched []walletAsset
	balances.Each(func(wallet domain.WalletId, asset domain.Asset, _ *big.Int) {
		touched = append(touched, walletAsset{wallet, asset})
	})

	resp.BalancesChanged = balances.Changes()
	resp.OrdersChanged = append(resp.OrdersChanged, s.autoReduce(touched, resp)...)
}

// applyMarketResult merges one market's batch outcome into the state:
// balance deltas (clamped at zero), reservation deltas and trades. It
// returns the wallet/asset pairs whose balances moved, for auto-reduce.
func (s *Sequencer) applyMarketResult(result domain.ApplyResult, balances *domain.BalanceLedger, resp *event.Response) []walletAsset {
	var touched []walletAsset
	seen := make(map[walletAsset]bool)

	for _, change := range result.BalanceChanges {
		s.state.AdjustBalanceClamped(change.Wallet, change.Asset, change.Delta)
		balances.Merge(change.Wallet, change.Asset, change.Delta)
		key := walletAsset{change.Wallet, change.Asset}
		if !seen[key] {
			seen[key] = true
			touched = append(touched, key)
		}
	}

	for _, change := range result.ConsumptionChanges {
		if change.Delta.Sign() == 0 {
			continue
		}
		s.state.AdjustConsumed(change.Wallet, change.Asset, change.MarketId, change.Delta)
		resp.ConsumptionChanged = append(resp.ConsumptionChanged, change)
	}

	resp.TradesCreated = append(resp.TradesCreated, result.Trades...)
	return touched
}

// autoReduce shrinks resting orders in any market where a wallet now has
// more reserved than it holds. Runs after every balance movement.
func (s *Sequencer) autoReduce(touched []walletAsset, resp *event.Response) []domain.OrderChanged {
	var changed []domain.OrderChanged
	for _, key := range touched {
		byMarket, ok := s.state.Consumed[key.Wallet][key.Asset]
		if !ok {
			continue
		}
		marketIds := make([]domain.MarketId, 0, len(byMarket))
		for id := range byMarket {
			marketIds = append(marketIds, id)
		}
		sort.Slice(marketIds, func(i, j int) bool { return marketIds[i] < marketIds[j] })

		var group []domain.OrderChanged
		for _, marketId := range marketIds {
			balance := s.state.GetBalance(key.Wallet, key.Asset)
			if byMarket[marketId].Cmp(balance) <= 0 {
				continue
			}
			market, ok := s.state.Markets[marketId]
			if !ok {
				continue
			}
			releases := domain.NewConsumptionLedger()
			group = append(group, market.AutoReduce(key.Wallet, key.Asset, balance, releases)...)
			for _, change := range releases.Changes() {
				s.state.AdjustConsumed(change.Wallet, change.Asset, change.MarketId, change.Delta)
				resp.ConsumptionChanged = append(resp.ConsumptionChanged, change)
			}
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Guid < group[j].Guid })
		changed = append(changed, group...)
	}
	return changed
}

// adjustBatchForPercentageMarketOrders converts percentage-sized market
// orders into absolute amounts based on the wallet's free balance.
func (s *Sequencer) adjustBatchForPercentageMarketOrders(market *domain.Market, batch domain.OrderBatch) domain.OrderBatch {
	hasPercentage := false
	for _, order := range batch.OrdersToAdd {
		if order.Percentage > 0 && order.Type.IsMarket() {
			hasPercentage = true
			break
		}
	}
	if !hasPercentage {
		return batch
	}

	adjusted := batch
	adjusted.OrdersToAdd = make([]domain.Order, len(batch.OrdersToAdd))
	copy(adjusted.OrdersToAdd, batch.OrdersToAdd)
	for i := range adjusted.OrdersToAdd {
		order := &adjusted.OrdersToAdd[i]
		if order.Percentage == 0 || !order.Type.IsMarket() {
			continue
		}
		if order.Type == domain.MarketSell {
			balance := s.state.GetBalance(batch.Wallet, market.Id.BaseAsset())
			order.Amount = market.CalculateAmountForPercentageSell(batch.Wallet, balance, order.Percentage)
		} else {
			balance := s.state.GetBalance(batch.Wallet, market.Id.QuoteAsset())
			order.Amount, order.MaxAvailable = market.CalculateAmountForPercentageBuy(batch.Wallet, balance, order.Percentage, s.state.FeeRates.Taker)
		}
	}
	return adjusted
}

// checkLimits verifies the batch does not reserve more than the wallet
// holds: new orders add to the requirement, cancels give reservations
// back, and what existing orders already consume counts against the
// balance.
func (s *Sequencer) checkLimits(market *domain.Market, batch *domain.OrderBatch) event.ErrorCode {
	book := market.Book
	baseRequired := new(big.Int)
	quoteRequired := new(big.Int)
	baseTouched, quoteTouched := false, false

	for _, order := range batch.OrdersToAdd {
		switch order.Type {
		case domain.LimitSell, domain.MarketSell:
			baseRequired.Add(baseRequired, order.Amount)
			baseTouched = true
		case domain.LimitBuy:
			quoteRequired.Add(quoteRequired, quant.NotionalPlusFee(order.Amount, order.Price, book.BaseDecimals, book.QuoteDecimals, s.state.FeeRates.Maker))
			quoteTouched = true
		case domain.MarketBuy:
			// Quote needed depends on what the clearing price would be.
			clearingPrice, available := book.ClearingPriceAndQuantityForMarketBuy(order.Amount)
			if available.Sign() > 0 {
				quoteRequired.Add(quoteRequired, quant.Notional(available, clearingPrice, book.BaseDecimals, book.QuoteDecimals))
			}
			quoteTouched = true
		}
	}

	for _, guid := range batch.OrdersToCancel {
		order := book.FindOrder(guid)
		if order == nil || order.Wallet != batch.Wallet {
			continue
		}
		baseReserved, quoteReserved := book.AssetsReservedForOrder(order)
		if baseReserved.Sign() > 0 {
			baseRequired.Sub(baseRequired, baseReserved)
			baseTouched = true
		}
		if quoteReserved.Sign() > 0 {
			quoteRequired.Sub(quoteRequired, quoteReserved)
			quoteTouched = true
		}
	}

	if baseTouched {
		total := new(big.Int).Add(baseRequired, book.BaseAssetsRequired(batch.Wallet))
		if total.Cmp(s.state.GetBalance(batch.Wallet, market.Id.BaseAsset())) > 0 {
			return event.ErrExceedsLimit
		}
	}
	if quoteTouched {
		total := new(big.Int).Add(quoteRequired, book.QuoteAssetsRequired(batch.Wallet))
		if total.Cmp(s.state.GetBalance(batch.Wallet, market.Id.QuoteAsset())) > 0 {
			return event.ErrExceedsLimit
		}
	}
	return ""
}

func (s *Sequencer) buildStateDump() *event.StateDump {
	dump := &event.StateDump{FeeRates: s.state.FeeRates}

	wallets := make([]domain.WalletId, 0, len(s.state.Balances))
	for wallet := range s.state.Balances {
		wallets = append(wallets, wallet)
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i] < wallets[j] })
	for _, wallet := range wallets {
		byAsset := s.state.Balances[wallet]
		assets := make([]domain.Asset, 0, len(byAsset))
		for asset := range byAsset {
			assets = append(assets, asset)
		}
		sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
		for _, asset := range assets {
			dump.Balances = append(dump.Balances, event.BalanceEntry{
				Wallet:  wallet,
				Asset:   asset,
				Balance: new(big.Int).Set(byAsset[asset]),
			})
		}
	}

	for _, marketId := range s.state.MarketIds() {
		market := s.state.Markets[marketId]
		orderCount := 0
		market.Book.EachOccupiedLevel(func(level *domain.OrderBookLevel) {
			orderCount += level.OrderCount()
		})
		dump.Markets = append(dump.Markets, event.MarketStateEntry{
			MarketId:    marketId,
			TickSize:    market.Book.TickSize,
			MarketPrice: market.Book.MarketPrice,
			MinFee:      new(big.Int).Set(market.MinFee),
			OrderCount:  orderCount,
		})
	}

	feeAssets := make([]domain.Asset, 0, len(s.state.WithdrawalFees))
	for asset := range s.state.WithdrawalFees {
		feeAssets = append(feeAssets, asset)
	}
	sort.Slice(feeAssets, func(i, j int) bool { return feeAssets[i] < feeAssets[j] })
	for _, asset := range feeAssets {
		dump.WithdrawalFees = append(dump.WithdrawalFees, event.WithdrawalFee{
			Asset: asset,
			Fee:   new(big.Int).Set(s.state.WithdrawalFees[asset]),
		})
	}

	return dump
}
