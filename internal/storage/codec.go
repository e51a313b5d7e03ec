package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"dex_go/internal/domain"
	"dex_go/pkg/quant"
)

// Binary checkpoint layout: a fixed header, then the sequencer state as
// little-endian length-prefixed fields. Decimals travel as strings so
// their scale survives the trip.
var checkpointMagic = [4]byte{'D', 'E', 'X', 'C'}

const checkpointVersion = 1

type cpWriter struct {
	buf bytes.Buffer
}

func (w *cpWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *cpWriter) u32(v uint32) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *cpWriter) u64(v uint64) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *cpWriter) i32(v int32)  { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *cpWriter) i64(v int64)  { binary.Write(&w.buf, binary.LittleEndian, v) }

func (w *cpWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *cpWriter) big(v *big.Int) {
	if v == nil || v.Sign() == 0 {
		w.u8(0)
		return
	}
	if v.Sign() > 0 {
		w.u8(1)
	} else {
		w.u8(2)
	}
	b := v.Bytes()
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

type cpReader struct {
	r   *bytes.Reader
	err error
}

func (r *cpReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	r.err = err
	return b
}

func (r *cpReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *cpReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	var v uint64
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *cpReader) i32() int32 {
	if r.err != nil {
		return 0
	}
	var v int32
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *cpReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	var v int64
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *cpReader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if int64(n) > int64(r.r.Len()) {
		r.err = fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.r.Len())
		return ""
	}
	b := make([]byte, n)
	_, r.err = r.r.Read(b)
	return string(b)
}

func (r *cpReader) big() *big.Int {
	sign := r.u8()
	if r.err != nil || sign == 0 {
		return new(big.Int)
	}
	n := r.u32()
	if r.err != nil {
		return new(big.Int)
	}
	if int64(n) > int64(r.r.Len()) {
		r.err = fmt.Errorf("big.Int length %d exceeds remaining %d bytes", n, r.r.Len())
		return new(big.Int)
	}
	b := make([]byte, n)
	if _, r.err = r.r.Read(b); r.err != nil {
		return new(big.Int)
	}
	v := new(big.Int).SetBytes(b)
	if sign == 2 {
		v.Neg(v)
	}
	return v
}

// EncodeCheckpoint serializes a checkpoint. Map keys are written in
// sorted order so the same state always produces the same bytes.
func EncodeCheckpoint(cp *Checkpoint) []byte {
	w := &cpWriter{}
	w.buf.Write(checkpointMagic[:])
	w.u8(checkpointVersion)
	w.u64(cp.Seq)

	state := cp.State
	w.u64(uint64(state.FeeRates.Maker))
	w.u64(uint64(state.FeeRates.Taker))

	assets := make([]domain.Asset, 0, len(state.WithdrawalFees))
	for asset := range state.WithdrawalFees {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	w.u32(uint32(len(assets)))
	for _, asset := range assets {
		w.str(string(asset))
		w.big(state.WithdrawalFees[asset])
	}

	wallets := sortedWallets(state.Balances)
	w.u32(uint32(len(wallets)))
	for _, wallet := range wallets {
		w.i64(int64(wallet))
		byAsset := state.Balances[wallet]
		walletAssets := sortedAssets(byAsset)
		w.u32(uint32(len(walletAssets)))
		for _, asset := range walletAssets {
			w.str(string(asset))
			w.big(byAsset[asset])
		}
	}

	consumedWallets := sortedWallets(state.Consumed)
	w.u32(uint32(len(consumedWallets)))
	for _, wallet := range consumedWallets {
		w.i64(int64(wallet))
		byAsset := state.Consumed[wallet]
		walletAssets := sortedAssets(byAsset)
		w.u32(uint32(len(walletAssets)))
		for _, asset := range walletAssets {
			w.str(string(asset))
			byMarket := byAsset[asset]
			marketIds := make([]domain.MarketId, 0, len(byMarket))
			for id := range byMarket {
				marketIds = append(marketIds, id)
			}
			sort.Slice(marketIds, func(i, j int) bool { return marketIds[i] < marketIds[j] })
			w.u32(uint32(len(marketIds)))
			for _, id := range marketIds {
				w.str(string(id))
				w.big(byMarket[id])
			}
		}
	}

	marketIds := state.MarketIds()
	w.u32(uint32(len(marketIds)))
	for _, id := range marketIds {
		encodeMarket(w, state.Markets[id])
	}

	return w.buf.Bytes()
}

func encodeMarket(w *cpWriter, market *domain.Market) {
	book := market.Book
	w.str(string(market.Id))
	w.str(book.TickSize.String())
	w.str(book.MarketPrice.String())
	w.u32(uint32(book.MaxLevels))
	w.u32(uint32(book.MaxOrdersPerLevel))
	w.i32(book.BaseDecimals)
	w.i32(book.QuoteDecimals)
	w.big(market.MinFee)

	minBidIx, maxOfferIx := book.Watermarks()
	w.i32(int32(minBidIx))
	w.i32(int32(maxOfferIx))

	w.u32(uint32(book.OccupiedLevels()))
	book.EachOccupiedLevel(func(level *domain.OrderBookLevel) {
		w.u32(uint32(level.Ix))
		if level.Side == domain.Buy {
			w.u8(0)
		} else {
			w.u8(1)
		}
		w.u32(uint32(level.OrderCount()))
		level.EachOrder(func(order *domain.LevelOrder) {
			w.i64(int64(order.Guid))
			w.i64(int64(order.Wallet))
			w.big(order.Quantity)
			w.big(order.OriginalAmount)
			w.u64(uint64(order.FeeRate))
		})
	})
}

// DecodeCheckpoint rebuilds a checkpoint from its binary form.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	r := &cpReader{r: bytes.NewReader(data)}

	var magic [4]byte
	for i := range magic {
		magic[i] = r.u8()
	}
	if r.err != nil || magic != checkpointMagic {
		return nil, fmt.Errorf("not a checkpoint file")
	}
	if version := r.u8(); version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}

	cp := &Checkpoint{State: domain.NewSequencerState()}
	state := cp.State
	cp.Seq = r.u64()
	state.FeeRates.Maker = quant.FeeRate(r.u64())
	state.FeeRates.Taker = quant.FeeRate(r.u64())

	for i, n := 0, int(r.u32()); i < n && r.err == nil; i++ {
		asset := domain.Asset(r.str())
		state.WithdrawalFees[asset] = r.big()
	}

	for i, n := 0, int(r.u32()); i < n && r.err == nil; i++ {
		wallet := domain.WalletId(r.i64())
		for j, m := 0, int(r.u32()); j < m && r.err == nil; j++ {
			asset := domain.Asset(r.str())
			state.AdjustBalance(wallet, asset, r.big())
		}
	}

	for i, n := 0, int(r.u32()); i < n && r.err == nil; i++ {
		wallet := domain.WalletId(r.i64())
		for j, m := 0, int(r.u32()); j < m && r.err == nil; j++ {
			asset := domain.Asset(r.str())
			for k, p := 0, int(r.u32()); k < p && r.err == nil; k++ {
				marketId := domain.MarketId(r.str())
				state.AdjustConsumed(wallet, asset, marketId, r.big())
			}
		}
	}

	for i, n := 0, int(r.u32()); i < n && r.err == nil; i++ {
		market, err := decodeMarket(r)
		if err != nil {
			return nil, err
		}
		state.Markets[market.Id] = market
	}

	if r.err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", r.err)
	}
	return cp, nil
}

func decodeMarket(r *cpReader) (*domain.Market, error) {
	id := domain.MarketId(r.str())
	tickSizeStr := r.str()
	marketPriceStr := r.str()
	maxLevels := int(r.u32())
	maxOrdersPerLevel := int(r.u32())
	baseDecimals := r.i32()
	quoteDecimals := r.i32()
	minFee := r.big()
	minBidIx := int(r.i32())
	maxOfferIx := int(r.i32())
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode market header: %w", r.err)
	}

	tickSize, err := quant.ParseDecimal(tickSizeStr)
	if err != nil {
		return nil, fmt.Errorf("bad tick size in checkpoint: %w", err)
	}
	marketPrice, err := quant.ParseDecimal(marketPriceStr)
	if err != nil {
		return nil, fmt.Errorf("bad market price in checkpoint: %w", err)
	}

	market := domain.NewMarket(id, tickSize, marketPrice, maxLevels, maxOrdersPerLevel, baseDecimals, quoteDecimals)
	market.MinFee = minFee

	for i, n := 0, int(r.u32()); i < n && r.err == nil; i++ {
		ix := int(r.u32())
		side := domain.Sell
		if r.u8() == 0 {
			side = domain.Buy
		}
		orders := make([]domain.LevelOrder, int(r.u32()))
		for j := range orders {
			orders[j] = domain.LevelOrder{
				Guid:           domain.OrderId(r.i64()),
				Wallet:         domain.WalletId(r.i64()),
				Quantity:       r.big(),
				OriginalAmount: r.big(),
				FeeRate:        quant.FeeRate(r.u64()),
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("failed to decode level %d of %s: %w", ix, id, r.err)
		}
		market.Book.RestoreLevel(ix, side, orders)
	}
	market.Book.RestoreWatermarks(minBidIx, maxOfferIx)

	return market, nil
}

func sortedWallets[V any](m map[domain.WalletId]V) []domain.WalletId {
	wallets := make([]domain.WalletId, 0, len(m))
	for wallet := range m {
		wallets = append(wallets, wallet)
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i] < wallets[j] })
	return wallets
}

func sortedAssets[V any](m map[domain.Asset]V) []domain.Asset {
	assets := make([]domain.Asset, 0, len(m))
	for asset := range m {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}
