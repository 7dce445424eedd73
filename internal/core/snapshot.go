package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Image is a point-in-time copy of the engine state. The net margin cache
// is not part of it: it is recovered from positions on first use.
type Image struct {
	ID          string         `json:"id"`
	Time        float64        `json:"time"`
	LastOplogID uint64         `json:"last_oplog_id"`
	LastOrderID uint64         `json:"last_order_id"`
	LastSwap    int64          `json:"last_swap"`
	StateHash   string         `json:"state_hash"`
	Balances    []ledger.Entry `json:"balances"`
	Positions   []*book.Order  `json:"positions"`
	Pending     []*book.Order  `json:"pending"`
}

// Image copies the current state.
func (e *Engine) Image() *Image {
	return &Image{
		Time:        unix(e.now()),
		LastOplogID: e.seq.Last(),
		LastOrderID: e.book.LastID(),
		LastSwap:    e.lastSwap.Unix(),
		StateHash:   e.hasher.Tip(),
		Balances:    e.ledger.Entries(),
		Positions:   clones(e.book.AllPositions()),
		Pending:     clones(e.book.AllPending()),
	}
}

// Snapshot hands an image to the persistence worker behind every entry
// already sent.
func (e *Engine) Snapshot() *Image {
	img := e.Image()
	e.send(Output{Snapshot: img})
	return img
}

// Restore loads an image into a freshly constructed engine. Entries after
// img.LastOplogID are then replayed.
func (e *Engine) Restore(img *Image) error {
	if e.seq.Last() != 0 || e.book.LastID() != 0 || e.ledger.Len() != 0 {
		return fmt.Errorf("restore: engine is not empty")
	}
	if err := e.hasher.Reset(img.StateHash); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	e.ledger.Restore(img.Balances)
	if err := e.book.Restore(clones(img.Positions), clones(img.Pending), img.LastOrderID); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	e.seq.SetLast(img.LastOplogID)
	if img.LastSwap > 0 {
		e.lastSwap = time.Unix(img.LastSwap, 0).In(e.cfg.Location)
	}
	return nil
}

// digestOrder drops the mark-to-market fields of an open position. They
// move with every sweep and are not reproduced by replay.
type digestOrder struct {
	ID          uint64          `json:"id"`
	Kind        book.Kind       `json:"type"`
	Side        book.Side       `json:"side"`
	External    uint64          `json:"external"`
	CreateTime  float64         `json:"create_time"`
	UpdateTime  float64         `json:"update_time"`
	ExpireTime  uint64          `json:"expire_time"`
	SID         uint64          `json:"sid"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Lot         decimal.Decimal `json:"lot"`
	Margin      decimal.Decimal `json:"margin"`
	Fee         decimal.Decimal `json:"fee"`
	Swap        decimal.Decimal `json:"swap"`
	Swaps       decimal.Decimal `json:"swaps"`
	TP          decimal.Decimal `json:"tp"`
	SL          decimal.Decimal `json:"sl"`
	MarginPrice decimal.Decimal `json:"margin_price"`
	Comment     string          `json:"comment"`
}

func toDigest(in []*book.Order) []digestOrder {
	out := make([]digestOrder, len(in))
	for i, o := range in {
		out[i] = digestOrder{
			ID: o.ID, Kind: o.Kind, Side: o.Side, External: o.External,
			CreateTime: o.CreateTime, UpdateTime: o.UpdateTime, ExpireTime: o.ExpireTime,
			SID: o.SID, Symbol: o.Symbol,
			Price: o.Price, Lot: o.Lot, Margin: o.Margin, Fee: o.Fee, Swap: o.Swap, Swaps: o.Swaps,
			TP: o.TP, SL: o.SL, MarginPrice: o.MarginPrice, Comment: o.Comment,
		}
	}
	return out
}

// StateDigest hashes the canonical ledger and book. FLOAT balances and
// the mark-to-market fields of positions are left out, so a live engine
// and a replay of its op-log agree.
func (e *Engine) StateDigest() string {
	var balances []ledger.Entry
	for _, en := range e.ledger.Entries() {
		if en.Key.Type == ledger.TypeFloat {
			continue
		}
		balances = append(balances, ledger.Entry{Key: en.Key, Amount: en.Amount.Round(ledger.PrecPrice)})
	}
	doc := struct {
		LastOrderID uint64         `json:"last_order_id"`
		Balances    []ledger.Entry `json:"balances"`
		Positions   []digestOrder  `json:"positions"`
		Pending     []digestOrder  `json:"pending"`
	}{
		LastOrderID: e.book.LastID(),
		Balances:    balances,
		Positions:   toDigest(e.book.AllPositions()),
		Pending:     toDigest(e.book.AllPending()),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("FATAL: state digest: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
