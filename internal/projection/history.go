package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/persistence"
)

// PendingStatus is the state of a pending order in history.pending.
type PendingStatus int

const (
	PendingOpen      PendingStatus = 0
	PendingActivated PendingStatus = 1
	PendingCancelled PendingStatus = 2
	PendingExpired   PendingStatus = 3
)

// HistoryWriter stores balance changes, positions and pending orders for
// reporting. History is derived data: a failed write is logged and counted
// by the caller, never retried into the engine.
type HistoryWriter struct {
	store     *persistence.Store
	balance   string
	positions string
	pending   string

	healthy atomic.Bool
}

func NewHistoryWriter(store *persistence.Store) *HistoryWriter {
	w := &HistoryWriter{
		store:     store,
		balance:   store.HistoryTable("balance"),
		positions: store.HistoryTable("positions"),
		pending:   store.HistoryTable("pending"),
	}
	w.healthy.Store(true)
	return w
}

// Healthy is false after a failed write until the next one succeeds.
func (w *HistoryWriter) Healthy() bool { return w.healthy.Load() }

func (w *HistoryWriter) exec(ctx context.Context, query string, args ...any) error {
	_, err := w.store.DB().ExecContext(ctx, w.store.Rebind(query), args...)
	w.healthy.Store(err == nil)
	return err
}

// Apply writes the history row a notification describes. Published kinds
// are ignored.
func (w *HistoryWriter) Apply(ctx context.Context, n core.Notification) error {
	switch n.Kind {
	case core.NoteBalanceHistory:
		return w.WriteBalance(ctx, n.Balance)
	case core.NotePositionOpen:
		return w.AppendPosition(ctx, n.Order)
	case core.NotePositionFinish:
		return w.FinishPosition(ctx, n.Order)
	case core.NoteLimitPlace:
		return w.AppendPending(ctx, n.Order)
	case core.NoteLimitFinish:
		status := PendingCancelled
		switch {
		case n.Activated:
			status = PendingActivated
		case n.Event == core.EventExpire:
			status = PendingExpired
		}
		return w.FinishPending(ctx, n.Order, status)
	}
	return nil
}

func (w *HistoryWriter) WriteBalance(ctx context.Context, r *core.BalanceRecord) error {
	err := w.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (time, sid, order_id, business, change, balance, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.balance), r.Time, int64(r.SID), int64(r.OrderID), int(r.Business), r.Change.String(), r.Balance.String(), r.Comment)
	if err != nil {
		return fmt.Errorf("balance history sid=%d: %w", r.SID, err)
	}
	return nil
}

// AppendPosition records an opened position.
func (w *HistoryWriter) AppendPosition(ctx context.Context, o *book.Order) error {
	err := w.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(order_id, sid, symbol, side, type, external, lot, price, margin, fee, tp, sl, create_time, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id) DO NOTHING
	`, w.positions), int64(o.ID), int64(o.SID), o.Symbol, int(o.Side), int(o.Kind), int64(o.External),
		o.Lot.String(), o.Price.String(), o.Margin.String(), o.Fee.String(), o.TP.String(), o.SL.String(),
		o.CreateTime, o.Comment)
	if err != nil {
		return fmt.Errorf("append position %d: %w", o.ID, err)
	}
	return nil
}

// FinishPosition records a closed position. A position opened before
// history was attached is inserted whole.
func (w *HistoryWriter) FinishPosition(ctx context.Context, o *book.Order) error {
	err := w.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(order_id, sid, symbol, side, type, external, lot, price, margin, fee, tp, sl, create_time,
			 close_price, profit, swaps, finish_time, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (order_id) DO UPDATE SET
			close_price = excluded.close_price,
			profit = excluded.profit,
			swaps = excluded.swaps,
			finish_time = excluded.finish_time,
			comment = excluded.comment
	`, w.positions), int64(o.ID), int64(o.SID), o.Symbol, int(o.Side), int(o.Kind), int64(o.External),
		o.Lot.String(), o.Price.String(), o.Margin.String(), o.Fee.String(), o.TP.String(), o.SL.String(),
		o.CreateTime, o.ClosePrice.String(), o.Profit.String(), o.Swaps.String(), o.FinishTime, o.Comment)
	if err != nil {
		return fmt.Errorf("finish position %d: %w", o.ID, err)
	}
	return nil
}

// AppendPending records a placed limit or stop order.
func (w *HistoryWriter) AppendPending(ctx context.Context, o *book.Order) error {
	err := w.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(order_id, sid, symbol, side, type, external, lot, price, tp, sl, create_time, expire_time, status, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id) DO NOTHING
	`, w.pending), int64(o.ID), int64(o.SID), o.Symbol, int(o.Side), int(o.Kind), int64(o.External),
		o.Lot.String(), o.Price.String(), o.TP.String(), o.SL.String(), o.CreateTime, int64(o.ExpireTime),
		int(PendingOpen), o.Comment)
	if err != nil {
		return fmt.Errorf("append pending %d: %w", o.ID, err)
	}
	return nil
}

func (w *HistoryWriter) FinishPending(ctx context.Context, o *book.Order, status PendingStatus) error {
	finish := o.FinishTime
	if status == PendingActivated {
		finish = o.UpdateTime
	}
	err := w.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(order_id, sid, symbol, side, type, external, lot, price, tp, sl, create_time, expire_time,
			 status, finish_time, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (order_id) DO UPDATE SET
			status = excluded.status,
			finish_time = excluded.finish_time,
			comment = excluded.comment
	`, w.pending), int64(o.ID), int64(o.SID), o.Symbol, int(o.Side), int(o.Kind), int64(o.External),
		o.Lot.String(), o.Price.String(), o.TP.String(), o.SL.String(), o.CreateTime, int64(o.ExpireTime),
		int(status), finish, o.Comment)
	if err != nil {
		return fmt.Errorf("finish pending %d: %w", o.ID, err)
	}
	return nil
}

// BalanceRow is one stored balance history row.
type BalanceRow struct {
	Time     float64       `json:"time"`
	SID      uint64        `json:"sid"`
	OrderID  uint64        `json:"order_id"`
	Business core.Business `json:"business"`
	Change   string        `json:"change"`
	Balance  string        `json:"balance"`
	Comment  string        `json:"comment"`
}

// Balances returns the latest limit balance rows of sid, newest first.
func (w *HistoryWriter) Balances(ctx context.Context, sid uint64, limit int) ([]BalanceRow, error) {
	rows, err := w.store.DB().QueryContext(ctx, w.store.Rebind(fmt.Sprintf(`
		SELECT time, sid, order_id, business, change, balance, comment
		FROM %s
		WHERE sid = $1
		ORDER BY id DESC
		LIMIT $2
	`, w.balance)), int64(sid), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var (
			r        BalanceRow
			s, order int64
			business int
		)
		if err := rows.Scan(&r.Time, &s, &order, &business, &r.Change, &r.Balance, &r.Comment); err != nil {
			return nil, err
		}
		r.SID, r.OrderID, r.Business = uint64(s), uint64(order), core.Business(business)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PendingStatusOf returns the stored status of a pending order.
func (w *HistoryWriter) PendingStatusOf(ctx context.Context, orderID uint64) (PendingStatus, error) {
	var status int
	err := w.store.DB().QueryRowContext(ctx, w.store.Rebind(fmt.Sprintf(
		`SELECT status FROM %s WHERE order_id = $1`, w.pending)), int64(orderID)).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("pending %d: %w", orderID, book.ErrOrderNotFound)
	}
	return PendingStatus(status), err
}
