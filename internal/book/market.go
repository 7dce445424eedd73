package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Market holds the open positions and pending orders of one symbol.
type Market struct {
	Name string

	orders  map[uint64]*Order
	users   map[uint64]*index
	margins map[uint64]decimal.Decimal

	buys    *index
	sells   *index
	tpBuys  *index
	slBuys  *index
	tpSells *index
	slSells *index

	pending      map[uint64]*Order
	pendingUsers map[uint64]*index
	limitBuys    *index
	limitSells   *index

	expiry *index // shared across the book
}

func newMarket(name string, expiry *index) *Market {
	return &Market{
		Name:         name,
		orders:       make(map[uint64]*Order),
		users:        make(map[uint64]*index),
		margins:      make(map[uint64]decimal.Decimal),
		buys:         newIndex(descending(price)),
		sells:        newIndex(ascending(price)),
		tpBuys:       newIndex(ascending(tp)),
		slBuys:       newIndex(descending(sl)),
		tpSells:      newIndex(descending(tp)),
		slSells:      newIndex(ascending(sl)),
		pending:      make(map[uint64]*Order),
		pendingUsers: make(map[uint64]*index),
		limitBuys:    newIndex(descending(price)),
		limitSells:   newIndex(ascending(price)),
		expiry:       expiry,
	}
}

// === Open positions ===

// Put inserts an open position into every open-side index.
func (m *Market) Put(o *Order) error {
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%s order %d: %w", m.Name, o.ID, ErrDuplicateID)
	}
	if _, ok := m.pending[o.ID]; ok {
		return fmt.Errorf("%s order %d: %w", m.Name, o.ID, ErrDuplicateID)
	}
	m.orders[o.ID] = o
	userIndex(m.users, o.SID).Set(o)
	if o.IsBuy() {
		m.buys.Set(o)
		if o.TP.IsPositive() {
			m.tpBuys.Set(o)
		}
		if o.SL.IsPositive() {
			m.slBuys.Set(o)
		}
	} else {
		m.sells.Set(o)
		if o.TP.IsPositive() {
			m.tpSells.Set(o)
		}
		if o.SL.IsPositive() {
			m.slSells.Set(o)
		}
	}
	return nil
}

// Remove takes an open position out of every index. The cached net margin
// of its account is kept.
func (m *Market) Remove(o *Order) {
	delete(m.orders, o.ID)
	if list, ok := m.users[o.SID]; ok {
		list.Delete(o)
		if list.Len() == 0 {
			delete(m.users, o.SID)
		}
	}
	if o.IsBuy() {
		m.buys.Delete(o)
		m.tpBuys.Delete(o)
		m.slBuys.Delete(o)
	} else {
		m.sells.Delete(o)
		m.tpSells.Delete(o)
		m.slSells.Delete(o)
	}
}

func (m *Market) Order(id uint64) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Orders lists an account's open positions, newest first.
func (m *Market) Orders(sid uint64) []*Order {
	list, ok := m.users[sid]
	if !ok {
		return nil
	}
	return list.Items()
}

// ExternalOrder finds an open position by its broker correlation id.
func (m *Market) ExternalOrder(sid, external uint64) (*Order, bool) {
	return findExternal(m.users[sid], external)
}

// Users lists accounts holding open positions, ascending.
func (m *Market) Users() []uint64 {
	out := make([]uint64, 0, len(m.users))
	for sid := range m.users {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UpdateTPSL moves o between trigger indices. A trigger is only reindexed
// when its value changes; zero removes it.
func (m *Market) UpdateTPSL(o *Order, newTP, newSL decimal.Decimal) {
	tpIdx, slIdx := m.tpSells, m.slSells
	if o.IsBuy() {
		tpIdx, slIdx = m.tpBuys, m.slBuys
	}
	tpChanged := !o.TP.Equal(newTP)
	slChanged := !o.SL.Equal(newSL)
	if tpChanged {
		tpIdx.Delete(o)
	}
	if slChanged {
		slIdx.Delete(o)
	}
	o.TP = newTP
	o.SL = newSL
	if tpChanged && newTP.IsPositive() {
		tpIdx.Set(o)
	}
	if slChanged && newSL.IsPositive() {
		slIdx.Set(o)
	}
}

// === Net margin cache ===

func (m *Market) CurMargin(sid uint64) (decimal.Decimal, bool) {
	v, ok := m.margins[sid]
	return v, ok
}

func (m *Market) SetCurMargin(sid uint64, v decimal.Decimal) {
	m.margins[sid] = v
}

// ResetMargins drops every cached net margin so it is rebuilt from positions.
func (m *Market) ResetMargins() {
	m.margins = make(map[uint64]decimal.Decimal)
}

// === Pending orders ===

// PutPending inserts a limit/break order, and into the book's expiry index
// when it expires.
func (m *Market) PutPending(o *Order) error {
	if _, ok := m.pending[o.ID]; ok {
		return fmt.Errorf("%s pending %d: %w", m.Name, o.ID, ErrDuplicateID)
	}
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%s pending %d: %w", m.Name, o.ID, ErrDuplicateID)
	}
	m.pending[o.ID] = o
	userIndex(m.pendingUsers, o.SID).Set(o)
	if o.IsBuy() {
		m.limitBuys.Set(o)
	} else {
		m.limitSells.Set(o)
	}
	if o.ExpireTime > 0 {
		m.expiry.Set(o)
	}
	return nil
}

// RemovePending takes a pending order out of the pending and expiry indices.
func (m *Market) RemovePending(o *Order) {
	delete(m.pending, o.ID)
	if list, ok := m.pendingUsers[o.SID]; ok {
		list.Delete(o)
		if list.Len() == 0 {
			delete(m.pendingUsers, o.SID)
		}
	}
	if o.IsBuy() {
		m.limitBuys.Delete(o)
	} else {
		m.limitSells.Delete(o)
	}
	if o.ExpireTime > 0 {
		m.expiry.Delete(o)
	}
}

func (m *Market) Pending(id uint64) (*Order, bool) {
	o, ok := m.pending[id]
	return o, ok
}

// PendingOrders lists an account's pending orders, newest first.
func (m *Market) PendingOrders(sid uint64) []*Order {
	list, ok := m.pendingUsers[sid]
	if !ok {
		return nil
	}
	return list.Items()
}

func (m *Market) ExternalPending(sid, external uint64) (*Order, bool) {
	return findExternal(m.pendingUsers[sid], external)
}

// === Ordered scans ===

func (m *Market) index(idx Index) *index {
	switch idx {
	case IndexBuys:
		return m.buys
	case IndexSells:
		return m.sells
	case IndexBuyTP:
		return m.tpBuys
	case IndexBuySL:
		return m.slBuys
	case IndexSellTP:
		return m.tpSells
	case IndexSellSL:
		return m.slSells
	case IndexLimitBuys:
		return m.limitBuys
	case IndexLimitSells:
		return m.limitSells
	}
	panic(fmt.Sprintf("book: unknown index %d", idx))
}

// Scan walks idx in order until fn returns false. fn must not mutate the market.
func (m *Market) Scan(idx Index, fn func(*Order) bool) {
	m.index(idx).Scan(fn)
}

func (m *Market) Len(idx Index) int {
	return m.index(idx).Len()
}

func (m *Market) OpenCount() int    { return len(m.orders) }
func (m *Market) PendingCount() int { return len(m.pending) }

// AllOrders lists every open position by ascending id.
func (m *Market) AllOrders() []*Order {
	return sortedByID(m.orders)
}

// AllPending lists every pending order by ascending id.
func (m *Market) AllPending() []*Order {
	return sortedByID(m.pending)
}

func userIndex(users map[uint64]*index, sid uint64) *index {
	list, ok := users[sid]
	if !ok {
		list = newIndex(byIDDesc)
		users[sid] = list
	}
	return list
}

func findExternal(list *index, external uint64) (*Order, bool) {
	if list == nil || external == 0 {
		return nil, false
	}
	var found *Order
	list.Scan(func(o *Order) bool {
		if o.External == external {
			found = o
			return false
		}
		return true
	})
	return found, found != nil
}

func sortedByID(orders map[uint64]*Order) []*Order {
	out := make([]*Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
