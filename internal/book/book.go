package book

import (
	"fmt"
	"sort"
)

// Book owns every market and the process-wide expiry index.
//
// Not safe for concurrent use; the engine loop owns it.
type Book struct {
	markets map[string]*Market
	names   []string
	expiry  *index
	lastID  uint64
}

func New() *Book {
	return &Book{
		markets: make(map[string]*Market),
		expiry:  newIndex(byExpiry),
	}
}

// AddMarket registers a symbol. Adding an existing name returns the
// existing market.
func (b *Book) AddMarket(name string) *Market {
	if m, ok := b.markets[name]; ok {
		return m
	}
	m := newMarket(name, b.expiry)
	b.markets[name] = m
	b.names = append(b.names, name)
	return m
}

// Market returns nil for an unknown symbol.
func (b *Book) Market(name string) *Market {
	return b.markets[name]
}

// Markets lists markets in registration order.
func (b *Book) Markets() []*Market {
	out := make([]*Market, 0, len(b.names))
	for _, n := range b.names {
		out = append(out, b.markets[n])
	}
	return out
}

// NextID allocates the next order id.
func (b *Book) NextID() uint64 {
	b.lastID++
	return b.lastID
}

func (b *Book) LastID() uint64 { return b.lastID }

func (b *Book) SetLastID(id uint64) { b.lastID = id }

// Expired returns the pending orders due at or before now, earliest first.
func (b *Book) Expired(now float64) []*Order {
	var out []*Order
	b.expiry.Scan(func(o *Order) bool {
		if float64(o.ExpireTime) > now {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

func (b *Book) ExpiryLen() int { return b.expiry.Len() }

// Positions lists an account's open positions across markets.
func (b *Book) Positions(sid uint64) []*Order {
	var out []*Order
	for _, m := range b.Markets() {
		out = append(out, m.Orders(sid)...)
	}
	return out
}

// PendingOrders lists an account's pending orders across markets.
func (b *Book) PendingOrders(sid uint64) []*Order {
	var out []*Order
	for _, m := range b.Markets() {
		out = append(out, m.PendingOrders(sid)...)
	}
	return out
}

// Restore loads positions and pending orders into their markets. Markets
// must already be registered. lastID is raised to the highest id seen.
func (b *Book) Restore(positions, pending []*Order, lastID uint64) error {
	for _, o := range positions {
		m := b.markets[o.Symbol]
		if m == nil {
			return fmt.Errorf("restore order %d: unknown market %s", o.ID, o.Symbol)
		}
		if err := m.Put(o); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		if o.ID > lastID {
			lastID = o.ID
		}
	}
	for _, o := range pending {
		m := b.markets[o.Symbol]
		if m == nil {
			return fmt.Errorf("restore pending %d: unknown market %s", o.ID, o.Symbol)
		}
		if err := m.PutPending(o); err != nil {
			return fmt.Errorf("restore pending %d: %w", o.ID, err)
		}
		if o.ID > lastID {
			lastID = o.ID
		}
	}
	b.lastID = lastID
	return nil
}

// AllPositions and AllPending list every order by ascending id, for
// snapshots and state digests.
func (b *Book) AllPositions() []*Order {
	var out []*Order
	for _, m := range b.Markets() {
		out = append(out, m.AllOrders()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Book) AllPending() []*Order {
	var out []*Order
	for _, m := range b.Markets() {
		out = append(out, m.AllPending()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
