package price

import (
	"sync"
	"time"

	"MarginLedger/internal/symbol"

	"github.com/shopspring/decimal"
)

// Quote is the last bid/ask seen for a symbol.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Cache holds the latest quote per symbol. Writers are the tick feed;
// readers are the engine loop and the RPC handlers.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	fixed  map[string]bool
}

func NewCache(fixed []symbol.FixedQuote) *Cache {
	c := &Cache{
		quotes: make(map[string]Quote),
		fixed:  make(map[string]bool, len(fixed)),
	}
	for _, q := range fixed {
		c.quotes[q.Symbol] = Quote{Symbol: q.Symbol, Bid: q.Bid, Ask: q.Ask}
		c.fixed[q.Symbol] = true
	}
	return c
}

// Update stores a tick. It reports false for pinned symbols, whose quote
// never changes.
func (c *Cache) Update(q Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fixed[q.Symbol] {
		return false
	}
	c.quotes[q.Symbol] = q
	return true
}

// Bid is zero for an unknown symbol.
func (c *Cache) Bid(sym string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quotes[sym].Bid
}

// Ask is zero for an unknown symbol.
func (c *Cache) Ask(sym string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quotes[sym].Ask
}

func (c *Cache) Quote(sym string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[sym]
	return q, ok
}

// Snapshot copies every quote, for status queries.
func (c *Cache) Snapshot() []Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}
