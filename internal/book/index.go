package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// index is an ordered set of orders. Every comparator ends on the order id
// so two distinct orders never compare equal.
type index = btree.BTreeG[*Order]

func newIndex(less func(a, b *Order) bool) *index {
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

func byIDDesc(a, b *Order) bool { return a.ID > b.ID }

func ascending(key func(*Order) decimal.Decimal) func(a, b *Order) bool {
	return func(a, b *Order) bool {
		if c := key(a).Cmp(key(b)); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	}
}

func descending(key func(*Order) decimal.Decimal) func(a, b *Order) bool {
	return func(a, b *Order) bool {
		if c := key(a).Cmp(key(b)); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	}
}

func byExpiry(a, b *Order) bool {
	if a.ExpireTime != b.ExpireTime {
		return a.ExpireTime < b.ExpireTime
	}
	return a.ID < b.ID
}

func price(o *Order) decimal.Decimal { return o.Price }
func tp(o *Order) decimal.Decimal    { return o.TP }
func sl(o *Order) decimal.Decimal    { return o.SL }

// Index names one of a market's ordered sets.
type Index int

const (
	IndexBuys       Index = iota // price high to low
	IndexSells                   // price low to high
	IndexBuyTP                   // tp ascending
	IndexBuySL                   // sl descending
	IndexSellTP                  // tp descending
	IndexSellSL                  // sl ascending
	IndexLimitBuys               // price high to low
	IndexLimitSells              // price low to high
)
