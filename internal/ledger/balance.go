package ledger

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceType identifies one balance kind of an account.
type BalanceType uint32

const (
	TypeBalance BalanceType = 1
	TypeEquity  BalanceType = 2
	TypeMargin  BalanceType = 3
	TypeFree    BalanceType = 4
	TypeFloat   BalanceType = 5

	// Legacy spot balances, keyed by plain account id.
	TypeAvailable BalanceType = 11
	TypeFreeze    BalanceType = 12
)

func (t BalanceType) String() string {
	switch t {
	case TypeBalance:
		return "balance"
	case TypeEquity:
		return "equity"
	case TypeMargin:
		return "margin"
	case TypeFree:
		return "free"
	case TypeFloat:
		return "float"
	case TypeAvailable:
		return "available"
	case TypeFreeze:
		return "freeze"
	default:
		return "unknown"
	}
}

var (
	ErrNegativeAmount = errors.New("ledger: negative amount")
	ErrNotFound       = errors.New("ledger: balance not found")
	ErrInsufficient   = errors.New("ledger: insufficient balance")
)

// Key addresses one stored amount. Legacy entries set Account; margin
// accounts use the split SID1/SID2 form produced by SplitKey.
type Key struct {
	Account uint32
	SID1    uint64
	SID2    uint64
	Type    BalanceType
}

// SplitKey builds the margin-account key for sid.
func SplitKey(sid uint64, t BalanceType) Key {
	return Key{SID1: sid / 100, SID2: sid % 100, Type: t}
}

// SID reassembles the margin-account id of a split key.
func (k Key) SID() uint64 {
	return k.SID1*100 + k.SID2
}

func accountKey(account uint32, t BalanceType) Key {
	return Key{Account: account, Type: t}
}

// Ledger is a sparse decimal store. Absent entries read as zero and
// checked operations delete entries that reach exactly zero.
//
// Not safe for concurrent use; the engine loop owns it.
type Ledger struct {
	balances map[Key]decimal.Decimal
}

func New() *Ledger {
	return &Ledger{balances: make(map[Key]decimal.Decimal)}
}

// === Core store ===

func (l *Ledger) get(k Key) (decimal.Decimal, bool) {
	v, ok := l.balances[k]
	return v, ok
}

func (l *Ledger) set(k Key, amount decimal.Decimal) (decimal.Decimal, error) {
	switch amount.Sign() {
	case -1:
		return decimal.Zero, ErrNegativeAmount
	case 0:
		delete(l.balances, k)
		return decimal.Zero, nil
	}
	l.balances[k] = amount
	return amount, nil
}

func (l *Ledger) add(k Key, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	if cur, ok := l.balances[k]; ok {
		return l.set(k, cur.Add(amount))
	}
	return l.set(k, amount)
}

func (l *Ledger) sub(k Key, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	cur, ok := l.balances[k]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if cur.LessThan(amount) {
		return decimal.Zero, ErrInsufficient
	}
	return l.set(k, cur.Sub(amount))
}

// === Legacy account view ===

func (l *Ledger) Get(account uint32, t BalanceType) (decimal.Decimal, bool) {
	return l.get(accountKey(account, t))
}

// Set stores amount. Zero deletes the entry; negative amounts are rejected.
func (l *Ledger) Set(account uint32, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.set(accountKey(account, t), amount)
}

func (l *Ledger) Add(account uint32, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.add(accountKey(account, t), amount)
}

// Sub fails when the entry is absent or smaller than amount. A result of
// exactly zero deletes the entry and returns decimal.Zero with a nil error.
func (l *Ledger) Sub(account uint32, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.sub(accountKey(account, t), amount)
}

// Freeze moves amount from available to frozen and returns the remaining available.
func (l *Ledger) Freeze(account uint32, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.move(account, TypeAvailable, TypeFreeze, amount)
}

// Unfreeze moves amount from frozen back to available and returns the remaining frozen.
func (l *Ledger) Unfreeze(account uint32, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.move(account, TypeFreeze, TypeAvailable, amount)
}

func (l *Ledger) move(account uint32, from, to BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	src, ok := l.Get(account, from)
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if src.LessThan(amount) {
		return decimal.Zero, ErrInsufficient
	}
	if _, err := l.Add(account, to, amount); err != nil {
		return decimal.Zero, err
	}
	return l.Sub(account, from, amount)
}

// Total is available plus frozen.
func (l *Ledger) Total(account uint32) decimal.Decimal {
	avail, _ := l.Get(account, TypeAvailable)
	frozen, _ := l.Get(account, TypeFreeze)
	return avail.Add(frozen)
}

// === Margin account view ===

func (l *Ledger) GetV2(sid uint64, t BalanceType) (decimal.Decimal, bool) {
	return l.get(SplitKey(sid, t))
}

// Amount is GetV2 with absent treated as zero.
func (l *Ledger) Amount(sid uint64, t BalanceType) decimal.Decimal {
	v, _ := l.get(SplitKey(sid, t))
	return v
}

func (l *Ledger) SetV2(sid uint64, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.set(SplitKey(sid, t), amount)
}

func (l *Ledger) AddV2(sid uint64, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.add(SplitKey(sid, t), amount)
}

func (l *Ledger) SubV2(sid uint64, t BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.sub(SplitKey(sid, t), amount)
}

// === Unchecked signed accumulators ===
//
// The float family never rejects and never deletes: it carries live PnL
// and the few postings that may legitimately drive a balance negative.

func (l *Ledger) SetFloat(sid uint64, t BalanceType, amount decimal.Decimal) decimal.Decimal {
	l.balances[SplitKey(sid, t)] = amount
	return amount
}

func (l *Ledger) AddFloat(sid uint64, t BalanceType, amount decimal.Decimal) decimal.Decimal {
	k := SplitKey(sid, t)
	v := l.balances[k].Add(amount)
	l.balances[k] = v
	return v
}

func (l *Ledger) SubFloat(sid uint64, t BalanceType, amount decimal.Decimal) decimal.Decimal {
	k := SplitKey(sid, t)
	v := l.balances[k].Sub(amount)
	l.balances[k] = v
	return v
}

// === Enumeration ===

// Entry is one stored amount, used by snapshots and state digests.
type Entry struct {
	Key    Key
	Amount decimal.Decimal
}

// Entries returns every stored amount in key order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, v := range l.balances {
		out = append(out, Entry{Key: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Restore replaces the store contents.
func (l *Ledger) Restore(entries []Entry) {
	l.balances = make(map[Key]decimal.Decimal, len(entries))
	for _, e := range entries {
		l.balances[e.Key] = e.Amount
	}
}

func (l *Ledger) Len() int {
	return len(l.balances)
}

// Accounts lists every margin-account sid that has at least one entry.
func (l *Ledger) Accounts() []uint64 {
	seen := make(map[uint64]struct{})
	for k := range l.balances {
		if k.Account == 0 {
			seen[k.SID()] = struct{}{}
		}
	}
	out := make([]uint64, 0, len(seen))
	for sid := range seen {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k Key) less(o Key) bool {
	if k.Account != o.Account {
		return k.Account < o.Account
	}
	if k.SID1 != o.SID1 {
		return k.SID1 < o.SID1
	}
	if k.SID2 != o.SID2 {
		return k.SID2 < o.SID2
	}
	return k.Type < o.Type
}
