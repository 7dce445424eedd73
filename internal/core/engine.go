package core

import (
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/symbol"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quotes is the read side of the price cache. Unknown symbols read as zero.
type Quotes interface {
	Bid(symbol string) decimal.Decimal
	Ask(symbol string) decimal.Decimal
}

// EventCode tags an outbound order event.
type EventCode int

const (
	EventOpen   EventCode = 1
	EventUpdate EventCode = 2
	EventClose  EventCode = 3
	EventTPSL   EventCode = 4
	EventStop   EventCode = 5
	EventLimit  EventCode = 6
	EventCancel EventCode = 7
	EventExpire EventCode = 8
)

func (c EventCode) String() string {
	switch c {
	case EventOpen:
		return "open"
	case EventUpdate:
		return "update"
	case EventClose:
		return "close"
	case EventTPSL:
		return "tpsl"
	case EventStop:
		return "stop"
	case EventLimit:
		return "limit"
	case EventCancel:
		return "cancel"
	case EventExpire:
		return "expire"
	default:
		return "unknown"
	}
}

// Business classifies a balance history row.
type Business int

const (
	BusinessUpdate Business = 1
	BusinessTrade  Business = 2
)

// NotificationKind says where a Notification goes: order events and
// balance messages are published, the rest are history rows.
type NotificationKind int

const (
	NoteOrderEvent NotificationKind = iota + 1
	NoteBalanceMessage
	NoteBalanceHistory
	NotePositionOpen
	NotePositionFinish
	NoteLimitPlace
	NoteLimitFinish
)

// BalanceRecord is one balance change as published and stored.
type BalanceRecord struct {
	Time     float64
	SID      uint64
	OrderID  uint64
	Business Business
	Change   decimal.Decimal
	Balance  decimal.Decimal
	Comment  string
}

// Notification is emitted only while executing live. Order is a detached
// copy and may be read from any goroutine.
type Notification struct {
	Kind      NotificationKind
	Event     EventCode
	Order     *book.Order
	Balance   *BalanceRecord
	Activated bool // NoteLimitFinish: activated rather than cancelled or expired
}

// Output is what the engine hands to the persistence worker, in order.
type Output struct {
	Entry    *command.Entry
	Snapshot *Image
}

// Config holds engine settings.
type Config struct {
	StopOutLevel decimal.Decimal
	// Location is the local time used for swap days and the swap weekday gate.
	Location *time.Location
	Clock    func() time.Time
}

// Outputs are the engine's channels. Persist is sent to blocking; Notify
// drops when full. Either may be nil.
type Outputs struct {
	Persist chan<- Output
	Notify  chan<- Notification
}

// Engine owns the ledger, the order book and every piece of mutable state
// of the trading core.
//
// Not safe for concurrent use: all calls happen on the engine loop (see Run).
type Engine struct {
	cfg    Config
	dir    *symbol.Directory
	quotes Quotes

	ledger *ledger.Ledger
	book   *book.Book
	hasher *StateHasher
	seq    *SequenceValidator

	// real is set while a live command executes; history, notifications
	// and op-log appends happen only then.
	real bool

	lastSwap time.Time

	tpslDirty  map[string]struct{}
	stopDirty  map[string]struct{}
	limitDirty map[string]struct{}
	stopPos    int
	started    bool

	persist chan<- Output
	notify  chan<- Notification
	log     zerolog.Logger
	metrics *observability.Metrics

	loop *loop
}

func New(dir *symbol.Directory, quotes Quotes, cfg Config, out Outputs, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Engine{
		cfg:        cfg,
		dir:        dir,
		quotes:     quotes,
		ledger:     ledger.New(),
		book:       book.New(),
		hasher:     NewStateHasher(),
		seq:        NewSequenceValidator(),
		tpslDirty:  make(map[string]struct{}),
		stopDirty:  make(map[string]struct{}),
		limitDirty: make(map[string]struct{}),
		persist:    out.Persist,
		notify:     out.Notify,
		log:        logger,
		metrics:    metrics,
		loop:       newLoop(),
	}
	for _, s := range dir.Symbols() {
		e.book.AddMarket(s.Name)
	}
	e.lastSwap = e.todayStart(cfg.Clock())
	return e
}

// Accessors for tests, queries and tools running on the loop.

func (e *Engine) Ledger() *ledger.Ledger       { return e.ledger }
func (e *Engine) Book() *book.Book             { return e.book }
func (e *Engine) Directory() *symbol.Directory { return e.dir }
func (e *Engine) LastOplogID() uint64          { return e.seq.Last() }
func (e *Engine) StateHash() string            { return e.hasher.Tip() }

func (e *Engine) now() time.Time { return e.cfg.Clock() }

// unix renders a time the way the op-log stores it: seconds with fraction.
func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func (e *Engine) todayStart(t time.Time) time.Time {
	l := t.In(e.cfg.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, e.cfg.Location)
}

// === Outputs ===

func (e *Engine) emit(n Notification) {
	if !e.real || e.notify == nil {
		return
	}
	select {
	case e.notify <- n:
	default:
		e.log.Warn().Int("kind", int(n.Kind)).Msg("notification channel full, dropping")
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("notify").Inc()
		}
	}
}

func (e *Engine) pushOrder(ev EventCode, o *book.Order) {
	if !e.real {
		return
	}
	e.emit(Notification{Kind: NoteOrderEvent, Event: ev, Order: o.Clone()})
}

func (e *Engine) history(kind NotificationKind, o *book.Order) {
	if !e.real {
		return
	}
	e.emit(Notification{Kind: kind, Order: o.Clone()})
}

func (e *Engine) balanceHistory(r BalanceRecord) {
	if !e.real {
		return
	}
	e.emit(Notification{Kind: NoteBalanceHistory, Balance: &r})
}

func (e *Engine) balanceMessage(r BalanceRecord) {
	if !e.real {
		return
	}
	e.emit(Notification{Kind: NoteBalanceMessage, Balance: &r})
}

func (e *Engine) send(out Output) {
	if e.persist == nil {
		return
	}
	select {
	case e.persist <- out:
		return
	default:
	}
	if e.metrics != nil {
		e.metrics.PersistBackpressure.Inc()
	}
	e.persist <- out
}

// consistency logs a failed posting after the mutation has committed. It
// is never returned to the caller.
func (e *Engine) consistency(what string, err error) {
	if err == nil {
		return
	}
	e.log.Error().Err(err).Str("op", what).Msg("consistency error")
	if e.metrics != nil {
		e.metrics.ConsistencyErrors.WithLabelValues(what).Inc()
	}
}

// === Live execution ===

// Execute applies a live command and, on success, appends it to the
// op-log. It must be called on the engine loop.
func (e *Engine) Execute(cmd command.Command) Code {
	return e.execute(cmd.Method(), func() (Code, command.Command) { return e.apply(cmd) })
}

func (e *Engine) execute(method command.Method, fn func() (Code, command.Command)) Code {
	start := time.Now()
	e.real = true
	code, logged := fn()
	e.real = false

	if logged != nil {
		e.append(logged)
	}
	if e.metrics != nil {
		if code.OK() {
			e.metrics.CommandsApplied.WithLabelValues(string(method)).Inc()
		} else {
			e.metrics.CommandsRejected.WithLabelValues(string(method), code.String()).Inc()
		}
		e.metrics.CommandDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
		e.metrics.OpenPositions.Set(float64(e.openCount()))
		e.metrics.PendingOrders.Set(float64(e.pendingCount()))
	}
	return code
}

func (e *Engine) append(cmd command.Command) {
	entry := command.Entry{ID: e.seq.Next(), Time: unix(e.now()), Command: cmd}
	e.chain(entry)
	e.send(Output{Entry: &entry})
}

func (e *Engine) chain(entry command.Entry) {
	start := time.Now()
	digest, err := EntryDigest(entry)
	if err != nil {
		e.consistency("digest", err)
		return
	}
	e.hasher.ComputeHash(entry.ID, digest)
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(start).Seconds())
		e.metrics.OplogID.Set(float64(entry.ID))
	}
}

func (e *Engine) openCount() int {
	n := 0
	for _, m := range e.book.Markets() {
		n += m.OpenCount()
	}
	return n
}

func (e *Engine) pendingCount() int {
	n := 0
	for _, m := range e.book.Markets() {
		n += m.PendingCount()
	}
	return n
}

// apply dispatches a command. The returned command is what goes to the
// op-log; it is nil when nothing must be logged.
func (e *Engine) apply(cmd command.Command) (Code, command.Command) {
	var code Code
	switch c := cmd.(type) {
	case command.UpdateBalance:
		code = e.updateBalance(c)
	case command.OpenOrder:
		code = e.open(c)
	case command.CloseOrder:
		code = e.closeOrder(c.Close, EventClose, false)
	case command.TPSLOrder:
		code = e.closeOrder(c.Close, EventTPSL, true)
	case command.StopOutOrder:
		code = e.closeOrder(c.Close, EventStop, true)
	case command.CloseExternal:
		code = e.closeExternal(c)
	case command.UpdateOrder:
		code = e.update(c.SID, c.Symbol, c.OrderID, false, c.TP, c.SL)
	case command.UpdateExternal:
		code = e.update(c.SID, c.Symbol, c.External, true, c.TP, c.SL)
	case command.LimitOrder:
		code = e.putLimit(c)
	case command.CancelOrder:
		code = e.cancel(c.SID, c.Symbol, c.OrderID, false, c.Comment, c.FinishTime, EventCancel)
	case command.CancelExternal:
		code = e.cancel(c.SID, c.Symbol, c.External, true, c.Comment, c.FinishTime, EventCancel)
	case command.LimitOpen:
		return e.limitOpen(c)
	default:
		return CodeInternal, nil
	}
	if !code.OK() {
		return code, nil
	}
	return code, cmd
}
