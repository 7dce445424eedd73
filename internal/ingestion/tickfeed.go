package ingestion

import (
	"context"
	"sync/atomic"
	"time"

	"MarginLedger/internal/observability"
	"MarginLedger/internal/price"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ReconnectInterval is the minimum time between two dial attempts.
const ReconnectInterval = 2 * time.Second

// TickSink is told about every symbol whose quote changed.
// core.Engine implements it.
type TickSink interface {
	Tick(symbol string)
}

// TickFeed reads quotes from a websocket, stores them in the price cache
// and marks the symbols dirty on the engine loop.
type TickFeed struct {
	url     string
	cache   *price.Cache
	sink    TickSink
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	metrics *observability.Metrics
	logger  zerolog.Logger

	connected atomic.Bool
	lastTick  atomic.Int64
}

func NewTickFeed(url string, cache *price.Cache, sink TickSink, metrics *observability.Metrics, logger zerolog.Logger) *TickFeed {
	return &TickFeed{
		url:     url,
		cache:   cache,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(ReconnectInterval), 1),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		metrics: metrics,
		logger:  logger,
	}
}

// SetReconnectInterval overrides the dial throttle.
func (f *TickFeed) SetReconnectInterval(d time.Duration) {
	f.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Status is 1 while connected, 0 otherwise.
func (f *TickFeed) Status() int {
	if f.connected.Load() {
		return 1
	}
	return 0
}

// LastTick is the time of the last accepted tick, zero if none.
func (f *TickFeed) LastTick() time.Time {
	ns := f.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run dials, reads until the connection fails, and dials again. It returns
// when ctx is cancelled.
func (f *TickFeed) Run(ctx context.Context) error {
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			// the next slot is past the deadline
			<-ctx.Done()
			return ctx.Err()
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Str("url", f.url).Msg("tick feed dial failed")
			f.reconnected()
			continue
		}

		f.connected.Store(true)
		f.logger.Info().Str("url", f.url).Msg("tick feed connected")
		err = f.read(ctx, conn)
		f.connected.Store(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn().Err(err).Msg("tick feed disconnected")
		f.reconnected()
	}
}

func (f *TickFeed) reconnected() {
	if f.metrics != nil {
		f.metrics.FeedReconnects.Inc()
	}
}

func (f *TickFeed) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		f.HandleFrame(data)
	}
}

// HandleFrame applies one frame of ticks.
func (f *TickFeed) HandleFrame(data []byte) int {
	batch, err := ParseTicks(data, time.Now())
	if err != nil {
		f.reject("frame", err)
		return 0
	}
	for _, err := range batch.Rejected {
		f.reject("entry", err)
	}

	n := 0
	for _, q := range batch.Quotes {
		if !f.cache.Update(q) {
			// pinned by a fixed quote
			continue
		}
		n++
		f.sink.Tick(q.Symbol)
	}
	if n > 0 {
		f.lastTick.Store(time.Now().UnixNano())
		if f.metrics != nil {
			f.metrics.TicksReceived.Add(float64(n))
		}
	}
	return n
}

func (f *TickFeed) reject(reason string, err error) {
	f.logger.Debug().Err(err).Str("reason", reason).Msg("tick rejected")
	if f.metrics != nil {
		f.metrics.TicksRejected.WithLabelValues(reason).Inc()
	}
}
