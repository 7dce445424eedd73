package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/ledger"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes order events and balance messages to NATS.
// Subjects:
//
//	<prefix>.order.<event>   e.g. margin.events.order.open
//	<prefix>.balance
type OutboundPublisher struct {
	js      StreamPublisher
	prefix  string
	timeout time.Duration

	healthy atomic.Bool
}

func NewOutboundPublisher(js StreamPublisher, prefix string) *OutboundPublisher {
	p := &OutboundPublisher{js: js, prefix: prefix, timeout: 5 * time.Second}
	p.healthy.Store(true)
	return p
}

// Healthy is false after a failed publish until the next one succeeds.
func (p *OutboundPublisher) Healthy() bool { return p.healthy.Load() }

// OrderMessage is the payload of an order event.
type OrderMessage struct {
	Event int         `json:"event"`
	Order *book.Order `json:"order"`
}

// BalanceMessage is the payload of a balance change.
type BalanceMessage struct {
	Time    float64 `json:"time"`
	SID     uint64  `json:"sid"`
	Change  string  `json:"change"`
	Balance string  `json:"balance"`
	Comment string  `json:"comment"`
}

func (p *OutboundPublisher) OrderSubject(ev core.EventCode) string {
	return fmt.Sprintf("%s.order.%s", p.prefix, ev)
}

func (p *OutboundPublisher) BalanceSubject() string {
	return p.prefix + ".balance"
}

func (p *OutboundPublisher) PublishOrder(ctx context.Context, ev core.EventCode, o *book.Order) error {
	data, err := json.Marshal(OrderMessage{Event: int(ev), Order: o})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return p.publish(ctx, p.OrderSubject(ev), data)
}

func (p *OutboundPublisher) PublishBalance(ctx context.Context, r *core.BalanceRecord) error {
	data, err := json.Marshal(BalanceMessage{
		Time:    r.Time,
		SID:     r.SID,
		Change:  ledger.Format(r.Change),
		Balance: ledger.Format(r.Balance),
		Comment: r.Comment,
	})
	if err != nil {
		return fmt.Errorf("marshal balance message: %w", err)
	}
	return p.publish(ctx, p.BalanceSubject(), data)
}

func (p *OutboundPublisher) publish(ctx context.Context, subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.js.Publish(ctx, subject, data)
	p.healthy.Store(err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EnsureOutboundStream creates the stream that captures every subject
// under prefix.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARGIN_EVENTS",
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream MARGIN_EVENTS (%s.>)", prefix)
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("marginledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
