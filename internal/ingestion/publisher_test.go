package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/ingestion"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	msgs []published
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return &jetstream.PubAck{Stream: "MARGIN_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func TestOutboundPublisher_Subjects(t *testing.T) {
	js := &fakeStream{}
	p := ingestion.NewOutboundPublisher(js, "margin.events")
	ctx := context.Background()

	o := &book.Order{ID: 9, SID: 1001, Symbol: "EURUSD", Side: book.SideBuy, Kind: book.KindMarket,
		Lot: decimal.RequireFromString("0.1")}
	require.NoError(t, p.PublishOrder(ctx, core.EventTPSL, o))
	require.NoError(t, p.PublishBalance(ctx, &core.BalanceRecord{
		Time: 1760000000.5, SID: 1001, Change: decimal.RequireFromString("-7.00"),
		Balance: decimal.RequireFromString("9993.00"), Comment: "fee",
	}))

	require.Len(t, js.msgs, 2)
	assert.Equal(t, "margin.events.order.tpsl", js.msgs[0].subject)
	assert.Equal(t, "margin.events.balance", js.msgs[1].subject)

	var om struct {
		Event int `json:"event"`
		Order struct {
			ID  uint64 `json:"id"`
			Lot string `json:"lot"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &om))
	assert.Equal(t, 4, om.Event)
	assert.Equal(t, uint64(9), om.Order.ID)
	assert.Equal(t, "0.1", om.Order.Lot)

	var bm ingestion.BalanceMessage
	require.NoError(t, json.Unmarshal(js.msgs[1].data, &bm))
	assert.Equal(t, "-7", bm.Change)
	assert.Equal(t, "9993", bm.Balance)
	assert.Equal(t, uint64(1001), bm.SID)
	assert.True(t, p.Healthy())
}

func TestOutboundPublisher_HealthFollowsLastPublish(t *testing.T) {
	js := &fakeStream{err: errors.New("no responders")}
	p := ingestion.NewOutboundPublisher(js, "margin.events")

	err := p.PublishOrder(context.Background(), core.EventOpen, &book.Order{ID: 1})
	require.Error(t, err)
	assert.False(t, p.Healthy())

	js.err = nil
	require.NoError(t, p.PublishOrder(context.Background(), core.EventOpen, &book.Order{ID: 1}))
	assert.True(t, p.Healthy())
}
