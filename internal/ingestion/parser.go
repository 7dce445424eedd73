package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"MarginLedger/internal/ledger"
	"MarginLedger/internal/price"

	"github.com/shopspring/decimal"
)

var ErrMalformedTick = errors.New("malformed tick")

// --- JSON wire format ---
// A frame is one tick object, an array of them, or an envelope whose
// "data" field holds the array:
//
//	{"s":"EURUSD","b":"1.10001","a":"1.10012","t":"1670837030917"}
//	[{"s":...}, {"s":...}]
//	{"cmd":"intervalTicks","data":[{"s":...}]}
//
// Prices and time may be strings or numbers. Time is unix milliseconds, or
// seconds when it is too small to be milliseconds.

type tickJSON struct {
	Symbol string          `json:"s"`
	Bid    json.RawMessage `json:"b"`
	Ask    json.RawMessage `json:"a"`
	Time   json.RawMessage `json:"t"`
}

type envelopeJSON struct {
	Data json.RawMessage `json:"data"`
}

// TickBatch is the result of parsing one frame.
type TickBatch struct {
	Quotes   []price.Quote
	Rejected []error
}

// ParseTicks decodes a frame. Entries that fail validation are reported in
// Rejected and do not fail the frame; an undecodable frame does. now
// stamps ticks that carry no time.
func ParseTicks(data []byte, now time.Time) (TickBatch, error) {
	var batch TickBatch
	entries, err := splitFrame(data)
	if err != nil {
		return batch, err
	}
	for _, raw := range entries {
		q, err := parseTick(raw, now)
		if err != nil {
			batch.Rejected = append(batch.Rejected, err)
			continue
		}
		batch.Quotes = append(batch.Quotes, q)
	}
	return batch, nil
}

func splitFrame(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedTick)
	}

	var entries []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTick, err)
		}
	case '{':
		var env envelopeJSON
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTick, err)
		}
		if len(env.Data) == 0 {
			return []json.RawMessage{data}, nil
		}
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedTick, err)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedTick, data[0])
	}
	return entries, nil
}

func parseTick(raw json.RawMessage, now time.Time) (price.Quote, error) {
	var j tickJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return price.Quote{}, fmt.Errorf("%w: %v", ErrMalformedTick, err)
	}
	if j.Symbol == "" {
		return price.Quote{}, fmt.Errorf("%w: missing symbol", ErrMalformedTick)
	}

	bid, err := parsePrice(j.Bid)
	if err != nil {
		return price.Quote{}, fmt.Errorf("%w: %s bid: %v", ErrMalformedTick, j.Symbol, err)
	}
	ask, err := parsePrice(j.Ask)
	if err != nil {
		return price.Quote{}, fmt.Errorf("%w: %s ask: %v", ErrMalformedTick, j.Symbol, err)
	}

	t := now
	if len(j.Time) > 0 && string(j.Time) != "null" {
		t, err = parseTime(j.Time)
		if err != nil {
			return price.Quote{}, fmt.Errorf("%w: %s time: %v", ErrMalformedTick, j.Symbol, err)
		}
	}
	return price.Quote{Symbol: j.Symbol, Bid: bid, Ask: ask, Time: t}, nil
}

// unquote accepts "1.5" and 1.5 alike.
func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 {
		return decimal.Zero, errors.New("missing")
	}
	d, err := ledger.Parse(unquote(raw), ledger.PrecPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("not positive: %s", d)
	}
	return d, nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	v, err := strconv.ParseInt(unquote(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if v >= 1e12 {
		return time.UnixMilli(v).UTC(), nil
	}
	return time.Unix(v, 0).UTC(), nil
}
