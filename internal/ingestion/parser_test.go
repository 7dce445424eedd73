package ingestion_test

import (
	"testing"
	"time"

	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

func TestParseTicks_SingleObject(t *testing.T) {
	batch, err := ingestion.ParseTicks([]byte(`{"s":"BTCUSD","b":"16938.4","a":"16948.72","t":"1670837032014"}`), now)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 1)
	assert.Empty(t, batch.Rejected)

	q := batch.Quotes[0]
	assert.Equal(t, "BTCUSD", q.Symbol)
	assert.True(t, q.Bid.Equal(testutil.Dec(t, "16938.4")))
	assert.True(t, q.Ask.Equal(testutil.Dec(t, "16948.72")))
	assert.Equal(t, int64(1670837032014), q.Time.UnixMilli())
}

func TestParseTicks_Array(t *testing.T) {
	frame := `[{"s":"NZDCAD","b":"0.87445","a":"0.8746","t":"1670837030917"},
	           {"s":"EOSUSDT","b":0.9775,"a":0.98,"t":1670837031721},
	           {"s":"EURNZD","b":"1.64782","a":"1.64804"}]`
	batch, err := ingestion.ParseTicks([]byte(frame), now)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 3)
	assert.True(t, batch.Quotes[1].Bid.Equal(testutil.Dec(t, "0.9775")))
	assert.Equal(t, now, batch.Quotes[2].Time, "missing time is stamped with now")
}

func TestParseTicks_Envelope(t *testing.T) {
	frame := `{"cmd":"intervalTicks","code":0,"data":[{"a":"1488.35","b":"1487.38","g":6,"s":"ETHUSD","t":1658384901}]}`
	batch, err := ingestion.ParseTicks([]byte(frame), now)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 1)
	assert.Equal(t, "ETHUSD", batch.Quotes[0].Symbol)
	assert.Equal(t, int64(1658384901), batch.Quotes[0].Time.Unix(), "small values are seconds")
}

func TestParseTicks_RejectsEntries(t *testing.T) {
	frame := `[{"s":"","b":"1","a":"1"},
	           {"s":"A","b":"0","a":"1"},
	           {"s":"B","b":"x","a":"1"},
	           {"s":"C","a":"1"},
	           {"s":"D","b":"1","a":"1","t":"soon"},
	           {"s":"OK","b":"1","a":"1.1"}]`
	batch, err := ingestion.ParseTicks([]byte(frame), now)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 1)
	assert.Equal(t, "OK", batch.Quotes[0].Symbol)
	require.Len(t, batch.Rejected, 5)
	for _, err := range batch.Rejected {
		assert.ErrorIs(t, err, ingestion.ErrMalformedTick)
	}
}

func TestParseTicks_MalformedFrame(t *testing.T) {
	for _, frame := range []string{``, `   `, `"tick"`, `{"s":`, `[1,`, `{"data":{"s":"A"}}`} {
		_, err := ingestion.ParseTicks([]byte(frame), now)
		assert.ErrorIs(t, err, ingestion.ErrMalformedTick, "frame %q", frame)
	}
}
