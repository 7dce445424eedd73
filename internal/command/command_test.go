package command_test

import (
	"encoding/json"
	"testing"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEncodeDecodeEveryMethod(t *testing.T) {
	cl := command.Close{
		SID: 42, Symbol: "EURUSD", OrderID: 7, Comment: "user",
		Price: d("1.1"), ProfitPrice: d("1"), FinishTime: 1700000000.25,
	}
	cmds := []command.Command{
		command.UpdateBalance{SID: 42, Change: d("-12.5"), Comment: "withdraw"},
		command.OpenOrder{
			SID: 42, Group: "standard", Symbol: "EURUSD", Side: book.SideBuy, Lot: d("0.1"),
			TP: d("1.2"), SL: decimal.Zero, External: 9, Comment: "c",
			Price: d("1.10002"), MarginPrice: d("1"), CreateTime: 1700000000,
		},
		command.CloseOrder{Close: cl},
		command.TPSLOrder{Close: cl},
		command.StopOutOrder{Close: cl},
		command.CloseExternal{SID: 42, Symbol: "EURUSD", External: 9, Price: d("1.1"), ProfitPrice: d("1"), FinishTime: 1.5},
		command.UpdateOrder{SID: 42, Symbol: "EURUSD", OrderID: 7, TP: d("1.3"), SL: d("1.0")},
		command.UpdateExternal{SID: 42, Symbol: "EURUSD", External: 9},
		command.LimitOrder{
			SID: 42, Group: "standard", Symbol: "EURUSD", Side: book.SideSell, Lot: d("2"),
			Kind: book.KindBreak, Price: d("1.05"), TP: d("1"), SL: d("1.1"),
			ExpireTime: 1700086400, External: 3, Comment: "l", CreateTime: 1700000000.5,
		},
		command.CancelOrder{SID: 42, Symbol: "EURUSD", OrderID: 8, Comment: "expire", FinishTime: 1700086400},
		command.CancelExternal{SID: 42, Symbol: "EURUSD", External: 3, Comment: "user", FinishTime: 2},
		command.LimitOpen{SID: 42, Symbol: "EURUSD", OrderID: 8, Price: d("1.05"), MarginPrice: d("1"), UpdateTime: 3},
	}
	require.Len(t, cmds, len(command.Methods))

	for _, c := range cmds {
		t.Run(string(c.Method()), func(t *testing.T) {
			raw, err := command.EncodeDetail(c)
			require.NoError(t, err)
			got, err := command.DecodeDetail(raw)
			require.NoError(t, err)
			assert.Equal(t, c.Method(), got.Method())

			// Decimals are compared by value; re-encoding must be stable.
			again, err := command.EncodeDetail(got)
			require.NoError(t, err)
			assert.JSONEq(t, string(raw), string(again))
		})
	}
}

func TestEncodeShapes(t *testing.T) {
	raw, err := command.Encode(command.CancelOrder{SID: 1, Symbol: "EURUSD", OrderID: 2, Comment: "x", FinishTime: 5})
	require.NoError(t, err)
	assert.Equal(t, `[1,"EURUSD",2,"x",5.0]`, string(raw))

	raw, err = command.Encode(command.UpdateBalance{SID: 1, Change: d("100"), Comment: "dep"})
	require.NoError(t, err)
	assert.Equal(t, `[1,"100","dep"]`, string(raw))
}

func TestDecodeOpenOrderFields(t *testing.T) {
	raw := `[42,"standard","EURUSD",2,"0.1","","0",0,"c","1.10002","1",1700000000.5]`
	c, err := command.Decode(command.MethodOpenOrder, []byte(raw))
	require.NoError(t, err)
	o, ok := c.(command.OpenOrder)
	require.True(t, ok)
	assert.Equal(t, uint64(42), o.SID)
	assert.Equal(t, book.SideBuy, o.Side)
	assert.True(t, o.Lot.Equal(d("0.1")))
	assert.True(t, o.TP.IsZero())
	assert.True(t, o.SL.IsZero())
	assert.True(t, o.Price.Equal(d("1.10002")))
	assert.Equal(t, 1700000000.5, o.CreateTime)
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name   string
		method command.Method
		raw    string
	}{
		{"not an array", command.MethodUpdateBalance, `{"sid":1}`},
		{"short arity", command.MethodUpdateBalance, `[1,"10"]`},
		{"long arity", command.MethodCancelOrder, `[1,"EURUSD",2,"x",5.0,6]`},
		{"sid as string", command.MethodUpdateBalance, `["1","10","c"]`},
		{"sid as real", command.MethodUpdateBalance, `[1.0,"10","c"]`},
		{"negative sid", command.MethodUpdateBalance, `[-1,"10","c"]`},
		{"change as number", command.MethodUpdateBalance, `[1,10,"c"]`},
		{"change garbage", command.MethodUpdateBalance, `[1,"ten","c"]`},
		{"bad side", command.MethodOpenOrder, `[1,"g","EURUSD",3,"1","","",0,"","1","1",1.0]`},
		{"zero lot", command.MethodOpenOrder, `[1,"g","EURUSD",2,"0","","",0,"","1","1",1.0]`},
		{"negative tp", command.MethodUpdateOrder, `[1,"EURUSD",2,"-1",""]`},
		{"time as string", command.MethodCancelOrder, `[1,"EURUSD",2,"x","5"]`},
		{"market pending type", command.MethodLimitOrder, `[1,"g","EURUSD",2,"1",2,"1","","",0,0,"",1.0]`},
		{"unknown method", command.Method("transfer"), `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := command.Decode(tc.method, []byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeErrorKinds(t *testing.T) {
	_, err := command.Decode("transfer", []byte(`[]`))
	assert.ErrorIs(t, err, command.ErrUnknownMethod)

	_, err = command.Decode(command.MethodUpdateBalance, []byte(`[1]`))
	assert.ErrorIs(t, err, command.ErrMalformed)

	_, err = command.DecodeDetail([]byte(`{"method":"update_balance"}`))
	assert.ErrorIs(t, err, command.ErrMalformed)
}

func TestRealAlwaysFractional(t *testing.T) {
	for in, want := range map[float64]string{
		5:            "5.0",
		1700000000:   "1700000000.0",
		0.25:         "0.25",
		1700000000.5: "1700000000.5",
	} {
		b, err := json.Marshal(command.Real(in))
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}

	p, err := command.ParseParams([]byte(`[5, 5.0, 1e3]`))
	require.NoError(t, err)
	_, err = p.Uint(1)
	assert.Error(t, err)
	v, err := p.Real(0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
	v, err = p.Real(2)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, v)
}
