package symbol_test

import (
	"testing"
	"time"

	"MarginLedger/internal/symbol"
	"MarginLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedConversionTypes(t *testing.T) {
	d := testutil.Directory(t)

	cases := []struct {
		name         string
		marginType   symbol.MarginType
		marginSymbol string
		marginPair   string
		profitType   symbol.ProfitType
		profitSymbol string
		profitPair   string
	}{
		{"EURUSD", symbol.MarginTypeAU, "EURUSD", "", symbol.ProfitTypeAU, "", ""},
		{"USDJPY", symbol.MarginTypeUB, "", "", symbol.ProfitTypeUB, "", ""},
		{"EURGBP", symbol.MarginTypeAC, "EURUSD", "EURUSD", symbol.ProfitTypeAC, "GBPUSD", "GBPUSD"},
		{"CADJPY", symbol.MarginTypeBC, "USDCAD", "USDCAD", symbol.ProfitTypeCB, "USDJPY", "USDJPY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := d.Symbol(tc.name)
			require.NotNil(t, s)
			assert.Equal(t, tc.marginType, s.MarginType)
			assert.Equal(t, tc.marginSymbol, s.MarginSymbol)
			assert.Equal(t, tc.marginPair, s.MarginPair())
			assert.Equal(t, tc.profitType, s.ProfitType)
			assert.Equal(t, tc.profitSymbol, s.ProfitSymbol)
			assert.Equal(t, tc.profitPair, s.ProfitPair())
			assert.True(t, s.C.Equal(testutil.Dec(t, "1000")), "c = %s", s.C)
		})
	}
}

func TestCFDCrossRate(t *testing.T) {
	d := testutil.Directory(t)

	hsi := d.Symbol("HSI")
	require.NotNil(t, hsi)
	require.NotNil(t, hsi.Cross)
	assert.Equal(t, "USDHKD", hsi.Cross.Pair)
	assert.Equal(t, symbol.CrossDiv, hsi.Cross.Op)
	assert.Equal(t, "USDHKD", hsi.MarginPair())
	assert.Equal(t, "USDHKD", hsi.ProfitPair())
	assert.Equal(t, symbol.MarginTypeNone, hsi.MarginType)

	got := hsi.Cross.Apply(testutil.Dec(t, "78.44"), testutil.Dec(t, "7.844"))
	assert.True(t, got.Equal(testutil.Dec(t, "10")), "got %s", got)

	// CFD margin without a cross entry converts at rate 1.
	xau := d.Symbol("XAUUSD")
	require.NotNil(t, xau)
	assert.Nil(t, xau.Cross)
	assert.Equal(t, "", xau.MarginPair())
}

func TestDirectoryDefaults(t *testing.T) {
	d := testutil.Directory(t)

	assert.Equal(t, uint32(100), d.Leverage("standard"))
	assert.Equal(t, uint32(0), d.Leverage("nope"))
	assert.True(t, d.HasGroup("suspended"))

	assert.True(t, d.Percentage("standard", "EURUSD").Equal(testutil.Dec(t, "100")))
	assert.True(t, d.Percentage("vip", "EURUSD").Equal(testutil.Dec(t, "1")), "unconfigured percentage defaults to 1")
	assert.True(t, d.Fee("standard", "EURUSD").Equal(testutil.Dec(t, "7")))
	assert.True(t, d.Fee("vip", "EURUSD").IsZero())
	assert.True(t, d.SwapLong("standard", "EURUSD").Equal(testutil.Dec(t, "-0.5")))
	assert.True(t, d.SwapShort("standard", "EURUSD").Equal(testutil.Dec(t, "0.2")))
	assert.True(t, d.SwapShort("vip", "EURUSD").IsZero())

	assert.Nil(t, d.Symbol("NOPE"))
	assert.Len(t, d.Groups(), 3)
	assert.Equal(t, "EURUSD", d.Symbols()[0].Name)

	fixed := d.FixedQuotes()
	require.Len(t, fixed, 1)
	assert.Equal(t, "USDHKD", fixed[0].Symbol)
	assert.True(t, fixed[0].Bid.Equal(testutil.Dec(t, "7.843")))
	assert.True(t, d.Symbol("USDHKD").StopOutExempt)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := symbol.Parse([]byte(`
symbols:
  - name: BAD
    contract_size: "abc"
    margin_calc: 1
    profit_calc: 1
`), symbol.Options{})
	assert.Error(t, err)

	_, err = symbol.Parse([]byte(`
symbols:
  - name: BAD
    margin_calc: 9
    profit_calc: 1
`), symbol.Options{})
	assert.Error(t, err)

	_, err = symbol.Parse([]byte(`
cross_rates:
  - symbol: HSI
    pair: USDHKD
    op: pow
`), symbol.Options{})
	assert.Error(t, err)

	_, err = symbol.Parse([]byte(`
symbols:
  - name: BAD
    margin_calc: 1
    profit_calc: 1
    schedule:
      monday: "nine-to-five"
`), symbol.Options{})
	assert.Error(t, err)
}

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestTradingHours(t *testing.T) {
	d := testutil.Directory(t)

	// 2026-10-19 is a Monday.
	assert.True(t, d.InTradingHours("HSI", at(t, "2026-10-19T09:15:00Z")), "start bound inclusive")
	assert.True(t, d.InTradingHours("HSI", at(t, "2026-10-19T16:30:00Z")), "end bound inclusive")
	assert.False(t, d.InTradingHours("HSI", at(t, "2026-10-19T12:30:00Z")), "lunch break")
	assert.False(t, d.InTradingHours("HSI", at(t, "2026-10-19T16:31:00Z")))

	// Empty schedules trade every day, weekends included.
	assert.True(t, d.InTradingHours("EURUSD", at(t, "2026-10-19T03:00:00Z")))
	assert.True(t, d.InTradingHours("EURUSD", at(t, "2026-10-24T03:00:00Z")))
	assert.False(t, d.InTradingHours("HSI", at(t, "2026-10-24T10:00:00Z")), "saturday closed")

	// Wednesday's range wraps midnight.
	assert.True(t, d.InTradingHours("XAUUSD", at(t, "2026-10-21T23:30:00Z")))
	assert.True(t, d.InTradingHours("XAUUSD", at(t, "2026-10-21T01:30:00Z")))
	assert.False(t, d.InTradingHours("XAUUSD", at(t, "2026-10-21T12:00:00Z")))

	assert.False(t, d.InTradingHours("NOPE", at(t, "2026-10-19T10:00:00Z")))
}

func TestTradingHoursOffset(t *testing.T) {
	d := testutil.DirectoryWith(t, symbol.Options{GMTOffsetHours: 8})

	// 01:30 UTC is 09:30 at GMT+8.
	assert.True(t, d.InTradingHours("HSI", at(t, "2026-10-19T01:30:00Z")))
	assert.False(t, d.InTradingHours("HSI", at(t, "2026-10-19T09:30:00Z")))
}

func TestTradingHoursLegacyTuesday(t *testing.T) {
	// XAUUSD's own Tuesday range admits noon; the legacy lookup ends on
	// Wednesday's overnight range, which does not.
	tuesdayNoon := at(t, "2026-10-20T12:00:00Z")

	fixed := testutil.Directory(t)
	assert.True(t, fixed.InTradingHours("XAUUSD", tuesdayNoon))

	legacy := testutil.DirectoryWith(t, symbol.Options{LegacyWeekdayHours: true})
	assert.False(t, legacy.InTradingHours("XAUUSD", tuesdayNoon))
	assert.True(t, legacy.InTradingHours("XAUUSD", at(t, "2026-10-20T23:30:00Z")))
}

func TestLoadFile_ShippedDirectory(t *testing.T) {
	d, err := symbol.LoadFile("../../config/directory.yaml", symbol.Options{})
	require.NoError(t, err)

	assert.Equal(t, uint32(100), d.Leverage("standard"))
	require.NotNil(t, d.Symbol("HSI"))
	assert.Equal(t, "USDHKD", d.Symbol("HSI").MarginPair())
	assert.Equal(t, "EURUSD", d.Symbol("DAX").ProfitPair())
	assert.True(t, d.Symbol("USDHKD").StopOutExempt)
	assert.Len(t, d.FixedQuotes(), 1)
}
