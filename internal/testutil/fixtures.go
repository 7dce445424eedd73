package testutil

import (
	"testing"

	"MarginLedger/internal/ledger"
	"MarginLedger/internal/symbol"

	"github.com/shopspring/decimal"
)

// DirectoryYAML is a small but complete directory used across tests. It
// covers every margin and profit conversion type.
const DirectoryYAML = `
groups:
  - name: standard
    leverage: 100
  - name: vip
    leverage: 200
  - name: suspended
    leverage: 0

symbols:
  - name: EURUSD
    security: forex
    currency: EUR
    digit: 5
    contract_size: "100000"
    percentage: "100"
    tick_size: "0.00001"
    tick_price: "1"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: GBPUSD
    security: forex
    currency: GBP
    digit: 5
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: USDJPY
    security: forex
    currency: USD
    digit: 3
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: USDCAD
    security: forex
    currency: USD
    digit: 5
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: EURGBP
    security: forex
    currency: EUR
    digit: 5
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: CADJPY
    security: forex
    currency: CAD
    digit: 3
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
  - name: USDHKD
    security: forex
    currency: USD
    digit: 4
    contract_size: "100000"
    margin_calc: 1
    profit_calc: 1
    swap_calc: 1
    stop_out_exempt: true
  - name: HSI
    security: index
    currency: HKD
    digit: 0
    contract_size: "100"
    margin_calc: 2
    profit_calc: 2
    swap_calc: 1
    schedule:
      monday: "09:15-12:00|13:00-16:30"
      tuesday: "09:15-12:00|13:00-16:30"
      wednesday: "09:15-12:00|13:00-16:30"
      thursday: "09:15-12:00|13:00-16:30"
      friday: "09:15-12:00|13:00-16:30"
  - name: XAUUSD
    security: metal
    currency: USD
    digit: 2
    contract_size: "100"
    tick_size: "0.01"
    tick_price: "1"
    margin_calc: 2
    profit_calc: 3
    swap_calc: 1
    schedule:
      monday: "01:00-23:59"
      tuesday: "01:00-23:59"
      wednesday: "22:00-02:00"
      thursday: "01:00-23:59"
      friday: "01:00-21:00"

terms:
  - group: standard
    symbol: EURUSD
    percentage: "100"
    fee: "7"
    swap_long: "-0.5"
    swap_short: "0.2"
  - group: standard
    symbol: EURGBP
    percentage: "100"
  - group: standard
    symbol: CADJPY
    percentage: "100"
  - group: standard
    symbol: USDJPY
    percentage: "100"
  - group: standard
    symbol: HSI
    percentage: "100"
    fee: "1"
  - group: standard
    symbol: XAUUSD
    percentage: "100"
    swap_long: "-2"
    swap_short: "1"

fixed_quotes:
  - symbol: USDHKD
    bid: "7.843"
    ask: "7.844"
`

// Directory parses DirectoryYAML with the default options.
func Directory(t testing.TB) *symbol.Directory {
	t.Helper()
	return DirectoryWith(t, symbol.Options{})
}

func DirectoryWith(t testing.TB, opts symbol.Options) *symbol.Directory {
	t.Helper()
	d, err := symbol.Parse([]byte(DirectoryYAML), opts)
	if err != nil {
		t.Fatalf("parse fixture directory: %v", err)
	}
	return d
}

// Dec parses a decimal at price precision, failing the test on error.
func Dec(t testing.TB, s string) decimal.Decimal {
	t.Helper()
	d, err := ledger.Parse(s, ledger.PrecPrice)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}
