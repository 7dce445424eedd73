package symbol

import (
	"fmt"
	"os"
	"sort"

	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Directory is the read-only group/symbol configuration. It is built once
// at startup and is safe for concurrent readers.
type Directory struct {
	groups  map[string]Group
	symbols map[string]*Symbol
	terms   map[termKey]Terms
	fixed   map[string]FixedQuote
	order   []string

	gmtOffset     int
	legacyWeekday bool
}

type termKey struct {
	group  string
	symbol string
}

// DefaultCrossRates is used when the directory file declares none.
var DefaultCrossRates = map[string]CrossRate{
	"HSI":   {Pair: "USDHKD", Op: CrossDiv},
	"DAX":   {Pair: "EURUSD", Op: CrossMul},
	"UK100": {Pair: "GBPUSD", Op: CrossMul},
	"JP225": {Pair: "USDJPY", Op: CrossDiv},
}

// === File format ===

type fileGroup struct {
	Name     string `yaml:"name"`
	Leverage uint32 `yaml:"leverage"`
}

type fileSchedule struct {
	Monday    string `yaml:"monday"`
	Tuesday   string `yaml:"tuesday"`
	Wednesday string `yaml:"wednesday"`
	Thursday  string `yaml:"thursday"`
	Friday    string `yaml:"friday"`
}

type fileSymbol struct {
	Name          string       `yaml:"name"`
	Security      string       `yaml:"security"`
	Currency      string       `yaml:"currency"`
	Digit         int          `yaml:"digit"`
	ContractSize  string       `yaml:"contract_size"`
	Percentage    string       `yaml:"percentage"`
	TickSize      string       `yaml:"tick_size"`
	TickPrice     string       `yaml:"tick_price"`
	MarginCalc    int          `yaml:"margin_calc"`
	ProfitCalc    int          `yaml:"profit_calc"`
	SwapCalc      int          `yaml:"swap_calc"`
	Schedule      fileSchedule `yaml:"schedule"`
	StopOutExempt bool         `yaml:"stop_out_exempt"`
}

type fileTerms struct {
	Group      string `yaml:"group"`
	Symbol     string `yaml:"symbol"`
	Percentage string `yaml:"percentage"`
	Fee        string `yaml:"fee"`
	SwapLong   string `yaml:"swap_long"`
	SwapShort  string `yaml:"swap_short"`
}

type fileCross struct {
	Symbol string `yaml:"symbol"`
	Pair   string `yaml:"pair"`
	Op     string `yaml:"op"`
}

type fileQuote struct {
	Symbol string `yaml:"symbol"`
	Bid    string `yaml:"bid"`
	Ask    string `yaml:"ask"`
}

// File is the YAML document LoadFile reads.
type File struct {
	Groups      []fileGroup  `yaml:"groups"`
	Symbols     []fileSymbol `yaml:"symbols"`
	Terms       []fileTerms  `yaml:"terms"`
	CrossRates  []fileCross  `yaml:"cross_rates"`
	FixedQuotes []fileQuote  `yaml:"fixed_quotes"`
}

// Options are process settings that affect directory lookups.
type Options struct {
	GMTOffsetHours     int
	LegacyWeekdayHours bool
}

// LoadFile reads and validates a YAML directory.
func LoadFile(path string, opts Options) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	return Parse(raw, opts)
}

// Parse builds a Directory from YAML bytes.
func Parse(raw []byte, opts Options) (*Directory, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	return f.Build(opts)
}

// Build validates the document and derives each symbol's conversion rules.
func (f *File) Build(opts Options) (*Directory, error) {
	d := &Directory{
		groups:        make(map[string]Group, len(f.Groups)),
		symbols:       make(map[string]*Symbol, len(f.Symbols)),
		terms:         make(map[termKey]Terms, len(f.Terms)),
		fixed:         make(map[string]FixedQuote, len(f.FixedQuotes)),
		gmtOffset:     opts.GMTOffsetHours,
		legacyWeekday: opts.LegacyWeekdayHours,
	}

	for _, g := range f.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("group with empty name")
		}
		d.groups[g.Name] = Group{Name: g.Name, Leverage: g.Leverage}
	}

	cross := DefaultCrossRates
	if len(f.CrossRates) > 0 {
		cross = make(map[string]CrossRate, len(f.CrossRates))
		for _, c := range f.CrossRates {
			var op CrossOp
			switch c.Op {
			case "mul", "*":
				op = CrossMul
			case "div", "/":
				op = CrossDiv
			default:
				return nil, fmt.Errorf("cross rate %s: unknown op %q", c.Symbol, c.Op)
			}
			cross[c.Symbol] = CrossRate{Pair: c.Pair, Op: op}
		}
	}

	for _, fs := range f.Symbols {
		s, err := fs.build()
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", fs.Name, err)
		}
		s.derive(cross)
		d.symbols[s.Name] = s
		d.order = append(d.order, s.Name)
	}

	for _, ft := range f.Terms {
		t := Terms{Percentage: decimal.NewFromInt(1)}
		var err error
		if ft.Percentage != "" {
			if t.Percentage, err = ledger.Parse(ft.Percentage, ledger.PrecInt); err != nil {
				return nil, fmt.Errorf("terms %s/%s percentage: %w", ft.Group, ft.Symbol, err)
			}
		}
		if t.Fee, err = optional(ft.Fee, ledger.PrecDefault); err != nil {
			return nil, fmt.Errorf("terms %s/%s fee: %w", ft.Group, ft.Symbol, err)
		}
		if t.SwapLong, err = optional(ft.SwapLong, ledger.PrecSwap); err != nil {
			return nil, fmt.Errorf("terms %s/%s swap_long: %w", ft.Group, ft.Symbol, err)
		}
		if t.SwapShort, err = optional(ft.SwapShort, ledger.PrecSwap); err != nil {
			return nil, fmt.Errorf("terms %s/%s swap_short: %w", ft.Group, ft.Symbol, err)
		}
		d.terms[termKey{group: ft.Group, symbol: ft.Symbol}] = t
	}

	for _, q := range f.FixedQuotes {
		bid, err := ledger.Parse(q.Bid, ledger.PrecPrice)
		if err != nil {
			return nil, fmt.Errorf("fixed quote %s bid: %w", q.Symbol, err)
		}
		ask, err := ledger.Parse(q.Ask, ledger.PrecPrice)
		if err != nil {
			return nil, fmt.Errorf("fixed quote %s ask: %w", q.Symbol, err)
		}
		d.fixed[q.Symbol] = FixedQuote{Symbol: q.Symbol, Bid: bid, Ask: ask}
	}

	return d, nil
}

func (fs fileSymbol) build() (*Symbol, error) {
	if fs.Name == "" {
		return nil, fmt.Errorf("empty name")
	}
	s := &Symbol{
		Name:          fs.Name,
		Security:      fs.Security,
		Currency:      fs.Currency,
		Digit:         fs.Digit,
		MarginCalc:    MarginCalc(fs.MarginCalc),
		ProfitCalc:    ProfitCalc(fs.ProfitCalc),
		SwapCalc:      SwapCalc(fs.SwapCalc),
		StopOutExempt: fs.StopOutExempt,
		Schedule: [5]string{
			fs.Schedule.Monday,
			fs.Schedule.Tuesday,
			fs.Schedule.Wednesday,
			fs.Schedule.Thursday,
			fs.Schedule.Friday,
		},
	}
	for _, sched := range s.Schedule {
		if err := ValidateSchedule(sched); err != nil {
			return nil, err
		}
	}
	var err error
	if s.ContractSize, err = optional(fs.ContractSize, ledger.PrecInt); err != nil {
		return nil, fmt.Errorf("contract_size: %w", err)
	}
	if s.Percentage, err = optional(fs.Percentage, ledger.PrecInt); err != nil {
		return nil, fmt.Errorf("percentage: %w", err)
	}
	if s.TickSize, err = optional(fs.TickSize, ledger.PrecDefault); err != nil {
		return nil, fmt.Errorf("tick_size: %w", err)
	}
	if s.TickPrice, err = optional(fs.TickPrice, ledger.PrecDefault); err != nil {
		return nil, fmt.Errorf("tick_price: %w", err)
	}
	if s.MarginCalc != MarginCalcForex && s.MarginCalc != MarginCalcCFD {
		return nil, fmt.Errorf("unknown margin_calc %d", fs.MarginCalc)
	}
	switch s.ProfitCalc {
	case ProfitCalcForex, ProfitCalcCFD, ProfitCalcFutures:
	default:
		return nil, fmt.Errorf("unknown profit_calc %d", fs.ProfitCalc)
	}
	return s, nil
}

func optional(s string, prec int32) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return ledger.Parse(s, prec)
}

// === Lookups ===

// Leverage returns 0 for an unknown group.
func (d *Directory) Leverage(group string) uint32 {
	return d.groups[group].Leverage
}

func (d *Directory) HasGroup(group string) bool {
	_, ok := d.groups[group]
	return ok
}

// Percentage defaults to 1 when the pair has no terms.
func (d *Directory) Percentage(group, symbol string) decimal.Decimal {
	if t, ok := d.terms[termKey{group, symbol}]; ok {
		return t.Percentage
	}
	return decimal.NewFromInt(1)
}

func (d *Directory) Fee(group, symbol string) decimal.Decimal {
	return d.terms[termKey{group, symbol}].Fee
}

func (d *Directory) SwapLong(group, symbol string) decimal.Decimal {
	return d.terms[termKey{group, symbol}].SwapLong
}

func (d *Directory) SwapShort(group, symbol string) decimal.Decimal {
	return d.terms[termKey{group, symbol}].SwapShort
}

// TermsFor reports the configured terms of a pair, if any.
func (d *Directory) TermsFor(group, symbol string) (Terms, bool) {
	t, ok := d.terms[termKey{group, symbol}]
	return t, ok
}

// Symbol returns nil for an unknown name.
func (d *Directory) Symbol(name string) *Symbol {
	return d.symbols[name]
}

// Symbols lists symbols in file order.
func (d *Directory) Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.symbols[name])
	}
	return out
}

// Groups lists groups sorted by name.
func (d *Directory) Groups() []Group {
	out := make([]Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Directory) FixedQuotes() []FixedQuote {
	out := make([]FixedQuote, 0, len(d.fixed))
	for _, q := range d.fixed {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
