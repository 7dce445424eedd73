package ledger_test

import (
	"MarginLedger/internal/ledger"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return ledger.MustParse(s, ledger.PrecDefault)
}

// ============================================================================
// Test: checked family
// ============================================================================

func TestLedger_AbsentReadsAsNotFound(t *testing.T) {
	l := ledger.New()
	if _, ok := l.GetV2(1001, ledger.TypeBalance); ok {
		t.Fatal("empty ledger should not report a balance")
	}
	if !l.Amount(1001, ledger.TypeBalance).IsZero() {
		t.Error("absent amount should read as zero")
	}
}

func TestLedger_SetZeroDeletes(t *testing.T) {
	l := ledger.New()
	if _, err := l.SetV2(7, ledger.TypeBalance, d("10")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := l.SetV2(7, ledger.TypeBalance, d("0.001"))
	if err != nil {
		t.Fatalf("set zero: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("set zero returned %s", got)
	}
	if _, ok := l.GetV2(7, ledger.TypeBalance); ok {
		t.Error("zero set should delete the entry")
	}
	if l.Len() != 0 {
		t.Errorf("store should be empty, has %d entries", l.Len())
	}
}

func TestLedger_AddZeroOnAbsentKeepsSparse(t *testing.T) {
	l := ledger.New()
	if _, err := l.AddV2(7, ledger.TypeEquity, d("0")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if l.Len() != 0 {
		t.Error("adding zero must not create an entry")
	}
}

func TestLedger_SetNegativeRejected(t *testing.T) {
	l := ledger.New()
	if _, err := l.SetV2(7, ledger.TypeBalance, d("-1")); !errors.Is(err, ledger.ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestLedger_AddNegativeRejected(t *testing.T) {
	l := ledger.New()
	if _, err := l.AddV2(7, ledger.TypeBalance, d("-1")); !errors.Is(err, ledger.ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestLedger_SubAbsent(t *testing.T) {
	l := ledger.New()
	if _, err := l.SubV2(7, ledger.TypeFree, d("1")); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedger_SubInsufficientLeavesBalance(t *testing.T) {
	l := ledger.New()
	l.AddV2(7, ledger.TypeFree, d("5"))
	if _, err := l.SubV2(7, ledger.TypeFree, d("5.01")); !errors.Is(err, ledger.ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
	if got := l.Amount(7, ledger.TypeFree); !got.Equal(d("5")) {
		t.Errorf("balance changed on failed sub: %s", got)
	}
}

func TestLedger_SubToExactZeroDeletes(t *testing.T) {
	l := ledger.New()
	l.AddV2(7, ledger.TypeFree, d("5"))
	got, err := l.SubV2(7, ledger.TypeFree, d("5"))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero result, got %s", got)
	}
	if _, ok := l.GetV2(7, ledger.TypeFree); ok {
		t.Error("entry should be deleted at zero")
	}
}

func TestLedger_AddAccumulates(t *testing.T) {
	l := ledger.New()
	l.AddV2(7, ledger.TypeBalance, d("1.25"))
	got, _ := l.AddV2(7, ledger.TypeBalance, d("2.50"))
	if !got.Equal(d("3.75")) {
		t.Errorf("got %s, want 3.75", got)
	}
}

// ============================================================================
// Test: split key
// ============================================================================

func TestSplitKey(t *testing.T) {
	k := ledger.SplitKey(123456, ledger.TypeMargin)
	if k.SID1 != 1234 || k.SID2 != 56 {
		t.Errorf("split = (%d, %d), want (1234, 56)", k.SID1, k.SID2)
	}
	if k.SID() != 123456 {
		t.Errorf("SID() = %d", k.SID())
	}
}

func TestLedger_ViewsDoNotCollide(t *testing.T) {
	l := ledger.New()
	l.Add(7, ledger.TypeAvailable, d("1"))
	l.AddV2(7, ledger.TypeAvailable, d("2"))
	v1, _ := l.Get(7, ledger.TypeAvailable)
	v2, _ := l.GetV2(7, ledger.TypeAvailable)
	if !v1.Equal(d("1")) || !v2.Equal(d("2")) {
		t.Errorf("views collided: v1=%s v2=%s", v1, v2)
	}
}

// ============================================================================
// Test: freeze / unfreeze
// ============================================================================

func TestLedger_FreezeUnfreeze(t *testing.T) {
	l := ledger.New()
	l.Add(9, ledger.TypeAvailable, d("10"))

	left, err := l.Freeze(9, d("4"))
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if !left.Equal(d("6")) {
		t.Errorf("available after freeze = %s", left)
	}
	if !l.Total(9).Equal(d("10")) {
		t.Errorf("total changed: %s", l.Total(9))
	}

	if _, err := l.Freeze(9, d("7")); !errors.Is(err, ledger.ErrInsufficient) {
		t.Errorf("over-freeze: expected ErrInsufficient, got %v", err)
	}

	frozen, err := l.Unfreeze(9, d("4"))
	if err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if !frozen.IsZero() {
		t.Errorf("frozen after unfreeze = %s", frozen)
	}
	if _, ok := l.Get(9, ledger.TypeFreeze); ok {
		t.Error("freeze entry should be deleted")
	}
}

// ============================================================================
// Test: float family
// ============================================================================

func TestLedger_FloatGoesNegative(t *testing.T) {
	l := ledger.New()
	got := l.SubFloat(7, ledger.TypeFloat, d("3.5"))
	if !got.Equal(d("-3.5")) {
		t.Errorf("got %s, want -3.5", got)
	}
	got = l.AddFloat(7, ledger.TypeFloat, d("3.5"))
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
	if _, ok := l.GetV2(7, ledger.TypeFloat); !ok {
		t.Error("float entries stay present at zero")
	}
}

// ============================================================================
// Test: enumeration and invariants
// ============================================================================

func TestLedger_EntriesOrderedAndRestorable(t *testing.T) {
	l := ledger.New()
	l.AddV2(300, ledger.TypeFree, d("3"))
	l.AddV2(100, ledger.TypeEquity, d("1"))
	l.AddV2(100, ledger.TypeBalance, d("1"))

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Key.SID() != 100 || entries[0].Key.Type != ledger.TypeBalance {
		t.Errorf("unexpected first entry %+v", entries[0].Key)
	}

	r := ledger.New()
	r.Restore(entries)
	if !r.Amount(300, ledger.TypeFree).Equal(d("3")) {
		t.Error("restore lost an entry")
	}
	accounts := r.Accounts()
	if len(accounts) != 2 || accounts[0] != 100 || accounts[1] != 300 {
		t.Errorf("accounts = %v", accounts)
	}
}

func TestInvariantValidator(t *testing.T) {
	l := ledger.New()
	l.AddV2(1, ledger.TypeBalance, d("10"))
	l.SubFloat(1, ledger.TypeFloat, d("20"))

	v := ledger.NewInvariantValidator(l)
	if err := v.ValidateNonNegative(); err != nil {
		t.Errorf("negative float must be allowed: %v", err)
	}

	l.SubFloat(1, ledger.TypeFree, d("1"))
	if err := v.ValidateNonNegative(); err == nil {
		t.Error("expected violation for negative FREE")
	}
	if err := ledger.NewInvariantValidator(l, ledger.TypeFree).ValidateNonNegative(); err != nil {
		t.Errorf("FREE marked signed: %v", err)
	}
}

func TestParse(t *testing.T) {
	got, err := ledger.Parse("1.23456789", ledger.PrecDefault)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.String() != "1.23" {
		t.Errorf("got %s", got)
	}
	if _, err := ledger.Parse("abc", ledger.PrecDefault); err == nil {
		t.Error("expected error for non-numeric")
	}
	if _, err := ledger.Parse(" 1", ledger.PrecDefault); err == nil {
		t.Error("expected error for padded input")
	}
	if ledger.Rescale(decimal.RequireFromString("0.005"), 2).String() != "0.01" {
		t.Error("rescale should round half away from zero")
	}
}
