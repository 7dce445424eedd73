package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	ledger *Ledger
	signed map[BalanceType]bool
}

// NewInvariantValidator treats the given types as signed accumulators.
// FLOAT is always signed.
func NewInvariantValidator(l *Ledger, signed ...BalanceType) *InvariantValidator {
	s := map[BalanceType]bool{TypeFloat: true}
	for _, t := range signed {
		s[t] = true
	}
	return &InvariantValidator{ledger: l, signed: s}
}

// ValidateNonNegative reports the first unsigned entry holding a negative amount.
func (v *InvariantValidator) ValidateNonNegative() error {
	for _, e := range v.ledger.Entries() {
		if v.signed[e.Key.Type] {
			continue
		}
		if e.Amount.Sign() < 0 {
			return fmt.Errorf("%s has negative %s: %s", e.Key, e.Key.Type, e.Amount)
		}
	}
	return nil
}

// ValidateSparse reports checked entries stored with a zero amount.
func (v *InvariantValidator) ValidateSparse() error {
	for _, e := range v.ledger.Entries() {
		if v.signed[e.Key.Type] {
			continue
		}
		if e.Amount.IsZero() {
			return fmt.Errorf("%s stores zero %s", e.Key, e.Key.Type)
		}
	}
	return nil
}

func (k Key) String() string {
	if k.Account != 0 {
		return fmt.Sprintf("account:%d", k.Account)
	}
	return fmt.Sprintf("sid:%d", k.SID())
}
