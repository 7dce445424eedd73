package core

import (
	"errors"
	"fmt"
)

var ErrSequenceGap = errors.New("op-log sequence gap")

// SequenceValidator enforces that op-log ids are applied gap-free.
// Not thread-safe: only accessed from the engine loop.
type SequenceValidator struct {
	last uint64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{}
}

// Next allocates the id for a live entry.
func (sv *SequenceValidator) Next() uint64 {
	sv.last++
	return sv.last
}

// Validate accepts a replayed id only if it is exactly last+1.
func (sv *SequenceValidator) Validate(id uint64) error {
	expected := sv.last + 1
	switch {
	case id == expected:
		sv.last = id
		return nil
	case id < expected:
		return fmt.Errorf("%w: out-of-order id %d, expected %d", ErrSequenceGap, id, expected)
	default:
		return fmt.Errorf("%w: got id %d, expected %d", ErrSequenceGap, id, expected)
	}
}

func (sv *SequenceValidator) Last() uint64 { return sv.last }

// SetLast initializes the counter (used during recovery)
func (sv *SequenceValidator) SetLast(id uint64) { sv.last = id }
