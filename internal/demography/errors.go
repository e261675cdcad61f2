package demography

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDuplicateID reports a population id already declared in the same history.
	ErrDuplicateID = errors.New("duplicate population id")
	// ErrUnknownPopulation reports an index or id outside the declared population set.
	ErrUnknownPopulation = errors.New("unknown population")
	// ErrInvalidValue reports a negative, zero, or non-finite numeric parameter
	// where the operation forbids it, or an otherwise malformed argument.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInconsistentHistory reports a structural violation found while building,
	// such as an event naming a lineage that an earlier merge already removed.
	ErrInconsistentHistory = errors.New("inconsistent history")
)

func opErrorf(op string, sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, sentinel, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
