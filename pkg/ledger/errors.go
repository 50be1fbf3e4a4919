package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntry is returned when an entry is missing required fields
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidAmount is returned when a provider credit has a negative quantity
	ErrInvalidAmount = errors.New("invalid credit amount")

	// ErrInvalidCreditor is returned for an unknown creditor kind
	ErrInvalidCreditor = errors.New("invalid creditor")

	// ErrMissingReference is returned when a payment-provider credit has no external reference
	ErrMissingReference = errors.New("missing creditor reference")

	// ErrStorageUnavailable is returned when no store is configured or the store
	// circuit breaker is open
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// ErrCircuitOpen is returned by BreakerStore while the circuit is open
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", ErrStorageUnavailable)
)
