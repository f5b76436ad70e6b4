package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotDeletable is returned when deleting a job that is not in a deletable state.
	ErrJobNotDeletable = errors.New("job cannot be deleted while running")
	// ErrJobLeased is returned when deleting a job that still holds an active lease.
	ErrJobLeased = errors.New("job is leased and cannot be deleted")

	// ErrScheduleNotFound is returned when a schedule definition is not found.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrStockItemNotFound is returned when a stock item lookup misses.
	ErrStockItemNotFound = errors.New("stock item not found")
)
