package campaign

import "errors"

var (
	// ErrNotFound is returned when a campaign ID does not exist.
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidSchedule is returned when the requested send time is not in
	// the future.
	ErrInvalidSchedule = errors.New("scheduled time must be in the future")

	// ErrAlreadySent is returned when a send or schedule request targets a
	// campaign that already left the draft/scheduled states.
	ErrAlreadySent = errors.New("campaign already sent or sending")

	// ErrNotCancellable is returned when cancel is requested in a state other
	// than scheduled or sending.
	ErrNotCancellable = errors.New("campaign cannot be cancelled in its current state")

	// ErrImmutableCampaign is returned when an update targets a campaign whose
	// content is frozen.
	ErrImmutableCampaign = errors.New("campaign content is immutable after sending")

	// ErrDuplicatePeriod is returned when a campaign with the same period key
	// already exists. The period key is unique, so concurrent digest builders
	// settle on one campaign per period.
	ErrDuplicatePeriod = errors.New("campaign already exists for period")
)
