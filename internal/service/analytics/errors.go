package analytics

import "errors"

var (
	// ErrNotFound is returned when no snapshot exists for a campaign.
	ErrNotFound = errors.New("no snapshot for campaign")

	// ErrStoreUnavailable is returned by repositories when the snapshot store
	// cannot be reached. The service treats it as the trigger for degraded
	// mode when that mode is enabled.
	ErrStoreUnavailable = errors.New("snapshot store unavailable")
)
