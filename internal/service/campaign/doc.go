// Package campaign implements the campaign lifecycle state machine.
//
// The service owns every status transition a caller can request (schedule,
// send-now, cancel) and enforces the lifecycle rules: content is frozen once
// a campaign has been sent, terminal states are never left, and the
// draft/scheduled -> sending claim is a conditional update so concurrent
// callers race safely. Worker-driven transitions (sending -> sent,
// sending -> failed) go through the same repository primitives.
//
// Rules for this package:
//   - No direct database access; everything goes through Repository.
//   - Sentinel errors in errors.go are the API contract; handlers map them
//     to HTTP status codes.
package campaign
