// Package worker contains the background loops that move campaigns through
// the delivery pipeline: the scheduler promotes due campaigns, the dispatcher
// fans out and sends deliveries, the ingestor applies provider webhook
// events, and the digest builder creates the recurring weekly campaign.
//
// Workers follow a common shape: Start launches goroutines under an internal
// context, Stop cancels and waits, counters are atomics read by a heartbeat
// logger. All state that must survive a crash lives in the store, never in
// worker memory.
package worker
