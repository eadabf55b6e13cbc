// Package analytics captures and serves campaign performance snapshots.
//
// Snapshots are append-only rollups of delivery counters; the latest row per
// campaign is the current view and older rows form the trend series. When the
// snapshot store is unreachable the service can fall back to clearly marked
// synthetic data so dashboards keep rendering instead of erroring out.
package analytics
