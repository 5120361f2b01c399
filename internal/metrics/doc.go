// Package metrics exports Prometheus metrics for apd.
//
// Recorder counts interface events as they happen and is fed through the
// radio event fan-out. SnapshotCollector derives per-BSS gauges from
// interface snapshots at scrape time.
package metrics
