// Package accounting exports station session records.
//
// KafkaSink publishes JSON records keyed by station address to a Kafka
// topic; LogSink writes the same records to the daemon log. Both satisfy
// bss.Accounting and never block the caller.
package accounting
