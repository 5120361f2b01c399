// Package channel implements channel selection, channel switch announcement
// and radar avoidance for one radio interface.
//
// The Coordinator owns the operating channel, the in-progress switch and the
// CAC wait. Like the admission protocol it is driven from the interface
// event loop: beacon ticks, radar reports and timer callbacks all arrive on
// that loop, so no locking is needed.
//
// Automatic channel selection ranks survey results by interference factor,
// busy/active time scaled by 2^(noise - lowest noise).
package channel
