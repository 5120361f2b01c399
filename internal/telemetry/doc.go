// Package telemetry streams interface events to management clients over
// Server-Sent Events.
//
// Every interface has its own monotonic event id sequence and a bounded
// replay buffer; a client reconnecting with Last-Event-ID for an interface
// receives the events it missed that are still retained. Publisher adapts
// the radio event stream to the hub.
package telemetry
