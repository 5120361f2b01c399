// Package radio implements the interface context of the access point
// daemon.
//
// Each Interface owns one radio driver, its BSSes and the channel
// coordinator, and serializes every state transition, station table
// mutation and AID allocation on a single event loop goroutine. The Manager
// holds the interfaces of the process and iterates over them.
//
// Lifecycle:
//
//	Uninitialized -> Disabled -> CountryUpdate -> AutoChannelSelect -> HtScan -> Dfs -> Enabled
//
// with radar returning Dfs and Enabled to AutoChannelSelect, and teardown or
// a fatal driver error returning any state to Disabled.
package radio
