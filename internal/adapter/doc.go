// Package adapter defines the radio driver interface for the access point
// control plane.
//
// Drivers implement vendor or kernel specific protocols (nl80211, a
// simulator). The Driver interface is the stable contract every
// implementation must satisfy; a conformance suite lives in adaptertest.
// Asynchronous driver notifications are delivered as Event values.
package adapter
