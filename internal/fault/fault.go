// Package fault classifies control-plane failures.
//
// Every error that crosses a component boundary carries one of four kinds so
// callers can pick a recovery rule without inspecting messages:
//
//   - ProtocolViolation: the peer sent something invalid; reject and continue.
//   - ResourceExhausted: AID space or a station limit is full; reject with a
//     status code.
//   - DriverFailure: the driver refused an operation; the triggering operation
//     is reverted and the failure is surfaced.
//   - RegulatoryFailure: no usable channel or a disallowed target; retried on
//     the next selection cycle.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the failure class.
type Kind int

const (
	KindUnknown Kind = iota
	ProtocolViolation
	ResourceExhausted
	DriverFailure
	RegulatoryFailure
)

// String returns the wire token used in API responses and audit records.
func (k Kind) String() string {
	switch k {
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case DriverFailure:
		return "DRIVER_FAILURE"
	case RegulatoryFailure:
		return "REGULATORY_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified failure. Status is the 802.11 status or reason code
// sent to the station, when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Station string
	Status  uint16
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Station != "" {
		fmt.Fprintf(&b, " sta=%s", e.Station)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind alone, so errors.Is(err, fault.ErrDriver)
// works for any driver failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Station == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind markers for errors.Is.
var (
	ErrProtocol   = &Error{Kind: ProtocolViolation}
	ErrExhausted  = &Error{Kind: ResourceExhausted}
	ErrDriver     = &Error{Kind: DriverFailure}
	ErrRegulatory = &Error{Kind: RegulatoryFailure}
)

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Protocol builds a ProtocolViolation carrying the status sent to the peer.
func Protocol(op, station string, status uint16, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    ProtocolViolation,
		Op:      op,
		Station: station,
		Status:  status,
		Err:     fmt.Errorf(format, args...),
	}
}

// Exhausted builds a ResourceExhausted error.
func Exhausted(op, station string, status uint16, err error) *Error {
	return &Error{Kind: ResourceExhausted, Op: op, Station: station, Status: status, Err: err}
}

// Driver wraps a driver error.
func Driver(op, station string, err error) *Error {
	return &Error{Kind: DriverFailure, Op: op, Station: station, Err: err}
}

// Regulatory builds a RegulatoryFailure.
func Regulatory(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: RegulatoryFailure, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// StatusOf returns the 802.11 status carried by err, or 0.
func StatusOf(err error) uint16 {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}
