package adapter

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Normalized driver errors.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// DriverMap defines the error token mapping for one driver family.
type DriverMap struct {
	Range       []string // Tokens that map to INVALID_RANGE
	Busy        []string // Tokens that map to BUSY
	Unavailable []string // Tokens that map to UNAVAILABLE
}

// DriverErrorMappings contains the error mapping tables per driver family.
//
// nl80211 drivers report negative errno values; the tokens are the errno
// names as rendered in netlink extended acks and by userspace tools.
// Unknown tokens map to INTERNAL. Unknown families fall back to "generic".
var DriverErrorMappings = map[string]DriverMap{
	"nl80211": {
		Range: []string{
			"EINVAL",
			"ERANGE",
			"EOPNOTSUPP",
			"ENOTSUPP",
			"EDOM",
			"INVALID ARGUMENT",
		},
		Busy: []string{
			"EBUSY",
			"EAGAIN",
			"EALREADY",
			"EINPROGRESS",
			"ENOSPC",
			"RESOURCE BUSY",
		},
		Unavailable: []string{
			"ENODEV",
			"ENETDOWN",
			"ENOLINK",
			"ESHUTDOWN",
			"ENXIO",
			"NO SUCH DEVICE",
		},
	},
	"generic": {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"INVALID_RANGE",
			"BAD_VALUE",
			"RANGE_ERROR",
		},
		Busy: []string{
			"BUSY",
			"RETRY",
			"RATE_LIMIT",
			"QUEUE_FULL",
			"BACKOFF",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"RESTARTING",
			"OFFLINE",
			"NOT_READY",
			"DOWN",
		},
	},
}

var errnoCodes = map[syscall.Errno]error{
	syscall.EINVAL:      ErrInvalidRange,
	syscall.ERANGE:      ErrInvalidRange,
	syscall.EOPNOTSUPP:  ErrInvalidRange,
	syscall.EBUSY:       ErrBusy,
	syscall.EAGAIN:      ErrBusy,
	syscall.EALREADY:    ErrBusy,
	syscall.EINPROGRESS: ErrBusy,
	syscall.ENODEV:      ErrUnavailable,
	syscall.ENETDOWN:    ErrUnavailable,
	syscall.ENOLINK:     ErrUnavailable,
}

// DriverError wraps a driver error with the operation and the normalized
// code. errors.Is matches the code.
type DriverError struct {
	Op       string      // Driver method
	Code     error       // Normalized code
	Original error       // Driver error
	Details  interface{} // Driver payload (opaque)
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %v (driver: %v)", e.Op, e.Code, e.Original)
}

func (e *DriverError) Unwrap() error {
	return e.Code
}

// Normalize maps driver errors using the generic tables.
func Normalize(op string, driverErr error, payload interface{}) error {
	return NormalizeWithFamily(op, driverErr, payload, "generic")
}

// NormalizeWithFamily maps a driver error to a normalized code using the
// tables of a driver family. Errors that already carry a normalized code or
// an errno keep it.
func NormalizeWithFamily(op string, driverErr error, payload interface{}, family string) error {
	if driverErr == nil {
		return nil
	}
	var de *DriverError
	if errors.As(driverErr, &de) {
		return driverErr
	}

	return &DriverError{
		Op:       op,
		Code:     codeFor(driverErr, family),
		Original: driverErr,
		Details:  payload,
	}
}

func codeFor(err error, family string) error {
	for _, code := range []error{ErrInvalidRange, ErrBusy, ErrUnavailable, ErrInternal} {
		if errors.Is(err, code) {
			return code
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if code, ok := errnoCodes[errno]; ok {
			return code
		}
	}
	return mapTokenToCode(err.Error(), family)
}

func mapTokenToCode(msg string, family string) error {
	m, ok := DriverErrorMappings[family]
	if !ok {
		m = DriverErrorMappings["generic"]
	}

	upper := strings.ToUpper(msg)

	for _, token := range m.Range {
		if strings.Contains(upper, token) {
			return ErrInvalidRange
		}
	}
	for _, token := range m.Busy {
		if strings.Contains(upper, token) {
			return ErrBusy
		}
	}
	for _, token := range m.Unavailable {
		if strings.Contains(upper, token) {
			return ErrUnavailable
		}
	}
	return ErrInternal
}
