//
//
package frame

import (
	"fmt"
	"net"
)

// Addr is a 48-bit IEEE 802 hardware address.
type Addr [6]byte

// Broadcast is ff:ff:ff:ff:ff:ff.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses a colon separated hardware address.
func ParseAddr(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Addr{}, err
	}
	if len(hw) != 6 {
		return Addr{}, fmt.Errorf("address %q is not 48 bits", s)
	}
	return AddrFrom(hw), nil
}

// MustParseAddr is ParseAddr for constants in tests and fixtures.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFrom copies the first six bytes of hw.
func AddrFrom(hw net.HardwareAddr) Addr {
	var a Addr
	copy(a[:], hw)
	return a
}

// HardwareAddr returns a as a net.HardwareAddr backed by a fresh slice.
func (a Addr) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, 6)
	copy(hw, a[:])
	return hw
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether a is the all-zero address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// IsGroup reports whether the group bit is set.
func (a Addr) IsGroup() bool {
	return a[0]&0x01 != 0
}

// MarshalText implements encoding.TextMarshaler.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
