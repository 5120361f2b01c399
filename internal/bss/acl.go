package bss

import (
	"bytes"
	"slices"
	"time"

	"github.com/radio-control/apd/internal/frame"
)

// ACLPolicy selects how the static address lists are applied.
type ACLPolicy int

const (
	AcceptUnlessDenied ACLPolicy = iota
	DenyUnlessAccepted
)

// ACL is the static MAC access control list of a BSS.
type ACL struct {
	Policy ACLPolicy
	Accept []frame.Addr
	Deny   []frame.Addr
}

// Allowed reports whether addr passes the ACL.
func (a ACL) Allowed(addr frame.Addr) bool {
	if slices.Contains(a.Deny, addr) {
		return false
	}
	if a.Policy == DenyUnlessAccepted {
		return slices.Contains(a.Accept, addr)
	}
	return true
}

// Ban is one runtime ban entry. A zero Until bans forever.
type Ban struct {
	Addr  frame.Addr `json:"addr"`
	Until time.Time  `json:"until,omitempty"`
}

// BanList holds runtime bans set by administrators or kicks.
type BanList struct {
	entries map[frame.Addr]time.Time
}

// NewBanList creates an empty ban list.
func NewBanList() *BanList {
	return &BanList{entries: make(map[frame.Addr]time.Time)}
}

// Add bans addr until the given time, replacing an earlier entry.
func (b *BanList) Add(addr frame.Addr, until time.Time) {
	b.entries[addr] = until
}

// Remove lifts a ban. It reports whether one existed.
func (b *BanList) Remove(addr frame.Addr) bool {
	_, ok := b.entries[addr]
	delete(b.entries, addr)
	return ok
}

// Banned reports whether addr is banned at now. Expired entries are dropped.
func (b *BanList) Banned(addr frame.Addr, now time.Time) bool {
	until, ok := b.entries[addr]
	if !ok {
		return false
	}
	if !until.IsZero() && !now.Before(until) {
		delete(b.entries, addr)
		return false
	}
	return true
}

// List returns the live bans ordered by address.
func (b *BanList) List(now time.Time) []Ban {
	out := make([]Ban, 0, len(b.entries))
	for addr := range b.entries {
		if b.Banned(addr, now) {
			out = append(out, Ban{Addr: addr, Until: b.entries[addr]})
		}
	}
	slices.SortFunc(out, func(x, y Ban) int { return bytes.Compare(x.Addr[:], y.Addr[:]) })
	return out
}
