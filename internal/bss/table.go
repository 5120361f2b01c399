package bss

import (
	"bytes"
	"slices"

	"github.com/radio-control/apd/internal/frame"
)

// Table stores the station records of one BSS, indexed by address and by
// AID.
type Table struct {
	byAddr map[frame.Addr]*Station
	byAID  map[uint16]*Station
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byAddr: make(map[frame.Addr]*Station),
		byAID:  make(map[uint16]*Station),
	}
}

// Get returns the record for addr.
func (t *Table) Get(addr frame.Addr) (*Station, bool) {
	sta, ok := t.byAddr[addr]
	return sta, ok
}

// ByAID returns the record holding aid.
func (t *Table) ByAID(aid uint16) (*Station, bool) {
	sta, ok := t.byAID[aid]
	return sta, ok
}

// Add creates an unauthenticated record for addr, or returns the existing
// one.
func (t *Table) Add(addr frame.Addr) (*Station, bool) {
	if sta, ok := t.byAddr[addr]; ok {
		return sta, false
	}
	sta := &Station{Addr: addr}
	t.byAddr[addr] = sta
	return sta, true
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.byAddr) }

// Stations returns the records ordered by address.
func (t *Table) Stations() []*Station {
	out := make([]*Station, 0, len(t.byAddr))
	for _, sta := range t.byAddr {
		out = append(out, sta)
	}
	slices.SortFunc(out, func(a, b *Station) int {
		return bytes.Compare(a.Addr[:], b.Addr[:])
	})
	return out
}

func (t *Table) bindAID(sta *Station, aid uint16) {
	sta.AID = aid
	t.byAID[aid] = sta
}

func (t *Table) unbindAID(sta *Station) {
	if sta.AID != 0 && t.byAID[sta.AID] == sta {
		delete(t.byAID, sta.AID)
	}
	sta.AID = 0
}

func (t *Table) remove(sta *Station) {
	if t.byAddr[sta.Addr] == sta {
		delete(t.byAddr, sta.Addr)
	}
}
