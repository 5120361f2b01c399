package bss

import (
	"errors"
	"math/bits"

	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// MaxAID is the largest association identifier a BSS may hand out.
const MaxAID = 2007

// ErrAIDSpaceFull is wrapped by the ResourceExhausted error of Allocate.
var ErrAIDSpaceFull = errors.New("AID space full")

// AIDAllocator hands out association identifiers 1..N from a bitmap. Bit 0
// of word 0 is AID 1.
type AIDAllocator struct {
	words []uint32
	max   int
	used  int
}

// NewAIDAllocator creates an allocator for AIDs 1..max. Values outside
// 1..MaxAID are clamped.
func NewAIDAllocator(max int) *AIDAllocator {
	if max <= 0 || max > MaxAID {
		max = MaxAID
	}
	return &AIDAllocator{
		words: make([]uint32, (max+31)/32),
		max:   max,
	}
}

// Allocate returns the lowest free AID.
func (a *AIDAllocator) Allocate() (uint16, error) {
	for i, w := range a.words {
		if w == ^uint32(0) {
			continue
		}
		bit := bits.TrailingZeros32(^w)
		aid := i*32 + bit + 1
		if aid > a.max {
			break
		}
		a.words[i] |= 1 << bit
		a.used++
		return uint16(aid), nil
	}
	return 0, fault.Exhausted("allocate aid", "", uint16(frame.StatusAPUnableToHandle), ErrAIDSpaceFull)
}

// Release frees aid. It reports whether the AID was in use.
func (a *AIDAllocator) Release(aid uint16) bool {
	if !a.valid(aid) || !a.InUse(aid) {
		return false
	}
	i, bit := a.index(aid)
	a.words[i] &^= 1 << bit
	a.used--
	return true
}

// InUse reports whether aid is allocated.
func (a *AIDAllocator) InUse(aid uint16) bool {
	if !a.valid(aid) {
		return false
	}
	i, bit := a.index(aid)
	return a.words[i]&(1<<bit) != 0
}

// Count returns the number of allocated AIDs.
func (a *AIDAllocator) Count() int { return a.used }

// Capacity returns N.
func (a *AIDAllocator) Capacity() int { return a.max }

// Bitmap returns a copy of the allocation bitmap.
func (a *AIDAllocator) Bitmap() []uint32 {
	return append([]uint32(nil), a.words...)
}

func (a *AIDAllocator) valid(aid uint16) bool {
	return aid >= 1 && int(aid) <= a.max
}

func (a *AIDAllocator) index(aid uint16) (int, uint) {
	n := int(aid) - 1
	return n / 32, uint(n % 32)
}
