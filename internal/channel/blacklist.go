package channel

import (
	"slices"
	"time"
)

// BlacklistEntry is a frequency under radar non-occupancy.
type BlacklistEntry struct {
	FrequencyMHz int       `json:"frequencyMhz"`
	Until        time.Time `json:"until"`
}

// Blacklist holds frequencies on which radar was detected.
type Blacklist struct {
	entries map[int]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[int]time.Time)}
}

// Add blacklists freq until the given time, extending an earlier entry.
func (l *Blacklist) Add(freqMHz int, until time.Time) {
	if prev, ok := l.entries[freqMHz]; ok && prev.After(until) {
		return
	}
	l.entries[freqMHz] = until
}

// Contains reports whether freq is blacklisted at now. Expired entries are
// dropped.
func (l *Blacklist) Contains(freqMHz int, now time.Time) bool {
	until, ok := l.entries[freqMHz]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(l.entries, freqMHz)
		return false
	}
	return true
}

// Entries returns the live entries ordered by frequency.
func (l *Blacklist) Entries(now time.Time) []BlacklistEntry {
	out := make([]BlacklistEntry, 0, len(l.entries))
	for freq, until := range l.entries {
		if l.Contains(freq, now) {
			out = append(out, BlacklistEntry{FrequencyMHz: freq, Until: until})
		}
	}
	slices.SortFunc(out, func(a, b BlacklistEntry) int { return a.FrequencyMHz - b.FrequencyMHz })
	return out
}
