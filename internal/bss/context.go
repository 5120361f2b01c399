// Package bss holds the per virtual access point aggregate: the station
// table, the AID allocator, the capability counters derived from the
// associated population, ACL and ban lists, and the collaborator handles.
//
// A Context is not safe for concurrent use. Its owner serializes every call
// through the interface event loop; external readers take a Snapshot there.
package bss

import (
	"fmt"
	"slices"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// KeyMgmt selects the authenticator that establishes keys after
// association.
type KeyMgmt int

const (
	KeyMgmtNone KeyMgmt = iota
	KeyMgmtWPA
	KeyMgmt8021X
)

func (k KeyMgmt) String() string {
	switch k {
	case KeyMgmtWPA:
		return "wpa"
	case KeyMgmt8021X:
		return "8021x"
	default:
		return "none"
	}
}

// Config is the configuration of one BSS.
type Config struct {
	BSSID          frame.Addr
	SSID           string
	Profile        capability.BSSProfile
	Algorithms     []frame.Algorithm
	KeyMgmt        KeyMgmt
	MaxStations    int
	MaxAID         int
	BeaconInterval uint16
	ACL            ACL
	// LVAP answers each station from the BSSID it addressed.
	LVAP bool
}

// Validate checks the BSS configuration.
func (c Config) Validate() error {
	if c.BSSID.IsZero() || c.BSSID.IsGroup() {
		return fmt.Errorf("bss %s: invalid BSSID", c.BSSID)
	}
	if c.SSID == "" || len(c.SSID) > 32 {
		return fmt.Errorf("bss %s: SSID must be 1-32 bytes", c.BSSID)
	}
	if len(c.Algorithms) == 0 {
		return fmt.Errorf("bss %s: no authentication algorithm enabled", c.BSSID)
	}
	if len(c.Profile.Rates) == 0 {
		return fmt.Errorf("bss %s: no supported rates", c.BSSID)
	}
	for _, r := range c.Profile.BasicRates {
		if !slices.Contains(c.Profile.Rates, r) {
			return fmt.Errorf("bss %s: basic rate %.1f is not a supported rate", c.BSSID, r.Mbps())
		}
	}
	if c.MaxAID < 0 || c.MaxAID > MaxAID {
		return fmt.Errorf("bss %s: maxAid %d outside 1..%d", c.BSSID, c.MaxAID, MaxAID)
	}
	if c.MaxStations < 0 {
		return fmt.Errorf("bss %s: negative maxStations", c.BSSID)
	}
	return nil
}

// Context is one BSS.
type Context struct {
	cfg      Config
	table    *Table
	aids     *AIDAllocator
	bans     *BanList
	collab   Collaborators
	counters Counters
	olbc     OLBC
	width40  bool
	mode     adapter.OperatingMode
	modeSet  bool
}

// New creates a BSS from a validated configuration. Missing collaborators
// are replaced by no-op implementations.
func New(cfg Config, collab Collaborators) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Profile.SSID = []byte(cfg.SSID)
	return &Context{
		cfg:    cfg,
		table:  NewTable(),
		aids:   NewAIDAllocator(cfg.MaxAID),
		bans:   NewBanList(),
		collab: collab.withDefaults(),
	}, nil
}

func (c *Context) BSSID() frame.Addr              { return c.cfg.BSSID }
func (c *Context) SSID() string                   { return c.cfg.SSID }
func (c *Context) Config() Config                 { return c.cfg }
func (c *Context) Table() *Table                  { return c.table }
func (c *Context) AIDs() *AIDAllocator            { return c.aids }
func (c *Context) Bans() *BanList                 { return c.bans }
func (c *Context) Counters() Counters             { return c.counters }
func (c *Context) Collaborators() Collaborators   { return c.collab }
func (c *Context) Profile() capability.BSSProfile { return c.cfg.Profile }

// SetConfig swaps the configuration. The BSSID cannot change and the AID
// space keeps the size it was created with.
func (c *Context) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.BSSID != c.cfg.BSSID {
		return fmt.Errorf("bss %s: BSSID cannot change on reload", c.cfg.BSSID)
	}
	cfg.Profile.SSID = []byte(cfg.SSID)
	c.cfg = cfg
	return nil
}

// Authenticator returns the authenticator selected by the key management
// setting.
func (c *Context) Authenticator() Authenticator {
	if c.cfg.KeyMgmt == KeyMgmt8021X {
		return c.collab.IEEE8021X
	}
	return c.collab.WPA
}

// AlgorithmAllowed reports whether the BSS accepts alg.
func (c *Context) AlgorithmAllowed(alg frame.Algorithm) bool {
	return slices.Contains(c.cfg.Algorithms, alg)
}

// Admissible reports whether addr passes the ACL and is not banned.
func (c *Context) Admissible(addr frame.Addr, now time.Time) bool {
	return c.cfg.ACL.Allowed(addr) && !c.bans.Banned(addr, now)
}

// Env returns the BSS-wide conditions for capability negotiation.
func (c *Context) Env() capability.Env {
	return capability.Env{LegacyPresent: c.counters.LegacyPresent() || c.olbc.HT}
}

// SetOLBC records the overlapping legacy BSS condition.
func (c *Context) SetOLBC(o OLBC) { c.olbc = o }

// SetWidth40 records whether the interface operates at 40 MHz or wider.
func (c *Context) SetWidth40(on bool) { c.width40 = on }

// Associated returns the number of associated stations.
func (c *Context) Associated() int { return c.aids.Count() }

// Full reports whether the station limit is reached.
func (c *Context) Full() bool {
	return c.cfg.MaxStations > 0 && c.Associated() >= c.cfg.MaxStations
}

// Associate moves sta to Associated with set. A station without an AID gets
// the lowest free one; a station that already holds one keeps it. The
// station's counter contribution is replaced. On error nothing changes.
func (c *Context) Associate(sta *Station, set capability.Set) error {
	if sta.AID == 0 {
		aid, err := c.aids.Allocate()
		if err != nil {
			return err
		}
		c.table.bindAID(sta, aid)
	}
	c.recount(sta, set.Contribution())
	sta.Caps = set
	sta.Status = Associated
	return nil
}

// Disassociate releases the AID and counter contribution of sta and demotes
// it to Authenticated. It reports whether sta was associated.
func (c *Context) Disassociate(sta *Station) bool {
	if sta.Status != Associated {
		return false
	}
	if sta.AID != 0 {
		c.aids.Release(sta.AID)
	}
	c.table.unbindAID(sta)
	c.uncount(sta)
	sta.Status = Authenticated
	sta.Authorized = false
	sta.Pending = PhaseNone
	return true
}

// Remove disassociates sta if needed and destroys the record. It reports
// whether sta was associated.
func (c *Context) Remove(sta *Station) bool {
	was := c.Disassociate(sta)
	c.table.remove(sta)
	return was
}

// Refresh replaces the negotiated set and counter contribution of an
// associated station.
func (c *Context) Refresh(sta *Station, set capability.Set) {
	if sta.Status != Associated {
		return
	}
	c.recount(sta, set.Contribution())
	sta.Caps = set
}

func (c *Context) recount(sta *Station, f capability.Flags) {
	if sta.counted {
		c.counters.apply(sta.contribution, -1)
	}
	c.counters.apply(f, 1)
	sta.contribution = f
	sta.counted = true
}

func (c *Context) uncount(sta *Station) {
	if !sta.counted {
		return
	}
	c.counters.apply(sta.contribution, -1)
	sta.contribution = 0
	sta.counted = false
}

// OperatingMode derives the BSS-wide protection state.
func (c *Context) OperatingMode() adapter.OperatingMode {
	return deriveOperatingMode(c.counters, c.olbc, c.cfg.Profile.Band, c.cfg.Profile.HT != nil, c.width40)
}

// ModeChanged returns the operating mode and whether it differs from the
// one last returned.
func (c *Context) ModeChanged() (adapter.OperatingMode, bool) {
	m := c.OperatingMode()
	if c.modeSet && m == c.mode {
		return m, false
	}
	c.mode, c.modeSet = m, true
	return m, true
}

// Verify recomputes the counters and the AID index from the table and
// reports the first inconsistency.
func (c *Context) Verify() error {
	var want Counters
	associated := 0
	for _, sta := range c.table.Stations() {
		if sta.Status != Associated {
			if sta.AID != 0 || sta.counted {
				return fmt.Errorf("station %s is %s but holds aid %d counted=%v", sta.Addr, sta.Status, sta.AID, sta.counted)
			}
			continue
		}
		associated++
		if sta.AID == 0 || !c.aids.InUse(sta.AID) {
			return fmt.Errorf("associated station %s has no allocated aid (%d)", sta.Addr, sta.AID)
		}
		if owner, ok := c.table.ByAID(sta.AID); !ok || owner != sta {
			return fmt.Errorf("aid %d does not index station %s", sta.AID, sta.Addr)
		}
		want.apply(sta.Caps.Contribution(), 1)
	}
	if associated != c.aids.Count() || len(c.table.byAID) != associated {
		return fmt.Errorf("aid bitmap holds %d, index %d, associated %d", c.aids.Count(), len(c.table.byAID), associated)
	}
	if want != c.counters {
		return fmt.Errorf("counters %+v, recomputed %+v", c.counters, want)
	}
	return nil
}

// Snapshot is a read-only copy of a BSS.
type Snapshot struct {
	BSSID       frame.Addr            `json:"bssid"`
	SSID        string                `json:"ssid"`
	Stations    []Info                `json:"stations"`
	Associated  int                   `json:"associated"`
	AIDCapacity int                   `json:"aidCapacity"`
	Counters    Counters              `json:"counters"`
	OLBC        OLBC                  `json:"olbc"`
	Mode        adapter.OperatingMode `json:"operatingMode"`
	Bans        []Ban                 `json:"bans"`
}

// Snapshot copies the BSS state.
func (c *Context) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		BSSID:       c.cfg.BSSID,
		SSID:        c.cfg.SSID,
		Associated:  c.Associated(),
		AIDCapacity: c.aids.Capacity(),
		Counters:    c.counters,
		OLBC:        c.olbc,
		Mode:        c.OperatingMode(),
		Bans:        c.bans.List(now),
	}
	for _, sta := range c.table.Stations() {
		s.Stations = append(s.Stations, sta.Info())
	}
	return s
}
