package radio

import "fmt"

// State is the interface lifecycle state.
type State int

const (
	Uninitialized State = iota
	Disabled
	CountryUpdate
	AutoChannelSelect
	HTScan
	DFS
	Enabled
)

var stateNames = map[State]string{
	Uninitialized:     "uninitialized",
	Disabled:          "disabled",
	CountryUpdate:     "countryUpdate",
	AutoChannelSelect: "acs",
	HTScan:            "htScan",
	DFS:               "dfs",
	Enabled:           "enabled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState maps a state name back to its value.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Uninitialized, fmt.Errorf("unknown interface state %q", name)
}
