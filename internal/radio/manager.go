package radio

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// InterfaceList is the response format for GET /interfaces.
type InterfaceList struct {
	DefaultInterface string     `json:"defaultInterface"`
	Items            []Snapshot `json:"items"`
}

// Manager holds the interfaces of the daemon in configuration order.
type Manager struct {
	mu     sync.RWMutex
	ifaces map[string]*Interface
	order  []string
	def    string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		ifaces: make(map[string]*Interface),
	}
}

// Add registers an interface. The first one becomes the default.
func (m *Manager) Add(i *Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ifaces[i.Name()]; exists {
		return fmt.Errorf("interface %s already registered", i.Name())
	}
	m.ifaces[i.Name()] = i
	m.order = append(m.order, i.Name())
	if m.def == "" {
		m.def = i.Name()
	}
	return nil
}

// Get returns the named interface.
func (m *Manager) Get(name string) (*Interface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, exists := m.ifaces[name]
	if !exists {
		return nil, fmt.Errorf("%w: interface %s", ErrNotFound, name)
	}
	return i, nil
}

// SetDefault selects the interface used when a request names none.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ifaces[name]; !exists {
		return fmt.Errorf("%w: interface %s", ErrNotFound, name)
	}
	m.def = name
	return nil
}

// Default returns the default interface name.
func (m *Manager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def
}

// Names returns the interface names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Interfaces returns the interfaces in registration order.
func (m *Manager) Interfaces() []*Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Interface, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.ifaces[name])
	}
	return out
}

// ForEach calls fn for every interface, stopping at the first error.
func (m *Manager) ForEach(fn func(*Interface) error) error {
	for _, i := range m.Interfaces() {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// List snapshots every interface.
func (m *Manager) List(ctx context.Context) (*InterfaceList, error) {
	list := &InterfaceList{DefaultInterface: m.Default()}
	err := m.ForEach(func(i *Interface) error {
		s, err := i.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("interface %s: %w", i.Name(), err)
		}
		list.Items = append(list.Items, s)
		return nil
	})
	return list, err
}

// Start runs every interface.
func (m *Manager) Start() {
	for _, i := range m.Interfaces() {
		i.Start()
	}
}

// Remove closes and unregisters an interface.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	i, exists := m.ifaces[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: interface %s", ErrNotFound, name)
	}
	delete(m.ifaces, name)
	for n, v := range m.order {
		if v == name {
			m.order = append(m.order[:n], m.order[n+1:]...)
			break
		}
	}
	if m.def == name {
		m.def = ""
		if len(m.order) > 0 {
			m.def = m.order[0]
		}
	}
	m.mu.Unlock()

	return i.Close(ctx)
}

// Shutdown closes every interface concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, i := range m.Interfaces() {
		i := i
		g.Go(func() error {
			if err := i.Close(ctx); err != nil {
				return fmt.Errorf("interface %s: %w", i.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
