package db

import (
	"cmp"
	"encoding/gob"
	"errors"
	"os"
	"slices"
	"sync"

	"github.com/objcflow/objcflow/internal/model"
)

// Memory is a database that stores data in memory. When Path is set the
// contents are loaded on Connect and written back on Close.
type Memory struct {
	Binaries map[string]*model.Binary
	sites    map[string][]*model.CallSite
	Path     string

	mu sync.RWMutex
}

// NewInMemory creates a new in-memory database.
func NewInMemory(path string) (Database, error) {
	return &Memory{
		Binaries: make(map[string]*model.Binary),
		sites:    make(map[string][]*model.CallSite),
		Path:     path,
	}, nil
}

type memoryState struct {
	Binaries  map[string]*model.Binary
	CallSites map[string][]*model.CallSite
}

// Connect loads the database file, if there is one.
func (m *Memory) Connect() error {
	if m.Path == "" {
		return nil
	}
	f, err := os.Open(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	var state memoryState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Binaries != nil {
		m.Binaries = state.Binaries
	}
	if state.CallSites != nil {
		m.sites = state.CallSites
	}
	return nil
}

func (m *Memory) SaveBinary(b *model.Binary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Binaries[b.UUID] = b
	return nil
}

func (m *Memory) GetBinary(key string) (*model.Binary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.Binaries[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return b, nil
}

func (m *Memory) CreateCallSites(sites []*model.CallSite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, site := range sites {
		m.sites[site.BinaryUUID] = append(m.sites[site.BinaryUUID], site)
	}
	for key := range m.sites {
		slices.SortStableFunc(m.sites[key], func(a, b *model.CallSite) int {
			return cmp.Compare(a.Address, b.Address)
		})
	}
	return nil
}

func (m *Memory) filter(key string, keep func(*model.CallSite) bool) []*model.CallSite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CallSite
	for _, site := range m.sites[key] {
		if keep(site) {
			out = append(out, site)
		}
	}
	return out
}

func (m *Memory) CallSites(key string) ([]*model.CallSite, error) {
	return m.filter(key, func(*model.CallSite) bool { return true }), nil
}

func (m *Memory) CallersOf(key string, addr uint64) ([]*model.CallSite, error) {
	return m.filter(key, func(s *model.CallSite) bool {
		return s.HasDestination && s.Destination == addr
	}), nil
}

func (m *Memory) SendersOf(key, sel string) ([]*model.CallSite, error) {
	return m.filter(key, func(s *model.CallSite) bool {
		return s.Selector == sel
	}), nil
}

func (m *Memory) DeleteBinary(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Binaries, key)
	delete(m.sites, key)
	return nil
}

// Close writes the database file, if there is one.
func (m *Memory) Close() error {
	if m.Path == "" {
		return nil
	}
	f, err := os.Create(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gob.NewEncoder(f).Encode(memoryState{Binaries: m.Binaries, CallSites: m.sites})
}
