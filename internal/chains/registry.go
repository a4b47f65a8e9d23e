// Package chains holds the registry of networks the wallet can operate on.
// The registry is append-only at runtime and mirrored to chains.json so
// dapp-added networks survive restarts.
package chains

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
	"github.com/keyhaven-io/keyhaven-walletd/internal/store"
)

var (
	// ErrNotFound is returned by Get for chain ids the registry does not know.
	ErrNotFound = errors.New("chain not found")

	// ErrDuplicateChain is returned by Add when the chainId is already
	// registered. Uniqueness is enforced at the registry boundary.
	ErrDuplicateChain = errors.New("chain already registered")
)

type Registry struct {
	mu    sync.RWMutex
	path  string // empty = in-memory only (tests)
	store fileStore
}

// NewRegistry creates a registry persisted at the canonical config path.
func NewRegistry() (*Registry, error) {
	dir, err := store.ConfigDir(constants.AppName)
	if err != nil {
		return nil, err
	}
	return NewRegistryAt(dir + "/" + constants.ChainsFile), nil
}

// NewRegistryAt creates a registry backed by the given file. An empty path
// keeps the registry purely in memory.
func NewRegistryAt(path string) *Registry {
	return &Registry{path: path, store: newEmptyStore()}
}

// Load reads chains.json if it exists. Missing file = empty registry.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		return nil
	}

	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chains file: %w", err)
	}

	var s fileStore
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("parse chains file: %w", err)
	}
	if s.Schema == 0 {
		s.Schema = constants.SchemaV1
	}

	// Normalize defensively; drop unusable entries.
	norm := newEmptyStore()
	norm.Schema = s.Schema
	seen := map[uint64]bool{}
	for _, d := range s.Chains {
		d = normalizeDescriptor(d)
		if d.ChainID == 0 || seen[d.ChainID] {
			continue
		}
		seen[d.ChainID] = true
		norm.Chains = append(norm.Chains, d)
	}

	r.store = norm
	return nil
}

// Get looks a descriptor up by chain id.
func (r *Registry) Get(chainID uint64) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.store.Chains {
		if d.ChainID == chainID {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %d", ErrNotFound, chainID)
}

// Has reports whether the chain id is registered.
func (r *Registry) Has(chainID uint64) bool {
	_, err := r.Get(chainID)
	return err == nil
}

// Add appends a descriptor. Duplicate chain ids are rejected; callers that
// want add-if-absent semantics check Has first.
func (r *Registry) Add(d Descriptor) error {
	d = normalizeDescriptor(d)
	if d.ChainID == 0 {
		return fmt.Errorf("chainId is required")
	}
	if d.Name == "" {
		return fmt.Errorf("chain name is required")
	}
	if len(d.RPCURLs) == 0 {
		return fmt.Errorf("at least one rpc url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, have := range r.store.Chains {
		if have.ChainID == d.ChainID {
			return fmt.Errorf("%w: %d (name: %s)", ErrDuplicateChain, d.ChainID, have.Name)
		}
	}

	r.store.Chains = append(r.store.Chains, d)
	return r.persistLocked()
}

// EnsureDefaults merges the configured default networks into the registry:
// first run creates the file, later runs add only missing chain ids.
func (r *Registry) EnsureDefaults(defaults []Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	have := map[uint64]bool{}
	for _, d := range r.store.Chains {
		have[d.ChainID] = true
	}

	changed := false
	for _, d := range defaults {
		d = normalizeDescriptor(d)
		if d.ChainID == 0 || have[d.ChainID] {
			continue
		}
		have[d.ChainID] = true
		r.store.Chains = append(r.store.Chains, d)
		changed = true
	}

	if r.path != "" {
		if _, err := os.Stat(r.path); err != nil {
			changed = true
		}
	}
	if changed {
		return r.persistLocked()
	}
	return nil
}

// List returns all descriptors in registry (append) order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.store.Chains))
	copy(out, r.store.Chains)
	return out
}

// ListProduction returns non-test networks sorted by name.
func (r *Registry) ListProduction() []Descriptor {
	return r.listPartition(false)
}

// ListTest returns test networks sorted by name.
func (r *Registry) ListTest() []Descriptor {
	return r.listPartition(true)
}

func (r *Registry) listPartition(test bool) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.store.Chains))
	for _, d := range r.store.Chains {
		if d.IsTestNetwork == test {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(r.store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chains store: %w", err)
	}
	return store.AtomicWriteFile(r.path, b, constants.FilePerm)
}

func normalizeDescriptor(d Descriptor) Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.RPCURLs = uniqueURLs(d.RPCURLs)
	d.BlockExplorerURLs = uniqueURLs(d.BlockExplorerURLs)
	return d
}

func uniqueURLs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		key := strings.ToLower(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out
}
