package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// ErrBackendNotRegistered is returned by Open for an unknown URL scheme.
var ErrBackendNotRegistered = errors.New("database backend not registered")

// Opener connects to a backend and prepares its schema.
type Opener func(cfg *config.DatabaseConfig) (Store, error)

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// RegisterBackend makes a backend available for the given URL schemes.
// Backend packages call it from init to avoid import cycles.
func RegisterBackend(open Opener, schemes ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for _, s := range schemes {
		backends[s] = open
	}
}

// Schemes lists the registered URL schemes.
func Schemes() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for s := range backends {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open picks the backend by the scheme of cfg.URL.
func Open(cfg *config.DatabaseConfig) (Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	scheme, _, ok := strings.Cut(cfg.URL, "://")
	if !ok {
		return nil, fmt.Errorf("DATABASE_URL must start with a scheme such as postgres://")
	}

	backendsMu.RLock()
	open, found := backends[strings.ToLower(scheme)]
	backendsMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrBackendNotRegistered, scheme, strings.Join(Schemes(), ", "))
	}
	return open(cfg)
}
