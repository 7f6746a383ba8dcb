// Package tz resolves IANA timezone names with a process-wide fallback.
package tz

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultName = "UTC"

// Resolver maps timezone names to locations, caching lookups.
// Empty or unknown names resolve to the default location.
type Resolver struct {
	mu    sync.RWMutex
	def   *time.Location
	cache map[string]*time.Location
	bad   map[string]struct{}
}

// NewResolver returns a Resolver whose fallback is the named default.
// An invalid default is an error: the fallback itself must always work.
func NewResolver(defaultName string) (*Resolver, error) {
	def, err := Load(defaultName)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		def:   def,
		cache: map[string]*time.Location{},
		bad:   map[string]struct{}{},
	}, nil
}

// Load validates and loads a single IANA name ("" means UTC).
func Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	// time.LoadLocation treats "Local" specially; a group timezone must be explicit.
	if strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("timezone %q: use an IANA name like Europe/London", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// Default returns the fallback location.
func (r *Resolver) Default() *time.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// SetDefault swaps the fallback location (config hot reload).
func (r *Resolver) SetDefault(name string) error {
	loc, err := Load(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.def = loc
	r.mu.Unlock()
	return nil
}

// Resolve returns the location for name. fellBack is true when name was empty
// or not a known zone and the default was used instead.
func (r *Resolver) Resolve(name string) (loc *time.Location, fellBack bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.Default(), true
	}

	r.mu.RLock()
	loc, ok := r.cache[name]
	_, isBad := r.bad[name]
	def := r.def
	r.mu.RUnlock()
	if ok {
		return loc, false
	}
	if isBad {
		return def, true
	}

	l, err := Load(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.bad[name] = struct{}{}
		return r.def, true
	}
	r.cache[name] = l
	return l, false
}
