package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/voicefront/voicefront/pkg/audio/ble"
	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/provider/vad"
	"github.com/voicefront/voicefront/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	vad       map[string]func(ProviderEntry) (vad.Engine, error)
	wakeWord  map[string]func(ProviderEntry) (wakeword.Engine, error)
	bluetooth map[string]func(ProviderEntry) (ble.Central, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		vad:       make(map[string]func(ProviderEntry) (vad.Engine, error)),
		wakeWord:  make(map[string]func(ProviderEntry) (wakeword.Engine, error)),
		bluetooth: make(map[string]func(ProviderEntry) (ble.Central, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWakeWord registers a wake-word engine factory under name.
func (r *Registry) RegisterWakeWord(name string, factory func(ProviderEntry) (wakeword.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeWord[name] = factory
}

// RegisterBluetooth registers a Bluetooth central factory under name.
func (r *Registry) RegisterBluetooth(name string, factory func(ProviderEntry) (ble.Central, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bluetooth[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateWakeWord instantiates a wake-word engine using the factory registered
// under entry.Name.
func (r *Registry) CreateWakeWord(entry ProviderEntry) (wakeword.Engine, error) {
	r.mu.RLock()
	factory, ok := r.wakeWord[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake_word/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateBluetooth instantiates a Bluetooth central using the factory
// registered under entry.Name.
func (r *Registry) CreateBluetooth(entry ProviderEntry) (ble.Central, error) {
	r.mu.RLock()
	factory, ok := r.bluetooth[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: bluetooth/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"stt":       sortedKeys(r.stt),
		"vad":       sortedKeys(r.vad),
		"wake_word": sortedKeys(r.wakeWord),
		"bluetooth": sortedKeys(r.bluetooth),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
