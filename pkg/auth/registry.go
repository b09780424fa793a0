package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a registered provider and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	mu        sync.RWMutex
	factories = map[string]ValidatorFactory{}
)

// RegisterProvider makes a factory available under name. Providers call it
// from init; registering the same name twice panics.
func RegisterProvider(name string, factory ValidatorFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		panic("auth: RegisterProvider needs a name and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("auth: provider " + name + " registered twice")
	}
	factories[name] = factory
}

// NewValidator builds the validator for pc.Type. Type matching is
// case-insensitive and an empty config is passed on as "{}".
func NewValidator(pc ProviderConfig) (Validator, error) {
	name := strings.ToLower(strings.TrimSpace(pc.Type))
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider %q (available: %s)", pc.Type, strings.Join(ListProviders(), ", "))
	}

	raw := pc.Config
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	v, err := factory(raw)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	mu.RLock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	mu.RUnlock()
	sort.Strings(names)
	return names
}
