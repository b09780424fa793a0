package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProviderConfig names the run-history backend and carries its settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is what a backend factory receives.
type PluginConfig struct {
	// Config is the backend's own settings, "{}" when none were given.
	Config json.RawMessage

	// RunTTL bounds how long run records are kept.
	RunTTL time.Duration

	// Redis is the application's shared client, if it has one. Backends that
	// need redis dial their own from Config when it is nil.
	Redis *redis.Client
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	providersMu sync.RWMutex
	providers   = map[string]PluginFactory{}
)

// RegisterProvider is called from backend init functions. A second
// registration under the same name replaces the first.
func RegisterProvider(name string, factory PluginFactory) {
	providersMu.Lock()
	providers[strings.ToLower(strings.TrimSpace(name))] = factory
	providersMu.Unlock()
}

// NewPersistence opens the backend named by pc.Type.
func NewPersistence(pc ProviderConfig, plugin PluginConfig) (PluginPersistence, error) {
	name := strings.ToLower(strings.TrimSpace(pc.Type))
	providersMu.RLock()
	factory := providers[name]
	providersMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown persistence provider %q (available: %s)", pc.Type, strings.Join(ListProviders(), ", "))
	}

	plugin.Config = pc.Config
	if len(strings.TrimSpace(string(plugin.Config))) == 0 {
		plugin.Config = json.RawMessage("{}")
	}
	p, err := factory(plugin)
	if err != nil {
		return nil, fmt.Errorf("persistence %s: %w", name, err)
	}
	if p == nil {
		return nil, errors.New("persistence " + name + ": factory returned no backend")
	}
	return p, nil
}

// ListProviders returns the registered backend names, sorted.
func ListProviders() []string {
	providersMu.RLock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	providersMu.RUnlock()
	slices.Sort(names)
	return names
}
