package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/osvaldoandrade/uicase/internal/browser"
	"github.com/osvaldoandrade/uicase/internal/llm"
)

// DefaultLibrary is the registry name in-process transports resolve when none is configured.
const DefaultLibrary = "browser-use"

type Capability uint8

const (
	CapBrowserSession Capability = 1 << iota
	CapBrowser
	CapModel
	CapLLM
	CapVision
)

func (c Capability) Has(flag Capability) bool { return c&flag == flag }

// Options carries everything a Library may use to build an agent. Fields the
// library does not support are left zero by the caller.
type Options struct {
	Task      string
	Model     string
	Session   *browser.Handle
	Browser   *browser.Handle
	LLM       *llm.Client
	UseVision bool
	Metadata  map[string]any
}

// Agent performs one task. Run may return a map, a string, bytes or any
// JSON-encodable value.
type Agent interface {
	Run(ctx context.Context) (any, error)
}

// Library is an in-process browser automation agent implementation.
type Library interface {
	Capabilities() Capability
	NewAgent(ctx context.Context, opts Options) (Agent, error)
}

var (
	registry = make(map[string]Library)
	mu       sync.RWMutex
)

// Register makes a library available under name, typically from an init function.
func Register(name string, lib Library) {
	mu.Lock()
	defer mu.Unlock()
	if lib == nil {
		delete(registry, name)
		return
	}
	registry[name] = lib
}

func Lookup(name string) (Library, bool) {
	mu.RLock()
	defer mu.RUnlock()
	lib, ok := registry[name]
	return lib, ok
}

// Available reports whether a library is registered under name.
func Available(name string) bool {
	_, ok := Lookup(name)
	return ok
}

func Libraries() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
