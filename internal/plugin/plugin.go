// Package plugin defines the asset discovery plugin interface.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/yairfalse/surface/types"
)

// Plugin discovers assets from one source and describes them as resource
// documents ready for upload.
type Plugin interface {
	// Name returns the plugin identifier (e.g., "aws:us-east-1")
	Name() string

	// Discover returns the current assets. Documents carry no _id; ids are
	// assigned on upload.
	Discover(ctx context.Context) ([]types.Document, error)
}

// Registry holds registered plugins.
var (
	registry = make(map[string]Plugin)
	mu       sync.RWMutex
)

// Register adds a plugin to the registry.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a plugin by name.
func Get(name string) (Plugin, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// All returns all registered plugins ordered by name.
func All() []Plugin {
	mu.RLock()
	defer mu.RUnlock()
	plugins := make([]Plugin, 0, len(registry))
	for _, p := range registry {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Names returns all registered plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all plugins from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Plugin)
}

// Result is the outcome of one plugin run.
type Result struct {
	Plugin    string
	Documents []types.Document
	Err       error
}

// DiscoverAll runs every plugin concurrently. Results come back in the order
// of plugins; one failing plugin does not affect the others.
func DiscoverAll(ctx context.Context, plugins []Plugin) []Result {
	results := make([]Result, len(plugins))
	var wg sync.WaitGroup
	for i, p := range plugins {
		wg.Add(1)
		go func(i int, p Plugin) {
			defer wg.Done()
			docs, err := p.Discover(ctx)
			results[i] = Result{Plugin: p.Name(), Documents: docs, Err: err}
		}(i, p)
	}
	wg.Wait()
	return results
}
