package modules

import (
	"errors"
	"sync"

	"github.com/dop251/goja"
)

type ModuleLoader interface {
	Load(runtime *goja.Runtime, name string) (goja.Value, error)
}

// Registry holds the loaders user scripts may require. Loaded exports
// belong to a runtime, so they are cached per runtime rather than globally.
type Registry struct {
	loaders map[string]ModuleLoader
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[string]ModuleLoader),
	}
}

// NewDefaultRegistry returns a registry with the builtin modules loaded
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for name, loader := range builtinModules() {
		r.RegisterLoader(name, loader)
	}
	return r
}

func (r *Registry) RegisterLoader(name string, loader ModuleLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = loader
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	return names
}

func (r *Registry) load(runtime *goja.Runtime, name string) (goja.Value, error) {
	r.mu.RLock()
	loader, ok := r.loaders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("module not found: " + name)
	}
	return loader.Load(runtime, name)
}

// RequireFunction returns the require() bound to one runtime
func (r *Registry) RequireFunction(runtime *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	cache := map[string]goja.Value{}

	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(runtime.NewTypeError("require: module name must be provided"))
		}

		moduleName := call.Arguments[0].String()
		if exports, ok := cache[moduleName]; ok {
			return exports
		}

		exports, err := r.load(runtime, moduleName)
		if err != nil {
			panic(runtime.NewTypeError("require: " + err.Error()))
		}
		cache[moduleName] = exports

		return exports
	}
}
