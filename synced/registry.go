package synced

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"timer2ticket/model"
)

// FallbackService is used for service definitions whose name is not registered.
const FallbackService = "Redmine"

// Options are shared by every service built by a Factory.
type Options struct {
	HTTPClient Doer
	Logger     *zap.Logger
}

// Constructor builds a Service for one service definition.
type Constructor func(def model.ServiceDefinition, opts Options) (Service, error)

var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a service implementation under its service name.
// It is called from init() functions in implementation packages.
func Register(name string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("synced: Register constructor is nil for service %s", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("synced: Register called twice for service %s", name))
	}
	registry[name] = constructor
}

func getConstructor(name string) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[name]
}

// RegisteredServices returns the sorted names of all registered services.
func RegisteredServices() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory creates services keyed on the service definition name.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Factory{opts: opts}
}

// Service builds the service registered under def.Name, or the fallback
// service when the name is unknown.
func (f *Factory) Service(def model.ServiceDefinition) (Service, error) {
	constructor := getConstructor(def.Name)
	if constructor == nil {
		constructor = getConstructor(FallbackService)
	}
	if constructor == nil {
		return nil, fmt.Errorf("no service registered for %q", def.Name)
	}

	opts := f.opts
	opts.Logger = f.opts.Logger.With(zap.String("service", def.Name))
	service, err := constructor(def, opts)
	if err != nil {
		return nil, fmt.Errorf("create service %s: %w", def.Name, err)
	}
	return service, nil
}
