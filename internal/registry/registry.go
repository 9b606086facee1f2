// Package registry provides a string-keyed factory producing Module
// instances from configuration, the Go equivalent of a type-name ->
// constructor table driving construction from a config file.
package registry

import "fmt"

// Module is the capability set a registry-constructed unit of user code
// must implement: a name for logging/diagnostics and a Run that sets up
// whatever publishers, subscribers, and scheduler tasks it needs and then
// returns.
type Module interface {
	Name() string
	Run() error
}

// Config is the argument passed to a Creator. It is a thin map rather than
// a dedicated type because each Module interprets its own keys.
type Config map[string]any

// Creator builds a Module from Config, or returns an error if the config
// is invalid for that Module type.
type Creator func(Config) (Module, error)

// Registry is a type-name -> Creator table. The zero value is not usable;
// use New.
type Registry struct {
	creators map[string]Creator
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{creators: make(map[string]Creator)}
}

// Register associates key with creator. A second Register call for the
// same key overwrites the first, matching the source factory's
// last-registration-wins behavior.
func (r *Registry) Register(key string, creator Creator) {
	r.creators[key] = creator
}

// Create looks up cfg["type"] in the registry and invokes its Creator.
func (r *Registry) Create(cfg Config) (Module, error) {
	typeName, ok := cfg["type"].(string)
	if !ok || typeName == "" {
		return nil, fmt.Errorf("registry: missing or invalid 'type' in config")
	}

	creator, ok := r.creators[typeName]
	if !ok {
		return nil, fmt.Errorf("registry: type not registered: %s", typeName)
	}
	return creator(cfg)
}

// Registered reports whether key has a Creator registered.
func (r *Registry) Registered(key string) bool {
	_, ok := r.creators[key]
	return ok
}
