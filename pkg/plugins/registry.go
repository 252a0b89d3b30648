package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// SpaceOptions describes the data a hyperparameter space is built for.
type SpaceOptions struct {
	NumFeatures int
	NumSamples  int
}

// Factory creates and restores one kind of plugin.
type Factory struct {
	Name        string
	Type        string
	Subtype     string
	Description string
	// New builds an unfitted plugin from keyword hyperparameters.
	New func(args map[string]interface{}) (Plugin, error)
	// Load restores a plugin from the bytes returned by its Save.
	Load func(reg *Registry, data []byte) (Plugin, error)
	// Space returns the tunable hyperparameters; nil means nothing to tune.
	Space func(opts SpaceOptions) []params.Param
}

// HyperparameterSpace returns the factory's space, or an empty one.
func (f *Factory) HyperparameterSpace(opts SpaceOptions) []params.Param {
	if f.Space == nil {
		return nil
	}
	return f.Space(opts)
}

// Info is a serializable description of a registered plugin.
type Info struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Subtype     string   `json:"subtype"`
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params,omitempty"`
}

// Registry maps (type, name) to plugin factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]map[string]*Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]map[string]*Factory),
	}
}

// Register adds a factory. Names are unique within a plugin type.
func (r *Registry) Register(f *Factory) error {
	if f == nil {
		return fmt.Errorf("nil factory")
	}
	if f.Name == "" || f.Type == "" || f.Subtype == "" {
		return fmt.Errorf("factory must have a name, type and subtype")
	}
	if f.New == nil || f.Load == nil {
		return fmt.Errorf("factory %s/%s must define New and Load", f.Type, f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.factories[f.Type]
	if !ok {
		byName = make(map[string]*Factory)
		r.factories[f.Type] = byName
	}
	if _, exists := byName[f.Name]; exists {
		return fmt.Errorf("plugin %s/%s already registered", f.Type, f.Name)
	}
	byName[f.Name] = f
	return nil
}

// MustRegister is Register that panics; used when wiring built-in plugins.
func (r *Registry) MustRegister(f *Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered for a type and name.
func (r *Registry) Lookup(pluginType, name string) (*Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[pluginType][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPlugin, pluginType, name)
	}
	return f, nil
}

// Has reports whether a plugin is registered.
func (r *Registry) Has(pluginType, name string) bool {
	_, err := r.Lookup(pluginType, name)
	return err == nil
}

// List returns the sorted names of a type, filtered by subtype unless it is empty.
func (r *Registry) List(pluginType, subtype string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, f := range r.factories[pluginType] {
		if subtype == "" || f.Subtype == subtype {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Types returns the registered plugin types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Describe lists every plugin of a type (all types when empty).
func (r *Registry) Describe(pluginType string) []Info {
	types := r.Types()
	if pluginType != "" {
		types = []string{pluginType}
	}

	infos := make([]Info, 0)
	for _, t := range types {
		for _, name := range r.List(t, "") {
			f, err := r.Lookup(t, name)
			if err != nil {
				continue
			}
			info := Info{Name: f.Name, Type: f.Type, Subtype: f.Subtype, Description: f.Description}
			for _, p := range f.HyperparameterSpace(SpaceOptions{NumFeatures: 10, NumSamples: 100}) {
				info.Params = append(info.Params, p.ParamName())
			}
			infos = append(infos, info)
		}
	}
	return infos
}

// Get instantiates a plugin with keyword hyperparameters.
func (r *Registry) Get(pluginType, name string, args map[string]interface{}) (Plugin, error) {
	f, err := r.Lookup(pluginType, name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	p, err := f.New(args)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s/%s: %w", pluginType, name, err)
	}
	return p, nil
}

// Transformer instantiates an imputer or preprocessor.
func (r *Registry) Transformer(pluginType, name string, args map[string]interface{}) (Transformer, error) {
	p, err := r.Get(pluginType, name, args)
	if err != nil {
		return nil, err
	}
	t, ok := p.(Transformer)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s is not a transformer", pluginType, name)
	}
	return t, nil
}

// Predictor instantiates a prediction plugin.
func (r *Registry) Predictor(name string, args map[string]interface{}) (Predictor, error) {
	p, err := r.Get(TypePrediction, name, args)
	if err != nil {
		return nil, err
	}
	pred, ok := p.(Predictor)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s is not a predictor", TypePrediction, name)
	}
	return pred, nil
}

// Space returns a plugin's hyperparameter space for the given data shape.
func (r *Registry) Space(pluginType, name string, opts SpaceOptions) ([]params.Param, error) {
	f, err := r.Lookup(pluginType, name)
	if err != nil {
		return nil, err
	}
	space := f.HyperparameterSpace(opts)
	for _, p := range space {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("plugin %s/%s: %w", pluginType, name, err)
		}
	}
	return space, nil
}

// Load restores a saved plugin.
func (r *Registry) Load(pluginType, name string, data []byte) (Plugin, error) {
	f, err := r.Lookup(pluginType, name)
	if err != nil {
		return nil, err
	}
	p, err := f.Load(r, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", pluginType, name, err)
	}
	return p, nil
}
