// Package registry maintains the catalog of publishable component types.
// A component type pairs a Descriptor (the variable and method surface its
// instances expose) with the metadata published to clients, loaded from a
// YAML configuration file.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/naylor-b/aserver/types"
)

// Descriptor declares the surface of a component type: which internal
// variables are inputs and outputs, which methods clients may invoke, and
// how to create an instance. Internal names may use ':' as a hierarchy
// separator; the external form always uses '.'.
type Descriptor struct {
	Inputs  []string
	Outputs []string
	Methods []string
	Factory func() (types.System, error)
}

// Entry is one published component type. Inputs, Outputs and Properties
// map external paths to internal variable names.
type Entry struct {
	Name         string // published name, may contain '/' category separators
	Version      string
	Author       string
	Description  string
	Comment      string
	HelpURL      string
	Keywords     []string
	Requirements []string
	Directory    string // optional working subdirectory for instances
	Timestamp    time.Time
	Checksum     int
	HasIcon      bool

	Inputs     map[string]string
	Outputs    map[string]string
	Properties map[string]string
	Methods    map[string]string

	Factory func() (types.System, error)
}

// ComponentConfig is one component declaration in the YAML configuration.
type ComponentConfig struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Version      string   `yaml:"version"`
	Author       string   `yaml:"author"`
	Description  string   `yaml:"description"`
	Comment      string   `yaml:"comment"`
	HelpURL      string   `yaml:"help_url"`
	Keywords     []string `yaml:"keywords"`
	Requirements []string `yaml:"requirements"`
	Directory    string   `yaml:"directory"`
}

// Config is the YAML configuration file layout.
type Config struct {
	Components []ComponentConfig `yaml:"components"`
}

// Deps contains the external dependencies for a Registry.
type Deps struct {
	Logger *slog.Logger
}

// Registry is the thread-safe catalog of component types. Types are
// registered by embedding code; entries are published by configuration.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	types   map[string]Descriptor
	entries map[string]*Entry
}

// New creates an empty Registry.
func New(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "registry"),
		types:   make(map[string]Descriptor),
		entries: make(map[string]*Entry),
	}
}

// RegisterType registers a component type under a type name referenced by
// configuration entries.
func (r *Registry) RegisterType(name string, d Descriptor) error {
	if d.Factory == nil {
		return fmt.Errorf("registry.RegisterType: type %q has no factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("registry.RegisterType: type %q already registered", name)
	}
	r.types[name] = d
	return nil
}

// Register publishes a fully-formed entry. Used by tests and embedders
// that bypass file configuration.
func (r *Registry) Register(entry *Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("registry.Register: entry has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Name]; exists {
		return fmt.Errorf("registry.Register: %q already published", entry.Name)
	}
	r.entries[entry.Name] = entry
	return nil
}

// LoadFile reads a YAML configuration and publishes an entry for every
// declared component. Declarations that reference unknown types or carry
// invalid settings are skipped with a logged error; valid declarations are
// still published. Returns the number of configuration errors.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("registry.LoadFile: read failed: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("registry.LoadFile: parse %s failed: %w", path, err)
	}
	timestamp := time.Now()
	if info, err := os.Stat(path); err == nil {
		timestamp = info.ModTime()
	}

	errCount := 0
	for _, cc := range cfg.Components {
		if err := r.publish(cc, timestamp); err != nil {
			r.logger.Error("invalid component configuration",
				"file", path, "name", cc.Name, "error", err)
			errCount++
		}
	}
	return errCount, nil
}

func (r *Registry) publish(cc ComponentConfig, timestamp time.Time) error {
	if cc.Name == "" {
		return fmt.Errorf("component has no name")
	}
	if cc.Directory != "" {
		if filepath.IsAbs(cc.Directory) || strings.HasPrefix(cc.Directory, "..") {
			return fmt.Errorf("directory %q must be a subdirectory", cc.Directory)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.types[cc.Type]
	if !ok {
		return fmt.Errorf("unknown component type %q", cc.Type)
	}
	if _, exists := r.entries[cc.Name]; exists {
		return fmt.Errorf("component %q already published", cc.Name)
	}

	entry := &Entry{
		Name:         cc.Name,
		Version:      cc.Version,
		Author:       cc.Author,
		Description:  cc.Description,
		Comment:      cc.Comment,
		HelpURL:      cc.HelpURL,
		Keywords:     cc.Keywords,
		Requirements: cc.Requirements,
		Directory:    cc.Directory,
		Timestamp:    timestamp,
		Inputs:       externalMap(d.Inputs),
		Outputs:      externalMap(d.Outputs),
		Methods:      make(map[string]string, len(d.Methods)),
		Factory:      d.Factory,
	}
	entry.Properties = make(map[string]string, len(entry.Inputs)+len(entry.Outputs))
	for ext, internal := range entry.Inputs {
		entry.Properties[ext] = internal
	}
	for ext, internal := range entry.Outputs {
		entry.Properties[ext] = internal
	}
	for _, m := range d.Methods {
		entry.Methods[m] = m
	}

	r.entries[cc.Name] = entry
	r.logger.Info("published component", "name", cc.Name, "type", cc.Type)
	return nil
}

// externalMap maps external paths (':' replaced by '.') to internal names.
func externalMap(names []string) map[string]string {
	m := make(map[string]string, len(names))
	for _, name := range names {
		m[strings.ReplaceAll(name, ":", ".")] = name
	}
	return m
}

// Lookup returns the published entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Names returns the published component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of published entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
