// Package toolset implements the toolset manager (C7): user-curated
// collections of tool references, persisted to disk, filtered against the
// live discovery catalog to produce the exposed tool surface the router
// (C9) serves in normal mode.
package toolset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolprint/hypertool-mcp-go/internal/discovery"
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

var namePattern = regexp.MustCompile(`^[a-z0-9-]{2,50}$`)

// ToolReference is the persisted, on-disk form of discovery.ToolReference.
type ToolReference struct {
	NamespacedName string `yaml:"namespacedName,omitempty"`
	ToolHash       string `yaml:"toolHash,omitempty"`
}

// Config is the ToolsetConfig data model: a named, versioned collection of
// tool references.
type Config struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Version     int             `yaml:"version"`
	CreatedAt   time.Time       `yaml:"createdAt"`
	Tools       []ToolReference `yaml:"tools"`
}

// Validate checks the name pattern and that at least one tool reference
// is present and each carries an identifier.
func (c Config) Validate() error {
	if !namePattern.MatchString(c.Name) {
		return errkind.New(errkind.KindInvalidParams, "toolset name must match ^[a-z0-9-]{2,50}$: "+c.Name)
	}
	if len(c.Tools) == 0 {
		return errkind.New(errkind.KindInvalidParams, "toolset must contain at least one tool reference")
	}
	for i, t := range c.Tools {
		if t.NamespacedName == "" && t.ToolHash == "" {
			return errkind.New(errkind.KindInvalidParams, fmt.Sprintf("tool reference %d carries neither namespacedName nor toolHash", i))
		}
	}
	return nil
}

// ChangeType distinguishes the kind of toolsetChanged event emitted.
type ChangeType string

const (
	ChangeActivated   ChangeType = "activated"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeactivated ChangeType = "deactivated"
)

// ChangedEvent is emitted on activation, update, or deactivation of the
// active toolset.
type ChangedEvent struct {
	PreviousToolset string
	NewToolset      string
	ChangeType      ChangeType
}

// ExposedTool is one entry of the exposed tool surface: the live
// definition under a flattened exposure name.
type ExposedTool struct {
	ExposedName    string
	NamespacedName string
	Tool           discovery.DiscoveredTool
}

// Manager is the toolset manager (C7). It holds a non-owning reference to
// the discovery engine and resolver, per spec.md's ownership summary.
type Manager struct {
	dir      string
	resolver *discovery.Resolver

	mu            sync.RWMutex
	saved         map[string]Config
	activeName    string
	exposed       map[string]ExposedTool // exposedName -> entry
	reverse       map[string]string      // exposedName -> namespacedName

	onChanged []func(ChangedEvent)
}

// New constructs a Manager persisting toolsets as YAML files under dir.
func New(dir string, resolver *discovery.Resolver) *Manager {
	return &Manager{
		dir:      dir,
		resolver: resolver,
		saved:    make(map[string]Config),
		exposed:  make(map[string]ExposedTool),
		reverse:  make(map[string]string),
	}
}

// OnToolsetChanged registers fn to be invoked on every toolsetChanged
// event.
func (m *Manager) OnToolsetChanged(fn func(ChangedEvent)) {
	m.mu.Lock()
	m.onChanged = append(m.onChanged, fn)
	m.mu.Unlock()
}

func (m *Manager) emit(ev ChangedEvent) {
	m.mu.RLock()
	fns := append([]func(ChangedEvent){}, m.onChanged...)
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// LoadAll reads every *.yaml toolset file from the configured directory.
func (m *Manager) LoadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading toolset directory %s: %w", m.dir, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".yaml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, ent.Name()))
		if err != nil {
			return err
		}
		var cfg Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parsing toolset %s: %w", ent.Name(), err)
		}
		m.saved[cfg.Name] = cfg
	}
	return nil
}

// SetCurrentToolset validates and saves config, persisting it to disk.
// Duplicate references within the same toolset are reported back as a
// warning but do not invalidate the save.
func (m *Manager) SetCurrentToolset(cfg Config) (warning string, err error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	seen := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		key := t.NamespacedName + "\x00" + t.ToolHash
		if seen[key] {
			warning = "toolset contains duplicate tool references"
		}
		seen[key] = true
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return warning, fmt.Errorf("creating toolset directory: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return warning, fmt.Errorf("encoding toolset %s: %w", cfg.Name, err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, cfg.Name+".yaml"), raw, 0o644); err != nil {
		return warning, fmt.Errorf("writing toolset %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.saved[cfg.Name] = cfg
	m.mu.Unlock()
	return warning, nil
}

// DeleteToolset removes a saved toolset, unequipping it first if active.
func (m *Manager) DeleteToolset(name string) error {
	m.mu.Lock()
	if m.activeName == name {
		m.mu.Unlock()
		m.UnequipToolset()
		m.mu.Lock()
	}
	delete(m.saved, name)
	m.mu.Unlock()
	path := filepath.Join(m.dir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FindSaved returns a copy of the saved toolset config named name.
func (m *Manager) FindSaved(name string) (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.saved[name]
	cfg.Tools = append([]ToolReference(nil), cfg.Tools...)
	return cfg, ok
}

// ListSaved returns the names of every saved toolset.
func (m *Manager) ListSaved() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.saved))
	for n := range m.saved {
		names = append(names, n)
	}
	return names
}

// ActiveToolset returns the name of the currently equipped toolset, or ""
// if none is active.
func (m *Manager) ActiveToolset() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeName
}

// EquipToolset activates the named saved toolset, building the exposed
// tool surface by resolving each reference via the discovery resolver in
// strict mode.
func (m *Manager) EquipToolset(name string) error {
	m.mu.RLock()
	cfg, ok := m.saved[name]
	previous := m.activeName
	m.mu.RUnlock()
	if !ok {
		return errkind.New(errkind.KindNotFound, "no saved toolset named "+name)
	}

	exposed, reverse := m.resolveExposure(cfg)

	m.mu.Lock()
	m.activeName = name
	m.exposed = exposed
	m.reverse = reverse
	m.mu.Unlock()

	m.emit(ChangedEvent{PreviousToolset: previous, NewToolset: name, ChangeType: ChangeActivated})
	return nil
}

// UnequipToolset deactivates the current toolset; getMcpTools() then
// returns an empty surface until another is equipped.
func (m *Manager) UnequipToolset() {
	m.mu.Lock()
	previous := m.activeName
	m.activeName = ""
	m.exposed = make(map[string]ExposedTool)
	m.reverse = make(map[string]string)
	m.mu.Unlock()

	if previous != "" {
		m.emit(ChangedEvent{PreviousToolset: previous, NewToolset: "", ChangeType: ChangeDeactivated})
	}
}

// resolveExposure walks cfg's references through the resolver in strict
// mode, dropping any that fail to resolve, and assigns each a flattened
// exposure name.
func (m *Manager) resolveExposure(cfg Config) (map[string]ExposedTool, map[string]string) {
	exposed := make(map[string]ExposedTool, len(cfg.Tools))
	reverse := make(map[string]string, len(cfg.Tools))
	used := make(map[string]int)

	for _, ref := range cfg.Tools {
		res, err := m.resolver.Resolve(discovery.ToolReference{
			NamespacedName: ref.NamespacedName,
			ToolHash:       ref.ToolHash,
		}, discovery.ResolveOptions{AllowStaleRefs: false})
		if err != nil || !res.Exists {
			continue
		}
		exposedName := flattenName(res.Tool.NamespacedName, used)
		exposed[exposedName] = ExposedTool{
			ExposedName:    exposedName,
			NamespacedName: res.Tool.NamespacedName,
			Tool:           res.Tool,
		}
		reverse[exposedName] = res.Tool.NamespacedName
	}
	return exposed, reverse
}

// flattenName turns "server.tool" into an exposure-safe flattened name,
// disambiguating repeats within the same resolution pass.
func flattenName(namespacedName string, used map[string]int) string {
	base := ""
	for _, r := range namespacedName {
		if r == '.' {
			base += "_"
		} else {
			base += string(r)
		}
	}
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// GetMcpTools returns the current exposed tool surface.
func (m *Manager) GetMcpTools() []ExposedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ExposedTool, 0, len(m.exposed))
	for _, t := range m.exposed {
		out = append(out, t)
	}
	return out
}

// GetOriginalToolName reverse-looks-up an exposed name to its underlying
// namespacedName, used by the router to dispatch a call.
func (m *Manager) GetOriginalToolName(exposedName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.reverse[exposedName]
	return ns, ok
}

// Reconcile re-walks the active toolset's references through the resolver
// in response to a toolsChanged event, dropping references that no longer
// resolve strictly. Emits a toolsetChanged update if the exposed set
// changed.
func (m *Manager) Reconcile() {
	m.mu.RLock()
	active := m.activeName
	cfg, ok := m.saved[active]
	m.mu.RUnlock()
	if !ok || active == "" {
		return
	}

	exposed, reverse := m.resolveExposure(cfg)

	m.mu.Lock()
	changed := len(exposed) != len(m.reverse)
	for name, ns := range reverse {
		if prev, found := m.reverse[name]; !found || prev != ns {
			changed = true
		}
	}
	m.exposed = exposed
	m.reverse = reverse
	m.mu.Unlock()

	if changed {
		m.emit(ChangedEvent{PreviousToolset: active, NewToolset: active, ChangeType: ChangeUpdated})
	}
}
