// Package plugin is the extension point the Runtime mounts before a
// session starts: a plugin contributes hooks, commands and LLM tools
// without the host needing to know its concrete type up front. Rather
// than a class hierarchy with overridable methods, each plugin is a
// fixed-shape record of optional callbacks — the Host invokes whichever
// ones are set and skips the rest.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Lifecycle is a plugin's position in its load/unload state machine.
type Lifecycle int

const (
	Unloaded Lifecycle = iota
	Loading
	Loaded
	Unloading
	Error
)

func (l Lifecycle) String() string {
	switch l {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Unloading:
		return "unloading"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Engine is the narrow surface a plugin's command handlers and on-load
// hook are given. It is deliberately opaque here: the Runtime Engine
// defines the concrete type, and this package only needs an interface
// to avoid importing it back (the same dependency cycle the reference
// prototype dodges with a TYPE_CHECKING-only import).
type Engine interface{}

// Metadata describes a plugin for diagnostics and the /plugins command.
type Metadata struct {
	Name        string
	Version     string
	Author      string
	Description string

	Dependencies []string

	ProvidesCommands    []string
	ProvidesStateFields []string
	ProvidesLLMTools    []string
	ProvidesAbilities   []string
}

// CommandHandler runs a plugin command for the current turn.
type CommandHandler func(ctx context.Context, input string, engine Engine) (string, error)

// Command is a plugin-provided slash command.
type Command struct {
	Name           string
	Description    string
	Aliases        []string
	RequiresParams bool
	Handler        CommandHandler
}

// ToolHandler executes an LLM-callable tool.
type ToolHandler func(params map[string]interface{}) (map[string]interface{}, error)

// Tool is an LLM-callable tool a plugin exposes.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     ToolHandler
}

// Hooks is the fixed set of lifecycle callbacks a plugin may set. All
// fields are optional; a nil field is simply skipped during dispatch.
//
// OnLoad here is the "plugin_load_hook" dispatched via InvokeLoad on
// game-load, distinct from the OnLoad lifecycle callback on Plugin
// itself (the reference prototype overloads the same name for both;
// this package keeps them separate to avoid the ambiguity).
type Hooks struct {
	OnPlayerCreated      func(playerID, location string)
	OnPlayerMoved        func(playerID, fromLoc, toLoc string)
	OnTurnStart          func(turnCount int)
	OnTurnEnd            func(turnCount int)
	OnBeforeAction       func(userInput string, state map[string]interface{}) (response string, handled bool)
	OnAfterAction        func(userInput string, state map[string]interface{}, response string) (rewritten string, handled bool)
	OnNarrationGenerated func(narrative string, narrationContext map[string]interface{})
	OnSave               func(saveData map[string]interface{}) map[string]interface{}
	OnLoad               func(loadData map[string]interface{})
	OnWorldGenerated     func(data map[string]interface{})
	OnLocationEntered    func(playerID, location string)
	OnLocationExited     func(playerID, location string)
}

// Plugin bundles metadata, hooks, commands and tools into the one
// record the Host loads and enables.
type Plugin struct {
	Metadata Metadata
	Hooks    Hooks
	Commands []Command
	Tools    []Tool

	// OnLoad and OnUnload are the lifecycle callbacks, called once each
	// by Host.Load / Host.Unload. Either may be nil.
	OnLoad   func(ctx context.Context, engine Engine) error
	OnUnload func(ctx context.Context, engine Engine) error

	lifecycle Lifecycle
}

// Lifecycle reports the plugin's current state.
func (p *Plugin) Lifecycle() Lifecycle { return p.lifecycle }

// Host is the registry and dispatcher for a session's plugins. One Host
// belongs to one Runtime; it is not shared across sessions.
type Host struct {
	mu      sync.RWMutex
	logger  zerolog.Logger
	plugins map[string]*Plugin
	// enabled holds plugin names in the order they were successfully
	// loaded; hook dispatch and first-enabled-wins command/tool
	// resolution both iterate this order.
	enabled []string
}

// New builds an empty Host.
func New(logger zerolog.Logger) *Host {
	return &Host{
		logger:  logger.With().Str("component", "plugin_host").Logger(),
		plugins: make(map[string]*Plugin),
	}
}

// Register adds a plugin in the UNLOADED state. It does not load it.
func (h *Host) Register(p *Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := p.Metadata.Name
	if _, exists := h.plugins[name]; exists {
		return fmt.Errorf("plugin: %q already registered", name)
	}
	p.lifecycle = Unloaded
	h.plugins[name] = p
	return nil
}

// Load transitions a plugin from UNLOADED to LOADED, invoking its
// OnLoad callback. Loading an already-loaded plugin is a no-op success.
// A failing OnLoad marks the plugin ERROR and leaves the enabled set
// unchanged.
func (h *Host) Load(ctx context.Context, name string, engine Engine) error {
	h.mu.Lock()
	p, ok := h.plugins[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin: %q not registered", name)
	}
	if p.lifecycle == Loaded {
		h.mu.Unlock()
		return nil
	}
	p.lifecycle = Loading
	h.mu.Unlock()

	if p.OnLoad != nil {
		if err := p.OnLoad(ctx, engine); err != nil {
			h.mu.Lock()
			p.lifecycle = Error
			h.mu.Unlock()
			h.logger.Warn().Str("plugin", name).Err(err).Msg("plugin load failed")
			return err
		}
	}

	h.mu.Lock()
	p.lifecycle = Loaded
	alreadyEnabled := false
	for _, n := range h.enabled {
		if n == name {
			alreadyEnabled = true
			break
		}
	}
	if !alreadyEnabled {
		h.enabled = append(h.enabled, name)
	}
	h.mu.Unlock()
	h.logger.Info().Str("plugin", name).Str("version", p.Metadata.Version).Msg("plugin loaded")
	return nil
}

// LoadAll loads every registered plugin, continuing past individual
// failures.
func (h *Host) LoadAll(ctx context.Context, engine Engine) {
	h.mu.RLock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	h.mu.RUnlock()
	for _, name := range names {
		_ = h.Load(ctx, name, engine)
	}
}

// Unload transitions a LOADED plugin back to UNLOADED, invoking its
// OnUnload callback. Unloading a plugin that is not currently loaded
// is a no-op failure (returns an error, changes nothing).
func (h *Host) Unload(ctx context.Context, name string, engine Engine) error {
	h.mu.Lock()
	p, ok := h.plugins[name]
	if !ok || p.lifecycle != Loaded {
		h.mu.Unlock()
		return fmt.Errorf("plugin: %q not loaded", name)
	}
	p.lifecycle = Unloading
	h.mu.Unlock()

	var unloadErr error
	if p.OnUnload != nil {
		unloadErr = p.OnUnload(ctx, engine)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if unloadErr != nil {
		p.lifecycle = Error
		h.logger.Warn().Str("plugin", name).Err(unloadErr).Msg("plugin unload failed")
		return unloadErr
	}
	p.lifecycle = Unloaded
	for i, n := range h.enabled {
		if n == name {
			h.enabled = append(h.enabled[:i], h.enabled[i+1:]...)
			break
		}
	}
	h.logger.Info().Str("plugin", name).Msg("plugin unloaded")
	return nil
}

// Plugin returns a registered plugin by name.
func (h *Host) Plugin(name string) (*Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[name]
	return p, ok
}

// AllMetadata returns metadata for every registered plugin, enabled or
// not, in no particular order.
func (h *Host) AllMetadata() []Metadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Metadata, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p.Metadata)
	}
	return out
}

// enabledPlugins returns the currently enabled plugins in enable order.
// Caller must hold h.mu (read or write).
func (h *Host) enabledPlugins() []*Plugin {
	out := make([]*Plugin, 0, len(h.enabled))
	for _, name := range h.enabled {
		if p, ok := h.plugins[name]; ok && p.lifecycle == Loaded {
			out = append(out, p)
		}
	}
	return out
}

// safeCall runs fn and swallows any panic, logging it against the
// plugin and hook names. Plugin hook failures must never abort
// dispatch to the remaining plugins.
func (h *Host) safeCall(pluginName, hookName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn().
				Str("plugin", pluginName).
				Str("hook", hookName).
				Interface("panic", r).
				Msg("plugin hook panicked")
		}
	}()
	fn()
}
