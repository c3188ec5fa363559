package plugin

// CommandHandler resolves a command name against every enabled plugin
// in enable order. A duplicate name across plugins resolves to the
// first enabled plugin that provides it; later providers are shadowed,
// matching the reference prototype's "avoid overwrite" dict-population
// order.
func (h *Host) CommandHandler(name string) (Command, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, pluginName := range h.enabled {
		p, ok := h.plugins[pluginName]
		if !ok || p.lifecycle != Loaded {
			continue
		}
		for _, cmd := range p.Commands {
			if cmd.Name == name {
				return cmd, true
			}
			for _, alias := range cmd.Aliases {
				if alias == name {
					return cmd, true
				}
			}
		}
	}
	return Command{}, false
}

// CommandInfo is what /plugins and similar summaries show for a
// resolved command.
type CommandInfo struct {
	Description    string
	Plugin         string
	Aliases        []string
	RequiresParams bool
}

// AllCommands returns every command name (including aliases) reachable
// across enabled plugins, first-enabled-wins on collision.
func (h *Host) AllCommands() map[string]CommandInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]CommandInfo)
	for _, pluginName := range h.enabled {
		p, ok := h.plugins[pluginName]
		if !ok || p.lifecycle != Loaded {
			continue
		}
		for _, cmd := range p.Commands {
			info := CommandInfo{
				Description:    cmd.Description,
				Plugin:         pluginName,
				Aliases:        cmd.Aliases,
				RequiresParams: cmd.RequiresParams,
			}
			if _, exists := result[cmd.Name]; !exists {
				result[cmd.Name] = info
			}
			for _, alias := range cmd.Aliases {
				if _, exists := result[alias]; !exists {
					result[alias] = info
				}
			}
		}
	}
	return result
}

// ExecuteTool runs the named LLM tool against the first enabled plugin
// that provides it. The bool result reports whether any plugin
// provided the tool at all; a handler error is reported inside the
// returned map under "error" with "success": false, mirroring the
// reference prototype's tool-call error envelope.
func (h *Host) ExecuteTool(name string, params map[string]interface{}) (map[string]interface{}, bool) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		for _, tool := range p.Tools {
			if tool.Name != name || tool.Handler == nil {
				continue
			}
			result, err := tool.Handler(params)
			if err != nil {
				return map[string]interface{}{"success": false, "error": err.Error()}, true
			}
			return result, true
		}
	}
	return nil, false
}

// ToolInfo is what a tool listing exposes to the LLM Gateway's function
// calling surface.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Plugin      string
}

// AllTools lists every tool across enabled plugins in enable order, each
// tagged with the name of the plugin that provides it. Tools keep their
// bare names: when two plugins share a tool name both are listed, and
// ExecuteTool resolves that name to the first enabled provider.
func (h *Host) AllTools() []ToolInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []ToolInfo
	for _, pluginName := range h.enabled {
		p, ok := h.plugins[pluginName]
		if !ok || p.lifecycle != Loaded {
			continue
		}
		for _, tool := range p.Tools {
			out = append(out, ToolInfo{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
				Plugin:      pluginName,
			})
		}
	}
	return out
}
