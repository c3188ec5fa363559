package plugin

// The Runtime's step machine fires two flavors of hook:
//
//   - broadcast hooks run every enabled plugin's callback and collect no
//     short-circuiting result (turn_start, turn_end, narration_generated,
//     player/location events, world_generated).
//   - "first" hooks run in enable order and stop at the first plugin
//     that returns handled=true, letting that plugin's value win
//     (before_action, after_action).
//
// on_save is its own shape: each plugin gets a chance to decorate the
// save payload in turn, feeding the previous plugin's output forward.

// InvokePlayerCreated broadcasts on_player_created.
func (h *Host) InvokePlayerCreated(playerID, location string) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnPlayerCreated == nil {
			continue
		}
		hook := p.Hooks.OnPlayerCreated
		h.safeCall(p.Metadata.Name, "on_player_created", func() { hook(playerID, location) })
	}
}

// InvokePlayerMoved broadcasts on_player_moved.
func (h *Host) InvokePlayerMoved(playerID, fromLoc, toLoc string) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnPlayerMoved == nil {
			continue
		}
		hook := p.Hooks.OnPlayerMoved
		h.safeCall(p.Metadata.Name, "on_player_moved", func() { hook(playerID, fromLoc, toLoc) })
	}
}

// InvokeTurnStart broadcasts on_turn_start.
func (h *Host) InvokeTurnStart(turnCount int) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnTurnStart == nil {
			continue
		}
		hook := p.Hooks.OnTurnStart
		h.safeCall(p.Metadata.Name, "on_turn_start", func() { hook(turnCount) })
	}
}

// InvokeTurnEnd broadcasts on_turn_end.
func (h *Host) InvokeTurnEnd(turnCount int) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnTurnEnd == nil {
			continue
		}
		hook := p.Hooks.OnTurnEnd
		h.safeCall(p.Metadata.Name, "on_turn_end", func() { hook(turnCount) })
	}
}

// InvokeNarrationGenerated broadcasts on_narration_generated.
func (h *Host) InvokeNarrationGenerated(narrative string, narrationContext map[string]interface{}) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnNarrationGenerated == nil {
			continue
		}
		hook := p.Hooks.OnNarrationGenerated
		h.safeCall(p.Metadata.Name, "on_narration_generated", func() { hook(narrative, narrationContext) })
	}
}

// InvokeWorldGenerated broadcasts on_world_generated.
func (h *Host) InvokeWorldGenerated(data map[string]interface{}) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnWorldGenerated == nil {
			continue
		}
		hook := p.Hooks.OnWorldGenerated
		h.safeCall(p.Metadata.Name, "on_world_generated", func() { hook(data) })
	}
}

// InvokeLocationEntered broadcasts on_location_entered.
func (h *Host) InvokeLocationEntered(playerID, location string) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnLocationEntered == nil {
			continue
		}
		hook := p.Hooks.OnLocationEntered
		h.safeCall(p.Metadata.Name, "on_location_entered", func() { hook(playerID, location) })
	}
}

// InvokeLocationExited broadcasts on_location_exited.
func (h *Host) InvokeLocationExited(playerID, location string) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnLocationExited == nil {
			continue
		}
		hook := p.Hooks.OnLocationExited
		h.safeCall(p.Metadata.Name, "on_location_exited", func() { hook(playerID, location) })
	}
}

// InvokeLoad broadcasts the plugin_load_hook on game-load, handing every
// enabled plugin, in enable order, the same full restored save data.
func (h *Host) InvokeLoad(loadData map[string]interface{}) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnLoad == nil {
			continue
		}
		hook := p.Hooks.OnLoad
		h.safeCall(p.Metadata.Name, "plugin_load_hook", func() { hook(loadData) })
	}
}

// InvokeSave lets every enabled plugin decorate the save payload in
// enable order, each seeing the previous plugin's result.
func (h *Host) InvokeSave(saveData map[string]interface{}) map[string]interface{} {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	current := saveData
	for _, p := range plugins {
		if p.Hooks.OnSave == nil {
			continue
		}
		hook := p.Hooks.OnSave
		next := current
		h.safeCall(p.Metadata.Name, "on_save", func() {
			if decorated := hook(current); decorated != nil {
				next = decorated
			}
		})
		current = next
	}
	return current
}

// InvokeBeforeAction runs on_before_action in enable order and returns
// the first plugin's handled response, if any. A nil/false result from
// every plugin means the step machine should proceed to dispatch.
func (h *Host) InvokeBeforeAction(userInput string, state map[string]interface{}) (string, bool) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnBeforeAction == nil {
			continue
		}
		hook := p.Hooks.OnBeforeAction
		var response string
		var handled bool
		h.safeCall(p.Metadata.Name, "on_before_action", func() {
			response, handled = hook(userInput, state)
		})
		if handled {
			return response, true
		}
	}
	return "", false
}

// InvokeAfterAction runs on_after_action in enable order and returns
// the first plugin's rewritten response, if any.
func (h *Host) InvokeAfterAction(userInput string, state map[string]interface{}, response string) (string, bool) {
	h.mu.RLock()
	plugins := h.enabledPlugins()
	h.mu.RUnlock()
	for _, p := range plugins {
		if p.Hooks.OnAfterAction == nil {
			continue
		}
		hook := p.Hooks.OnAfterAction
		var rewritten string
		var handled bool
		h.safeCall(p.Metadata.Name, "on_after_action", func() {
			rewritten, handled = hook(userInput, state, response)
		})
		if handled {
			return rewritten, true
		}
	}
	return "", false
}
