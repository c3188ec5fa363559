package runtime

import "context"

// SaveGame assembles a snapshot, lets every enabled plugin decorate it via
// on_save, then persists cognition and world state. Load-game runs the
// reverse of this sequence: restore first, dispatch hooks after.
func (e *Engine) SaveGame(ctx context.Context) (map[string]interface{}, error) {
	saveData := e.Plugins.InvokeSave(map[string]interface{}{
		"session_id": e.sessionID,
		"player_id":  e.playerID,
		"turn_count": e.turnCount,
	})

	objectName, err := e.Cognition.ArchiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.World.Save(ctx); err != nil {
		return nil, err
	}

	saveData["object_name"] = objectName
	return saveData, nil
}

// LoadGame replaces this session's live cognition state and world state
// with whatever was last archived, then notifies plugins via
// plugin_load_hook so they can restore their own state in the same
// order they were enabled.
func (e *Engine) LoadGame(ctx context.Context) error {
	if err := e.Cognition.LoadSession(ctx); err != nil {
		return err
	}
	if err := e.World.Load(ctx); err != nil {
		return err
	}

	state, err := e.Cognition.GetPlayerState(ctx)
	if err != nil {
		return err
	}

	e.Plugins.InvokeLoad(map[string]interface{}{
		"session_id": e.sessionID,
		"player_id":  e.playerID,
		"state":      state,
	})
	return nil
}
