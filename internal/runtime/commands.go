package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/mapgraph"
)

// travelEdge is the wire shape of one "Travel:<target>" hash field,
// mirrored here because mapgraph.GetNeighbors intentionally hands back
// the raw, unparsed payload for each caller to interpret.
type travelEdge struct {
	TargetID  string               `json:"target_id"`
	Type      string               `json:"type"`
	RouteInfo mapgraph.RouteConcept `json:"route_info"`
}

// handleMove requires a Travel edge out of curr toward targetID. On
// success it relocates the player, fires on_player_moved, emits a
// movement event, and narrates the route; on absence it returns the
// inaccessibility sentinel.
func (e *Engine) handleMove(ctx context.Context, curr, targetID string) string {
	if curr == "" {
		return "🚫 DM: no valid current location, cannot move."
	}

	neighbors, err := e.MapGraph.GetNeighbors(ctx, curr)
	if err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}

	raw, ok := neighbors["Travel:"+targetID]
	if !ok {
		return fmt.Sprintf("🚫 DM: %s. You cannot travel directly from %s to %s.", sentinelNoPathForward, curr, targetID)
	}

	var edge travelEdge
	if err := json.Unmarshal([]byte(raw), &edge); err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}

	if err := e.Cognition.UpdatePlayerState(ctx, map[string]interface{}{"location": targetID}); err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}

	e.Plugins.InvokePlayerMoved(e.playerID, curr, targetID)

	_, err = e.Events.Emit(ctx, eventlog.Custom, e.playerID, targetID,
		map[string]interface{}{"event": "movement", "from": curr, "to": targetID},
		[]string{"movement", "location_change", "player"}, eventlog.Medium, nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to emit movement event")
	}

	routeName := edge.RouteInfo.RouteName
	if routeName == "" {
		routeName = "the path"
	}
	return fmt.Sprintf("🚶 You travel through %s toward %s.\nThe way: %s\n...\nAfter the journey, you arrive at your destination.",
		routeName, targetID, edge.RouteInfo.Description)
}

// handleLook narrates the current node: name, description, geo feature,
// the per-location world-state summary, and visible exits. A region
// seen for the first time triggers a DISCOVERY event before returning.
func (e *Engine) handleLook(ctx context.Context, curr string) string {
	if curr == "" {
		return "❌ Current location is undefined, cannot look around."
	}

	node, found, err := e.MapGraph.GetNode(ctx, curr)
	if err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}
	if !found {
		return sentinelSpaceCollapse + " (Location Data Missing)."
	}

	name, _ := node["name"].(string)
	desc, _ := node["desc"].(string)
	geoFeature, _ := node["geo_feature"].(string)
	if desc == "" {
		desc = "There is nothing notable to see here yet."
	}

	neighbors, err := e.MapGraph.GetNeighbors(ctx, curr)
	if err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}
	var exits []string
	for field := range neighbors {
		if target, ok := strings.CutPrefix(field, "Travel:"); ok {
			exits = append(exits, target)
		}
	}

	lines := []string{
		fmt.Sprintf("📍 Location: %s", name),
		fmt.Sprintf("👁️ You observe: %s", desc),
		fmt.Sprintf("🌟 Feature: %s", geoFeature),
	}

	loc := e.World.GetLocationSummary(curr)
	if loc.Location != "" {
		lines = append(lines, fmt.Sprintf("🌦️ Weather: %s | Danger: %d", loc.Weather, loc.DangerLevel))
		if len(loc.NPCsPresent) > 0 {
			lines = append(lines, fmt.Sprintf("🧍 Present: %s", strings.Join(loc.NPCsPresent, ", ")))
		}
		if loc.AvailableQuests > 0 {
			lines = append(lines, fmt.Sprintf("📜 Quests available here: %d", loc.AvailableQuests))
		}
	}

	lines = append(lines, fmt.Sprintf("🚪 Exits: %s", strings.Join(exits, ", ")))

	region := e.World.GetRegion(curr)
	if region == nil || !region.Discovered {
		if _, err := e.Events.Emit(ctx, eventlog.Discovery, e.playerID, curr,
			map[string]interface{}{"target": curr}, []string{"discovery"}, eventlog.Medium, nil); err != nil {
			e.logger.Warn().Err(err).Msg("failed to emit discovery event")
		}
	}

	return strings.Join(lines, "\n")
}

// statusSummary renders the player's core counters for /status.
func (e *Engine) statusSummary(ctx context.Context, state map[string]interface{}) string {
	return fmt.Sprintf("HP %v/%v | Sanity %v/%v | Level %v | EXP %v | Gold %v | Location %v",
		state["hp"], state["max_hp"], state["sanity"], state["max_sanity"],
		state["level"], state["exp"], state["gold"], state["location"])
}

// eventsSummary renders recent narrative-formatted events for /events.
func (e *Engine) eventsSummary(ctx context.Context) string {
	text, err := e.Events.GetContextForNarration(ctx, 15)
	if err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}
	if text == "" {
		return "No notable events yet."
	}
	return text
}

// worldSummary renders the world clock, crisis level and registry
// counts for /world.
func (e *Engine) worldSummary() string {
	s := e.World.GetWorldSummary()
	return fmt.Sprintf("Time: %s | Crisis: %s (%d) | Regions %d/%d discovered | NPCs %d (%d alive) | Quests %d (%d active)",
		s.Time, s.CrisisLevelName, s.CrisisLevel, s.DiscoveredRegions, s.RegionsCount, s.NPCsCount, s.AliveNPCs, s.QuestsCount, s.ActiveQuests)
}

// pluginsSummary renders the enabled plugins and the commands they
// contribute, for /plugins.
func (e *Engine) pluginsSummary() string {
	metas := e.Plugins.AllMetadata()
	if len(metas) == 0 {
		return "No plugins loaded."
	}
	var lines []string
	for _, m := range metas {
		lines = append(lines, fmt.Sprintf("%s v%s — %s", m.Name, m.Version, m.Description))
	}
	for name, info := range e.Plugins.AllCommands() {
		lines = append(lines, fmt.Sprintf("  /%s (%s): %s", name, info.Plugin, info.Description))
	}
	return strings.Join(lines, "\n")
}
