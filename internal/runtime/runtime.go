// Package runtime is the per-turn orchestrator: it owns one session's
// cognition, world state, event log, map graph, simulator, cache,
// context loader and plugin host, and sequences them through the step
// machine described for the /step endpoint. Everything else in this
// module is a subsystem the Engine wires together; nothing outside this
// package understands turn ordering.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/cache"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/cognition"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/contentloader"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/llmgateway"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/mapgraph"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/plugin"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/simulator"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/worldstate"
)

// User-visible sentinels. Preserved as literal substrings for test
// stability; callers and tests should match on Contains rather than
// exact equality where the surrounding prose may change.
const (
	sentinelDMError       = "DM Error: %v"
	sentinelDMOffline     = "DM (离线): %s" // "DM (offline): %s"
	sentinelNoPathForward = "前方无路" // "no path forward"
	sentinelSpaceCollapse = "❌ 这里的空间似乎崩塌了" // "collapsed space"
	sentinelNoDestination = "🚫 DM: please enter the id of where you want to go."
)

// allEventTypes lists every closed EventType so the constructor's
// world-state forwarding listener matches everything emitted this
// session, without hand-tracking additions to the enum.
var allEventTypes = []eventlog.EventType{
	eventlog.Discovery,
	eventlog.ExplorationComplete,
	eventlog.HiddenRevealed,
	eventlog.NPCMeet,
	eventlog.NPCConversation,
	eventlog.RelationshipChange,
	eventlog.AllianceFormed,
	eventlog.CombatStart,
	eventlog.CombatEnd,
	eventlog.QuestAccepted,
	eventlog.QuestCompleted,
	eventlog.QuestFailed,
	eventlog.ItemAcquired,
	eventlog.ItemUsed,
	eventlog.WorldEvent,
	eventlog.CrisisTriggered,
	eventlog.TimePass,
	eventlog.Custom,
}

// Engine is the step machine for one session. It is not safe for
// concurrent Step calls: the turn loop is single-writer by design (see
// the concurrency model this module implements), though reads like
// GetWorldSummary may be called from a companion goroutine between
// turns.
type Engine struct {
	sessionID string
	playerID  string
	cfg       *config.Config
	logger    zerolog.Logger
	gateway   *llmgateway.Gateway

	Cognition *cognition.Store
	World     *worldstate.Manager
	Events    *eventlog.Log
	MapGraph  *mapgraph.Graph
	Simulator *simulator.Simulator
	Cache     *cache.Strategy
	Content   *contentloader.Loader
	Plugins   *plugin.Host

	turnCount    int
	lastTurnTime time.Time
	now          func() time.Time
}

// New builds an Engine and wires the static event-log listener that
// forwards every event to world_state.HandleEvent. This wiring happens
// exactly once, here, so no call site can forget it.
func New(sessionID, playerID string, cfg *config.Config, logger zerolog.Logger, store kv.Store, blobStore blob.Store, gateway *llmgateway.Gateway) *Engine {
	log := logger.With().Str("component", "runtime").Str("session_id", sessionID).Logger()

	eng := &Engine{
		sessionID: sessionID,
		playerID:  playerID,
		cfg:       cfg,
		logger:    log,
		gateway:   gateway,
		now:       time.Now,
	}

	eng.Cognition = cognition.New(sessionID, store, blobStore, cfg.KV.TTL)
	eng.World = worldstate.New(sessionID, store, cfg.KV.TTL)
	eng.Events = eventlog.New(sessionID, store, cfg.KV.TTL)
	eng.MapGraph = mapgraph.New(store, routeGenerator{gateway: gateway, cfg: cfg})
	eng.Simulator = simulator.New(sessionID, eng.World, eng.Events, simulator.DefaultConfig())
	eng.Cache = cache.NewStrategy(log, cache.DefaultConfig())
	eng.Content = contentloader.New(sessionID)
	eng.Plugins = plugin.New(log)

	eng.Events.RegisterHandler(allEventTypes, func(e eventlog.Event) {
		eng.World.HandleEvent(e)
	}, nil, 0)

	return eng
}

// TurnCount is the number of completed Step calls this session.
func (e *Engine) TurnCount() int { return e.turnCount }

// InitializePlayer seeds default player state, registers the starting
// region in World State, fires on_player_created, and emits the
// player_created CUSTOM event.
func (e *Engine) InitializePlayer(ctx context.Context, startLocationID string, tags []string) error {
	if len(tags) == 0 {
		tags = []string{"traveler"}
	}

	locName := startLocationID
	if node, ok, err := e.MapGraph.GetNode(ctx, startLocationID); err == nil && ok {
		if name, ok := node["name"].(string); ok && name != "" {
			locName = name
		}
	}
	e.World.RegisterRegion(startLocationID, locName)
	e.World.DiscoverRegion(startLocationID)

	defaultState := map[string]interface{}{
		"hp":       100,
		"max_hp":   100,
		"sanity":   100,
		"max_sanity": 100,
		"location": startLocationID,
		"tags":     tags,
		"level":    1,
		"exp":      0,
		"gold":     100,
	}
	if err := e.Cognition.UpdatePlayerState(ctx, defaultState); err != nil {
		return err
	}

	e.Plugins.InvokePlayerCreated(e.playerID, startLocationID)

	_, err := e.Events.Emit(ctx, eventlog.Custom, e.playerID, startLocationID,
		map[string]interface{}{"event": "player_created"}, []string{"player_created"}, eventlog.Low, nil)
	return err
}

// Step runs one full turn of the step machine: append the user's
// message, run hooks, dispatch to a command or the natural-language
// path, append the response, run the content check, and persist every
// 10 turns. Ordering here is load-bearing: step 7 (appending the
// assistant message) must run even on an error path from dispatch, and
// step 11 (turn_end) must run after it.
func (e *Engine) Step(ctx context.Context, userInput string) (string, error) {
	e.turnCount++
	e.lastTurnTime = e.now()

	if err := e.Cognition.AddMessage(ctx, "user", userInput); err != nil {
		return "", err
	}

	state, err := e.Cognition.GetPlayerState(ctx)
	if err != nil {
		return "", err
	}
	currLoc, _ := state["location"].(string)

	e.Plugins.InvokeTurnStart(e.turnCount)

	response := ""
	if hookResponse, handled := e.Plugins.InvokeBeforeAction(userInput, state); handled {
		response = hookResponse
	} else {
		response = e.dispatch(ctx, userInput, state, currLoc)
	}

	if err := e.Cognition.AddMessage(ctx, "assistant", response); err != nil {
		return response, err
	}

	e.Plugins.InvokeNarrationGenerated(response, map[string]interface{}{
		"location": currLoc,
		"turn":     e.turnCount,
	})

	e.runContentCheck(ctx, state, currLoc)

	if e.turnCount%10 == 0 {
		if err := e.World.Save(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("periodic world state save failed")
		}
	}

	e.Plugins.InvokeTurnEnd(e.turnCount)

	return response, nil
}

// dispatch implements step 6 of the step machine: plugin commands, then
// the built-in slash commands, then the natural-language path.
func (e *Engine) dispatch(ctx context.Context, userInput string, state map[string]interface{}, currLoc string) string {
	token := firstToken(userInput)

	if cmd, ok := e.Plugins.CommandHandler(token); ok {
		response, err := cmd.Handler(ctx, userInput, e)
		if err != nil {
			return fmt.Sprintf(sentinelDMError, err)
		}
		return e.afterAction(userInput, state, response)
	}

	switch {
	case hasCommandPrefix(userInput, "/move"):
		target := commandArg(userInput, "/move")
		if target == "" {
			return sentinelNoDestination
		}
		return e.afterAction(userInput, state, e.handleMove(ctx, currLoc, target))
	case hasCommandPrefix(userInput, "/look"):
		return e.afterAction(userInput, state, e.handleLook(ctx, currLoc))
	case hasCommandPrefix(userInput, "/status"):
		return e.afterAction(userInput, state, e.statusSummary(ctx, state))
	case hasCommandPrefix(userInput, "/events"):
		return e.afterAction(userInput, state, e.eventsSummary(ctx))
	case hasCommandPrefix(userInput, "/world"):
		return e.afterAction(userInput, state, e.worldSummary())
	case hasCommandPrefix(userInput, "/plugins"):
		return e.afterAction(userInput, state, e.pluginsSummary())
	default:
		return e.afterAction(userInput, state, e.handleNaturalLanguage(ctx, userInput, state, currLoc))
	}
}

// afterAction runs on_after_action, letting the first handling plugin
// rewrite the response.
func (e *Engine) afterAction(userInput string, state map[string]interface{}, response string) string {
	if rewritten, handled := e.Plugins.InvokeAfterAction(userInput, state, response); handled {
		return rewritten
	}
	return response
}

// runContentCheck asks the Context Loader for up to 3 now-matching
// records and marks them loaded, mirroring step 9 of the step machine.
func (e *Engine) runContentCheck(ctx context.Context, state map[string]interface{}, currLoc string) {
	lc := contentloader.NewContext(e.playerID, currLoc, state, e.Events, mapGraphLookup{e.MapGraph})
	matches := e.Content.LoadAllMatching(ctx, lc, nil, 3)
	for _, m := range matches {
		e.logger.Debug().Str("content_id", m.ContentID).Msg("loadable content marked loaded")
	}
}

// mapGraphLookup adapts *mapgraph.Graph to contentloader.RegionLookup;
// the two packages would otherwise need to import each other's concrete
// types just for this one method.
type mapGraphLookup struct{ g *mapgraph.Graph }

func (m mapGraphLookup) GetNode(ctx context.Context, id string) (map[string]interface{}, bool, error) {
	return m.g.GetNode(ctx, id)
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return s[:i]
		}
	}
	return s
}

func hasCommandPrefix(input, cmd string) bool {
	if len(input) < len(cmd) {
		return false
	}
	if input[:len(cmd)] != cmd {
		return false
	}
	return len(input) == len(cmd) || input[len(cmd)] == ' '
}

func commandArg(input, cmd string) string {
	rest := input[len(cmd):]
	for len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest
}
