package runtime

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/cache"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/contentloader"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/cognition"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/llmgateway"
)

// intentResult is the parsed shape of the intent-classification call.
type intentResult struct {
	Intent  string `json:"intent"`
	Keyword string `json:"keyword"`
}

func hashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func formatHistory(messages []cognition.Message) string {
	var lines []string
	for _, m := range messages {
		switch m.Role {
		case "user":
			lines = append(lines, "Player: "+m.Content)
		case "assistant":
			lines = append(lines, "DM: "+m.Content)
		case "system":
			lines = append(lines, "[System]: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// loadContext builds the cache.LoadContext judged against the current
// situation, used for every generation this turn classifies or
// dispatches through the cache.
func (e *Engine) loadContext(currLoc string, state map[string]interface{}) cache.LoadContext {
	flags := make(map[string]bool, len(e.World.GlobalFlags))
	for k, v := range e.World.GlobalFlags {
		flags[k] = v
	}
	return cache.LoadContext{
		PlayerID:     e.playerID,
		Location:     currLoc,
		CrisisLevel:  int(e.World.CrisisLevel),
		TotalMinutes: e.World.WorldTime.TotalMinutes,
		Flags:        flags,
	}
}

const intentClassificationPrompt = `You are a game command parser.
Player location: %s

[Recent conversation history]
%s
----------------
Current input: "%s"

Judge the player's intent:
1. EXPLORE: the player wants to go to a specific place not yet on the map (e.g. "find a shop", "go into the cave", "go through that door").
2. ACTION: the player is trying to change the current situation (e.g. "attack", "flee", "break the door", "hack the terminal").
3. CHAT: idle talk or observation.

Return JSON:
{
    "intent": "EXPLORE" | "ACTION" | "CHAT",
    "keyword": "place name (EXPLORE) / action word (ACTION)"
}`

// classifyIntent asks the LLM Gateway, through the Cache, to classify
// the player's free-text input. Any failure (offline gateway, transport
// error, unparsable response) degrades to CHAT rather than aborting the
// turn.
func (e *Engine) classifyIntent(ctx context.Context, userInput, currLoc, locName, historyStr string, state map[string]interface{}) intentResult {
	lc := e.loadContext(currLoc, state)
	key := "intent:" + currLoc + ":" + hashString(userInput)

	gen := func(ctx context.Context) (interface{}, error) {
		prompt := fmt.Sprintf(intentClassificationPrompt, locName, historyStr, userInput)
		text, err := e.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
			0.1, e.cfg.StageTokenCap("cognition"), e.cfg.LLM.Timeout)
		if err != nil {
			return nil, err
		}
		jsonStr, ok := llmgateway.ExtractJSON(text)
		if !ok {
			return nil, fmt.Errorf("runtime: no JSON in intent response")
		}
		var result intentResult
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return nil, err
		}
		return result, nil
	}

	value, _, err := e.Cache.GetOrGenerate(ctx, key, cache.ContentNarrative, userInput, lc, false, gen)
	if err != nil {
		return intentResult{Intent: "CHAT"}
	}
	if result, ok := value.(intentResult); ok {
		return result
	}
	return intentResult{Intent: "CHAT"}
}

// handleNaturalLanguage is the fallback dispatch branch: offline DM,
// then intent classification into EXPLORE | ACTION | CHAT.
func (e *Engine) handleNaturalLanguage(ctx context.Context, userInput string, state map[string]interface{}, currLoc string) string {
	if e.gateway == nil {
		return fmt.Sprintf(sentinelDMOffline, userInput)
	}

	history, _ := e.Cognition.GetRecentHistory(ctx, 6)
	historyStr := formatHistory(history)

	node, _, _ := e.MapGraph.GetNode(ctx, currLoc)
	locName, _ := node["name"].(string)

	result := e.classifyIntent(ctx, userInput, currLoc, locName, historyStr, state)

	switch result.Intent {
	case "EXPLORE":
		return e.handleExplore(ctx, userInput, result.Keyword, state, currLoc, historyStr)
	case "ACTION":
		return e.handleAction(ctx, userInput, state, currLoc, locName, historyStr)
	default:
		return e.handleChat(ctx, userInput, state, currLoc, node, historyStr)
	}
}

// handleExplore tries the Context Loader's dynamic-content path first,
// then falls back to synthesizing a brand-new Map Graph sub-location and
// routing the player there via handle_move.
func (e *Engine) handleExplore(ctx context.Context, userInput, keyword string, state map[string]interface{}, currLoc, historyStr string) string {
	lc := contentloader.NewContext(e.playerID, currLoc, state, e.Events, mapGraphLookup{e.MapGraph})

	dynGen := func(ctx context.Context, prompt string) (map[string]interface{}, error) {
		text, err := e.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
			e.cfg.LLM.Temperature, e.cfg.StageTokenCap("narrator"), e.cfg.LLM.Timeout)
		if err != nil {
			return nil, err
		}
		jsonStr, ok := llmgateway.ExtractJSON(text)
		if !ok {
			return nil, fmt.Errorf("runtime: no JSON in dynamic content response")
		}
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if record, err := e.Content.GenerateDynamicContent(ctx, userInput, lc, historyStr, dynGen); err == nil && record != nil {
		return formatDynamicContent(record)
	}

	newID, err := e.MapGraph.CreateDynamicSubLocation(ctx, currLoc, keyword, locationGenerator{gateway: e.gateway, cfg: e.cfg})
	if err == nil && newID != "" {
		return e.handleMove(ctx, currLoc, newID)
	}

	return e.handleChat(ctx, userInput, state, currLoc, nil, historyStr)
}

func formatDynamicContent(record map[string]interface{}) string {
	name, _ := record["name"].(string)
	desc, _ := record["description"].(string)
	suggested, _ := record["suggested_response"].(string)
	var b strings.Builder
	fmt.Fprintf(&b, "✨ %s\n%s", name, desc)
	if suggested != "" {
		fmt.Fprintf(&b, "\n%s", suggested)
	}
	return b.String()
}

const actionResolutionPrompt = `You are a strict TRPG referee.
Genre: %s
Current crisis backdrop: %s
Scene: %s
Player state: HP %v | Sanity %v

[Recent events]
%s

[Recent history]
%s
----------------
Player action: "%s"

Perform action resolution. You must follow these rules:
1. Consequence driven: do not just narrate the attempt, judge the outcome (success / failure / costly success).
2. State change: the action must cause a change to the environment or the player's state — information gained, damage taken, an alarm triggered.
3. Combine with history: if the player is repeating the same action, this time give a decisive result.
4. Logical consistency: judge impossible actions against the %s rules and penalize accordingly.
5. Style: cold, objective, tight. Stay under 150 words. Never emit <think>.`

// handleAction builds the action-resolution prompt and dispatches it
// through the cache, then emits a CUSTOM "action" event.
func (e *Engine) handleAction(ctx context.Context, userInput string, state map[string]interface{}, currLoc, locName, historyStr string) string {
	eventsNarrative, _ := e.Events.GetContextForNarration(ctx, 10)

	lc := e.loadContext(currLoc, state)
	key := "action:" + currLoc + ":" + hashString(userInput)

	gen := func(ctx context.Context) (interface{}, error) {
		prompt := fmt.Sprintf(actionResolutionPrompt, e.cfg.Genre, e.cfg.FinalConflict, locName,
			state["hp"], state["sanity"], eventsNarrative, historyStr, userInput, e.cfg.Genre)
		text, err := e.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
			e.cfg.LLM.Temperature, e.cfg.StageTokenCap("narrator"), e.cfg.LLM.Timeout)
		if err != nil {
			return nil, err
		}
		return llmgateway.CleanResponse(text), nil
	}

	response := e.generateNarration(ctx, key, userInput, lc, gen)

	if _, err := e.Events.Emit(ctx, eventlog.Custom, e.playerID, currLoc,
		map[string]interface{}{"event": "action", "input": userInput}, []string{"action", "player"}, eventlog.Medium, nil); err != nil {
		e.logger.Warn().Err(err).Msg("failed to emit action event")
	}

	return response
}

const chatNeutralDirective = "Director's note: focus on the physical atmosphere of the current scene. Stay calm or mysterious; do not manufacture panic."
const chatCrisisDirectiveFmt = "Director's note: this response must subtly hint at signs of %s (an unusual sound, a moving shadow) to build tension."

const chatNarrationPrompt = `You are the immersive simulation engine of a professional TRPG.
Genre: %s
Overall tone: %s
Current location: %s - %s
Player input: "%s"

[Context]
%s
----------------
%s

Generate a response grounded in the above, strictly following these general narrative principles:
1. Physical grounding: base the description on objects, light, sound or smell actually present in the scene; no empty metaphors.
2. Logical consistency: the response must be the direct result of the player's action, reasoned within the %s genre's common sense.
3. Style adaptation: keep strictly to the %s tone.
4. Form: stay under 150 words, second person, never emit <think> tags.`

// handleChat rolls the AI-director check and builds the ambient
// narration prompt. node may be nil when the current location's map
// node could not be loaded; the prompt degrades gracefully.
func (e *Engine) handleChat(ctx context.Context, userInput string, state map[string]interface{}, currLoc string, node map[string]interface{}, historyStr string) string {
	locName, locDesc := "", ""
	riskLevel := 1
	if node != nil {
		locName, _ = node["name"].(string)
		locDesc, _ = node["desc"].(string)
		if v, ok := node["risk_level"].(float64); ok {
			riskLevel = int(v)
		} else if v, ok := node["risk_level"].(int); ok {
			riskLevel = v
		}
	}
	if riskLevel <= 0 {
		riskLevel = 1
	}
	crisis := int(e.World.CrisisLevel)

	threshold := math.Min(0.7, float64(riskLevel)*0.1+float64(crisis)*0.05)
	directive := chatNeutralDirective
	if rand.Float64() < threshold {
		directive = fmt.Sprintf(chatCrisisDirectiveFmt, e.cfg.FinalConflict)
	}

	lc := e.loadContext(currLoc, state)
	key := "chat:" + currLoc + ":" + hashString(userInput)

	gen := func(ctx context.Context) (interface{}, error) {
		prompt := fmt.Sprintf(chatNarrationPrompt, e.cfg.Genre, e.cfg.Tone, locName, locDesc, userInput, historyStr, directive, e.cfg.Genre, e.cfg.Tone)
		text, err := e.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
			e.cfg.LLM.Temperature, e.cfg.StageTokenCap("narrator"), e.cfg.LLM.Timeout)
		if err != nil {
			return nil, err
		}
		return llmgateway.CleanResponse(text), nil
	}

	return e.generateNarration(ctx, key, userInput, lc, gen)
}

// generateNarration runs a cache-wrapped generation and renders the
// result (or a DM-error sentinel) the way every narration-producing path
// needs to.
func (e *Engine) generateNarration(ctx context.Context, key, query string, lc cache.LoadContext, gen cache.Generator) string {
	value, _, err := e.Cache.GetOrGenerate(ctx, key, cache.ContentNarrative, query, lc, false, gen)
	if err != nil {
		return fmt.Sprintf(sentinelDMError, err)
	}
	text, ok := value.(string)
	if !ok {
		return fmt.Sprintf(sentinelDMError, "unexpected generation result type")
	}
	return "DM: " + text
}
