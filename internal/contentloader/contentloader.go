// Package contentloader is the session's declarative content registry: it
// holds a set of candidate locations, NPCs, items, and quests, each gated
// behind a load condition, and decides which ones are live given the
// player's current state and event history. It also drives one-off
// dynamic content generation for player actions nothing was registered
// to cover.
package contentloader

import (
	"context"
	"fmt"
	"sort"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
)

// Trigger is the kind of clause a LoadCondition is evaluated against.
type Trigger string

const (
	TriggerLocationBased Trigger = "location"
	TriggerEventBased    Trigger = "event"
	TriggerPlayerState   Trigger = "player_state"
	TriggerCombo         Trigger = "combo"
	TriggerAlways        Trigger = "always"
	TriggerNever         Trigger = "never"
)

// ContentType is the kind of thing a LoadableContent represents.
type ContentType string

const (
	ContentLocation  ContentType = "location"
	ContentNPC       ContentType = "npc"
	ContentItem      ContentType = "item"
	ContentQuest     ContentType = "quest"
	ContentLore      ContentType = "lore"
	ContentEncounter ContentType = "encounter"
	ContentCustom    ContentType = "custom"
)

// CustomCondition is a predicate closure over player state and the event
// log, used for load conditions that don't reduce to a declarative clause.
type CustomCondition func(playerState map[string]interface{}, log *eventlog.Log) bool

// LoadCondition combines any number of clauses; all present clauses must
// pass for the condition to hold, except ALWAYS (always true) and NEVER
// (always false), which short-circuit the rest.
type LoadCondition struct {
	Trigger Trigger

	AtLocation string
	InRegion   string
	Visited    map[string]struct{}

	RequiresEvents     []string
	ExcludesEvents     []string
	RequiresEventTypes []eventlog.EventType

	MinLevel int
	MaxLevel int
	HasTags  []string
	HasItems []string

	StateConditions map[string]interface{}

	Custom CustomCondition
}

// NewLoadCondition returns a LoadCondition with sane open level bounds.
func NewLoadCondition(trigger Trigger) LoadCondition {
	return LoadCondition{Trigger: trigger, MinLevel: 1, MaxLevel: 100}
}

// LoadableContent is one declarative, conditionally-loadable record.
type LoadableContent struct {
	ContentID   string
	ContentType ContentType
	Name        string
	Description string

	Condition LoadCondition

	Data map[string]interface{}

	Priority int

	Loaded     bool
	Repeatable bool

	OnLoadEvents []string
	Excludes     []string
	Replaces     []string
}

// RegionLookup resolves a location id to its node fields, matching the
// subset of the map graph this package actually needs.
type RegionLookup interface {
	GetNode(ctx context.Context, id string) (map[string]interface{}, bool, error)
}

// Context is the situational snapshot a load condition is judged against.
type Context struct {
	PlayerID        string
	CurrentLocation string
	PlayerState     map[string]interface{}
	Log             *eventlog.Log
	Regions         RegionLookup

	loadedContent map[string]struct{}
}

// NewContext builds a Context for one evaluation pass.
func NewContext(playerID, location string, playerState map[string]interface{}, log *eventlog.Log, regions RegionLookup) *Context {
	return &Context{
		PlayerID:        playerID,
		CurrentLocation: location,
		PlayerState:     playerState,
		Log:             log,
		Regions:         regions,
		loadedContent:   make(map[string]struct{}),
	}
}

func (c *Context) HasTag(tag string) bool {
	tags, _ := c.PlayerState["tags"].([]interface{})
	for _, t := range tags {
		if s, ok := t.(string); ok && s == tag {
			return true
		}
	}
	return false
}

func (c *Context) HasItem(itemID string) bool {
	inventory, _ := c.PlayerState["inventory"].(map[string]interface{})
	items, _ := inventory["items"].([]interface{})
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v == itemID {
				return true
			}
		case map[string]interface{}:
			if id, ok := v["item_id"].(string); ok && id == itemID {
				return true
			}
		}
	}
	return false
}

func (c *Context) Level() int {
	if v, ok := c.PlayerState["level"].(int); ok {
		return v
	}
	return 1
}

func (c *Context) IsContentLoaded(contentID string) bool {
	_, ok := c.loadedContent[contentID]
	return ok
}

func (c *Context) MarkContentLoaded(contentID string) {
	c.loadedContent[contentID] = struct{}{}
}

// Loader is the session's registry of declarative loadable content plus
// a small generation cache for one-off dynamic content.
type Loader struct {
	sessionID string
	content   map[string]*LoadableContent
	genCache  map[string]map[string]interface{}
}

func New(sessionID string) *Loader {
	return &Loader{
		sessionID: sessionID,
		content:   make(map[string]*LoadableContent),
		genCache:  make(map[string]map[string]interface{}),
	}
}

func (l *Loader) Register(content *LoadableContent) {
	l.content[content.ContentID] = content
}

func (l *Loader) RegisterAll(contents []*LoadableContent) {
	for _, c := range contents {
		l.Register(c)
	}
}

func (l *Loader) Unregister(contentID string) {
	delete(l.content, contentID)
}

func (l *Loader) Get(contentID string) (*LoadableContent, bool) {
	c, ok := l.content[contentID]
	return c, ok
}

func (l *Loader) GetByType(contentType ContentType) []*LoadableContent {
	var out []*LoadableContent
	for _, c := range l.content {
		if c.ContentType == contentType {
			out = append(out, c)
		}
	}
	return out
}

// checkCondition evaluates a load condition's clauses against a context,
// short-circuiting on the first failing clause.
func (l *Loader) checkCondition(ctx context.Context, cond LoadCondition, lc *Context) bool {
	switch cond.Trigger {
	case TriggerAlways:
		return true
	case TriggerNever:
		return false
	}

	if cond.Custom != nil && !cond.Custom(lc.PlayerState, lc.Log) {
		return false
	}

	if cond.AtLocation != "" && lc.CurrentLocation != cond.AtLocation {
		return false
	}

	if cond.InRegion != "" {
		if lc.Regions == nil {
			return false
		}
		node, ok, err := lc.Regions.GetNode(ctx, lc.CurrentLocation)
		if err != nil || !ok {
			return false
		}
		if regionID, _ := node["region_id"].(string); regionID != cond.InRegion {
			return false
		}
	}

	if len(cond.Visited) > 0 {
		visited := visitedLocations(ctx, lc.Log)
		for v := range cond.Visited {
			if _, ok := visited[v]; !ok {
				return false
			}
		}
	}

	if len(cond.RequiresEvents) > 0 || len(cond.ExcludesEvents) > 0 {
		seen := eventIDSet(ctx, lc.Log, 100)
		for _, id := range cond.RequiresEvents {
			if _, ok := seen[id]; !ok {
				return false
			}
		}
		for _, id := range cond.ExcludesEvents {
			if _, ok := seen[id]; ok {
				return false
			}
		}
	}

	if len(cond.RequiresEventTypes) > 0 {
		recent, err := lc.Log.GetAllEvents(ctx, 100, 0)
		if err != nil {
			return false
		}
		present := make(map[eventlog.EventType]struct{}, len(recent))
		for _, e := range recent {
			present[e.EventType] = struct{}{}
		}
		found := false
		for _, t := range cond.RequiresEventTypes {
			if _, ok := present[t]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	level := lc.Level()
	if (cond.MinLevel != 0 && level < cond.MinLevel) || (cond.MaxLevel != 0 && level > cond.MaxLevel) {
		return false
	}

	for _, tag := range cond.HasTags {
		if !lc.HasTag(tag) {
			return false
		}
	}
	for _, item := range cond.HasItems {
		if !lc.HasItem(item) {
			return false
		}
	}
	for key, value := range cond.StateConditions {
		if lc.PlayerState[key] != value {
			return false
		}
	}

	return true
}

func visitedLocations(ctx context.Context, log *eventlog.Log) map[string]struct{} {
	visited := make(map[string]struct{})
	if log == nil {
		return visited
	}
	events, err := log.GetEventsByType(ctx, eventlog.Discovery, 0)
	if err != nil {
		return visited
	}
	for _, e := range events {
		if target, ok := e.Data["target"].(string); ok {
			visited[target] = struct{}{}
		}
	}
	return visited
}

func eventIDSet(ctx context.Context, log *eventlog.Log, limit int) map[string]struct{} {
	ids := make(map[string]struct{})
	if log == nil {
		return ids
	}
	events, err := log.GetAllEvents(ctx, limit, 0)
	if err != nil {
		return ids
	}
	for _, e := range events {
		ids[e.EventID] = struct{}{}
	}
	return ids
}

// GetLoadable returns every registered piece of content (optionally
// filtered by type) whose condition currently holds and which is either
// repeatable or not yet loaded in this context, sorted ascending by
// priority.
func (l *Loader) GetLoadable(ctx context.Context, lc *Context, contentType *ContentType) []*LoadableContent {
	var candidates []*LoadableContent
	for id, content := range l.content {
		if contentType != nil && content.ContentType != *contentType {
			continue
		}
		if !content.Repeatable && lc.IsContentLoaded(id) {
			continue
		}
		if l.checkCondition(ctx, content.Condition, lc) {
			candidates = append(candidates, content)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates
}

// LoadContent marks one content record as loaded in this context, if its
// condition currently holds.
func (l *Loader) LoadContent(ctx context.Context, contentID string, lc *Context) bool {
	content, ok := l.content[contentID]
	if !ok {
		return false
	}
	if !l.checkCondition(ctx, content.Condition, lc) {
		return false
	}
	lc.MarkContentLoaded(contentID)
	content.Loaded = true
	return true
}

// LoadAllMatching loads every currently-matching piece of content
// (optionally filtered by type), up to an optional limit, and returns
// what was actually loaded.
func (l *Loader) LoadAllMatching(ctx context.Context, lc *Context, contentType *ContentType, limit int) []*LoadableContent {
	candidates := l.GetLoadable(ctx, lc, contentType)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	var loaded []*LoadableContent
	for _, c := range candidates {
		if l.LoadContent(ctx, c.ContentID, lc) {
			loaded = append(loaded, c)
		}
	}
	return loaded
}

// DynamicGenerator produces a parsed dynamic-content blob for a player
// intent, as supplied by the LLM gateway.
type DynamicGenerator func(ctx context.Context, prompt string) (map[string]interface{}, error)

// GenerateDynamicContent builds a DM-style prompt for a free-form player
// intent and caches the parsed result under "location:intent" so a
// repeated intent in the same location doesn't re-trigger generation.
func (l *Loader) GenerateDynamicContent(ctx context.Context, userIntent string, lc *Context, narrationContext string, gen DynamicGenerator) (map[string]interface{}, error) {
	cacheKey := lc.CurrentLocation + ":" + userIntent
	if cached, ok := l.genCache[cacheKey]; ok {
		return cached, nil
	}

	var locationName, locationDesc string
	if lc.Regions != nil {
		if node, ok, err := lc.Regions.GetNode(ctx, lc.CurrentLocation); err == nil && ok {
			locationName, _ = node["name"].(string)
			locationDesc, _ = node["desc"].(string)
		}
	}

	prompt := fmt.Sprintf(dynamicContentPrompt,
		userIntent, locationName, locationDesc, narrationContext,
		lc.PlayerState["hp"], lc.PlayerState["sanity"], lc.Level())

	result, err := gen(ctx, prompt)
	if err != nil || result == nil {
		return nil, err
	}
	l.genCache[cacheKey] = result
	return result, nil
}

const dynamicContentPrompt = `You are an intelligent Dungeon Master. The player is taking the following action:

Player intent: %s
Current location: %s - %s

[Recent event context]
%s

[Player state]
HP: %v
Sanity: %v
Level: %v

Based on the player's intent and the current situation, generate appropriate game content.

Return JSON in this shape:
{
    "content_type": "location|npc|item|quest|encounter",
    "name": "content name",
    "description": "detailed description",
    "data": {"custom field": "value"},
    "requires_action": "whether the player needs to act further",
    "suggested_response": "a suggested reply to the player"
}`
