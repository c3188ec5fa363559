// Package eventlog is the append-only, per-session record of everything
// that happens during play: discoveries, NPC interactions, quest state
// transitions, world-level events. It persists every event immediately,
// then fans it out to in-process listeners, so a crashed listener never
// loses the underlying record.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

// EventType is the closed set of event kinds the engine recognizes. There
// is no escape hatch beyond Custom: every caller must classify its event
// as one of these.
type EventType string

const (
	Discovery            EventType = "discovery"
	ExplorationComplete  EventType = "exploration_complete"
	HiddenRevealed       EventType = "hidden_revealed"
	NPCMeet              EventType = "npc_meet"
	NPCConversation      EventType = "npc_conversation"
	RelationshipChange   EventType = "relationship_change"
	AllianceFormed       EventType = "alliance_formed"
	CombatStart          EventType = "combat_start"
	CombatEnd            EventType = "combat_end"
	QuestAccepted        EventType = "quest_accepted"
	QuestCompleted       EventType = "quest_completed"
	QuestFailed          EventType = "quest_failed"
	ItemAcquired         EventType = "item_acquired"
	ItemUsed             EventType = "item_used"
	WorldEvent           EventType = "world_event"
	CrisisTriggered      EventType = "crisis_triggered"
	TimePass             EventType = "time_pass"
	Custom               EventType = "custom"
)

// Priority ranks an event's importance. This is distinct from a
// Listener's own registration priority: Priority governs neither
// persistence nor dispatch order, only the (rarely used) ability for a
// listener condition to triage by event importance.
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
)

// Event is one persisted occurrence.
type Event struct {
	EventType      EventType              `json:"event_type"`
	EventID        string                 `json:"event_id"`
	Timestamp      float64                `json:"timestamp"`
	PlayerID       string                 `json:"player_id"`
	SessionID      string                 `json:"session_id"`
	Location       string                 `json:"location"`
	Priority       Priority               `json:"priority"`
	Data           map[string]interface{} `json:"data"`
	Tags           []string               `json:"tags"`
	Processed      bool                   `json:"processed"`
	RelatedEvents  []string               `json:"related_events"`
}

// Handler reacts to a dispatched event. A panicking or erroring handler
// must never prevent other handlers, or the emit call itself, from
// completing — Log isolates each handler invocation.
type Handler func(Event)

// Condition gates whether a Listener applies to a given event.
type Condition func(Event) bool

// Listener subscribes to a subset of EventTypes. Listeners are dispatched
// in descending Priority order (ties broken by registration order), not
// the Event's own Priority field.
type Listener struct {
	EventTypes []EventType
	Handler    Handler
	Condition  Condition
	Priority   int
}

func (l *Listener) canHandle(e Event) bool {
	matched := false
	for _, t := range l.EventTypes {
		if t == e.EventType {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if l.Condition != nil && !l.Condition(e) {
		return false
	}
	return true
}

func eventsKey(sessionID string) string      { return "rpg:events:" + sessionID }
func indexKey(sessionID string) string        { return "rpg:events:index:" + sessionID }
func tagsKeyPrefix(sessionID string) string   { return "rpg:events:tags:" + sessionID }
func eventKey(sessionID, eventID string) string {
	return eventsKey(sessionID) + ":" + eventID
}
func tagKey(sessionID, tag string) string {
	return tagsKeyPrefix(sessionID) + ":" + tag
}

// Log is the event store and dispatcher for a single session.
type Log struct {
	sessionID string
	store     kv.Store
	ttl       time.Duration

	listeners []*Listener

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// New builds a Log for one session.
func New(sessionID string, store kv.Store, ttl time.Duration) *Log {
	return &Log{sessionID: sessionID, store: store, ttl: ttl, now: time.Now}
}

// RegisterListener adds a listener and keeps the listener slice sorted by
// descending priority with stable ties (equal-priority listeners fire in
// registration order).
func (l *Log) RegisterListener(listener *Listener) {
	l.listeners = append(l.listeners, listener)
	sort.SliceStable(l.listeners, func(i, j int) bool {
		return l.listeners[i].Priority > l.listeners[j].Priority
	})
}

// RegisterHandler is a convenience wrapper building and registering a
// Listener in one call.
func (l *Log) RegisterHandler(types []EventType, handler Handler, condition Condition, priority int) *Listener {
	listener := &Listener{EventTypes: types, Handler: handler, Condition: condition, Priority: priority}
	l.RegisterListener(listener)
	return listener
}

// Emit persists a new event, then dispatches it to every matching listener
// in priority order, isolating each listener from the others' failures.
// Persistence always happens before notification: a listener can never
// observe an event the log itself failed to durably record.
func (l *Log) Emit(ctx context.Context, eventType EventType, playerID, location string, data map[string]interface{}, tags []string, priority Priority, relatedEvents []string) (Event, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	event := Event{
		EventType:     eventType,
		EventID:       "evt_" + uuid.New().String()[:12],
		Timestamp:     float64(l.now().UnixNano()) / 1e9,
		PlayerID:      playerID,
		SessionID:     l.sessionID,
		Location:      location,
		Priority:      priority,
		Data:          data,
		Tags:          tags,
		RelatedEvents: relatedEvents,
	}

	if err := l.persist(ctx, event); err != nil {
		return Event{}, err
	}

	l.notifyListeners(ctx, event)

	return event, nil
}

func (l *Log) persist(ctx context.Context, event Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := l.store.SetEX(ctx, eventKey(l.sessionID, event.EventID), string(encoded), l.ttl); err != nil {
		return err
	}
	if err := l.store.ZAdd(ctx, indexKey(l.sessionID), event.EventID, event.Timestamp); err != nil {
		return err
	}
	for _, tag := range event.Tags {
		if err := l.store.SAdd(ctx, tagKey(l.sessionID, tag), event.EventID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) notifyListeners(ctx context.Context, event Event) {
	for _, listener := range l.listeners {
		if !listener.canHandle(event) {
			continue
		}
		if l.invokeSafely(listener, event) {
			event.Processed = true
			_ = l.markProcessed(ctx, event.EventID)
		}
	}
}

// invokeSafely runs a listener's handler, recovering from panics so one
// broken listener never takes down emit or the rest of the listener chain.
func (l *Log) invokeSafely(listener *Listener, event Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	listener.Handler(event)
	return true
}

func (l *Log) markProcessed(ctx context.Context, eventID string) error {
	raw, found, err := l.store.Get(ctx, eventKey(l.sessionID, eventID))
	if err != nil || !found {
		return err
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return err
	}
	event.Processed = true
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return l.store.SetEX(ctx, eventKey(l.sessionID, eventID), string(encoded), l.ttl)
}

// GetEvent loads a single event by id.
func (l *Log) GetEvent(ctx context.Context, eventID string) (Event, bool, error) {
	raw, found, err := l.store.Get(ctx, eventKey(l.sessionID, eventID))
	if err != nil || !found {
		return Event{}, found, err
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, false, err
	}
	return event, true, nil
}

// GetAllEvents returns events newest-first, paginated by offset/limit over
// the timestamp-ordered index.
func (l *Log) GetAllEvents(ctx context.Context, limit, offset int) ([]Event, error) {
	ids, err := l.store.ZRevRange(ctx, indexKey(l.sessionID), offset, offset+limit-1)
	if err != nil {
		return nil, err
	}
	return l.loadEvents(ctx, ids)
}

func (l *Log) loadEvents(ctx context.Context, ids []string) ([]Event, error) {
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		event, found, err := l.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			events = append(events, event)
		}
	}
	return events, nil
}

// GetEventsByType filters the most recent `limit` events (before
// filtering) down to the given type.
func (l *Log) GetEventsByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	events, err := l.GetAllEvents(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, e := range events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetEventsByLocation filters the most recent `limit` events down to the
// given location.
func (l *Log) GetEventsByLocation(ctx context.Context, location string, limit int) ([]Event, error) {
	events, err := l.GetAllEvents(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, e := range events {
		if e.Location == location {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetEventsByTag returns up to `limit` events carrying the given tag, via
// the tag set index rather than a scan.
func (l *Log) GetEventsByTag(ctx context.Context, tag string, limit int) ([]Event, error) {
	ids, err := l.store.SMembers(ctx, tagKey(l.sessionID, tag))
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return l.loadEvents(ctx, ids)
}

// GetEventsInRange returns events with timestamp in [startTime, endTime],
// newest first.
func (l *Log) GetEventsInRange(ctx context.Context, startTime, endTime float64, limit int) ([]Event, error) {
	ids, err := l.store.ZRevRangeByScore(ctx, indexKey(l.sessionID), startTime, endTime, limit)
	if err != nil {
		return nil, err
	}
	return l.loadEvents(ctx, ids)
}

// GetRelatedEvents performs a bounded breadth-first walk of the
// related_events links starting at eventID, up to `depth` hops.
func (l *Log) GetRelatedEvents(ctx context.Context, eventID string, depth int) ([]Event, error) {
	all, err := l.GetAllEvents(ctx, 1000, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Event, len(all))
	for _, e := range all {
		byID[e.EventID] = e
	}

	var result []Event
	visited := map[string]bool{eventID: true}
	queue := []string{eventID}

	for hop := 0; hop < depth && len(queue) > 0; hop++ {
		var next []string
		for _, current := range queue {
			event, ok := byID[current]
			if !ok {
				continue
			}
			for _, relID := range event.RelatedEvents {
				if visited[relID] {
					continue
				}
				visited[relID] = true
				next = append(next, relID)
				if rel, ok := byID[relID]; ok {
					result = append(result, rel)
				}
			}
		}
		queue = next
	}
	return result, nil
}

// Summary is the aggregate statistics get_event_summary exposes for
// debugging and the status command.
type Summary struct {
	TotalEvents       int            `json:"total_events"`
	EventTypeCounts   map[string]int `json:"event_types"`
	LocationCounts    map[string]int `json:"locations"`
	TagCounts         map[string]int `json:"tags"`
	LastEventTime     *float64       `json:"last_event_time"`
}

// GetEventSummary aggregates the most recent 1000 events by type, location,
// and tag. Each occurrence increments its bucket by exactly one.
func (l *Log) GetEventSummary(ctx context.Context) (Summary, error) {
	events, err := l.GetAllEvents(ctx, 1000, 0)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		EventTypeCounts: map[string]int{},
		LocationCounts:  map[string]int{},
		TagCounts:       map[string]int{},
	}
	for _, e := range events {
		summary.EventTypeCounts[string(e.EventType)] += 1
		summary.LocationCounts[e.Location] += 1
		for _, tag := range e.Tags {
			summary.TagCounts[tag] += 1
		}
	}
	summary.TotalEvents = len(events)
	if len(events) > 0 {
		t := events[0].Timestamp
		summary.LastEventTime = &t
	}
	return summary, nil
}

// GetContextForNarration formats the most recent `limit` events as a
// human-readable block suitable for direct injection into an LLM prompt.
func (l *Log) GetContextForNarration(ctx context.Context, limit int) (string, error) {
	events, err := l.GetAllEvents(ctx, limit, 0)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "（暂无重大事件记录）", nil
	}

	lines := []string{"【最近发生的重要事件】", strings.Repeat("=", 50)}
	for _, e := range events {
		wallClock := time.Unix(int64(e.Timestamp), 0).Local().Format("15:04")
		typeStr := titleCaseUnderscored(string(e.EventType))
		lines = append(lines, fmt.Sprintf("[%s] %s @ %s", wallClock, typeStr, e.Location))

		var parts []string
		if desc, ok := e.Data["description"].(string); ok && desc != "" {
			parts = append(parts, desc)
		}
		if target, ok := e.Data["target"].(string); ok && target != "" {
			parts = append(parts, "目标: "+target)
		}
		if result, ok := e.Data["result"].(string); ok && result != "" {
			parts = append(parts, "结果: "+result)
		}
		if len(parts) > 0 {
			lines = append(lines, "  └─ "+strings.Join(parts, " | "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ClearAllEvents removes every event, index entry, and tag index for the
// session. Used by save-reset flows, never called mid-turn.
func (l *Log) ClearAllEvents(ctx context.Context) error {
	events, err := l.GetAllEvents(ctx, 1000, 0)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := l.store.Del(ctx, eventKey(l.sessionID, e.EventID)); err != nil {
			return err
		}
	}
	if err := l.store.Del(ctx, indexKey(l.sessionID)); err != nil {
		return err
	}
	tagKeys, err := l.store.Keys(ctx, tagsKeyPrefix(l.sessionID)+":*")
	if err != nil {
		return err
	}
	if len(tagKeys) > 0 {
		if err := l.store.Del(ctx, tagKeys...); err != nil {
			return err
		}
	}
	return nil
}

// titleCaseUnderscored renders "npc_meet" as "Npc Meet", matching the
// reference system's str.replace("_", " ").title() formatting.
func titleCaseUnderscored(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
