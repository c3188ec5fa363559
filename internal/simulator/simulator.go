// Package simulator advances the game world when the player isn't driving
// it directly: NPCs wander and socialize, weather shifts, world events
// fire, and the crisis level drifts up or down. It is the background
// heartbeat behind an otherwise player-turn-driven session.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/worldstate"
)

// Phase is the simulator's current operating mode.
type Phase string

const (
	PhaseActive     Phase = "active"
	PhaseQuiet      Phase = "quiet"
	PhaseTransition Phase = "transition"
)

// EventCategory groups world events by flavor, each with its own
// crisis-weighted selection odds.
type EventCategory string

const (
	CategoryNatural   EventCategory = "natural"
	CategoryPolitical EventCategory = "political"
	CategoryEconomic  EventCategory = "economic"
	CategorySocial    EventCategory = "social"
	CategoryMystical  EventCategory = "mystical"
	CategoryCrisis    EventCategory = "crisis"
)

// Activity is one NPC's autonomous action during a tick.
type Activity struct {
	NPCID        string
	ActivityType string
	Timestamp    time.Time
	FromLocation string
	ToLocation   string
	Description  string
	Affected     []string
}

// WorldEvent is one world-scale occurrence raised during a tick.
type WorldEvent struct {
	EventID          string
	Category         EventCategory
	Name             string
	Description      string
	Timestamp        time.Time
	DurationMinutes  int
	AffectedRegions  []string
	CrisisChange     int
	Narrative        string
}

// Config tunes how often NPCs act, how often world events fire, and how
// fast the crisis level drifts.
type Config struct {
	NPCActivityChance float64
	NPCMoveChance     float64
	NPCSocialChance   float64

	EventBaseChance  float64
	CrisisEventBonus float64

	CrisisNaturalDecay      float64
	CrisisEscalationChance  float64

	DefaultTickMinutes int
	MaxTickMinutes     int
}

// DefaultConfig mirrors the prototype's tuning.
func DefaultConfig() Config {
	return Config{
		NPCActivityChance: 0.3,
		NPCMoveChance:     0.15,
		NPCSocialChance:   0.1,

		EventBaseChance:  0.1,
		CrisisEventBonus: 0.05,

		CrisisNaturalDecay:     0.05,
		CrisisEscalationChance: 0.1,

		DefaultTickMinutes: 30,
		MaxTickMinutes:     480,
	}
}

const maxHistory = 50

// Simulator drives one session's world forward in discrete ticks.
type Simulator struct {
	sessionID string
	world     *worldstate.Manager
	log       *eventlog.Log
	config    Config
	rng       *rand.Rand

	phase     Phase
	tickCount int

	recentActivities []Activity
	recentEvents     []WorldEvent

	now func() time.Time
}

// New builds a Simulator in the ACTIVE phase.
func New(sessionID string, world *worldstate.Manager, log *eventlog.Log, config Config) *Simulator {
	return &Simulator{
		sessionID: sessionID,
		world:     world,
		log:       log,
		config:    config,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:     PhaseActive,
		now:       time.Now,
	}
}

// SimulateTick advances the world by the given number of minutes (clamped
// to MaxTickMinutes; a zero value uses DefaultTickMinutes), running
// weather, NPC activity, world event, and crisis-drift passes in order,
// then trimming history buffers to maxHistory.
func (s *Simulator) SimulateTick(ctx context.Context, minutes int) []WorldEvent {
	if minutes <= 0 {
		minutes = s.config.DefaultTickMinutes
	}
	if minutes > s.config.MaxTickMinutes {
		minutes = s.config.MaxTickMinutes
	}
	s.tickCount++

	s.world.AdvanceTime(minutes)
	s.simulateWeather()

	activities := s.simulateNPCActivities(ctx)
	s.recentActivities = append(s.recentActivities, activities...)

	events := s.simulateWorldEvents(ctx)
	s.recentEvents = append(s.recentEvents, events...)

	s.adjustCrisisLevel()
	s.trimHistory()

	return events
}

func (s *Simulator) simulateWeather() {
	for id := range s.world.Regions() {
		if s.rng.Float64() >= 0.1 {
			continue
		}
		var weights []float64
		if s.world.CrisisLevel >= worldstate.CrisisHigh {
			weights = []float64{10, 15, 20, 15, 5, 10, 25}
		} else {
			weights = []float64{30, 25, 15, 5, 5, 10, 10}
		}
		options := []worldstate.Weather{
			worldstate.WeatherClear, worldstate.WeatherCloudy, worldstate.WeatherRain,
			worldstate.WeatherStorm, worldstate.WeatherSnow, worldstate.WeatherFog,
			worldstate.WeatherHaunted,
		}
		s.world.SetRegionWeather(id, weightedChoice(s.rng, options, weights))
	}
}

func (s *Simulator) simulateNPCActivities(ctx context.Context) []Activity {
	var activities []Activity
	for id, npc := range s.world.NPCs() {
		if !npc.Alive {
			continue
		}
		if s.rng.Float64() > s.config.NPCActivityChance {
			continue
		}
		activity := s.decideNPCActivity(id, npc)
		if activity == nil {
			continue
		}
		activities = append(activities, *activity)
		s.applyNPCActivity(ctx, *activity, npc)
	}
	return activities
}

func (s *Simulator) decideNPCActivity(id string, npc *worldstate.NPCState) *Activity {
	roll := s.rng.Float64()
	switch {
	case roll < s.config.NPCMoveChance:
		return s.generateMovement(id, npc)
	case roll < s.config.NPCMoveChance+s.config.NPCSocialChance:
		return s.generateSocial(id, npc)
	default:
		return s.generateRoutine(id, npc)
	}
}

func (s *Simulator) generateMovement(id string, npc *worldstate.NPCState) *Activity {
	var candidates []string
	for rid := range s.world.Regions() {
		if rid != npc.CurrentLocation && s.world.GetRegion(rid).Discovered {
			candidates = append(candidates, rid)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	target := candidates[s.rng.Intn(len(candidates))]
	return &Activity{
		NPCID:        id,
		ActivityType: "move",
		Timestamp:    s.now(),
		FromLocation: npc.CurrentLocation,
		ToLocation:   target,
		Description:  fmt.Sprintf("%s 从 %s 前往了 %s", npc.Name, npc.CurrentLocation, target),
	}
}

var socialActions = []struct {
	actionType string
	template   string
}{
	{"gossip", "与 %s 闲聊"},
	{"trade", "与 %s 交易"},
	{"argue", "与 %s 争论"},
	{"cooperate", "与 %s 合作"},
}

func (s *Simulator) generateSocial(id string, npc *worldstate.NPCState) *Activity {
	var nearby []*worldstate.NPCState
	var nearbyIDs []string
	for otherID, other := range s.world.NPCs() {
		if otherID != id && other.Alive && other.CurrentLocation == npc.CurrentLocation {
			nearby = append(nearby, other)
			nearbyIDs = append(nearbyIDs, otherID)
		}
	}
	if len(nearby) == 0 {
		return nil
	}
	idx := s.rng.Intn(len(nearby))
	target := nearby[idx]
	action := socialActions[s.rng.Intn(len(socialActions))]

	return &Activity{
		NPCID:        id,
		ActivityType: "social",
		Timestamp:    s.now(),
		Description:  fmt.Sprintf(action.template, target.Name),
		Affected:     []string{nearbyIDs[idx]},
	}
}

func (s *Simulator) generateRoutine(id string, npc *worldstate.NPCState) *Activity {
	hour := s.world.WorldTime.Hours
	var options []struct{ activityType, description string }
	switch {
	case hour >= 6 && hour < 12:
		options = []struct{ activityType, description string }{
			{"work", "正在工作"}, {"gather", "正在收集资源"}, {"patrol", "正在巡逻"},
		}
	case hour >= 12 && hour < 18:
		options = []struct{ activityType, description string }{
			{"work", "正在工作"}, {"trade", "正在交易"}, {"rest", "正在休息"},
		}
	default:
		options = []struct{ activityType, description string }{
			{"rest", "正在休息"}, {"socialize", "正在社交"}, {"guard", "正在守夜"},
		}
	}
	choice := options[s.rng.Intn(len(options))]
	return &Activity{
		NPCID:        id,
		ActivityType: choice.activityType,
		Timestamp:    s.now(),
		Description:  fmt.Sprintf("%s %s", npc.Name, choice.description),
	}
}

func (s *Simulator) applyNPCActivity(ctx context.Context, activity Activity, npc *worldstate.NPCState) {
	switch activity.ActivityType {
	case "move":
		if activity.ToLocation != "" {
			s.world.MoveNPC(activity.NPCID, activity.ToLocation)
		}
	case "social":
		for _, targetID := range activity.Affected {
			current := s.world.GetNPCRelationship(activity.NPCID, targetID)
			change := s.rng.Intn(16) - 5 // -5..10 inclusive
			s.world.SetNPCRelationship(activity.NPCID, targetID, current+change)
		}
	}
	npc.CurrentAction = activity.ActivityType

	_, _ = s.log.Emit(ctx, eventlog.Custom, "npc_"+activity.NPCID, npc.CurrentLocation,
		map[string]interface{}{"activity": activity.ActivityType, "description": activity.Description},
		[]string{"npc", "simulation", activity.ActivityType}, eventlog.Low, nil)
}

func (s *Simulator) simulateWorldEvents(ctx context.Context) []WorldEvent {
	crisis := int(s.world.CrisisLevel)
	chance := s.config.EventBaseChance + float64(crisis)*s.config.CrisisEventBonus
	if s.rng.Float64() >= chance {
		return nil
	}

	event := s.generateRandomEvent(crisis)
	if event == nil {
		return nil
	}
	s.applyWorldEvent(ctx, *event)
	return []WorldEvent{*event}
}

func (s *Simulator) generateRandomEvent(crisis int) *WorldEvent {
	categories := []EventCategory{CategoryNatural, CategoryPolitical, CategoryEconomic, CategorySocial, CategoryMystical, CategoryCrisis}
	weights := []float64{
		30 - float64(crisis)*3,
		15,
		15,
		20,
		5 + float64(crisis)*2,
		5 + float64(crisis)*4,
	}
	category := weightedChoice(s.rng, categories, weights)

	templates := eventTemplates[category]
	if len(templates) == 0 {
		return nil
	}
	template := templates[s.rng.Intn(len(templates))]

	discovered := s.world.DiscoveredRegionIDs()
	var affected []string
	if len(discovered) > 0 {
		n := min(3, len(discovered))
		if n > 1 {
			n = 1 + s.rng.Intn(n)
		}
		shuffled := append([]string(nil), discovered...)
		s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		affected = shuffled[:n]
	}

	return &WorldEvent{
		EventID:         fmt.Sprintf("we_%d_%d", s.now().Unix(), s.rng.Intn(9000)+1000),
		Category:        category,
		Name:            template.name,
		Description:     template.description,
		Timestamp:       s.now(),
		DurationMinutes: template.duration,
		AffectedRegions: affected,
		CrisisChange:    template.crisisChange,
		Narrative:       template.narrative,
	}
}

func (s *Simulator) applyWorldEvent(ctx context.Context, event WorldEvent) {
	if event.CrisisChange != 0 {
		s.world.SetCrisisLevel(s.world.CrisisLevel + worldstate.CrisisLevel(event.CrisisChange))
	}
	for _, regionID := range event.AffectedRegions {
		if event.CrisisChange > 0 {
			s.world.AdjustRegionDangerLevel(regionID, 1)
		} else if event.CrisisChange < 0 {
			s.world.AdjustRegionDangerLevel(regionID, -1)
		}
	}

	location := "unknown"
	if len(event.AffectedRegions) > 0 {
		location = event.AffectedRegions[0]
	}
	_, _ = s.log.Emit(ctx, eventlog.WorldEvent, "world_simulator", location,
		map[string]interface{}{
			"event_id":      event.EventID,
			"category":      string(event.Category),
			"name":          event.Name,
			"description":   event.Description,
			"crisis_change": event.CrisisChange,
			"narrative":     event.Narrative,
		},
		[]string{"world_event", "simulation", string(event.Category)}, eventlog.High, nil)
}

func (s *Simulator) adjustCrisisLevel() {
	current := s.world.CrisisLevel

	if current > worldstate.CrisisCalm {
		decayChance := s.config.CrisisNaturalDecay * float64(int(worldstate.CrisisEmergency)-int(current)+1)
		if s.rng.Float64() < decayChance {
			s.world.SetCrisisLevel(current - 1)
		}
	}

	if current < worldstate.CrisisEmergency {
		if s.rng.Float64() < s.config.CrisisEscalationChance {
			s.world.SetCrisisLevel(current + 1)
		}
	}
}

func (s *Simulator) trimHistory() {
	if len(s.recentActivities) > maxHistory {
		s.recentActivities = s.recentActivities[len(s.recentActivities)-maxHistory:]
	}
	if len(s.recentEvents) > maxHistory {
		s.recentEvents = s.recentEvents[len(s.recentEvents)-maxHistory:]
	}
}

// OnPlayerIdle switches to the QUIET phase and fast-forwards the world in
// 30-minute ticks, capped at 24 hours of idle time.
func (s *Simulator) OnPlayerIdle(ctx context.Context, idleMinutes int) []WorldEvent {
	s.phase = PhaseQuiet

	maxSim := idleMinutes
	if maxSim > 24*60 {
		maxSim = 24 * 60
	}

	var events []WorldEvent
	for i := 0; i < maxSim/30; i++ {
		events = append(events, s.SimulateTick(ctx, 30)...)
	}
	return events
}

// OnPlayerReturn switches back to ACTIVE and renders a narrative summary
// of what happened while the player was away.
func (s *Simulator) OnPlayerReturn() string {
	s.phase = PhaseActive
	return s.RecentNarrative() +
		fmt.Sprintf("\n⏰ 时间已经流逝，现在是 %s", s.world.WorldTime.String()) +
		fmt.Sprintf("\n⚠️ 当前危机等级: %s", s.world.CrisisLevel.Name())
}

// RecentNarrative renders up to the last five world events and five NPC
// activities as a narration-context block.
func (s *Simulator) RecentNarrative() string {
	var lines []string
	lines = append(lines, "【世界动态】")

	if len(s.recentEvents) > 0 {
		lines = append(lines, "🌍 近期世界事件:")
		for _, e := range lastN(s.recentEvents, 5) {
			lines = append(lines, fmt.Sprintf("  [%s] %s: %s", e.Timestamp.Format("15:04"), e.Name, e.Description))
		}
	}

	if len(s.recentActivities) > 0 {
		lines = append(lines, "", "👥 近期NPC活动:")
		for _, a := range lastN(s.recentActivities, 5) {
			if npc := s.world.GetNPC(a.NPCID); npc != nil {
				lines = append(lines, fmt.Sprintf("  %s - %s", npc.Name, a.Description))
			}
		}
	}

	if len(lines) <= 1 {
		return ""
	}
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

// Summary is a compact snapshot of the simulator's internal state.
type Summary struct {
	TickCount     int
	Phase         Phase
	RecentCount   int
	RecentEvents  int
	WorldTime     string
	CrisisLevel   string
}

func (s *Simulator) GetSummary() Summary {
	return Summary{
		TickCount:    s.tickCount,
		Phase:        s.phase,
		RecentCount:  len(s.recentActivities),
		RecentEvents: len(s.recentEvents),
		WorldTime:    s.world.WorldTime.String(),
		CrisisLevel:  s.world.CrisisLevel.Name(),
	}
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func weightedChoice[T any](rng *rand.Rand, options []T, weights []float64) T {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return options[i]
		}
	}
	return options[len(options)-1]
}
