// Package worldstate holds the world's global clock and crisis level plus
// the per-id registries for regions, NPCs, and quests. It is the
// in-process source of truth during a turn; Save/Load move it to and from
// the key/value store between sessions.
package worldstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

// Weather is the closed set of weather conditions a region can report.
type Weather string

const (
	WeatherClear   Weather = "clear"
	WeatherCloudy  Weather = "cloudy"
	WeatherRain    Weather = "rain"
	WeatherStorm   Weather = "storm"
	WeatherSnow    Weather = "snow"
	WeatherFog     Weather = "fog"
	WeatherHaunted Weather = "haunted"
)

// CrisisLevel is the world's global threat ordinal, 0 (calm) to 5
// (emergency).
type CrisisLevel int

const (
	CrisisCalm CrisisLevel = iota
	CrisisLow
	CrisisMedium
	CrisisHigh
	CrisisCritical
	CrisisEmergency
)

func (c CrisisLevel) clamp() CrisisLevel {
	if c < CrisisCalm {
		return CrisisCalm
	}
	if c > CrisisEmergency {
		return CrisisEmergency
	}
	return c
}

// Name returns the crisis level's upper-case identifier, e.g. "HIGH".
func (c CrisisLevel) Name() string { return c.name() }

func (c CrisisLevel) name() string {
	switch c {
	case CrisisCalm:
		return "CALM"
	case CrisisLow:
		return "LOW"
	case CrisisMedium:
		return "MEDIUM"
	case CrisisHigh:
		return "HIGH"
	case CrisisCritical:
		return "CRITICAL"
	case CrisisEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

var crisisDescriptions = map[CrisisLevel]string{
	CrisisCalm:      "世界平静，没有异常迹象",
	CrisisLow:       "有些不寻常的传闻，但基本安全",
	CrisisMedium:    "危机正在酝酿，各地出现异常",
	CrisisHigh:      "危机已经显现，危险在增加",
	CrisisCritical:  "世界处于崩溃边缘，非常危险",
	CrisisEmergency: "紧急情况！需要立即行动",
}

// WorldTime is a day/hour/minute clock tracked internally as a single
// minute counter, so advancing it is always a cheap integer add followed
// by a re-derive.
type WorldTime struct {
	Days         int `json:"days"`
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	TotalMinutes int `json:"total_minutes"`
}

// NewWorldTime builds a clock starting at day 0, 08:00.
func NewWorldTime() WorldTime {
	t := WorldTime{Hours: 8}
	t.TotalMinutes = t.Hours * 60
	return t
}

// Advance moves the clock forward by the given number of minutes and
// re-derives days/hours/minutes from the running total.
func (t *WorldTime) Advance(minutes int) {
	t.TotalMinutes += minutes
	t.Days = t.TotalMinutes / (24 * 60)
	remaining := t.TotalMinutes % (24 * 60)
	t.Hours = remaining / 60
	t.Minutes = remaining % 60
}

// PeriodOfDay buckets the current hour into one of the seven named
// day-parts the narrator vocabulary uses.
func (t WorldTime) PeriodOfDay() string {
	switch {
	case t.Hours >= 5 && t.Hours < 8:
		return "黎明"
	case t.Hours >= 8 && t.Hours < 12:
		return "早晨"
	case t.Hours >= 12 && t.Hours < 14:
		return "正午"
	case t.Hours >= 14 && t.Hours < 17:
		return "下午"
	case t.Hours >= 17 && t.Hours < 20:
		return "傍晚"
	case t.Hours >= 20 && t.Hours < 23:
		return "夜晚"
	default:
		return "深夜"
	}
}

// IsDay reports whether the clock falls in the 06:00-20:00 daylight band.
func (t WorldTime) IsDay() bool { return t.Hours >= 6 && t.Hours < 20 }

// IsNight is the complement of IsDay.
func (t WorldTime) IsNight() bool { return !t.IsDay() }

// String renders "第<day>天 HH:MM (<period>)".
func (t WorldTime) String() string {
	return sprintfDay(t.Days, t.Hours, t.Minutes, t.PeriodOfDay())
}

// RegionState is the mutable, per-region play state layered on top of the
// static map graph node.
type RegionState struct {
	RegionID        string                 `json:"region_id"`
	Name            string                 `json:"name"`
	Weather         Weather                `json:"weather"`
	DangerLevel     int                    `json:"danger_level"`
	NPCCount        int                    `json:"npc_count"`
	SpecialStatus   map[string]interface{} `json:"special_status"`
	Discovered      bool                   `json:"discovered"`
	FullyExplored   bool                   `json:"fully_explored"`
	DiscoveryPoints []string               `json:"discovery_points"`
	LastUpdated     float64                `json:"last_updated"`
}

// NPCState is the mutable play state of one non-player character.
type NPCState struct {
	NPCID           string         `json:"npc_id"`
	Name            string         `json:"name"`
	CurrentLocation string         `json:"current_location"`
	HomeLocation    string         `json:"home_location"`
	Relationships   map[string]int `json:"relationships"`
	Alive           bool           `json:"alive"`
	Health          int            `json:"health"`
	Mood            string         `json:"mood"`
	Available       bool           `json:"available"`
	CurrentAction   string         `json:"current_action"`
	ActiveQuests    []string       `json:"active_quests"`
	LastInteracted  float64        `json:"last_interacted"`
}

// QuestStatus is the closed set of lifecycle stages a quest can occupy.
// The only valid transitions are available->active, active->completed,
// active->failed and active->abandoned; every other edge is rejected by the
// mutator methods.
type QuestStatus string

const (
	QuestAvailable QuestStatus = "available"
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
	QuestAbandoned QuestStatus = "abandoned"
)

// QuestState is the mutable progress record for one quest.
type QuestState struct {
	QuestID             string          `json:"quest_id"`
	Name                string          `json:"name"`
	Description         string          `json:"description"`
	Stage               int             `json:"stage"`
	MaxStage            int             `json:"max_stage"`
	Status              QuestStatus     `json:"status"`
	Progress            int             `json:"progress"`
	MaxProgress         int             `json:"max_progress"`
	Objectives          map[string]bool `json:"objectives"`
	CompletedObjectives []string        `json:"completed_objectives"`
	AcceptedTime        *float64        `json:"accepted_time,omitempty"`
	CompletedTime       *float64        `json:"completed_time,omitempty"`
	GiverNPCID          string          `json:"giver_npc_id,omitempty"`
	TargetLocation      string          `json:"target_location,omitempty"`
}

const (
	keyRootFmt    = "rpg:world_state:%s"
	regionsSuffix = ":regions"
	npcsSuffix    = ":npcs"
	questsSuffix  = ":quests"
	globalSuffix  = ":global"
)

type globalSnapshot struct {
	Time      WorldTime              `json:"time"`
	Crisis    CrisisLevel             `json:"crisis_level"`
	Flags     map[string]bool         `json:"flags"`
	Variables map[string]interface{} `json:"variables"`
}

// Manager owns the in-memory world state for a single session and
// persists it to the key/value store on demand.
type Manager struct {
	sessionID string
	store     kv.Store
	ttl       time.Duration

	WorldTime     WorldTime
	CrisisLevel   CrisisLevel
	GlobalFlags   map[string]bool
	GlobalVars    map[string]interface{}

	regions map[string]*RegionState
	npcs    map[string]*NPCState
	quests  map[string]*QuestState

	now func() time.Time
}

// New builds a Manager with a fresh world clock at CrisisCalm.
func New(sessionID string, store kv.Store, ttl time.Duration) *Manager {
	return &Manager{
		sessionID:   sessionID,
		store:       store,
		ttl:         ttl,
		WorldTime:   NewWorldTime(),
		CrisisLevel: CrisisCalm,
		GlobalFlags: map[string]bool{},
		GlobalVars:  map[string]interface{}{},
		regions:     map[string]*RegionState{},
		npcs:        map[string]*NPCState{},
		quests:      map[string]*QuestState{},
		now:         time.Now,
	}
}

func (m *Manager) nowSeconds() float64 { return float64(m.now().UnixNano()) / 1e9 }

func (m *Manager) keyRoot() string    { return sprintfKey(keyRootFmt, m.sessionID) }
func (m *Manager) keyGlobal() string  { return m.keyRoot() + globalSuffix }
func (m *Manager) keyRegion(id string) string { return m.keyRoot() + regionsSuffix + ":" + id }
func (m *Manager) keyNPC(id string) string    { return m.keyRoot() + npcsSuffix + ":" + id }
func (m *Manager) keyQuest(id string) string  { return m.keyRoot() + questsSuffix + ":" + id }

// AdvanceTime moves the world clock forward.
func (m *Manager) AdvanceTime(minutes int) { m.WorldTime.Advance(minutes) }

// SetCrisisLevel clamps and applies a new crisis level.
func (m *Manager) SetCrisisLevel(level CrisisLevel) { m.CrisisLevel = level.clamp() }

// RegisterRegion creates (or returns the existing) RegionState for an id.
func (m *Manager) RegisterRegion(id, name string) *RegionState {
	if r, ok := m.regions[id]; ok {
		return r
	}
	r := &RegionState{
		RegionID:    id,
		Name:        name,
		Weather:     WeatherClear,
		DangerLevel: 1,
		LastUpdated: m.nowSeconds(),
	}
	m.regions[id] = r
	return r
}

// GetRegion returns a region's state, or nil if unregistered.
func (m *Manager) GetRegion(id string) *RegionState { return m.regions[id] }

// DiscoverRegion marks a region as discovered, if registered.
func (m *Manager) DiscoverRegion(id string) {
	if r, ok := m.regions[id]; ok {
		r.Discovered = true
	}
}

// SetRegionDangerLevel clamps and applies a region's danger level (1-5).
func (m *Manager) SetRegionDangerLevel(id string, level int) {
	r, ok := m.regions[id]
	if !ok {
		return
	}
	r.DangerLevel = clampInt(level, 1, 5)
}

// AdjustRegionDangerLevel shifts a region's danger level by delta, clamped
// to [1, 5].
func (m *Manager) AdjustRegionDangerLevel(id string, delta int) {
	r, ok := m.regions[id]
	if !ok {
		return
	}
	r.DangerLevel = clampInt(r.DangerLevel+delta, 1, 5)
}

// SetRegionWeather applies a new weather reading to a region.
func (m *Manager) SetRegionWeather(id string, weather Weather) {
	if r, ok := m.regions[id]; ok {
		r.Weather = weather
	}
}

// Regions returns the live region registry. Callers must not mutate the
// map itself; mutate through the Manager's methods instead.
func (m *Manager) Regions() map[string]*RegionState { return m.regions }

// NPCs returns the live NPC registry. Callers must not mutate the map
// itself; mutate through the Manager's methods instead.
func (m *Manager) NPCs() map[string]*NPCState { return m.npcs }

// DiscoveredRegionIDs returns the ids of every region currently marked
// discovered.
func (m *Manager) DiscoveredRegionIDs() []string {
	var ids []string
	for id, r := range m.regions {
		if r.Discovered {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetNPCRelationship returns npc's recorded relationship value toward
// target, defaulting to 0 if unset.
func (m *Manager) GetNPCRelationship(id, targetID string) int {
	n, ok := m.npcs[id]
	if !ok {
		return 0
	}
	return n.Relationships[targetID]
}

// RegisterNPC creates (or returns the existing) NPCState at a location.
func (m *Manager) RegisterNPC(id, name, location string) *NPCState {
	if n, ok := m.npcs[id]; ok {
		return n
	}
	n := &NPCState{
		NPCID:           id,
		Name:            name,
		CurrentLocation: location,
		HomeLocation:    location,
		Relationships:   map[string]int{},
		Alive:           true,
		Health:          100,
		Mood:            "neutral",
		Available:       true,
		CurrentAction:   "idle",
		LastInteracted:  m.nowSeconds(),
	}
	m.npcs[id] = n
	return n
}

// GetNPC returns an NPC's state, or nil if unregistered.
func (m *Manager) GetNPC(id string) *NPCState { return m.npcs[id] }

// MoveNPC relocates a living NPC; it is a no-op (returns false) for a dead
// or unregistered NPC.
func (m *Manager) MoveNPC(id, newLocation string) bool {
	n, ok := m.npcs[id]
	if !ok || !n.Alive {
		return false
	}
	n.CurrentLocation = newLocation
	return true
}

// SetNPCRelationship clamps and records npc's relationship value toward
// target, in [-100, 100].
func (m *Manager) SetNPCRelationship(id, targetID string, value int) {
	n, ok := m.npcs[id]
	if !ok {
		return
	}
	n.Relationships[targetID] = clampInt(value, -100, 100)
}

// KillNPC marks an NPC dead, zeroes health, and makes it unavailable.
func (m *Manager) KillNPC(id string) {
	n, ok := m.npcs[id]
	if !ok {
		return
	}
	n.Alive = false
	n.Health = 0
	n.Available = false
}

// RegisterQuest creates (or returns the existing) QuestState.
func (m *Manager) RegisterQuest(id, name, description string) *QuestState {
	if q, ok := m.quests[id]; ok {
		return q
	}
	q := &QuestState{
		QuestID:      id,
		Name:         name,
		Description:  description,
		MaxStage:     1,
		Status:       QuestAvailable,
		MaxProgress:  100,
		Objectives:   map[string]bool{},
	}
	m.quests[id] = q
	return q
}

// GetQuest returns a quest's state, or nil if unregistered.
func (m *Manager) GetQuest(id string) *QuestState { return m.quests[id] }

// AcceptQuest transitions available->active. Any other current status is
// rejected (returns false) rather than silently coerced.
func (m *Manager) AcceptQuest(id string) bool {
	q, ok := m.quests[id]
	if !ok || q.Status != QuestAvailable {
		return false
	}
	q.Status = QuestActive
	t := m.nowSeconds()
	q.AcceptedTime = &t
	return true
}

// CompleteQuest transitions active->completed.
func (m *Manager) CompleteQuest(id string) bool {
	q, ok := m.quests[id]
	if !ok || q.Status != QuestActive {
		return false
	}
	q.Status = QuestCompleted
	t := m.nowSeconds()
	q.CompletedTime = &t
	return true
}

// FailQuest transitions active->failed.
func (m *Manager) FailQuest(id string) bool {
	q, ok := m.quests[id]
	if !ok || q.Status != QuestActive {
		return false
	}
	q.Status = QuestFailed
	return true
}

// AbandonQuest transitions active->abandoned.
func (m *Manager) AbandonQuest(id string) bool {
	q, ok := m.quests[id]
	if !ok || q.Status != QuestActive {
		return false
	}
	q.Status = QuestAbandoned
	return true
}

// UpdateQuestProgress clamps and applies a quest's progress counter.
func (m *Manager) UpdateQuestProgress(id string, progress int) {
	q, ok := m.quests[id]
	if !ok {
		return
	}
	q.Progress = clampInt(progress, 0, q.MaxProgress)
}

// GetActiveQuests returns every quest currently in the active status.
func (m *Manager) GetActiveQuests() []*QuestState {
	var out []*QuestState
	for _, q := range m.quests {
		if q.Status == QuestActive {
			out = append(out, q)
		}
	}
	return out
}

// HandleEvent is the world state's subscription to the event log: it
// reacts to the handful of event types that change global or region/quest
// state, and ignores everything else.
func (m *Manager) HandleEvent(e eventlog.Event) {
	switch e.EventType {
	case eventlog.Discovery:
		if target, ok := e.Data["target"].(string); ok && target != "" {
			m.DiscoverRegion(target)
		}

	case eventlog.QuestAccepted:
		if questID, ok := e.Data["quest_id"].(string); ok {
			m.AcceptQuest(questID)
		}

	case eventlog.QuestCompleted:
		if questID, ok := e.Data["quest_id"].(string); ok {
			m.CompleteQuest(questID)
		}
		if m.CrisisLevel > CrisisLow {
			m.SetCrisisLevel(m.CrisisLevel - 1)
		}

	case eventlog.WorldEvent:
		change := 0
		if v, ok := e.Data["crisis_change"].(float64); ok {
			change = int(v)
		}
		m.SetCrisisLevel(m.CrisisLevel + CrisisLevel(change))

	case eventlog.TimePass:
		minutes := 10
		if v, ok := e.Data["minutes"].(float64); ok {
			minutes = int(v)
		}
		m.AdvanceTime(minutes)
	}
}

// GetWorldSummary is a compact machine-readable snapshot for the /world
// command.
type WorldSummary struct {
	Time              string   `json:"time"`
	CrisisLevel       int      `json:"crisis_level"`
	CrisisLevelName   string   `json:"crisis_level_name"`
	RegionsCount      int      `json:"regions_count"`
	DiscoveredRegions int      `json:"discovered_regions"`
	NPCsCount         int      `json:"npcs_count"`
	AliveNPCs         int      `json:"alive_npcs"`
	QuestsCount       int      `json:"quests_count"`
	ActiveQuests      int      `json:"active_quests"`
	GlobalFlags       []string `json:"global_flags"`
}

func (m *Manager) GetWorldSummary() WorldSummary {
	discovered := 0
	for _, r := range m.regions {
		if r.Discovered {
			discovered++
		}
	}
	alive := 0
	for _, n := range m.npcs {
		if n.Alive {
			alive++
		}
	}
	flags := make([]string, 0, len(m.GlobalFlags))
	for k := range m.GlobalFlags {
		flags = append(flags, k)
	}
	return WorldSummary{
		Time:              m.WorldTime.String(),
		CrisisLevel:       int(m.CrisisLevel),
		CrisisLevelName:   m.CrisisLevel.name(),
		RegionsCount:      len(m.regions),
		DiscoveredRegions: discovered,
		NPCsCount:         len(m.npcs),
		AliveNPCs:         alive,
		QuestsCount:       len(m.quests),
		ActiveQuests:      len(m.GetActiveQuests()),
		GlobalFlags:       flags,
	}
}

// LocationSummary is the per-location view the narrator stage reads
// before describing a scene.
type LocationSummary struct {
	Location        string   `json:"location"`
	Weather         Weather  `json:"weather"`
	DangerLevel     int      `json:"danger_level"`
	Discovered      bool     `json:"discovered"`
	NPCsPresent     []string `json:"npcs_present"`
	AvailableQuests int      `json:"available_quests"`
}

// GetLocationSummary returns the zero-value LocationSummary if the
// location was never registered as a region.
func (m *Manager) GetLocationSummary(location string) LocationSummary {
	region, ok := m.regions[location]
	if !ok {
		return LocationSummary{}
	}
	var npcsHere []string
	for _, n := range m.npcs {
		if n.CurrentLocation == location && n.Alive {
			npcsHere = append(npcsHere, n.Name)
		}
	}
	available := 0
	for _, q := range m.quests {
		if q.Status == QuestAvailable && q.GiverNPCID != "" {
			if giver, ok := m.npcs[q.GiverNPCID]; ok && giver.CurrentLocation == location {
				available++
			}
		}
	}
	return LocationSummary{
		Location:        region.Name,
		Weather:         region.Weather,
		DangerLevel:     region.DangerLevel,
		Discovered:      region.Discovered,
		NPCsPresent:     npcsHere,
		AvailableQuests: available,
	}
}

// GetContextForLLM renders the world clock and crisis state as narration
// context, matching the reference narrator's prompt block.
func (m *Manager) GetContextForLLM() string {
	lines := []string{
		"【世界状态】",
		"时间: " + m.WorldTime.String(),
		"危机等级: " + m.CrisisLevel.name() + " (" + itoa(int(m.CrisisLevel)) + ")",
		"时段: " + m.WorldTime.PeriodOfDay(),
	}
	if m.WorldTime.IsNight() {
		lines = append(lines, "现在是夜晚，能见度较低")
	}
	lines = append(lines, "")
	lines = append(lines, "局势: "+crisisDescriptions[m.CrisisLevel])
	lines = append(lines, "")
	return joinLines(lines)
}

// Save persists the global snapshot and every registered region/NPC/quest
// as separate key/value entries, mirroring the reference system's
// per-entity key layout.
func (m *Manager) Save(ctx context.Context) error {
	snapshot := globalSnapshot{
		Time:      m.WorldTime,
		Crisis:    m.CrisisLevel,
		Flags:     m.GlobalFlags,
		Variables: m.GlobalVars,
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := m.store.SetEX(ctx, m.keyGlobal(), string(encoded), m.ttl); err != nil {
		return err
	}

	for id, r := range m.regions {
		encoded, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := m.store.SetEX(ctx, m.keyRegion(id), string(encoded), m.ttl); err != nil {
			return err
		}
	}
	for id, n := range m.npcs {
		encoded, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := m.store.SetEX(ctx, m.keyNPC(id), string(encoded), m.ttl); err != nil {
			return err
		}
	}
	for id, q := range m.quests {
		encoded, err := json.Marshal(q)
		if err != nil {
			return err
		}
		if err := m.store.SetEX(ctx, m.keyQuest(id), string(encoded), m.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Load overwrites the in-memory state with whatever is currently persisted;
// registry entries that have no persisted key are kept. A missing global snapshot is not an error: Load simply leaves the
// freshly constructed defaults in place.
func (m *Manager) Load(ctx context.Context) error {
	raw, found, err := m.store.Get(ctx, m.keyGlobal())
	if err != nil {
		return err
	}
	if found {
		var snapshot globalSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return err
		}
		m.WorldTime = snapshot.Time
		m.CrisisLevel = snapshot.Crisis.clamp()
		if snapshot.Flags != nil {
			m.GlobalFlags = snapshot.Flags
		}
		if snapshot.Variables != nil {
			m.GlobalVars = snapshot.Variables
		}
	}

	if err := m.loadRegistry(ctx, m.keyRoot()+regionsSuffix+":*", func(raw string) error {
		var r RegionState
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return err
		}
		m.regions[r.RegionID] = &r
		return nil
	}); err != nil {
		return err
	}

	if err := m.loadRegistry(ctx, m.keyRoot()+npcsSuffix+":*", func(raw string) error {
		var n NPCState
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return err
		}
		m.npcs[n.NPCID] = &n
		return nil
	}); err != nil {
		return err
	}

	return m.loadRegistry(ctx, m.keyRoot()+questsSuffix+":*", func(raw string) error {
		var q QuestState
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return err
		}
		m.quests[q.QuestID] = &q
		return nil
	})
}

func (m *Manager) loadRegistry(ctx context.Context, pattern string, apply func(string) error) error {
	keys, err := m.store.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := apply(raw); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every persisted key under this session's world-state root
// and resets the in-memory registries.
func (m *Manager) Clear(ctx context.Context) error {
	keys, err := m.store.Keys(ctx, m.keyRoot()+"*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := m.store.Del(ctx, keys...); err != nil {
			return err
		}
	}
	m.regions = map[string]*RegionState{}
	m.npcs = map[string]*NPCState{}
	m.quests = map[string]*QuestState{}
	m.GlobalFlags = map[string]bool{}
	m.GlobalVars = map[string]interface{}{}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
