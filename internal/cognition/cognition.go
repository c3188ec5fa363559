// Package cognition is the hot/cold split for a session's conversation
// history and player state: recent turns and live stats live in the
// key/value store for fast read/write during play, and archive_session /
// load_session move a full snapshot to and from the blob store for
// durable saves.
package cognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

const savePrefix = "saves/"

// currentSchemaVersion is embedded in every archive written by
// ArchiveSession. LoadSession rejects an archive from a newer schema
// version than this process understands; an archive with no version at
// all (schema_version 0) predates versioning and is accepted as-is.
const currentSchemaVersion = 1

// ErrSchemaVersionTooNew is returned by LoadSession when an archive was
// written by a schema version newer than this process understands.
var ErrSchemaVersionTooNew = errors.New("cognition: save schema version is newer than this build supports")

// jsonFields are player-state hash fields that are stored as JSON strings
// and should be decoded back into structured values on read.
var jsonFields = []string{"attributes", "skills", "inventory", "quests", "story_nodes", "tags"}

// intFields are player-state hash fields that are stored as decimal
// strings and should be decoded back into integers on read.
var intFields = []string{"hp", "max_hp", "sanity", "max_sanity", "level", "exp", "gold"}

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SaveMetadata is the descriptive header of one archived save, as
// surfaced by ListSaves.
type SaveMetadata struct {
	SessionID        string      `json:"session_id"`
	Timestamp        string      `json:"timestamp"`
	PlaytimeMinutes  int         `json:"playtime_minutes"`
	Location         string      `json:"location"`
	HP               interface{} `json:"hp"`
	Sanity           interface{} `json:"sanity"`
}

type archive struct {
	SchemaVersion int                    `json:"schema_version"`
	SessionID     string                 `json:"session_id"`
	Metadata      map[string]interface{} `json:"metadata"`
	History       []Message              `json:"history"`
	FinalState    map[string]interface{} `json:"final_state"`
}

// Store manages conversation history, live player state, and save
// archives for one session.
type Store struct {
	sessionID string
	kv        kv.Store
	blob      blob.Store
	ttl       time.Duration

	historyKey string
	stateKey   string
	metaKey    string

	now func() time.Time
}

// New builds a Store for one session.
func New(sessionID string, kvStore kv.Store, blobStore blob.Store, ttl time.Duration) *Store {
	return &Store{
		sessionID:  sessionID,
		kv:         kvStore,
		blob:       blobStore,
		ttl:        ttl,
		historyKey: "rpg:history:" + sessionID,
		stateKey:   "rpg:state:" + sessionID,
		metaKey:    "rpg:meta:" + sessionID,
		now:        time.Now,
	}
}

// AddMessage appends one turn to the session's short-term conversation
// history and refreshes its TTL.
func (s *Store) AddMessage(ctx context.Context, role, content string) error {
	encoded, err := json.Marshal(Message{Role: role, Content: content})
	if err != nil {
		return err
	}
	if err := s.kv.RPush(ctx, s.historyKey, string(encoded)); err != nil {
		return err
	}
	return s.kv.Expire(ctx, s.historyKey, s.ttl)
}

// GetRecentHistory returns the last `limit` messages, oldest first.
func (s *Store) GetRecentHistory(ctx context.Context, limit int) ([]Message, error) {
	raw, err := s.kv.LRange(ctx, s.historyKey, -limit, -1)
	if err != nil {
		return nil, err
	}
	return decodeMessages(raw)
}

// GetAllHistory returns the full conversation history, oldest first.
func (s *Store) GetAllHistory(ctx context.Context) ([]Message, error) {
	raw, err := s.kv.LRange(ctx, s.historyKey, 0, -1)
	if err != nil {
		return nil, err
	}
	return decodeMessages(raw)
}

func decodeMessages(raw []string) ([]Message, error) {
	messages := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// UpdatePlayerState merges the given updates into the live player-state
// hash. Map/slice values are JSON-encoded before storage; scalars are
// stringified; the hash's TTL is refreshed.
func (s *Store) UpdatePlayerState(ctx context.Context, updates map[string]interface{}) error {
	encoded := make(map[string]string, len(updates))
	for k, v := range updates {
		str, err := encodeStateValue(v)
		if err != nil {
			return err
		}
		encoded[k] = str
	}
	if err := s.kv.HSet(ctx, s.stateKey, encoded); err != nil {
		return err
	}
	return s.kv.Expire(ctx, s.stateKey, s.ttl)
}

func encodeStateValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

// GetPlayerState returns the full live player-state hash, with the
// known-JSON fields decoded into structured values and the known-integer
// fields decoded into ints. A field that fails to decode is left as its
// raw string, matching the reference system's best-effort behavior.
func (s *Store) GetPlayerState(ctx context.Context) (map[string]interface{}, error) {
	raw, err := s.kv.HGetAll(ctx, s.stateKey)
	if err != nil {
		return nil, err
	}
	state := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		state[k] = v
	}
	for _, field := range jsonFields {
		v, ok := state[field]
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(str), &decoded); err == nil {
			state[field] = decoded
		}
	}
	for _, field := range intFields {
		v, ok := state[field]
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(str); err == nil {
			state[field] = n
		}
	}
	return state, nil
}

func saveObjectName(sessionID string) string {
	return savePrefix + sessionID + ".json"
}

// ArchiveSession packages history, live state, and metadata into a single
// blob-store object and returns its name. playtime_minutes is bumped by
// one relative to whatever was previously recorded, matching the
// once-per-archive playtime accounting of the reference implementation.
func (s *Store) ArchiveSession(ctx context.Context) (string, error) {
	history, err := s.GetAllHistory(ctx)
	if err != nil {
		return "", err
	}
	finalState, err := s.GetPlayerState(ctx)
	if err != nil {
		return "", err
	}
	metadata, err := s.sessionMetadata(ctx, finalState)
	if err != nil {
		return "", err
	}

	data := archive{
		SchemaVersion: currentSchemaVersion,
		SessionID:     s.sessionID,
		Metadata:      metadata,
		History:       history,
		FinalState:    finalState,
	}

	name := saveObjectName(s.sessionID)
	if err := s.blob.SaveJSON(ctx, name, data); err != nil {
		return "", fmt.Errorf("cognition: archive save failed: %w", err)
	}

	metaEncoded, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, s.metaKey, string(metaEncoded)); err != nil {
		return "", err
	}
	if err := s.kv.Expire(ctx, s.metaKey, s.ttl); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Store) sessionMetadata(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	nowISO := s.now().Format(time.RFC3339)
	location := stateString(state, "location", "Unknown")

	raw, found, err := s.kv.Get(ctx, s.metaKey)
	if err != nil {
		return nil, err
	}
	if found {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			playtime := 0
			if v, ok := metadata["playtime_minutes"].(float64); ok {
				playtime = int(v)
			}
			metadata["timestamp"] = nowISO
			metadata["location"] = location
			metadata["playtime_minutes"] = playtime + 1
			return metadata, nil
		}
	}

	return map[string]interface{}{
		"session_id":       s.sessionID,
		"created_at":       nowISO,
		"timestamp":        nowISO,
		"playtime_minutes": 1,
		"location":         stateString(state, "location", "Start"),
		"hp":               stateOrDefault(state, "hp", 100),
		"sanity":           stateOrDefault(state, "sanity", 100),
	}, nil
}

func stateString(state map[string]interface{}, key, fallback string) string {
	if v, ok := state[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func stateOrDefault(state map[string]interface{}, key string, fallback interface{}) interface{} {
	if v, ok := state[key]; ok {
		return v
	}
	return fallback
}

// ErrSaveNotFound is returned by LoadSession when no archive exists for
// this session.
var ErrSaveNotFound = errors.New("cognition: save not found")

// LoadSession replaces the live history and player state with whatever is
// in the session's archive. Each hot-store key (history, state, metadata)
// is wiped before its archived contents are replayed in, so no single key
// ends up holding a mix of old and new entries; the keys are restored one
// after another, not atomically as a group.
func (s *Store) LoadSession(ctx context.Context) error {
	name := saveObjectName(s.sessionID)
	var data archive
	found, err := s.blob.LoadJSON(ctx, name, &data)
	if err != nil {
		return err
	}
	if !found {
		return ErrSaveNotFound
	}
	if data.SchemaVersion > currentSchemaVersion {
		return ErrSchemaVersionTooNew
	}

	if err := s.kv.Del(ctx, s.historyKey); err != nil {
		return err
	}
	for _, msg := range data.History {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := s.kv.RPush(ctx, s.historyKey, string(encoded)); err != nil {
			return err
		}
	}
	if err := s.kv.Expire(ctx, s.historyKey, s.ttl); err != nil {
		return err
	}

	if err := s.kv.Del(ctx, s.stateKey); err != nil {
		return err
	}
	if len(data.FinalState) > 0 {
		if err := s.UpdatePlayerState(ctx, data.FinalState); err != nil {
			return err
		}
	}

	metaEncoded, err := json.Marshal(data.Metadata)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.metaKey, string(metaEncoded)); err != nil {
		return err
	}
	return s.kv.Expire(ctx, s.metaKey, s.ttl)
}

// ListSaves enumerates every archived save in the blob store's save
// prefix, returning a metadata summary for each.
func ListSaves(ctx context.Context, store blob.Store) ([]SaveMetadata, error) {
	names, err := store.List(ctx, savePrefix)
	if err != nil {
		return nil, err
	}

	saves := make([]SaveMetadata, 0, len(names))
	for _, name := range names {
		var data archive
		found, err := store.LoadJSON(ctx, name, &data)
		if err != nil || !found {
			continue
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(name, savePrefix), ".json")
		saves = append(saves, SaveMetadata{
			SessionID:       metaString(data.Metadata, "session_id", sessionID),
			Timestamp:       metaString(data.Metadata, "timestamp", "Unknown"),
			PlaytimeMinutes: metaInt(data.Metadata, "playtime_minutes", 0),
			Location:        metaString(data.Metadata, "location", "Unknown"),
			HP:              stateOrDefault(data.FinalState, "hp", "N/A"),
			Sanity:          stateOrDefault(data.FinalState, "sanity", "N/A"),
		})
	}
	return saves, nil
}

func metaString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func metaInt(m map[string]interface{}, key string, fallback int) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return fallback
}

// DeleteSave removes this session's archive from the blob store.
func (s *Store) DeleteSave(ctx context.Context) error {
	return s.blob.Delete(ctx, saveObjectName(s.sessionID))
}

// ClearSession wipes this session's hot key/value entries without
// touching any archived save.
func (s *Store) ClearSession(ctx context.Context) error {
	return s.kv.Del(ctx, s.historyKey, s.stateKey, s.metaKey)
}
