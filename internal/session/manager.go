// Package session owns the set of live Engines for a running process: one
// Engine per session, each guarded by its own mutex so the turn loop stays
// single-writer while a companion goroutine advances the world clock
// between turns.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/llmgateway"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/runtime"
)

// ErrNotFound is returned when a session id has no live Engine.
var ErrNotFound = errors.New("session: not found")

// CompanionTick is how often the background simulator advances the world
// clock for a session that isn't currently mid-turn.
const CompanionTick = 20 * time.Second

// session pairs one Engine with the mutex that serializes its turns and
// the cancel func that stops its companion goroutine.
type session struct {
	mu     sync.Mutex
	engine *runtime.Engine
	cancel context.CancelFunc
}

// Manager holds every live session for this process.
type Manager struct {
	cfg       *config.Config
	logger    zerolog.Logger
	kv        kv.Store
	blob      blob.Store
	gateway   *llmgateway.Gateway

	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds a Manager. gateway may be nil, in which case every session
// runs in the offline-narration fallback mode.
func New(cfg *config.Config, logger zerolog.Logger, kvStore kv.Store, blobStore blob.Store, gateway *llmgateway.Gateway) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		kv:       kvStore,
		blob:     blobStore,
		gateway:  gateway,
		sessions: make(map[string]*session),
	}
}

// CreateResult is returned by Create: the new session id and the response
// to the implicit first look around the starting location.
type CreateResult struct {
	SessionID string
	Response  string
}

// Create starts a brand-new session rooted at startLocationID, runs
// InitializePlayer, and launches its companion simulator goroutine.
func (m *Manager) Create(ctx context.Context, playerID, startLocationID string, tags []string) (*CreateResult, error) {
	sessionID := uuid.NewString()
	eng := runtime.New(sessionID, playerID, m.cfg, m.logger, m.kv, m.blob, m.gateway)

	if err := eng.InitializePlayer(ctx, startLocationID, tags); err != nil {
		return nil, err
	}

	s := &session{engine: eng}
	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.startCompanion(sessionID, s)

	response, err := eng.Step(ctx, "/look")
	if err != nil {
		return nil, err
	}
	return &CreateResult{SessionID: sessionID, Response: response}, nil
}

// Step runs one turn of an existing session. Turns on the same session
// never overlap: a second caller blocks on the session's mutex until the
// first Step returns.
func (m *Manager) Step(ctx context.Context, sessionID, userInput string) (string, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Step(ctx, userInput)
}

// Save archives the session's conversation, player state, and world
// state.
func (m *Manager) Save(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SaveGame(ctx)
}

// Load restores the session from its last archive.
func (m *Manager) Load(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.LoadGame(ctx)
}

// Close stops a session's companion goroutine and drops it from the
// manager. It does not archive the session; call Save first if that's
// wanted.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// CloseAll stops every session's companion goroutine, for process
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// startCompanion launches the background goroutine that advances the
// world clock for a session between player turns. It takes the session's
// mutex for the duration of each tick so it never races a Step call.
func (m *Manager) startCompanion(sessionID string, s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(CompanionTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				events := s.engine.Simulator.SimulateTick(ctx, 0)
				s.mu.Unlock()
				if len(events) > 0 {
					m.logger.Debug().Str("session_id", sessionID).Int("events", len(events)).Msg("companion tick produced world events")
				}
			}
		}
	}()
}
