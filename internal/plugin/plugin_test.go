package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestHost() *Host {
	return New(zerolog.Nop())
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	h := newTestHost()
	p := &Plugin{Metadata: Metadata{Name: "magic"}}
	if err := h.Register(p); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := h.Register(&Plugin{Metadata: Metadata{Name: "magic"}}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestLoadMarksLoadedAndEnablesPlugin(t *testing.T) {
	h := newTestHost()
	loaded := false
	p := &Plugin{
		Metadata: Metadata{Name: "magic"},
		OnLoad: func(ctx context.Context, engine Engine) error {
			loaded = true
			return nil
		},
	}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Load(context.Background(), "magic", nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded {
		t.Fatalf("expected OnLoad to run")
	}
	if p.Lifecycle() != Loaded {
		t.Fatalf("expected LOADED, got %v", p.Lifecycle())
	}
	if len(h.enabledPlugins()) != 1 {
		t.Fatalf("expected plugin in enabled set")
	}
}

func TestLoadFailureMarksErrorAndLeavesDisabled(t *testing.T) {
	h := newTestHost()
	p := &Plugin{
		Metadata: Metadata{Name: "broken"},
		OnLoad: func(ctx context.Context, engine Engine) error {
			return errors.New("boom")
		},
	}
	h.Register(p)
	if err := h.Load(context.Background(), "broken", nil); err == nil {
		t.Fatalf("expected load to fail")
	}
	if p.Lifecycle() != Error {
		t.Fatalf("expected ERROR lifecycle, got %v", p.Lifecycle())
	}
	if len(h.enabledPlugins()) != 0 {
		t.Fatalf("expected plugin to remain disabled after failed load")
	}
}

func TestLoadIsIdempotentWhenAlreadyLoaded(t *testing.T) {
	h := newTestHost()
	calls := 0
	p := &Plugin{
		Metadata: Metadata{Name: "magic"},
		OnLoad: func(ctx context.Context, engine Engine) error {
			calls++
			return nil
		},
	}
	h.Register(p)
	h.Load(context.Background(), "magic", nil)
	if err := h.Load(context.Background(), "magic", nil); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected OnLoad to run once, ran %d times", calls)
	}
}

func TestUnloadReturnsToUnloadedAndDisables(t *testing.T) {
	h := newTestHost()
	unloaded := false
	p := &Plugin{
		Metadata: Metadata{Name: "magic"},
		OnUnload: func(ctx context.Context, engine Engine) error {
			unloaded = true
			return nil
		},
	}
	h.Register(p)
	h.Load(context.Background(), "magic", nil)
	if err := h.Unload(context.Background(), "magic", nil); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if !unloaded {
		t.Fatalf("expected OnUnload to run")
	}
	if p.Lifecycle() != Unloaded {
		t.Fatalf("expected UNLOADED, got %v", p.Lifecycle())
	}
	if len(h.enabledPlugins()) != 0 {
		t.Fatalf("expected plugin removed from enabled set")
	}
}

func TestUnloadOnNonLoadedPluginFails(t *testing.T) {
	h := newTestHost()
	h.Register(&Plugin{Metadata: Metadata{Name: "magic"}})
	if err := h.Unload(context.Background(), "magic", nil); err == nil {
		t.Fatalf("expected unload of a never-loaded plugin to fail")
	}
}

func TestInvokeTurnStartBroadcastsToAllEnabledPlugins(t *testing.T) {
	h := newTestHost()
	var seenA, seenB int
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Hooks: Hooks{OnTurnStart: func(turn int) { seenA = turn }}}
	pb := &Plugin{Metadata: Metadata{Name: "b"}, Hooks: Hooks{OnTurnStart: func(turn int) { seenB = turn }}}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	h.InvokeTurnStart(7)
	if seenA != 7 || seenB != 7 {
		t.Fatalf("expected both plugins to observe turn 7, got a=%d b=%d", seenA, seenB)
	}
}

func TestInvokeTurnStartSwallowsPanicsAndContinues(t *testing.T) {
	h := newTestHost()
	ranB := false
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Hooks: Hooks{OnTurnStart: func(turn int) { panic("boom") }}}
	pb := &Plugin{Metadata: Metadata{Name: "b"}, Hooks: Hooks{OnTurnStart: func(turn int) { ranB = true }}}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	h.InvokeTurnStart(1)
	if !ranB {
		t.Fatalf("expected plugin b to still run after plugin a panicked")
	}
}

func TestInvokeBeforeActionStopsAtFirstHandled(t *testing.T) {
	h := newTestHost()
	calledB := false
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Hooks: Hooks{
		OnBeforeAction: func(input string, state map[string]interface{}) (string, bool) {
			return "intercepted", true
		},
	}}
	pb := &Plugin{Metadata: Metadata{Name: "b"}, Hooks: Hooks{
		OnBeforeAction: func(input string, state map[string]interface{}) (string, bool) {
			calledB = true
			return "", false
		},
	}}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	response, handled := h.InvokeBeforeAction("go north", nil)
	if !handled || response != "intercepted" {
		t.Fatalf("expected first plugin's response to win, got %q handled=%v", response, handled)
	}
	if calledB {
		t.Fatalf("expected second plugin to be short-circuited")
	}
}

func TestInvokeBeforeActionFallsThroughWhenNoneHandle(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Hooks: Hooks{
		OnBeforeAction: func(input string, state map[string]interface{}) (string, bool) {
			return "", false
		},
	}}
	h.Register(pa)
	h.Load(context.Background(), "a", nil)

	if _, handled := h.InvokeBeforeAction("go north", nil); handled {
		t.Fatalf("expected no plugin to short-circuit")
	}
}

func TestInvokeSaveChainsDecorationsInEnableOrder(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Hooks: Hooks{
		OnSave: func(data map[string]interface{}) map[string]interface{} {
			data["a"] = true
			return data
		},
	}}
	pb := &Plugin{Metadata: Metadata{Name: "b"}, Hooks: Hooks{
		OnSave: func(data map[string]interface{}) map[string]interface{} {
			data["b"] = true
			return data
		},
	}}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	result := h.InvokeSave(map[string]interface{}{"session_id": "s1"})
	if result["a"] != true || result["b"] != true || result["session_id"] != "s1" {
		t.Fatalf("expected both plugins to decorate the save payload, got %+v", result)
	}
}

func TestCommandHandlerResolvesFirstEnabledOnDuplicateName(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{
		Metadata: Metadata{Name: "a"},
		Commands: []Command{{Name: "cast", Handler: func(ctx context.Context, input string, engine Engine) (string, error) {
			return "a casts", nil
		}}},
	}
	pb := &Plugin{
		Metadata: Metadata{Name: "b"},
		Commands: []Command{{Name: "cast", Handler: func(ctx context.Context, input string, engine Engine) (string, error) {
			return "b casts", nil
		}}},
	}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	cmd, ok := h.CommandHandler("cast")
	if !ok {
		t.Fatalf("expected command to resolve")
	}
	response, err := cmd.Handler(context.Background(), "cast fireball", nil)
	if err != nil || response != "a casts" {
		t.Fatalf("expected first-enabled plugin's handler to win, got %q err=%v", response, err)
	}
}

func TestCommandHandlerMatchesAlias(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{
		Metadata: Metadata{Name: "a"},
		Commands: []Command{{Name: "cast", Aliases: []string{"c"}, Handler: func(ctx context.Context, input string, engine Engine) (string, error) {
			return "cast!", nil
		}}},
	}
	h.Register(pa)
	h.Load(context.Background(), "a", nil)

	if _, ok := h.CommandHandler("c"); !ok {
		t.Fatalf("expected alias lookup to resolve")
	}
}

func TestExecuteToolReturnsErrorEnvelopeOnHandlerFailure(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{
		Metadata: Metadata{Name: "a"},
		Tools: []Tool{{Name: "roll_dice", Handler: func(params map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("bad sides")
		}}},
	}
	h.Register(pa)
	h.Load(context.Background(), "a", nil)

	result, ok := h.ExecuteTool("roll_dice", nil)
	if !ok {
		t.Fatalf("expected tool to be found")
	}
	if result["success"] != false || result["error"] != "bad sides" {
		t.Fatalf("expected error envelope, got %+v", result)
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	h := newTestHost()
	if _, ok := h.ExecuteTool("nonexistent", nil); ok {
		t.Fatalf("expected tool lookup to fail")
	}
}

func TestAllCommandsFirstEnabledWinsOnCollision(t *testing.T) {
	h := newTestHost()
	pa := &Plugin{Metadata: Metadata{Name: "a"}, Commands: []Command{{Name: "cast", Description: "a's cast"}}}
	pb := &Plugin{Metadata: Metadata{Name: "b"}, Commands: []Command{{Name: "cast", Description: "b's cast"}}}
	h.Register(pa)
	h.Register(pb)
	h.Load(context.Background(), "a", nil)
	h.Load(context.Background(), "b", nil)

	all := h.AllCommands()
	if all["cast"].Plugin != "a" {
		t.Fatalf("expected plugin a to win the collision, got %+v", all["cast"])
	}
}
