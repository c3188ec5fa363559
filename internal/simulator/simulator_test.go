package simulator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/worldstate"
)

func newDeterministicRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func newTestSimulator(t *testing.T) (*Simulator, *worldstate.Manager) {
	t.Helper()
	store := kv.NewMemoryStore()
	world := worldstate.New("sess-1", store, time.Hour)
	log := eventlog.New("sess-1", store, time.Hour)
	world.RegisterRegion("r1", "Harbor")
	world.DiscoverRegion("r1")
	world.RegisterRegion("r2", "Forest")
	world.DiscoverRegion("r2")
	world.RegisterNPC("npc1", "Old Tom", "r1")
	world.RegisterNPC("npc2", "Young Sue", "r1")
	return New("sess-1", world, log, DefaultConfig()), world
}

func TestSimulateTickAdvancesWorldTime(t *testing.T) {
	sim, world := newTestSimulator(t)
	before := world.WorldTime.TotalMinutes
	sim.SimulateTick(context.Background(), 30)
	if world.WorldTime.TotalMinutes != before+30 {
		t.Fatalf("expected world time to advance by 30 minutes, got %d -> %d", before, world.WorldTime.TotalMinutes)
	}
}

func TestSimulateTickClampsToMaxTickMinutes(t *testing.T) {
	sim, world := newTestSimulator(t)
	before := world.WorldTime.TotalMinutes
	sim.SimulateTick(context.Background(), 10000)
	if world.WorldTime.TotalMinutes != before+sim.config.MaxTickMinutes {
		t.Fatalf("expected tick to clamp to max, got advance of %d", world.WorldTime.TotalMinutes-before)
	}
}

func TestSimulateTickDefaultsMinutesWhenZero(t *testing.T) {
	sim, world := newTestSimulator(t)
	before := world.WorldTime.TotalMinutes
	sim.SimulateTick(context.Background(), 0)
	if world.WorldTime.TotalMinutes != before+sim.config.DefaultTickMinutes {
		t.Fatalf("expected default tick minutes applied, got advance of %d", world.WorldTime.TotalMinutes-before)
	}
}

func TestOnPlayerIdleCapsAt24HoursAndTicksEvery30Minutes(t *testing.T) {
	sim, world := newTestSimulator(t)
	before := world.WorldTime.TotalMinutes
	sim.OnPlayerIdle(context.Background(), 25*60) // over the 24h cap
	advanced := world.WorldTime.TotalMinutes - before
	if advanced != 24*60 {
		t.Fatalf("expected exactly 24h of simulated time, got %d minutes", advanced)
	}
	if sim.phase != PhaseQuiet {
		t.Fatalf("expected QUIET phase during idle simulation, got %v", sim.phase)
	}
}

func TestOnPlayerReturnSwitchesBackToActiveAndIncludesCrisis(t *testing.T) {
	sim, _ := newTestSimulator(t)
	sim.phase = PhaseQuiet
	summary := sim.OnPlayerReturn()
	if sim.phase != PhaseActive {
		t.Fatalf("expected ACTIVE phase after return, got %v", sim.phase)
	}
	if summary == "" {
		t.Fatalf("expected a non-empty return summary")
	}
}

func TestTrimHistoryBoundsBuffersToFifty(t *testing.T) {
	sim, _ := newTestSimulator(t)
	for i := 0; i < 80; i++ {
		sim.recentActivities = append(sim.recentActivities, Activity{NPCID: "npc1", ActivityType: "rest"})
		sim.recentEvents = append(sim.recentEvents, WorldEvent{Name: "x"})
	}
	sim.trimHistory()
	if len(sim.recentActivities) != maxHistory || len(sim.recentEvents) != maxHistory {
		t.Fatalf("expected both buffers trimmed to %d, got %d/%d", maxHistory, len(sim.recentActivities), len(sim.recentEvents))
	}
}

func TestWeightedChoiceRespectsZeroWeightOptions(t *testing.T) {
	rng := newDeterministicRand(0)
	options := []string{"a", "b"}
	// all weight on "b": every draw should return "b"
	for i := 0; i < 20; i++ {
		got := weightedChoice(rng, options, []float64{0, 1})
		if got != "b" {
			t.Fatalf("expected b with zero weight on a, got %s", got)
		}
	}
}
