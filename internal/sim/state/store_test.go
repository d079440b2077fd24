package state

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"nightroad.app/internal/sim/clock"
)

type fixedSource struct {
	ws  WorldState
	err error
}

func (f fixedSource) Template(worldID string) (WorldState, error) {
	if f.err != nil {
		return WorldState{}, f.err
	}
	ws := f.ws
	ws.World.ID = worldID
	ws.World.Stages = append([]Stage(nil), f.ws.World.Stages...)
	return ws, nil
}

func sampleState() WorldState {
	return WorldState{
		Economy: Economy{CurrencyName: "chips", StartStageCost: 5, EnergyMax: 5, EnergyRegenSeconds: 30},
		Player: Player{
			Currency: 10,
			Energy:   5,
			Level:    1,
			Inventory: Inventory{
				Promotions: []Item{{ID: "p1", Name: "Ticket x2", Rarity: RarityEpic, Effect: EffectDoubleReward}},
			},
		},
		World: World{
			CurrentStage: 1,
			Stages: []Stage{
				{ID: 1, Status: StageActive, Chest: ChestNone},
				{ID: 2, Status: StageLocked, Chest: ChestClosed},
			},
			Casino: Casino{Status: CasinoLocked},
		},
		UI: UI{Popup: PopupMissions},
	}
}

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s, err := NewStore(fixedSource{ws: sampleState()}, "world_1", clk)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, clk
}

func TestStore_ResetStampsEnergyClock(t *testing.T) {
	s, clk := newTestStore(t)
	got := s.State()
	if !got.Player.EnergyUpdatedAt.Equal(clk.Now()) {
		t.Fatalf("energyUpdatedAt=%v want %v", got.Player.EnergyUpdatedAt, clk.Now())
	}
	if got.World.ID != "world_1" {
		t.Fatalf("world id=%q", got.World.ID)
	}
	if got.Player.Inventory.Rewards == nil || got.Missions.Active == nil || got.UI.Toasts == nil {
		t.Fatalf("expected normalized empty lists, got %+v", got)
	}
}

func TestStore_ApplyPatchMergesAndKeepsOldSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	before := s.State()

	next, err := s.ApplyPatch(Patch{
		Player: &PlayerPatch{Currency: Ptr(3)},
		World:  &WorldPatch{Stages: List([]Stage{{ID: 1, Status: StageCompleted, Chest: ChestClosed}})},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if next.Player.Currency != 3 || next.Player.Energy != 5 {
		t.Fatalf("player not merged: %+v", next.Player)
	}
	if len(next.World.Stages) != 1 || next.World.Stages[0].Status != StageCompleted {
		t.Fatalf("stages not replaced: %+v", next.World.Stages)
	}
	if next.World.CurrentStage != 1 || next.World.Casino.Status != CasinoLocked {
		t.Fatalf("untouched world keys changed: %+v", next.World)
	}
	if len(next.Player.Inventory.Promotions) != 1 {
		t.Fatalf("inventory lost: %+v", next.Player.Inventory)
	}
	if before.Player.Currency != 10 || len(before.World.Stages) != 2 {
		t.Fatalf("previous snapshot mutated: %+v", before)
	}
	if s.State().Player.Currency != 3 {
		t.Fatalf("store not updated")
	}
}

func TestStore_PopupNoneClearsThroughNull(t *testing.T) {
	s, _ := newTestStore(t)
	p := Patch{UI: &UIPatch{Popup: Ptr(PopupNone)}}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"ui":{"popup":null}}` {
		t.Fatalf("wire patch=%s", b)
	}

	next, err := s.ApplyPatch(p)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if next.UI.Popup != PopupNone {
		t.Fatalf("popup=%q", next.UI.Popup)
	}
}

func TestStore_EmptiedListEncodesAsEmptyArray(t *testing.T) {
	s, _ := newTestStore(t)
	p := Patch{Player: &PlayerPatch{Inventory: &InventoryPatch{Promotions: List[Item](nil)}}}
	next, err := s.ApplyPatch(p)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if next.Player.Inventory.Promotions == nil || len(next.Player.Inventory.Promotions) != 0 {
		t.Fatalf("promotions=%v", next.Player.Inventory.Promotions)
	}
}

func TestStore_ResetReplacesWholesale(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.ApplyPatch(Patch{Player: &PlayerPatch{Currency: Ptr(99)}}); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, err := s.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got.Player.Currency != 10 || s.State().Player.Currency != 10 {
		t.Fatalf("reset did not restore template currency: %d", got.Player.Currency)
	}
}

func TestStore_TemplateErrorSurfaces(t *testing.T) {
	_, err := NewStore(fixedSource{err: errors.New("boom")}, "world_1", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestStore_ReadersNeverSeePartialState(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ws := s.State()
			// Writers always move currency and energy together.
			if ws.Player.Currency-ws.Player.Energy != 5 {
				t.Errorf("observed torn state: currency=%d energy=%d", ws.Player.Currency, ws.Player.Energy)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := s.ApplyPatch(Patch{Player: &PlayerPatch{Currency: Ptr(10 + i), Energy: Ptr(5 + i)}}); err != nil {
			t.Fatalf("ApplyPatch: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestFull_RoundTripsState(t *testing.T) {
	src := sampleState()
	src.normalize()
	got, err := Apply(WorldState{}, Full(src))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	a, _ := json.Marshal(got)
	b, _ := json.Marshal(src)
	if string(a) != string(b) {
		t.Fatalf("full patch mismatch:\n got %s\nwant %s", a, b)
	}
}
