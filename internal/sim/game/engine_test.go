package game

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/clock"
	"nightroad.app/internal/sim/state"
	"nightroad.app/internal/sim/tuning"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Publish(msg any) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func (r *recorder) events() []string {
	var names []string
	for _, m := range r.snapshot() {
		if ev, ok := m.(protocol.EventMsg); ok {
			names = append(names, ev.Name)
		}
	}
	return names
}

type memActionLog struct {
	mu      sync.Mutex
	entries []ActionLogEntry
}

func (l *memActionLog) WriteAction(e ActionLogEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

type harness struct {
	eng   *Engine
	store *state.Store
	clk   *clock.Fake
	pub   *recorder
	log   *memActionLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	set := loadWorlds(t)
	clk := clock.NewFake(t0)
	store, err := state.NewStore(set, set.Default(), clk)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := &harness{store: store, clk: clk, pub: &recorder{}, log: &memActionLog{}}
	h.eng, err = NewEngine(Config{
		Store:     store,
		Rules:     NewRules(tuning.Defaults(), rand.New(rand.NewSource(1)), set),
		Publisher: h.pub,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.eng.SetActionLogger(h.log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) submit(t *testing.T, action, payload string) (protocol.ActionResp, error) {
	t.Helper()
	req := protocol.ActionReq{Action: action}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.eng.Submit(ctx, req)
}

func (h *harness) mustSubmit(t *testing.T, action, payload string) protocol.ActionResp {
	t.Helper()
	resp, err := h.submit(t, action, payload)
	if err != nil {
		t.Fatalf("%s: %v", action, err)
	}
	return resp
}

func TestEngine_FullScenario(t *testing.T) {
	h := newHarness(t)

	resp := h.mustSubmit(t, protocol.ActionStartStage, `{"stageId":1}`)
	if !resp.OK {
		t.Fatalf("startStage rejected")
	}
	s := h.store.State()
	if s.Player.Currency != 5 || s.Player.Energy != 4 {
		t.Fatalf("currency=%d energy=%d", s.Player.Currency, s.Player.Energy)
	}

	resp = h.mustSubmit(t, protocol.ActionCompleteStage, `{"stageId":1}`)
	if !resp.OK {
		t.Fatalf("completeStage rejected")
	}
	s = h.store.State()
	if s.World.CurrentStage != 2 {
		t.Fatalf("currentStage=%d", s.World.CurrentStage)
	}
	if gain := s.Player.Currency - 5; gain < 8 || gain > 30 {
		t.Fatalf("gain=%d", gain)
	}

	want := []string{
		protocol.EventEnergySpent, protocol.EventStageStarted,
		protocol.EventStageCompleted, protocol.EventCoinsEarned,
	}
	if got := h.pub.events(); !sameNames(got, want...) {
		t.Fatalf("events=%v", got)
	}
	msgs := h.pub.snapshot()
	if _, ok := msgs[0].(protocol.PatchMsg); !ok {
		t.Fatalf("first message should be the patch, got %T", msgs[0])
	}
}

func TestEngine_ResponseCarriesRulePatch(t *testing.T) {
	h := newHarness(t)
	resp := h.mustSubmit(t, protocol.ActionTogglePopup, `{"target":"inventory"}`)
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"ok":true,"patch":{"ui":{"popup":"inventory"}}}` {
		t.Fatalf("resp=%s", b)
	}
}

func TestEngine_HardErrorLeavesStateAndStreamAlone(t *testing.T) {
	h := newHarness(t)
	h.mustSubmit(t, protocol.ActionStartStage, `{"stageId":1}`)
	before := h.store.State()
	published := len(h.pub.snapshot())

	// Regen is due, but the request is refused as a whole.
	h.clk.Advance(95 * time.Second)
	_, err := h.submit(t, protocol.ActionStartStage, `{"stageId":3}`)
	requireHard(t, err, protocol.ErrInvalidTarget)

	after := h.store.State()
	if after.Player.Energy != before.Player.Energy || len(after.UI.Toasts) != len(before.UI.Toasts) {
		t.Fatalf("state changed on hard error")
	}
	if n := len(h.pub.snapshot()); n != published {
		t.Fatalf("published %d messages on hard error", n-published)
	}

	// The next accepted request collects the pending regen.
	h.mustSubmit(t, protocol.ActionTogglePopup, `{"target":"events"}`)
	s := h.store.State()
	if s.Player.Energy != 5 {
		t.Fatalf("energy=%d want=5", s.Player.Energy)
	}
	if want := t0.Add(30 * time.Second); !s.Player.EnergyUpdatedAt.Equal(want) {
		t.Fatalf("energyUpdatedAt=%s want=%s", s.Player.EnergyUpdatedAt, want)
	}
	evs := h.pub.events()
	if evs[len(evs)-1] != protocol.EventEnergyRegen {
		t.Fatalf("events=%v", evs)
	}
}

func TestEngine_RejectsUnknownAndMalformed(t *testing.T) {
	h := newHarness(t)

	_, err := h.submit(t, "danceParty", "")
	requireHard(t, err, protocol.ErrUnknownAction)
	if err.Error() != "unsupported action: danceParty" {
		t.Fatalf("message=%q", err.Error())
	}

	_, err = h.submit(t, protocol.ActionStartStage, `{}`)
	requireHard(t, err, protocol.ErrBadRequest)

	_, err = h.submit(t, protocol.ActionTogglePopup, `{"target":"shop"}`)
	requireHard(t, err, protocol.ErrBadRequest)

	if st := h.eng.Stats(); st.HardErrors != 3 || st.OK != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestEngine_ConcurrentStartsOnlyOneWins(t *testing.T) {
	h := newHarness(t)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.submit(t, protocol.ActionStartStage, `{"stageId":1}`)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			results <- resp.OK
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("wins=%d want=1", wins)
	}
	s := h.store.State()
	if s.Player.Currency != 5 || s.Player.Energy != 4 {
		t.Fatalf("currency=%d energy=%d", s.Player.Currency, s.Player.Energy)
	}
	if st := h.eng.Stats(); st.OK != 1 || st.Rejected != n-1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestEngine_ResetGame(t *testing.T) {
	h := newHarness(t)
	h.mustSubmit(t, protocol.ActionStartStage, `{"stageId":1}`)
	h.mustSubmit(t, protocol.ActionTogglePopup, `{"target":"missions"}`)
	h.clk.Advance(time.Minute)

	resp := h.mustSubmit(t, protocol.ActionResetGame, "")
	if !resp.OK {
		t.Fatalf("reset rejected")
	}
	s := h.store.State()
	if s.Player.Currency != 10 || s.Player.Energy != 5 || s.World.StageInProgress || s.UI.Popup != state.PopupNone {
		t.Fatalf("state not reset: %+v", s.Player)
	}
	if len(s.UI.Toasts) != 0 {
		t.Fatalf("toasts survived reset: %d", len(s.UI.Toasts))
	}
	if !s.Player.EnergyUpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("energyUpdatedAt=%s", s.Player.EnergyUpdatedAt)
	}

	p, ok := resp.Patch.(state.Patch)
	if !ok || p.World == nil || p.Player == nil || *p.Player.Currency != 10 {
		t.Fatalf("response patch is not the full state: %#v", resp.Patch)
	}

	msgs := h.pub.snapshot()
	last, ok := msgs[len(msgs)-1].(protocol.EventMsg)
	if !ok || last.Name != protocol.EventWorldChanged {
		t.Fatalf("last message=%#v", msgs[len(msgs)-1])
	}
	if d := last.Data.(protocol.WorldChangedData); d.WorldID != "world_1" || !d.Reset {
		t.Fatalf("worldChanged=%+v", d)
	}
}

func TestEngine_ActionLogEntries(t *testing.T) {
	h := newHarness(t)
	h.mustSubmit(t, protocol.ActionStartStage, `{"stageId":1}`)
	h.mustSubmit(t, protocol.ActionStartStage, `{"stageId":1}`)
	_, _ = h.submit(t, protocol.ActionClaimMission, `{"missionId":"ghost"}`)

	h.log.mu.Lock()
	entries := append([]ActionLogEntry(nil), h.log.entries...)
	h.log.mu.Unlock()

	if len(entries) != 3 {
		t.Fatalf("entries=%d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) || e.WorldID != "world_1" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if !entries[0].OK || len(entries[0].Events) != 2 {
		t.Fatalf("first entry=%+v", entries[0])
	}
	if entries[1].OK || entries[1].Code != "" {
		t.Fatalf("soft rejection entry=%+v", entries[1])
	}
	if entries[2].Code != protocol.ErrInvalidTarget || entries[2].Error == "" {
		t.Fatalf("hard error entry=%+v", entries[2])
	}
}

func TestEngine_SubmitHonoursContext(t *testing.T) {
	set := loadWorlds(t)
	store, err := state.NewStore(set, set.Default(), clock.NewFake(t0))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	eng, err := NewEngine(Config{Store: store, Rules: NewRules(tuning.Defaults(), nil, set)})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	// No Run loop: the request is queued but never answered.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = eng.Submit(ctx, protocol.ActionReq{Action: protocol.ActionResetGame})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
