package game

import (
	"fmt"
	"math/rand"
	"time"

	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/state"
	"nightroad.app/internal/sim/tuning"
)

// Worlds is the template collaborator the casino transition reads from.
type Worlds interface {
	Default() string
	Next(id string) (string, bool)
	Template(id string) (state.WorldState, error)
}

// Outcome is what a rule decided. Nothing has been applied yet.
type Outcome struct {
	OK     bool
	Patch  state.Patch
	Events []protocol.EventMsg

	// Reset asks the caller to reload the default world and publish it whole.
	Reset bool
}

func (o *Outcome) emit(name string, data any) {
	o.Events = append(o.Events, protocol.NewEventMsg(name, data))
}

// Rules decides actions against a state snapshot. Rules never mutate state;
// they only advance their own random source and id counter, so a Rules value
// must be used from one goroutine.
type Rules struct {
	tun    tuning.Tuning
	rng    *rand.Rand
	worlds Worlds
	seq    uint64
}

func NewRules(tun tuning.Tuning, rng *rand.Rand, worlds Worlds) *Rules {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Rules{tun: tun, rng: rng, worlds: worlds}
}

func (r *Rules) Tuning() tuning.Tuning { return r.tun }

// Decide runs the rule for req against s.
func (r *Rules) Decide(s state.WorldState, req Request) (Outcome, error) {
	switch req.Action {
	case protocol.ActionStartStage:
		return r.startStage(s, req)
	case protocol.ActionCompleteStage:
		return r.completeStage(s, req)
	case protocol.ActionOpenChest:
		return r.openChest(s, req)
	case protocol.ActionTogglePopup:
		return r.togglePopup(s, req)
	case protocol.ActionClaimMission:
		return r.claimMission(s, req)
	case protocol.ActionEnterCasino:
		return r.enterCasino(s, req)
	case protocol.ActionResetGame:
		return r.resetGame(s, req)
	default:
		return Outcome{}, errUnsupported(req.Action)
	}
}

// Regen computes the passive energy patch for s at now. ok is false when
// nothing was recovered.
func (r *Rules) Regen(s state.WorldState, now time.Time) (out Outcome, ok bool) {
	interval := time.Duration(s.Economy.EnergyRegenSeconds) * time.Second
	last := s.Player.EnergyUpdatedAt
	if last.IsZero() {
		last = now
	}
	recovered, updatedAt := Regen(s.Player.Energy, s.EnergyCap(), interval, last, now)
	if recovered <= 0 {
		return Outcome{}, false
	}
	out = Outcome{
		OK: true,
		Patch: state.Patch{
			Player: &state.PlayerPatch{
				Energy:          state.Ptr(s.Player.Energy + recovered),
				EnergyUpdatedAt: state.Ptr(updatedAt.UTC()),
			},
			UI: r.toast(s, now, catEnergy, fmt.Sprintf("+%d energy", recovered)),
		},
	}
	out.emit(protocol.EventEnergyRegen, protocol.EnergyRegenData{Amount: recovered})
	return out, true
}

// reject is a soft rejection: ok=false and a single toast.
func (r *Rules) reject(s state.WorldState, now time.Time, category, msg string) (Outcome, error) {
	return Outcome{OK: false, Patch: state.Patch{UI: r.toast(s, now, category, msg)}}, nil
}

func (r *Rules) startStage(s state.WorldState, req Request) (Outcome, error) {
	stage, ok := s.FindStage(req.StageID)
	if !ok || stage.ID != s.World.CurrentStage || stage.Status != state.StageActive {
		return Outcome{}, hardf(protocol.ErrInvalidTarget, "only the active stage can be started")
	}
	if s.World.StageInProgress {
		return r.reject(s, req.Now, catNotice, "Stage already in progress")
	}
	energyCost := s.Economy.EnergyCost
	if s.Player.Energy < energyCost {
		return r.reject(s, req.Now, catError, "Not enough energy")
	}

	cost := s.Economy.StartStageCost
	promos, discounted := consume(s.Player.Inventory.Promotions, state.EffectStartDiscount)
	if discounted {
		cost -= r.tun.StartDiscount
		if cost < r.tun.MinStartCost {
			cost = r.tun.MinStartCost
		}
	}
	if s.Player.Currency < cost {
		return r.reject(s, req.Now, catError, fmt.Sprintf("Not enough %s", s.Economy.CurrencyName))
	}

	stages := make([]state.Stage, len(s.World.Stages))
	for i, st := range s.World.Stages {
		st.InProgress = st.ID == stage.ID
		stages[i] = st
	}

	out := Outcome{
		OK: true,
		Patch: state.Patch{
			Player: &state.PlayerPatch{
				Currency:        state.Ptr(s.Player.Currency - cost),
				Energy:          state.Ptr(s.Player.Energy - energyCost),
				EnergyUpdatedAt: state.Ptr(req.Now.UTC()),
				Inventory:       &state.InventoryPatch{Promotions: state.List(promos)},
			},
			World: &state.WorldPatch{
				StageInProgress: state.Ptr(true),
				Stages:          state.List(stages),
			},
			UI: r.toast(s, req.Now, catStart, fmt.Sprintf("Stage %d started (-%d %s)", stage.ID, cost, s.Economy.CurrencyName)),
		},
	}
	out.emit(protocol.EventEnergySpent, protocol.EnergySpentData{Amount: energyCost})
	out.emit(protocol.EventStageStarted, protocol.StageStartedData{StageID: stage.ID, Cost: cost})
	return out, nil
}

func (r *Rules) completeStage(s state.WorldState, req Request) (Outcome, error) {
	current := s.World.CurrentStage
	stage, ok := s.FindStage(req.StageID)
	if !ok || stage.ID != current || stage.Status != state.StageActive {
		return Outcome{}, hardf(protocol.ErrInvalidTarget, "only the active stage can be completed")
	}
	if !s.World.StageInProgress {
		return r.reject(s, req.Now, catNotice, "Start the stage first")
	}

	reward := r.rollReward(s.Economy.StageRewardRange)
	promos, doubled := consume(s.Player.Inventory.Promotions, state.EffectDoubleReward)
	if doubled {
		reward *= r.tun.RewardMultiple
	}
	rewards := append([]state.Item{}, s.Player.Inventory.Rewards...)
	if r.rng.Float64() < r.tun.Drops.RewardItemChance {
		rewards = append(rewards, state.Item{
			ID:     r.nextID("rw", req.Now),
			Name:   fmt.Sprintf("Shiny Token %d", current),
			Rarity: r.rollRarity(),
			Icon:   iconReward,
		})
	}
	if r.rng.Float64() < r.tun.Drops.PromotionChance {
		promos = append(promos, r.ticket(req.Now))
	}

	finalized := current >= r.tun.FinalStage
	next := current + 1
	if finalized {
		next = r.tun.FinalStage
	}

	stages := make([]state.Stage, len(s.World.Stages))
	for i, st := range s.World.Stages {
		switch {
		case st.ID == current:
			st.Status = state.StageCompleted
		case !finalized && st.ID == next:
			st.Status = state.StageActive
		case st.Status == state.StageActive:
			st.Status = state.StageUnlocked
		}
		st.InProgress = false
		stages[i] = st
	}

	casino := s.World.Casino
	if finalized {
		casino.Status = state.CasinoUnlocked
	}

	xp := s.Player.XP + r.tun.XPPerStage
	daily := s.Player.DailyChallenge
	if daily.Progress+1 < daily.Total {
		daily.Progress++
	} else {
		daily.Progress = daily.Total
	}

	missions := make([]state.Mission, len(s.Missions.Active))
	for i, m := range s.Missions.Active {
		m.Progress = current
		if m.Progress > m.Total {
			m.Progress = m.Total
		}
		missions[i] = m
	}

	out := Outcome{
		OK: true,
		Patch: state.Patch{
			Player: &state.PlayerPatch{
				Currency:     state.Ptr(s.Player.Currency + reward),
				XP:           state.Ptr(xp),
				Level:        state.Ptr(r.levelFor(s.Player.Level, xp)),
				CurrentStage: state.Ptr(next),
				Position:     &state.Position{StageID: next},
				Inventory: &state.InventoryPatch{
					Rewards:    state.List(rewards),
					Promotions: state.List(promos),
				},
				DailyChallenge: &daily,
			},
			World: &state.WorldPatch{
				CurrentStage:    state.Ptr(next),
				StageInProgress: state.Ptr(false),
				Stages:          state.List(stages),
				Casino:          &casino,
			},
			Missions: &state.MissionsPatch{Active: state.List(missions)},
			UI:       r.toast(s, req.Now, catReward, fmt.Sprintf("+%d %s for stage %d", reward, s.Economy.CurrencyName, current)),
		},
	}
	out.emit(protocol.EventStageCompleted, protocol.StageCompletedData{StageID: current})
	out.emit(protocol.EventCoinsEarned, protocol.CoinsEarnedData{Amount: reward, FromStage: current})
	if finalized {
		out.emit(protocol.EventCasinoUnlocked, protocol.CasinoUnlockedData{WorldID: s.World.ID})
	}
	return out, nil
}

func (r *Rules) openChest(s state.WorldState, req Request) (Outcome, error) {
	stage, ok := s.FindStage(req.StageID)
	if !ok || stage.Status != state.StageCompleted || stage.Chest != state.ChestClosed {
		return r.reject(s, req.Now, catNotice, "No chest available on that stage")
	}
	cost := s.Economy.ChestCost
	if s.Player.Currency < cost {
		return r.reject(s, req.Now, catError, fmt.Sprintf("Not enough %s", s.Economy.CurrencyName))
	}

	rewards := append([]state.Item{}, s.Player.Inventory.Rewards...)
	rewards = append(rewards, state.Item{
		ID:     r.nextID("chest", req.Now),
		Name:   fmt.Sprintf("Premium Chest S%d", stage.ID),
		Rarity: state.RarityEpic,
		Icon:   iconReward,
	})

	stages := make([]state.Stage, len(s.World.Stages))
	for i, st := range s.World.Stages {
		if st.ID == stage.ID {
			st.Chest = state.ChestOpen
		}
		stages[i] = st
	}

	out := Outcome{
		OK: true,
		Patch: state.Patch{
			Player: &state.PlayerPatch{
				Currency:  state.Ptr(s.Player.Currency - cost),
				Inventory: &state.InventoryPatch{Rewards: state.List(rewards)},
			},
			World: &state.WorldPatch{Stages: state.List(stages)},
			UI:    r.toast(s, req.Now, catChest, fmt.Sprintf("Premium chest opened (-%d %s)", cost, s.Economy.CurrencyName)),
		},
	}
	out.emit(protocol.EventChestOpened, protocol.ChestOpenedData{StageID: stage.ID})
	return out, nil
}

func (r *Rules) togglePopup(s state.WorldState, req Request) (Outcome, error) {
	next := req.Target
	if s.UI.Popup == req.Target {
		next = state.PopupNone
	}
	return Outcome{OK: true, Patch: state.Patch{UI: &state.UIPatch{Popup: state.Ptr(next)}}}, nil
}

func (r *Rules) claimMission(s state.WorldState, req Request) (Outcome, error) {
	mission, ok := s.FindMission(req.MissionID)
	if !ok {
		return Outcome{}, hardf(protocol.ErrInvalidTarget, "mission not found: %s", req.MissionID)
	}
	if mission.Progress < mission.Total {
		return r.reject(s, req.Now, catNotice, "Mission not complete yet")
	}
	if mission.Claimed {
		return r.reject(s, req.Now, catNotice, "Mission already claimed")
	}

	bonus := r.tun.MissionBonus
	promos := append([]state.Item{}, s.Player.Inventory.Promotions...)
	promos = append(promos, r.ticket(req.Now))

	missions := make([]state.Mission, len(s.Missions.Active))
	for i, m := range s.Missions.Active {
		if m.ID == mission.ID {
			m.Claimed = true
		}
		missions[i] = m
	}

	return Outcome{
		OK: true,
		Patch: state.Patch{
			Player: &state.PlayerPatch{
				Currency:  state.Ptr(s.Player.Currency + bonus),
				Inventory: &state.InventoryPatch{Promotions: state.List(promos)},
			},
			Missions: &state.MissionsPatch{Active: state.List(missions)},
			UI:       r.toast(s, req.Now, catMission, fmt.Sprintf("Mission claimed (+%d %s)", bonus, s.Economy.CurrencyName)),
		},
	}, nil
}

func (r *Rules) enterCasino(s state.WorldState, req Request) (Outcome, error) {
	first := r.worlds.Default()
	if s.World.ID != first {
		return r.reject(s, req.Now, catCasino, "Welcome to the VIP room")
	}
	if s.World.Casino.Status != state.CasinoUnlocked {
		return r.reject(s, req.Now, catNotice, fmt.Sprintf("Complete the %d stages first", r.tun.FinalStage))
	}
	dest, ok := r.worlds.Next(first)
	if !ok {
		return r.reject(s, req.Now, catNotice, "The casino is closed tonight")
	}
	t, err := r.worlds.Template(dest)
	if err != nil {
		return Outcome{}, fmt.Errorf("load world %s: %w", dest, err)
	}

	full := state.Full(t)
	toasts := r.toast(s, req.Now, catWorld, fmt.Sprintf("Entering %s", t.Narrative.Title))
	out := Outcome{
		OK: true,
		Patch: state.Patch{
			Narrative: full.Narrative,
			World:     full.World,
			Missions:  full.Missions,
			Player: &state.PlayerPatch{
				CurrentStage:   state.Ptr(t.Player.CurrentStage),
				Position:       state.Ptr(t.Player.Position),
				DailyChallenge: state.Ptr(t.Player.DailyChallenge),
			},
			UI: &state.UIPatch{Popup: state.Ptr(state.PopupNone), Toasts: toasts.Toasts},
		},
	}
	out.emit(protocol.EventWorldChanged, protocol.WorldChangedData{WorldID: t.World.ID})
	return out, nil
}

func (r *Rules) resetGame(_ state.WorldState, _ Request) (Outcome, error) {
	out := Outcome{OK: true, Reset: true}
	out.emit(protocol.EventWorldChanged, protocol.WorldChangedData{WorldID: r.worlds.Default(), Reset: true})
	return out, nil
}

func (r *Rules) rollReward(rr state.RewardRange) int {
	if rr.Max <= rr.Min {
		return rr.Min
	}
	return rr.Min + r.rng.Intn(rr.Max-rr.Min+1)
}

func (r *Rules) rollRarity() state.Rarity {
	roll := r.rng.Float64()
	switch {
	case roll < r.tun.Drops.CommonBelow:
		return state.RarityCommon
	case roll < r.tun.Drops.RareBelow:
		return state.RarityRare
	default:
		return state.RarityEpic
	}
}

// levelFor climbs levels while xp reaches the next threshold; one grant can
// cross several.
func (r *Rules) levelFor(level, xp int) int {
	if level < 1 {
		level = 1
	}
	for xp >= level*r.tun.XPPerLevel {
		level++
	}
	return level
}

func (r *Rules) ticket(now time.Time) state.Item {
	return state.Item{
		ID:     r.nextID("promo", now),
		Name:   "Ticket x2",
		Rarity: state.RarityEpic,
		Icon:   iconPromotion,
		Effect: state.EffectDoubleReward,
	}
}

func (r *Rules) nextID(prefix string, now time.Time) string {
	r.seq++
	return fmt.Sprintf("%s-%d-%d", prefix, now.UnixMilli(), r.seq)
}

// consume removes the first item carrying effect. The input is not modified.
func consume(items []state.Item, effect state.Effect) ([]state.Item, bool) {
	out := make([]state.Item, 0, len(items))
	found := false
	for _, it := range items {
		if !found && it.Effect == effect {
			found = true
			continue
		}
		out = append(out, it)
	}
	return out, found
}
