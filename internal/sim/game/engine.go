package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/clock"
	"nightroad.app/internal/sim/state"
)

// Publisher fans stream messages out to subscribers. Publish must not block.
type Publisher interface {
	Publish(msg any) error
}

// ActionLogger records one entry per dispatch.
type ActionLogger interface {
	WriteAction(ActionLogEntry) error
}

type ActionLogEntry struct {
	Seq     uint64              `json:"seq"`
	Time    time.Time           `json:"time"`
	WorldID string              `json:"world_id"`
	Action  string              `json:"action"`
	Payload json.RawMessage     `json:"payload,omitempty"`
	OK      bool                `json:"ok"`
	Code    string              `json:"code,omitempty"`
	Error   string              `json:"error,omitempty"`
	Events  []protocol.EventMsg `json:"events,omitempty"`
}

type Config struct {
	Store     *state.Store
	Rules     *Rules
	Validator *protocol.Validator
	Publisher Publisher
	Clock     clock.Clock
	Logger    *log.Logger
	InboxSize int
}

// Engine serializes every action dispatch through one goroutine. Each
// dispatch reads the state, runs regen and the rule, applies the patches and
// publishes them before the next dispatch starts.
type Engine struct {
	store     *state.Store
	rules     *Rules
	validator *protocol.Validator
	pub       Publisher
	clock     clock.Clock
	logger    *log.Logger

	actionLogger ActionLogger

	inbox chan dispatchReq
	seq   uint64

	okTotal       atomic.Uint64
	rejectedTotal atomic.Uint64
	hardTotal     atomic.Uint64
	internalTotal atomic.Uint64
	regenTotal    atomic.Uint64
	publishErrors atomic.Uint64
}

type dispatchReq struct {
	Req  protocol.ActionReq
	Resp chan dispatchResp
}

type dispatchResp struct {
	Resp protocol.ActionResp
	Err  error
}

// EngineStats are cumulative dispatch counters.
type EngineStats struct {
	OK            uint64 `json:"ok"`
	Rejected      uint64 `json:"rejected"`
	HardErrors    uint64 `json:"hard_errors"`
	Internal      uint64 `json:"internal_errors"`
	Regens        uint64 `json:"regens"`
	PublishErrors uint64 `json:"publish_errors"`
	InboxDepth    int    `json:"inbox_depth"`
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Rules == nil {
		return nil, fmt.Errorf("game: store and rules are required")
	}
	if cfg.Validator == nil {
		v, err := protocol.NewValidator()
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	return &Engine{
		store:     cfg.Store,
		rules:     cfg.Rules,
		validator: cfg.Validator,
		pub:       cfg.Publisher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		inbox:     make(chan dispatchReq, cfg.InboxSize),
	}, nil
}

func (e *Engine) SetActionLogger(l ActionLogger) { e.actionLogger = l }

// State returns the current snapshot without going through the loop.
func (e *Engine) State() state.WorldState { return e.store.State() }

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		OK:            e.okTotal.Load(),
		Rejected:      e.rejectedTotal.Load(),
		HardErrors:    e.hardTotal.Load(),
		Internal:      e.internalTotal.Load(),
		Regens:        e.regenTotal.Load(),
		PublishErrors: e.publishErrors.Load(),
		InboxDepth:    len(e.inbox),
	}
}

func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-e.inbox:
			resp, err := e.dispatch(r.Req)
			select {
			case r.Resp <- dispatchResp{Resp: resp, Err: err}:
			default:
			}
		}
	}
}

// Submit queues an action and waits for its result. A hard rejection is
// returned as a *RuleError; other errors are infrastructure failures or ctx
// expiry.
func (e *Engine) Submit(ctx context.Context, req protocol.ActionReq) (protocol.ActionResp, error) {
	resp := make(chan dispatchResp, 1)
	select {
	case e.inbox <- dispatchReq{Req: req, Resp: resp}:
	case <-ctx.Done():
		return protocol.ActionResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Resp, r.Err
	case <-ctx.Done():
		return protocol.ActionResp{}, ctx.Err()
	}
}

func (e *Engine) dispatch(in protocol.ActionReq) (resp protocol.ActionResp, err error) {
	now := e.clock.Now().UTC()
	e.seq++
	entry := ActionLogEntry{
		Seq:     e.seq,
		Time:    now,
		WorldID: e.store.State().World.ID,
		Action:  in.Action,
		Payload: in.Payload,
	}
	defer func() {
		entry.OK = resp.OK
		if err != nil {
			entry.Code, entry.Error = ErrorCode(err), err.Error()
		}
		e.count(resp, err)
		e.logAction(entry)
	}()

	req, err := e.parse(in)
	if err != nil {
		return protocol.ActionResp{}, err
	}
	req.Now = now

	cur := e.store.State()
	regen, regenOK := e.rules.Regen(cur, now)
	scratch := cur
	if regenOK {
		if scratch, err = state.Apply(cur, regen.Patch); err != nil {
			return protocol.ActionResp{}, fmt.Errorf("apply regen: %w", err)
		}
	}

	out, err := e.rules.Decide(scratch, req)
	if err != nil {
		// Regen is discarded with the request; the next dispatch recomputes it
		// from the same timestamp.
		return protocol.ActionResp{}, err
	}

	if regenOK {
		if err := e.commit(regen); err != nil {
			return protocol.ActionResp{}, err
		}
		e.regenTotal.Add(1)
		entry.Events = append(entry.Events, regen.Events...)
	}

	if out.Reset {
		st, err := e.store.Reset()
		if err != nil {
			return protocol.ActionResp{}, fmt.Errorf("reset: %w", err)
		}
		out.Patch = state.Full(st)
		e.publish(protocol.NewPatchMsg(out.Patch))
		e.publishEvents(out.Events)
	} else if err := e.commit(out); err != nil {
		return protocol.ActionResp{}, err
	}
	entry.Events = append(entry.Events, out.Events...)

	return protocol.ActionResp{OK: out.OK, Patch: out.Patch}, nil
}

func (e *Engine) parse(in protocol.ActionReq) (Request, error) {
	if !e.validator.KnownAction(in.Action) {
		return Request{}, errUnsupported(in.Action)
	}
	if err := e.validator.ValidatePayload(in.Action, in.Payload); err != nil {
		return Request{}, &RuleError{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return ParseRequest(in)
}

func (e *Engine) commit(out Outcome) error {
	if !out.Patch.IsEmpty() {
		if _, err := e.store.ApplyPatch(out.Patch); err != nil {
			return err
		}
		e.publish(protocol.NewPatchMsg(out.Patch))
	}
	e.publishEvents(out.Events)
	return nil
}

func (e *Engine) publishEvents(evs []protocol.EventMsg) {
	for _, ev := range evs {
		e.publish(ev)
	}
}

func (e *Engine) publish(msg any) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(msg); err != nil {
		e.publishErrors.Add(1)
		e.logf("publish: %v", err)
	}
}

func (e *Engine) count(resp protocol.ActionResp, err error) {
	switch {
	case err == nil && resp.OK:
		e.okTotal.Add(1)
	case err == nil:
		e.rejectedTotal.Add(1)
	default:
		if _, ok := AsRuleError(err); ok {
			e.hardTotal.Add(1)
			return
		}
		e.internalTotal.Add(1)
		e.logf("dispatch failed: %v", err)
	}
}

func (e *Engine) logAction(entry ActionLogEntry) {
	if e.actionLogger == nil {
		return
	}
	if err := e.actionLogger.WriteAction(entry); err != nil {
		e.logf("action log: %v", err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// ErrorCode maps a Submit error to its protocol code.
func ErrorCode(err error) string {
	if re, ok := AsRuleError(err); ok {
		return re.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return protocol.ErrBusy
	}
	return protocol.ErrInternal
}
