package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"

	"go.uber.org/zap"
)

// OrchestratorConfig carries call timing and backend notification bounds.
type OrchestratorConfig struct {
	RingTimeout    time.Duration
	TerminalLinger time.Duration
	BackendTimeout time.Duration
}

// activeCall bundles everything owned by the current call slot.
type activeCall struct {
	session *domain.CallSession
	machine *CallStateMachine
	media   ports.MediaSession
}

// Orchestrator is the single source of truth for "is there a call happening".
// It owns at most one active call at a time, routes signaling events into the
// state machine, starts and tears down media sessions, and notifies the
// backend best-effort.
type Orchestrator struct {
	cfg       OrchestratorConfig
	channel   ports.SignalingChannel
	backend   ports.CallBackend
	sessions  ports.MediaSessionFactory
	callLog   ports.CallLogRepository
	metrics   ports.CallMetrics
	localUser domain.UserID

	mu      sync.Mutex
	current *activeCall
	pending *domain.PendingIncomingCall
	regs    []ports.Unsubscribe
	started bool

	onChange func()

	logger *zap.SugaredLogger
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	channel ports.SignalingChannel,
	backend ports.CallBackend,
	sessions ports.MediaSessionFactory,
	callLog ports.CallLogRepository,
	metrics ports.CallMetrics,
	localUser domain.UserID,
	logger *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		channel:   channel,
		backend:   backend,
		sessions:  sessions,
		callLog:   callLog,
		metrics:   metrics,
		localUser: localUser,
		logger:    logger,
	}
}

// SetOnChange registers the UI notification callback, run after every call
// state change and remote stream update.
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// Start subscribes to call-control events. Idempotent.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	o.regs = append(o.regs,
		o.channel.On(domain.EventIncomingCall, o.handleIncomingCall),
		o.channel.On(domain.EventCallAccepted, o.handleCallAccepted),
		o.channel.On(domain.EventCallRejected, o.handleCallRejected),
		o.channel.On(domain.EventCallEnded, o.handleCallEnded),
	)
}

// Stop drains event registrations and ends any active call.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	regs := o.regs
	o.regs = nil
	o.started = false
	o.mu.Unlock()

	for _, unsub := range regs {
		unsub()
	}

	if err := o.EndCall(ctx); err == nil {
		o.logger.Infow("active call ended on shutdown")
	}
}

// InitiateCall starts an outgoing call. Fails with ErrCallAlreadyActive if a
// call session already exists.
func (o *Orchestrator) InitiateCall(ctx context.Context, peer domain.UserID, peerName string, callType domain.CallType) (*domain.CallSession, error) {
	o.mu.Lock()
	if o.current != nil || o.pending != nil {
		o.mu.Unlock()
		return nil, domain.ErrCallAlreadyActive
	}

	// Reserve the slot before the backend round-trip so a concurrent
	// initiate cannot slip in.
	call := &activeCall{
		session: &domain.CallSession{
			Role:       domain.RoleCaller,
			Type:       callType,
			PeerUserID: peer,
			PeerName:   peerName,
			Status:     domain.CallIdle,
			StartedAt:  time.Now(),
		},
	}
	call.machine = o.newMachine(call)
	o.current = call
	o.mu.Unlock()

	callID, err := o.backend.InitiateCall(ctx, peer, callType)
	if err != nil {
		o.mu.Lock()
		if o.current == call {
			o.current = nil
		}
		o.mu.Unlock()
		o.logger.Errorw("call initiation failed", "peer", peer, "error", err)
		return nil, err
	}

	o.mu.Lock()
	call.session.ID = callID
	o.mu.Unlock()

	o.metrics.CallInitiated()
	if _, err := call.machine.Fire(EventInitiate); err != nil {
		return nil, err
	}

	o.logger.Infow("call initiated", "call_id", callID, "peer", peer, "type", callType)
	return o.sessionSnapshot(call), nil
}

// AcceptIncomingCall answers the pending incoming call and starts media
// negotiation with the call id as room id.
func (o *Orchestrator) AcceptIncomingCall(ctx context.Context) error {
	o.mu.Lock()
	p := o.pending
	call := o.current
	if p == nil || call == nil {
		o.mu.Unlock()
		return domain.ErrNoPendingCall
	}
	o.pending = nil
	o.mu.Unlock()

	// Best-effort: the local transition is already committed.
	if err := o.notifyBackend(ctx, func(c context.Context) error { return o.backend.AcceptCall(c, p.CallID) }); err != nil {
		o.logger.Warnw("accept notification failed", "call_id", p.CallID, "error", err)
	}

	if _, err := call.machine.Fire(EventUserAccept); err != nil {
		return err
	}

	o.startMedia(call)
	return nil
}

// RejectIncomingCall declines the pending incoming call. Media negotiation
// never starts.
func (o *Orchestrator) RejectIncomingCall(ctx context.Context) error {
	o.mu.Lock()
	p := o.pending
	call := o.current
	if p == nil || call == nil {
		o.mu.Unlock()
		return domain.ErrNoPendingCall
	}
	o.pending = nil
	o.mu.Unlock()

	if err := o.notifyBackend(ctx, func(c context.Context) error { return o.backend.RejectCall(c, p.CallID) }); err != nil {
		o.logger.Warnw("reject notification failed", "call_id", p.CallID, "error", err)
	}

	_, err := call.machine.Fire(EventUserReject)
	return err
}

// EndCall ends the current call from any non-terminal state.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	o.mu.Lock()
	call := o.current
	o.pending = nil
	o.mu.Unlock()

	if call == nil {
		return domain.ErrCallNotActive
	}

	if err := o.notifyBackend(ctx, func(c context.Context) error { return o.backend.EndCall(c, call.session.ID) }); err != nil {
		o.logger.Warnw("end notification failed", "call_id", call.session.ID, "error", err)
	}

	if _, err := call.machine.Fire(EventEnd); err != nil {
		return domain.ErrCallNotActive
	}
	return nil
}

// CurrentCall returns a snapshot of the active call session.
func (o *Orchestrator) CurrentCall() (*domain.CallSession, bool) {
	o.mu.Lock()
	call := o.current
	o.mu.Unlock()
	if call == nil {
		return nil, false
	}
	return o.sessionSnapshot(call), true
}

// PendingCall returns the unanswered incoming call, if one exists.
func (o *Orchestrator) PendingCall() (*domain.PendingIncomingCall, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil, false
	}
	p := *o.pending
	return &p, true
}

// ActiveMedia returns the running media session, if negotiation has started.
func (o *Orchestrator) ActiveMedia() (ports.MediaSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.media == nil {
		return nil, false
	}
	return o.current.media, true
}

func (o *Orchestrator) handleIncomingCall(raw json.RawMessage) {
	var payload domain.IncomingCallPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		o.logger.Warnw("malformed incoming-call payload", "error", err)
		return
	}

	o.mu.Lock()
	if o.current != nil || o.pending != nil {
		o.mu.Unlock()
		// Busy: concurrent calls are out of scope, the notification is
		// dropped and the caller rings out.
		o.logger.Infow("incoming call ignored while busy", "call_id", payload.CallID)
		return
	}

	call := &activeCall{
		session: &domain.CallSession{
			ID:         payload.CallID,
			Role:       domain.RoleCallee,
			Type:       payload.CallType,
			PeerUserID: payload.FromUserID,
			PeerName:   payload.FromUserName,
			Status:     domain.CallIdle,
			StartedAt:  time.Now(),
		},
	}
	call.machine = o.newMachine(call)
	o.current = call
	o.pending = &domain.PendingIncomingCall{
		CallID:       payload.CallID,
		FromUserID:   payload.FromUserID,
		FromUserName: payload.FromUserName,
		Type:         payload.CallType,
		ReceivedAt:   time.Now(),
	}
	o.mu.Unlock()

	o.metrics.CallIncoming()
	call.machine.Fire(EventIncoming)
	o.logger.Infow("incoming call", "call_id", payload.CallID, "from", payload.FromUserID, "type", payload.CallType)
}

func (o *Orchestrator) handleCallAccepted(raw json.RawMessage) {
	var payload domain.CallAcceptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}

	call, ok := o.matchCurrent(payload.CallID)
	if !ok || call.session.Role != domain.RoleCaller {
		return
	}

	if _, err := call.machine.Fire(EventAccepted); err != nil {
		o.logger.Debugw("late call-accepted ignored", "call_id", payload.CallID, "error", err)
		return
	}

	// Media negotiation proceeds asynchronously once the caller is connected.
	o.startMedia(call)
}

func (o *Orchestrator) handleCallRejected(raw json.RawMessage) {
	var payload domain.CallRejectedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}

	call, ok := o.matchCurrent(payload.CallID)
	if !ok {
		return
	}
	if _, err := call.machine.Fire(EventRejected); err != nil {
		o.logger.Debugw("late call-rejected ignored", "call_id", payload.CallID, "error", err)
	}
}

func (o *Orchestrator) handleCallEnded(raw json.RawMessage) {
	var payload domain.CallEndedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}

	o.mu.Lock()
	if o.pending != nil && o.pending.CallID == payload.CallID {
		o.pending = nil
	}
	o.mu.Unlock()

	call, ok := o.matchCurrent(payload.CallID)
	if !ok {
		return
	}
	if _, err := call.machine.Fire(EventEnd); err != nil {
		o.logger.Debugw("late call-ended ignored", "call_id", payload.CallID, "error", err)
	}
}

func (o *Orchestrator) matchCurrent(id domain.CallID) (*activeCall, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.session.ID != id {
		return nil, false
	}
	return o.current, true
}

func (o *Orchestrator) newMachine(call *activeCall) *CallStateMachine {
	cfg := StateMachineConfig{
		RingTimeout:    o.cfg.RingTimeout,
		TerminalLinger: o.cfg.TerminalLinger,
	}
	return NewCallStateMachine(cfg, func(from, to domain.CallStatus, ev CallEvent) {
		o.handleTransition(call, from, to, ev)
	}, o.logger)
}

// startMedia launches the media session once per call, in the background.
// Terminal negotiation errors end the call.
func (o *Orchestrator) startMedia(call *activeCall) {
	o.mu.Lock()
	if call.media != nil || o.current != call {
		o.mu.Unlock()
		return
	}
	audioOnly := call.session.Type == domain.CallTypeVoice
	media := o.sessions.NewSession(call.session.RoomID(), o.localUser, audioOnly)
	call.media = media
	fn := o.onChange
	o.mu.Unlock()

	media.OnRemoteUpdate(func() {
		if fn != nil {
			fn()
		}
	})

	go func() {
		if err := media.Initialize(context.Background()); err != nil {
			o.logger.Errorw("media negotiation failed, ending call",
				"call_id", call.session.ID, "error", err)
			o.failCall(call)
		}
	}()
}

// failCall ends a call whose media session could not be established.
func (o *Orchestrator) failCall(call *activeCall) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.BackendTimeout)
	defer cancel()
	if err := o.backend.EndCall(ctx, call.session.ID); err != nil {
		o.logger.Warnw("end notification failed", "call_id", call.session.ID, "error", err)
	}
	call.machine.Fire(EventEnd)
}

// handleTransition runs after every state machine transition, including
// timer-driven ones.
func (o *Orchestrator) handleTransition(call *activeCall, from, to domain.CallStatus, ev CallEvent) {
	o.mu.Lock()
	call.session.Status = to
	fn := o.onChange
	o.mu.Unlock()

	switch to {
	case domain.CallConnected:
		o.mu.Lock()
		call.session.ConnectedAt = time.Now()
		ringing := call.session.ConnectedAt.Sub(call.session.StartedAt)
		o.mu.Unlock()
		o.metrics.CallConnected()
		o.metrics.ObserveRingToConnect(ringing)

	case domain.CallEnded:
		o.finalizeCall(call, from)
	}

	if fn != nil {
		fn()
	}
}

// finalizeCall disposes the call: media teardown, call log, metrics, slot
// clearing. The outcome preserves Rejected/NoAnswer when the terminal linger
// advanced them to Ended.
func (o *Orchestrator) finalizeCall(call *activeCall, from domain.CallStatus) {
	call.machine.Stop()

	o.mu.Lock()
	call.session.EndedAt = time.Now()
	media := call.media
	if o.current == call {
		o.current = nil
	}
	if o.pending != nil && o.pending.CallID == call.session.ID {
		o.pending = nil
	}
	o.mu.Unlock()

	if media != nil {
		if err := media.Close(); err != nil {
			o.logger.Warnw("media close failed", "call_id", call.session.ID, "error", err)
		}
	}

	outcome := domain.CallEnded
	if from.IsSettled() {
		outcome = from
	}

	o.metrics.CallFinished(string(outcome))
	if duration := call.session.Duration(); duration > 0 {
		o.metrics.ObserveCallDuration(duration)
	}

	if o.callLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.BackendTimeout)
		defer cancel()
		rec := &domain.CallRecord{
			CallID:      call.session.ID,
			Role:        call.session.Role,
			Type:        call.session.Type,
			PeerUserID:  call.session.PeerUserID,
			PeerName:    call.session.PeerName,
			Outcome:     outcome,
			StartedAt:   call.session.StartedAt,
			ConnectedAt: call.session.ConnectedAt,
			EndedAt:     call.session.EndedAt,
		}
		if err := o.callLog.Record(ctx, rec); err != nil {
			o.logger.Warnw("call log write failed", "call_id", call.session.ID, "error", err)
		}
	}

	o.logger.Infow("call finished",
		"call_id", call.session.ID,
		"outcome", outcome,
		"duration", call.session.Duration(),
	)
}

func (o *Orchestrator) notifyBackend(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	defer cancel()
	return fn(ctx)
}

func (o *Orchestrator) sessionSnapshot(call *activeCall) *domain.CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := *call.session
	return &s
}
