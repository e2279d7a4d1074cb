package services

import (
	"fmt"
	"sync"
	"time"

	"embercall/internal/core/domain"

	"go.uber.org/zap"
)

// CallEvent drives the call state machine.
type CallEvent string

const (
	EventInitiate    CallEvent = "initiate"     // local user starts a call
	EventIncoming    CallEvent = "incoming"     // incoming-call notification
	EventAccepted    CallEvent = "accepted"     // remote call-accepted
	EventRejected    CallEvent = "rejected"     // remote call-rejected
	EventRingTimeout CallEvent = "ring_timeout" // no answer within the ring window
	EventLingerDone  CallEvent = "linger_done"  // Rejected/NoAnswer display delay elapsed
	EventUserAccept  CallEvent = "user_accept"  // local user accepts
	EventUserReject  CallEvent = "user_reject"  // local user rejects
	EventEnd         CallEvent = "end"          // call-ended event or local end
)

// transitions is the complete edge set; anything absent is an invalid jump.
var transitions = map[domain.CallStatus]map[CallEvent]domain.CallStatus{
	domain.CallIdle: {
		EventInitiate: domain.CallRinging,
		EventIncoming: domain.CallConnecting,
	},
	domain.CallRinging: {
		EventAccepted:    domain.CallConnected,
		EventRejected:    domain.CallRejected,
		EventRingTimeout: domain.CallNoAnswer,
		EventEnd:         domain.CallEnded,
	},
	domain.CallConnecting: {
		EventUserAccept: domain.CallConnected,
		EventUserReject: domain.CallEnded,
		EventEnd:        domain.CallEnded,
	},
	domain.CallConnected: {
		EventEnd: domain.CallEnded,
	},
	domain.CallRejected: {
		EventLingerDone: domain.CallEnded,
		EventEnd:        domain.CallEnded,
	},
	domain.CallNoAnswer: {
		EventLingerDone: domain.CallEnded,
		EventEnd:        domain.CallEnded,
	},
}

// StateMachineConfig holds the two call timing rules: the unanswered-ring
// window and the short display delay before Rejected/NoAnswer auto-advance to
// Ended.
type StateMachineConfig struct {
	RingTimeout    time.Duration
	TerminalLinger time.Duration
}

// CallStateMachine tracks one call's lifecycle. Transitions happen only along
// the defined edges; the ring timeout and terminal linger fire internally.
type CallStateMachine struct {
	mu     sync.Mutex
	status domain.CallStatus
	cfg    StateMachineConfig

	ringTimer   *time.Timer
	lingerTimer *time.Timer

	onTransition func(from, to domain.CallStatus, ev CallEvent)

	logger *zap.SugaredLogger
}

// NewCallStateMachine starts in Idle. onTransition runs after every accepted
// transition, outside the machine's lock; it may be invoked from a timer
// goroutine.
func NewCallStateMachine(cfg StateMachineConfig, onTransition func(from, to domain.CallStatus, ev CallEvent), logger *zap.SugaredLogger) *CallStateMachine {
	return &CallStateMachine{
		status:       domain.CallIdle,
		cfg:          cfg,
		onTransition: onTransition,
		logger:       logger,
	}
}

func (m *CallStateMachine) Status() domain.CallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Fire applies one event. Invalid edges return ErrInvalidTransition and leave
// the state untouched.
func (m *CallStateMachine) Fire(ev CallEvent) (domain.CallStatus, error) {
	m.mu.Lock()

	next, ok := transitions[m.status][ev]
	if !ok {
		from := m.status
		m.mu.Unlock()
		return from, fmt.Errorf("%s --%s--> ?: %w", from, ev, domain.ErrInvalidTransition)
	}

	from := m.status
	m.status = next
	m.armTimersLocked(next)
	fn := m.onTransition
	m.mu.Unlock()

	m.logger.Debugw("call state transition", "from", from, "to", next, "event", ev)
	if fn != nil {
		fn(from, next, ev)
	}
	return next, nil
}

// armTimersLocked starts or clears the timers the new state requires.
func (m *CallStateMachine) armTimersLocked(next domain.CallStatus) {
	if next != domain.CallRinging && m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}

	switch next {
	case domain.CallRinging:
		m.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() {
			if _, err := m.Fire(EventRingTimeout); err == nil {
				m.logger.Infow("call rang out", "timeout", m.cfg.RingTimeout)
			}
		})
	case domain.CallRejected, domain.CallNoAnswer:
		m.lingerTimer = time.AfterFunc(m.cfg.TerminalLinger, func() {
			m.Fire(EventLingerDone)
		})
	case domain.CallEnded:
		if m.lingerTimer != nil {
			m.lingerTimer.Stop()
			m.lingerTimer = nil
		}
	}
}

// Stop cancels any pending timers. Used on machine disposal.
func (m *CallStateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.lingerTimer != nil {
		m.lingerTimer.Stop()
		m.lingerTimer = nil
	}
}
