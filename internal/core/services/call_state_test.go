package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"embercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMachine(t *testing.T, cfg StateMachineConfig, onTransition func(from, to domain.CallStatus, ev CallEvent)) *CallStateMachine {
	t.Helper()
	if cfg.RingTimeout == 0 {
		cfg.RingTimeout = time.Hour
	}
	if cfg.TerminalLinger == 0 {
		cfg.TerminalLinger = time.Hour
	}
	m := NewCallStateMachine(cfg, onTransition, zaptest.NewLogger(t).Sugar())
	t.Cleanup(m.Stop)
	return m
}

func TestCallStateMachine_CallerHappyPath(t *testing.T) {
	m := newTestMachine(t, StateMachineConfig{}, nil)

	state, err := m.Fire(EventInitiate)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, state)

	state, err = m.Fire(EventAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnected, state)

	state, err = m.Fire(EventEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, state)
}

func TestCallStateMachine_CalleeHappyPath(t *testing.T) {
	m := newTestMachine(t, StateMachineConfig{}, nil)

	state, err := m.Fire(EventIncoming)
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnecting, state)

	state, err = m.Fire(EventUserAccept)
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnected, state)

	state, err = m.Fire(EventEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, state)
}

func TestCallStateMachine_InvalidEdgeLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name  string
		setup []CallEvent
		fire  CallEvent
		want  domain.CallStatus
	}{
		{
			name: "accept with no call",
			fire: EventUserAccept,
			want: domain.CallIdle,
		},
		{
			name:  "initiate while ringing",
			setup: []CallEvent{EventInitiate},
			fire:  EventInitiate,
			want:  domain.CallRinging,
		},
		{
			name:  "remote accept while connected",
			setup: []CallEvent{EventInitiate, EventAccepted},
			fire:  EventAccepted,
			want:  domain.CallConnected,
		},
		{
			name:  "user accept after end",
			setup: []CallEvent{EventIncoming, EventEnd},
			fire:  EventUserAccept,
			want:  domain.CallEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, StateMachineConfig{}, nil)
			for _, ev := range tt.setup {
				_, err := m.Fire(ev)
				require.NoError(t, err)
			}

			_, err := m.Fire(tt.fire)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
			assert.Equal(t, tt.want, m.Status())
		})
	}
}

func TestCallStateMachine_RingTimeoutMovesToNoAnswer(t *testing.T) {
	transitions := make(chan domain.CallStatus, 4)
	m := newTestMachine(t, StateMachineConfig{
		RingTimeout:    30 * time.Millisecond,
		TerminalLinger: time.Hour,
	}, func(from, to domain.CallStatus, ev CallEvent) {
		transitions <- to
	})

	_, err := m.Fire(EventInitiate)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, <-transitions)

	select {
	case state := <-transitions:
		assert.Equal(t, domain.CallNoAnswer, state)
	case <-time.After(time.Second):
		t.Fatal("ring timeout never fired")
	}
}

func TestCallStateMachine_RingTimeoutCancelledOnAccept(t *testing.T) {
	m := newTestMachine(t, StateMachineConfig{
		RingTimeout:    40 * time.Millisecond,
		TerminalLinger: time.Hour,
	}, nil)

	_, err := m.Fire(EventInitiate)
	require.NoError(t, err)
	_, err = m.Fire(EventAccepted)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, domain.CallConnected, m.Status())
}

func TestCallStateMachine_TerminalLingerAdvancesToEnded(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.CallStatus
	m := newTestMachine(t, StateMachineConfig{
		RingTimeout:    time.Hour,
		TerminalLinger: 25 * time.Millisecond,
	}, func(from, to domain.CallStatus, ev CallEvent) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	_, err := m.Fire(EventInitiate)
	require.NoError(t, err)
	_, err = m.Fire(EventRejected)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRejected, m.Status())

	require.Eventually(t, func() bool {
		return m.Status() == domain.CallEnded
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.CallStatus{domain.CallRinging, domain.CallRejected, domain.CallEnded}, seen)
}

func TestCallStateMachine_StopCancelsTimers(t *testing.T) {
	m := newTestMachine(t, StateMachineConfig{
		RingTimeout:    20 * time.Millisecond,
		TerminalLinger: time.Hour,
	}, nil)

	_, err := m.Fire(EventInitiate)
	require.NoError(t, err)
	m.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.CallRinging, m.Status())
}

func TestCallStateMachine_CallbackRunsOutsideLock(t *testing.T) {
	var m *CallStateMachine
	done := make(chan struct{})
	m = newTestMachine(t, StateMachineConfig{}, func(from, to domain.CallStatus, ev CallEvent) {
		if to == domain.CallRinging {
			// Re-entrant reads must not deadlock.
			_ = m.Status()
			close(done)
		}
	})

	_, err := m.Fire(EventInitiate)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transition callback blocked")
	}
}
