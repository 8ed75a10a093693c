package call

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestMachineForwardTransitions(t *testing.T) {
	m := NewMachine("test")
	rec := &stateRecorder{}
	m.SetListener(rec.listen)

	assert.Equal(t, StateWaiting, m.State())
	assert.True(t, m.ReportStateChange(StateConnecting))
	assert.True(t, m.ReportStateChange(StateRinging))
	assert.False(t, m.ReportStateChange(StateConnecting), "no going back")
	assert.False(t, m.ReportStateChange(StateRinging), "no duplicate broadcast")
	assert.True(t, m.ReportStateChange(StateConnected))
	assert.True(t, m.ReportStateChange(StateOnHold))
	assert.True(t, m.ReportStateChange(StateResume))
	assert.True(t, m.ReportStateChange(StateOnHold))
	assert.False(t, m.ReportStateChange(StateConnected))
	assert.True(t, m.ReportStateChange(StateEnded))

	assert.Equal(t, []State{
		StateConnecting, StateRinging, StateConnected,
		StateOnHold, StateResume, StateOnHold, StateEnded,
	}, rec.get())
}

func TestMachineTerminalIsFinal(t *testing.T) {
	m := NewMachine("test")
	assert.True(t, m.ReportStateChange(StateBusy))

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed on terminal state")
	}

	for _, s := range AllStates {
		assert.False(t, m.ReportStateChange(s), s.String())
	}
	assert.Equal(t, StateBusy, m.State())
}

func TestMachineHoldRequiresEstablishedCall(t *testing.T) {
	m := NewMachine("test")
	m.ReportStateChange(StateRinging)
	assert.False(t, m.ReportStateChange(StateOnHold))
	assert.False(t, m.ReportStateChange(StateResume))
}

func TestMachineReconnectingOnlyWhileConnecting(t *testing.T) {
	m := NewMachine("test")
	assert.True(t, m.ReportStateChange(StateConnecting))
	assert.True(t, m.ReportStateChange(StateReConnecting))
	assert.True(t, m.ReportStateChange(StateConnecting))
	assert.True(t, m.ReportStateChange(StateRinging))
	assert.False(t, m.ReportStateChange(StateReConnecting))
}

func TestMachineSocketClosed(t *testing.T) {
	t.Run("before established", func(t *testing.T) {
		m := NewMachine("test")
		m.ReportStateChange(StateRinging)
		m.SocketClosed()
		assert.Equal(t, StateErrorCommunication, m.State())
	})

	t.Run("after established", func(t *testing.T) {
		m := NewMachine("test")
		m.ReportStateChange(StateConnected)
		m.SocketClosed()
		assert.Equal(t, StateErrorCommunication, m.State())
	})

	t.Run("after terminal", func(t *testing.T) {
		m := NewMachine("test")
		rec := &stateRecorder{}
		m.ReportStateChange(StateDismissed)
		m.SetListener(rec.listen)
		m.SocketClosed()
		assert.Equal(t, StateDismissed, m.State())
		assert.Empty(t, rec.get())
	})
}

func TestMachineConcurrentTerminalBroadcastOnce(t *testing.T) {
	m := NewMachine("test")
	rec := &stateRecorder{}
	m.SetListener(rec.listen)

	var wg sync.WaitGroup
	for _, s := range []State{StateEnded, StateDismissed, StateErrorCommunication, StateBusy} {
		wg.Add(1)
		go func(s State) {
			defer wg.Done()
			m.ReportStateChange(s)
		}(s)
	}
	wg.Wait()

	assert.Len(t, rec.get(), 1)
}
