//nolint:funlen // ok for tests
package drill

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []*transport.Message
	handler   transport.InboundHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(msg *transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SetHandler(h transport.InboundHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) deliver(msg *transport.Inbound) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func (f *fakeTransport) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		switch c := msg.Content.(type) {
		case transport.ReadyContent:
			ret = append(ret, c.Command)
		case transport.StartContent:
			ret = append(ret, c.Command)
		case transport.EndContent:
			ret = append(ret, c.Command)
		}
	}
	return ret
}

func (f *fakeTransport) startContent() (transport.StartContent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.sent {
		if c, ok := msg.Content.(transport.StartContent); ok {
			return c, true
		}
	}
	return transport.StartContent{}, false
}

func twoTargetConfig() *model.DrillConfig {
	return &model.DrillConfig{
		Name:    "test drill",
		Repeats: 2,
		Targets: []model.TargetConfig{
			{SequenceNumber: 2, TargetName: "tgt-b", TargetType: "popper", CountedShots: 1},
			{SequenceNumber: 1, TargetName: "tgt-a", TargetType: "ipsc", CountedShots: 2},
		},
	}
}

func readyAck(device, delayTime string) *transport.Inbound {
	return &transport.Inbound{Device: device, Ack: transport.AckReady, DelayTime: delayTime}
}

func endAck(device string, duration float64) *transport.Inbound {
	return &transport.Inbound{Device: device, Ack: transport.AckEnd, DrillDuration: duration}
}

func shotReport(device, hitArea string, repeat *int) *transport.Inbound {
	return &transport.Inbound{Device: device, Shot: &model.ShotRecord{
		Device: device, HitArea: hitArea, TargetType: "ipsc", RepeatNumber: repeat,
	}}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestReadinessFastPathWithoutDevices(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())

	err := s.PerformReadinessCheck(1, nil)
	require.NoError(t, err)
	// ready per target, then start; the empty device set finalizes
	// immediately (zero shots, so no summary) and returns to idle
	assert.Equal(t, []string{"ready", "ready", "start"}, tr.sentCommands())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Summaries())
}

func TestReadyMessagesOrderedBySequence(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	require.NoError(t, s.PerformReadinessCheckOnly(1, []string{"tgt-a", "tgt-b"}))

	require.Len(t, tr.sent, 2)
	first, ok := tr.sent[0].Content.(transport.ReadyContent)
	require.True(t, ok)
	second, ok := tr.sent[1].Content.(transport.ReadyContent)
	require.True(t, ok)

	assert.Equal(t, "tgt-a", tr.sent[0].Dest)
	assert.True(t, first.IsFirst)
	assert.False(t, first.IsLast)
	assert.Equal(t, 300, first.Timeout)
	assert.Equal(t, 1, first.Repeat)
	assert.Equal(t, 0.0, first.Delay)

	assert.Equal(t, "tgt-b", tr.sent[1].Dest)
	assert.False(t, second.IsFirst)
	assert.True(t, second.IsLast)
	s.StopExecution()
}

func TestReadinessProgressAndStart(t *testing.T) {
	tr := newFakeTransport()
	var progress [][2]int
	s := NewSession(tr, twoTargetConfig(), WithCallbacks(Callbacks{
		OnReadinessProgress: func(acked, expected int) {
			progress = append(progress, [2]int{acked, expected})
		},
	}))

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "1.25"))

	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
	assert.Equal(t, StateRunning, s.State())
	start, ok := tr.startContent()
	require.True(t, ok)
	assert.Equal(t, "1.25", start.DelayTime)
	s.StopExecution()
}

func TestSharedDelayFirstNonZeroWins(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "1.5"))
	tr.deliver(readyAck("tgt-b", "2.0"))

	start, ok := tr.startContent()
	require.True(t, ok)
	assert.Equal(t, "1.5", start.DelayTime)
	s.StopExecution()
}

func TestAckTimeoutReportsNonResponsive(t *testing.T) {
	tr := newFakeTransport()
	timedOut := make(chan struct{})
	failed := make(chan struct{})
	var nonResponsive []string
	s := NewSession(tr,
		twoTargetConfig(),
		WithAckTimeout(50*time.Millisecond),
		WithCallbacks(Callbacks{
			OnReadinessTimeout: func(names []string) {
				nonResponsive = names
				close(timedOut)
			},
			OnFailure: func() { close(failed) },
		}))

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))

	waitFor(t, timedOut, "readiness timeout")
	waitFor(t, failed, "failure callback")
	assert.Equal(t, []string{"tgt-b"}, nonResponsive)
	assert.Equal(t, StateIdle, s.State())
}

func TestCheckOnlyTimeoutRaisesNoFailure(t *testing.T) {
	tr := newFakeTransport()
	timedOut := make(chan struct{})
	s := NewSession(tr,
		twoTargetConfig(),
		WithAckTimeout(50*time.Millisecond),
		WithCallbacks(Callbacks{
			OnReadinessTimeout: func([]string) { close(timedOut) },
			OnFailure:          func() { t.Error("failure callback not expected") },
		}))

	require.NoError(t, s.PerformReadinessCheckOnly(1, []string{"tgt-a"}))
	waitFor(t, timedOut, "readiness timeout")
	assert.Equal(t, StateIdle, s.State())
}

func TestStaleAckAfterResolutionIgnored(t *testing.T) {
	tr := newFakeTransport()
	var progressCalls int
	s := NewSession(tr, twoTargetConfig(), WithCallbacks(Callbacks{
		OnReadinessProgress: func(int, int) { progressCalls++ },
	}))

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a"}))
	tr.deliver(readyAck("tgt-a", "0"))
	require.Equal(t, StateRunning, s.State())
	// duplicate ack from a superseded cycle must not be counted
	tr.deliver(readyAck("tgt-a", "0"))
	assert.Equal(t, 1, progressCalls)
	s.StopExecution()
}

func TestTransportUnavailable(t *testing.T) {
	tr := newFakeTransport()
	tr.connected = false
	failed := make(chan struct{})
	s := NewSession(tr, twoTargetConfig(), WithCallbacks(Callbacks{
		OnFailure: func() { close(failed) },
	}))

	err := s.PerformReadinessCheck(1, []string{"tgt-a"})
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	waitFor(t, failed, "failure callback")
	assert.Empty(t, tr.sentCommands())
}

func TestShotRepeatScoping(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	require.Equal(t, StateRunning, s.State())

	wrongRepeat := 2
	activeRepeat := 1
	tr.deliver(shotReport("tgt-a", "Azone", &wrongRepeat))
	tr.deliver(shotReport("tgt-a", "Azone", &activeRepeat))
	tr.deliver(shotReport("tgt-a", "Czone", nil))

	s.mutex.Lock()
	count := s.shots.Len()
	s.mutex.Unlock()
	assert.Equal(t, 2, count)
	s.StopExecution()
}

func TestShotWithoutActiveRepeatDropped(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	tr.deliver(shotReport("tgt-a", "Azone", nil))

	s.mutex.Lock()
	count := s.shots.Len()
	s.mutex.Unlock()
	assert.Equal(t, 0, count)
}

func TestEndAckFromLastTargetFinalizes(t *testing.T) {
	tr := newFakeTransport()
	finalized := make(chan struct{})
	s := NewSession(tr, twoTargetConfig(), WithCallbacks(Callbacks{
		OnRepeatFinalized: func(int) { close(finalized) },
	}))
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	tr.deliver(shotReport("tgt-a", "Azone", nil))

	// tgt-a is not last in sequence, its end ack must not complete
	tr.deliver(endAck("tgt-a", 2.5))
	assert.Equal(t, StateRunning, s.State())

	tr.deliver(endAck("tgt-b", 3.5))
	waitFor(t, finalized, "repeat finalized")
	assert.Equal(t, StateIdle, s.State())
	// end command echoed to all targets
	assert.Contains(t, tr.sentCommands(), "end")

	summaries := s.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].RepeatIndex)
	assert.Equal(t, 1, summaries[0].ShotCount)
}

func TestEndGuardTimeoutFinalizes(t *testing.T) {
	tr := newFakeTransport()
	finalized := make(chan struct{})
	s := NewSession(tr,
		twoTargetConfig(),
		WithEndTimeout(50*time.Millisecond),
		WithCallbacks(Callbacks{
			OnRepeatFinalized: func(int) { close(finalized) },
		}))
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	tr.deliver(shotReport("tgt-b", "popperzone", nil))

	waitFor(t, finalized, "end guard finalization")
	summaries := s.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].ShotCount)
}

func TestGracePeriodRetainsLateShots(t *testing.T) {
	tr := newFakeTransport()
	finalized := make(chan struct{})
	s := NewSession(tr,
		twoTargetConfig(),
		WithGracePeriod(150*time.Millisecond),
		WithCallbacks(Callbacks{
			OnRepeatFinalized: func(int) { close(finalized) },
		}))
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	tr.deliver(shotReport("tgt-a", "Azone", nil))

	require.NoError(t, s.ManualStopRepeat())
	assert.Equal(t, StateAwaitingGrace, s.State())
	// a report already in the wireless pipe when the stop was issued
	time.Sleep(30 * time.Millisecond)
	tr.deliver(shotReport("tgt-b", "popperzone", nil))

	waitFor(t, finalized, "grace finalization")
	summaries := s.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].ShotCount)
	assert.Equal(t, "Azone", summaries[0].Shots[0].HitArea)
	assert.Equal(t, "popperzone", summaries[0].Shots[1].HitArea)
}

func TestManualStopRequiresRunningState(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	assert.ErrorIs(t, s.ManualStopRepeat(), ErrInvalidState)
}

func TestManualStopWhileDisconnected(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()

	assert.ErrorIs(t, s.ManualStopRepeat(), ErrTransportUnavailable)
	// no side effects: still running, shots still accepted
	assert.Equal(t, StateRunning, s.State())
	s.StopExecution()
}

func TestStopExecutionIsTerminal(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))

	s.StopExecution()
	assert.ErrorIs(t, s.ManualStopRepeat(), ErrSessionStopped)
	assert.ErrorIs(t, s.PerformReadinessCheck(2, []string{"tgt-a"}), ErrSessionStopped)

	tr.deliver(shotReport("tgt-a", "Azone", nil))
	s.mutex.Lock()
	count := s.shots.Len()
	s.mutex.Unlock()
	assert.Equal(t, 0, count)
	assert.Empty(t, s.Summaries())
}

func TestCompleteReportsSummaries(t *testing.T) {
	tr := newFakeTransport()
	var completed []*model.RepeatSummary
	s := NewSession(tr, twoTargetConfig(), WithCallbacks(Callbacks{
		OnComplete: func(summaries []*model.RepeatSummary) { completed = summaries },
	}))
	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	tr.deliver(shotReport("tgt-a", "Azone", nil))
	tr.deliver(endAck("tgt-b", 2.0))

	s.Complete()
	require.Len(t, completed, 1)
	assert.Equal(t, 1, completed[0].RepeatIndex)
}

func TestReadinessRejectedWhileRepeatInFlight(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	require.Equal(t, StateRunning, s.State())
	tr.deliver(shotReport("tgt-a", "Azone", nil))

	// the active repeat keeps its ledger and state
	err := s.PerformReadinessCheck(2, []string{"tgt-a", "tgt-b"})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateRunning, s.State())
	s.mutex.Lock()
	count := s.shots.Len()
	s.mutex.Unlock()
	assert.Equal(t, 1, count)

	tr.deliver(endAck("tgt-b", 3.5))
	assert.Equal(t, StateIdle, s.State())
	require.Len(t, s.Summaries(), 1)
	assert.Equal(t, 1, s.Summaries()[0].ShotCount)
}

func TestReadinessRejectedDuringGrace(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, twoTargetConfig())

	require.NoError(t, s.PerformReadinessCheck(1, []string{"tgt-a", "tgt-b"}))
	tr.deliver(readyAck("tgt-a", "0"))
	tr.deliver(readyAck("tgt-b", "0"))
	require.NoError(t, s.ManualStopRepeat())
	require.Equal(t, StateAwaitingGrace, s.State())

	err := s.PerformReadinessCheck(2, []string{"tgt-a", "tgt-b"})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateAwaitingGrace, s.State())
}
