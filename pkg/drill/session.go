// Package drill contains the drill-execution state machine: the readiness
// handshake, the start/end lifecycle of a repeat, shot ingestion and the
// repeat finalizer. One Session owns one drill; the transport is injected.
package drill

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/ledger"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport"
)

var (
	ErrTransportUnavailable = errors.New("transport is not connected")
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrSessionStopped       = errors.New("session has been stopped")
)

const (
	defaultAckTimeout  = 10 * time.Second
	defaultEndTimeout  = 30 * time.Second
	defaultGracePeriod = 3 * time.Second
	// safety ceiling sent with the ready command, not the operative
	// drill timeout
	readyTimeoutCeiling = 300
)

type Session struct {
	mutex sync.Mutex
	l     *log.Logger
	tr    transport.Transport
	cfg   *model.DrillConfig
	cb    Callbacks

	ackTimeout  time.Duration
	endTimeout  time.Duration
	gracePeriod time.Duration

	// targets ordered by sequence number
	targets    []model.TargetConfig
	lastTarget string

	state         State
	repeat        int
	readinessOnly bool

	expected []string
	acked    map[string]bool
	// first non-"0" delay_time observed during readiness wins
	sharedDelay string

	// zero value means: no active repeat start recorded
	repeatStart time.Time
	shots       *ledger.Ledger
	// repeat summaries stored by index position (1-based repeat -> idx-1)
	summaries []*model.RepeatSummary

	listening bool
	stopped   bool

	ackGuard, endGuard, graceTimer *time.Timer
	// generation counters guard against stale timer firings
	ackGen, endGen, graceGen int
}

func NewSession(tr transport.Transport, cfg *model.DrillConfig, opts ...Option) *Session {
	targets := slices.Clone(cfg.Targets)
	slices.SortStableFunc(targets, func(a, b model.TargetConfig) int {
		return a.SequenceNumber - b.SequenceNumber
	})
	ret := &Session{
		l:           log.Default().Named("drill"),
		tr:          tr,
		cfg:         cfg,
		targets:     targets,
		ackTimeout:  defaultAckTimeout,
		endTimeout:  defaultEndTimeout,
		gracePeriod: defaultGracePeriod,
		state:       StateIdle,
		acked:       make(map[string]bool),
		shots:       ledger.New(),
		summaries:   make([]*model.RepeatSummary, 0),
		listening:   true,
	}
	if len(targets) > 0 {
		ret.lastTarget = targets[len(targets)-1].TargetName
	}
	for _, opt := range opts {
		opt(ret)
	}
	tr.SetHandler(ret.OnInbound)
	return ret
}

// OnInbound dispatches a decoded device message. Safe to call from any
// goroutine; the session serializes all state mutation.
func (s *Session) OnInbound(msg *transport.Inbound) {
	s.mutex.Lock()
	var notices []func()
	switch {
	case msg.Shot != nil:
		s.onShotReceived(msg.Shot)
	case msg.Ack == transport.AckReady:
		notices = s.onReadyAck(msg.Device, msg.DelayTime)
	case msg.Ack == transport.AckEnd:
		notices = s.onEndAck(msg.Device, msg.DrillDuration)
	default:
		s.l.Debug("ignoring inbound message",
			log.String("device", msg.Device),
			log.String("ack", msg.Ack))
	}
	s.mutex.Unlock()
	fire(notices)
}

// onShotReceived implements shot ingestion. Caller holds the mutex.
func (s *Session) onShotReceived(shot *model.ShotRecord) {
	if !s.listening {
		s.l.Debug("shot dropped, listener detached",
			log.String("device", shot.Device))
		return
	}
	if s.repeatStart.IsZero() {
		s.l.Debug("shot dropped, no active repeat",
			log.String("device", shot.Device),
			log.String("hitArea", shot.HitArea))
		return
	}
	if shot.RepeatNumber != nil && *shot.RepeatNumber != s.repeat {
		s.l.Debug("shot dropped, repeat mismatch",
			log.String("device", shot.Device),
			log.Int("got", *shot.RepeatNumber),
			log.Int("active", s.repeat))
		return
	}
	s.shots.Append(*shot, time.Now())
	s.l.Debug("shot accepted",
		log.String("device", shot.Device),
		log.String("hitArea", shot.HitArea),
		log.Int("repeat", s.repeat),
		log.Int("count", s.shots.Len()))
}

// StopExecution is the hard-kill path: cancels all timers, detaches the
// shot listener and leaves the session terminal. No finalization occurs.
func (s *Session) StopExecution() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopTimersLocked()
	s.listening = false
	s.stopped = true
	s.state = StateIdle
	s.l.Info("session stopped", log.Int("repeat", s.repeat))
}

// Complete finishes the drill: reports all summaries collected so far and
// detaches the shot listener.
func (s *Session) Complete() {
	s.mutex.Lock()
	summaries := s.summariesLocked()
	s.stopTimersLocked()
	s.listening = false
	s.state = StateIdle
	cb := s.cb.OnComplete
	s.mutex.Unlock()
	if cb != nil {
		cb(summaries)
	}
}

// Summaries returns the finalized repeat summaries in repeat order.
// Repeats skipped for lack of shots are absent.
func (s *Session) Summaries() []*model.RepeatSummary {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.summariesLocked()
}

// State returns the current execution state.
func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Session) summariesLocked() []*model.RepeatSummary {
	ret := make([]*model.RepeatSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		if sum != nil {
			ret = append(ret, sum)
		}
	}
	return ret
}

func (s *Session) stopTimersLocked() {
	for _, t := range []*time.Timer{s.ackGuard, s.endGuard, s.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.ackGen++
	s.endGen++
	s.graceGen++
}

func (s *Session) failureNotice() []func() {
	if s.cb.OnFailure == nil {
		return nil
	}
	return []func(){s.cb.OnFailure}
}

func fire(notices []func()) {
	for _, n := range notices {
		n()
	}
}
