package drill

import (
	"fmt"
	"time"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport"
)

// StartExecution sends the synchronized start command to all targets and
// arms the completion guard timer. Normally invoked internally after a
// successful readiness check but exposed for callers that skip the
// handshake.
func (s *Session) StartExecution() error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return ErrSessionStopped
	}
	if s.state == StateRunning || s.state == StateAwaitingGrace {
		s.mutex.Unlock()
		return ErrInvalidState
	}
	notices, err := s.startExecutionLocked()
	s.mutex.Unlock()
	fire(notices)
	return err
}

func (s *Session) startExecutionLocked() ([]func(), error) {
	if !s.tr.IsConnected() {
		s.state = StateIdle
		return s.failureNotice(), ErrTransportUnavailable
	}
	if err := s.tr.Send(transport.NewStartMessage(s.sharedDelay)); err != nil {
		s.state = StateIdle
		return s.failureNotice(), fmt.Errorf("could not send start: %w", err)
	}
	s.repeatStart = time.Now()
	s.state = StateRunning
	s.l.Info("repeat started",
		log.Int("repeat", s.repeat),
		log.String("delayTime", s.sharedDelay))

	if len(s.expected) == 0 {
		// no device will ever signal the end
		notices := s.finalizeLocked(s.repeat)
		s.state = StateIdle
		return notices, nil
	}

	s.endGen++
	gen := s.endGen
	s.endGuard = time.AfterFunc(s.endTimeout, func() { s.onEndGuard(gen) })
	return nil, nil
}

// onEndAck processes an end acknowledgment. Only the target holding the
// last sequence position completes the repeat; duration data from other
// devices is extracted but not acted upon. Caller holds the mutex.
func (s *Session) onEndAck(device string, drillDuration float64) []func() {
	if s.state != StateRunning {
		s.l.Debug("end ack outside running state ignored",
			log.String("device", device),
			log.Stringer("state", s.state))
		return nil
	}
	if device != s.lastTarget {
		s.l.Debug("end ack from non-last target",
			log.String("device", device),
			log.Float64("drillDuration", drillDuration))
		return nil
	}

	s.endGen++
	if s.endGuard != nil {
		s.endGuard.Stop()
	}
	if err := s.tr.Send(transport.NewEndMessage()); err != nil {
		s.l.Warn("could not echo end command", log.ErrorField(err))
	}
	s.l.Info("repeat ended by last target",
		log.String("device", device),
		log.Float64("drillDuration", drillDuration))
	notices := s.finalizeLocked(s.repeat)
	s.state = StateIdle
	return notices
}

func (s *Session) onEndGuard(gen int) {
	s.mutex.Lock()
	if gen != s.endGen || s.state != StateRunning {
		s.mutex.Unlock()
		return
	}
	s.l.Warn("end guard elapsed, finalizing with collected shots",
		log.Int("repeat", s.repeat),
		log.Int("shots", s.shots.Len()))
	notices := s.finalizeLocked(s.repeat)
	s.state = StateIdle
	s.mutex.Unlock()
	fire(notices)
}

// ManualStopRepeat is the operator stop: the end command goes out
// immediately, then a fixed grace period keeps the shot listener active
// for reports that were already in the wireless pipe.
func (s *Session) ManualStopRepeat() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	if s.state != StateRunning {
		return ErrInvalidState
	}
	if !s.tr.IsConnected() {
		return ErrTransportUnavailable
	}
	if err := s.tr.Send(transport.NewEndMessage()); err != nil {
		return fmt.Errorf("could not send end: %w", err)
	}
	s.endGen++
	if s.endGuard != nil {
		s.endGuard.Stop()
	}
	s.state = StateAwaitingGrace
	s.graceGen++
	gen := s.graceGen
	s.graceTimer = time.AfterFunc(s.gracePeriod, func() { s.onGraceElapsed(gen) })
	s.l.Info("manual stop, grace period started",
		log.Int("repeat", s.repeat),
		log.Duration("grace", s.gracePeriod))
	return nil
}

func (s *Session) onGraceElapsed(gen int) {
	s.mutex.Lock()
	if gen != s.graceGen || s.state != StateAwaitingGrace {
		s.mutex.Unlock()
		return
	}
	s.l.Debug("grace period elapsed",
		log.Int("repeat", s.repeat),
		log.Int("shots", s.shots.Len()))
	notices := s.finalizeLocked(s.repeat)
	s.state = StateIdle
	s.mutex.Unlock()
	fire(notices)
}
