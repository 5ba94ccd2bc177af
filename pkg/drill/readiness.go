package drill

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport"
)

// PerformReadinessCheck drives the ready handshake for the given repeat
// number. On full acknowledgment execution starts right away; on guard
// timeout the check is marked failed and the non-responsive devices are
// reported via OnReadinessTimeout.
func (s *Session) PerformReadinessCheck(repeat int, expectedDeviceIds []string) error {
	return s.performReadiness(repeat, expectedDeviceIds, false)
}

// PerformReadinessCheckOnly runs the handshake without starting
// execution afterwards. A guard timeout is communicated through the
// timeout callback alone, not as a session failure.
func (s *Session) PerformReadinessCheckOnly(repeat int, expectedDeviceIds []string) error {
	return s.performReadiness(repeat, expectedDeviceIds, true)
}

func (s *Session) performReadiness(repeat int, expected []string, checkOnly bool) error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return ErrSessionStopped
	}
	// a repeat in flight must be completed or stopped first; clearing the
	// ledger mid-repeat would lose its shots
	if s.state == StateRunning || s.state == StateAwaitingGrace {
		s.mutex.Unlock()
		return ErrInvalidState
	}
	if !s.tr.IsConnected() {
		var notices []func()
		if !checkOnly {
			notices = s.failureNotice()
		}
		s.mutex.Unlock()
		fire(notices)
		return ErrTransportUnavailable
	}

	// a new readiness cycle clears the prior repeat's timestamps and the
	// ledger; this is the only place the ledger is cleared between repeats
	s.repeatStart = time.Time{}
	s.sharedDelay = ""
	s.shots.Clear()
	s.repeat = repeat
	s.readinessOnly = checkOnly
	s.expected = slices.Clone(expected)
	s.acked = make(map[string]bool)
	s.ackGen++
	s.listening = true
	s.state = StateAwaitingAcks

	for i, target := range s.targets {
		msg := transport.NewReadyMessage(target.TargetName, transport.ReadyContent{
			Delay:        0,
			TargetType:   target.TargetType,
			Timeout:      readyTimeoutCeiling,
			CountedShots: target.CountedShots,
			Repeat:       repeat,
			IsFirst:      i == 0,
			IsLast:       i == len(s.targets)-1,
		})
		if err := s.tr.Send(msg); err != nil {
			s.state = StateIdle
			var notices []func()
			if !checkOnly {
				notices = s.failureNotice()
			}
			s.mutex.Unlock()
			fire(notices)
			return fmt.Errorf("could not send ready to %s: %w", target.TargetName, err)
		}
	}
	s.l.Info("readiness check started",
		log.Int("repeat", repeat),
		log.Int("targets", len(s.targets)),
		log.Int("expected", len(expected)))

	if len(expected) == 0 {
		// no devices to wait for
		notices := s.finishWaitingForAcksLocked(true, nil)
		s.mutex.Unlock()
		fire(notices)
		return nil
	}

	gen := s.ackGen
	s.ackGuard = time.AfterFunc(s.ackTimeout, func() { s.onAckGuard(gen) })
	s.mutex.Unlock()
	return nil
}

// onReadyAck processes one ready acknowledgment. Caller holds the mutex.
func (s *Session) onReadyAck(device, delayTime string) []func() {
	if s.state != StateAwaitingAcks {
		s.l.Debug("stale ready ack ignored",
			log.String("device", device),
			log.Stringer("state", s.state))
		return nil
	}
	if delayTime != "" && delayTime != "0" && s.sharedDelay == "" {
		// first non-zero delay wins, no reconciliation across devices
		s.sharedDelay = delayTime
		s.l.Debug("shared start delay recorded",
			log.String("device", device),
			log.String("delayTime", delayTime))
	}
	if !slices.Contains(s.expected, device) {
		s.l.Debug("ready ack from unexpected device", log.String("device", device))
		return nil
	}
	s.acked[device] = true

	ackedCount := len(s.acked)
	expectedCount := len(s.expected)
	var notices []func()
	if cb := s.cb.OnReadinessProgress; cb != nil {
		notices = append(notices, func() { cb(ackedCount, expectedCount) })
	}
	if ackedCount == expectedCount {
		notices = append(notices, s.finishWaitingForAcksLocked(true, nil)...)
	}
	return notices
}

func (s *Session) onAckGuard(gen int) {
	s.mutex.Lock()
	if gen != s.ackGen || s.state != StateAwaitingAcks {
		s.mutex.Unlock()
		return
	}
	nonResponsive := lo.Without(s.expected, lo.Keys(s.acked)...)
	notices := s.finishWaitingForAcksLocked(false, nonResponsive)
	s.mutex.Unlock()
	fire(notices)
}

// finishWaitingForAcksLocked resolves the readiness cycle exactly once;
// anything arriving later sees a different state or generation and is a
// no-op.
func (s *Session) finishWaitingForAcksLocked(success bool, nonResponsive []string) []func() {
	if s.state != StateAwaitingAcks {
		return nil
	}
	s.ackGen++
	if s.ackGuard != nil {
		s.ackGuard.Stop()
	}

	if success {
		s.l.Info("readiness check complete",
			log.Int("repeat", s.repeat),
			log.Int("acked", len(s.acked)))
		if s.readinessOnly {
			s.state = StateIdle
			return nil
		}
		notices, err := s.startExecutionLocked()
		if err != nil {
			s.l.Error("could not start execution after readiness",
				log.ErrorField(err))
		}
		return notices
	}

	s.l.Warn("readiness check timed out",
		log.Int("repeat", s.repeat),
		log.Int("acked", len(s.acked)),
		log.Int("expected", len(s.expected)),
		log.Any("nonResponsive", nonResponsive))
	s.state = StateIdle
	var notices []func()
	if cb := s.cb.OnReadinessTimeout; cb != nil {
		notices = append(notices, func() { cb(nonResponsive) })
	}
	if !s.readinessOnly {
		notices = append(notices, s.failureNotice()...)
	}
	return notices
}
