package drill

import (
	"time"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

// Callbacks are how the session reports progress to its caller. All
// callbacks are optional and invoked outside the session mutex.
type Callbacks struct {
	// reported continuously as acks arrive
	OnReadinessProgress func(acked, expected int)
	// ack guard timer elapsed; carries the non-responsive device names
	OnReadinessTimeout func(nonResponsive []string)
	OnRepeatFinalized  func(repeatIndex int)
	OnComplete         func(summaries []*model.RepeatSummary)
	OnFailure          func()
}

type Option func(*Session)

func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.l = l
	}
}

func WithCallbacks(cb Callbacks) Option {
	return func(s *Session) {
		s.cb = cb
	}
}

// WithAckTimeout overrides the readiness guard timer (default 10s).
func WithAckTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.ackTimeout = d
	}
}

// WithEndTimeout overrides the repeat completion guard timer (default 30s).
func WithEndTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.endTimeout = d
	}
}

// WithGracePeriod overrides the post-manual-stop window (default 3s).
func WithGracePeriod(d time.Duration) Option {
	return func(s *Session) {
		s.gracePeriod = d
	}
}
