package drill

import (
	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/scoring"
)

// finalizeLocked turns the collected shots into an immutable repeat
// summary. Caller holds the mutex. Whatever goes wrong here is logged and
// treated as "no summary for this repeat"; finalization never takes down
// the session.
func (s *Session) finalizeLocked(repeatIdx int) (notices []func()) {
	defer func() {
		if r := recover(); r != nil {
			s.l.Error("finalize failed",
				log.Int("repeat", repeatIdx),
				log.Any("reason", r))
			notices = nil
		}
	}()

	if repeatIdx < 1 {
		s.l.Error("invalid repeat index", log.Int("repeat", repeatIdx))
		return nil
	}
	if s.repeatStart.IsZero() {
		s.l.Debug("finalize skipped, no repeat start recorded",
			log.Int("repeat", repeatIdx))
		return nil
	}

	events := s.shots.Sorted()
	if len(events) == 0 {
		// keep the start time so a later retry (e.g. after the grace
		// period admits shots) can still succeed
		s.l.Info("no shots in repeat, skipping summary",
			log.Int("repeat", repeatIdx))
		s.shots.Clear()
		return nil
	}

	offsets := make([]float64, len(events))
	shots := make([]model.ShotRecord, len(events))
	for i, ev := range events {
		offsets[i] = ev.ReceivedAt.Sub(s.repeatStart).Seconds()
		shots[i] = ev.Shot
		// the device-reported offset is replaced with the one computed
		// from the acceptance time
		shots[i].ShotTime = offsets[i]
	}
	firstShot := offsets[0]
	totalTime := offsets[len(offsets)-1]
	fastest := firstShot
	if len(offsets) > 1 {
		fastest = offsets[1] - offsets[0]
		for i := 2; i < len(offsets); i++ {
			if gap := offsets[i] - offsets[i-1]; gap < fastest {
				fastest = gap
			}
		}
	}

	summary := &model.RepeatSummary{
		RepeatIndex:            repeatIdx,
		TotalTimeSeconds:       totalTime,
		ShotCount:              len(shots),
		FirstShotSeconds:       firstShot,
		FastestIntervalSeconds: fastest,
		Score:                  scoring.Score(shots, s.targets),
		Shots:                  shots,
	}
	// stored by index position, so re-finalizing overwrites
	for len(s.summaries) < repeatIdx {
		s.summaries = append(s.summaries, nil)
	}
	s.summaries[repeatIdx-1] = summary
	s.shots.Clear()

	s.l.Info("repeat finalized",
		log.Int("repeat", repeatIdx),
		log.Int("shots", summary.ShotCount),
		log.Int("score", summary.Score),
		log.Float64("totalTime", summary.TotalTimeSeconds))
	if cb := s.cb.OnRepeatFinalized; cb != nil {
		notices = append(notices, func() { cb(repeatIdx) })
	}
	return notices
}
