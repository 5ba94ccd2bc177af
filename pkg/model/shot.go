package model

import "time"

// ShotRecord is one reported hit, already normalized by the ingest layer.
// Immutable after creation.
type ShotRecord struct {
	// device name as reported by the transport envelope
	Device string `json:"device"`
	// target name carried in the shot payload (may differ from Device)
	Target string `json:"target"`
	// zone label, matched case/whitespace-insensitive by the scoring engine
	HitArea    string `json:"hitArea"`
	TargetType string `json:"targetType"`
	// nil means: accept into whichever repeat is currently active
	RepeatNumber *int `json:"repeatNumber,omitempty"`
	// auxiliary fields carried through unchanged
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`
	Rotation  float64 `json:"rotation"`
	// per-target time offset as reported by the device; the finalizer
	// rewrites this with the offset computed from the acceptance time
	ShotTime float64 `json:"shotTime"`
}

// Identifier returns the key the scoring engine groups shots by.
func (s *ShotRecord) Identifier() string {
	if s.Device != "" {
		return s.Device
	}
	if s.Target != "" {
		return s.Target
	}
	return "unknown"
}

// ShotEvent is a ShotRecord plus the time the core accepted it.
type ShotEvent struct {
	Shot       ShotRecord
	ReceivedAt time.Time
}
