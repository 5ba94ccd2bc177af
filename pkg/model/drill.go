package model

// TargetConfig describes one physical target slot in a drill.
// Immutable once a drill starts.
type TargetConfig struct {
	// defines the ordering; first/last target in sequence are special
	SequenceNumber int `json:"sequenceNumber" yaml:"sequenceNumber"`
	// device identity used to route messages and attribute shots
	TargetName string `json:"targetName" yaml:"targetName"`
	// free-text category (e.g. "ipsc", "paddle", "popper"), drives scoring
	TargetType     string `json:"targetType"     yaml:"targetType"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	CountedShots   int    `json:"countedShots"   yaml:"countedShots"`
}

// DrillConfig is the read-only drill definition handed to a session.
type DrillConfig struct {
	Name    string         `json:"name"    yaml:"name"`
	Repeats int            `json:"repeats" yaml:"repeats"`
	Targets []TargetConfig `json:"targets" yaml:"targets"`
}
