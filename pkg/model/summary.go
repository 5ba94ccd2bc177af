package model

// RepeatSummary is the finalized, immutable result of one repeat.
type RepeatSummary struct {
	// 1-based repeat index
	RepeatIndex int `json:"repeatIndex"`
	// elapsed from the start command to the last shot
	TotalTimeSeconds       float64 `json:"totalTimeSeconds"`
	ShotCount              int     `json:"shotCount"`
	FirstShotSeconds       float64 `json:"firstShotSeconds"`
	FastestIntervalSeconds float64 `json:"fastestIntervalSeconds"`
	// post-penalty, never negative
	Score int `json:"score"`
	// shots ordered by acceptance time with recomputed absolute offsets
	Shots []ShotRecord `json:"shots"`
}
