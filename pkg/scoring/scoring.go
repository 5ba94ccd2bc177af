// Package scoring computes the score of one repeat from the collected
// shots and the drill's target list. It is pure: identical inputs always
// yield an identical score.
package scoring

import (
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

const (
	missedTargetPenalty = 10
	// shots kept per target unless the target type is exempt
	maxCountedShots = 2
)

// zone values are matched case/whitespace-insensitive
func zoneValue(label string) int {
	switch normalizeZone(label) {
	case "azone":
		return 5
	case "czone":
		return 3
	case "dzone":
		return 2
	case "paddlecircle", "poppercircle", "popperzone":
		return 5
	case "miss":
		return -15
	case "whitezone":
		return -25
	case "blackzone":
		return -10
	default:
		return 0
	}
}

func normalizeZone(label string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToLower(label))
}

func isNoShootZone(label string) bool {
	n := normalizeZone(label)
	return n == "whitezone" || n == "blackzone"
}

// paddle and popper targets count every hit, all other types count the
// best two
func isUncappedType(targetType string) bool {
	t := strings.ToLower(strings.TrimSpace(targetType))
	return t == "paddle" || t == "popper"
}

// Score computes the post-penalty score of a repeat. The result is
// clamped to zero.
func Score(shots []model.ShotRecord, targets []model.TargetConfig) int {
	groups := lo.GroupBy(shots, func(s model.ShotRecord) string {
		return s.Identifier()
	})
	configured := configuredTypes(targets)

	total := 0
	for name, group := range groups {
		targetType := configured[name]
		if targetType == "" {
			targetType = groupTargetType(group)
		}
		total += scoreTarget(group, targetType)
	}

	expected := lo.FilterMap(targets, func(t model.TargetConfig, _ int) (string, bool) {
		return t.TargetName, t.TargetName != ""
	})
	missing := lo.Without(lo.Uniq(expected), lo.Keys(groups)...)
	total -= missedTargetPenalty * len(missing)

	if total < 0 {
		return 0
	}
	return total
}

func scoreTarget(group []model.ShotRecord, targetType string) int {
	noShoot := lo.Filter(group, func(s model.ShotRecord, _ int) bool {
		return isNoShootZone(s.HitArea)
	})
	other := lo.Filter(group, func(s model.ShotRecord, _ int) bool {
		return !isNoShootZone(s.HitArea)
	})

	if !isUncappedType(targetType) && len(other) > maxCountedShots {
		sort.SliceStable(other, func(i, j int) bool {
			return zoneValue(other[i].HitArea) > zoneValue(other[j].HitArea)
		})
		other = other[:maxCountedShots]
	}

	sum := func(acc int, s model.ShotRecord, _ int) int {
		return acc + zoneValue(s.HitArea)
	}
	return lo.Reduce(noShoot, sum, 0) + lo.Reduce(other, sum, 0)
}

// the configured type wins over the shot-carried one; older firmware
// omits the type field entirely
func configuredTypes(targets []model.TargetConfig) map[string]string {
	ret := make(map[string]string, len(targets))
	for _, t := range targets {
		if t.TargetName != "" && t.TargetType != "" {
			ret[t.TargetName] = t.TargetType
		}
	}
	return ret
}

func groupTargetType(group []model.ShotRecord) string {
	for i := range group {
		if group[i].TargetType != "" {
			return group[i].TargetType
		}
	}
	return ""
}
