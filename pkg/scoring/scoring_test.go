//nolint:funlen // ok for tests
package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

func shot(device, hitArea, targetType string) model.ShotRecord {
	return model.ShotRecord{Device: device, HitArea: hitArea, TargetType: targetType}
}

func singleTarget(name string) []model.TargetConfig {
	return []model.TargetConfig{{SequenceNumber: 1, TargetName: name, TargetType: "ipsc"}}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		shots   []model.ShotRecord
		targets []model.TargetConfig
		want    int
	}{
		{
			name: "best two kept on standard target",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "ipsc"),
				shot("t1", "Azone", "ipsc"),
				shot("t1", "Czone", "ipsc"),
				shot("t1", "Czone", "ipsc"),
				shot("t1", "Dzone", "ipsc"),
			},
			targets: singleTarget("t1"),
			want:    10,
		},
		{
			name: "popper keeps every hit",
			shots: []model.ShotRecord{
				shot("t1", "popperzone", "popper"),
				shot("t1", "popperzone", "popper"),
				shot("t1", "popperzone", "popper"),
				shot("t1", "popperzone", "popper"),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1", TargetType: "popper"},
			},
			want: 20,
		},
		{
			name: "popper exemption from configured type when shots omit it",
			shots: []model.ShotRecord{
				shot("t1", "popperzone", ""),
				shot("t1", "popperzone", ""),
				shot("t1", "popperzone", ""),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1", TargetType: "popper"},
			},
			want: 15,
		},
		{
			name: "configured type wins over shot-carried type",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "popper"),
				shot("t1", "Azone", "popper"),
				shot("t1", "Czone", "popper"),
			},
			targets: singleTarget("t1"),
			want:    10,
		},
		{
			name: "paddle type matched case-insensitive",
			shots: []model.ShotRecord{
				shot("t1", "PaddleCircle", "Paddle"),
				shot("t1", "PaddleCircle", "Paddle"),
				shot("t1", "PaddleCircle", "Paddle"),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1", TargetType: "paddle"},
			},
			want: 15,
		},
		{
			name: "no-shoot zone always counted",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "ipsc"),
				shot("t1", "whitezone", "ipsc"),
			},
			targets: singleTarget("t1"),
			// -20 from the target, -0 missing, clamped to 0
			want: 0,
		},
		{
			name: "no-shoot zone not displaced by best-two cap",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "ipsc"),
				shot("t1", "Azone", "ipsc"),
				shot("t1", "Azone", "ipsc"),
				shot("t1", "blackzone", "ipsc"),
				shot("t2", "Azone", "ipsc"),
				shot("t2", "Azone", "ipsc"),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1"},
				{SequenceNumber: 2, TargetName: "t2"},
			},
			// t1: 5+5-10, t2: 5+5
			want: 10,
		},
		{
			name: "missed target penalty",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "ipsc"),
				shot("t2", "Azone", "ipsc"),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1"},
				{SequenceNumber: 2, TargetName: "t2"},
				{SequenceNumber: 3, TargetName: "t3"},
			},
			want: 0,
		},
		{
			name: "floor at zero",
			shots: []model.ShotRecord{
				shot("t1", "whitezone", "ipsc"),
				shot("t1", "miss", "ipsc"),
			},
			targets: singleTarget("t1"),
			want:    0,
		},
		{
			name: "zone labels matched whitespace-insensitive",
			shots: []model.ShotRecord{
				shot("t1", " A zone ", "ipsc"),
				shot("t1", "c Zone", "ipsc"),
			},
			targets: singleTarget("t1"),
			want:    8,
		},
		{
			name: "unknown zone label counts zero",
			shots: []model.ShotRecord{
				shot("t1", "frame", "ipsc"),
				shot("t1", "Azone", "ipsc"),
			},
			targets: singleTarget("t1"),
			want:    5,
		},
		{
			name: "identifier falls back to target then unknown",
			shots: []model.ShotRecord{
				{Target: "t1", HitArea: "Azone", TargetType: "ipsc"},
				{HitArea: "Azone", TargetType: "ipsc"},
			},
			targets: singleTarget("t1"),
			want:    10,
		},
		{
			name:    "no shots at all",
			shots:   []model.ShotRecord{},
			targets: singleTarget("t1"),
			want:    0,
		},
		{
			name: "empty target names carry no penalty",
			shots: []model.ShotRecord{
				shot("t1", "Azone", "ipsc"),
			},
			targets: []model.TargetConfig{
				{SequenceNumber: 1, TargetName: "t1"},
				{SequenceNumber: 2, TargetName: ""},
			},
			want: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.shots, tt.targets)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	shots := []model.ShotRecord{
		shot("t1", "Azone", "ipsc"),
		shot("t2", "Czone", "ipsc"),
		shot("t1", "whitezone", "ipsc"),
		shot("t3", "popperzone", "popper"),
	}
	targets := []model.TargetConfig{
		{SequenceNumber: 1, TargetName: "t1"},
		{SequenceNumber: 2, TargetName: "t2"},
		{SequenceNumber: 3, TargetName: "t3"},
		{SequenceNumber: 4, TargetName: "t4"},
	}
	first := Score(shots, targets)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Score(shots, targets))
	}
}

func TestScoreDoesNotMutateInput(t *testing.T) {
	shots := []model.ShotRecord{
		shot("t1", "Dzone", "ipsc"),
		shot("t1", "Azone", "ipsc"),
		shot("t1", "Czone", "ipsc"),
	}
	Score(shots, singleTarget("t1"))
	assert.Equal(t, "Dzone", shots[0].HitArea)
	assert.Equal(t, "Azone", shots[1].HitArea)
	assert.Equal(t, "Czone", shots[2].HitArea)
}
