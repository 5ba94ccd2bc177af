package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

func TestLedgerSortedByAcceptanceTime(t *testing.T) {
	l := New()
	base := time.Now()
	l.Append(model.ShotRecord{Device: "t2"}, base.Add(200*time.Millisecond))
	l.Append(model.ShotRecord{Device: "t1"}, base)
	l.Append(model.ShotRecord{Device: "t3"}, base.Add(100*time.Millisecond))

	got := l.Sorted()
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, "t1", got[0].Shot.Device)
	assert.Equal(t, "t3", got[1].Shot.Device)
	assert.Equal(t, "t2", got[2].Shot.Device)
}

func TestLedgerSortedReturnsCopy(t *testing.T) {
	l := New()
	l.Append(model.ShotRecord{Device: "t1"}, time.Now())
	got := l.Sorted()
	got[0].Shot.Device = "changed"
	assert.Equal(t, "t1", l.Sorted()[0].Shot.Device)
}

func TestLedgerClear(t *testing.T) {
	l := New()
	l.Append(model.ShotRecord{Device: "t1"}, time.Now())
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Sorted())
}
