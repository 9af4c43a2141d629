package gossip

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T, capacity int) *CloneDetector {
	t.Helper()
	d, err := NewCloneDetector("A", testRegions, capacity, nil)
	require.NoError(t, err)
	return d
}

func msg(from NodeID, epoch uint64, x float64) Message {
	return Message{NetworkID: "GTI", From: from, Status: "STABLE", X: x, Epoch: epoch}
}

func TestCheckConflictRaisesOnDifferentX(t *testing.T) {
	d := newTestDetector(t, 0)

	_, fired := d.CheckConflict(msg("B", 5, 1.00))
	require.False(t, fired)

	alert, fired := d.CheckConflict(msg("B", 5, 1.05))
	require.True(t, fired)
	assert.Equal(t, NodeID("B"), alert.Suspect)
	assert.Equal(t, AlertEpochConflict, alert.Kind)
	assert.Equal(t, uint64(5), alert.Epoch)
	assert.Equal(t, Region("north"), alert.Region)
}

func TestCheckConflictToleratesSmallDelta(t *testing.T) {
	d := newTestDetector(t, 0)

	_, fired := d.CheckConflict(msg("B", 5, 1.00))
	require.False(t, fired)
	_, fired = d.CheckConflict(msg("B", 5, 1.005))
	assert.False(t, fired)

	_, ok := d.Fired()
	assert.False(t, ok)
}

func TestCheckConflictFirstSeenWins(t *testing.T) {
	d := newTestDetector(t, 0)

	d.CheckConflict(msg("B", 5, 1.00))
	d.CheckConflict(msg("B", 5, 1.008)) // within tolerance, not logged
	_, fired := d.CheckConflict(msg("B", 5, 1.015))

	assert.True(t, fired, "compared against the first value, not the last")
}

func TestCheckConflictDistinguishesEpochs(t *testing.T) {
	d := newTestDetector(t, 0)

	d.CheckConflict(msg("B", 5, 1.00))
	_, fired := d.CheckConflict(msg("B", 6, 2.00))
	assert.False(t, fired)
	_, fired = d.CheckConflict(msg("C", 5, 2.00))
	assert.False(t, fired)
	assert.Equal(t, 3, d.LogLen())
}

func TestCheckConflictBoundedLog(t *testing.T) {
	d := newTestDetector(t, 2)

	d.CheckConflict(msg("B", 1, 1.0))
	d.CheckConflict(msg("B", 2, 1.0))
	d.CheckConflict(msg("B", 3, 1.0))
	assert.Equal(t, 2, d.LogLen())

	// (B, 1) was the least recently used key and is gone
	_, fired := d.CheckConflict(msg("B", 1, 5.0))
	assert.False(t, fired)
}

func outlierTable(codes map[NodeID]float64) *NeighborTable {
	table := NewNeighborTable("A")
	for id, c := range codes {
		table.Upsert(id, c, "STABLE", 1, time.Now())
	}
	return table
}

func TestCheckOutlierBlamesFurthestNeighbor(t *testing.T) {
	d := newTestDetector(t, 0)
	codes := map[NodeID]float64{"B": 1.0, "C": 1.1}
	table := outlierTable(codes)

	alert, fired := d.CheckOutlier(2.0, 7, MinHistory, table)
	require.True(t, fired)
	assert.Equal(t, AlertRegionalOutlier, alert.Kind)

	mean := (1.0 + 1.1) / 2
	devB := math.Abs(codes["B"] - mean)
	devC := math.Abs(codes["C"] - mean)
	want := NodeID("B")
	if devC > devB {
		want = "C"
	}
	assert.Equal(t, want, alert.Suspect)
}

func TestCheckOutlierPicksClearOutlier(t *testing.T) {
	d := newTestDetector(t, 0)
	table := outlierTable(map[NodeID]float64{"B": 0.5, "C": 0.55, "D": 9})

	// D is in another region and does not count; A's x is far from the north mean
	alert, fired := d.CheckOutlier(3.0, 7, HistorySize, table)
	require.True(t, fired)
	assert.Contains(t, []NodeID{"B", "C"}, alert.Suspect)
}

func TestCheckOutlierNeedsTwoRegionalNeighbors(t *testing.T) {
	d := newTestDetector(t, 0)
	table := outlierTable(map[NodeID]float64{"B": 1.0, "D": 1.1})

	_, fired := d.CheckOutlier(100, 7, HistorySize, table)
	assert.False(t, fired)
}

func TestCheckOutlierNeedsHistory(t *testing.T) {
	d := newTestDetector(t, 0)
	table := outlierTable(map[NodeID]float64{"B": 1.0, "C": 1.1})

	_, fired := d.CheckOutlier(2.0, 7, MinHistory-1, table)
	assert.False(t, fired)
}

func TestCheckOutlierWithinDeviation(t *testing.T) {
	d := newTestDetector(t, 0)
	table := outlierTable(map[NodeID]float64{"B": 1.0, "C": 1.1})

	_, fired := d.CheckOutlier(1.5, 7, HistorySize, table)
	assert.False(t, fired)
}

func TestAlertIsSticky(t *testing.T) {
	d := newTestDetector(t, 0)
	d.CheckConflict(msg("B", 5, 1.00))
	first, fired := d.CheckConflict(msg("B", 5, 1.50))
	require.True(t, fired)

	_, fired = d.CheckConflict(msg("C", 6, 1.00))
	assert.False(t, fired)
	_, fired = d.CheckConflict(msg("C", 6, 3.00))
	assert.False(t, fired, "conflicts after the first alert stay silent")

	_, fired = d.CheckOutlier(2.0, 9, HistorySize, outlierTable(map[NodeID]float64{"B": 1.0, "C": 1.1}))
	assert.False(t, fired, "outliers after the first alert stay silent")

	got, ok := d.Fired()
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestCodeHistoryRollsOver(t *testing.T) {
	h := NewCodeHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(float64(i))
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []float64{3, 4, 5}, h.Values())
}
