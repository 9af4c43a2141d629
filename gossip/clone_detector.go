package gossip

import (
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

/*
Clone Detection

Two independent heuristics share one sticky alert: whichever fires first wins
and nothing fires again for the rest of the process lifetime.

Identity/epoch conflict (CheckConflict):

	Every accepted message is logged under (identity, epoch) with the first x
	seen for that key. A later message for the same key whose x differs by more
	than ConflictTolerance means two transmitters claimed the same identity in
	the same epoch with different state. This is conclusive.

Regional outlier (CheckOutlier):

	Once we have MinHistory codes of our own, compare our x with the mean code
	of the same-region neighbors in the table (at least MinRegionNeighbors of
	them). If we sit more than OutlierDeviation away from that mean, blame the
	neighbor furthest from the mean. This is only a proxy: the blamed neighbor
	can be an honest node that was just disturbed.

The conflict log is an LRU so a long-lived node cannot grow it without bound.
Keys still resident behave exactly as an unbounded log would.
*/

// DefaultCloneLogCapacity is the number of (identity, epoch) keys retained.
const DefaultCloneLogCapacity = 1 << 16

type AlertKind string

const (
	AlertEpochConflict   AlertKind = "epoch-conflict"
	AlertRegionalOutlier AlertKind = "regional-outlier"
)

// Alert describes the single clone suspicion a node raises.
type Alert struct {
	Kind    AlertKind
	Suspect NodeID
	Region  Region
	Epoch   uint64 // conflicting epoch, or our own epoch for outliers
	Detail  string
}

func (a Alert) String() string {
	return fmt.Sprintf("clone of %s suspected in region %s (%s: %s)", a.Suspect, a.Region, a.Kind, a.Detail)
}

type cloneKey struct {
	id    NodeID
	epoch uint64
}

type CloneDetector struct {
	self    NodeID
	region  Region
	regions RegionMap
	log     *lru.Cache[cloneKey, float64]
	logf    LogFunc

	fired bool
	alert Alert
}

// NewCloneDetector returns a detector whose conflict log keeps up to
// capacity keys; a non-positive capacity selects DefaultCloneLogCapacity.
func NewCloneDetector(self NodeID, regions RegionMap, capacity int, logf LogFunc) (*CloneDetector, error) {
	if capacity <= 0 {
		capacity = DefaultCloneLogCapacity
	}
	cache, err := lru.New[cloneKey, float64](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create clone log: %w", err)
	}
	if logf == nil {
		logf = nopLog
	}
	return &CloneDetector{
		self:    self,
		region:  regions.Of(self),
		regions: regions,
		log:     cache,
		logf:    logf,
	}, nil
}

// CheckConflict logs m under (identity, epoch) and returns an alert the first
// time a conflicting x is seen for a logged key, provided no alert fired yet.
func (d *CloneDetector) CheckConflict(m Message) (Alert, bool) {
	key := cloneKey{id: m.From, epoch: m.Epoch}
	logged, ok := d.log.Get(key)
	if !ok {
		d.log.Add(key, m.X)
		return Alert{}, false
	}
	if math.Abs(logged-m.X) <= ConflictTolerance {
		return Alert{}, false
	}
	return d.raise(Alert{
		Kind:    AlertEpochConflict,
		Suspect: m.From,
		Region:  d.regions.Of(m.From),
		Epoch:   m.Epoch,
		Detail:  fmt.Sprintf("x=%.6f and x=%.6f in epoch %d", logged, m.X, m.Epoch),
	})
}

// CheckOutlier compares our x with the regional mean. history is the number
// of own codes recorded so far.
func (d *CloneDetector) CheckOutlier(ownX float64, epoch uint64, history int, table *NeighborTable) (Alert, bool) {
	if history < MinHistory {
		return Alert{}, false
	}
	codes := table.InRegion(d.regions, d.region)
	if len(codes) < MinRegionNeighbors {
		return Alert{}, false
	}

	ids := make([]NodeID, 0, len(codes))
	sum := 0.0
	for id, c := range codes {
		ids = append(ids, id)
		sum += c
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	mean := sum / float64(len(codes))

	deviation := math.Abs(ownX - mean)
	if deviation <= OutlierDeviation {
		return Alert{}, false
	}
	d.logf("Code anomaly detected in region %s: x=%.4f vs mean=%.4f", d.region, ownX, mean)

	var suspect NodeID
	maxDev := 0.0
	for _, id := range ids {
		if dev := math.Abs(codes[id] - mean); dev > maxDev {
			maxDev = dev
			suspect = id
		}
	}
	if suspect == "" {
		return Alert{}, false
	}
	return d.raise(Alert{
		Kind:    AlertRegionalOutlier,
		Suspect: suspect,
		Region:  d.region,
		Epoch:   epoch,
		Detail:  fmt.Sprintf("own x=%.4f, regional mean=%.4f, suspect deviates by %.4f", ownX, mean, maxDev),
	})
}

func (d *CloneDetector) raise(a Alert) (Alert, bool) {
	if d.fired {
		return Alert{}, false
	}
	d.fired = true
	d.alert = a
	d.logf("CLONE DETECTED: %s", a)
	return a, true
}

// Fired reports whether an alert has been raised, and which.
func (d *CloneDetector) Fired() (Alert, bool) {
	return d.alert, d.fired
}

// LogLen is the number of (identity, epoch) keys currently retained.
func (d *CloneDetector) LogLen() int {
	return d.log.Len()
}
