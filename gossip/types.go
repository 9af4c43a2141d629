package gossip

/*
NodeID:

	Opaque token naming a device on the mesh.
	Never changes during the node's lifetime and is used as the map key everywhere.
	A clone is a second device transmitting under an existing NodeID.

Region:

	Static tag assigned to each NodeID by configuration.
	Regions are compared for equality only. Consensus and the outlier check only
	look at neighbors that share our region.

Epoch:

	Per-node logical clock. Incremented by the epoch loop on every tick and again
	by the consensus engine whenever it disturbs or converges, so a busy node
	advances faster than an idle one. Peers never compare epochs for ordering,
	only for freshness (see PseudoGeometricMean) and identity conflicts
	(see CloneDetector).
*/

import "time"

type NodeID string

type Region string

// UnknownRegion is reported for identities missing from the region map.
const UnknownRegion Region = "UNKNOWN"

// RegionMap assigns every configured identity to a region.
type RegionMap map[NodeID]Region

// Of returns the region of id, or UnknownRegion.
func (m RegionMap) Of(id NodeID) Region {
	if r, ok := m[id]; ok {
		return r
	}
	return UnknownRegion
}

type Status string

const (
	StatusStable    Status = "STABLE"
	StatusDisturbed Status = "DISTURBED"
)

func (s Status) String() string { return string(s) }

// Protocol constants shared by every node on the mesh. Changing any of them
// changes convergence behavior relative to unmodified peers.
const (
	DisturbanceFloor    = 1.2 // minimum x after a disturbance
	FreshEpochWindow    = 2   // max epochs a regional neighbor may lag behind us
	StaleAfterIntervals = 7   // neighbor eviction age, in epoch intervals
	EvictEveryEpochs    = 10  // stale neighbors are evicted on epochs divisible by this
	HistorySize         = 20
	MinHistory          = 5
	MinRegionNeighbors  = 2
	OutlierDeviation    = 0.5
	ConflictTolerance   = 0.01
	MinCode             = 1e-12 // floor for the pseudo-geometric mean
)

// LogFunc is the logging hook handed to core components.
type LogFunc func(format string, args ...interface{})

func nopLog(string, ...interface{}) {}

// StaleAge returns the neighbor eviction age for the given epoch interval.
func StaleAge(interval time.Duration) time.Duration {
	return StaleAfterIntervals * interval
}
