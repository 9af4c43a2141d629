package gossip

import (
	"sort"
	"time"
)

/*
Neighbor Table

Holds the most recently received state of every peer we have heard from.

Records are replaced by whatever arrives last for that identity. There is no
epoch ordering guard: a delayed message carrying an older epoch still wins,
because only the most recently received state feeds the consensus rule.

Records leave the table only through EvictStale, which the epoch loop calls in
batches rather than every tick.
*/

// NeighborRecord is the last state a peer reported to us.
type NeighborRecord struct {
	Code     float64
	Status   string
	Epoch    uint64
	LastSeen time.Time
}

// NeighborTable is owned by a single epoch loop and is not safe for concurrent use.
type NeighborTable struct {
	self    NodeID
	records map[NodeID]NeighborRecord
}

func NewNeighborTable(self NodeID) *NeighborTable {
	return &NeighborTable{
		self:    self,
		records: make(map[NodeID]NeighborRecord),
	}
}

// Upsert overwrites the record for id and stamps it with now.
// Records for our own identity are ignored.
func (t *NeighborTable) Upsert(id NodeID, code float64, status string, epoch uint64, now time.Time) {
	if id == t.self {
		return
	}
	t.records[id] = NeighborRecord{
		Code:     code,
		Status:   status,
		Epoch:    epoch,
		LastSeen: now,
	}
}

// Get returns the record for id.
func (t *NeighborTable) Get(id NodeID) (NeighborRecord, bool) {
	r, ok := t.records[id]
	return r, ok
}

func (t *NeighborTable) Len() int {
	return len(t.records)
}

// Identities returns the set of identities currently in the table.
func (t *NeighborTable) Identities() map[NodeID]struct{} {
	ids := make(map[NodeID]struct{}, len(t.records))
	for id := range t.records {
		ids[id] = struct{}{}
	}
	return ids
}

// SortedIdentities returns the identities in the table in ascending order.
func (t *NeighborTable) SortedIdentities() []NodeID {
	ids := make([]NodeID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EvictStale removes every record last seen more than maxAge before now
// and returns the evicted identities in ascending order.
func (t *NeighborTable) EvictStale(now time.Time, maxAge time.Duration) []NodeID {
	var evicted []NodeID
	for id, r := range t.records {
		if now.Sub(r.LastSeen) > maxAge {
			delete(t.records, id)
			evicted = append(evicted, id)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

// InRegion returns identity -> code for every neighbor assigned to region.
func (t *NeighborTable) InRegion(regions RegionMap, region Region) map[NodeID]float64 {
	codes := make(map[NodeID]float64)
	for id, r := range t.records {
		if regions.Of(id) == region {
			codes[id] = r.Code
		}
	}
	return codes
}

// Snapshot returns a copy of every record.
func (t *NeighborTable) Snapshot() map[NodeID]NeighborRecord {
	out := make(map[NodeID]NeighborRecord, len(t.records))
	for id, r := range t.records {
		out[id] = r
	}
	return out
}
