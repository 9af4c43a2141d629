package gossip

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

/**
Every device on the mesh runs the same epoch loop. There is no coordinator:
each node only hears the radio-reachable peers around it and decides locally.

The loop needs to answer 3 questions each epoch:
1. Who is around me? (neighbor table, topology diff)
2. What should my code be? (consensus engine)
3. Is somebody impersonating a node? (clone detector)

Overview:
	Collaborators (outside this package):
		Transport - registers peers, sends a payload to an address, and returns
			pending inbound payloads without blocking.
		AlertSink - told once, the first time a clone is suspected.
		Indicator - the status LED; on while STABLE.
	Components:
		NeighborTable - last state heard from every configured peer.
		ConsensusEngine - own code x, q rotation, STABLE/DISTURBED machine.
		CloneDetector - identity/epoch conflicts and regional outliers.
		CodeHistory - the last HistorySize values of our own x.
	One tick (Tick):
		1. advance own epoch
		2. drain the transport: decode, conflict check, upsert known peers
		3. diff neighbor identities: additions disturb, removals are only logged
		4. converge if we entered the tick DISTURBED and were not just disturbed
		5. broadcast our state to every peer
		6. record our x
		7. regional outlier check
		8. drive the indicator
		9. on epochs divisible by EvictEveryEpochs drop neighbors silent for StaleAge

The loop is single threaded. Nothing here locks; callers that observe the loop
from another goroutine must go through their own synchronization.
Time is passed in, so tests drive the loop with a synthetic clock.

File Organization:
	gossip.go - EpochLoop and its collaborator interfaces
	types.go - NodeID, Region, Status and protocol constants
	neighbor_table.go - NeighborTable
	message.go - wire codec
	consensus.go - ConsensusEngine
	clone_detector.go - CloneDetector
	history.go - CodeHistory
*/

// Packet is one inbound payload and the address it came from.
type Packet struct {
	From    string
	Payload []byte
}

// Transport is the radio as the loop sees it.
type Transport interface {
	AddPeer(id NodeID, addr string) error
	Send(addr string, payload []byte) error
	// Receive returns the next pending packet, or false immediately when none is queued.
	Receive() (Packet, bool)
}

type AlertSink interface {
	SignalAlert(alert Alert)
}

type Indicator interface {
	Set(on bool)
}

// LoopConfig is everything an EpochLoop needs from static configuration.
type LoopConfig struct {
	Self             NodeID
	NetworkID        string
	Regions          RegionMap
	Params           ConsensusParams
	Peers            map[NodeID]string // identity -> transport address, self excluded
	Interval         time.Duration
	Threshold        float64
	StableEpochs     int
	CloneLogCapacity int
	Logf             LogFunc
	Debugf           LogFunc // per-message noise; defaults to discarding
}

// TickReport summarizes one tick for logging and tests.
type TickReport struct {
	Epoch      uint64
	X          float64
	Status     Status
	Received   int
	Discarded  int
	Added      []NodeID
	Removed    []NodeID
	Disturbed  bool
	Converged  bool
	SendErrors int
	Evicted    []NodeID
	Alert      *Alert
	Neighbors  []NodeID
}

// LoopState is a copy of the loop's observable state.
type LoopState struct {
	Self      NodeID
	Region    Region
	Own       OwnState
	Neighbors map[NodeID]NeighborRecord
	History   []float64
	Alert     *Alert
	Ticks     uint64
}

type EpochLoop struct {
	cfg       LoopConfig
	peerAddrs []string

	engine   *ConsensusEngine
	table    *NeighborTable
	detector *CloneDetector
	history  *CodeHistory

	transport Transport
	alerts    AlertSink
	indicator Indicator

	previous map[NodeID]struct{}
	lastTick time.Time
	started  bool
	ticks    uint64
	logf     LogFunc
	debugf   LogFunc
}

// NewEpochLoop wires the core components. alerts and indicator may be nil.
func NewEpochLoop(cfg LoopConfig, transport Transport, alerts AlertSink, indicator Indicator) (*EpochLoop, error) {
	if cfg.Self == "" {
		return nil, errors.New("self identity must be set")
	}
	if transport == nil {
		return nil, errors.New("transport must be set")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be greater than 0")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	logf := cfg.Logf
	if logf == nil {
		logf = nopLog
	}
	debugf := cfg.Debugf
	if debugf == nil {
		debugf = nopLog
	}

	detector, err := NewCloneDetector(cfg.Self, cfg.Regions, cfg.CloneLogCapacity, logf)
	if err != nil {
		return nil, err
	}

	// the loop owns its peer set; RegisterPeers drops peers that fail
	peers := make(map[NodeID]string, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		if id != cfg.Self {
			peers[id] = addr
		}
	}
	cfg.Peers = peers

	return &EpochLoop{
		cfg:       cfg,
		peerAddrs: peerAddresses(peers),
		engine: NewConsensusEngine(EngineOptions{
			Self:         cfg.Self,
			Regions:      cfg.Regions,
			Params:       cfg.Params,
			Threshold:    cfg.Threshold,
			StableEpochs: cfg.StableEpochs,
			Logf:         logf,
		}),
		table:     NewNeighborTable(cfg.Self),
		detector:  detector,
		history:   NewCodeHistory(HistorySize),
		transport: transport,
		alerts:    alerts,
		indicator: indicator,
		previous:  make(map[NodeID]struct{}),
		logf:      logf,
		debugf:    debugf,
	}, nil
}

// Poll runs a tick when at least one interval has elapsed since the last one.
// The first call only starts the clock.
func (l *EpochLoop) Poll(now time.Time) (TickReport, bool) {
	if !l.started {
		l.started = true
		l.lastTick = now
		return TickReport{}, false
	}
	if now.Sub(l.lastTick) < l.cfg.Interval {
		return TickReport{}, false
	}
	l.lastTick = now
	return l.Tick(now), true
}

// Tick runs one epoch to completion.
func (l *EpochLoop) Tick(now time.Time) TickReport {
	l.ticks++
	var report TickReport
	entering := l.engine.Status()

	l.engine.BeginEpoch()

	report.Received, report.Discarded = l.drain(now, &report)

	current := l.table.Identities()
	report.Added, report.Removed = diffIdentities(l.previous, current)
	l.previous = current
	if len(report.Removed) > 0 {
		l.logf("Neighbor(s) disappeared: %v", report.Removed)
	}
	if len(report.Added) > 0 {
		l.logf("New neighbor(s) appeared: %v", report.Added)
		l.engine.OnDisturbance(l.table, "new neighbor(s) appeared")
		report.Disturbed = true
	} else if entering == StatusDisturbed {
		l.engine.OnConvergeTick(l.table)
		report.Converged = true
	}

	report.SendErrors = l.broadcast()

	l.history.Push(l.engine.X())

	if alert, ok := l.detector.CheckOutlier(l.engine.X(), l.engine.Epoch(), l.history.Len(), l.table); ok {
		l.signal(alert, &report)
	}

	if l.indicator != nil {
		l.indicator.Set(l.engine.Status() == StatusStable)
	}

	if l.engine.Epoch()%EvictEveryEpochs == 0 {
		report.Evicted = l.table.EvictStale(now, StaleAge(l.cfg.Interval))
		for _, id := range report.Evicted {
			l.logf("Removed stale neighbor after timeout: %s", id)
		}
	}

	report.Epoch = l.engine.Epoch()
	report.X = l.engine.X()
	report.Status = l.engine.Status()
	report.Neighbors = l.table.SortedIdentities()
	return report
}

func (l *EpochLoop) drain(now time.Time, report *TickReport) (received, discarded int) {
	for {
		pkt, ok := l.transport.Receive()
		if !ok {
			return received, discarded
		}
		received++

		m, err := Decode(pkt.Payload, l.cfg.NetworkID)
		if err != nil {
			discarded++
			l.debugf("Discarding message from %s: %v", pkt.From, err)
			continue
		}

		if alert, ok := l.detector.CheckConflict(m); ok {
			l.signal(alert, report)
		}

		if _, known := l.cfg.Peers[m.From]; known && m.From != l.cfg.Self {
			l.table.Upsert(m.From, m.X, m.Status, m.Epoch, now)
		}
	}
}

func (l *EpochLoop) broadcast() (failures int) {
	payload := Encode(l.engine.NextMessage(l.cfg.NetworkID))
	for _, addr := range l.peerAddrs {
		if err := l.transport.Send(addr, payload); err != nil {
			failures++
			l.logf("Send error to %s: %v", addr, err)
		}
	}
	return failures
}

func (l *EpochLoop) signal(alert Alert, report *TickReport) {
	a := alert
	report.Alert = &a
	if l.alerts != nil {
		l.alerts.SignalAlert(alert)
	}
}

// RegisterPeers hands every configured peer to the transport. A peer that
// fails to register is logged and dropped: the loop no longer sends to it
// and no longer records what it reports.
func (l *EpochLoop) RegisterPeers() []error {
	var errs []error
	for _, id := range sortedPeerIDs(l.cfg.Peers) {
		addr := l.cfg.Peers[id]
		if err := l.transport.AddPeer(id, addr); err != nil {
			l.logf("Failed to add peer %s: %v", id, err)
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			delete(l.cfg.Peers, id)
			continue
		}
		l.logf("Added peer %s: %s", id, addr)
	}
	l.peerAddrs = peerAddresses(l.cfg.Peers)
	return errs
}

// Peers lists the peers the loop gossips with, in id order.
func (l *EpochLoop) Peers() []NodeID { return sortedPeerIDs(l.cfg.Peers) }

func sortedPeerIDs(peers map[NodeID]string) []NodeID {
	ids := make([]NodeID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// peerAddresses lists peer addresses in id order, the order broadcasts go out.
func peerAddresses(peers map[NodeID]string) []string {
	addrs := make([]string, 0, len(peers))
	for _, id := range sortedPeerIDs(peers) {
		addrs = append(addrs, peers[id])
	}
	return addrs
}

// State returns a copy of the loop's observable state.
func (l *EpochLoop) State() LoopState {
	s := LoopState{
		Self:      l.cfg.Self,
		Region:    l.engine.Region(),
		Own:       l.engine.Snapshot(),
		Neighbors: l.table.Snapshot(),
		History:   l.history.Values(),
		Ticks:     l.ticks,
	}
	if a, ok := l.detector.Fired(); ok {
		s.Alert = &a
	}
	return s
}

func diffIdentities(previous, current map[NodeID]struct{}) (added, removed []NodeID) {
	for id := range current {
		if _, ok := previous[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}
