package gossip

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPacket struct {
	addr    string
	payload []byte
}

type fakeTransport struct {
	inbox    []Packet
	sent     []sentPacket
	peers    map[NodeID]string
	failSend map[string]bool
	failPeer map[NodeID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		peers:    make(map[NodeID]string),
		failSend: make(map[string]bool),
		failPeer: make(map[NodeID]bool),
	}
}

func (f *fakeTransport) AddPeer(id NodeID, addr string) error {
	if f.failPeer[id] {
		return errors.New("peer table full")
	}
	f.peers[id] = addr
	return nil
}

func (f *fakeTransport) Send(addr string, payload []byte) error {
	if f.failSend[addr] {
		return errors.New("no ack")
	}
	f.sent = append(f.sent, sentPacket{addr: addr, payload: payload})
	return nil
}

func (f *fakeTransport) Receive() (Packet, bool) {
	if len(f.inbox) == 0 {
		return Packet{}, false
	}
	p := f.inbox[0]
	f.inbox = f.inbox[1:]
	return p, true
}

func (f *fakeTransport) deliver(from string, m Message) {
	f.inbox = append(f.inbox, Packet{From: from, Payload: Encode(m)})
}

type recordingSink struct {
	alerts []Alert
}

func (r *recordingSink) SignalAlert(a Alert) { r.alerts = append(r.alerts, a) }

type recordingIndicator struct {
	states []bool
}

func (r *recordingIndicator) Set(on bool) { r.states = append(r.states, on) }

const testInterval = time.Second

func newTestLoop(t *testing.T) (*EpochLoop, *fakeTransport, *recordingSink, *recordingIndicator) {
	t.Helper()
	tr := newFakeTransport()
	sink := &recordingSink{}
	ind := &recordingIndicator{}
	loop, err := NewEpochLoop(LoopConfig{
		Self:         "A",
		NetworkID:    "GTI",
		Regions:      testRegions,
		Params:       ConsensusParams{P: 0.8, QList: []float64{1, 4}},
		Peers:        map[NodeID]string{"B": "addr-b", "C": "addr-c", "D": "addr-d"},
		Interval:     testInterval,
		Threshold:    0.01,
		StableEpochs: 3,
	}, tr, sink, ind)
	require.NoError(t, err)
	return loop, tr, sink, ind
}

func TestNewEpochLoopValidates(t *testing.T) {
	_, err := NewEpochLoop(LoopConfig{Self: "A", Interval: time.Second, Params: ConsensusParams{P: 1}}, newFakeTransport(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyQList)

	_, err = NewEpochLoop(LoopConfig{Self: "A", Params: ConsensusParams{P: 1, QList: []float64{1}}}, newFakeTransport(), nil, nil)
	assert.Error(t, err)

	_, err = NewEpochLoop(LoopConfig{Self: "A", Interval: time.Second, Params: ConsensusParams{P: 1, QList: []float64{1}}}, nil, nil, nil)
	assert.Error(t, err)
}

func TestPollWaitsForInterval(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	t0 := time.Unix(1000, 0)

	_, ticked := loop.Poll(t0)
	assert.False(t, ticked, "first poll starts the clock")
	_, ticked = loop.Poll(t0.Add(testInterval - time.Millisecond))
	assert.False(t, ticked)
	report, ticked := loop.Poll(t0.Add(testInterval))
	require.True(t, ticked)
	assert.Equal(t, uint64(1), report.Epoch)
	_, ticked = loop.Poll(t0.Add(testInterval + 100*time.Millisecond))
	assert.False(t, ticked)
}

func TestTickQuietStableNode(t *testing.T) {
	loop, tr, _, ind := newTestLoop(t)

	report := loop.Tick(time.Unix(1000, 0))

	assert.Equal(t, uint64(1), report.Epoch)
	assert.Equal(t, StatusStable, report.Status)
	assert.Equal(t, 0.8, report.X)
	assert.False(t, report.Disturbed)
	assert.False(t, report.Converged)
	assert.Equal(t, []bool{true}, ind.states)

	require.Len(t, tr.sent, 3)
	assert.Equal(t, "addr-b", tr.sent[0].addr)
	m, err := Decode(tr.sent[0].payload, "GTI")
	require.NoError(t, err)
	assert.Equal(t, NodeID("A"), m.From)
	assert.Equal(t, uint64(1), m.Counter)
	assert.Equal(t, uint64(1), m.Epoch)
}

func TestTickDiscardsMalformedMessage(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	tr.inbox = append(tr.inbox,
		Packet{From: "addr-b", Payload: []byte("GTI:B:STABLE:0.5:1.0")},
		Packet{From: "addr-c", Payload: []byte("XXX:C:STABLE:0.5:1.0:1.0:1:1")},
	)

	report := loop.Tick(time.Unix(1000, 0))

	assert.Equal(t, 2, report.Received)
	assert.Equal(t, 2, report.Discarded)
	assert.Empty(t, report.Neighbors)
	assert.Equal(t, StatusStable, report.Status)
	assert.Empty(t, loop.State().Neighbors)
}

func TestTickNewNeighborDisturbsThenConverges(t *testing.T) {
	loop, tr, _, ind := newTestLoop(t)
	t0 := time.Unix(1000, 0)
	tr.deliver("addr-b", msg("B", 1, 0.5))

	report := loop.Tick(t0)
	require.True(t, report.Disturbed)
	assert.False(t, report.Converged, "a disturbed tick is not also converged")
	assert.Equal(t, []NodeID{"B"}, report.Added)
	assert.Equal(t, StatusDisturbed, report.Status)
	assert.GreaterOrEqual(t, report.X, DisturbanceFloor)
	assert.Equal(t, uint64(2), report.Epoch, "loop and disturbance both advance the epoch")
	assert.Equal(t, []bool{false}, ind.states)

	// no more news from B; converge ticks run every epoch while disturbed
	var last TickReport
	for i := 1; i <= 20; i++ {
		last = loop.Tick(t0.Add(time.Duration(i) * testInterval))
		if last.Status == StatusStable {
			break
		}
		assert.True(t, last.Converged)
	}
	assert.Equal(t, StatusStable, last.Status)
	assert.Less(t, last.X, 1.0)
	assert.True(t, ind.states[len(ind.states)-1])
}

func TestTickIgnoresUnknownSenderButLogsConflict(t *testing.T) {
	loop, tr, sink, _ := newTestLoop(t)
	tr.deliver("addr-x", msg("X", 4, 1.0))
	tr.deliver("addr-x", msg("X", 4, 2.0))

	report := loop.Tick(time.Unix(1000, 0))

	assert.Empty(t, report.Neighbors)
	assert.False(t, report.Disturbed)
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, NodeID("X"), sink.alerts[0].Suspect)
	require.NotNil(t, report.Alert)
}

func TestTickIgnoresOwnIdentity(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	tr.deliver("addr-a", msg("A", 1, 0.5))

	report := loop.Tick(time.Unix(1000, 0))

	assert.Empty(t, report.Neighbors)
	assert.False(t, report.Disturbed)
}

func TestTickRaisesAlertOnlyOnce(t *testing.T) {
	loop, tr, sink, _ := newTestLoop(t)
	t0 := time.Unix(1000, 0)
	tr.deliver("addr-b", msg("B", 3, 0.5))
	tr.deliver("addr-b", msg("B", 3, 0.9))
	loop.Tick(t0)

	tr.deliver("addr-c", msg("C", 3, 0.5))
	tr.deliver("addr-c", msg("C", 3, 0.9))
	loop.Tick(t0.Add(testInterval))

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, NodeID("B"), sink.alerts[0].Suspect)
	require.NotNil(t, loop.State().Alert)
}

func TestTickRemovalDoesNotDisturb(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	t0 := time.Unix(1000, 0)
	tr.deliver("addr-b", msg("B", 1, 0.5))
	loop.Tick(t0)

	var evictedAt int
	for i := 1; i < 30; i++ {
		r := loop.Tick(t0.Add(time.Duration(i) * testInterval))
		if len(r.Evicted) > 0 {
			evictedAt = i
			assert.Equal(t, []NodeID{"B"}, r.Evicted)
			assert.Zero(t, r.Epoch%EvictEveryEpochs, "evicted in epoch %d", r.Epoch)
			break
		}
	}
	require.NotZero(t, evictedAt)

	statusBefore := loop.State().Own.Status
	r := loop.Tick(t0.Add(time.Duration(evictedAt+1) * testInterval))
	assert.Equal(t, []NodeID{"B"}, r.Removed)
	assert.False(t, r.Disturbed)
	if statusBefore == StatusStable {
		assert.False(t, r.Converged)
	}
}

func TestEvictionWaitsForEpochDivisibleByTen(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	t0 := time.Unix(1000, 0)

	// one quiet tick first, so every disturbed tick after B appears lands
	// on an odd epoch
	loop.Tick(t0)
	tr.deliver("addr-b", msg("B", 1, 0.5))

	var evicted TickReport
	ticks := 1
	for i := 1; i < 40 && len(evicted.Evicted) == 0; i++ {
		r := loop.Tick(t0.Add(time.Duration(i) * testInterval))
		ticks++
		if ticks == 10 {
			require.Empty(t, r.Evicted, "B is stale at the tenth tick but the epoch is %d", r.Epoch)
			require.NotZero(t, r.Epoch%EvictEveryEpochs)
		}
		if len(r.Evicted) > 0 {
			evicted = r
		}
	}

	require.Equal(t, []NodeID{"B"}, evicted.Evicted)
	assert.Zero(t, evicted.Epoch%EvictEveryEpochs)
	assert.Greater(t, ticks, 10)
}

func TestTickSendErrorsDoNotAbort(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	tr.failSend["addr-c"] = true

	report := loop.Tick(time.Unix(1000, 0))

	assert.Equal(t, 1, report.SendErrors)
	assert.Len(t, tr.sent, 2)
}

func TestTickRecordsHistory(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	for i := 0; i < HistorySize+5; i++ {
		loop.Tick(time.Unix(int64(1000+i), 0))
	}
	assert.Len(t, loop.State().History, HistorySize)
}

func TestRegisterPeersDropsFailures(t *testing.T) {
	loop, tr, _, _ := newTestLoop(t)
	tr.failPeer["C"] = true

	errs := loop.RegisterPeers()

	require.Len(t, errs, 1)
	assert.Equal(t, map[NodeID]string{"B": "addr-b", "D": "addr-d"}, tr.peers)
	assert.Equal(t, []NodeID{"B", "D"}, loop.Peers())

	// C is no longer a peer: nothing is sent to it and its reports are not kept
	tr.deliver("addr-c", msg("C", 1, 0.5))
	tr.deliver("addr-b", msg("B", 1, 0.5))
	report := loop.Tick(time.Unix(1000, 0))

	var addrs []string
	for _, p := range tr.sent {
		addrs = append(addrs, p.addr)
	}
	assert.Equal(t, []string{"addr-b", "addr-d"}, addrs)
	assert.Equal(t, []NodeID{"B"}, report.Neighbors)
}

func TestDiffIdentities(t *testing.T) {
	prev := map[NodeID]struct{}{"A": {}, "B": {}}
	cur := map[NodeID]struct{}{"B": {}, "C": {}, "D": {}}

	added, removed := diffIdentities(prev, cur)

	assert.Equal(t, []NodeID{"C", "D"}, added)
	assert.Equal(t, []NodeID{"A"}, removed)
}
