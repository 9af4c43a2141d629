package gossip

import (
	"fmt"
	"math"
)

/*
Consensus Engine

Owns the node's scalar code x and drives it with a pseudo-geometric mean over
the codes reported by same-region neighbors.

	mu = ( prod over fresh regional neighbors of reciprocal(code) ) ^ a_i
	a_i = 1 / sqrt(q), q rotating through the node's q list every step

reciprocal folds values above one back under one and leaves the rest alone,
so the product, and therefore mu, stays in (0, 1].

State machine:

	STABLE    --new neighbor-->            DISTURBED  (OnDisturbance)
	DISTURBED --enough quiet convergence--> STABLE     (OnConvergeTick)

A disturbance deliberately inflates x to 1/mu (at least DisturbanceFloor) so
the change is visible to peers. Convergence then pulls x back under one and
waits for it to sit within the threshold of mu for StableEpochs ticks in a row.
*/

// ConsensusParams are the static per-node parameters.
type ConsensusParams struct {
	P     float64   // initial x
	QList []float64 // cyclic exponent parameters
}

// Validate reports whether the params can drive an engine.
func (p ConsensusParams) Validate() error {
	if p.P <= 0 || math.IsNaN(p.P) || math.IsInf(p.P, 0) {
		return ErrInvalidSeed
	}
	if len(p.QList) == 0 {
		return ErrEmptyQList
	}
	for _, q := range p.QList {
		if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidQ, q)
		}
	}
	return nil
}

// OwnState is a copy of the engine's state, safe to hand to observers.
type OwnState struct {
	X                float64
	Status           Status
	Epoch            uint64
	AI               float64
	QIndex           int
	Q                float64
	ConvergenceCount int
	MessageCounter   uint64
}

// EngineOptions configures a ConsensusEngine.
type EngineOptions struct {
	Self         NodeID
	Regions      RegionMap
	Params       ConsensusParams
	Threshold    float64 // convergence threshold on |mu - x|
	StableEpochs int     // consecutive quiet ticks required to become STABLE
	Logf         LogFunc
}

type ConsensusEngine struct {
	self      NodeID
	region    Region
	regions   RegionMap
	params    ConsensusParams
	threshold float64
	required  int
	logf      LogFunc

	x                float64
	status           Status
	epoch            uint64
	aI               float64
	qIndex           int
	convergenceCount int
	messageCounter   uint64
}

// NewConsensusEngine panics if the params are invalid: an empty or
// non-positive q list is a configuration bug that Validate should have caught.
func NewConsensusEngine(opts EngineOptions) *ConsensusEngine {
	if err := opts.Params.Validate(); err != nil {
		panic(fmt.Sprintf("gossip: invalid consensus params: %v", err))
	}
	logf := opts.Logf
	if logf == nil {
		logf = nopLog
	}
	return &ConsensusEngine{
		self:      opts.Self,
		region:    opts.Regions.Of(opts.Self),
		regions:   opts.Regions,
		params:    opts.Params,
		threshold: opts.Threshold,
		required:  opts.StableEpochs,
		logf:      logf,
		x:         opts.Params.P,
		status:    StatusStable,
		aI:        1 / math.Sqrt(opts.Params.QList[0]),
	}
}

// Reciprocal returns 1/v for v > 1 and v otherwise.
func Reciprocal(v float64) float64 {
	if v > 1 {
		return 1 / v
	}
	return v
}

// AdvanceQ moves to the next q in the list and recomputes a_i from it.
func (e *ConsensusEngine) AdvanceQ() (q, aI float64) {
	e.qIndex = (e.qIndex + 1) % len(e.params.QList)
	q = e.params.QList[e.qIndex]
	e.aI = 1 / math.Sqrt(q)
	return q, e.aI
}

// PseudoGeometricMean combines the codes of fresh same-region neighbors.
// A neighbor is fresh unless it lags our epoch by more than FreshEpochWindow;
// neighbors ahead of us always count. With no fresh neighbor our own x is
// the only factor. The result never drops below MinCode, so 1/mu stays finite
// however many small codes are multiplied together.
func (e *ConsensusEngine) PseudoGeometricMean(table *NeighborTable) float64 {
	product := 1.0
	included := 0
	for id, r := range table.records {
		if e.regions.Of(id) != e.region {
			continue
		}
		if r.Epoch < e.epoch && e.epoch-r.Epoch > FreshEpochWindow {
			continue
		}
		product *= Reciprocal(r.Code)
		included++
	}
	if included == 0 {
		product = Reciprocal(e.x)
	}
	if mu := math.Pow(product, e.aI); mu > MinCode {
		return mu
	}
	return MinCode
}

// BeginEpoch is the epoch loop's once-per-tick clock advance.
func (e *ConsensusEngine) BeginEpoch() uint64 {
	e.epoch++
	return e.epoch
}

// OnDisturbance reacts to topology churn by inflating x.
func (e *ConsensusEngine) OnDisturbance(table *NeighborTable, reason string) {
	e.AdvanceQ()
	e.status = StatusDisturbed
	e.epoch++
	e.convergenceCount = 0

	mu := e.PseudoGeometricMean(table)
	x := 1 / mu
	if x < DisturbanceFloor {
		x = DisturbanceFloor
	}
	e.x = x
	e.logf("Disturbance amplified to %.4f (reason: %s)", e.x, reason)
}

// OnConvergeTick runs one convergence step while DISTURBED.
func (e *ConsensusEngine) OnConvergeTick(table *NeighborTable) {
	e.AdvanceQ()
	e.epoch++

	mu := e.PseudoGeometricMean(table)
	if e.x < 1 && math.Abs(mu-e.x) < e.threshold {
		e.convergenceCount++
	} else {
		e.convergenceCount = 0
		e.x = mu
	}

	if e.convergenceCount >= e.required && e.status != StatusStable {
		e.status = StatusStable
		e.logf("Converged to stable state at x=%.4f", e.x)
	}
}

// NextMessage bumps the message counter and returns the broadcast for the current state.
func (e *ConsensusEngine) NextMessage(networkID string) Message {
	e.messageCounter++
	return Message{
		NetworkID: networkID,
		From:      e.self,
		Status:    e.status.String(),
		X:         e.x,
		P:         e.params.P,
		Q:         e.params.QList[e.qIndex],
		Epoch:     e.epoch,
		Counter:   e.messageCounter,
	}
}

func (e *ConsensusEngine) X() float64 { return e.x }
func (e *ConsensusEngine) Status() Status { return e.status }
func (e *ConsensusEngine) Epoch() uint64 { return e.epoch }
func (e *ConsensusEngine) Region() Region { return e.region }
func (e *ConsensusEngine) QIndex() int { return e.qIndex }
func (e *ConsensusEngine) AI() float64 { return e.aI }

// Snapshot returns a copy of the engine's state.
func (e *ConsensusEngine) Snapshot() OwnState {
	return OwnState{
		X:                e.x,
		Status:           e.status,
		Epoch:            e.epoch,
		AI:               e.aI,
		QIndex:           e.qIndex,
		Q:                e.params.QList[e.qIndex],
		ConvergenceCount: e.convergenceCount,
		MessageCounter:   e.messageCounter,
	}
}
