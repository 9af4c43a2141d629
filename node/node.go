package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
	"github.com/adamgarcia4/goLearning/meshguard/logger"
	"github.com/adamgarcia4/goLearning/meshguard/transport"
)

// Transport is a gossip.Transport the node owns and closes on Stop.
type Transport interface {
	gossip.Transport
	Close() error
}

// server is implemented by transports that accept connections (gRPC).
type server interface {
	Listen() error
	Serve() error
}

// Node runs one device: an epoch loop over a transport, a status LED and a
// clone alert sink.
type Node struct {
	config    *Config
	loop      *gossip.EpochLoop
	transport Transport
	led       *LED
	alerts    *BlinkSink

	// stepMu serializes ticks; the loop itself is not safe for concurrent use
	stepMu sync.Mutex

	// Published after every tick for observers
	mu     sync.RWMutex
	state  gossip.LoopState
	report gossip.TickReport
	ticked bool

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan error
	running bool
}

// New creates a node over an existing transport.
func New(config *Config, t Transport) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := string(config.NodeID)
	led := NewLED(logger.Node(id, logger.LevelDebug))
	alerts := NewBlinkSink(led, logger.Node(id, logger.LevelError))

	loopCfg := config.LoopConfig(logger.Node(id, logger.LevelInfo))
	loopCfg.Debugf = logger.Node(id, logger.LevelDebug)
	loop, err := gossip.NewEpochLoop(loopCfg, t, alerts, led)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch loop: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:    config,
		loop:      loop,
		transport: t,
		led:       led,
		alerts:    alerts,
		ctx:       ctx,
		cancel:    cancel,
	}
	n.state = loop.State()
	return n, nil
}

// NewGRPC creates a node that gossips over gRPC on config.ListenAddress.
func NewGRPC(config *Config) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.ListenAddress == "" {
		return nil, ErrListenAddressRequired
	}
	t, err := transport.NewGRPC(transport.GRPCOptions{
		ListenAddress: config.ListenAddress,
		Logf:          logger.Node(string(config.NodeID), logger.LevelWarn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC transport: %w", err)
	}
	return New(config, t)
}

// Boot registers peers and, for server transports, binds the listen
// address. Binding errors (e.g. port already in use) surface here.
func (n *Node) Boot() error {
	self, _ := n.config.Self()
	n.logf("%s initialized in region %s", n.config.NodeID, n.config.Regions().Of(n.config.NodeID))
	n.logf("p=%v, q=%v", self.P, self.QList[0])

	for _, err := range n.loop.RegisterPeers() {
		n.warnf("%v", err)
	}
	n.logf("Peers: %v", n.loop.Peers())

	if s, ok := n.transport.(server); ok {
		if err := s.Listen(); err != nil {
			return fmt.Errorf("failed to bind transport: %w", err)
		}
	}
	return nil
}

// Run boots the node and polls the epoch loop until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Boot(); err != nil {
		return err
	}
	return n.serve(ctx)
}

// Start boots the node and runs it in the background until Stop.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrAlreadyRunning
	}
	if err := n.Boot(); err != nil {
		return err
	}

	n.running = true
	n.done = make(chan error, 1)
	go func() {
		n.done <- n.serve(n.ctx)
	}()
	n.logf("Node %s started", n.config.NodeID)
	return nil
}

// Stop stops the node gracefully
func (n *Node) Stop() error {
	n.mu.Lock()
	running := n.running
	done := n.done
	n.running = false
	n.cancel()
	n.mu.Unlock()

	n.logf("Stopping node %s...", n.config.NodeID)

	var err error
	if running {
		err = <-done
	} else {
		err = n.transport.Close()
	}
	n.alerts.Wait()

	n.logf("Node %s stopped", n.config.NodeID)
	return err
}

func (n *Node) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s, ok := n.transport.(server); ok {
		g.Go(s.Serve)
	}
	g.Go(func() error {
		<-ctx.Done()
		return n.transport.Close()
	})
	g.Go(func() error {
		ticker := time.NewTicker(n.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				n.Step(now)
			}
		}
	})

	return g.Wait()
}

// Step polls the epoch loop at now and ticks it when an interval has passed.
func (n *Node) Step(now time.Time) (gossip.TickReport, bool) {
	n.stepMu.Lock()
	defer n.stepMu.Unlock()

	report, ticked := n.loop.Poll(now)
	if ticked {
		n.publish(report)
	}
	return report, ticked
}

// Tick forces one epoch at now regardless of the interval.
func (n *Node) Tick(now time.Time) gossip.TickReport {
	n.stepMu.Lock()
	defer n.stepMu.Unlock()

	report := n.loop.Tick(now)
	n.publish(report)
	return report
}

func (n *Node) publish(report gossip.TickReport) {
	state := n.loop.State()

	n.mu.Lock()
	n.state = state
	n.report = report
	n.ticked = true
	n.mu.Unlock()

	n.logf("Epoch %d: %s x=%.4f (%s) Region: %s Neighbors: %v",
		report.Epoch, n.config.NodeID, report.X, report.Status, state.Region, report.Neighbors)
}

// State returns the loop state published after the last tick.
func (n *Node) State() gossip.LoopState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// LastReport returns the report of the last tick, if any.
func (n *Node) LastReport() (gossip.TickReport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.report, n.ticked
}

func (n *Node) ID() gossip.NodeID { return n.config.NodeID }

// GetConfig returns the node configuration (for external access)
func (n *Node) GetConfig() *Config { return n.config }

func (n *Node) LEDOn() bool { return n.led.On() }

func (n *Node) Running() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

func (n *Node) logf(format string, args ...interface{}) {
	logger.Infof("[%s] %s", string(n.config.NodeID), fmt.Sprintf(format, args...))
}

func (n *Node) warnf(format string, args ...interface{}) {
	logger.Warnf("[%s] %s", string(n.config.NodeID), fmt.Sprintf(format, args...))
}
