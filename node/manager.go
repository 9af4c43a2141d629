package node

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
	"github.com/adamgarcia4/goLearning/meshguard/logger"
	"github.com/adamgarcia4/goLearning/meshguard/transport"
)

// DefaultCloneQList is the q sequence a clone runs with. The clone copies an
// identity and its address but not the secret q sequence.
var DefaultCloneQList = []float64{1}

// ManagerOptions configures a simulated mesh.
type ManagerOptions struct {
	// Template supplies network id, intervals and thresholds; its NodeID and
	// Members are replaced per node.
	Template *Config
	// Size is the number of devices in the roster.
	Size int
	// Regions the roster is spread over, round robin.
	Regions int
	// Live nodes run their own poll loop on wall-clock time; otherwise the
	// caller drives them with Step.
	Live bool
}

// Manager runs a simulated mesh of nodes over one in-memory hub.
type Manager struct {
	opts   ManagerOptions
	hub    *transport.Hub
	roster []Member

	nodes  []*Node // maintain order with slice
	active map[gossip.NodeID]bool
	clones map[*Node]bool
	mu     sync.RWMutex
}

// NewManager creates a manager with a roster of opts.Size devices.
// No device is powered on until AddNode.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("mesh size must be at least 1, got %d", opts.Size)
	}
	if opts.Regions < 1 {
		opts.Regions = 1
	}
	if opts.Template == nil {
		opts.Template = DefaultConfig("")
	}

	return &Manager{
		opts:   opts,
		hub:    transport.NewHub(0),
		roster: BuildRoster(opts.Size, opts.Regions),
		nodes:  make([]*Node, 0, opts.Size),
		active: make(map[gossip.NodeID]bool),
		clones: make(map[*Node]bool),
	}, nil
}

// BuildRoster lays out size devices named node-1..node-N with distinct seeds
// and q sequences, spread round robin over regions.
func BuildRoster(size, regions int) []Member {
	if regions < 1 {
		regions = 1
	}
	roster := make([]Member, 0, size)
	for i := 1; i <= size; i++ {
		roster = append(roster, Member{
			ID:      gossip.NodeID(fmt.Sprintf("node-%d", i)),
			Address: fmt.Sprintf("02:00:00:00:%02x:%02x", i>>8&0xff, i&0xff),
			Region:  gossip.Region(fmt.Sprintf("region-%d", (i-1)%regions+1)),
			P:       0.5 + 0.1*float64((i-1)%5),
			QList:   []float64{float64(1 + (i-1)%3), float64(2 + (i-1)%4)},
		})
	}
	return roster
}

// AddNode powers on the next roster device that is not running.
func (m *Manager) AddNode() (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, member := range m.roster {
		if m.active[member.ID] {
			continue
		}
		n, err := m.spawn(member.ID, nil)
		if err != nil {
			return nil, err
		}
		m.active[member.ID] = true
		m.nodes = append(m.nodes, n)
		return n, nil
	}
	return nil, fmt.Errorf("all %d roster devices are running", len(m.roster))
}

// CloneNode powers on a second device that transmits under the identity and
// address of the node at index. qList is the clone's q sequence; nil selects
// DefaultCloneQList.
func (m *Manager) CloneNode(index int, qList []float64) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.nodes) {
		return nil, fmt.Errorf("invalid node index: %d", index)
	}
	if qList == nil {
		qList = DefaultCloneQList
	}
	n, err := m.spawn(m.nodes[index].ID(), qList)
	if err != nil {
		return nil, err
	}
	m.clones[n] = true
	m.nodes = append(m.nodes, n)
	return n, nil
}

func (m *Manager) spawn(id gossip.NodeID, qList []float64) (*Node, error) {
	cfg := m.opts.Template.Clone()
	cfg.NodeID = id
	cfg.Members = (&Config{Members: m.roster}).Clone().Members
	if qList != nil {
		for i := range cfg.Members {
			if cfg.Members[i].ID == id {
				cfg.Members[i].QList = append([]float64(nil), qList...)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", id, err)
	}

	self, _ := cfg.Self()
	endpoint, err := m.hub.Attach(self.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to attach %s: %w", id, err)
	}

	n, err := New(cfg, endpoint)
	if err != nil {
		_ = endpoint.Close()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	if m.opts.Live {
		err = n.Start()
	} else {
		err = n.Boot()
	}
	if err != nil {
		_ = endpoint.Close()
		return nil, fmt.Errorf("failed to start node: %w", err)
	}
	return n, nil
}

// DeleteNode stops and removes a node by its index in the list
func (m *Manager) DeleteNode(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.nodes) {
		m.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrNodeNotFound, index)
	}

	n := m.nodes[index]
	m.nodes = append(m.nodes[:index], m.nodes[index+1:]...)
	if m.clones[n] {
		delete(m.clones, n)
	} else {
		delete(m.active, n.ID())
	}
	m.mu.Unlock()

	if err := n.Stop(); err != nil {
		logger.Errorf("Error stopping node %s: %v", n.ID(), err)
		return err
	}
	return nil
}

// Step polls every node at now, in list order. It returns the reports of
// the nodes that ticked.
func (m *Manager) Step(now time.Time) []gossip.TickReport {
	nodes := m.GetNodes()
	reports := make([]gossip.TickReport, 0, len(nodes))
	for _, n := range nodes {
		if report, ticked := n.Step(now); ticked {
			reports = append(reports, report)
		}
	}
	return reports
}

// GetNodes returns a list of all nodes (maintains order)
func (m *Manager) GetNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	return nodes
}

// IsClone reports whether n was started by CloneNode.
func (m *Manager) IsClone(n *Node) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clones[n]
}

// Roster returns a copy of the mesh roster.
func (m *Manager) Roster() []Member {
	return (&Config{Members: m.roster}).Clone().Members
}

func (m *Manager) Hub() *transport.Hub { return m.hub }

// StopAll stops all nodes
func (m *Manager) StopAll() error {
	m.mu.Lock()
	nodes := m.nodes
	m.nodes = nil
	m.active = make(map[gossip.NodeID]bool)
	m.clones = make(map[*Node]bool)
	m.mu.Unlock()

	var g errgroup.Group
	for _, n := range nodes {
		g.Go(n.Stop)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("errors stopping nodes: %w", err)
	}
	return nil
}
