package node

import (
	"fmt"
	"time"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

// Default configuration constants
const (
	DefaultNetworkID            = "GTI"
	DefaultEpochInterval        = time.Second
	DefaultPollInterval         = 100 * time.Millisecond
	DefaultConvergenceThreshold = 0.01
	DefaultStableEpochs         = 3
	DefaultListenAddress        = "127.0.0.1:50051"
)

// Member is one device of the mesh roster. Every node carries the whole
// roster; its own entry supplies p and q_list, the others are its peers.
type Member struct {
	ID      gossip.NodeID `mapstructure:"id"`
	Address string        `mapstructure:"address"`
	Region  gossip.Region `mapstructure:"region"`
	P       float64       `mapstructure:"p"`
	QList   []float64     `mapstructure:"q_list"`
}

// Config holds the configuration for a node
type Config struct {
	// Node identification
	NodeID    gossip.NodeID `mapstructure:"node_id"`
	NetworkID string        `mapstructure:"network_id"`

	// Mesh roster, self included
	Members []Member `mapstructure:"members"`

	// Consensus configuration
	EpochInterval        time.Duration `mapstructure:"epoch_interval"`
	ConvergenceThreshold float64       `mapstructure:"convergence_threshold"`
	StableEpochs         int           `mapstructure:"stable_epochs"`
	CloneLogCapacity     int           `mapstructure:"clone_log_capacity"`

	// Runtime
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ListenAddress string        `mapstructure:"listen_address"`
}

// DefaultConfig returns a config with sensible defaults and an empty roster.
func DefaultConfig(nodeID gossip.NodeID) *Config {
	return &Config{
		NodeID:               nodeID,
		NetworkID:            DefaultNetworkID,
		Members:              []Member{},
		EpochInterval:        DefaultEpochInterval,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		StableEpochs:         DefaultStableEpochs,
		CloneLogCapacity:     gossip.DefaultCloneLogCapacity,
		PollInterval:         DefaultPollInterval,
		ListenAddress:        DefaultListenAddress,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrNodeIDRequired
	}
	if c.NetworkID == "" {
		return ErrNetworkIDRequired
	}
	if c.EpochInterval <= 0 {
		return ErrInvalidEpochInterval
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.ConvergenceThreshold < 0 {
		return ErrInvalidThreshold
	}
	if c.StableEpochs < 1 {
		return ErrInvalidStableEpochs
	}

	seen := make(map[gossip.NodeID]struct{}, len(c.Members))
	for i, m := range c.Members {
		if m.ID == "" {
			return fmt.Errorf("member %d: %w", i, ErrMemberIDRequired)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Address == "" {
			return fmt.Errorf("member %s: %w", m.ID, ErrAddressRequired)
		}
	}

	self, ok := c.Self()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, c.NodeID)
	}
	if err := (gossip.ConsensusParams{P: self.P, QList: self.QList}).Validate(); err != nil {
		return fmt.Errorf("member %s: %w", self.ID, err)
	}
	return nil
}

// Self returns this node's roster entry.
func (c *Config) Self() (Member, bool) {
	for _, m := range c.Members {
		if m.ID == c.NodeID {
			return m, true
		}
	}
	return Member{}, false
}

// Regions maps every member to its region.
func (c *Config) Regions() gossip.RegionMap {
	regions := make(gossip.RegionMap, len(c.Members))
	for _, m := range c.Members {
		if m.Region != "" {
			regions[m.ID] = m.Region
		}
	}
	return regions
}

// Peers maps every member but self to its address.
func (c *Config) Peers() map[gossip.NodeID]string {
	peers := make(map[gossip.NodeID]string, len(c.Members))
	for _, m := range c.Members {
		if m.ID != c.NodeID {
			peers[m.ID] = m.Address
		}
	}
	return peers
}

// LoopConfig converts a validated config into the epoch loop's view of it.
func (c *Config) LoopConfig(logf gossip.LogFunc) gossip.LoopConfig {
	self, _ := c.Self()
	return gossip.LoopConfig{
		Self:             c.NodeID,
		NetworkID:        c.NetworkID,
		Regions:          c.Regions(),
		Params:           gossip.ConsensusParams{P: self.P, QList: append([]float64(nil), self.QList...)},
		Peers:            c.Peers(),
		Interval:         c.EpochInterval,
		Threshold:        c.ConvergenceThreshold,
		StableEpochs:     c.StableEpochs,
		CloneLogCapacity: c.CloneLogCapacity,
		Logf:             logf,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Members = make([]Member, len(c.Members))
	for i, m := range c.Members {
		m.QList = append([]float64(nil), m.QList...)
		out.Members[i] = m
	}
	return &out
}
