package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"meshledger/oid"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendLevelDB = "leveldb"
	BackendFlatFS  = "flatfs"
)

// Config represents the configuration of a meshledger node or simulation
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		NodeID *oid.Oid `json:"id"`
	} `json:"node"`

	// Overlay parameters shared by every simulated node
	Mesh struct {
		NodeCount        int      `json:"nodeCount"`
		MinConnections   int      `json:"minConnections"`
		MaxConnections   int      `json:"maxConnections"`
		DropChance       float64  `json:"connectionDropChance"`
		GossipSample     int      `json:"gossipSample"`
		SeedsPerNode     int      `json:"seedsPerNode"`
		TickInterval     Duration `json:"tickInterval"`
		TickJitter       Duration `json:"tickJitter"`
		AnnounceInterval Duration `json:"announceInterval"`
		LogCapacity      int      `json:"logCapacity"`
		SeenCapacity     int      `json:"seenCapacity"`
		SeenTTL          Duration `json:"seenTtl"`
		MailboxSize      int      `json:"mailboxSize"`
		MaxHops          uint32   `json:"maxHops"`
		Seed             int64    `json:"seed"`
	} `json:"mesh"`

	Relay struct {
		MinLatency  Duration `json:"minLatency"`
		MaxLatency  Duration `json:"maxLatency"`
		PresenceTTL Duration `json:"presenceTtl"`
	} `json:"relay"`

	Ledger struct {
		ChainCount       int      `json:"chainCount"`
		IdentityCount    int      `json:"identityCount"`
		MaxAffiliations  int      `json:"maxAffiliations"`
		DefinitionHash   string   `json:"definitionHash"`
		Digest           string   `json:"digest"`
		Signer           string   `json:"signer"`
		PaymentInterval  Duration `json:"paymentInterval"`
		ForkEvery        int      `json:"forkEvery"`
		SimulationLength Duration `json:"simulationLength"`
	} `json:"ledger"`

	DataStore struct {
		Backend     string `json:"backend"`
		ChainPath   string `json:"chains"`
		AccountPath string `json:"accounts"`
	} `json:"datastore"`

	Network struct {
		SyncListenAddress string   `json:"syncListen"`
		SyncPeers         []string `json:"syncPeers"`
		SyncInterval      Duration `json:"syncInterval"`
		// Multicast group for sync endpoint announcements. Empty disables them.
		AnnounceGroup    string   `json:"announceGroup"`
		AnnounceInterval Duration `json:"announceInterval"`
		PeerTTL          Duration `json:"peerTtl"`
	} `json:"network"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Mesh.NodeCount = 30
	cfg.Mesh.MinConnections = 2
	cfg.Mesh.MaxConnections = 5
	cfg.Mesh.DropChance = 0.05
	cfg.Mesh.GossipSample = 10
	cfg.Mesh.SeedsPerNode = 3
	cfg.Mesh.TickInterval = Duration(2 * time.Second)
	cfg.Mesh.TickJitter = Duration(200 * time.Millisecond)
	cfg.Mesh.AnnounceInterval = Duration(10 * time.Second)
	cfg.Mesh.LogCapacity = 50
	cfg.Mesh.SeenCapacity = 4096
	cfg.Mesh.SeenTTL = Duration(10 * time.Minute)
	cfg.Mesh.MailboxSize = 1024

	cfg.Relay.MinLatency = Duration(50 * time.Millisecond)
	cfg.Relay.MaxLatency = Duration(200 * time.Millisecond)
	cfg.Relay.PresenceTTL = Duration(30 * time.Second)

	cfg.Ledger.ChainCount = 500
	cfg.Ledger.IdentityCount = 30
	cfg.Ledger.MaxAffiliations = 3
	cfg.Ledger.DefinitionHash = "meshledger-banknote-v1"
	cfg.Ledger.Digest = "sha256"
	cfg.Ledger.Signer = "simulated"
	cfg.Ledger.PaymentInterval = Duration(500 * time.Millisecond)
	cfg.Ledger.SimulationLength = Duration(30 * time.Second)

	cfg.DataStore.Backend = BackendLevelDB
	cfg.DataStore.ChainPath = "/tmp/meshledger/chains"
	cfg.DataStore.AccountPath = "/tmp/meshledger/accounts"

	cfg.Network.SyncListenAddress = "127.0.0.1:5001"
	cfg.Network.SyncInterval = Duration(30 * time.Second)
	cfg.Network.AnnounceGroup = "224.0.0.1:9999"
	cfg.Network.AnnounceInterval = Duration(5 * time.Second)
	cfg.Network.PeerTTL = Duration(30 * time.Second)

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ConfigFile() string {
	return c.configFile
}

// Validate checks the values the rest of the program relies on.
func (c *Config) Validate() error {
	m := &c.Mesh
	switch {
	case m.NodeCount < 1:
		return fmt.Errorf("%w: mesh.nodeCount must be positive", ErrInvalidConfig)
	case m.MinConnections < 0 || m.MaxConnections < 1 || m.MinConnections > m.MaxConnections:
		return fmt.Errorf("%w: mesh connection bounds %d..%d", ErrInvalidConfig, m.MinConnections, m.MaxConnections)
	case m.DropChance < 0 || m.DropChance > 1:
		return fmt.Errorf("%w: mesh.connectionDropChance %v", ErrInvalidConfig, m.DropChance)
	case m.TickInterval <= 0 || m.TickJitter < 0 || m.TickJitter >= m.TickInterval:
		return fmt.Errorf("%w: mesh tick %v jitter %v", ErrInvalidConfig, m.TickInterval.Std(), m.TickJitter.Std())
	case c.Relay.MaxLatency < c.Relay.MinLatency:
		return fmt.Errorf("%w: relay latency %v..%v", ErrInvalidConfig, c.Relay.MinLatency.Std(), c.Relay.MaxLatency.Std())
	case c.Ledger.IdentityCount < 1:
		return fmt.Errorf("%w: ledger.identityCount must be positive", ErrInvalidConfig)
	}
	switch c.DataStore.Backend {
	case BackendLevelDB, BackendFlatFS:
	default:
		return fmt.Errorf("%w: unknown datastore backend %q", ErrInvalidConfig, c.DataStore.Backend)
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.configFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return c.Validate()
}
