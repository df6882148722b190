// Package config loads and saves the node's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Role selects which role.Role a node runs.
type Role string

// Supported roles.
const (
	RoleFull  Role = "full"
	RoleMiner Role = "miner"
	RoleSPV   Role = "spv"
)

// Config holds all configuration for a node process.
type Config struct {
	// Identity.Name becomes part of the peer identifier "<addr>:<name>".
	Identity IdentityConfig `yaml:"identity"`

	Role Role `yaml:"role"`

	Network NetworkConfig `yaml:"network"`

	Storage StorageConfig `yaml:"storage"`

	Logging LoggingConfig `yaml:"logging"`
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	Name string `yaml:"name"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	Port           int      `yaml:"port"`
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	EnableMDNS     bool     `yaml:"enable_mdns"`

	// HeartbeatInterval and HandshakeRetryInterval default to 1800s and 1s
	// respectively but are configurable so tests can shrink them.
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	HandshakeRetryInterval time.Duration `yaml:"handshake_retry_interval"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	ChainFile string `yaml:"chain_file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a Config listening on port 5000 as a full node.
func DefaultConfig() *Config {
	return &Config{
		Role: RoleFull,
		Identity: IdentityConfig{
			Name: "",
		},
		Network: NetworkConfig{
			Port: 5000,
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/5000",
			},
			BootstrapPeers:         []string{},
			EnableMDNS:             true,
			HeartbeatInterval:      1800 * time.Second,
			HandshakeRetryInterval: time.Second,
			SweepInterval:          30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:   "~/.p2pnode",
			ChainFile: "blockchain.json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name within a data directory.
const ConfigFileName = "config.yaml"

// Load reads configuration from <dataDir>/config.yaml, creating one with
// default values if it does not already exist.
func Load(dataDir string) (*Config, error) {
	expanded := ExpandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	header := []byte("# p2pnode configuration\n# Generated automatically on first run\n\n")
	return os.WriteFile(path, append(header, data...), 0o600)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
