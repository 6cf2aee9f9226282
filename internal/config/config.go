// Package config loads the daemon configuration: which network is active,
// which notary serves each network and where the encrypted keystore lives.
// Values come from defaults, then an optional YAML file, then REPD_* env
// overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"robosats/reputationd/internal/wire"
)

var ErrNoNotary = errors.New("config: no notary configured for active network")

// Notary locates one network's reputation aggregator: the relay it listens on
// and the x-only pubkey its envelopes must be addressed to.
type Notary struct {
	RelayURL string `yaml:"relay_url"`
	Pubkey   string `yaml:"pubkey"`
}

// Keystore configures the encrypted on-disk item store.
type Keystore struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Config struct {
	// Network selects which notary entry the protocol components use.
	Network  string            `yaml:"network"`
	Notaries map[string]Notary `yaml:"notaries"`
	Keystore Keystore          `yaml:"keystore"`
	Log      Log               `yaml:"log"`
	// StatsTimeout bounds how long a stats query waits for the notary reply.
	StatsTimeout time.Duration `yaml:"stats_timeout"`
	// MetricsListen, when set, exposes Prometheus metrics on this address.
	MetricsListen string `yaml:"metrics_listen"`
}

// Default returns the built-in configuration. It is complete enough to run
// against mainnet with only the notary pubkey filled in via file or env.
func Default() Config {
	return Config{
		Network: wire.NetworkMainnet,
		Notaries: map[string]Notary{
			wire.NetworkMainnet: {RelayURL: "wss://relay.damus.io"},
			wire.NetworkTestnet: {RelayURL: "wss://relay.damus.io"},
		},
		Keystore:     Keystore{Path: defaultKeystorePath()},
		Log:          Log{Level: "info"},
		StatsTimeout: 15 * time.Second,
	}
}

// Load builds the effective configuration. path may be empty or point at a
// missing file; both fall back to defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REPD_NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("REPD_RELAY_URL"); v != "" {
		n := c.Notaries[c.Network]
		n.RelayURL = v
		c.ensureNotaries()
		c.Notaries[c.Network] = n
	}
	if v := os.Getenv("REPD_NOTARY_PUBKEY"); v != "" {
		n := c.Notaries[c.Network]
		n.Pubkey = v
		c.ensureNotaries()
		c.Notaries[c.Network] = n
	}
	if v := os.Getenv("REPD_KEYSTORE_PATH"); v != "" {
		c.Keystore.Path = v
	}
	if v := os.Getenv("REPD_KEYSTORE_PASSPHRASE"); v != "" {
		c.Keystore.Passphrase = v
	}
	if v := os.Getenv("REPD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REPD_METRICS_LISTEN"); v != "" {
		c.MetricsListen = v
	}
}

func (c *Config) ensureNotaries() {
	if c.Notaries == nil {
		c.Notaries = make(map[string]Notary)
	}
}

func (c *Config) Validate() error {
	c.Network = wire.NormalizeNetwork(c.Network)
	if !wire.ValidNetwork(c.Network) {
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if n, ok := c.Notaries[c.Network]; ok && n.Pubkey != "" && !wire.IsHexPubkey(n.Pubkey) {
		return fmt.Errorf("config: notary pubkey for %s is not 64-char hex", c.Network)
	}
	if c.StatsTimeout <= 0 {
		c.StatsTimeout = 15 * time.Second
	}
	return nil
}

// ActiveNotary resolves the notary entry for the active network. It fails
// when the entry is missing or incomplete; the caller decides whether that
// means "reputation unavailable" or a hard error.
func (c *Config) ActiveNotary() (Notary, error) {
	n, ok := c.Notaries[c.Network]
	if !ok || n.RelayURL == "" || !wire.IsHexPubkey(n.Pubkey) {
		return Notary{}, ErrNoNotary
	}
	return n, nil
}

func defaultKeystorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reputationd.keystore"
	}
	return strings.Join([]string{home, ".reputationd", "keystore"}, string(os.PathSeparator))
}
