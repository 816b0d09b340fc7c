// Package config loads the node's tunables from YAML, with cobra flag
// overrides layered on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainIdentity selects the embedded genesis block and address prefix.
type ChainIdentity string

const (
	Dev      ChainIdentity = "dev"
	Testnet  ChainIdentity = "testnet"
	Mainnet  ChainIdentity = "mainnet"
)

var ErrUnknownChainIdentity = errors.New("unknown chain identity")

func (c ChainIdentity) Valid() error {
	switch c {
	case Dev, Testnet, Mainnet:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChainIdentity, c)
	}
}

// Config holds every tunable named in the node's operating parameters.
type Config struct {
	ChainIdentity ChainIdentity `yaml:"chain_identity"`

	TxWaitTimeout     time.Duration `yaml:"tx_wait_timeout"`
	MicroBlockTimeout time.Duration `yaml:"micro_block_timeout"`
	MacroBlockTimeout time.Duration `yaml:"macro_block_timeout"`

	MaxUTXOInTx      int `yaml:"max_utxo_in_tx"`
	MaxUTXOInBlock   int `yaml:"max_utxo_in_block"`
	MaxUTXOInMempool int `yaml:"max_utxo_in_mempool"`

	LoaderSpeedInEpoch int `yaml:"loader_speed_in_epoch"`

	PaymentFee uint64 `yaml:"payment_fee"`
	StakeFee   uint64 `yaml:"stake_fee"`

	BlocksInEpoch int `yaml:"blocks_in_epoch"`
	StakeEpochs   int `yaml:"stake_epochs"`

	ListenAddr     string   `yaml:"listen_addr"`
	LoaderAddr     string   `yaml:"loader_addr"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	DataDir        string   `yaml:"data_dir"`
	MetricsAddr    string   `yaml:"metrics_addr"`
}

// Default returns the node's out-of-the-box tunables for a dev chain.
func Default() *Config {
	return &Config{
		ChainIdentity:      Dev,
		TxWaitTimeout:      2 * time.Second,
		MicroBlockTimeout:  5 * time.Second,
		MacroBlockTimeout:  30 * time.Second,
		MaxUTXOInTx:        16,
		MaxUTXOInBlock:     2000,
		MaxUTXOInMempool:   20000,
		LoaderSpeedInEpoch: 20,
		PaymentFee:         1000,
		StakeFee:           0,
		BlocksInEpoch:      60,
		StakeEpochs:        6,
		ListenAddr:         "0.0.0.0:9160",
		LoaderAddr:         "0.0.0.0:9161",
		DataDir:            "./data",
		MetricsAddr:        "127.0.0.1:9190",
	}
}

// Load reads a YAML config file, falling back to Default() for any
// field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.ChainIdentity.Valid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// identityOnce makes chain identity process-wide and init-once: a
// node may only ever commit to one chain.
var identityOnce sync.Once
var committedIdentity ChainIdentity

// CommitIdentity locks the process to a chain identity. A second call
// with a different identity is a fatal programming error.
func CommitIdentity(id ChainIdentity) error {
	var err error
	identityOnce.Do(func() {
		committedIdentity = id
	})
	if committedIdentity != id {
		err = fmt.Errorf("chain identity already committed to %q, cannot switch to %q", committedIdentity, id)
	}
	return err
}
