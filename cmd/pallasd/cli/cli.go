// Package cli implements pallasd's cobra command tree: run, keygen
// and chain-info subcommands hung off one root.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/node"
	"github.com/pallaschain/pallas/internal/store"
)

// NewCLI builds the pallasd root command.
func NewCLI() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pallasd",
		Short: "pallasd runs a pallas validator node.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newChainInfoCmd(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a validator node until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			n, err := node.New(cfg)
			if err != nil {
				return fmt.Errorf("construct node: %w", err)
			}
			if err := n.Start(); err != nil {
				return fmt.Errorf("start node: %w", err)
			}

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
			<-sigc

			return n.Stop()
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate and save a fresh node identity and consensus key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return err
			}

			identity, err := crypto.GenerateNodeIdentity()
			if err != nil {
				return fmt.Errorf("generate node identity: %w", err)
			}
			nodeKeyPath := filepath.Join(dataDir, "node.key")
			if err := crypto.SaveIdentityPEM(identity, nodeKeyPath); err != nil {
				return fmt.Errorf("save node identity: %w", err)
			}
			did, err := crypto.GenerateDIDKey(crypto.SerializeNodePublicKey(identity.Pub))
			if err != nil {
				return fmt.Errorf("derive did:key: %w", err)
			}

			sk, err := crypto.GenerateSecretKey()
			if err != nil {
				return fmt.Errorf("generate consensus key: %w", err)
			}
			consensusKeyPath := filepath.Join(dataDir, "consensus.key")
			if err := os.WriteFile(consensusKeyPath, sk.Bytes(), 0600); err != nil {
				return fmt.Errorf("save consensus key: %w", err)
			}

			fmt.Printf("node identity:      %s\n", did)
			fmt.Printf("node key file:      %s\n", nodeKeyPath)
			fmt.Printf("consensus pub key:  %x\n", sk.Public().Bytes())
			fmt.Printf("consensus key file: %s\n", consensusKeyPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory to write key material into")
	return cmd
}

func newChainInfoCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chain-info",
		Short: "Print the committed chain's tip height, epoch and view.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("chain-info requires a config with data_dir set")
			}
			bs, err := store.OpenBoltStore(filepath.Join(cfg.DataDir, "chain.db"))
			if err != nil {
				return err
			}
			defer bs.Close()

			tipHash, ok, err := bs.Tip()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("chain has no committed blocks")
				return nil
			}
			b, ok, err := bs.Get(tipHash)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("store tip %s not found among stored blocks", tipHash)
			}
			h := b.Header()
			fmt.Printf("chain identity: %s\n", cfg.ChainIdentity)
			fmt.Printf("tip hash:       %s\n", tipHash)
			fmt.Printf("epoch:          %d\n", h.Height.Epoch)
			fmt.Printf("offset:         %d\n", h.Height.Offset)
			fmt.Printf("view:           %d\n", h.View)
			fmt.Printf("is macro-block: %t\n", b.IsMacro())
			return nil
		},
	}
}
