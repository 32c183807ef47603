// Command alohomorad runs the vault as a long-lived node: the HTTP API,
// device discovery and background sync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/n3c4s/alohomora/internal/config"
	"github.com/n3c4s/alohomora/internal/daemon"
	"github.com/n3c4s/alohomora/internal/logging"
	"github.com/n3c4s/alohomora/internal/platform"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "alohomorad",
	Short:        "Alohomora vault daemon",
	Version:      version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().String("config", "", "Config file path")
	rootCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

func run(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	if err := platform.DisableCoreDumps(); err != nil {
		log.Warn().Err(err).Msg("could not disable core dumps")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := daemon.Open(ctx, cfg, version, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error().Err(err).Msg("close")
		}
	}()

	log.Info().Str("version", version).Str("storage", cfg.Vault.Storage.Backend).Msg("alohomorad starting")
	if err := n.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("alohomorad stopped")
	return nil
}
