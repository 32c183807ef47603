package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/n3c4s/alohomora/internal/daemon"
	"github.com/n3c4s/alohomora/internal/device"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with devices on the local network",
}

var syncConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective sync settings",
	Args:  cobra.NoArgs,
	RunE:  runSyncConfig,
}

var syncScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List devices announcing themselves nearby",
	Args:  cobra.NoArgs,
	RunE:  runSyncScan,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve, discover and sync for a while, then report",
	Long: `Run starts a temporary node: it answers peers on the configured server
address, connects to devices it discovers and syncs pending changes. It stops
after --for or on interrupt and prints the sync results.`,
	Args: cobra.NoArgs,
	RunE: runSyncRun,
}

func init() {
	syncScanCmd.Flags().Duration("for", 5*time.Second, "How long to listen")
	syncRunCmd.Flags().Duration("for", time.Minute, "How long to run (0 until interrupted)")
	syncRunCmd.Flags().StringSlice("trust", nil, "Device ids to exchange changes with")

	syncCmd.AddCommand(syncConfigCmd)
	syncCmd.AddCommand(syncScanCmd)
	syncCmd.AddCommand(syncRunCmd)
}

func runSyncConfig(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mc, err := cfg.ManagerConfig()
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(mc)
	}
	fmt.Println(color.CyanString("Sync"))
	label("Auto sync", fmt.Sprintf("%t every %s", mc.AutoSync, mc.SyncInterval))
	label("Method", mc.Method.String())
	label("Discovery", fmt.Sprintf("%t (%s%s port %d)", mc.DiscoveryEnabled, mc.Discovery.Service, mc.Discovery.Domain, mc.Discovery.Port))
	label("Incoming", fmt.Sprint(mc.AllowIncoming))
	label("Strategy", mc.Engine.Strategy.String())
	label("Batch size", fmt.Sprint(mc.Engine.MaxBatchSize))
	label("Server", cfg.Server.Addr)
	return nil
}

// session opens a node for a bounded run. AutoSync is forced as asked;
// discovery always runs.
func session(cmd *cobra.Command, autoSync bool) (*daemon.Node, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Sync.AutoSync = autoSync
	if ids, err := cmd.Flags().GetStringSlice("trust"); err == nil {
		cfg.Sync.TrustedDevices = append(cfg.Sync.TrustedDevices, ids...)
	}
	cfg.Sync.DiscoveryEnabled = true
	cfg.Discovery.Enabled = true
	return daemon.Open(cmd.Context(), cfg, version, log)
}

func runContext(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() { cancel(); stop() }
}

func runSyncScan(cmd *cobra.Command, args []string) error {
	n, err := session(cmd, false)
	if err != nil {
		return err
	}
	defer n.Close()

	d, _ := cmd.Flags().GetDuration("for")
	ctx, cancel := runContext(cmd, d)
	defer cancel()
	if err := n.App.StartSync(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", d)
	<-ctx.Done()
	devices := n.App.SyncDevices()
	n.App.StopSync(context.WithoutCancel(ctx))

	if jsonOutput(cmd) {
		return printJSON(devices)
	}
	printDevices(devices)
	return nil
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	n, err := session(cmd, true)
	if err != nil {
		return err
	}
	defer n.Close()

	pw, err := readPassword("Master password: ")
	if err != nil {
		return err
	}
	if err := n.App.Unlock(cmd.Context(), pw); err != nil {
		return err
	}

	d, _ := cmd.Flags().GetDuration("for")
	ctx, cancel := runContext(cmd, d)
	defer cancel()
	if err := n.Run(ctx); err != nil {
		return err
	}

	stats, err := n.App.SyncStats(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(map[string]any{"stats": stats, "devices": n.App.SyncDevices()})
	}
	printDevices(n.App.SyncDevices())
	fmt.Println(color.CyanString("Totals"))
	label("Syncs", fmt.Sprintf("%d (%d ok, %d failed)", stats.TotalSyncs, stats.SuccessfulSyncs, stats.FailedSyncs))
	label("Changes sent", fmt.Sprint(stats.SyncedPasswords))
	label("Bytes sent", fmt.Sprint(stats.TotalDataSynced))
	for _, id := range stats.DevicesSyncedWith {
		success("synced with %s", color.YellowString(id))
	}
	if c := n.App.Conflicts(); len(c) > 0 {
		fmt.Println(color.YellowString("⚠") + fmt.Sprintf(" %d unresolved conflicts", len(c)))
	}
	return nil
}

func printDevices(devices []*device.Info) {
	if len(devices) == 0 {
		fmt.Println(color.YellowString("No devices found"))
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tADDRESS\tSTATUS\tTRUSTED")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", d.ID, d.Name, d.Type, d.ConnectionInfo(), d.Status, d.IsTrusted)
	}
	_ = tw.Flush()
}
