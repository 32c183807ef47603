// Command alohomora manages a local vault: master password, entries,
// password generation and short sync sessions with nearby devices.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/n3c4s/alohomora/internal/app"
	"github.com/n3c4s/alohomora/internal/config"
	"github.com/n3c4s/alohomora/internal/logging"
	"github.com/n3c4s/alohomora/internal/platform"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), app.UserMessage(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "alohomora",
	Short:         "Alohomora password manager",
	Long:          `Alohomora keeps an encrypted password vault and syncs it with your other devices on the local network.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// decrypted entries pass through this process
		_ = platform.DisableCoreDumps()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(syncCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	level, _ := cmd.Root().PersistentFlags().GetString("log-level")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(level, "console", os.Stderr), nil
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), cfg, version, app.Deps{Logger: log})
}

// openUnlocked opens the vault and unlocks it with a prompted password.
func openUnlocked(cmd *cobra.Command) (*app.App, error) {
	a, err := openApp(cmd)
	if err != nil {
		return nil, err
	}
	pw, err := readPassword("Master password: ")
	if err == nil {
		err = a.Unlock(cmd.Context(), pw)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

var stdin = bufio.NewReader(os.Stdin)

// readPassword prompts without echo on a terminal and reads a plain line
// otherwise, so passwords can be piped in.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func success(format string, args ...any) {
	fmt.Println(color.GreenString("✓") + " " + fmt.Sprintf(format, args...))
}

func label(name, value string) {
	fmt.Printf("  %-16s %s\n", name+":", value)
}

var (
	errMismatch      = errors.New("passwords do not match")
	errEmptyPassword = errors.New("password must not be empty")
)
