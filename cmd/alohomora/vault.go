package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/vault"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the master password of a new vault",
	RunE:  runInit,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a password against the master password",
	RunE:  runVerify,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault and local device",
	RunE:  runStatus,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log",
	RunE:  runAudit,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password",
	RunE:  runGenerate,
}

func init() {
	auditCmd.Flags().Int("limit", 50, "Show at most this many recent entries (0 for all)")

	generateCmd.Flags().IntP("length", "l", cr.DefaultPasswordOptions().Length, "Password length")
	generateCmd.Flags().Bool("no-upper", false, "Leave out uppercase letters")
	generateCmd.Flags().Bool("no-lower", false, "Leave out lowercase letters")
	generateCmd.Flags().Bool("no-numbers", false, "Leave out digits")
	generateCmd.Flags().Bool("no-symbols", false, "Leave out symbols")
	generateCmd.Flags().Bool("exclude-similar", false, "Leave out look-alike characters")
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.IsInitialized(cmd.Context())
	if err != nil {
		return err
	}
	if ok {
		return vault.ErrAlreadyInitialized
	}
	pw, err := readPassword("New master password: ")
	if err != nil {
		return err
	}
	if pw == "" {
		return errEmptyPassword
	}
	again, err := readPassword("Repeat master password: ")
	if err != nil {
		return err
	}
	if pw != again {
		return errMismatch
	}
	if err := a.InitMaster(cmd.Context(), pw); err != nil {
		return err
	}
	success("Vault initialized on %s", color.CyanString(a.Manager().LocalDevice().Name))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := readPassword("Master password: ")
	if err != nil {
		return err
	}
	ok, err := a.VerifyMaster(cmd.Context(), pw)
	if err != nil {
		return err
	}
	if !ok {
		return vault.ErrWrongPassword
	}
	success("Password matches")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.IsInitialized(cmd.Context())
	if err != nil {
		return err
	}
	n, err := a.EntryCount(cmd.Context())
	if err != nil {
		return err
	}
	info := a.SystemInfo()
	if jsonOutput(cmd) {
		return printJSON(map[string]any{"initialized": ok, "entries": n, "system": info})
	}

	fmt.Println(color.CyanString("Vault"))
	if ok {
		label("Master password", color.GreenString("set"))
	} else {
		label("Master password", color.YellowString("not set")+" (run "+color.YellowString("alohomora init")+")")
	}
	label("Entries", strconv.Itoa(n))
	fmt.Println(color.CyanString("Device"))
	d := info.LocalDevice
	label("Name", d.Name)
	label("ID", color.YellowString(d.ID))
	label("Type", d.Type.String())
	label("Platform", d.OS+"/"+d.OSVersion)
	label("Version", d.AppVersion)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.AuditLog()
	if err != nil {
		return err
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if jsonOutput(cmd) {
		return printJSON(entries)
	}
	for _, e := range entries {
		at := time.Unix(e.TS, 0).Local().Format(time.DateTime)
		fmt.Printf("%s  %-22s %s\n", color.HiBlackString(at), color.CyanString(e.Action), e.Subject)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	length, _ := f.GetInt("length")
	noUpper, _ := f.GetBool("no-upper")
	noLower, _ := f.GetBool("no-lower")
	noNumbers, _ := f.GetBool("no-numbers")
	noSymbols, _ := f.GetBool("no-symbols")
	similar, _ := f.GetBool("exclude-similar")

	pw, err := cr.GeneratePasswordWith(cr.PasswordOptions{
		Length:         length,
		Upper:          !noUpper,
		Lower:          !noLower,
		Numbers:        !noNumbers,
		Symbols:        !noSymbols,
		ExcludeSimilar: similar,
	})
	if err != nil {
		return err
	}
	fmt.Println(pw)
	return nil
}
