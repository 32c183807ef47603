package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/vault"
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	Aliases: []string{"entry", "e"},
	Short:   "Manage vault entries",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, optionally filtered",
	Args:  cobra.NoArgs,
	RunE:  runEntriesList,
}

var entriesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an entry",
	Args:  cobra.NoArgs,
	RunE:  runEntriesAdd,
}

var entriesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntriesGet,
}

var entriesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntriesEdit,
}

var entriesCodeCmd = &cobra.Command{
	Use:   "code <id>",
	Short: "Print the current one-time code of an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntriesCode,
}

var entriesRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete an entry",
	Args:    cobra.ExactArgs(1),
	RunE:    runEntriesRemove,
}

func init() {
	entriesListCmd.Flags().StringP("query", "q", "", "Match title, username, URL or category")

	for _, c := range []*cobra.Command{entriesAddCmd, entriesEditCmd} {
		c.Flags().String("title", "", "Entry title")
		c.Flags().String("username", "", "Username")
		c.Flags().String("url", "", "Site URL")
		c.Flags().String("category", "", "Category")
		c.Flags().String("notes", "", "Notes")
		c.Flags().String("totp-secret", "", "Base32 authenticator secret")
		c.Flags().Bool("favorite", false, "Mark as favorite")
		c.Flags().Int("generate", 0, "Generate a password of this length instead of prompting")
	}
	entriesEditCmd.Flags().Bool("password", false, "Prompt for a new password")
	entriesGetCmd.Flags().Bool("show", false, "Print the password")

	entriesCmd.AddCommand(entriesListCmd)
	entriesCmd.AddCommand(entriesAddCmd)
	entriesCmd.AddCommand(entriesGetCmd)
	entriesCmd.AddCommand(entriesEditCmd)
	entriesCmd.AddCommand(entriesCodeCmd)
	entriesCmd.AddCommand(entriesRemoveCmd)
}

func runEntriesList(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	q, _ := cmd.Flags().GetString("query")
	var list []vault.Entry
	if q != "" {
		list, err = a.SearchEntries(cmd.Context(), q)
	} else {
		list, err = a.Entries(cmd.Context())
	}
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		for i := range list {
			list[i].Password = ""
		}
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println(color.YellowString("No entries"))
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUSERNAME\tURL\tCATEGORY")
	for _, e := range list {
		title := e.Title
		if e.Favorite {
			title += " ★"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, title, e.Username, e.URL, e.Category)
	}
	return tw.Flush()
}

func runEntriesAdd(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var e vault.Entry
	applyEntryFlags(cmd, &e)
	e.Password, err = entryPassword(cmd, "Entry password: ")
	if err != nil {
		return err
	}
	created, err := a.CreateEntry(cmd.Context(), e)
	if err != nil {
		return err
	}
	success("Added %s (%s)", color.CyanString(created.Title), color.YellowString(created.ID))
	return nil
}

func runEntriesGet(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.Entry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("show"); !show {
		e.Password = strings.Repeat("•", 8)
		if e.TOTPSecret != "" {
			e.TOTPSecret = strings.Repeat("•", 8)
		}
	}
	if jsonOutput(cmd) {
		return printJSON(e)
	}
	fmt.Println(color.CyanString(e.Title))
	label("ID", color.YellowString(e.ID))
	label("Username", e.Username)
	label("Password", e.Password)
	if e.URL != "" {
		label("URL", e.URL)
	}
	if e.Category != "" {
		label("Category", e.Category)
	}
	if e.TOTPSecret != "" {
		label("One-time code", "yes (alohomora entries code "+e.ID+")")
	}
	if e.Notes != "" {
		label("Notes", e.Notes)
	}
	label("Updated", e.UpdatedAt.Local().Format("2006-01-02 15:04"))
	label("Version", fmt.Sprint(e.Version))
	return nil
}

func runEntriesEdit(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.Entry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	applyEntryFlags(cmd, &e)
	prompt, _ := cmd.Flags().GetBool("password")
	if n, _ := cmd.Flags().GetInt("generate"); prompt || n > 0 {
		if e.Password, err = entryPassword(cmd, "New password: "); err != nil {
			return err
		}
	}
	updated, err := a.UpdateEntry(cmd.Context(), e.ID, e)
	if err != nil {
		return err
	}
	success("Updated %s (version %d)", color.CyanString(updated.Title), updated.Version)
	return nil
}

func runEntriesCode(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	code, err := a.EntryCode(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(code)
	}
	fmt.Printf("%s  %s\n", color.GreenString(code.Code), color.HiBlackString("valid %s", code.ExpiresIn))
	return nil
}

func runEntriesRemove(cmd *cobra.Command, args []string) error {
	a, err := openUnlocked(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.DeleteEntry(cmd.Context(), args[0]); err != nil {
		return err
	}
	success("Deleted %s", color.YellowString(args[0]))
	return nil
}

// applyEntryFlags copies the flags that were set onto e.
func applyEntryFlags(cmd *cobra.Command, e *vault.Entry) {
	f := cmd.Flags()
	for name, dst := range map[string]*string{
		"title":       &e.Title,
		"username":    &e.Username,
		"url":         &e.URL,
		"category":    &e.Category,
		"notes":       &e.Notes,
		"totp-secret": &e.TOTPSecret,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if f.Changed("favorite") {
		e.Favorite, _ = f.GetBool("favorite")
	}
}

func entryPassword(cmd *cobra.Command, prompt string) (string, error) {
	if n, _ := cmd.Flags().GetInt("generate"); n > 0 {
		o := cr.DefaultPasswordOptions()
		o.Length = n
		return cr.GeneratePasswordWith(o)
	}
	pw, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", errEmptyPassword
	}
	return pw, nil
}
