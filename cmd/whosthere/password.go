package main

import (
	"errors"
	"fmt"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var passwordDescription string

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage the stored rhythm password",
	Long: `Show, set or clear the rhythm password of the configured profile.
Passwords persist only with a shared storage backend (storage.type: redis).`,
}

var passwordShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored password",
	Args:  cobra.NoArgs,
	RunE:  runPasswordShow,
}

var passwordSetCmd = &cobra.Command{
	Use:     "set <rhythm>",
	Short:   "Store a password",
	Example: `  whosthere password set 300,300,600 --description "two quick, one slow"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPasswordSet,
}

var passwordClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored password",
	Args:  cobra.NoArgs,
	RunE:  runPasswordClear,
}

func init() {
	passwordSetCmd.Flags().StringVar(&passwordDescription, "description", "", "Free-form note stored with the password")
	passwordCmd.AddCommand(passwordShowCmd, passwordSetCmd, passwordClearCmd)
	rootCmd.AddCommand(passwordCmd)
}

func runPasswordShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	pw, err := store.Passwords().Get(cmd.Context(), cfg.Session.Profile)
	if errors.Is(err, storage.ErrNotFound) {
		_, _ = color.New(color.FgYellow).Fprintf(out, "No password set for profile %q\n", cfg.Session.Profile)
		return nil
	}
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprint(out, "Profile:     ")
	fmt.Fprintln(out, cfg.Session.Profile)
	_, _ = cyan.Fprint(out, "Rhythm:      ")
	fmt.Fprintf(out, "%s (%d knocks, %s)\n", pw.Intervals, pw.Intervals.Knocks(), pw.Intervals.Duration())
	if pw.Description != "" {
		_, _ = cyan.Fprint(out, "Description: ")
		fmt.Fprintln(out, pw.Description)
	}
	_, _ = cyan.Fprint(out, "Source:      ")
	fmt.Fprintln(out, pw.Source)
	_, _ = cyan.Fprint(out, "Updated:     ")
	fmt.Fprintln(out, pw.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func runPasswordSet(cmd *cobra.Command, args []string) error {
	seq, err := rhythm.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid rhythm: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := savePassword(cmd.Context(), cfg, seq, passwordDescription, storage.SourceManual); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password set for profile %q: %s\n", cfg.Session.Profile, seq)
	return nil
}

func runPasswordClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if err := store.Passwords().Delete(cmd.Context(), cfg.Session.Profile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password cleared for profile %q\n", cfg.Session.Profile)
	return nil
}
