package main

import (
	"fmt"
	"io"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent access attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("limit must be positive: %d", historyLimit)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	attempts, err := store.Attempts().Recent(cmd.Context(), cfg.Session.Profile, historyLimit)
	if err != nil {
		return err
	}
	printAttempts(cmd.OutOrStdout(), attempts)
	return nil
}

func printAttempts(out io.Writer, attempts []storage.AccessAttempt) {
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No access attempts recorded")
		return
	}

	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Fprintf(out, "%-19s  %-8s  %-8s  %s\n", "TIME", "RESULT", "SOURCE", "RHYTHM")
	for _, a := range attempts {
		fmt.Fprintf(out, "%-19s  ", a.At.Local().Format("2006-01-02 15:04:05"))
		if a.Granted {
			_, _ = green.Fprintf(out, "%-8s", "GRANTED")
		} else {
			_, _ = red.Fprintf(out, "%-8s", "DENIED")
		}
		fmt.Fprintf(out, "  %-8s  %s\n", a.Source, a.Candidate)
	}
}
