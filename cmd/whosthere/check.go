package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	checkReference string
	checkCandidate string
	checkTolerance int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare a rhythm against the password",
	Long: `Check whether a candidate rhythm would be accepted. The reference is the
stored password unless --reference is given. Rhythms are comma-separated
millisecond gaps between knocks.`,
	Example: `  whosthere check --candidate 310,290,610
  whosthere check --reference 1000 --candidate 1201 --tolerance 200`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkReference, "reference", "", "Reference rhythm (defaults to the stored password)")
	checkCmd.Flags().StringVar(&checkCandidate, "candidate", "", "Candidate rhythm (required)")
	checkCmd.Flags().IntVar(&checkTolerance, "tolerance", -1, "Tolerance in ms (defaults to rhythm.tolerance_ms)")
	_ = checkCmd.MarkFlagRequired("candidate")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	candidate, err := rhythm.Parse(checkCandidate)
	if err != nil {
		return fmt.Errorf("invalid candidate: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tolerance := cfg.Rhythm.ToleranceMs
	if checkTolerance >= 0 {
		tolerance = checkTolerance
	}

	var reference rhythm.Sequence
	if checkReference != "" {
		reference, err = rhythm.Parse(checkReference)
		if err != nil {
			return fmt.Errorf("invalid reference: %w", err)
		}
	} else {
		reference, err = storedPassword(cmd.Context(), cfg)
		if err != nil {
			return err
		}
	}

	printCheckResult(reference, candidate, tolerance)
	return nil
}

func storedPassword(ctx context.Context, cfg *config.Config) (rhythm.Sequence, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	pw, err := store.Passwords().Get(ctx, cfg.Session.Profile)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no password set for profile %q", cfg.Session.Profile)
	}
	if err != nil {
		return nil, err
	}
	return pw.Intervals, nil
}

// printCheckResult prints the comparison with colors
func printCheckResult(reference, candidate rhythm.Sequence, tolerance int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("RHYTHM CHECK")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Reference:  %s (%d knocks)\n", reference, reference.Knocks())
	fmt.Printf("Candidate:  %s (%d knocks)\n", candidate, candidate.Knocks())
	fmt.Printf("Tolerance:  ±%dms\n", tolerance)
	fmt.Println()

	if len(reference) == len(candidate) {
		for i, d := range rhythm.Deviations(candidate, reference) {
			line := fmt.Sprintf("  gap %-2d  %5dms vs %5dms  off by %dms\n", i+1, candidate[i], reference[i], d)
			if d > tolerance {
				_, _ = red.Print(line)
			} else {
				fmt.Print(line)
			}
		}
		fmt.Println()
	}

	_, _ = cyan.Print("Decision:   ")
	if rhythm.Match(candidate, reference, tolerance) {
		_, _ = green.Println("GRANTED")
	} else {
		_, _ = red.Println("DENIED")
		if len(reference) != len(candidate) {
			fmt.Println("            → knock count differs")
		}
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
