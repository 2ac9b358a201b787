package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/provider"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	generatePrompt string
	generateSet    bool
	generatePlay   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a rhythm",
	Long: `Ask the rhythm provider for a new rhythm. With --prompt the provider is
asked for a rhythm matching the description; otherwise a random one is
produced. Uses the local generator when provider.url is not configured.`,
	Example: `  whosthere generate
  whosthere generate --prompt "shave and a haircut" --set --play`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Describe the rhythm to generate")
	generateCmd.Flags().BoolVar(&generateSet, "set", false, "Store the rhythm as the password")
	generateCmd.Flags().BoolVar(&generatePlay, "play", false, "Play the rhythm after generating it")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := quietLogger()

	req := provider.NewRequest(generatePrompt)
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p := provider.New(cfg.Provider, logger)
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("%s provider: %w", p.Name(), err)
	}

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Fprintf(out, "%s\n", resp.Intervals)
	if resp.Description != "" {
		fmt.Fprintf(out, "%q\n", resp.Description)
	}
	fmt.Fprintf(out, "%d knocks over %s\n", resp.Intervals.Knocks(), resp.Intervals.Duration())

	if generateSet {
		if err := savePassword(ctx, cfg, resp.Intervals, resp.Description, storage.SourceGenerated); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved as password for profile %q\n", cfg.Session.Profile)
	}

	if generatePlay {
		player, err := newScheduler(cfg.Playback, out, logger)
		if err != nil {
			return err
		}
		<-player.Play(resp.Intervals)
	}
	return nil
}

func savePassword(ctx context.Context, cfg *config.Config, seq rhythm.Sequence, description string, source storage.Source) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return store.Passwords().Set(ctx, cfg.Session.Profile, storage.Password{
		Intervals:   seq.Clone(),
		Description: description,
		Source:      source,
		UpdatedAt:   time.Now(),
	})
}
