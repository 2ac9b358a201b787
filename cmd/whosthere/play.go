package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/playback"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/spf13/cobra"
)

var playTimbre string

var playCmd = &cobra.Command{
	Use:   "play [rhythm]",
	Short: "Play a rhythm",
	Long: `Play a rhythm through the configured playback sink. Without an argument
the stored password for the current profile is played.`,
	Example: `  whosthere play
  whosthere play 250,250,500 --timbre bell`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playTimbre, "timbre", "", "Sound used for each knock (knock, click, bell, wood)")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := quietLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var seq rhythm.Sequence
	if len(args) == 1 {
		seq, err = rhythm.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rhythm: %w", err)
		}
	} else {
		seq, err = storedPassword(ctx, cfg)
		if err != nil {
			return err
		}
	}

	player, err := newScheduler(cfg.Playback, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	if playTimbre != "" {
		t, err := playback.ParseTimbre(playTimbre)
		if err != nil {
			return err
		}
		player.SetTimbre(t)
	}

	select {
	case <-player.Play(seq):
		return nil
	case <-ctx.Done():
		player.Cancel()
		return nil
	}
}
