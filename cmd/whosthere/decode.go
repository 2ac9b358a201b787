package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bainblan/Whos-There/internal/protocol"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	decodeChunk   int
	decodeMaxLine int
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a captured sensor stream",
	Long: `Feed a captured sensor stream through the line decoder and print the
events it produces. The input is read in fixed-size chunks so that line
reassembly is exercised the same way as on a live connection. Reads stdin
when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().IntVar(&decodeChunk, "chunk", 64, "Bytes fed to the decoder per read")
	decodeCmd.Flags().IntVar(&decodeMaxLine, "max-line", protocol.DefaultMaxLineBytes, "Maximum line length in bytes")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	in := io.Reader(os.Stdin)
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	stats, err := decodeStream(in, cmd.OutOrStdout(), decodeChunk, decodeMaxLine)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d events, %d rejected lines", stats.events, stats.rejected)
	if stats.pending > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d bytes unterminated", stats.pending)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

type decodeStats struct {
	events   int
	rejected int
	pending  int
}

func decodeStream(in io.Reader, out io.Writer, chunk, maxLine int) (decodeStats, error) {
	if chunk <= 0 {
		return decodeStats{}, fmt.Errorf("chunk size must be positive: %d", chunk)
	}

	var stats decodeStats
	red := color.New(color.FgRed)
	dec := protocol.NewDecoder(maxLine)
	buf := make([]byte, chunk)

	for {
		n, err := in.Read(buf)
		if n > 0 {
			events, derr := dec.Feed(buf[:n])
			for _, ev := range events {
				stats.events++
				if ev.Kind == protocol.DataBatch {
					fmt.Fprintf(out, "%-10s %s\n", ev.Kind, ev.Intervals)
				} else {
					fmt.Fprintln(out, ev.Kind)
				}
			}
			for _, de := range protocol.DecodeErrors(derr) {
				stats.rejected++
				_, _ = red.Fprintf(out, "%-10s %v\n", "error", de)
			}
		}
		if errors.Is(err, io.EOF) {
			stats.pending = dec.Pending()
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
	}
}
