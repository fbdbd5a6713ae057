package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ytingest/ingest"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion pass",
	Long: `Run one ingestion pass over the configured channel.

Running out of a budget ends the affected work early; the run still
records what it stored and exits 0.

Examples:
  ytingest run --check-new             # Discover and store new videos
  ytingest run --check-new --related   # Then extend related videos
  ytingest run --check-new --debug     # Channel-section playlists only`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("check-new", false, "discover playlists and store new or changed videos")
	runCmd.Flags().Bool("related", false, "extend every known video with same-channel related videos")
	runCmd.Flags().Bool("debug", false, "limit discovery to channel-section playlists")
}

func runRun(cmd *cobra.Command, args []string) error {
	checkNew, _ := cmd.Flags().GetBool("check-new")
	related, _ := cmd.Flags().GetBool("related")
	debug, _ := cmd.Flags().GetBool("debug")
	if !checkNew && !related {
		return errors.New("nothing to do: pass --check-new and/or --related")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	report, err := a.runner.Run(ctx, ingest.Options{CheckNew: checkNew, Related: related, Debug: debug})
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(out io.Writer, r *ingest.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(w, "DURATION\t%s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	if p := r.Pipeline; p != nil {
		s := p.Stats
		fmt.Fprintf(w, "PLAYLISTS\t%d seen, %d written, %d unchanged, %d skipped\n",
			s.PlaylistsSeen, s.PlaylistsWritten, s.PlaylistsUnchanged, s.PlaylistsSkipped)
		fmt.Fprintf(w, "VIDEOS\t%d stored, %d excluded, %d new\n",
			s.VideosEnriched, s.VideosExcluded, r.NewVideos)
		fmt.Fprintf(w, "TRANSCRIPTS\t%d downloaded, %d pending, %d unavailable\n",
			s.TranscriptsDownloaded, s.TranscriptsPending, s.TranscriptsUnavailable)
	}
	if rel := r.Related; rel != nil {
		fmt.Fprintf(w, "RELATED\t%d checked, %d updated\n", rel.Checked, rel.Updated)
	}
	fmt.Fprintf(w, "QUOTA\t%d reads, %d writes, %d api units\n", r.Quota.Reads, r.Quota.Writes, r.Quota.API)
	fmt.Fprintf(w, "KNOWN\t%d videos\n", r.KnownVideos)
	if r.Partial() {
		fmt.Fprintln(w, "PARTIAL\tbudget exhausted, rerun to continue")
	}
	w.Flush()
}
