package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ytingest/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check stored video records against the schema",
	Long: `Check every record in the videos collection against the embedded video
schema. Read-only; exits 1 when any record is invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := storage.NewVideoValidator()
	if err != nil {
		return err
	}
	violations, checked, err := v.ValidateCollection(ctx, store, storage.Videos)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(violations) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VIDEO ID\tPROBLEMS")
		for _, vi := range violations {
			fmt.Fprintf(w, "%s\t%s\n", vi.ID, strings.Join(vi.Problems, "; "))
		}
		w.Flush()
	}
	fmt.Fprintf(out, "%d videos checked, %d invalid\n", checked, len(violations))

	if len(violations) > 0 {
		return fmt.Errorf("%d of %d video records are invalid", len(violations), checked)
	}
	logger.Info("store is valid", "videos", checked)
	return nil
}
