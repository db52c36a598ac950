package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brand-ratings/internal/campaign"
	"github.com/sells-group/brand-ratings/internal/snapshot"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [campaign...]",
	Short: "Scrape campaigns and commit their snapshots",
	Long: `Scrape configured campaigns and replace each one's stored snapshot.

With no arguments, every configured campaign that is due runs (see
min_interval). Naming campaigns, or setting scrape.whitelist, runs only those
campaigns and ignores their intervals. Use --force to ignore intervals for
every campaign, and --dry-run to print the built snapshots as JSON instead of
committing them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "scrape"))

		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		st, engine, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		whitelist := args
		if len(whitelist) == 0 {
			whitelist = cfg.Scrape.Whitelist
		}

		log.Info("starting scrape",
			zap.Strings("campaigns", whitelist),
			zap.Bool("force", force),
			zap.Bool("dry_run", dryRun),
		)

		report, runErr := engine.Run(ctx, campaign.RunOpts{
			Campaigns: whitelist,
			Force:     force,
			DryRun:    dryRun,
		})
		if report != nil {
			if dryRun {
				if err := writeSnapshots(os.Stdout, report); err != nil {
					return err
				}
			} else {
				formatOutcomes(os.Stdout, report)
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "scrape")
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().Bool("force", false, "ignore minimum re-scrape intervals")
	scrapeCmd.Flags().Bool("dry-run", false, "build snapshots and print them as JSON without committing")
	rootCmd.AddCommand(scrapeCmd)
}

// writeSnapshots prints the dry-run snapshots keyed by campaign.
func writeSnapshots(out io.Writer, report *campaign.Report) error {
	snaps := make(map[string]snapshot.Snapshot)
	for _, o := range report.Outcomes {
		if o.Snapshot != nil {
			snaps[o.Campaign] = o.Snapshot.Snapshot()
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(snaps), "write snapshots")
}

// formatOutcomes writes a tabular summary of a run to out.
func formatOutcomes(out io.Writer, report *campaign.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CAMPAIGN\tSTATUS\tRECORDS\tROWS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--------\t------\t-------\t----\t--------\t-----")

	for _, o := range report.Outcomes {
		rows := 0
		if o.Result != nil {
			for _, n := range o.Result.Rows {
				rows += n
			}
		}
		errMsg := ""
		if o.Err != nil {
			errMsg = truncate(o.Err.Error(), 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			o.Campaign,
			o.Status,
			o.Records,
			rows,
			o.Elapsed.Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most max runes, ending in "..." when cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
