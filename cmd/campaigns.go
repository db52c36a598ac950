package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/brand-ratings/internal/campaign"
	"github.com/sells-group/brand-ratings/internal/config"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List configured campaigns and whether they are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, engine, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		statuses, err := engine.Statuses(ctx)
		if err != nil {
			return eris.Wrap(err, "campaigns")
		}

		formatStatuses(os.Stdout, cfg.Campaigns, statuses)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
}

// formatStatuses writes one line per campaign to out.
func formatStatuses(out io.Writer, camps []config.CampaignConfig, statuses []campaign.CampaignStatus) {
	location := make(map[string]string, len(camps))
	for _, c := range camps {
		location[c.ID] = c.Path
		if c.URL != "" {
			location[c.ID] = c.URL
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CAMPAIGN\tLAST SCRAPED\tINTERVAL\tDUE\tNEXT RUN\tFEED")
	_, _ = fmt.Fprintln(w, "--------\t------------\t--------\t---\t--------\t----")

	for _, s := range statuses {
		last := "never"
		if s.LastScraped != nil {
			last = s.LastScraped.Format("2006-01-02 15:04")
		}
		next := "now"
		if !s.NextRun.IsZero() {
			next = s.NextRun.Format("2006-01-02 15:04")
		}
		interval := "-"
		if s.Interval > 0 {
			interval = s.Interval.Round(time.Minute).String()
		}
		due := "no"
		if s.Due {
			due = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Campaign, last, interval, due, next, truncate(location[s.Campaign], 60))
	}
	_ = w.Flush()
}
