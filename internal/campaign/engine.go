// Package campaign schedules and runs campaign scrapes: each selected
// campaign's feed is expanded into a snapshot and committed to storage.
package campaign

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brand-ratings/internal/commit"
	"github.com/sells-group/brand-ratings/internal/expand"
	"github.com/sells-group/brand-ratings/internal/model"
	"github.com/sells-group/brand-ratings/internal/resilience"
	"github.com/sells-group/brand-ratings/internal/snapshot"
	"github.com/sells-group/brand-ratings/internal/source"
	"github.com/sells-group/brand-ratings/internal/store"
)

// Status is the outcome of one campaign in a run.
type Status string

const (
	Committed Status = "committed"
	Built     Status = "built" // dry run: snapshot built, not committed
	Skipped   Status = "skipped"
	Failed    Status = "failed"
)

// Outcome describes what happened to one campaign.
type Outcome struct {
	Campaign string         `json:"campaign"`
	Status   Status         `json:"status"`
	Records  int            `json:"records"`
	Result   *commit.Result `json:"result,omitempty"`
	Err      error          `json:"-"`
	Elapsed  time.Duration  `json:"elapsed"`

	// Snapshot is kept for dry runs only.
	Snapshot *snapshot.Builder `json:"-"`
}

// Report collects the outcomes of one engine run.
type Report struct {
	RunID    string    `json:"run_id"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed returns the IDs of failed campaigns in run order.
func (r *Report) Failed() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Status == Failed {
			out = append(out, o.Campaign)
		}
	}
	return out
}

// Count returns how many campaigns ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Options configures an Engine.
type Options struct {
	MaxConcurrent   int
	DefaultInterval time.Duration
	// Intervals overrides DefaultInterval per campaign.
	Intervals map[string]time.Duration
	// Now is the clock used for scheduling. Defaults to time.Now.
	Now func() time.Time
	// CommitOptions are passed to every committer.
	CommitOptions []commit.Option
	// Retry governs re-attempts of a commit that failed transiently.
	Retry resilience.Policy
}

// RunOpts selects campaigns for one run.
type RunOpts struct {
	// Campaigns is a whitelist. Whitelisted campaigns run regardless of
	// their minimum interval.
	Campaigns []string
	// Force ignores minimum intervals for every campaign.
	Force bool
	// DryRun builds snapshots without committing them.
	DryRun bool
}

// Engine runs campaigns from a source registry against a store.
type Engine struct {
	store store.Store
	reg   *source.Registry
	opts  Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a campaign engine.
func NewEngine(st store.Store, reg *source.Registry, opts Options) *Engine {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store: st,
		reg:   reg,
		opts:  opts,
		locks: make(map[string]*sync.Mutex),
	}
}

// Interval returns the minimum re-scrape interval for a campaign.
func (e *Engine) Interval(campaignID string) time.Duration {
	if d, ok := e.opts.Intervals[campaignID]; ok {
		return d
	}
	return e.opts.DefaultInterval
}

// CampaignStatus is the schedule state of one registered campaign.
type CampaignStatus struct {
	Campaign    string        `json:"campaign"`
	LastScraped *time.Time    `json:"last_scraped,omitempty"`
	Interval    time.Duration `json:"interval"`
	Due         bool          `json:"due"`
	NextRun     time.Time     `json:"next_run"`
}

// Statuses reports the schedule state of every registered campaign.
func (e *Engine) Statuses(ctx context.Context) ([]CampaignStatus, error) {
	last, err := e.store.LastScraped(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: read last scraped")
	}
	now := e.opts.Now().UTC()

	names := e.reg.Names()
	out := make([]CampaignStatus, 0, len(names))
	for _, name := range names {
		st := CampaignStatus{Campaign: name, Interval: e.Interval(name)}
		if t, ok := last[name]; ok {
			st.LastScraped = &t
		}
		st.Due = ShouldRun(now, st.LastScraped, st.Interval)
		st.NextRun = NextRun(now, st.LastScraped, st.Interval)
		out = append(out, st)
	}
	return out, nil
}

// Run scrapes the selected campaigns, several at a time. A failing campaign
// does not stop the others and leaves its stored snapshot untouched. When any
// campaign fails the returned error names all of them; the report is
// returned either way.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("component", "campaign.engine"), zap.String("run_id", report.RunID))

	whitelist := dedupe(opts.Campaigns)
	sources, err := e.reg.Select(whitelist)
	if err != nil {
		return report, err
	}
	if len(sources) == 0 {
		log.Info("no campaigns selected")
		return report, nil
	}

	throttle := !opts.Force && len(whitelist) == 0
	var last map[string]time.Time
	if throttle {
		last, err = e.store.LastScraped(ctx)
		if err != nil {
			return report, eris.Wrap(err, "engine: read last scraped")
		}
	}
	now := e.opts.Now().UTC()

	log.Info("selected campaigns",
		zap.Int("count", len(sources)),
		zap.Bool("throttle", throttle),
		zap.Bool("dry_run", opts.DryRun),
	)

	report.Outcomes = make([]Outcome, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxConcurrent)

	for i, src := range sources {
		name := src.Name()
		report.Outcomes[i] = Outcome{Campaign: name}

		if throttle {
			var lastScraped *time.Time
			if t, ok := last[name]; ok {
				lastScraped = &t
			}
			if !ShouldRun(now, lastScraped, e.Interval(name)) {
				log.Info("skipping campaign (not due)",
					zap.String("campaign", name),
					zap.Duration("since_last", now.Sub(*lastScraped)),
				)
				report.Outcomes[i].Status = Skipped
				continue
			}
		}

		if ctx.Err() != nil {
			report.Outcomes[i].Status = Failed
			report.Outcomes[i].Err = ctx.Err()
			continue
		}

		g.Go(func() error {
			report.Outcomes[i] = e.runOne(ctx, src, opts.DryRun, log)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("engine run complete",
		zap.Int("committed", report.Count(Committed)),
		zap.Int("built", report.Count(Built)),
		zap.Int("skipped", report.Count(Skipped)),
		zap.Int("failed", report.Count(Failed)),
	)

	if failed := report.Failed(); len(failed) > 0 {
		return report, eris.Errorf("failed to scrape campaigns: %s", strings.Join(failed, ", "))
	}
	return report, nil
}

func (e *Engine) runOne(ctx context.Context, src source.Source, dryRun bool, log *zap.Logger) Outcome {
	name := src.Name()
	log = log.With(zap.String("campaign", name))
	out := Outcome{Campaign: name}

	lock := e.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	log.Info("launching campaign")

	b, n, err := Build(ctx, src, expand.New())
	out.Records = n
	if err == nil && !dryRun {
		retry := e.opts.Retry
		if retry.OnRetry == nil {
			retry.OnRetry = resilience.RetryLogger(name, "commit")
		}
		out.Result, err = resilience.Do(ctx, retry, func(ctx context.Context) (*commit.Result, error) {
			return commit.New(e.store, e.opts.CommitOptions...).Commit(ctx, name, b)
		})
	}
	out.Elapsed = time.Since(start)

	if err != nil {
		out.Status = Failed
		out.Err = err
		log.Error("campaign failed",
			zap.Error(err),
			zap.Bool("permanent", model.IsPermanent(err)),
			zap.Duration("elapsed", out.Elapsed),
		)
		return out
	}

	if dryRun {
		out.Status = Built
		out.Snapshot = b
	} else {
		out.Status = Committed
	}
	log.Info("campaign complete",
		zap.String("status", string(out.Status)),
		zap.Int("records", n),
		zap.Int("entities", b.Len()),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

// lockFor serializes runs of the same campaign.
func (e *Engine) lockFor(campaignID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[campaignID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[campaignID] = l
	}
	return l
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
