package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/campaign"
	"github.com/sells-group/brand-ratings/internal/config"
	"github.com/sells-group/brand-ratings/internal/fetcher"
	"github.com/sells-group/brand-ratings/internal/resilience"
	"github.com/sells-group/brand-ratings/internal/source"
	"github.com/sells-group/brand-ratings/internal/store"
)

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return store.NewSQLite(sc.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func initFetcher(fc config.FetchConfig) fetcher.Fetcher {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   fc.UserAgent,
		Timeout:     time.Duration(fc.TimeoutSecs) * time.Second,
		MaxRetries:  fc.MaxRetries,
		RatePerHost: fc.RatePerHost,
		Burst:       fc.Burst,
	})
	return fetcher.NewCachedFetcher(f, time.Duration(fc.CacheTTLMins)*time.Minute)
}

// engineOptions derives the engine's scheduling from configuration.
func engineOptions(c *config.Config) (campaign.Options, error) {
	def := c.Scrape.DefaultInterval()
	intervals := make(map[string]time.Duration, len(c.Campaigns))
	for _, camp := range c.Campaigns {
		d, err := camp.Interval(def)
		if err != nil {
			return campaign.Options{}, err
		}
		intervals[camp.ID] = d
	}
	retry := resilience.DefaultPolicy()
	retry.MaxAttempts = c.Scrape.CommitAttempts
	return campaign.Options{
		MaxConcurrent:   c.Scrape.MaxConcurrentCampaigns,
		DefaultInterval: def,
		Intervals:       intervals,
		Retry:           retry,
	}, nil
}

// openEngine validates the configuration and returns a migrated store and an
// engine over the configured campaigns. The caller closes the store.
func openEngine(ctx context.Context, c *config.Config) (store.Store, *campaign.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	reg, err := source.FromConfig(c.Campaigns, initFetcher(c.Fetch))
	if err != nil {
		return nil, nil, err
	}
	opts, err := engineOptions(c)
	if err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	return st, campaign.NewEngine(st, reg, opts), nil
}
