package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-ratings/internal/campaign"
	"github.com/sells-group/brand-ratings/internal/commit"
	"github.com/sells-group/brand-ratings/internal/config"
	"github.com/sells-group/brand-ratings/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"scrape", "campaigns", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "brand-ratings", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s flag", name)
	}
}

func TestRootCommand_LoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nlog:\n  level: info\n"), 0o644))

	origFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() { cfgFile, logLevel = origFile, origLevel })
	cfgFile, logLevel = path, "warn"

	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestScrapeCommand_Flags(t *testing.T) {
	for _, name := range []string{"force", "dry-run"} {
		flag := scrapeCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "scrape should have --%s flag", name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "Nestlé Société", truncate("Nestlé Société", 14))

	got := truncate("Nestlé Société Générale des Produits", 10)
	assert.Equal(t, "Nestlé ...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))

	assert.Equal(t, "Socié...", truncate("Société Générale", 8), "cut lands after a two-byte rune")
}

func TestFormatOutcomes(t *testing.T) {
	report := &campaign.Report{
		RunID: "run-1",
		Outcomes: []campaign.Outcome{
			{
				Campaign: "hrc",
				Status:   campaign.Committed,
				Records:  12,
				Result: &commit.Result{Rows: map[model.Table]int{
					model.TableCompany: 3,
					model.TableRating:  4,
				}},
				Elapsed: 1500 * time.Millisecond,
			},
			{Campaign: "wwf", Status: campaign.Failed, Err: errors.New("source: wwf: read feed.csv")},
			{Campaign: "rankabrand", Status: campaign.Skipped},
		},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, report)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "CAMPAIGN")
	assert.Contains(t, lines[0], "ERROR")
	assert.Regexp(t, `^hrc\s+committed\s+12\s+7\s+1\.5s`, lines[2])
	assert.Contains(t, lines[3], "source: wwf: read feed.csv")
	assert.Contains(t, lines[4], "skipped")
}

func TestFormatStatuses(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	camps := []config.CampaignConfig{
		{ID: "hrc", Path: "feeds/hrc.csv"},
		{ID: "rankabrand", URL: "https://feeds.example.org/rankabrand.jsonl"},
	}
	statuses := []campaign.CampaignStatus{
		{Campaign: "hrc", LastScraped: &last, Interval: 146 * time.Hour, NextRun: last.Add(146 * time.Hour)},
		{Campaign: "rankabrand", Due: true},
	}

	var buf bytes.Buffer
	formatStatuses(&buf, camps, statuses)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[2], "2026-03-01 09:30")
	assert.Contains(t, lines[2], "146h0m0s")
	assert.Contains(t, lines[2], "2026-03-07 11:30")
	assert.Contains(t, lines[2], "feeds/hrc.csv")
	assert.Regexp(t, `^rankabrand\s+never\s+-\s+yes\s+now\s+https://feeds\.example\.org/rankabrand\.jsonl`, lines[3])
}

func TestEngineOptions(t *testing.T) {
	c := &config.Config{
		Scrape: config.ScrapeConfig{MaxConcurrentCampaigns: 3, MinIntervalHours: 24, CommitAttempts: 5},
		Campaigns: []config.CampaignConfig{
			{ID: "hrc", Path: "hrc.csv", MinInterval: "146h"},
			{ID: "wwf", Path: "wwf.json"},
		},
	}

	opts, err := engineOptions(c)
	require.NoError(t, err)
	assert.Equal(t, 3, opts.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, opts.DefaultInterval)
	assert.Equal(t, 146*time.Hour, opts.Intervals["hrc"])
	assert.Equal(t, 24*time.Hour, opts.Intervals["wwf"])
	assert.Equal(t, 5, opts.Retry.MaxAttempts)

	c.Campaigns[1].MinInterval = "fortnightly"
	_, err = engineOptions(c)
	require.Error(t, err)
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	st, err := initStore(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = initStore(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "ratings.sqlite")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Close())

	_, err = initStore(ctx, config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func memoryConfig(camps ...config.CampaignConfig) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Fetch: config.FetchConfig{UserAgent: "test", TimeoutSecs: 5, MaxRetries: 1, RatePerHost: 100, Burst: 1},
		Scrape: config.ScrapeConfig{
			MaxConcurrentCampaigns: 2,
			CommitAttempts:         1,
		},
		Campaigns: camps,
	}
}

func TestOpenEngine_InvalidConfig(t *testing.T) {
	c := memoryConfig(config.CampaignConfig{ID: "hrc"})
	_, _, err := openEngine(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of path or url")
}

func TestOpenEngine_ScrapeFeeds(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "rankabrand.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
		{"kind": "company", "fact": {"company": "Acme", "url": "https://acme.example"}},
		{"kind": "rating", "fact": {"company": "Acme", "brand": "Zap", "judgment": 1}}
	]`), 0o644))
	csvPath := filepath.Join(dir, "hrc.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("kind,company,brands,judgment\nrating,Globex,Fizz;Pop,-1\n"), 0o644))

	c := memoryConfig(
		config.CampaignConfig{ID: "rankabrand", Path: jsonPath},
		config.CampaignConfig{ID: "hrc", Path: csvPath, MinInterval: "146h"},
	)

	ctx := context.Background()
	st, engine, err := openEngine(ctx, c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	report, err := engine.Run(ctx, campaign.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(campaign.Committed))

	rows, err := st.Rows(ctx, model.TableRating, "rankabrand")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = st.Rows(ctx, model.TableBrand, "hrc")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	statuses, err := engine.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		require.NotNil(t, s.LastScraped, s.Campaign)
		if s.Campaign == "hrc" {
			assert.False(t, s.Due)
		}
	}

	// hrc is throttled on the second run.
	report, err = engine.Run(ctx, campaign.RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(campaign.Skipped))
}

func TestWriteSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"kind": "company", "fact": {"company": "Acme"}}]`), 0o644))

	ctx := context.Background()
	st, engine, err := openEngine(ctx, memoryConfig(config.CampaignConfig{ID: "hrc", Path: path}))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	report, err := engine.Run(ctx, campaign.RunOpts{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(campaign.Built))

	var buf bytes.Buffer
	require.NoError(t, writeSnapshots(&buf, report))

	var got map[string]map[string][]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Contains(t, got, "hrc")
	require.Len(t, got["hrc"]["company"], 1)
	assert.Equal(t, "Acme", got["hrc"]["company"][0]["company"])

	// Nothing was committed.
	rows, err := st.Rows(ctx, model.TableCompany, "hrc")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
