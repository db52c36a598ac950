// Package commit writes a built snapshot to storage, replacing whatever the
// campaign committed before.
package commit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-ratings/internal/model"
	"github.com/sells-group/brand-ratings/internal/snapshot"
	"github.com/sells-group/brand-ratings/internal/store"
)

// Result summarizes one commit.
type Result struct {
	CampaignID    string              `json:"campaign_id"`
	Rows          map[model.Table]int `json:"rows"`
	Deleted       int64               `json:"deleted"`
	LastScraped   time.Time           `json:"last_scraped"`
	Transactional bool                `json:"transactional"`
	Elapsed       time.Duration       `json:"elapsed"`
}

// Option configures a Committer.
type Option func(*Committer)

// WithClock overrides the time source used for last_scraped.
func WithClock(now func() time.Time) Option {
	return func(c *Committer) { c.now = now }
}

// Committer replaces a campaign's stored rows with a snapshot.
type Committer struct {
	w   store.Writer
	log *zap.Logger
	now func() time.Time
}

// New creates a Committer writing to w.
func New(w store.Writer, opts ...Option) *Committer {
	c := &Committer{
		w:   w,
		log: zap.L().With(zap.String("component", "commit")),
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Commit replaces every stored row of campaignID with the contents of b.
//
// The snapshot is already complete in memory, so storage sees one delete and
// upsert pass. When the backend is transactional that pass runs in a single
// transaction and readers see either the old snapshot or the new one. Other
// backends get delete-then-insert, and readers may briefly see the campaign
// with no rows.
//
// The campaign row is written last, stamped with last_scraped. On failure the
// transaction is rolled back and a *model.StorageError is returned, or a
// *model.MalformedFactError when a value cannot be stored in its column.
func (c *Committer) Commit(ctx context.Context, campaignID string, b *snapshot.Builder) (*Result, error) {
	if campaignID == "" {
		return nil, eris.New("commit: empty campaign id")
	}
	start := time.Now()
	log := c.log.With(zap.String("campaign", campaignID))

	// Rows are conformed to the stored columns, which may be spelled or
	// typed differently from what this snapshot alone would infer.
	schemas := b.Schema()
	if ens, ok := c.w.(store.SchemaEnsurer); ok {
		for i, s := range schemas {
			cols, err := ens.EnsureColumns(ctx, s.Table, s.Columns)
			if err != nil {
				return nil, &model.StorageError{Op: "ensure columns", Table: string(s.Table), Err: err}
			}
			schemas[i].Columns = cols
		}
	}

	res := &Result{CampaignID: campaignID, Rows: make(map[model.Table]int)}

	w := c.w
	var tx store.Tx
	if t, ok := c.w.(store.Transactional); ok {
		var err error
		tx, err = t.Begin(ctx)
		if err != nil {
			return nil, &model.StorageError{Op: "begin", Err: err}
		}
		w = tx
		res.Transactional = true
	} else {
		log.Warn("backend has no transactions, readers may observe an empty campaign during commit")
	}

	if err := c.write(ctx, w, campaignID, b, schemas, res); err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error("rollback failed", zap.Error(rbErr))
			}
		}
		return nil, err
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, &model.StorageError{Op: "commit", Err: err}
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("snapshot committed",
		zap.Int("entities", b.Len()),
		zap.Int64("deleted", res.Deleted),
		zap.Bool("transactional", res.Transactional),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (c *Committer) write(ctx context.Context, w store.Writer, campaignID string, b *snapshot.Builder, schemas []snapshot.TableSchema, res *Result) error {
	for _, spec := range model.Tables() {
		n, err := w.DeleteCampaignRows(ctx, spec.Name, campaignID)
		if err != nil {
			return &model.StorageError{Op: "delete", Table: string(spec.Name), Err: err}
		}
		res.Deleted += n
	}

	bulk, hasBulk := w.(store.BulkWriter)
	for i, spec := range model.Tables() {
		if spec.Name == model.TableCampaign {
			if err := c.writeCampaign(ctx, w, campaignID, b, schemas[i], res); err != nil {
				return err
			}
			continue
		}
		ents := b.Entities(spec.Name)
		if len(ents) == 0 {
			continue
		}

		keyFields := spec.StorageKey()
		rows := make([]model.Map, len(ents))
		for j, e := range ents {
			row, err := schemas[i].Conform(e.Fields)
			if err != nil {
				return err
			}
			row[model.CampaignIDField] = model.String(campaignID)
			rows[j] = row
		}

		if hasBulk {
			if _, err := bulk.UpsertRows(ctx, spec.Name, keyFields, rows); err != nil {
				return &model.StorageError{Op: "upsert", Table: string(spec.Name), Err: err}
			}
		} else {
			for _, row := range rows {
				if err := w.Upsert(ctx, spec.Name, keyFields, row); err != nil {
					return &model.StorageError{Op: "upsert", Table: string(spec.Name), Err: err}
				}
			}
		}
		res.Rows[spec.Name] = len(rows)
	}
	return nil
}

// writeCampaign writes the campaign row: any campaign attributes the
// snapshot collected, plus campaign_id and last_scraped.
func (c *Committer) writeCampaign(ctx context.Context, w store.Writer, campaignID string, b *snapshot.Builder, schema snapshot.TableSchema, res *Result) error {
	row := model.Map{}
	for _, e := range b.Entities(model.TableCampaign) {
		snapshot.Merge(row, e.Fields)
	}
	row, err := schema.Conform(row)
	if err != nil {
		return err
	}

	res.LastScraped = c.now().UTC()
	row[model.CampaignIDField] = model.String(campaignID)
	row[model.LastScrapedField] = model.String(res.LastScraped.Format(model.LastScrapedFormat))

	if err := w.Upsert(ctx, model.TableCampaign, model.SpecFor(model.TableCampaign).StorageKey(), row); err != nil {
		return &model.StorageError{Op: "upsert", Table: string(model.TableCampaign), Err: err}
	}
	res.Rows[model.TableCampaign] = 1
	return nil
}
