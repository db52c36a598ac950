package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-ratings/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var ratingKey = model.SpecFor(model.TableRating).StorageKey()

func ratingRow(campaign, company string, judgment int64) model.Map {
	return model.Map{
		"campaign_id": model.String(campaign),
		"company":     model.String(company),
		"brand":       model.String(""),
		"scope":       model.String(""),
		"judgment":    model.Int(judgment),
	}
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_UpsertReplacesByKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", 1)))
	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", -1)))
	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", -1)))

	rows, err := st.Rows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.Int(-1), rows[0]["judgment"])
	assert.Equal(t, "Acme", rows[0].Str("company"))
	assert.NotContains(t, rows[0], "score", "NULL columns are omitted")
}

func TestSQLite_DeleteCampaignRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", 1)))
	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Other", 0)))
	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c2", "Acme", 1)))

	n, err := st.DeleteCampaignRows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := st.Rows(ctx, model.TableRating, "c2")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLite_EnsureColumns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cols := []model.Column{
		{Name: "logo_url", Type: model.ColumnText},
		{Name: "founded", Type: model.ColumnInteger},
	}
	got, err := st.EnsureColumns(ctx, model.TableBrand, cols)
	require.NoError(t, err)
	assert.Equal(t, cols, got)
	got, err = st.EnsureColumns(ctx, model.TableBrand, cols)
	require.NoError(t, err)
	assert.Equal(t, cols, got)

	row := model.Map{
		"campaign_id": model.String("c1"),
		"company":     model.String("Acme"),
		"brand":       model.String("Widget"),
		"logo_url":    model.String("http://x.example/w.png"),
		"founded":     model.Int(1990),
	}
	require.NoError(t, st.Upsert(ctx, model.TableBrand, model.SpecFor(model.TableBrand).StorageKey(), row))

	rows, err := st.Rows(ctx, model.TableBrand, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.Int(1990), rows[0]["founded"])
}

func TestSQLite_EnsureColumns_FoldsCase(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.EnsureColumns(ctx, model.TableBrand, []model.Column{{Name: "Notes", Type: model.ColumnText}})
	require.NoError(t, err)

	got, err := st.EnsureColumns(ctx, model.TableBrand, []model.Column{
		{Name: "notes", Type: model.ColumnText},
		{Name: "COMPANY", Type: model.ColumnText},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Column{
		{Name: "Notes", Type: model.ColumnText},
		{Name: "company", Type: model.ColumnText},
	}, got)
}

func TestSQLite_EnsureColumns_ReportsWidenedType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.EnsureColumns(ctx, model.TableBrand, []model.Column{{Name: "founded", Type: model.ColumnInteger}})
	require.NoError(t, err)

	got, err := st.EnsureColumns(ctx, model.TableBrand, []model.Column{
		{Name: "founded", Type: model.ColumnText},
		{Name: "judgment", Type: model.ColumnSmallInt},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Column{Name: "founded", Type: model.ColumnText}, got[0])
	assert.Equal(t, model.Column{Name: "judgment", Type: model.ColumnSmallInt}, got[1])
}

func TestSQLite_UnknownColumnFails(t *testing.T) {
	st := newTestSQLiteStore(t)
	row := ratingRow("c1", "Acme", 1)
	row["mystery"] = model.String("x")

	err := st.Upsert(context.Background(), model.TableRating, ratingKey, row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: upsert rating")
}

func TestSQLite_UnknownTable(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.DeleteCampaignRows(context.Background(), "rating; DROP TABLE company", "c1")
	var storageErr *model.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "lookup", storageErr.Op)
}

func TestSQLite_TxRollbackDiscards(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", 1)))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.DeleteCampaignRows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Other", 0)))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "second rollback is a no-op")

	rows, err := st.Rows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0].Str("company"))
}

func TestSQLite_TxCommit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", "Acme", 1)))
	require.NoError(t, tx.Commit(ctx))

	rows, err := st.Rows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLite_LastScraped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	when := time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)
	require.NoError(t, st.Upsert(ctx, model.TableCampaign, []string{"campaign_id"}, model.Map{
		"campaign_id":  model.String("c1"),
		"last_scraped": model.String(when.Format(model.LastScrapedFormat)),
	}))
	require.NoError(t, st.Upsert(ctx, model.TableCampaign, []string{"campaign_id"}, model.Map{
		"campaign_id": model.String("c2"),
	}))

	got, err := st.LastScraped(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"c1": when}, got)
}

func TestSQLite_RowsOrderedByKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	for _, name := range []string{"Zed", "Acme", "Mid"} {
		require.NoError(t, st.Upsert(ctx, model.TableRating, ratingKey, ratingRow("c1", name, 0)))
	}

	rows, err := st.Rows(ctx, model.TableRating, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Acme", "Mid", "Zed"}, []string{rows[0].Str("company"), rows[1].Str("company"), rows[2].Str("company")})
}
