package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (pgxmock.PgxPoolIface, pgx.Tx) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return mock, tx
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "rating",
		Columns:      []string{"campaign_id", "company"},
		ConflictKeys: []string{"campaign_id", "company"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "rating",
		ConflictKeys: []string{"campaign_id"},
	}, [][]any{{"c", "Acme"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "rating",
		Columns: []string{"campaign_id", "company"},
	}, [][]any{{"c", "Acme"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, tx := newMockTx(t)
	cols := []string{"campaign_id", "company", "judgment"}

	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_rating" \(LIKE "rating" INCLUDING DEFAULTS\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_rating"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "rating" \("campaign_id", "company", "judgment"\) SELECT .* ON CONFLICT \("campaign_id", "company"\) DO UPDATE SET "judgment" = EXCLUDED."judgment"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DROP TABLE "_tmp_upsert_rating"`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))

	n, err := BulkUpsert(context.Background(), tx, UpsertConfig{
		Table:        "rating",
		Columns:      cols,
		ConflictKeys: []string{"campaign_id", "company"},
	}, [][]any{{"c", "Acme", int64(1)}, {"c", "Other", int64(-1)}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_KeyOnlyDoesNothing(t *testing.T) {
	mock, tx := newMockTx(t)
	cols := []string{"campaign_id", "company"}

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_company"}, cols).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("campaign_id", "company"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DROP TABLE`).WillReturnResult(pgxmock.NewResult("DROP", 0))

	n, err := BulkUpsert(context.Background(), tx, UpsertConfig{
		Table:        "company",
		Columns:      cols,
		ConflictKeys: cols,
	}, [][]any{{"c", "Acme"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, tx := newMockTx(t)
	cols := []string{"campaign_id", "company"}

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_company"}, cols).WillReturnError(errors.New("copy failed"))

	_, err := BulkUpsert(context.Background(), tx, UpsertConfig{
		Table:        "company",
		Columns:      cols,
		ConflictKeys: cols,
	}, [][]any{{"c", "Acme"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fill temp table for company")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"ratings.rating", `"ratings"."rating"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"campaign_id", "company", "brand"})
	assert.Equal(t, `"campaign_id", "company", "brand"`, result)
}
