package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/brand-ratings/internal/model"
)

var sqliteDialect = dialect{
	quote: quoteIdent,
	typeName: func(t model.ColumnType) string {
		switch t {
		case model.ColumnInteger, model.ColumnSmallInt:
			return "INTEGER"
		case model.ColumnNumeric:
			return "NUMERIC"
		case model.ColumnReal:
			return "REAL"
		case model.ColumnBoolean:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	},
	placeholder: func(int) string { return "?" },
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; WAL lets readers proceed during a commit.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrationSQL(sqliteDialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureColumns adds the columns of cols the table lacks. SQLite columns hold
// values of any type, so a stored column is never altered; the returned type
// is the widened one rows should be conformed to.
func (s *SQLiteStore) EnsureColumns(ctx context.Context, table model.Table, cols []model.Column) ([]model.Column, error) {
	if _, err := checkTable(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(string(table))))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: table info %s", table)
	}
	stored := newTableColumns()
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: scan table info %s", table)
		}
		stored.add(model.Column{Name: name, Type: sqliteColumnType(typ)})
	}
	if err := rows.Close(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: table info %s", table)
	}

	out, add, _ := planColumns(stored, cols)
	for _, c := range add {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(string(table)), quoteIdent(c.Name), sqliteDialect.typeName(c.Type))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// Another commit added it since the table was read.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return nil, eris.Wrapf(err, "sqlite: add column %s.%s", table, c.Name)
		}
	}
	return out, nil
}

// sqliteColumnType maps a declared column type back to a ColumnType using
// SQLite's affinity rules.
func sqliteColumnType(decl string) model.ColumnType {
	decl = strings.ToUpper(decl)
	switch {
	case strings.Contains(decl, "INT"):
		return model.ColumnInteger
	case strings.Contains(decl, "BOOL"):
		return model.ColumnBoolean
	case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"):
		return model.ColumnReal
	case strings.Contains(decl, "NUM"), strings.Contains(decl, "DEC"):
		return model.ColumnNumeric
	default:
		return model.ColumnText
	}
}

func (s *SQLiteStore) DeleteCampaignRows(ctx context.Context, table model.Table, campaignID string) (int64, error) {
	return sqliteDelete(ctx, s.db, table, campaignID)
}

func (s *SQLiteStore) Upsert(ctx context.Context, table model.Table, keyFields []string, row model.Map) error {
	return sqliteUpsert(ctx, s.db, table, keyFields, row)
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) Rows(ctx context.Context, table model.Table, campaignID string) ([]model.Map, error) {
	spec, err := checkTable(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectSQL(sqliteDialect, spec), campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: select %s", table)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: columns %s", table)
	}

	var out []model.Map
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}

		row := model.Map{}
		for i, c := range cols {
			if vals[i] == nil {
				continue
			}
			v, err := model.FromNative(normalizeSQLite(vals[i]))
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: decode %s.%s", table, c)
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: rows %s", table)
}

func (s *SQLiteStore) LastScraped(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, lastScrapedSQL(sqliteDialect))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last scraped")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan last scraped")
		}
		t, err := parseLastScraped(raw)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, eris.Wrap(rows.Err(), "sqlite: last scraped")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) DeleteCampaignRows(ctx context.Context, table model.Table, campaignID string) (int64, error) {
	return sqliteDelete(ctx, t.tx, table, campaignID)
}

func (t *sqliteTx) Upsert(ctx context.Context, table model.Table, keyFields []string, row model.Map) error {
	return sqliteUpsert(ctx, t.tx, table, keyFields, row)
}

func (t *sqliteTx) Commit(context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return eris.Wrap(err, "sqlite: rollback")
}

func sqliteDelete(ctx context.Context, ex execer, table model.Table, campaignID string) (int64, error) {
	if _, err := checkTable(table); err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, deleteSQL(sqliteDialect, table), campaignID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete %s", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete %s", table)
	}
	return n, nil
}

func sqliteUpsert(ctx context.Context, ex execer, table model.Table, keyFields []string, row model.Map) error {
	if _, err := checkTable(table); err != nil {
		return err
	}
	cols := columnOrder(keyFields, row)
	args, err := rowArgs(cols, len(keyFields), row)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, upsertSQL(sqliteDialect, table, cols, len(keyFields)), args...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert %s", table)
	}
	return nil
}

// normalizeSQLite maps driver values onto types FromNative accepts.
func normalizeSQLite(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int64, float64, string, bool:
		return x
	default:
		return fmt.Sprint(x)
	}
}
