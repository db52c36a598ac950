package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/db"
	"github.com/sells-group/brand-ratings/internal/model"
)

var postgresDialect = dialect{
	quote: func(s string) string { return pgx.Identifier{s}.Sanitize() },
	typeName: func(t model.ColumnType) string {
		switch t {
		case model.ColumnInteger:
			return "INTEGER"
		case model.ColumnSmallInt:
			return "SMALLINT"
		case model.ColumnNumeric:
			return "NUMERIC"
		case model.ColumnReal:
			return "DOUBLE PRECISION"
		case model.ColumnBoolean:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	},
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrationSQL(postgresDialect) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: migrate")
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const columnsSQL = `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1`

// EnsureColumns reads the table's columns once, then adds the missing ones
// and widens those whose type cannot hold the wanted one. Nothing is altered
// when the table already fits.
func (s *PostgresStore) EnsureColumns(ctx context.Context, table model.Table, cols []model.Column) ([]model.Column, error) {
	if _, err := checkTable(table); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, columnsSQL, string(table))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read columns %s", table)
	}
	stored := newTableColumns()
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "postgres: scan columns %s", table)
		}
		stored.add(model.Column{Name: name, Type: pgColumnType(dataType)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: read columns %s", table)
	}

	out, add, widen := planColumns(stored, cols)
	q := postgresDialect.quote
	for _, c := range add {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			q(string(table)), q(c.Name), postgresDialect.typeName(c.Type))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return nil, eris.Wrapf(err, "postgres: add column %s.%s", table, c.Name)
		}
	}
	for _, c := range widen {
		typ := postgresDialect.typeName(c.Type)
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			q(string(table)), q(c.Name), typ, q(c.Name), typ)
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return nil, eris.Wrapf(err, "postgres: widen column %s.%s to %s", table, c.Name, typ)
		}
	}
	return out, nil
}

// pgColumnType maps an information_schema data_type to a ColumnType.
func pgColumnType(dataType string) model.ColumnType {
	switch dataType {
	case "smallint":
		return model.ColumnSmallInt
	case "integer", "bigint":
		return model.ColumnInteger
	case "numeric":
		return model.ColumnNumeric
	case "real", "double precision":
		return model.ColumnReal
	case "boolean":
		return model.ColumnBoolean
	default:
		return model.ColumnText
	}
}

func (s *PostgresStore) DeleteCampaignRows(ctx context.Context, table model.Table, campaignID string) (int64, error) {
	return pgDelete(ctx, s.pool, table, campaignID)
}

func (s *PostgresStore) Upsert(ctx context.Context, table model.Table, keyFields []string, row model.Map) error {
	return pgUpsert(ctx, s.pool, table, keyFields, row)
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &postgresTx{tx: tx}, nil
}

func (s *PostgresStore) Rows(ctx context.Context, table model.Table, campaignID string) ([]model.Map, error) {
	spec, err := checkTable(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, selectSQL(postgresDialect, spec), campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: select %s", table)
	}
	defer rows.Close()

	var out []model.Map
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		row := model.Map{}
		for i, fd := range rows.FieldDescriptions() {
			if vals[i] == nil {
				continue
			}
			v, err := model.FromNative(normalizePostgres(vals[i]))
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: decode %s.%s", table, fd.Name)
			}
			row[fd.Name] = v
		}
		out = append(out, row)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: rows %s", table)
}

func (s *PostgresStore) LastScraped(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, lastScrapedSQL(postgresDialect))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last scraped")
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan last scraped")
		}
		t, err := parseLastScraped(raw)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, eris.Wrap(rows.Err(), "postgres: last scraped")
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) DeleteCampaignRows(ctx context.Context, table model.Table, campaignID string) (int64, error) {
	return pgDelete(ctx, t.tx, table, campaignID)
}

func (t *postgresTx) Upsert(ctx context.Context, table model.Table, keyFields []string, row model.Map) error {
	return pgUpsert(ctx, t.tx, table, keyFields, row)
}

// UpsertRows writes many rows of one table through a temp table and COPY.
func (t *postgresTx) UpsertRows(ctx context.Context, table model.Table, keyFields []string, rows []model.Map) (int64, error) {
	if _, err := checkTable(table); err != nil {
		return 0, err
	}
	cols := unionColumns(keyFields, rows)
	values := make([][]any, len(rows))
	for i, row := range rows {
		args, err := rowArgs(cols, len(keyFields), row)
		if err != nil {
			return 0, err
		}
		values[i] = args
	}

	n, err := db.BulkUpsert(ctx, t.tx, db.UpsertConfig{
		Table:        string(table),
		Columns:      cols,
		ConflictKeys: keyFields,
	}, values)
	return n, eris.Wrapf(err, "postgres: bulk upsert %s", table)
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback")
}

func pgDelete(ctx context.Context, q db.Querier, table model.Table, campaignID string) (int64, error) {
	if _, err := checkTable(table); err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, deleteSQL(postgresDialect, table), campaignID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete %s", table)
	}
	return tag.RowsAffected(), nil
}

func pgUpsert(ctx context.Context, q db.Querier, table model.Table, keyFields []string, row model.Map) error {
	if _, err := checkTable(table); err != nil {
		return err
	}
	cols := columnOrder(keyFields, row)
	args, err := rowArgs(cols, len(keyFields), row)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, upsertSQL(postgresDialect, table, cols, len(keyFields)), args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert %s", table)
	}
	return nil
}

// normalizePostgres maps pgx decoded values onto types FromNative accepts.
// NUMERIC arrives as pgtype.Numeric, which reads back as a float.
func normalizePostgres(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64, float64, float32, string, bool:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return fmt.Sprint(x)
	}
}
