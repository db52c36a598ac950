package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/model"
)

// MemoryStore keeps snapshots in process memory. It backs dry runs and
// tests. A transaction holds the store's lock until it commits or rolls back,
// so transactions run one at a time.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[model.Table]map[string]model.Map
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{tables: make(map[model.Table]map[string]model.Map)}
}

// Migrate is a no-op; tables are created on first write.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) DeleteCampaignRows(_ context.Context, table model.Table, campaignID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRows(s.tables, table, campaignID)
}

func (s *MemoryStore) Upsert(_ context.Context, table model.Table, keyFields []string, row model.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRow(s.tables, table, keyFields, row)
}

// Begin starts a transaction. Writes go to a private copy of the tables that
// replaces the live tables on Commit.
func (s *MemoryStore) Begin(context.Context) (Tx, error) {
	s.mu.Lock()
	return &memoryTx{s: s, tables: cloneTables(s.tables)}, nil
}

func (s *MemoryStore) Rows(_ context.Context, table model.Table, campaignID string) ([]model.Map, error) {
	if _, err := checkTable(table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	keys := make([]string, 0, len(rows))
	for k, row := range rows {
		if row.Str(model.CampaignIDField) == campaignID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]model.Map, len(keys))
	for i, k := range keys {
		out[i] = rows[k].Clone()
	}
	return out, nil
}

func (s *MemoryStore) LastScraped(context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time)
	for _, row := range s.tables[model.TableCampaign] {
		raw := row.Str(model.LastScrapedField)
		if raw == "" {
			continue
		}
		t, err := parseLastScraped(raw)
		if err != nil {
			return nil, err
		}
		out[row.Str(model.CampaignIDField)] = t
	}
	return out, nil
}

type memoryTx struct {
	s      *MemoryStore
	tables map[model.Table]map[string]model.Map
	done   bool
}

func (tx *memoryTx) DeleteCampaignRows(_ context.Context, table model.Table, campaignID string) (int64, error) {
	if tx.done {
		return 0, eris.New("memory: transaction already closed")
	}
	return deleteRows(tx.tables, table, campaignID)
}

func (tx *memoryTx) Upsert(_ context.Context, table model.Table, keyFields []string, row model.Map) error {
	if tx.done {
		return eris.New("memory: transaction already closed")
	}
	return upsertRow(tx.tables, table, keyFields, row)
}

func (tx *memoryTx) Commit(context.Context) error {
	if tx.done {
		return eris.New("memory: transaction already closed")
	}
	tx.done = true
	tx.s.tables = tx.tables
	tx.s.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.s.mu.Unlock()
	return nil
}

func deleteRows(tables map[model.Table]map[string]model.Map, table model.Table, campaignID string) (int64, error) {
	if _, err := checkTable(table); err != nil {
		return 0, err
	}
	var n int64
	for k, row := range tables[table] {
		if row.Str(model.CampaignIDField) == campaignID {
			delete(tables[table], k)
			n++
		}
	}
	return n, nil
}

func upsertRow(tables map[model.Table]map[string]model.Map, table model.Table, keyFields []string, row model.Map) error {
	if _, err := checkTable(table); err != nil {
		return err
	}
	key := make([]string, len(keyFields))
	for i, f := range keyFields {
		key[i] = row.Str(f)
	}

	rows, ok := tables[table]
	if !ok {
		rows = make(map[string]model.Map)
		tables[table] = rows
	}
	rows[strings.Join(key, "\x1f")] = row.Clone()
	return nil
}

func cloneTables(src map[model.Table]map[string]model.Map) map[model.Table]map[string]model.Map {
	out := make(map[model.Table]map[string]model.Map, len(src))
	for t, rows := range src {
		cp := make(map[string]model.Map, len(rows))
		for k, row := range rows {
			cp[k] = row
		}
		out[t] = cp
	}
	return out
}
