// Package sqlstore implements a Data Store backend on top of a SQL
// database (via database/sql and the sqlite3 driver). A domain maps to
// one table; each row is addressed by its integer id and holds a single
// JSON-encoded column of data, so a token such as "users.45.name" reaches
// row 45's "name" field, while "users.name" — addressing a column with no
// row id — projects that field across every row. Because a single
// connection serializes writes, cmd/freedmd registers stores over this
// backend with sequential sync whatever their sync_parallel setting; a
// Store built directly with store.New follows its own SyncParallel field.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/freedm/core/pkg/dataobject"
	"github.com/freedm/core/pkg/token"
)

// Store is the SQL Backend implementation.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the sqlite3 database at dsn, e.g. a file path or
// "file::memory:?cache=shared" for an in-process database.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sql store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sql store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) ensureTable(domain string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, data TEXT NOT NULL)`,
		quoteIdent(domain)))
	return err
}

// LoadDomain reads every row of domain's table into a data object keyed
// by row id, each row decoded from its JSON "data" column.
func (s *Store) LoadDomain(domain string) (*dataobject.Object, error) {
	if err := s.ensureTable(domain); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT id, data FROM %s`, quoteIdent(domain)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := map[string]any{}
	for rows.Next() {
		var id int64
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
			return nil, fmt.Errorf("decoding row %d of %q: %w", id, domain, err)
		}
		table[strconv.FormatInt(id, 10)] = decoded
	}

	obj := dataobject.New("sql")
	obj.ReplaceRaw(table)
	return obj, rows.Err()
}

// UnloadDomain is a no-op: the shared *sql.DB connection has no
// per-domain resource to release.
func (s *Store) UnloadDomain(domain string, obj *dataobject.Object) error {
	return nil
}

// GetRaw projects key across every cached row when key has no row-id
// prefix (the "users.name" column-across-rows case); a row-qualified key
// would already have resolved via the cached object, so reaching here
// means the column genuinely isn't present on any row.
func (s *Store) GetRaw(domain string, obj *dataobject.Object, key string) (any, error) {
	raw := obj.Raw()
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("domain %q is not a row table", domain)
	}

	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []any
	for _, id := range ids {
		row, ok := table[id].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := row[key]; ok {
			results = append(results, v)
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("column %q not present on any row of %q", key, domain)
	}
	return results, nil
}

// SetRaw persists the row addressed by key's leading row-id segment back
// to the database as one JSON blob, reading the up-to-date row content
// from the cached object (which the generic Set already updated) rather
// than trying to patch the stored JSON in place.
func (s *Store) SetRaw(domain string, obj *dataobject.Object, key string, value any) error {
	if err := s.ensureTable(domain); err != nil {
		return err
	}

	segs := token.ParsePath(key)
	if len(segs) == 0 {
		return fmt.Errorf("empty sql key path")
	}
	rowSeg := segs[0]
	if rowSeg.Kind != token.KindIndex {
		return fmt.Errorf("sql store requires a row id as the first path segment, got %q", rowSeg.Text)
	}

	row, err := obj.Get(rowSeg.Text)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(row)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		quoteIdent(domain)), rowSeg.Index, string(blob))
	return err
}
