package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/dbx"
	"github.com/dmitrijs2005/offlinegate/internal/store/migrations"
	"github.com/pressly/goose/v3"
	"github.com/tidwall/sjson"
)

// SQLite implements Store on a local SQLite database (modernc.org/sqlite).
// Every operation runs in its own statement or transaction.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLite returns a store backed by the file at path. Nothing is opened
// until Init or the first operation.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// NewSQLiteFromDB wraps an already opened and migrated database.
func NewSQLiteFromDB(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// RunMigrations applies the embedded schema to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLite) Init(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *SQLite) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if strings.TrimSpace(s.path) == "" {
		return nil, fmt.Errorf("%w: database path is required", common.ErrStorageUnavailable)
	}
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}

	s.db = db
	return db, nil
}

func (s *SQLite) Put(ctx context.Context, c Collection, record any) error {
	sc, err := c.schema()
	if err != nil {
		return err
	}
	doc, err := encode(record)
	if err != nil {
		return err
	}
	key, ok, err := keyOf(c, doc)
	if err != nil {
		return err
	}
	if !ok {
		_, err := s.Add(ctx, c, json.RawMessage(doc))
		return err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := upsert(ctx, db, sc, key, doc); err != nil {
		return fmt.Errorf("failed to put %s[%s]: %w", c, key, err)
	}
	return nil
}

func (s *SQLite) Add(ctx context.Context, c Collection, record any) (int64, error) {
	sc, err := c.schema()
	if err != nil {
		return 0, err
	}
	if !sc.autoIncrement {
		return 0, fmt.Errorf("%w: %s", common.ErrNotAutoIncrementing, c)
	}
	doc, err := encode(record)
	if err != nil {
		return 0, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var txErr error
		id, txErr = insert(ctx, tx, sc, doc)
		return txErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add to %s: %w", c, err)
	}
	return id, nil
}

func (s *SQLite) Get(ctx context.Context, c Collection, key string) (json.RawMessage, error) {
	sc, err := c.schema()
	if err != nil {
		return nil, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT data FROM %q WHERE %q = ?`, sc.table, sc.keyField)
	doc, found, err := dbx.QueryDoc(ctx, db, query, keyArg(sc, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", c, key, err)
	}
	if !found {
		return nil, nil
	}
	return doc, nil
}

func (s *SQLite) GetAll(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	sc, err := c.schema()
	if err != nil {
		return nil, err
	}
	return s.list(ctx, c, fmt.Sprintf(`SELECT data FROM %q`, sc.table))
}

func (s *SQLite) GetAllByIndex(ctx context.Context, c Collection, index string) ([]json.RawMessage, error) {
	sc, err := c.schema()
	if err != nil {
		return nil, err
	}
	if !c.HasIndex(index) {
		return nil, fmt.Errorf("%w: %s on %s", common.ErrUnknownIndex, index, c)
	}
	query := fmt.Sprintf(`SELECT data FROM %q ORDER BY %q ASC, %q ASC`, sc.table, index, sc.keyField)
	return s.list(ctx, c, query)
}

func (s *SQLite) list(ctx context.Context, c Collection, query string) ([]json.RawMessage, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := dbx.QueryDocs(ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, err)
	}
	return docs, nil
}

func (s *SQLite) Delete(ctx context.Context, c Collection, key string) error {
	sc, err := c.schema()
	if err != nil {
		return err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := remove(ctx, db, sc, key); err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", c, key, err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context, c Collection) error {
	sc, err := c.schema()
	if err != nil {
		return err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, sc.table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, err)
	}
	return nil
}

func (s *SQLite) Commit(ctx context.Context, c Collection, puts []any, deletes []string) error {
	sc, err := c.schema()
	if err != nil {
		return err
	}
	docs := make([][]byte, 0, len(puts))
	for _, p := range puts {
		doc, err := encode(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, doc := range docs {
			key, ok, err := keyOf(c, doc)
			if err != nil {
				return err
			}
			if !ok {
				if _, err := insert(ctx, tx, sc, doc); err != nil {
					return err
				}
				continue
			}
			if err := upsert(ctx, tx, sc, key, doc); err != nil {
				return err
			}
		}
		for _, key := range deletes {
			if err := remove(ctx, tx, sc, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", c, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func upsert(ctx context.Context, q dbx.DBTX, sc schema, key string, doc []byte) error {
	cols := []string{quote(sc.keyField)}
	sets := make([]string, 0, len(sc.indexes)+1)
	args := []any{keyArg(sc, key)}
	for _, ix := range sc.indexes {
		cols = append(cols, quote(ix))
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(ix), quote(ix)))
		args = append(args, indexValue(doc, ix))
	}
	cols = append(cols, "data")
	sets = append(sets, "data = excluded.data")
	args = append(args, doc)

	query := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		sc.table, strings.Join(cols, ", "), placeholders(len(cols)), quote(sc.keyField), strings.Join(sets, ", "))
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// insert adds a row to an auto-increment table and writes the assigned key
// back into the stored document.
func insert(ctx context.Context, q dbx.DBTX, sc schema, doc []byte) (int64, error) {
	cols := make([]string, 0, len(sc.indexes)+1)
	args := make([]any, 0, len(sc.indexes)+1)
	for _, ix := range sc.indexes {
		cols = append(cols, quote(ix))
		args = append(args, indexValue(doc, ix))
	}
	cols = append(cols, "data")
	args = append(args, doc)

	query := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, sc.table, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	patched, err := sjson.SetBytes(doc, sc.keyField, id)
	if err != nil {
		return 0, fmt.Errorf("patch key: %w", err)
	}
	update := fmt.Sprintf(`UPDATE %q SET data = ? WHERE %q = ?`, sc.table, sc.keyField)
	if _, err := q.ExecContext(ctx, update, patched, id); err != nil {
		return 0, err
	}
	return id, nil
}

func remove(ctx context.Context, q dbx.DBTX, sc schema, key string) error {
	query := fmt.Sprintf(`DELETE FROM %q WHERE %q = ?`, sc.table, sc.keyField)
	_, err := q.ExecContext(ctx, query, keyArg(sc, key))
	return err
}

func keyArg(sc schema, key string) any {
	if sc.autoIncrement {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			return id
		}
	}
	return key
}

func quote(ident string) string {
	return strconv.Quote(ident)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
