// Package sqlitekv provides the embedded SQLite backend, registered under
// "sqlite" and "local". It offers native transactions, byte-ordered keys,
// and batch mutation; locking therefore rides on transaction isolation and
// no consistent-key emulation is needed.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Schema changes go through PRAGMA user_version; Open is idempotent.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "embed"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/thicket-db/thicket/internal/kcv"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Manager is the SQLite-backed kcv.Manager.
type Manager struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	widths map[string]int // store name -> fixed key width (0 = variable)
}

// New opens (or creates) the database named by opts["path"]. An empty path
// is a configuration error; use ":memory:" for a throwaway database.
func New(opts map[string]string) (*Manager, error) {
	path := opts["path"]
	if path == "" {
		return nil, errors.New("sqlitekv: missing required option \"path\"")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: connect: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Manager{db: db, path: path, widths: make(map[string]int)}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlitekv: %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("sqlitekv: apply schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlitekv: get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("sqlitekv: set user_version: %w", err)
		}
	}
	return nil
}

// Features implements kcv.Manager.
func (m *Manager) Features() kcv.Features {
	return kcv.Features{
		Transactions:  true,
		BatchMutation: true,
		KeyOrdered:    true,
	}
}

// OpenStore implements kcv.Manager. Stores share the kcv table; the name
// partitions it.
func (m *Manager) OpenStore(ctx context.Context, name string, opts kcv.StoreOptions) (kcv.Store, error) {
	m.mu.Lock()
	m.widths[name] = opts.FixedKeyLength
	m.mu.Unlock()
	return &store{m: m, name: name, keyWidth: opts.FixedKeyLength}, nil
}

// BeginTx implements kcv.Manager. SQLite has a single consistency level;
// KeyConsistent maps onto the same serialized writer.
func (m *Manager) BeginTx(ctx context.Context, level kcv.Consistency) (kcv.Tx, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return &tx{tx: sqlTx}, nil
}

// MutateMany implements kcv.BatchMutator: the whole batch applies inside
// the caller's transaction.
func (m *Manager) MutateMany(ctx context.Context, batch map[string]map[string]kcv.Mutation, txh kcv.Tx) error {
	st := nativeTx(txh)
	if st == nil || st.done {
		return fmt.Errorf("sqlitekv: MutateMany requires a live sqlite transaction, got %T", txh)
	}
	for storeName, byKey := range batch {
		for key, mut := range byKey {
			if err := applyMutation(ctx, st.tx, storeName, []byte(key), mut); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetProperty implements kcv.PropertyStore.
func (m *Manager) GetProperty(ctx context.Context, key string) (string, error) {
	var v string
	err := m.db.QueryRowContext(ctx, "SELECT value FROM thicket_properties WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", mapErr(err)
	}
	return v, nil
}

// SetProperty implements kcv.PropertyStore.
func (m *Manager) SetProperty(ctx context.Context, key, value string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO thicket_properties (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return mapErr(err)
}

func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// ClearStorage deletes every row and property. Not recoverable.
func (m *Manager) ClearStorage(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM kcv"); err != nil {
		return mapErr(err)
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM thicket_properties"); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr marks lock/busy failures transient so bounded-retry callers try
// again instead of failing fast.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return kcv.Transient(err)
		}
	}
	return err
}

type tx struct {
	tx   *sql.Tx
	done bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return mapErr(t.tx.Commit())
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return mapErr(t.tx.Rollback())
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type store struct {
	m        *Manager
	name     string
	keyWidth int
}

func (s *store) Name() string { return s.name }

// nativeTx walks the transaction chain down to the sqlite transaction, or
// returns nil when txh does not carry one.
func nativeTx(txh kcv.Tx) *tx {
	for t := txh; t != nil; t = kcv.Unwrap(t) {
		if st, ok := t.(*tx); ok {
			return st
		}
	}
	return nil
}

// q resolves the querier a store operation runs against. A nil handle
// reads at auto-commit; anything else must unwrap to a live sqlite
// transaction, so reads never silently escape the caller's transaction.
func (s *store) q(txh kcv.Tx) (querier, error) {
	if txh == nil {
		return s.m.db, nil
	}
	st := nativeTx(txh)
	if st == nil {
		return nil, fmt.Errorf("sqlitekv: foreign transaction %T", txh)
	}
	if st.done {
		return nil, errors.New("sqlitekv: transaction already completed")
	}
	return st.tx, nil
}

func (s *store) checkKey(key []byte) error {
	if s.keyWidth > 0 && len(key) != s.keyWidth {
		return fmt.Errorf("sqlitekv: store %q requires %d-byte keys, got %d", s.name, s.keyWidth, len(key))
	}
	return nil
}

func (s *store) Get(ctx context.Context, key, column []byte, txh kcv.Tx) ([]byte, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	qr, err := s.q(txh)
	if err != nil {
		return nil, err
	}
	var v []byte
	err = qr.QueryRowContext(ctx,
		"SELECT value FROM kcv WHERE store = ? AND key = ? AND col = ?",
		s.name, key, column).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kcv.ErrKeyNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return v, nil
}

func (s *store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, txh kcv.Tx) ([]kcv.Entry, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	query := "SELECT col, value FROM kcv WHERE store = ? AND key = ?"
	args := []any{s.name, key}
	if q.Start != nil {
		query += " AND col >= ?"
		args = append(args, q.Start)
	}
	if q.End != nil {
		query += " AND col < ?"
		args = append(args, q.End)
	}
	query += " ORDER BY col ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	qr, err := s.q(txh)
	if err != nil {
		return nil, err
	}
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []kcv.Entry
	for rows.Next() {
		var e kcv.Entry
		if err := rows.Scan(&e.Column, &e.Value); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, e)
	}
	return entries, mapErr(rows.Err())
}

func (s *store) ContainsKey(ctx context.Context, key []byte, txh kcv.Tx) (bool, error) {
	if err := s.checkKey(key); err != nil {
		return false, err
	}
	qr, err := s.q(txh)
	if err != nil {
		return false, err
	}
	var one int
	err = qr.QueryRowContext(ctx,
		"SELECT 1 FROM kcv WHERE store = ? AND key = ? LIMIT 1",
		s.name, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, txh kcv.Tx) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	qr, err := s.q(txh)
	if err != nil {
		return err
	}
	return applyMutation(ctx, qr, s.name, key, m)
}

func applyMutation(ctx context.Context, q querier, storeName string, key []byte, m kcv.Mutation) error {
	for _, d := range m.Deletions {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM kcv WHERE store = ? AND key = ? AND col = ?",
			storeName, key, d); err != nil {
			return mapErr(err)
		}
	}
	for _, e := range m.Additions {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO kcv (store, key, col, value) VALUES (?, ?, ?, ?)
			ON CONFLICT(store, key, col) DO UPDATE SET value = excluded.value
		`, storeName, key, e.Column, e.Value); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// AcquireLock verifies the expected value inside the caller's transaction;
// SQLite's serialized writer upgrades the check to a lock for the
// transaction's lifetime.
func (s *store) AcquireLock(ctx context.Context, key, column, expected []byte, txh kcv.Tx) error {
	cur, err := s.Get(ctx, key, column, txh)
	if err != nil && !errors.Is(err, kcv.ErrKeyNotFound) {
		return err
	}
	if string(cur) != string(expected) {
		return fmt.Errorf("sqlitekv: expected value mismatch on %q", s.name)
	}
	return nil
}

func (s *store) Close() error { return nil }
