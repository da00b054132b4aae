// Package sqlite provides the durable ring implementation backed by a
// SQLite database. Each ring owns one database file holding the flat
// (id, data) records of its objects.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/store"
)

// dbRunner abstracts the common methods of *sql.DB and *sql.Tx so the
// same statements serve transactional and non-transactional paths.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RingOptions configures a SQLite-backed ring.
type RingOptions struct {
	ReadOnly  bool
	Bootstrap bool
	// StartID is the lowest id the ring assigns to inserted records.
	StartID int64
	Logger  *zap.Logger
}

// Ring is a store.Ring persisted in a SQLite records table.
type Ring struct {
	name      string
	db        *sql.DB
	readOnly  bool
	bootstrap bool
	startID   int64
	logger    *zap.Logger
}

var _ store.Ring = (*Ring)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	id   INTEGER PRIMARY KEY,
	data TEXT NOT NULL
);`

// Open opens (creating if needed) the ring database at path.
func Open(name string, path string, opts *RingOptions) (*Ring, error) {
	if opts == nil {
		opts = &RingOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, err
	}

	startID := opts.StartID
	if startID <= 0 {
		startID = 1
	}
	logger.Debug("opened ring database",
		zap.String("ring", name),
		zap.String("path", path),
		zap.Bool("readonly", opts.ReadOnly))
	return &Ring{
		name:      name,
		db:        db,
		readOnly:  opts.ReadOnly,
		bootstrap: opts.Bootstrap,
		startID:   startID,
		logger:    logger,
	}, nil
}

// Close releases the underlying database handle.
func (r *Ring) Close() error { return r.db.Close() }

func (r *Ring) Name() string    { return r.name }
func (r *Ring) ReadOnly() bool  { return r.readOnly }
func (r *Ring) Bootstrap() bool { return r.bootstrap }

func (r *Ring) runner() dbRunner { return r.db }

func (r *Ring) Select(ctx context.Context, id int64) (string, error) {
	var data string
	err := r.runner().QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	if err != nil {
		r.logger.Error("select failed", zap.String("ring", r.name), zap.Int64("id", id), zap.Error(err))
		return "", err
	}
	return data, nil
}

func (r *Ring) Insert(ctx context.Context, data string) (int64, error) {
	if r.readOnly {
		return 0, store.ErrReadOnly.New("%q", r.name)
	}
	// The assigned id is max(existing)+1, never below the ring's id
	// floor. RETURNING keeps the read and the write in one statement.
	row := r.runner().QueryRowContext(ctx, `
		INSERT INTO records (id, data)
		SELECT MAX(?, COALESCE(MAX(id) + 1, 0)), ? FROM records
		RETURNING id`, r.startID, data)
	var id int64
	if err := row.Scan(&id); err != nil {
		r.logger.Error("insert failed", zap.String("ring", r.name), zap.Error(err))
		return 0, err
	}
	return id, nil
}

func (r *Ring) InsertAt(ctx context.Context, id int64, data string) (int64, error) {
	if r.readOnly {
		return 0, store.ErrReadOnly.New("%q", r.name)
	}
	_, err := r.runner().ExecContext(ctx, `
		INSERT INTO records (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, id, data)
	if err != nil {
		r.logger.Error("insert-at failed", zap.String("ring", r.name), zap.Int64("id", id), zap.Error(err))
		return 0, err
	}
	return id, nil
}

func (r *Ring) Update(ctx context.Context, id int64, data string) error {
	if r.readOnly {
		return store.ErrReadOnly.New("%q", r.name)
	}
	result, err := r.runner().ExecContext(ctx, `UPDATE records SET data = ? WHERE id = ?`, data, id)
	if err != nil {
		r.logger.Error("update failed", zap.String("ring", r.name), zap.Int64("id", id), zap.Error(err))
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	return nil
}

func (r *Ring) Delete(ctx context.Context, id int64) error {
	if r.readOnly {
		return store.ErrReadOnly.New("%q", r.name)
	}
	result, err := r.runner().ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("delete failed", zap.String("ring", r.name), zap.Int64("id", id), zap.Error(err))
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	return nil
}

func (r *Ring) Scan(ctx context.Context, opts store.ScanOptions) ([]store.Record, error) {
	query := `SELECT id, data FROM records WHERE id >= ?`
	args := []any{opts.Start}
	if opts.Stop > 0 {
		query += ` AND id < ?`
		args = append(args, opts.Stop)
	}
	if opts.Reverse {
		query += ` ORDER BY id DESC`
	} else {
		query += ` ORDER BY id ASC`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.runner().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("scan failed", zap.String("ring", r.name), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.ID, &rec.Data); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
