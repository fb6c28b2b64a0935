package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS relay_history (
	server_id    TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (server_id, channel_name, subject_id)
);`

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (history.Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteBackend{db: db, log: log}, nil
}

func (b *sqliteBackend) Load(ctx context.Context) ([]history.Entry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT server_id, channel_name, subject_id, message_id, updated_at
		 FROM relay_history ORDER BY server_id, channel_name, subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var (
			e  history.Entry
			ms int64
		)
		if err := rows.Scan(&e.Key.ServerID, &e.Key.ChannelName, &e.Key.SubjectID, &e.MessageID, &ms); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) Save(ctx context.Context, entries []history.Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relay_history`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relay_history(server_id, channel_name, subject_id, message_id, updated_at)
		 VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Key.ServerID, e.Key.ChannelName, e.Key.SubjectID, e.MessageID, e.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert %v: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
