package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS relay_history (
	server_id    TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (server_id, channel_name, subject_id)
)`

var postgresColumns = []string{"server_id", "channel_name", "subject_id", "message_id", "updated_at"}

type postgresBackend struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (history.Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresBackend{pool: pool, log: log}, nil
}

func (b *postgresBackend) Load(ctx context.Context) ([]history.Entry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT server_id, channel_name, subject_id, message_id, updated_at
		 FROM relay_history ORDER BY server_id, channel_name, subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var e history.Entry
		if err := rows.Scan(&e.Key.ServerID, &e.Key.ChannelName, &e.Key.SubjectID, &e.MessageID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *postgresBackend) Save(ctx context.Context, entries []history.Entry) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM relay_history`); err != nil {
		return err
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.Key.ServerID, e.Key.ChannelName, e.Key.SubjectID, e.MessageID, e.UpdatedAt})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"relay_history"}, postgresColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy history: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
