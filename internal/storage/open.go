package storage

import (
	"context"
	"fmt"
	"strings"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

// Open initializes the configured backend.
// It returns (nil, nil) when persistence is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (history.Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "none", "memory":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "gcs":
		return openGCS(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
