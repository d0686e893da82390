package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "bgrefresh/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Store is the run and notification ledger. Recent* return at most n
// records, oldest first.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	AppendNotification(ctx context.Context, n NotificationRecord) error
	RecentRuns(ctx context.Context, n int) ([]RunRecord, error)
	RecentNotifications(ctx context.Context, n int) ([]NotificationRecord, error)
	Close() error
}

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the ledger for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}
