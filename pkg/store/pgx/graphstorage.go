package pgx

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	Ping(ctx context.Context) error
}

// GraphDBStorage implements store.GraphStorage on Postgres. Nodes and edges
// are rows; merges use INSERT ... ON CONFLICT and every session write runs
// in one transaction holding the session row lock.
type GraphDBStorage struct {
	conn pgxIConn
	now  func() time.Time
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithClock replaces the clock used for created and updated timestamps.
func WithClock(now func() time.Time) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.now = now
	}
}

// NewGraphDBStorageWithConnection creates a storage on an existing pool or
// connection. The caller owns conn and closes it.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *GraphDBStorage) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	return nil
}
