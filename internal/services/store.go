package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/subscriptly/billing/internal/events"
)

// querier is satisfied by *sql.DB and *sql.Tx so reads can join the
// caller's transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dispatcher delivers domain events after the transaction that produced
// them has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, evs ...events.Event) error
}

// IDGenerator hands out primary keys for ledger rows.
type IDGenerator interface {
	Generate() int64
}

type SnowflakeIDs struct {
	node *snowflake.Node
}

func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) Generate() int64 {
	return s.node.Generate().Int64()
}

// lockOwner serialises wallet-debiting work for one user until the
// transaction ends.
func lockOwner(ctx context.Context, tx *sql.Tx, ownerID int64) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", ownerID)
	return err
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func int64s(days []int) []int64 {
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return out
}
