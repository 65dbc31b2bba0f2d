package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/jmoiron/sqlx"
)

// ErrCorruptCheckpoint is returned when a checkpoint exists but cannot be
// parsed. It must be repaired by hand; the pipeline never resets to cold.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// GenericQueryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type GenericQueryer interface {
	sqlx.ExtContext
}

type Storage struct {
	Aggregates interface {
		Append(ctx context.Context, rows []types.MunicipalityAggregate) error
		ReadAll(ctx context.Context) ([]types.MunicipalityAggregate, error)
		ReplaceAll(ctx context.Context, rows []types.MunicipalityAggregate) error
		UpdateLabels(ctx context.Context, rows []types.MunicipalityAggregate) error
		DeletePeriods(ctx context.Context, periods []types.Period) error
		Query(ctx context.Context, filter AggregateFilter) ([]types.MunicipalityAggregate, error)
		FilterOptions(ctx context.Context) (FilterOptions, error)
	}

	Checkpoint interface {
		Read(ctx context.Context) (types.Period, bool, error)
		Write(ctx context.Context, period types.Period) error
	}

	IngestionHistory interface {
		Insert(ctx context.Context, records ...IngestionRecord) error
		GetLatest(ctx context.Context, limit int) ([]IngestionRecord, error)
	}

	withTx func(ctx context.Context, fn func(*Storage) error) error
}

// WithTx runs fn against a Storage whose writes commit together or not at all.
func (s *Storage) WithTx(ctx context.Context, fn func(*Storage) error) error {
	if s.withTx == nil {
		return fn(s)
	}
	return s.withTx(ctx, fn)
}

func newSQLStorage(q GenericQueryer) *Storage {
	return &Storage{
		Aggregates:       &AggregateStore{db: q},
		Checkpoint:       &CheckpointStore{db: q},
		IngestionHistory: &IngestionHistoryStore{db: q},
	}
}

func NewStorage(db *sqlx.DB) *Storage {
	s := newSQLStorage(db)
	s.withTx = func(ctx context.Context, fn func(*Storage) error) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(newSQLStorage(tx)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return s
}
