package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/farxc/bpc-insight/internal/bpc/types"
)

type CheckpointStore struct {
	db GenericQueryer
}

// Read returns the stored checkpoint. found is false on a fresh install.
func (cs *CheckpointStore) Read(ctx context.Context) (types.Period, bool, error) {
	var raw string
	row := cs.db.QueryRowxContext(ctx, `SELECT period FROM pipeline_checkpoint WHERE id = 1`)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Period{}, false, nil
		}
		return types.Period{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	p, err := types.ParsePeriod(raw)
	if err != nil {
		return types.Period{}, true, fmt.Errorf("%w: %q: %v", ErrCorruptCheckpoint, raw, err)
	}
	return p, true, nil
}

func (cs *CheckpointStore) Write(ctx context.Context, period types.Period) error {
	if err := period.Validate(); err != nil {
		return fmt.Errorf("refusing to write checkpoint: %w", err)
	}

	query := cs.db.Rebind(`INSERT INTO pipeline_checkpoint (id, period, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET period = excluded.period, updated_at = excluded.updated_at`)
	if _, err := cs.db.ExecContext(ctx, query, period.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
