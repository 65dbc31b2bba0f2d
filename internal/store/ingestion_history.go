package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type IngestionHistoryStore struct {
	db GenericQueryer
}

func (ih *IngestionHistoryStore) Insert(ctx context.Context, records ...IngestionRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO ingestion_history (
		run_id,
		year,
		month,
		status,
		reason,
		raw_rows,
		skipped_rows,
		rejected_rows,
		unique_count_basis,
		trigger_type,
		processed_at
	) VALUES (
		:run_id,
		:year,
		:month,
		:status,
		:reason,
		:raw_rows,
		:skipped_rows,
		:rejected_rows,
		:unique_count_basis,
		:trigger_type,
		:processed_at
	)`

	if _, err := sqlx.NamedExecContext(ctx, ih.db, query, records); err != nil {
		return fmt.Errorf("failed to record ingestion history: %w", err)
	}
	return nil
}

func (ih *IngestionHistoryStore) GetLatest(ctx context.Context, limit int) ([]IngestionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := ih.db.Rebind(`SELECT run_id, year, month, status, reason, raw_rows, skipped_rows,
		rejected_rows, unique_count_basis, trigger_type, processed_at
		FROM ingestion_history
		ORDER BY processed_at DESC, run_id DESC, year DESC, month DESC
		LIMIT ?`)

	records := []IngestionRecord{}
	if err := sqlx.SelectContext(ctx, ih.db, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to read ingestion history: %w", err)
	}
	return records, nil
}
