package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/jmoiron/sqlx"
)

// insertBatchSize keeps a batched insert well under the bind parameter
// limits of both Postgres and SQLite.
const insertBatchSize = 1000

const aggregateColumns = `municipality_code, municipality_name, state, year, month,
		payment_count, value_sum, value_mean, unique_person_count, unique_count_basis, outlier_label`

type AggregateStore struct {
	db GenericQueryer
}

func (as *AggregateStore) Append(ctx context.Context, rows []types.MunicipalityAggregate) error {
	query := `INSERT INTO municipality_aggregates (
		municipality_code,
		municipality_name,
		state,
		year,
		month,
		payment_count,
		value_sum,
		value_mean,
		unique_person_count,
		unique_count_basis,
		outlier_label
	) VALUES (
		:municipality_code,
		:municipality_name,
		:state,
		:year,
		:month,
		:payment_count,
		:value_sum,
		:value_mean,
		:unique_person_count,
		:unique_count_basis,
		:outlier_label
	)`

	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if _, err := sqlx.NamedExecContext(ctx, as.db, query, rows[start:end]); err != nil {
			return fmt.Errorf("failed to insert aggregates: %w", err)
		}
	}
	return nil
}

func (as *AggregateStore) ReadAll(ctx context.Context) ([]types.MunicipalityAggregate, error) {
	return as.Query(ctx, AggregateFilter{})
}

func (as *AggregateStore) ReplaceAll(ctx context.Context, rows []types.MunicipalityAggregate) error {
	if _, err := as.db.ExecContext(ctx, `DELETE FROM municipality_aggregates`); err != nil {
		return fmt.Errorf("failed to clear aggregates: %w", err)
	}
	return as.Append(ctx, rows)
}

// UpdateLabels rewrites outlier_label for the given rows, matched on their
// period and municipality key.
func (as *AggregateStore) UpdateLabels(ctx context.Context, rows []types.MunicipalityAggregate) error {
	query := as.db.Rebind(`UPDATE municipality_aggregates SET outlier_label = ?
		WHERE year = ? AND month = ? AND municipality_code = ? AND municipality_name = ? AND state = ?`)

	for _, r := range rows {
		_, err := as.db.ExecContext(ctx, query,
			r.OutlierLabel, r.Year, r.Month, r.MunicipalityCode, r.MunicipalityName, r.State)
		if err != nil {
			return fmt.Errorf("failed to update label for %s %s: %w", r.MunicipalityCode, r.Period(), err)
		}
	}
	return nil
}

func (as *AggregateStore) DeletePeriods(ctx context.Context, periods []types.Period) error {
	query := as.db.Rebind(`DELETE FROM municipality_aggregates WHERE year = ? AND month = ?`)
	for _, p := range periods {
		if _, err := as.db.ExecContext(ctx, query, p.Year, p.Month); err != nil {
			return fmt.Errorf("failed to delete period %s: %w", p, err)
		}
	}
	return nil
}

func (as *AggregateStore) Query(ctx context.Context, f AggregateFilter) ([]types.MunicipalityAggregate, error) {
	var (
		where []string
		args  []interface{}
	)

	if len(f.Years) > 0 {
		where = append(where, "year IN (?)")
		args = append(args, f.Years)
	}
	if len(f.Months) > 0 {
		where = append(where, "month IN (?)")
		args = append(args, f.Months)
	}
	if len(f.States) > 0 {
		where = append(where, "state IN (?)")
		args = append(args, f.States)
	}
	if len(f.Municipalities) > 0 {
		where = append(where, "(municipality_code IN (?) OR municipality_name IN (?))")
		args = append(args, f.Municipalities, f.Municipalities)
	}
	if len(f.Labels) > 0 {
		labels := make([]string, len(f.Labels))
		for i, l := range f.Labels {
			labels[i] = string(l)
		}
		where = append(where, "outlier_label IN (?)")
		args = append(args, labels)
	}

	query := "SELECT " + aggregateColumns + " FROM municipality_aggregates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY year, month, municipality_code, municipality_name, state"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	if len(args) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand aggregate filter: %w", err)
		}
	}

	rows := []types.MunicipalityAggregate{}
	if err := sqlx.SelectContext(ctx, as.db, &rows, as.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	return rows, nil
}

func (as *AggregateStore) FilterOptions(ctx context.Context) (FilterOptions, error) {
	opts := FilterOptions{Years: []int{}, Months: []int{}, States: []string{}}

	if err := sqlx.SelectContext(ctx, as.db, &opts.Years,
		`SELECT DISTINCT year FROM municipality_aggregates ORDER BY year`); err != nil {
		return opts, fmt.Errorf("failed to list years: %w", err)
	}
	if err := sqlx.SelectContext(ctx, as.db, &opts.Months,
		`SELECT DISTINCT month FROM municipality_aggregates ORDER BY month`); err != nil {
		return opts, fmt.Errorf("failed to list months: %w", err)
	}
	if err := sqlx.SelectContext(ctx, as.db, &opts.States,
		`SELECT DISTINCT state FROM municipality_aggregates ORDER BY state`); err != nil {
		return opts, fmt.Errorf("failed to list states: %w", err)
	}
	return opts, nil
}
