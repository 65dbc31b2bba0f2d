package store

import (
	"time"

	"github.com/farxc/bpc-insight/internal/bpc/types"
)

var (
	TriggerTypeManual    = "manual"
	TriggerTypeScheduled = "scheduled"
)

var (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailure = "failure"
)

// IngestionRecord is one row of the ingestion_history ledger: the outcome of
// one period attempt within one pipeline run.
type IngestionRecord struct {
	RunID            string    `db:"run_id" json:"run_id"`
	Year             int       `db:"year" json:"year"`
	Month            int       `db:"month" json:"month"`
	Status           string    `db:"status" json:"status"`
	Reason           string    `db:"reason" json:"reason,omitempty"`
	RawRows          int64     `db:"raw_rows" json:"raw_rows"`
	SkippedRows      int64     `db:"skipped_rows" json:"skipped_rows"`
	RejectedRows     int64     `db:"rejected_rows" json:"rejected_rows"`
	UniqueCountBasis string    `db:"unique_count_basis" json:"unique_count_basis,omitempty"`
	TriggerType      string    `db:"trigger_type" json:"trigger_type"`
	ProcessedAt      time.Time `db:"processed_at" json:"processed_at"`
}

func (r IngestionRecord) Period() types.Period {
	return types.Period{Year: r.Year, Month: r.Month}
}

// AggregateFilter narrows Query. Empty slices match everything.
// Municipalities match either the code or the name.
// Offset is ignored unless Limit is set.
type AggregateFilter struct {
	Years          []int
	Months         []int
	States         []string
	Municipalities []string
	Labels         []types.OutlierLabel
	Limit          int
	Offset         int
}

// FilterOptions lists the distinct values a front end can filter on.
type FilterOptions struct {
	Years  []int    `json:"years"`
	Months []int    `json:"months"`
	States []string `json:"states"`
}
