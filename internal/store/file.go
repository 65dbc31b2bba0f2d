package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/bpc/utils"
	"github.com/go-gota/gota/dataframe"
)

// Flat-file layout inside the store directory.
const (
	ConsolidatedFile     = "bpc_consolidated.csv"
	CheckpointFile       = "checkpoint.txt"
	IngestionHistoryFile = "ingestion_history.jsonl"
)

var consolidatedHeader = []string{
	"municipality_code", "municipality_name", "state", "year", "month",
	"payment_count", "value_sum", "value_mean", "unique_person_count",
	"unique_count_basis", "outlier_label",
}

// fileBackend serialises access to the directory. tx is non-nil inside
// WithTx, where writes are staged in memory until the callback returns.
type fileBackend struct {
	dir string
	mu  *sync.Mutex
	tx  *fileTx
}

type fileTx struct {
	rows       []types.MunicipalityAggregate
	rowsDirty  bool
	checkpoint *types.Period
	history    []IngestionRecord
}

// NewFileStorage keeps the consolidated dataset as a CSV file, the checkpoint
// as a one-line text file and the ingestion ledger as JSON lines under dir.
func NewFileStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}

	b := &fileBackend{dir: dir, mu: &sync.Mutex{}}
	s := b.storage()
	s.withTx = func(ctx context.Context, fn func(*Storage) error) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		rows, err := b.readRows()
		if err != nil {
			return err
		}

		txb := &fileBackend{dir: dir, mu: &sync.Mutex{}, tx: &fileTx{rows: rows}}
		if err := fn(txb.storage()); err != nil {
			return err
		}
		return b.commit(txb.tx)
	}
	return s, nil
}

func (b *fileBackend) storage() *Storage {
	return &Storage{
		Aggregates:       &FileAggregateStore{b: b},
		Checkpoint:       &FileCheckpointStore{b: b},
		IngestionHistory: &FileIngestionHistoryStore{b: b},
	}
}

func (b *fileBackend) path(name string) string {
	return filepath.Join(b.dir, name)
}

// commit writes staged data with the checkpoint last, so a crash never
// leaves a checkpoint ahead of the dataset.
func (b *fileBackend) commit(tx *fileTx) error {
	if tx.rowsDirty {
		if err := b.writeRows(tx.rows); err != nil {
			return err
		}
	}
	if len(tx.history) > 0 {
		if err := b.appendHistory(tx.history); err != nil {
			return err
		}
	}
	if tx.checkpoint != nil {
		if err := b.writeCheckpoint(*tx.checkpoint); err != nil {
			return err
		}
	}
	return nil
}

func (b *fileBackend) readRows() ([]types.MunicipalityAggregate, error) {
	data, err := os.ReadFile(b.path(ConsolidatedFile))
	if errors.Is(err, os.ErrNotExist) {
		return []types.MunicipalityAggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read consolidated file: %w", err)
	}
	// a header-only file has no rows to load
	if len(strings.Split(strings.TrimSpace(string(data)), "\n")) <= 1 {
		return []types.MunicipalityAggregate{}, nil
	}

	df := dataframe.ReadCSV(bytes.NewReader(data), dataframe.DetectTypes(false), dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, fmt.Errorf("read consolidated file: %w", df.Err)
	}
	return rowsFromFrame(&df)
}

func rowsFromFrame(df *dataframe.DataFrame) ([]types.MunicipalityAggregate, error) {
	if missing := utils.MissingColumns(df, consolidatedHeader); len(missing) > 0 {
		return nil, fmt.Errorf("consolidated file missing columns %s", strings.Join(missing, ","))
	}

	cols := make(map[string][]string, len(consolidatedHeader))
	for _, col := range consolidatedHeader {
		cols[col] = utils.ColumnStrings(df, col)
	}

	rows := make([]types.MunicipalityAggregate, 0, df.Nrow())
	for n := 0; n < df.Nrow(); n++ {
		get := func(col string) string { return cols[col][n] }

		year, err1 := strconv.Atoi(get("year"))
		month, err2 := strconv.Atoi(get("month"))
		count, err3 := strconv.ParseInt(get("payment_count"), 10, 64)
		sum, err4 := strconv.ParseFloat(get("value_sum"), 64)
		mean, err5 := strconv.ParseFloat(get("value_mean"), 64)
		unique, err6 := strconv.ParseInt(get("unique_person_count"), 10, 64)
		if err := errors.Join(err1, err2, err3, err4, err5, err6); err != nil {
			return nil, fmt.Errorf("consolidated file line %d: %w", n+2, err)
		}

		rows = append(rows, types.MunicipalityAggregate{
			MunicipalityCode:  get("municipality_code"),
			MunicipalityName:  get("municipality_name"),
			State:             get("state"),
			Year:              year,
			Month:             month,
			PaymentCount:      count,
			ValueSum:          sum,
			ValueMean:         mean,
			UniquePersonCount: unique,
			UniqueCountBasis:  types.UniqueCountBasis(get("unique_count_basis")),
			OutlierLabel:      types.OutlierLabel(get("outlier_label")),
		})
	}
	return rows, nil
}

func (b *fileBackend) writeRows(rows []types.MunicipalityAggregate) error {
	sorted := slices.Clone(rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	records := make([][]string, 0, len(sorted)+1)
	records = append(records, consolidatedHeader)
	for _, r := range sorted {
		records = append(records, []string{
			r.MunicipalityCode,
			r.MunicipalityName,
			r.State,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			strconv.FormatInt(r.PaymentCount, 10),
			strconv.FormatFloat(r.ValueSum, 'g', -1, 64),
			strconv.FormatFloat(r.ValueMean, 'g', -1, 64),
			strconv.FormatInt(r.UniquePersonCount, 10),
			string(r.UniqueCountBasis),
			string(r.OutlierLabel),
		})
	}

	return writeAtomic(b.path(ConsolidatedFile), func(w io.Writer) error {
		if len(records) == 1 {
			_, err := fmt.Fprintln(w, strings.Join(consolidatedHeader, ","))
			return err
		}
		df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.HasHeader(true))
		if df.Err != nil {
			return df.Err
		}
		return df.WriteCSV(w)
	})
}

func (b *fileBackend) readCheckpoint() (types.Period, bool, error) {
	data, err := os.ReadFile(b.path(CheckpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return types.Period{}, false, nil
	}
	if err != nil {
		return types.Period{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	p, err := types.ParsePeriod(raw)
	if err != nil {
		return types.Period{}, true, fmt.Errorf("%w: %q: %v", ErrCorruptCheckpoint, raw, err)
	}
	return p, true, nil
}

func (b *fileBackend) writeCheckpoint(p types.Period) error {
	return writeAtomic(b.path(CheckpointFile), func(w io.Writer) error {
		_, err := fmt.Fprintln(w, p.String())
		return err
	})
}

func (b *fileBackend) appendHistory(records []IngestionRecord) error {
	f, err := os.OpenFile(b.path(IngestionHistoryFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ingestion history: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write ingestion history: %w", err)
		}
	}
	return nil
}

func (b *fileBackend) readHistory() ([]IngestionRecord, error) {
	f, err := os.Open(b.path(IngestionHistoryFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ingestion history: %w", err)
	}
	defer f.Close()

	var records []IngestionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r IngestionRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("decode ingestion history: %w", err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

type FileAggregateStore struct {
	b *fileBackend
}

// mutate applies fn to the staged rows inside a transaction, or reads,
// modifies and rewrites the file otherwise.
func (fs *FileAggregateStore) mutate(fn func([]types.MunicipalityAggregate) []types.MunicipalityAggregate) error {
	if fs.b.tx != nil {
		fs.b.tx.rows = fn(fs.b.tx.rows)
		fs.b.tx.rowsDirty = true
		return nil
	}

	fs.b.mu.Lock()
	defer fs.b.mu.Unlock()
	rows, err := fs.b.readRows()
	if err != nil {
		return err
	}
	return fs.b.writeRows(fn(rows))
}

func (fs *FileAggregateStore) rows() ([]types.MunicipalityAggregate, error) {
	var rows []types.MunicipalityAggregate
	if fs.b.tx != nil {
		rows = slices.Clone(fs.b.tx.rows)
	} else {
		fs.b.mu.Lock()
		var err error
		rows, err = fs.b.readRows()
		fs.b.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Less(rows[j]) })
	return rows, nil
}

func (fs *FileAggregateStore) Append(ctx context.Context, rows []types.MunicipalityAggregate) error {
	return fs.mutate(func(existing []types.MunicipalityAggregate) []types.MunicipalityAggregate {
		return append(existing, rows...)
	})
}

func (fs *FileAggregateStore) ReadAll(ctx context.Context) ([]types.MunicipalityAggregate, error) {
	return fs.rows()
}

func (fs *FileAggregateStore) ReplaceAll(ctx context.Context, rows []types.MunicipalityAggregate) error {
	return fs.mutate(func([]types.MunicipalityAggregate) []types.MunicipalityAggregate {
		return slices.Clone(rows)
	})
}

func (fs *FileAggregateStore) UpdateLabels(ctx context.Context, rows []types.MunicipalityAggregate) error {
	type rowKey struct {
		period types.Period
		key    types.MunicipalityKey
	}
	labels := make(map[rowKey]types.OutlierLabel, len(rows))
	for _, r := range rows {
		labels[rowKey{r.Period(), r.Key()}] = r.OutlierLabel
	}

	return fs.mutate(func(existing []types.MunicipalityAggregate) []types.MunicipalityAggregate {
		for i := range existing {
			if l, ok := labels[rowKey{existing[i].Period(), existing[i].Key()}]; ok {
				existing[i].OutlierLabel = l
			}
		}
		return existing
	})
}

func (fs *FileAggregateStore) DeletePeriods(ctx context.Context, periods []types.Period) error {
	return fs.mutate(func(existing []types.MunicipalityAggregate) []types.MunicipalityAggregate {
		return slices.DeleteFunc(existing, func(r types.MunicipalityAggregate) bool {
			return slices.Contains(periods, r.Period())
		})
	})
}

func (fs *FileAggregateStore) Query(ctx context.Context, f AggregateFilter) ([]types.MunicipalityAggregate, error) {
	rows, err := fs.rows()
	if err != nil {
		return nil, err
	}

	matches := func(r types.MunicipalityAggregate) bool {
		if len(f.Years) > 0 && !slices.Contains(f.Years, r.Year) {
			return false
		}
		if len(f.Months) > 0 && !slices.Contains(f.Months, r.Month) {
			return false
		}
		if len(f.States) > 0 && !slices.Contains(f.States, r.State) {
			return false
		}
		if len(f.Municipalities) > 0 &&
			!slices.Contains(f.Municipalities, r.MunicipalityCode) &&
			!slices.Contains(f.Municipalities, r.MunicipalityName) {
			return false
		}
		if len(f.Labels) > 0 && !slices.Contains(f.Labels, r.OutlierLabel) {
			return false
		}
		return true
	}

	out := []types.MunicipalityAggregate{}
	for _, r := range rows {
		if matches(r) {
			out = append(out, r)
		}
	}

	if f.Limit <= 0 {
		return out, nil
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []types.MunicipalityAggregate{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (fs *FileAggregateStore) FilterOptions(ctx context.Context) (FilterOptions, error) {
	opts := FilterOptions{Years: []int{}, Months: []int{}, States: []string{}}
	rows, err := fs.rows()
	if err != nil {
		return opts, err
	}

	for _, r := range rows {
		if !slices.Contains(opts.Years, r.Year) {
			opts.Years = append(opts.Years, r.Year)
		}
		if !slices.Contains(opts.Months, r.Month) {
			opts.Months = append(opts.Months, r.Month)
		}
		if !slices.Contains(opts.States, r.State) {
			opts.States = append(opts.States, r.State)
		}
	}
	slices.Sort(opts.Years)
	slices.Sort(opts.Months)
	slices.Sort(opts.States)
	return opts, nil
}

type FileCheckpointStore struct {
	b *fileBackend
}

func (fc *FileCheckpointStore) Read(ctx context.Context) (types.Period, bool, error) {
	if fc.b.tx != nil && fc.b.tx.checkpoint != nil {
		return *fc.b.tx.checkpoint, true, nil
	}
	return fc.b.readCheckpoint()
}

func (fc *FileCheckpointStore) Write(ctx context.Context, period types.Period) error {
	if err := period.Validate(); err != nil {
		return fmt.Errorf("refusing to write checkpoint: %w", err)
	}
	if fc.b.tx != nil {
		fc.b.tx.checkpoint = &period
		return nil
	}
	fc.b.mu.Lock()
	defer fc.b.mu.Unlock()
	return fc.b.writeCheckpoint(period)
}

type FileIngestionHistoryStore struct {
	b *fileBackend
}

func (fh *FileIngestionHistoryStore) Insert(ctx context.Context, records ...IngestionRecord) error {
	if fh.b.tx != nil {
		fh.b.tx.history = append(fh.b.tx.history, records...)
		return nil
	}
	fh.b.mu.Lock()
	defer fh.b.mu.Unlock()
	return fh.b.appendHistory(records)
}

func (fh *FileIngestionHistoryStore) GetLatest(ctx context.Context, limit int) ([]IngestionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	fh.b.mu.Lock()
	records, err := fh.b.readHistory()
	fh.b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	slices.Reverse(records)
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []IngestionRecord{}
	}
	return records, nil
}
