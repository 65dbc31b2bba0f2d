package bpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/farxc/bpc-insight/internal/bpc/analysis"
	"github.com/farxc/bpc-insight/internal/bpc/anomaly"
	"github.com/farxc/bpc-insight/internal/bpc/downloader"
	"github.com/farxc/bpc-insight/internal/bpc/transform"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/metrics"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Run modes.
const (
	ModeCold = "cold"
	ModeWarm = "warm"
)

var DefaultEarliestPeriod = types.Period{Year: 2020, Month: 1}

type Config struct {
	EarliestPeriod          types.Period
	Concurrency             int
	RepresentativeThreshold int
	ReportsDir              string
	Trigger                 string
}

func DefaultConfig() Config {
	return Config{
		EarliestPeriod:          DefaultEarliestPeriod,
		Concurrency:             4,
		RepresentativeThreshold: analysis.DefaultRepresentativeThreshold,
		Trigger:                 store.TriggerTypeManual,
	}
}

// PeriodOutcome is what happened to one period in one run.
type PeriodOutcome struct {
	Period      types.Period
	Status      string
	Reason      string
	RawRows     int
	SkippedRows int
	Rejections  transform.Rejections
	Basis       types.UniqueCountBasis
	Warnings    []string
	Aggregates  []types.MunicipalityAggregate
}

func (po PeriodOutcome) Succeeded() bool {
	return po.Status == store.StatusSuccess
}

// RunResult summarises one controller invocation.
type RunResult struct {
	RunID              string
	Mode               string
	Outcomes           []PeriodOutcome
	Stored             []types.Period
	Checkpoint         types.Period
	CheckpointAdvanced bool
	Labelled           int
	Inconsistent       int
}

// Orchestrator is the checkpoint controller. With no checkpoint it loads
// every period from EarliestPeriod through the last completed month; with a
// checkpoint it walks forward from the next period and stops at the first
// one without data.
type Orchestrator struct {
	storage    *store.Storage
	fetcher    downloader.Fetcher
	anonymizer *transform.Anonymizer
	detector   *anomaly.Detector
	appLogger  *logger.Logger
	cfg        Config
	now        func() time.Time
}

type Option func(*Orchestrator)

// WithClock replaces time.Now, which decides the last completed month.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(storage *store.Storage, fetcher downloader.Fetcher, detector *anomaly.Detector, appLogger *logger.Logger, cfg Config, opts ...Option) *Orchestrator {
	if cfg.EarliestPeriod.IsZero() {
		cfg.EarliestPeriod = DefaultEarliestPeriod
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Trigger == "" {
		cfg.Trigger = store.TriggerTypeManual
	}

	o := &Orchestrator{
		storage:    storage,
		fetcher:    fetcher,
		anonymizer: transform.NewAnonymizer(appLogger),
		detector:   detector,
		appLogger:  appLogger,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one invocation. It returns an error only for conditions that
// must stop the pipeline: a corrupt checkpoint, a storage failure or a
// canceled context. Fetch failures are recorded per period.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	const component = "Orchestrator"
	start := time.Now()
	defer func() { metrics.RunDurationSeconds.Observe(time.Since(start).Seconds()) }()

	checkpoint, found, err := o.storage.Checkpoint.Read(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCorruptCheckpoint) {
			o.appLogger.Error(component, "Checkpoint is corrupt, refusing to run until it is repaired: %v", err)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	result := &RunResult{RunID: ulid.Make().String()}

	if !found {
		result.Mode = ModeCold
		err = o.coldLoad(ctx, result)
	} else {
		result.Mode = ModeWarm
		result.Checkpoint = checkpoint
		metrics.CheckpointPeriod.Set(float64(checkpoint.Key()))
		err = o.incremental(ctx, checkpoint, result)
	}

	if histErr := o.recordHistory(ctx, result, err); histErr != nil {
		o.appLogger.Error(component, "Failed to record ingestion history: run=%s error=%v", result.RunID, histErr)
	}
	if err != nil {
		return result, err
	}

	o.appLogger.Info(component, "Run finished: run=%s mode=%s periods=%d stored=%d checkpoint=%s advanced=%t inconsistent=%d",
		result.RunID, result.Mode, len(result.Outcomes), len(result.Stored), result.Checkpoint, result.CheckpointAdvanced, result.Inconsistent)
	return result, nil
}

func (o *Orchestrator) coldLoad(ctx context.Context, result *RunResult) error {
	const component = "Orchestrator-Cold"

	periods := types.Range(o.cfg.EarliestPeriod, types.LastCompleted(o.now()))
	if len(periods) == 0 {
		o.appLogger.Warn(component, "Nothing to load: earliest=%s is after the last completed month", o.cfg.EarliestPeriod)
		return nil
	}
	o.appLogger.Info(component, "Starting historical load: from=%s to=%s periods=%d concurrency=%d",
		periods[0], periods[len(periods)-1], len(periods), o.cfg.Concurrency)

	outcomes := make([]PeriodOutcome, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, p := range periods {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = o.ProcessPeriod(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("historical load interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("historical load interrupted: %w", err)
	}
	result.Outcomes = outcomes

	var (
		all        []types.MunicipalityAggregate
		stored     []types.Period
		contiguous types.Period
		gap        bool
	)
	for _, out := range outcomes {
		if !out.Succeeded() {
			gap = true
			continue
		}
		all = append(all, out.Aggregates...)
		stored = append(stored, out.Period)
		if !gap {
			contiguous = out.Period
		}
	}

	if len(stored) == 0 {
		o.appLogger.Warn(component, "No period could be loaded, store and checkpoint left untouched")
		return nil
	}

	labelled, err := o.label(all, result)
	if err != nil {
		return err
	}

	err = o.storage.WithTx(ctx, func(tx *store.Storage) error {
		if err := tx.Aggregates.ReplaceAll(ctx, labelled); err != nil {
			return err
		}
		if contiguous.IsZero() {
			return nil
		}
		return tx.Checkpoint.Write(ctx, contiguous)
	})
	if err != nil {
		return fmt.Errorf("commit historical load: %w", err)
	}

	result.Stored = stored
	if contiguous.IsZero() {
		o.appLogger.Warn(component, "First period %s failed, checkpoint not written", periods[0])
	} else {
		result.Checkpoint = contiguous
		result.CheckpointAdvanced = true
		metrics.CheckpointPeriod.Set(float64(contiguous.Key()))
		if contiguous != stored[len(stored)-1] {
			o.appLogger.Warn(component, "Gap after %s, checkpoint held there although later periods were stored", contiguous)
		}
	}
	return nil
}

func (o *Orchestrator) incremental(ctx context.Context, checkpoint types.Period, result *RunResult) error {
	const component = "Orchestrator-Warm"

	current := types.PeriodOf(o.now())
	var fresh []PeriodOutcome
	for p := checkpoint.Next(); !p.After(current); p = p.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := o.ProcessPeriod(ctx, p)
		result.Outcomes = append(result.Outcomes, out)
		if !out.Succeeded() {
			o.appLogger.Info(component, "Stopping at %s: status=%s reason=%s", p, out.Status, out.Reason)
			break
		}
		fresh = append(fresh, out)
	}

	if len(fresh) == 0 {
		o.appLogger.Info(component, "No new data after checkpoint %s, nothing to do", checkpoint)
		return nil
	}

	newPeriods := make([]types.Period, 0, len(fresh))
	var newRows []types.MunicipalityAggregate
	for _, out := range fresh {
		newPeriods = append(newPeriods, out.Period)
		newRows = append(newRows, out.Aggregates...)
	}
	isNew := make(map[types.Period]bool, len(newPeriods))
	for _, p := range newPeriods {
		isNew[p] = true
	}

	stored, err := o.storage.Aggregates.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read stored aggregates: %w", err)
	}

	type rowKey struct {
		period types.Period
		key    types.MunicipalityKey
	}
	previous := make(map[rowKey]types.OutlierLabel, len(stored))
	combined := make([]types.MunicipalityAggregate, 0, len(stored)+len(newRows))
	for _, r := range stored {
		// rows of a re-fetched period are replaced, never duplicated
		if isNew[r.Period()] {
			continue
		}
		previous[rowKey{r.Period(), r.Key()}] = r.OutlierLabel
		combined = append(combined, r)
	}
	combined = append(combined, newRows...)

	labelled, err := o.label(combined, result)
	if err != nil {
		return err
	}

	var changed, appended []types.MunicipalityAggregate
	for _, r := range labelled {
		if isNew[r.Period()] {
			appended = append(appended, r)
			continue
		}
		if previous[rowKey{r.Period(), r.Key()}] != r.OutlierLabel {
			changed = append(changed, r)
		}
	}

	last := newPeriods[len(newPeriods)-1]
	err = o.storage.WithTx(ctx, func(tx *store.Storage) error {
		if err := tx.Aggregates.UpdateLabels(ctx, changed); err != nil {
			return err
		}
		if err := tx.Aggregates.DeletePeriods(ctx, newPeriods); err != nil {
			return err
		}
		if err := tx.Aggregates.Append(ctx, appended); err != nil {
			return err
		}
		return tx.Checkpoint.Write(ctx, last)
	})
	if err != nil {
		return fmt.Errorf("commit incremental run: %w", err)
	}

	result.Stored = newPeriods
	result.Checkpoint = last
	result.CheckpointAdvanced = true
	metrics.CheckpointPeriod.Set(float64(last.Key()))
	o.appLogger.Info(component, "Incremental run committed: periods=%d relabelled=%d appended=%d checkpoint=%s",
		len(newPeriods), len(changed), len(appended), last)
	return nil
}

// label refits the detector over rows in a canonical order so the same
// history always gets the same labels.
func (o *Orchestrator) label(rows []types.MunicipalityAggregate, result *RunResult) ([]types.MunicipalityAggregate, error) {
	const component = "Orchestrator"

	sorted := make([]types.MunicipalityAggregate, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	labelled, err := o.detector.Label(sorted)
	if err != nil {
		if !errors.Is(err, anomaly.ErrDegenerateFeatures) {
			return nil, fmt.Errorf("label aggregates: %w", err)
		}
		o.appLogger.Warn(component, "Model fit skipped: rows=%d error=%v", len(rows), err)
	}

	inconsistent := 0
	for _, r := range labelled {
		if r.OutlierLabel == types.LabelInconsistent {
			inconsistent++
		}
	}
	result.Labelled = len(labelled)
	result.Inconsistent = inconsistent
	metrics.InconsistentAggregates.Set(float64(inconsistent))
	return labelled, nil
}

func (o *Orchestrator) recordHistory(ctx context.Context, result *RunResult, runErr error) error {
	if len(result.Outcomes) == 0 {
		return nil
	}

	stored := make(map[types.Period]bool, len(result.Stored))
	for _, p := range result.Stored {
		stored[p] = true
	}

	now := o.now().UTC()
	records := make([]store.IngestionRecord, 0, len(result.Outcomes))
	for _, out := range result.Outcomes {
		rec := store.IngestionRecord{
			RunID:            result.RunID,
			Year:             out.Period.Year,
			Month:            out.Period.Month,
			Status:           out.Status,
			Reason:           out.Reason,
			RawRows:          int64(out.RawRows),
			SkippedRows:      int64(out.SkippedRows),
			RejectedRows:     int64(out.Rejections.Total()),
			UniqueCountBasis: string(out.Basis),
			TriggerType:      o.cfg.Trigger,
			ProcessedAt:      now,
		}
		if out.Succeeded() && !stored[out.Period] {
			rec.Status = store.StatusFailure
			rec.Reason = "not committed"
			if runErr != nil {
				rec.Reason = "commit failed: " + runErr.Error()
			}
		}
		records = append(records, rec)
	}
	return o.storage.IngestionHistory.Insert(ctx, records...)
}
