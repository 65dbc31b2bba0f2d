package bpc

import (
	"context"
	"fmt"

	"github.com/farxc/bpc-insight/internal/bpc/aggregate"
	"github.com/farxc/bpc-insight/internal/bpc/analysis"
	"github.com/farxc/bpc-insight/internal/bpc/downloader"
	"github.com/farxc/bpc-insight/internal/bpc/transform"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/metrics"
	"github.com/farxc/bpc-insight/internal/store"
)

// ProcessPeriod fetches one period and turns it into municipality aggregates.
// A period either yields all of its aggregates or none.
func (o *Orchestrator) ProcessPeriod(ctx context.Context, period types.Period) PeriodOutcome {
	const component = "Pipeline"

	out, res := o.transformPeriod(ctx, period)
	if res == nil {
		return out
	}

	out.Aggregates = aggregate.Aggregate(period, res.Basis, res.Records)
	out.Status = store.StatusSuccess
	metrics.PeriodsProcessed.WithLabelValues(metrics.StatusSuccess).Inc()

	if o.cfg.ReportsDir != "" {
		report := analysis.Analyze(period, res.Records, o.cfg.RepresentativeThreshold)
		if paths, err := report.WriteFiles(o.cfg.ReportsDir); err != nil {
			o.appLogger.Warn(component, "Failed to write relationship reports: period=%s error=%v", period, err)
		} else {
			o.appLogger.Info(component, "Relationship reports written: period=%s representatives=%d duplicates=%d files=%v",
				period, len(report.Representatives), len(report.Duplicates), paths)
		}
	}

	o.appLogger.Info(component, "Period processed: period=%s rows=%d municipalities=%d rejected=%d basis=%s",
		period, len(res.Records), len(out.Aggregates), res.Rejections.Total(), res.Basis)
	return out
}

// Analyze fetches one period and builds its relationship reports without
// touching the store.
func (o *Orchestrator) Analyze(ctx context.Context, period types.Period) (*analysis.Report, error) {
	out, res := o.transformPeriod(ctx, period)
	if res == nil {
		return nil, fmt.Errorf("period %s unavailable: %s", period, out.Reason)
	}
	report := analysis.Analyze(period, res.Records, o.cfg.RepresentativeThreshold)
	return &report, nil
}

// transformPeriod returns a nil result when the period is absent or unusable,
// with the outcome explaining why.
func (o *Orchestrator) transformPeriod(ctx context.Context, period types.Period) (PeriodOutcome, *transform.Result) {
	const component = "Pipeline"
	out := PeriodOutcome{Period: period}

	fetched := o.fetcher.Fetch(ctx, period)
	out.RawRows = fetched.Rows
	out.SkippedRows = fetched.SkippedRows
	if !fetched.Success {
		out.Status = store.StatusFailure
		if fetched.Reason == downloader.ReasonNotPublished {
			out.Status = store.StatusSkipped
		}
		out.Reason = fetched.Reason
		metrics.FetchFailures.WithLabelValues(fetched.Reason).Inc()
		metrics.PeriodsProcessed.WithLabelValues(out.Status).Inc()
		o.appLogger.Warn(component, "Fetch returned no data: period=%s reason=%s", period, fetched.Reason)
		return out, nil
	}

	res, err := o.anonymizer.Transform(period, fetched.Table)
	if err != nil || res == nil {
		out.Status = store.StatusFailure
		out.Reason = "transform"
		if err != nil {
			out.Reason = err.Error()
		}
		metrics.PeriodsProcessed.WithLabelValues(metrics.StatusFailure).Inc()
		o.appLogger.Error(component, "Transform failed: period=%s error=%v", period, err)
		return out, nil
	}

	out.RawRows = res.RawRows
	out.Rejections = res.Rejections
	out.Basis = res.Basis
	out.Warnings = res.Warnings
	metrics.RowsRejected.WithLabelValues("invalid_value").Add(float64(res.Rejections.InvalidValue))
	metrics.RowsRejected.WithLabelValues("missing_municipality").Add(float64(res.Rejections.MissingMunicipality))
	if res.Basis == types.BasisPositionalFallback {
		metrics.SchemaDrift.Inc()
	}
	return out, res
}
