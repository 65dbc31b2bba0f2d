package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateFeatures is returned when every row has the same features and
// no split can isolate anything. Rows are still labelled NORMAL.
var ErrDegenerateFeatures = errors.New("degenerate feature set")

type Config struct {
	Contamination float64 `koanf:"contamination"`
	Seed          uint64  `koanf:"seed"`
	Trees         int     `koanf:"trees"`
	MaxSamples    int     `koanf:"max_samples"`
}

func DefaultConfig() Config {
	return Config{
		Contamination: 0.01,
		Seed:          42,
		Trees:         100,
		MaxSamples:    256,
	}
}

func (c Config) Validate() error {
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %v", c.Contamination)
	}
	if c.Trees < 1 {
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	}
	if c.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2, got %d", c.MaxSamples)
	}
	return nil
}

// Detector labels municipality aggregates with an isolation forest fitted on
// log1p(payment_count) and log1p(value_sum). It is refitted from scratch on
// every call.
type Detector struct {
	cfg    Config
	logger *logger.Logger
}

func NewDetector(cfg Config, appLogger *logger.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, logger: appLogger}, nil
}

// Features returns the log-scaled feature matrix for rows.
func Features(rows []types.MunicipalityAggregate) [][]float64 {
	x := make([][]float64, len(rows))
	for i, r := range rows {
		x[i] = []float64{
			math.Log1p(float64(r.PaymentCount)),
			math.Log1p(r.ValueSum),
		}
	}
	return x
}

func degenerate(x [][]float64) bool {
	for i := 1; i < len(x); i++ {
		for j := range x[i] {
			if x[i][j] != x[0][j] {
				return false
			}
		}
	}
	return true
}

// Scores fits a forest over rows and returns one score per row; lower means
// more anomalous. The same rows and seed always give the same scores.
func (d *Detector) Scores(rows []types.MunicipalityAggregate) []float64 {
	x := Features(rows)
	rng := rand.New(rand.NewSource(d.cfg.Seed))
	f := fitForest(x, d.cfg.Trees, d.cfg.MaxSamples, rng)

	scores := make([]float64, len(x))
	for i, p := range x {
		scores[i] = f.score(p)
	}
	return scores
}

// Label returns a copy of rows with OutlierLabel set on every row. The
// contamination quantile of the scores is the cut-off; rows tied with it are
// flagged too.
func (d *Detector) Label(rows []types.MunicipalityAggregate) ([]types.MunicipalityAggregate, error) {
	const component = "AnomalyDetector"

	if len(rows) == 0 {
		d.logger.Debug(component, "No aggregates to label, skipping fit")
		return nil, nil
	}

	labelled := make([]types.MunicipalityAggregate, len(rows))
	copy(labelled, rows)

	if degenerate(Features(rows)) {
		for i := range labelled {
			labelled[i].OutlierLabel = types.LabelNormal
		}
		d.logger.Warn(component, "Degenerate features, labelling all rows NORMAL: rows=%d", len(rows))
		return labelled, ErrDegenerateFeatures
	}

	scores := d.Scores(rows)
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	threshold := stat.Quantile(d.cfg.Contamination, stat.Empirical, sorted, nil)

	flagged := 0
	for i, s := range scores {
		if s <= threshold {
			labelled[i].OutlierLabel = types.LabelInconsistent
			flagged++
		} else {
			labelled[i].OutlierLabel = types.LabelNormal
		}
	}

	d.logger.Info(component, "Labelled aggregates: rows=%d inconsistent=%d threshold=%.4f", len(rows), flagged, threshold)
	return labelled, nil
}
