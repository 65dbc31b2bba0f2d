package anomaly

import (
	"fmt"
	"testing"

	"github.com/apex/log/handlers/memory"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultConfig(), logger.New(memory.New(), logger.LevelDebug))
	require.NoError(t, err)
	return d
}

func agg(code string, year, month int, count int64, sum float64) types.MunicipalityAggregate {
	return types.MunicipalityAggregate{
		MunicipalityCode: code,
		MunicipalityName: "M" + code,
		State:            "SP",
		Year:             year,
		Month:            month,
		PaymentCount:     count,
		ValueSum:         sum,
	}
}

func population(n int, seed uint64) []types.MunicipalityAggregate {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]types.MunicipalityAggregate, 0, n+1)
	for i := 0; i < n; i++ {
		count := int64(90 + rng.Intn(20))
		sum := float64(count) * (1400 + rng.Float64()*40)
		rows = append(rows, agg(fmt.Sprintf("%07d", i), 2024, 1, count, sum))
	}
	return rows
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 1.8517, averagePathLength(4), 1e-4)
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestLabel_FlagsTenfoldValueSum(t *testing.T) {
	d := newDetector(t)

	var rows []types.MunicipalityAggregate
	for _, month := range []int{1, 2} {
		rows = append(rows,
			agg("0000001", 2024, month, 10, 1000),
			agg("0000002", 2024, month, 10, 1000),
			agg("0000003", 2024, month, 10, 10000),
		)
	}

	labelled, err := d.Label(rows)
	require.NoError(t, err)
	require.Len(t, labelled, len(rows))

	for _, r := range labelled {
		want := types.LabelNormal
		if r.MunicipalityCode == "0000003" {
			want = types.LabelInconsistent
		}
		assert.Equal(t, want, r.OutlierLabel, "%s %s", r.MunicipalityCode, r.Period())
	}
}

func TestLabel_FindsOutlierInPopulation(t *testing.T) {
	d := newDetector(t)
	rows := population(300, 7)
	outlier := agg("9999999", 2024, 1, 100, 1400*100*10)
	rows = append(rows, outlier)

	labelled, err := d.Label(rows)
	require.NoError(t, err)

	flagged := 0
	for _, r := range labelled {
		if r.OutlierLabel == types.LabelInconsistent {
			flagged++
		}
	}
	assert.Equal(t, types.LabelInconsistent, labelled[len(labelled)-1].OutlierLabel)
	assert.GreaterOrEqual(t, flagged, 1)
	assert.LessOrEqual(t, flagged, 6)
}

func TestLabel_Deterministic(t *testing.T) {
	d := newDetector(t)
	rows := population(120, 3)

	first, err := d.Label(rows)
	require.NoError(t, err)
	second, err := d.Label(rows)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, d.Scores(rows), d.Scores(rows))
}

func TestLabel_DoesNotMutateInput(t *testing.T) {
	d := newDetector(t)
	rows := population(20, 1)

	_, err := d.Label(rows)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, types.LabelUnset, r.OutlierLabel)
	}
}

func TestLabel_Empty(t *testing.T) {
	d := newDetector(t)
	labelled, err := d.Label(nil)
	assert.NoError(t, err)
	assert.Empty(t, labelled)
}

func TestLabel_DegenerateFeatures(t *testing.T) {
	d := newDetector(t)
	rows := []types.MunicipalityAggregate{
		agg("0000001", 2024, 1, 5, 500),
		agg("0000002", 2024, 1, 5, 500),
	}

	labelled, err := d.Label(rows)
	assert.ErrorIs(t, err, ErrDegenerateFeatures)
	require.Len(t, labelled, 2)
	for _, r := range labelled {
		assert.Equal(t, types.LabelNormal, r.OutlierLabel)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero contamination", mutate: func(c *Config) { c.Contamination = 0 }, wantErr: true},
		{name: "contamination above half", mutate: func(c *Config) { c.Contamination = 0.6 }, wantErr: true},
		{name: "no trees", mutate: func(c *Config) { c.Trees = 0 }, wantErr: true},
		{name: "tiny sample", mutate: func(c *Config) { c.MaxSamples = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
