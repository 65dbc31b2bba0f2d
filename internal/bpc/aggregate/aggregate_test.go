package aggregate

import (
	"testing"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var period = types.Period{Year: 2024, Month: 1}

func rec(code, name, state string, value float64, person string) types.AnonymizedRecord {
	return types.AnonymizedRecord{
		MunicipalityCode: code,
		MunicipalityName: name,
		State:            state,
		PaymentValue:     value,
		BeneficiaryHash:  person,
	}
}

func sample() []types.AnonymizedRecord {
	return []types.AnonymizedRecord{
		rec("0000002", "B", "RJ", 100, "p1"),
		rec("0000001", "A", "SP", 250, "p2"),
		rec("0000001", "A", "SP", 250, "p2"),
		rec("0000001", "A", "SP", 500, "p3"),
		rec("0000002", "B", "RJ", 300, "p4"),
		rec("0000001", "A", "SP", 0.5, "p5"),
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate(period, types.BasisExactHash, sample())
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "0000001", a.MunicipalityCode)
	assert.Equal(t, 2024, a.Year)
	assert.Equal(t, 1, a.Month)
	assert.Equal(t, int64(4), a.PaymentCount)
	assert.Equal(t, 1000.5, a.ValueSum)
	assert.Equal(t, 250.125, a.ValueMean)
	assert.Equal(t, int64(3), a.UniquePersonCount)
	assert.Equal(t, types.BasisExactHash, a.UniqueCountBasis)
	assert.Equal(t, types.LabelUnset, a.OutlierLabel)

	b := got[1]
	assert.Equal(t, "0000002", b.MunicipalityCode)
	assert.Equal(t, int64(2), b.PaymentCount)
	assert.Equal(t, 400.0, b.ValueSum)
	assert.Equal(t, 200.0, b.ValueMean)
	assert.Equal(t, int64(2), b.UniquePersonCount)
}

func TestAggregate_GroupsByFullKey(t *testing.T) {
	records := []types.AnonymizedRecord{
		rec("0000001", "A", "SP", 1, "p1"),
		rec("0000001", "A (renamed)", "SP", 1, "p1"),
	}
	assert.Len(t, Aggregate(period, types.BasisExactHash, records), 2)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(period, types.BasisExactHash, nil))
}

func TestAggregate_ChunkedMergeMatchesSinglePass(t *testing.T) {
	records := sample()
	want := Aggregate(period, types.BasisExactHash, records)

	splits := [][]int{{1}, {2, 4}, {3}, {0, 6}, {1, 2, 3, 4, 5}}
	for _, cuts := range splits {
		total := NewAccumulator()
		prev := 0
		for _, cut := range append(cuts, len(records)) {
			chunk := NewAccumulator()
			chunk.Add(records[prev:cut]...)
			total.Merge(chunk)
			prev = cut
		}
		assert.Equal(t, want, total.Result(period, types.BasisExactHash), "cuts=%v", cuts)
	}
}

func TestAggregate_ParallelChunksMatchSinglePass(t *testing.T) {
	records := sample()
	want := aggregateChunked(period, types.BasisExactHash, records, 0)
	for _, size := range []int{1, 2, 3, len(records) - 1} {
		assert.Equal(t, want, aggregateChunked(period, types.BasisExactHash, records, size), "size=%d", size)
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	first := Aggregate(period, types.BasisExactHash, sample())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Aggregate(period, types.BasisExactHash, sample()))
	}
}
