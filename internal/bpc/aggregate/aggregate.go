package aggregate

import (
	"runtime"
	"sort"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"golang.org/x/sync/errgroup"
)

type group struct {
	count  int64
	sum    float64
	people map[string]struct{}
}

// Accumulator groups anonymised records by municipality. Accumulators built
// over disjoint chunks of a period can be merged into the same result as a
// single pass over the whole period.
type Accumulator struct {
	groups map[types.MunicipalityKey]*group
}

func NewAccumulator() *Accumulator {
	return &Accumulator{groups: make(map[types.MunicipalityKey]*group)}
}

func (a *Accumulator) getOrCreate(key types.MunicipalityKey) *group {
	g, exists := a.groups[key]
	if !exists {
		g = &group{people: make(map[string]struct{})}
		a.groups[key] = g
	}
	return g
}

func (a *Accumulator) Add(records ...types.AnonymizedRecord) {
	for _, r := range records {
		g := a.getOrCreate(r.Key())
		g.count++
		g.sum += r.PaymentValue
		g.people[r.BeneficiaryHash] = struct{}{}
	}
}

// Merge folds other into a. other must not be used afterwards.
func (a *Accumulator) Merge(other *Accumulator) {
	for key, og := range other.groups {
		g := a.getOrCreate(key)
		g.count += og.count
		g.sum += og.sum
		for h := range og.people {
			g.people[h] = struct{}{}
		}
	}
}

// Result emits one aggregate per municipality seen, ordered by municipality.
// Municipalities with no records never appear.
func (a *Accumulator) Result(period types.Period, basis types.UniqueCountBasis) []types.MunicipalityAggregate {
	out := make([]types.MunicipalityAggregate, 0, len(a.groups))
	for key, g := range a.groups {
		if g.count == 0 {
			continue
		}
		out = append(out, types.MunicipalityAggregate{
			MunicipalityCode:  key.Code,
			MunicipalityName:  key.Name,
			State:             key.State,
			Year:              period.Year,
			Month:             period.Month,
			PaymentCount:      g.count,
			ValueSum:          g.sum,
			ValueMean:         g.sum / float64(g.count),
			UniquePersonCount: int64(len(g.people)),
			UniqueCountBasis:  basis,
			OutlierLabel:      types.LabelUnset,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ChunkSize is the number of records each worker accumulates before the
// partial results are merged.
const ChunkSize = 250_000

// Aggregate summarises one period's records per municipality. Large periods
// are accumulated in parallel chunks and merged.
func Aggregate(period types.Period, basis types.UniqueCountBasis, records []types.AnonymizedRecord) []types.MunicipalityAggregate {
	return aggregateChunked(period, basis, records, ChunkSize)
}

func aggregateChunked(period types.Period, basis types.UniqueCountBasis, records []types.AnonymizedRecord, size int) []types.MunicipalityAggregate {
	if size <= 0 || len(records) <= size {
		acc := NewAccumulator()
		acc.Add(records...)
		return acc.Result(period, basis)
	}

	partials := make([]*Accumulator, (len(records)+size-1)/size)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range partials {
		lo, hi := i*size, min((i+1)*size, len(records))
		g.Go(func() error {
			acc := NewAccumulator()
			acc.Add(records[lo:hi]...)
			partials[i] = acc
			return nil
		})
	}
	_ = g.Wait()

	total := partials[0]
	for _, p := range partials[1:] {
		total.Merge(p)
	}
	return total.Result(period, basis)
}
