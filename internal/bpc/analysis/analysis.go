package analysis

import (
	"sort"

	"github.com/farxc/bpc-insight/internal/bpc/types"
)

const DefaultRepresentativeThreshold = 10

// RepresentativeConcentration is a legal representative acting for more
// distinct beneficiaries than the configured threshold.
type RepresentativeConcentration struct {
	RepresentativeHash string `json:"representative_hash"`
	BeneficiaryCount   int    `json:"beneficiary_count"`
}

// DuplicateBeneficiary is a beneficiary hash seen more than once in one period.
type DuplicateBeneficiary struct {
	BeneficiaryHash string `json:"beneficiary_hash"`
	Occurrences     int    `json:"occurrences"`
}

// Report bundles both relationship reports for one period. Reports are
// advisory and never fed back into aggregation or labelling.
type Report struct {
	Period          types.Period                  `json:"period"`
	Threshold       int                           `json:"threshold"`
	Representatives []RepresentativeConcentration `json:"representatives"`
	Duplicates      []DuplicateBeneficiary        `json:"duplicates"`
}

// RepresentativeConcentrationReport counts distinct beneficiaries per
// representative and keeps those strictly above threshold, largest first.
// Records without a representative are ignored.
func RepresentativeConcentrationReport(records []types.AnonymizedRecord, threshold int) []RepresentativeConcentration {
	beneficiaries := make(map[string]map[string]struct{})
	for _, r := range records {
		if r.RepresentativeHash == "" {
			continue
		}
		set, exists := beneficiaries[r.RepresentativeHash]
		if !exists {
			set = make(map[string]struct{})
			beneficiaries[r.RepresentativeHash] = set
		}
		set[r.BeneficiaryHash] = struct{}{}
	}

	var out []RepresentativeConcentration
	for rep, set := range beneficiaries {
		if len(set) > threshold {
			out = append(out, RepresentativeConcentration{RepresentativeHash: rep, BeneficiaryCount: len(set)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BeneficiaryCount != out[j].BeneficiaryCount {
			return out[i].BeneficiaryCount > out[j].BeneficiaryCount
		}
		return out[i].RepresentativeHash < out[j].RepresentativeHash
	})
	return out
}

// DuplicateBeneficiaries lists beneficiary hashes occurring more than once,
// most frequent first.
func DuplicateBeneficiaries(records []types.AnonymizedRecord) []DuplicateBeneficiary {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.BeneficiaryHash]++
	}

	var out []DuplicateBeneficiary
	for h, n := range counts {
		if n > 1 {
			out = append(out, DuplicateBeneficiary{BeneficiaryHash: h, Occurrences: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].BeneficiaryHash < out[j].BeneficiaryHash
	})
	return out
}

func Analyze(period types.Period, records []types.AnonymizedRecord, threshold int) Report {
	return Report{
		Period:          period,
		Threshold:       threshold,
		Representatives: RepresentativeConcentrationReport(records, threshold),
		Duplicates:      DuplicateBeneficiaries(records),
	}
}
