package analysis

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var period = types.Period{Year: 2024, Month: 1}

func represented(rep string, n int, prefix string) []types.AnonymizedRecord {
	out := make([]types.AnonymizedRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.AnonymizedRecord{
			MunicipalityCode:   "0000001",
			BeneficiaryHash:    fmt.Sprintf("%s-%02d", prefix, i),
			RepresentativeHash: rep,
			PaymentValue:       1412,
		})
	}
	return out
}

func TestRepresentativeConcentration_StrictlyAboveThreshold(t *testing.T) {
	var records []types.AnonymizedRecord
	records = append(records, represented("rep-eleven", 11, "a")...)
	records = append(records, represented("rep-ten", 10, "b")...)
	// repeated beneficiaries count once
	records = append(records, represented("rep-ten", 10, "b")...)

	got := RepresentativeConcentrationReport(records, 10)
	assert.Equal(t, []RepresentativeConcentration{
		{RepresentativeHash: "rep-eleven", BeneficiaryCount: 11},
	}, got)
}

func TestRepresentativeConcentration_SortedDescending(t *testing.T) {
	var records []types.AnonymizedRecord
	records = append(records, represented("r-b", 3, "x")...)
	records = append(records, represented("r-a", 3, "y")...)
	records = append(records, represented("r-c", 5, "z")...)
	records = append(records, represented("", 20, "w")...)

	got := RepresentativeConcentrationReport(records, 2)
	assert.Equal(t, []RepresentativeConcentration{
		{RepresentativeHash: "r-c", BeneficiaryCount: 5},
		{RepresentativeHash: "r-a", BeneficiaryCount: 3},
		{RepresentativeHash: "r-b", BeneficiaryCount: 3},
	}, got)
}

func TestDuplicateBeneficiaries(t *testing.T) {
	records := []types.AnonymizedRecord{
		{BeneficiaryHash: "H"},
		{BeneficiaryHash: "H"},
		{BeneficiaryHash: "H"},
		{BeneficiaryHash: "unique"},
	}

	got := DuplicateBeneficiaries(records)
	assert.Equal(t, []DuplicateBeneficiary{{BeneficiaryHash: "H", Occurrences: 3}}, got)
}

func TestDuplicateBeneficiaries_None(t *testing.T) {
	assert.Empty(t, DuplicateBeneficiaries([]types.AnonymizedRecord{{BeneficiaryHash: "a"}, {BeneficiaryHash: "b"}}))
}

func goldenReport() Report {
	var records []types.AnonymizedRecord
	records = append(records, represented("rep-1", 3, "p")...)
	records = append(records, represented("rep-2", 2, "q")...)
	records = append(records, types.AnonymizedRecord{BeneficiaryHash: "p-00"}, types.AnonymizedRecord{BeneficiaryHash: "q-01"})
	records = append(records, types.AnonymizedRecord{BeneficiaryHash: "p-00"})
	return Analyze(period, records, 1)
}

func TestReport_CSVGolden(t *testing.T) {
	r := goldenReport()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	var reps bytes.Buffer
	require.NoError(t, r.WriteRepresentativesCSV(&reps))
	g.Assert(t, "representatives", reps.Bytes())

	var dups bytes.Buffer
	require.NoError(t, r.WriteDuplicatesCSV(&dups))
	g.Assert(t, "duplicates", dups.Bytes())
}

func TestReport_EmptyCSVHasHeader(t *testing.T) {
	r := Analyze(period, nil, DefaultRepresentativeThreshold)

	var buf bytes.Buffer
	require.NoError(t, r.WriteDuplicatesCSV(&buf))
	assert.Equal(t, "beneficiary_hash,occurrences\n", buf.String())
}

func TestReport_WriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	paths, err := goldenReport().WriteFiles(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, filepath.Join(dir, "representatives_2024-01.csv"), paths[0])
	b, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(b), "p-00,3")
}

func TestReport_RenderTables(t *testing.T) {
	var buf bytes.Buffer
	goldenReport().RenderTables(&buf)
	out := buf.String()

	assert.Contains(t, out, "Representatives above 1 beneficiaries (2024-01)")
	assert.Contains(t, out, "rep-1")
	assert.Contains(t, out, "Duplicate beneficiaries (2024-01)")

	buf.Reset()
	Analyze(period, nil, 10).RenderTables(&buf)
	assert.Contains(t, buf.String(), "(0 rows)")
}
