package analysis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	representativeHeader = []string{"representative_hash", "beneficiary_count"}
	duplicateHeader      = []string{"beneficiary_hash", "occurrences"}
)

func (r Report) representativeRecords() [][]string {
	records := [][]string{representativeHeader}
	for _, c := range r.Representatives {
		records = append(records, []string{c.RepresentativeHash, strconv.Itoa(c.BeneficiaryCount)})
	}
	return records
}

func (r Report) duplicateRecords() [][]string {
	records := [][]string{duplicateHeader}
	for _, d := range r.Duplicates {
		records = append(records, []string{d.BeneficiaryHash, strconv.Itoa(d.Occurrences)})
	}
	return records
}

// writeRecords writes records (header first) as CSV through a dataframe. A
// header-only table cannot be loaded into a dataframe, so it is written as is.
func writeRecords(w io.Writer, records [][]string) error {
	if len(records) <= 1 {
		_, err := fmt.Fprintln(w, strings.Join(records[0], ","))
		return err
	}
	df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.HasHeader(true))
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

func (r Report) WriteRepresentativesCSV(w io.Writer) error {
	return writeRecords(w, r.representativeRecords())
}

func (r Report) WriteDuplicatesCSV(w io.Writer) error {
	return writeRecords(w, r.duplicateRecords())
}

// WriteFiles stores both reports under dir as
// representatives_YYYY-MM.csv and duplicates_YYYY-MM.csv.
func (r Report) WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create reports dir %s: %w", dir, err)
	}

	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{name: "representatives_" + r.Period.String() + ".csv", write: r.WriteRepresentativesCSV},
		{name: "duplicates_" + r.Period.String() + ".csv", write: r.WriteDuplicatesCSV},
	}

	var paths []string
	for _, o := range outputs {
		path := filepath.Join(dir, o.name)
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create report %s: %w", path, err)
		}
		if err := o.write(f); err != nil {
			f.Close()
			return paths, fmt.Errorf("write report %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return paths, fmt.Errorf("close report %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func renderTable(w io.Writer, title string, records [][]string) {
	if len(records) <= 1 {
		_, _ = fmt.Fprintf(w, "%s\n(0 rows)\n", title)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)

	header := make(table.Row, len(records[0]))
	for i, col := range records[0] {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, rec := range records[1:] {
		row := make(table.Row, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		t.AppendRow(row)
	}
	t.Render()
}

// RenderTables prints both reports as terminal tables.
func (r Report) RenderTables(w io.Writer) {
	renderTable(w, fmt.Sprintf("Representatives above %d beneficiaries (%s)", r.Threshold, r.Period), r.representativeRecords())
	_, _ = fmt.Fprintln(w)
	renderTable(w, fmt.Sprintf("Duplicate beneficiaries (%s)", r.Period), r.duplicateRecords())
}
