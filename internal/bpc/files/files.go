package files

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/go-gota/gota/dataframe"
	"golang.org/x/text/encoding/charmap"
)

var (
	ErrNoCSVInArchive = errors.New("no csv file in archive")
	ErrEmptyDataset   = errors.New("dataset is empty")
)

const utf8BOM = "\ufeff"

// DecodeResult is a raw period table plus what was dropped while reading it.
type DecodeResult struct {
	FileName    string
	Table       *dataframe.DataFrame
	Rows        int
	SkippedRows int
}

// ReadArchive finds the first CSV inside a portal zip and decodes it.
func ReadArchive(data []byte, appLogger *logger.Logger) (*DecodeResult, error) {
	const component = "Unzipper"

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip archive: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			appLogger.Debug(component, "Skipping archive entry: file=%s", f.Name)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		res, err := DecodeCSV(rc)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		res.FileName = f.Name
		appLogger.Info(component, "Extraction completed: file=%s rows=%d skippedRows=%d", f.Name, res.Rows, res.SkippedRows)
		return res, nil
	}

	return nil, ErrNoCSVInArchive
}

// DecodeCSV reads an ISO-8859-1, semicolon separated portal file. Rows whose
// field count differs from the header are skipped and counted.
func DecodeCSV(r io.Reader) (*DecodeResult, error) {
	// Portal files are Latin-1 encoded
	decoded := charmap.ISO8859_1.NewDecoder().Reader(r)

	reader := csv.NewReader(decoded)
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], utf8BOM))
	}

	records := [][]string{header}
	skipped := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) != len(header) {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 1 {
		return nil, ErrEmptyDataset
	}

	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.HasHeader(true),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("build dataframe: %w", df.Err)
	}

	return &DecodeResult{
		Table:       &df,
		Rows:        df.Nrow(),
		SkippedRows: skipped,
	}, nil
}
