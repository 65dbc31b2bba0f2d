package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/bpc/utils"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/go-gota/gota/dataframe"
)

var ErrMissingColumn = errors.New("missing required column")

// Rejections counts rows dropped during normalisation, by reason.
type Rejections struct {
	InvalidValue        int `json:"invalid_value"`
	MissingMunicipality int `json:"missing_municipality"`
}

func (r Rejections) Total() int {
	return r.InvalidValue + r.MissingMunicipality
}

// Result is one period's anonymised rows plus the data-quality signals raised
// while producing them.
type Result struct {
	Records    []types.AnonymizedRecord
	Basis      types.UniqueCountBasis
	RawRows    int
	Rejections Rejections
	Warnings   []string
}

type Anonymizer struct {
	logger *logger.Logger
}

func NewAnonymizer(appLogger *logger.Logger) *Anonymizer {
	return &Anonymizer{logger: appLogger}
}

// HashIdentifier is the sha256 hex digest of the trimmed identifier. It is
// unkeyed so the same person hashes identically in every period.
func HashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(id)))
	return hex.EncodeToString(sum[:])
}

// surrogateIdentifier stands in for a beneficiary when the source file has no
// beneficiary column. It is unique per row, so unique counts degrade to row counts.
func surrogateIdentifier(period types.Period, row int) string {
	return fmt.Sprintf("%s#%d", period.Code(), row)
}

// resolveColumns maps canonical column names to the header that carries them.
// Headers already in canonical form are accepted as-is.
func resolveColumns(names []string) map[string]string {
	resolved := make(map[string]string, len(types.SourceColumns))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if canonical, ok := types.SourceColumns[strings.ToUpper(trimmed)]; ok {
			resolved[canonical] = name
			continue
		}
		for _, canonical := range types.SourceColumns {
			if trimmed == canonical {
				resolved[canonical] = name
			}
		}
	}
	return resolved
}

// Transform normalises and anonymises one period's raw table. A nil table
// means the period is absent and yields a nil result.
func (a *Anonymizer) Transform(period types.Period, df *dataframe.DataFrame) (*Result, error) {
	const component = "Anonymizer"

	if df == nil {
		return nil, nil
	}
	if df.Err != nil {
		return nil, fmt.Errorf("raw table for %s: %w", period, df.Err)
	}

	cols := resolveColumns(df.Names())
	for _, required := range types.RequiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s (period %s)", ErrMissingColumn, required, period)
		}
	}

	codes := utils.ColumnStrings(df, cols[types.ColMunicipalityCode])
	names := utils.ColumnStrings(df, cols[types.ColMunicipalityName])
	states := utils.ColumnStrings(df, cols[types.ColState])
	values := utils.ColumnStrings(df, cols[types.ColPaymentValue])
	beneficiaries := utils.ColumnStrings(df, cols[types.ColBeneficiaryID])
	representatives := utils.ColumnStrings(df, cols[types.ColRepresentativeID])

	res := &Result{
		Basis:   types.BasisExactHash,
		RawRows: df.Nrow(),
		Records: make([]types.AnonymizedRecord, 0, df.Nrow()),
	}

	if beneficiaries == nil {
		res.Basis = types.BasisPositionalFallback
		msg := fmt.Sprintf("beneficiary column missing for %s: unique_person_count falls back to row positions and is not comparable across periods", period)
		res.Warnings = append(res.Warnings, msg)
		a.logger.Warn(component, "Schema drift: period=%s rows=%d basis=%s", period, df.Nrow(), res.Basis)
	}

	for i := 0; i < df.Nrow(); i++ {
		code := utils.NormalizeMunicipalityCode(codes[i], types.MunicipalityCodeWidth)
		if code == "" {
			res.Rejections.MissingMunicipality++
			continue
		}

		value, err := utils.ParseValue(values[i])
		if err != nil {
			res.Rejections.InvalidValue++
			continue
		}

		rec := types.AnonymizedRecord{
			MunicipalityCode: code,
			MunicipalityName: strings.TrimSpace(names[i]),
			State:            strings.TrimSpace(states[i]),
			PaymentValue:     value,
		}

		if beneficiaries != nil {
			rec.BeneficiaryHash = HashIdentifier(beneficiaries[i])
		} else {
			rec.BeneficiaryHash = HashIdentifier(surrogateIdentifier(period, i))
		}

		if representatives != nil && strings.TrimSpace(representatives[i]) != "" {
			rec.RepresentativeHash = HashIdentifier(representatives[i])
		}

		res.Records = append(res.Records, rec)
	}

	if res.Rejections.Total() > 0 {
		a.logger.Debug(component, "Rows dropped: period=%s invalidValue=%d missingMunicipality=%d",
			period, res.Rejections.InvalidValue, res.Rejections.MissingMunicipality)
	}
	a.logger.Info(component, "Transformed period=%s rawRows=%d records=%d basis=%s",
		period, res.RawRows, len(res.Records), res.Basis)

	return res, nil
}
