package types

// Canonical column names after the source columns are renamed.
const (
	ColMunicipalityCode   = "MUNICIPALITY_CODE"
	ColMunicipalityName   = "MUNICIPALITY_NAME"
	ColState              = "STATE"
	ColPaymentValue       = "PAYMENT_VALUE"
	ColBeneficiaryID      = "BENEFICIARY_ID"
	ColRepresentativeID   = "REPRESENTATIVE_ID"
	MunicipalityCodeWidth = 7
)

// SourceColumns maps the portal's BPC CSV headers to canonical names.
var SourceColumns = map[string]string{
	"CÓDIGO MUNICÍPIO SIAFI":  ColMunicipalityCode,
	"NOME MUNICÍPIO":          ColMunicipalityName,
	"UF":                      ColState,
	"VALOR PARCELA":           ColPaymentValue,
	"CPF BENEFICIÁRIO":        ColBeneficiaryID,
	"CPF REPRESENTANTE LEGAL": ColRepresentativeID,
}

// RequiredColumns must be present after renaming or the period cannot be processed.
var RequiredColumns = []string{
	ColMunicipalityCode,
	ColMunicipalityName,
	ColState,
	ColPaymentValue,
}

type OutlierLabel string

const (
	LabelUnset        OutlierLabel = ""
	LabelNormal       OutlierLabel = "NORMAL"
	LabelInconsistent OutlierLabel = "INCONSISTENT"
)

// UniqueCountBasis tells consumers how unique_person_count was obtained for a period.
type UniqueCountBasis string

const (
	BasisExactHash          UniqueCountBasis = "exact_hash"
	BasisPositionalFallback UniqueCountBasis = "positional_fallback"
)

// AnonymizedRecord is one disbursement line with PII replaced by digests.
type AnonymizedRecord struct {
	MunicipalityCode   string  `json:"municipality_code"`
	MunicipalityName   string  `json:"municipality_name"`
	State              string  `json:"state"`
	PaymentValue       float64 `json:"payment_value"`
	BeneficiaryHash    string  `json:"beneficiary_hash"`
	RepresentativeHash string  `json:"representative_hash,omitempty"`
}

// MunicipalityKey is the aggregation grouping key.
type MunicipalityKey struct {
	Code  string
	Name  string
	State string
}

func (r AnonymizedRecord) Key() MunicipalityKey {
	return MunicipalityKey{Code: r.MunicipalityCode, Name: r.MunicipalityName, State: r.State}
}

// MunicipalityAggregate is one row of the consolidated dataset.
type MunicipalityAggregate struct {
	MunicipalityCode  string           `db:"municipality_code" json:"municipality_code"`
	MunicipalityName  string           `db:"municipality_name" json:"municipality_name"`
	State             string           `db:"state" json:"state"`
	Year              int              `db:"year" json:"year"`
	Month             int              `db:"month" json:"month"`
	PaymentCount      int64            `db:"payment_count" json:"payment_count"`
	ValueSum          float64          `db:"value_sum" json:"value_sum"`
	ValueMean         float64          `db:"value_mean" json:"value_mean"`
	UniquePersonCount int64            `db:"unique_person_count" json:"unique_person_count"`
	UniqueCountBasis  UniqueCountBasis `db:"unique_count_basis" json:"unique_count_basis"`
	OutlierLabel      OutlierLabel     `db:"outlier_label" json:"outlier_label"`
}

func (a MunicipalityAggregate) Period() Period {
	return Period{Year: a.Year, Month: a.Month}
}

func (a MunicipalityAggregate) Key() MunicipalityKey {
	return MunicipalityKey{Code: a.MunicipalityCode, Name: a.MunicipalityName, State: a.State}
}

// Less orders aggregates by period, then municipality code, name and state.
func (a MunicipalityAggregate) Less(b MunicipalityAggregate) bool {
	if c := a.Period().Compare(b.Period()); c != 0 {
		return c < 0
	}
	if a.MunicipalityCode != b.MunicipalityCode {
		return a.MunicipalityCode < b.MunicipalityCode
	}
	if a.MunicipalityName != b.MunicipalityName {
		return a.MunicipalityName < b.MunicipalityName
	}
	return a.State < b.State
}
