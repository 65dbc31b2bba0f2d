package transform

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sourceHeader = []string{
	"MÊS COMPETÊNCIA", "UF", "CÓDIGO MUNICÍPIO SIAFI", "NOME MUNICÍPIO",
	"CPF BENEFICIÁRIO", "CPF REPRESENTANTE LEGAL", "VALOR PARCELA",
}

func frame(header []string, rows ...[]string) *dataframe.DataFrame {
	records := append([][]string{header}, rows...)
	df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.HasHeader(true))
	return &df
}

func newAnonymizer() (*Anonymizer, *memory.Handler) {
	h := memory.New()
	return NewAnonymizer(logger.New(h, logger.LevelDebug)), h
}

var jan = types.Period{Year: 2024, Month: 1}

func TestTransform_NormalisesAndHashes(t *testing.T) {
	a, _ := newAnonymizer()
	df := frame(sourceHeader,
		[]string{"202401", "SP", "7107", "SAO PAULO", "***.111.222-**", "", "1.412,00"},
		[]string{"202401", "SP", "7107.0", "SAO PAULO", "***.333.444-**", "***.999.888-**", "706,50"},
	)

	res, err := a.Transform(jan, df)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, types.BasisExactHash, res.Basis)
	assert.Equal(t, 2, res.RawRows)
	assert.Zero(t, res.Rejections.Total())
	assert.Empty(t, res.Warnings)

	first := res.Records[0]
	assert.Equal(t, "0007107", first.MunicipalityCode)
	assert.Equal(t, "SAO PAULO", first.MunicipalityName)
	assert.Equal(t, "SP", first.State)
	assert.InDelta(t, 1412.0, first.PaymentValue, 1e-9)
	assert.Equal(t, HashIdentifier("***.111.222-**"), first.BeneficiaryHash)
	assert.Len(t, first.BeneficiaryHash, 64)
	assert.Empty(t, first.RepresentativeHash)

	second := res.Records[1]
	assert.Equal(t, "0007107", second.MunicipalityCode)
	assert.Equal(t, HashIdentifier("***.999.888-**"), second.RepresentativeHash)
}

func TestTransform_Deterministic(t *testing.T) {
	a, _ := newAnonymizer()
	rows := [][]string{
		{"202401", "RJ", "6001", "RIO DE JANEIRO", "***.123.456-**", "***.654.321-**", "1.412,00"},
		{"202401", "RJ", "6001", "RIO DE JANEIRO", "***.123.457-**", "", "1.412,00"},
	}

	r1, err := a.Transform(jan, frame(sourceHeader, rows...))
	require.NoError(t, err)
	r2, err := a.Transform(jan, frame(sourceHeader, rows...))
	require.NoError(t, err)

	assert.Equal(t, r1.Records, r2.Records)
}

func TestHashIdentifier(t *testing.T) {
	assert.Equal(t, HashIdentifier("***.123.456-**"), HashIdentifier("***.123.456-**"))
	assert.Equal(t, HashIdentifier("***.123.456-**"), HashIdentifier(" ***.123.456-** "))
	assert.NotEqual(t, HashIdentifier("***.123.456-**"), HashIdentifier("***.123.457-**"))
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashIdentifier("abc"))
}

func TestTransform_SameIdentityAcrossPeriods(t *testing.T) {
	a, _ := newAnonymizer()
	row := []string{"", "MG", "4123", "BELO HORIZONTE", "***.000.111-**", "", "600,00"}

	r1, err := a.Transform(jan, frame(sourceHeader, row))
	require.NoError(t, err)
	r2, err := a.Transform(jan.Next(), frame(sourceHeader, row))
	require.NoError(t, err)

	assert.Equal(t, r1.Records[0].BeneficiaryHash, r2.Records[0].BeneficiaryHash)
}

func TestTransform_CountsRejections(t *testing.T) {
	a, _ := newAnonymizer()
	df := frame(sourceHeader,
		[]string{"", "SP", "7107", "SAO PAULO", "a", "", "100,00"},
		[]string{"", "SP", "7107", "SAO PAULO", "b", "", "n/a"},
		[]string{"", "SP", "7107", "SAO PAULO", "c", "", ""},
		[]string{"", "SP", "", "SAO PAULO", "d", "", "100,00"},
	)

	res, err := a.Transform(jan, df)
	require.NoError(t, err)

	assert.Len(t, res.Records, 1)
	assert.Equal(t, Rejections{InvalidValue: 2, MissingMunicipality: 1}, res.Rejections)
	assert.Equal(t, 4, res.RawRows)
}

func TestTransform_SchemaDriftFallsBackToPositions(t *testing.T) {
	a, h := newAnonymizer()
	header := []string{"UF", "CÓDIGO MUNICÍPIO SIAFI", "NOME MUNICÍPIO", "VALOR PARCELA"}
	df := frame(header,
		[]string{"BA", "3849", "SALVADOR", "100,00"},
		[]string{"BA", "3849", "SALVADOR", "100,00"},
	)

	res, err := a.Transform(jan, df)
	require.NoError(t, err)

	assert.Equal(t, types.BasisPositionalFallback, res.Basis)
	require.Len(t, res.Warnings, 1)
	require.Len(t, res.Records, 2)
	assert.NotEqual(t, res.Records[0].BeneficiaryHash, res.Records[1].BeneficiaryHash)

	var warned bool
	for _, e := range h.Entries {
		if e.Fields["component"] == "Anonymizer" && e.Level == log.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "schema drift must be logged as a warning")
}

func TestTransform_MissingRequiredColumn(t *testing.T) {
	a, _ := newAnonymizer()
	df := frame([]string{"UF", "NOME MUNICÍPIO", "VALOR PARCELA"}, []string{"BA", "SALVADOR", "1,00"})

	_, err := a.Transform(jan, df)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestTransform_AbsentPropagates(t *testing.T) {
	a, _ := newAnonymizer()
	res, err := a.Transform(jan, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestTransform_AcceptsCanonicalHeaders(t *testing.T) {
	a, _ := newAnonymizer()
	header := []string{
		types.ColMunicipalityCode, types.ColMunicipalityName, types.ColState,
		types.ColPaymentValue, types.ColBeneficiaryID,
	}
	res, err := a.Transform(jan, frame(header, []string{"1", "X", "AC", "10.5", "p"}))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "0000001", res.Records[0].MunicipalityCode)
	assert.InDelta(t, 10.5, res.Records[0].PaymentValue, 1e-9)
}
