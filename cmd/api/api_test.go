package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apex/log/handlers/memory"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aggregate(code, state string, year, month int, label types.OutlierLabel) types.MunicipalityAggregate {
	return types.MunicipalityAggregate{
		MunicipalityCode:  code,
		MunicipalityName:  "CITY " + code,
		State:             state,
		Year:              year,
		Month:             month,
		PaymentCount:      10,
		ValueSum:          14120,
		ValueMean:         1412,
		UniquePersonCount: 10,
		UniqueCountBasis:  types.BasisExactHash,
		OutlierLabel:      label,
	}
}

func newTestApp(t *testing.T) (*application, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewFileStorage(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Aggregates.ReplaceAll(ctx, []types.MunicipalityAggregate{
		aggregate("0007107", "SP", 2024, 1, types.LabelNormal),
		aggregate("0000921", "MA", 2024, 1, types.LabelInconsistent),
		aggregate("0007107", "SP", 2024, 2, types.LabelNormal),
		aggregate("0000921", "MA", 2024, 2, types.LabelNormal),
	}))
	require.NoError(t, s.Checkpoint.Write(ctx, types.Period{Year: 2024, Month: 2}))
	require.NoError(t, s.IngestionHistory.Insert(ctx,
		store.IngestionRecord{RunID: "run-1", Year: 2024, Month: 1, Status: store.StatusSuccess, TriggerType: store.TriggerTypeManual, ProcessedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		store.IngestionRecord{RunID: "run-1", Year: 2024, Month: 2, Status: store.StatusSuccess, TriggerType: store.TriggerTypeManual, ProcessedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		store.IngestionRecord{RunID: "run-2", Year: 2024, Month: 3, Status: store.StatusSkipped, Reason: "not_published", TriggerType: store.TriggerTypeScheduled, ProcessedAt: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)},
	))

	return &application{
		config: config{addr: ":0", storeBackend: store.BackendFile},
		store:  s,
		logger: logger.New(memory.New(), logger.LevelError),
	}, dir
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

type aggregatesBody struct {
	Success bool                          `json:"success"`
	Count   int                           `json:"count"`
	Data    []types.MunicipalityAggregate `json:"data"`
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	rr := get(t, app.mount(), "/v1/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"available","version":"0.1.0","store":"file"}`, rr.Body.String())
}

func TestGetAggregates(t *testing.T) {
	app, _ := newTestApp(t)
	h := app.mount()

	tests := []struct {
		name      string
		target    string
		wantCodes []string
	}{
		{name: "all", target: "/v1/aggregates", wantCodes: []string{"0000921", "0007107", "0000921", "0007107"}},
		{name: "by month", target: "/v1/aggregates?year=2024&month=2", wantCodes: []string{"0000921", "0007107"}},
		{name: "by state lower case", target: "/v1/aggregates?state=sp", wantCodes: []string{"0007107", "0007107"}},
		{name: "by label", target: "/v1/aggregates?label=inconsistent", wantCodes: []string{"0000921"}},
		{name: "by municipality name", target: "/v1/aggregates?municipality=CITY%200007107&month=1", wantCodes: []string{"0007107"}},
		{name: "paged", target: "/v1/aggregates?limit=1&offset=1", wantCodes: []string{"0007107"}},
		{name: "no match", target: "/v1/aggregates?year=1999", wantCodes: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, h, tt.target)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var body aggregatesBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.True(t, body.Success)
			assert.Equal(t, len(tt.wantCodes), body.Count)

			codes := []string{}
			for _, a := range body.Data {
				codes = append(codes, a.MunicipalityCode)
			}
			assert.Equal(t, tt.wantCodes, codes)
		})
	}
}

func TestGetAggregates_BadRequest(t *testing.T) {
	app, _ := newTestApp(t)
	h := app.mount()

	for _, target := range []string{
		"/v1/aggregates?year=last",
		"/v1/aggregates?label=WEIRD",
		"/v1/aggregates?limit=-1",
		"/v1/aggregates?offset=1",
	} {
		rr := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Contains(t, rr.Body.String(), `"error"`)
	}
}

func TestGetFilterOptions(t *testing.T) {
	app, _ := newTestApp(t)
	rr := get(t, app.mount(), "/v1/aggregates/filters")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Successfully retrieved filter options","data":{"years":[2024],"months":[1,2],"states":["MA","SP"]}}`, rr.Body.String())
}

func TestGetCheckpoint(t *testing.T) {
	app, dir := newTestApp(t)
	h := app.mount()

	rr := get(t, h, "/v1/checkpoint")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Successfully read the checkpoint","data":{"found":true,"checkpoint":"2024-02","next":"2024-03"}}`, rr.Body.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, store.CheckpointFile), []byte("garbage"), 0o644))
	rr = get(t, h, "/v1/checkpoint")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "corrupt checkpoint")
}

func TestGetCheckpoint_NotFound(t *testing.T) {
	s, err := store.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	app := &application{store: s, logger: logger.New(memory.New(), logger.LevelError)}

	rr := get(t, app.mount(), "/v1/checkpoint")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Successfully read the checkpoint","data":{"found":false}}`, rr.Body.String())
}

func TestGetIngestionHistory(t *testing.T) {
	app, _ := newTestApp(t)
	h := app.mount()

	rr := get(t, h, "/v1/ingestion/history?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Count int                     `json:"count"`
		Data  []store.IngestionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "run-2", body.Data[0].RunID)
	assert.Equal(t, store.StatusSkipped, body.Data[0].Status)

	rr = get(t, h, "/v1/ingestion/history?limit=many")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	h := app.mount()

	get(t, h, "/v1/health")
	rr := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `bpc_api_requests_total{code="200",route="/v1/health"}`))
}
