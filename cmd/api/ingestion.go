package main

import (
	"net/http"

	"github.com/farxc/bpc-insight/internal/response"
	"github.com/farxc/bpc-insight/internal/store"
)

type GetIngestionHistoryResponse = response.ListResponse[store.IngestionRecord]

// @Summary		Get ingestion history
// @Description	Get the latest period attempts recorded by the pipeline, newest first.
// @Tags			Ingestion
// @Produce		json
// @Param			limit	query		int							false	"Limit the number of results"	default(10)
// @Success		200		{object}	GetIngestionHistoryResponse	"Successfully retrieved latest ingestion records"
// @Failure		400		{object}	response.ErrorResponse		"Invalid limit"
// @Failure		500		{object}	response.ErrorResponse		"Failed to get ingestion history"
// @Router			/ingestion/history [get]
func (app *application) handleGetIngestionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", 10)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	data, err := app.store.IngestionHistory.GetLatest(ctx, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get ingestion history: "+err.Error())
		return
	}

	response := response.NewList("Successfully retrieved latest ingestion records", data)
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
