package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/response"
	"github.com/farxc/bpc-insight/internal/store"
)

type GetAggregatesResponse = response.ListResponse[types.MunicipalityAggregate]
type GetFilterOptionsResponse = response.APIResponse[store.FilterOptions]

func parseAggregateFilter(r *http.Request) (store.AggregateFilter, error) {
	q := r.URL.Query()
	var (
		f   store.AggregateFilter
		err error
	)

	if f.Years, err = intsParam(q, "year"); err != nil {
		return f, err
	}
	if f.Months, err = intsParam(q, "month"); err != nil {
		return f, err
	}
	for _, s := range splitParam(q, "state") {
		f.States = append(f.States, strings.ToUpper(s))
	}
	f.Municipalities = splitParam(q, "municipality")
	for _, l := range splitParam(q, "label") {
		label := types.OutlierLabel(strings.ToUpper(l))
		if label != types.LabelNormal && label != types.LabelInconsistent {
			return f, errInvalidLabel(l)
		}
		f.Labels = append(f.Labels, label)
	}
	if f.Limit, err = intParam(q, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset", 0); err != nil {
		return f, err
	}
	if f.Offset > 0 && f.Limit == 0 {
		return f, errOffsetWithoutLimit
	}
	return f, nil
}

var errOffsetWithoutLimit = errors.New("offset requires limit")

type errInvalidLabel string

func (e errInvalidLabel) Error() string {
	return "invalid label \"" + string(e) + "\": expected NORMAL or INCONSISTENT"
}

// @Summary		Get municipality aggregates
// @Description	Get the consolidated monthly aggregates per municipality. Every filter accepts a comma separated list.
// @Tags			Aggregates
// @Produce		json
// @Param			year			query		string					false	"Years, e.g. 2023,2024"
// @Param			month			query		string					false	"Months 1-12"
// @Param			state			query		string					false	"State codes, e.g. SP,MA"
// @Param			municipality	query		string					false	"Municipality codes or names"
// @Param			label			query		string					false	"NORMAL or INCONSISTENT"
// @Param			limit			query		int						false	"Maximum number of rows"
// @Param			offset			query		int						false	"Rows to skip, requires limit"
// @Success		200				{object}	GetAggregatesResponse	"Successfully retrieved aggregates"
// @Failure		400				{object}	response.ErrorResponse	"Invalid filter"
// @Failure		500				{object}	response.ErrorResponse	"Failed to query aggregates"
// @Router			/aggregates [get]
func (app *application) handleGetAggregates(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAggregateFilter(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := app.store.Aggregates.Query(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to query aggregates: "+err.Error())
		return
	}

	response := response.NewList("Successfully retrieved aggregates", data)
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Get filter options
// @Description	Get the distinct years, months and states present in the consolidated dataset.
// @Tags			Aggregates
// @Produce		json
// @Success		200	{object}	GetFilterOptionsResponse	"Successfully retrieved filter options"
// @Failure		500	{object}	response.ErrorResponse		"Failed to list filter options"
// @Router			/aggregates/filters [get]
func (app *application) handleGetFilterOptions(w http.ResponseWriter, r *http.Request) {
	data, err := app.store.Aggregates.FilterOptions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list filter options: "+err.Error())
		return
	}

	response := &GetFilterOptionsResponse{
		Success: true,
		Data:    data,
		Message: "Successfully retrieved filter options",
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
