package main

import (
	"net/http"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/response"
)

type CheckpointStatus struct {
	Found      bool          `json:"found"`
	Checkpoint *types.Period `json:"checkpoint,omitempty"`
	Next       *types.Period `json:"next,omitempty"`
}

type GetCheckpointResponse = response.APIResponse[CheckpointStatus]

// @Summary		Get checkpoint
// @Description	Get the last period incorporated into the consolidated dataset.
// @Tags			Checkpoint
// @Produce		json
// @Success		200	{object}	GetCheckpointResponse	"Successfully read the checkpoint"
// @Failure		500	{object}	response.ErrorResponse	"Checkpoint unreadable or corrupt"
// @Router			/checkpoint [get]
func (app *application) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpoint, found, err := app.store.Checkpoint.Read(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read checkpoint: "+err.Error())
		return
	}

	status := CheckpointStatus{Found: found}
	if found {
		next := checkpoint.Next()
		status.Checkpoint = &checkpoint
		status.Next = &next
	}

	response := &GetCheckpointResponse{
		Success: true,
		Data:    status,
		Message: "Successfully read the checkpoint",
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
