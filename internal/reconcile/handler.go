package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"paygate/internal/common/api"
)

// Handler exposes the operator sweep endpoint.
type Handler struct {
	sweeper *Sweeper
}

// NewHandler creates a reconcile HTTP handler.
func NewHandler(sweeper *Sweeper) *Handler {
	return &Handler{sweeper: sweeper}
}

// RunSweep handles POST /ops/reconcile. An empty body runs with
// defaults.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var params Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		api.BadRequest(w, "invalid sweep parameters")
		return
	}

	report, err := h.sweeper.Run(r.Context(), params)
	if err != nil {
		api.InternalError(w, "sweep failed")
		return
	}

	api.WriteData(w, http.StatusOK, report)
}
