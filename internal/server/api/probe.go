package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ayusman/openusage/internal/batch"
)

// BatchStarter starts probe batches.
type BatchStarter interface {
	Start(ctx context.Context, req batch.Request) batch.Started
}

// SelectionSource returns saved account selections.
type SelectionSource interface {
	AccountSelections() (map[string]string, error)
}

// ProbeHandler starts probe batches. Results are delivered on the event
// stream, not in the response.
type ProbeHandler struct {
	batches    BatchStarter
	selections SelectionSource
	logger     *slog.Logger
}

// NewProbeHandler creates a new ProbeHandler. selections may be nil.
func NewProbeHandler(batches BatchStarter, selections SelectionSource, logger *slog.Logger) *ProbeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeHandler{batches: batches, selections: selections, logger: logger}
}

// Start handles POST /api/probe. Requests without accountSelections use the
// saved ones.
func (h *ProbeHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[batch.Request](w, r)
	if !ok {
		return
	}

	if req.AccountSelections == nil && h.selections != nil {
		saved, err := h.selections.AccountSelections()
		if err != nil {
			h.logger.Warn("failed to load saved account selections", "error", err)
		} else {
			req.AccountSelections = saved
		}
	}

	writeJSON(w, http.StatusAccepted, h.batches.Start(r.Context(), req))
}
