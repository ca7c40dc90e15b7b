package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/live-notifier/telemetry"
)

// HandleAdminSweep runs one sweep synchronously and returns its summary.
func (h *Handlers) HandleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("manual sweep failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
