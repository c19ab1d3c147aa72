package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type healthchecker struct {
	check  func(ctx context.Context) error
	logger *slog.Logger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			h.logger.Error("warm store health check failed", "err", err)
			writeError(w, http.StatusInternalServerError, "warm store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, check func(ctx context.Context) error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &healthchecker{check: check, logger: logger}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
