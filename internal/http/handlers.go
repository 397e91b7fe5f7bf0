package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-snapshot-service/internal/cache"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store  *cache.Store
	logger *zap.Logger
}

// NewHandler returns a new Handler reading from store.
func NewHandler(store *cache.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// GetData handles GET /data. It reports cache state, not upstream health, so the status
// is always 200.
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	body, err := json.Marshal(snap)
	if err != nil {
		loggerFromRequest(r, h.logger).Error("encode snapshot", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

// NewRouter builds the public router: GET /data behind correlation-ID and metrics middleware.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/data", h.GetData).Methods(http.MethodGet)
	return router
}
