package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"cardops/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	log    logrus.FieldLogger
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string, log logrus.FieldLogger) http.Handler {
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(1 << 20))
		r.Post("/api/inventory/lots", h.apiAddLot)
		r.Get("/api/inventory/stock", h.apiStock)
		r.Get("/api/inventory/variants/{id}/transactions", h.apiTransactions)
		r.Post("/api/storefront/reconcile", h.apiReconcile)
		r.Post("/api/prices/update", h.apiUpdatePrices)
	})

	// uploads
	r.With(middleware.RequestSize(20<<20)).Post("/api/inventory/batches", h.apiIngestBatch)

	h.router = r
	return r
}

// health reports that the process is up.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// decodeJSON decodes the body into v. On failure it writes a 413 for an
// oversized body or a 400 otherwise, and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
