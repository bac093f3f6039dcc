package web

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cardops/internal/adapters/csvfile"
	"cardops/internal/app"
	"cardops/internal/core"

	"github.com/go-chi/chi/v5"
)

// flexString accepts a JSON string or a bare number, so clients can send
// "quantity": 2 as well as "quantity": "2". The value is validated downstream.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

type lotPayload struct {
	CardName   flexString `json:"card_name"`
	SetCode    flexString `json:"set_code"`
	CardNumber flexString `json:"card_number"`
	Condition  flexString `json:"condition"`
	Quantity   flexString `json:"quantity"`
	UnitCost   flexString `json:"unit_cost"`
	Source     flexString `json:"source"`
	Notes      flexString `json:"notes"`
}

// apiAddLot handles POST /api/inventory/lots. A persisted lot returns 201, a
// rejected one 422 with the outcome explaining why.
func (h *Handler) apiAddLot(w http.ResponseWriter, r *http.Request) {
	var p lotPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	res, err := h.svc.AddLot(r.Context(), app.AddLotRequest{
		CardName:   string(p.CardName),
		SetCode:    string(p.SetCode),
		CardNumber: string(p.CardNumber),
		Condition:  string(p.Condition),
		Quantity:   string(p.Quantity),
		UnitCost:   string(p.UnitCost),
		Source:     string(p.Source),
		Notes:      string(p.Notes),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Outcome.State == core.StateRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, status, res.Outcome)
}

type batchResponse struct {
	BatchID          string            `json:"batch_id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Cancelled        bool              `json:"cancelled,omitempty"`
	Summary          core.BatchSummary `json:"summary"`
	ValidationErrors int               `json:"validation_errors"`
	FailedRows       int               `json:"failed_rows"`
	Outcomes         []core.Outcome    `json:"outcomes"`
}

// apiIngestBatch handles POST /api/inventory/batches. The body is the CSV
// upload. With Accept: text/csv the response is the failed-rows file, ready
// to be corrected and posted again; otherwise it is the JSON report.
func (h *Handler) apiIngestBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.IngestCSV(r.Context(), app.IngestRequest{Source: r.Body, Name: "upload"})
	if err != nil && (res == nil || !errors.Is(err, core.ErrCancelled)) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "upload too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	report := res.Report
	w.Header().Set("X-Batch-ID", report.BatchID)

	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="failed-`+report.BatchID+`.csv"`)
		if _, err := csvfile.WriteFailedRows(w, res.Header, report); err != nil {
			requestLog(r, h.log).WithError(err).Warn("failed to write failed rows")
		}
		return
	}

	writeJSON(w, batchResponse{
		BatchID:          report.BatchID,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
		Cancelled:        err != nil,
		Summary:          report.Summary,
		ValidationErrors: len(report.ValidationErrors()),
		FailedRows:       len(report.FailedRows()),
		Outcomes:         report.Outcomes,
	})
}

func wantsCSV(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "text/csv" {
			return true
		}
	}
	return false
}

// apiStock handles GET /api/inventory/stock?set=swsh1&in_stock=true.
func (h *Handler) apiStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inStock, _ := strconv.ParseBool(q.Get("in_stock"))
	res, err := h.svc.StockLevels(r.Context(), app.StockRequest{SetCode: q.Get("set"), InStockOnly: inStock})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiTransactions handles GET /api/inventory/variants/{id}/transactions.
func (h *Handler) apiTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid variant id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, r, "invalid limit", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}
	res, err := h.svc.History(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiReconcile handles POST /api/storefront/reconcile?dry_run=true.
func (h *Handler) apiReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	report, err := h.svc.Reconcile(r.Context(), dryRun)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// apiUpdatePrices handles POST /api/prices/update.
func (h *Handler) apiUpdatePrices(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.UpdatePrices(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, report)
}
