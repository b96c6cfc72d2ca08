package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/services"
)

// EvaluateLineRequest is the body of POST /api/evaluate.
type EvaluateLineRequest struct {
	InvoiceLineID    int64    `json:"invoice_line_id"`
	ListID           *int64   `json:"list_id,omitempty"`
	TolerancePercent *float64 `json:"tolerance_percent,omitempty"`
}

// EvaluateDocumentRequest is the optional body of POST /api/documents/{id}/evaluate.
type EvaluateDocumentRequest struct {
	ListID           *int64   `json:"list_id,omitempty"`
	TolerancePercent *float64 `json:"tolerance_percent,omitempty"`
}

// MatchingHandler exposes match resolution and price evaluation.
type MatchingHandler struct {
	evaluation services.EvaluationService
	logger     *zap.Logger
}

// NewMatchingHandler creates a new matching handler.
func NewMatchingHandler(evaluation services.EvaluationService, logger *zap.Logger) *MatchingHandler {
	return &MatchingHandler{
		evaluation: evaluation,
		logger:     logger.Named("matching-handler"),
	}
}

// RegisterRoutes registers the matching handler's routes on the given mux.
func (h *MatchingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/resolve", h.Resolve)
	mux.HandleFunc("POST /api/evaluate", h.EvaluateLine)
	mux.HandleFunc("POST /api/documents/{id}/evaluate", h.EvaluateDocument)
}

// Resolve handles POST /api/resolve.
// Returns the best match without persisting a verdict; data is null when
// nothing clears the acceptance floor.
func (h *MatchingHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req services.ResolveRequest
	if !decodeJSON(w, r, &req, false, h.logger) {
		return
	}

	match, err := h.evaluation.Resolve(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "Resolve", err)
		return
	}

	message := ""
	if match == nil {
		message = "No matching list row"
	}
	writeData(w, h.logger, http.StatusOK, match, message)
}

// EvaluateLine handles POST /api/evaluate.
func (h *MatchingHandler) EvaluateLine(w http.ResponseWriter, r *http.Request) {
	var req EvaluateLineRequest
	if !decodeJSON(w, r, &req, false, h.logger) {
		return
	}
	if req.InvoiceLineID <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_invoice_line_id", "invoice_line_id is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	check, err := h.evaluation.EvaluateLine(r.Context(), req.InvoiceLineID, scopeOf(req.ListID), req.TolerancePercent)
	if err != nil {
		writeServiceError(w, h.logger, "Evaluate line", err)
		return
	}

	writeData(w, h.logger, http.StatusOK, check, "")
}

// EvaluateDocument handles POST /api/documents/{id}/evaluate.
// An aborted run still returns the partial summary alongside the error.
func (h *MatchingHandler) EvaluateDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	var req EvaluateDocumentRequest
	if !decodeJSON(w, r, &req, true, h.logger) {
		return
	}

	summary, err := h.evaluation.EvaluateDocument(r.Context(), documentID, scopeOf(req.ListID), req.TolerancePercent)
	if err != nil {
		status, code := errorStatus(err)
		h.logger.Error("Document evaluation aborted",
			zap.Int64("document_id", documentID),
			zap.Error(err))
		if err := WriteJSON(w, status, ApiResponse{
			Success: false,
			Data:    summary,
			Error:   code,
			Message: err.Error(),
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	writeData(w, h.logger, http.StatusOK, summary, "")
}

func scopeOf(listID *int64) models.ListScope {
	if listID == nil {
		return models.AllActiveLists()
	}
	return models.SingleList(*listID)
}
