package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/models"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/services"
)

const learningDisabledMessage = "Learning is disabled; judgement not recorded"

// AssociationsHandler exposes the learning feedback loop.
type AssociationsHandler struct {
	learning services.LearningService
	logger   *zap.Logger
}

// NewAssociationsHandler creates a new associations handler.
func NewAssociationsHandler(learning services.LearningService, logger *zap.Logger) *AssociationsHandler {
	return &AssociationsHandler{
		learning: learning,
		logger:   logger.Named("associations-handler"),
	}
}

// RegisterRoutes registers the associations handler's routes on the given mux.
func (h *AssociationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/associations/confirm", h.Confirm)
	mux.HandleFunc("POST /api/associations/reject", h.Reject)
	mux.HandleFunc("GET /api/associations", h.List)
	mux.HandleFunc("GET /api/associations/stats", h.Statistics)
	mux.HandleFunc("DELETE /api/associations/{id}", h.Delete)
}

// Confirm handles POST /api/associations/confirm.
func (h *AssociationsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, true)
}

// Reject handles POST /api/associations/reject.
func (h *AssociationsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, false)
}

func (h *AssociationsHandler) save(w http.ResponseWriter, r *http.Request, verdict bool) {
	var req services.AssociationRequest
	if !decodeJSON(w, r, &req, false, h.logger) {
		return
	}

	var (
		a   *models.VerifiedAssociation
		err error
	)
	if verdict {
		a, err = h.learning.ConfirmMatch(r.Context(), req)
	} else {
		a, err = h.learning.RejectMatch(r.Context(), req)
	}
	if err != nil {
		writeServiceError(w, h.logger, "Save association", err)
		return
	}

	if a == nil {
		writeData(w, h.logger, http.StatusOK, nil, learningDisabledMessage)
		return
	}
	writeData(w, h.logger, http.StatusOK, a, "")
}

// List handles GET /api/associations.
// Query params: description, list_id, only_correct (default true).
func (h *AssociationsHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.AssociationFilter

	if d := r.URL.Query().Get("description"); d != "" {
		filter.InvoiceDescription = &d
	}

	listID, ok := queryInt64(r, "list_id")
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_list_id", "list_id must be an integer"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	filter.PriceListID = listID

	onlyCorrect, ok := queryBool(r, "only_correct", true)
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_only_correct", "only_correct must be a boolean"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	filter.IncludeRejected = !onlyCorrect

	associations, err := h.learning.GetVerified(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "List associations", err)
		return
	}

	writeData(w, h.logger, http.StatusOK, associations, "")
}

// Delete handles DELETE /api/associations/{id}.
func (h *AssociationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseAssociationID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.learning.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, "Delete association", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Statistics handles GET /api/associations/stats.
func (h *AssociationsHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.learning.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "Association statistics", err)
		return
	}

	writeData(w, h.logger, http.StatusOK, stats, "")
}
