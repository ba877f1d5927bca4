package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// JobRunner starts and cancels background extraction runs
type JobRunner interface {
	Start(userEmail string) bool
	Cancel(userEmail string) bool
}

// ExtractRequest is the body of POST /extract
type ExtractRequest struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
}

// ExtractAccepted is the 202 response of POST /extract
type ExtractAccepted struct {
	Status    string `json:"status"`
	UserEmail string `json:"userEmail"`
	Message   string `json:"message"`
}

// ExtractHandler serves the extraction trigger and status API
type ExtractHandler struct {
	store    interfaces.StatusStorage
	results  interfaces.ResultSink
	runner   JobRunner
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewExtractHandler creates the handler. events may be nil.
func NewExtractHandler(store interfaces.StatusStorage, results interfaces.ResultSink, runner JobRunner, events interfaces.EventService, logger arbor.ILogger) *ExtractHandler {
	return &ExtractHandler{
		store:    store,
		results:  results,
		runner:   runner,
		events:   events,
		validate: validator.New(),
		logger:   logger,
	}
}

// NormalizeEmail trims and lower-cases so one user maps to one job key
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// startable admits a trigger for a new key or a finished job
func startable(current *models.ExtractionJob) bool {
	return current == nil || current.Status.IsTerminal()
}

// StartHandler handles POST /extract
func (h *ExtractHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserEmail = NormalizeEmail(req.UserEmail)
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "userEmail must be a valid email address")
		return
	}

	ctx := r.Context()
	queued, err := h.store.CompareAndSwap(ctx, req.UserEmail, startable, models.StatusUpdate{
		Status:  models.JobStatusStarting,
		Message: "Extraction queued",
		Fresh:   true,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", req.UserEmail).Msg("Failed to queue extraction")
		WriteError(w, http.StatusInternalServerError, "Failed to queue extraction")
		return
	}

	if !queued {
		current, err := h.store.Get(ctx, req.UserEmail)
		if err != nil {
			WriteError(w, http.StatusConflict, "Extraction already in progress")
			return
		}
		WriteJSON(w, http.StatusConflict, current)
		return
	}

	h.publishStatus(r, req.UserEmail)

	if !h.runner.Start(req.UserEmail) {
		// No run owns the queued record, so close it rather than leave it starting
		released, err := h.store.CompareAndSwap(ctx, req.UserEmail, func(current *models.ExtractionJob) bool {
			return current != nil && current.Status == models.JobStatusStarting && current.RunID == ""
		}, models.StatusUpdate{
			Status:  models.JobStatusError,
			Message: "server shutting down",
		})
		if err != nil {
			h.logger.Error().Err(err).Str("user_email", req.UserEmail).Msg("Failed to release queued extraction")
		} else if released {
			h.publishStatus(r, req.UserEmail)
		}
		WriteError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	h.logger.Info().Str("user_email", req.UserEmail).Msg("Extraction accepted")

	WriteJSON(w, http.StatusAccepted, ExtractAccepted{
		Status:    "accepted",
		UserEmail: req.UserEmail,
		Message:   fmt.Sprintf("Extraction started for %s", req.UserEmail),
	})
}

// userEmailFromPath reads {userEmail} from /extract/{userEmail}[/suffix]
func (h *ExtractHandler) userEmailFromPath(w http.ResponseWriter, r *http.Request, suffix string) (string, bool) {
	key := strings.TrimPrefix(r.URL.Path, "/extract/")
	key = strings.TrimSuffix(key, suffix)
	key = NormalizeEmail(strings.Trim(key, "/"))

	if key == "" {
		WriteError(w, http.StatusBadRequest, "userEmail is required")
		return "", false
	}
	if err := h.validate.Var(key, "email"); err != nil {
		WriteError(w, http.StatusBadRequest, "userEmail must be a valid email address")
		return "", false
	}
	return key, true
}

// StatusHandler handles GET /extract/{userEmail}
func (h *ExtractHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := h.userEmailFromPath(w, r, "")
	if !ok {
		return
	}

	job, err := h.store.Get(r.Context(), userEmail)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "No extraction found for "+userEmail)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", userEmail).Msg("Failed to read job status")
		WriteError(w, http.StatusInternalServerError, "Failed to read job status")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelHandler handles DELETE /extract/{userEmail}: an in-flight run is cancelled
// and recorded as error, a finished record is deleted
func (h *ExtractHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := h.userEmailFromPath(w, r, "")
	if !ok {
		return
	}
	ctx := r.Context()

	cancelled, err := h.store.CompareAndSwap(ctx, userEmail, func(current *models.ExtractionJob) bool {
		return current != nil && current.Status.IsActive()
	}, models.StatusUpdate{
		Status:  models.JobStatusError,
		Message: "cancelled",
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", userEmail).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	if cancelled {
		// The status write comes first so the run sees itself superseded and stops writing
		h.runner.Cancel(userEmail)
		h.publishStatus(r, userEmail)
		h.logger.Info().Str("user_email", userEmail).Msg("Extraction cancelled")

		job, err := h.store.Get(ctx, userEmail)
		if err != nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "userEmail": userEmail})
			return
		}
		WriteJSON(w, http.StatusOK, job)
		return
	}

	err = h.store.Delete(ctx, userEmail)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "No extraction found for "+userEmail)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", userEmail).Msg("Failed to delete job")
		WriteError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "userEmail": userEmail})
}

// OrdersHandler handles GET /extract/{userEmail}/orders
func (h *ExtractHandler) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userEmail, ok := h.userEmailFromPath(w, r, "/orders")
	if !ok {
		return
	}

	stored, err := h.results.Latest(r.Context(), userEmail)
	if errors.Is(err, interfaces.ErrResultNotFound) {
		WriteError(w, http.StatusNotFound, "No orders stored for "+userEmail)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", userEmail).Msg("Failed to read orders")
		WriteError(w, http.StatusInternalServerError, "Failed to read orders")
		return
	}

	WriteJSON(w, http.StatusOK, stored)
}

func (h *ExtractHandler) publishStatus(r *http.Request, userEmail string) {
	if h.events == nil {
		return
	}
	job, err := h.store.Get(r.Context(), userEmail)
	if err != nil {
		return
	}
	if err := h.events.Publish(r.Context(), interfaces.Event{Type: interfaces.EventJobStatusChanged, Payload: *job}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to publish status event")
	}
}
