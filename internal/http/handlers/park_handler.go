package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"parkgate/internal/http/middleware"
	"parkgate/internal/models"
	"parkgate/internal/service"
)

// ParkHandler holds the user-facing session endpoints.
type ParkHandler struct {
	svc    *service.ParkingService
	logger *zap.Logger
}

// NewParkHandler builds handler set.
func NewParkHandler(svc *service.ParkingService, logger *zap.Logger) *ParkHandler {
	return &ParkHandler{
		svc:    svc,
		logger: logger,
	}
}

type parkRequest struct {
	Plate   string `json:"plate"`
	Minutes int64  `json:"minutes"`
}

type unparkRequest struct {
	Plate string `json:"plate"`
}

// HandlePark handles POST /park.
func (h *ParkHandler) HandlePark(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req parkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Plate == "" {
		writeError(w, http.StatusBadRequest, "plate is required")
		return
	}

	session, err := h.svc.Park(r.Context(), service.ParkInput{
		UserID:  userID,
		Plate:   req.Plate,
		Minutes: req.Minutes,
	})
	if err != nil {
		if errors.Is(err, service.ErrAlreadyParked) {
			writeError(w, http.StatusConflict, "plate already has an active session")
			return
		}
		h.logger.Error("park failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to park")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/park/%s", session.Plate))
	writeJSON(w, http.StatusCreated, session)
}

// HandleUnpark handles POST /unpark.
func (h *ParkHandler) HandleUnpark(w http.ResponseWriter, r *http.Request) {
	var req unparkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Plate == "" {
		writeError(w, http.StatusBadRequest, "plate is required")
		return
	}

	receipt, err := h.svc.Unpark(r.Context(), req.Plate)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "no active session for plate")
			return
		}
		h.logger.Error("unpark failed", zap.String("plate", req.Plate), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unpark")
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// HandleFind handles GET /park?plate=&status=.
func (h *ParkHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	plate := r.URL.Query().Get("plate")
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && status != models.StatusActive && status != models.StatusClosed {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	sessions, err := h.svc.FindSessions(r.Context(), plate, status)
	if err != nil {
		h.logger.Error("session query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}
