package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkgate/internal/http/middleware"
	"parkgate/internal/models"
	"parkgate/internal/repository"
)

// NewReceiptsMeHandler returns GET /receipts/me handler.
func NewReceiptsMeHandler(repo *repository.ReceiptRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}

		receipts, err := repo.ListByUser(r.Context(), userID, 50)
		if err != nil {
			logger.Error("failed to list receipts", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch receipts")
			return
		}
		if receipts == nil {
			receipts = []models.Receipt{}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"receipts": receipts,
		})
	}
}
