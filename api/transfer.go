package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/yashasviy/guarded-transfers-api/engine"
	"github.com/yashasviy/guarded-transfers-api/models"
)

// maxBodyBytes caps the transfer request body.
const maxBodyBytes = 1 << 16

// Transferer is the engine as seen by the HTTP layer.
type Transferer interface {
	Submit(ctx context.Context, a models.TransferAttempt) (*models.TransferResult, error)
}

// TransferHandler moves money between two existing accounts. Only a body that
// is not a JSON object is refused here; field types are checked by the engine
// after the attempt has been counted.
func TransferHandler(eng Transferer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var attempt models.TransferAttempt
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&attempt); err != nil {
			logger.Debug("undecodable transfer body", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error:   string(engine.KindInvalidInput),
				Message: "required parameters not passed",
			})
			return
		}

		res, err := eng.Submit(r.Context(), attempt)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// InitDBHandler (re)creates the schema. It is safe to call repeatedly.
func InitDBHandler(initialize func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := initialize(r.Context()); err != nil {
			logger.Error("database initialization failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
				Error:   string(engine.KindInternal),
				Message: "database initialization failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Database initialized successfully"})
	}
}
