package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pavelanni/answergrader/internal/exam"
	appI18n "github.com/pavelanni/answergrader/internal/i18n"
	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/scoring"
)

type errorResponse struct {
	Error   string                `json:"error"`
	Skipped []model.SkippedAnswer `json:"skipped,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps workflow errors to status codes and localized messages.
// skipped lists the rejected entries of a submission, if any.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, skipped ...model.SkippedAnswer) {
	ctx := r.Context()
	var (
		status = http.StatusInternalServerError
		msgID  = "InternalError"
	)
	switch {
	case errors.Is(err, exam.ErrMissingStudent):
		status, msgID = http.StatusUnauthorized, "MissingStudent"
	case errors.Is(err, exam.ErrNoAnswers):
		status, msgID = http.StatusUnprocessableEntity, "NoAnswers"
	case errors.Is(err, scoring.ErrEmbeddingUnavailable):
		status, msgID = http.StatusServiceUnavailable, "CouldNotBeGraded"
	case errors.Is(err, exam.ErrPersistence):
		status, msgID = http.StatusServiceUnavailable, "TryAgainLater"
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	case errors.Is(err, exam.ErrPoolTooSmall):
		status, msgID = http.StatusServiceUnavailable, "PoolTooSmall"
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: appI18n.T(ctx, msgID), Skipped: skipped})
}
