// Package handler exposes the exam workflow as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/answergrader/internal/i18n"
	"github.com/pavelanni/answergrader/internal/exam"
	"github.com/pavelanni/answergrader/internal/model"
)

// Exam is the workflow the handlers drive.
type Exam interface {
	Start(ctx context.Context, studentID string) (exam.Start, error)
	Submit(ctx context.Context, studentID string, answers map[int64]string) (exam.Outcome, error)
	Result(ctx context.Context, studentID string) (*model.ExamResult, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exam       Exam
	checks     map[string]Pinger
	retryAfter time.Duration
}

// New creates a new Handler. checks are reported by /healthz.
func New(e Exam, checks map[string]Pinger) *Handler {
	return &Handler{exam: e, checks: checks, retryAfter: 5 * time.Second}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api/exam", func(r chi.Router) {
		r.Use(requireStudent)
		r.Get("/", h.handleStart)
		r.Post("/submit", h.handleSubmit)
		r.Get("/result", h.handleResult)
	})
}

type questionView struct {
	ID     int64  `json:"id"`
	Prompt string `json:"prompt"`
	Topic  string `json:"topic,omitempty"`
}

type examResponse struct {
	State            model.AttemptState    `json:"state"`
	Message          string                `json:"message"`
	Questions        []questionView        `json:"questions,omitempty"`
	Result           *model.ExamResult     `json:"result,omitempty"`
	AlreadyCompleted bool                  `json:"already_completed,omitempty"`
	Skipped          []model.SkippedAnswer `json:"skipped,omitempty"`
}

type submitRequest struct {
	Answers map[int64]string `json:"answers"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, err := h.exam.Start(ctx, StudentFromContext(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := examResponse{State: start.State}
	if start.Result != nil {
		resp.Result = start.Result
		resp.Message = appI18n.GradeSummary(ctx, start.Result.AverageScore, start.Result.Verdict)
	} else {
		// Reference answers never leave the server.
		for _, q := range start.Questions {
			resp.Questions = append(resp.Questions, questionView{ID: q.ID, Prompt: q.Prompt, Topic: q.Topic})
		}
		resp.Message = appI18n.Tp(ctx, "QuestionsIssued", len(resp.Questions))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(ctx, "InvalidRequest")})
		return
	}

	out, err := h.exam.Submit(ctx, StudentFromContext(ctx), req.Answers)
	if err != nil {
		h.writeError(w, r, err, out.Skipped...)
		return
	}

	resp := examResponse{
		State:            model.StateCompleted,
		Result:           out.Result,
		AlreadyCompleted: out.AlreadyCompleted,
		Skipped:          out.Skipped,
	}
	if out.AlreadyCompleted {
		resp.Message = appI18n.T(ctx, "AlreadySubmitted")
	} else {
		resp.Message = appI18n.GradeSummary(ctx, out.Result.AverageScore, out.Result.Verdict)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.exam.Result(ctx, StudentFromContext(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: appI18n.T(ctx, "NotCompleted")})
		return
	}
	writeJSON(w, http.StatusOK, examResponse{
		State:   model.StateCompleted,
		Result:  res,
		Message: appI18n.GradeSummary(ctx, res.AverageScore, res.Verdict),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
