package handler

import (
	"context"
	"net/http"
	"strings"

	appI18n "github.com/pavelanni/answergrader/internal/i18n"
)

// StudentHeader carries the identity established by the upstream
// authentication layer.
const StudentHeader = "X-Student-ID"

type studentKey struct{}

// ContextWithStudent stores the student ID in the context.
func ContextWithStudent(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, studentKey{}, studentID)
}

// StudentFromContext returns the student ID, or "" if none is set.
func StudentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(studentKey{}).(string)
	return id
}

// requireStudent rejects requests that carry no student identity.
func requireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(StudentHeader))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: appI18n.T(r.Context(), "MissingStudent")})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithStudent(r.Context(), id)))
	})
}
