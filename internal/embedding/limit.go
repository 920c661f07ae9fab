package embedding

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/pavelanni/answergrader/internal/metrics"
	"github.com/pavelanni/answergrader/internal/tracing"
)

// Limited bounds every provider call with a rate limiter and a timeout.
type Limited struct {
	next    Provider
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Manager
}

// NewLimited allows perSecond calls with the given burst. A non-positive
// perSecond disables rate limiting; a non-positive timeout disables the
// per-call deadline.
func NewLimited(next Provider, perSecond float64, burst int, timeout time.Duration, m *metrics.Manager) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		metrics: m,
	}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracing.Tracer().Start(ctx, "embedding.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", l.next.Name()),
		attribute.Int("embedding.text_length", len(text)),
	)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limited")
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	vec, err := l.next.Embed(ctx, text)
	l.metrics.RecordEmbedding(l.next.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("embedding.dimensions", len(vec)))
	return vec, nil
}
