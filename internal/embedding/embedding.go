// Package embedding provides sentence-embedding backends for semantic
// scoring, plus caching and rate-limiting decorators.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/answergrader/internal/metrics"
)

const (
	ProviderOpenAI      = "openai"
	ProviderGemini      = "gemini"
	ProviderHuggingFace = "huggingface"
)

// Provider is a named embedding backend.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Config selects and tunes a backend.
type Config struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	RateLimit float64 // calls per second, 0 = unlimited
	Burst     int
	CacheSize int    // in-memory LRU entries, 0 disables
	RedisURL  string // redis://host:port/db, takes precedence over CacheSize
	CacheTTL  time.Duration
}

// Client is the process-wide embedder: created once at start-up and shared
// by every request.
type Client struct {
	Provider
	base    Provider
	closers []io.Closer
}

// New builds the provider named in cfg and wraps it with the configured
// cache and limiter.
func New(ctx context.Context, cfg Config, m *metrics.Manager) (*Client, error) {
	var (
		base    Provider
		closers []io.Closer
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		base = NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		base = g
		closers = append(closers, g)
	case ProviderHuggingFace:
		base = NewHuggingFace(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	var p Provider = NewLimited(base, cfg.RateLimit, cfg.Burst, cfg.Timeout, m)

	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis embedding cache unreachable", "error", err)
		}
		closers = append(closers, rdb)
		p = NewCached(p, NewRedisCache(rdb, cfg.CacheTTL), cfg.Model, m)
	case cfg.CacheSize > 0:
		p = NewCached(p, NewMemoryCache(cfg.CacheSize), cfg.Model, m)
	}

	slog.Info("embedding provider ready", "provider", base.Name(), "model", cfg.Model)
	return &Client{Provider: p, base: base, closers: closers}, nil
}

// Ping checks the backend when it supports a cheap health call.
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.base.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases backend connections.
func (c *Client) Close() error {
	return closeAll(c.closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, cl := range closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
