package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/pavelanni/answergrader/internal/embedding"
	"github.com/pavelanni/answergrader/internal/exam"
	"github.com/pavelanni/answergrader/internal/metrics"
	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/scoring"
	"github.com/pavelanni/answergrader/internal/store"
	"github.com/pavelanni/answergrader/internal/textnorm"
)

const defaultEmbeddingTimeout = 10 * time.Second

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver := store.Driver(strings.ToLower(v.GetString("db-driver")))
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func examConfig(v *viper.Viper) (model.ExamConfig, error) {
	cfg := model.ExamConfig{
		SampleSize:      v.GetInt("sample-size"),
		SyntacticWeight: v.GetFloat64("weight-syntactic"),
		SemanticWeight:  v.GetFloat64("weight-semantic"),
		PassThreshold:   v.GetFloat64("pass-threshold"),
		EmbeddingPolicy: model.EmbeddingPolicy(strings.ToLower(strings.TrimSpace(v.GetString("embedding-policy")))),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid scoring configuration: %w", err)
	}
	return cfg, nil
}

func normalizer(v *viper.Viper) (*textnorm.Normalizer, error) {
	tag, err := language.Parse(v.GetString("text-lang"))
	if err != nil {
		return nil, fmt.Errorf("parse text-lang: %w", err)
	}
	tok, err := textnorm.TokenizerByName(v.GetString("tokenizer"))
	if err != nil {
		return nil, err
	}
	opts := []textnorm.Option{textnorm.WithLanguage(tag), textnorm.WithTokenizer(tok)}

	if path := v.GetString("stopwords-file"); path != "" {
		sw, err := textnorm.LoadLexiconFile(path, tag)
		if err != nil {
			slog.Warn("stopword lexicon unavailable, using built-in list", "path", path, "error", err)
			sw = textnorm.FallbackStopwords()
		}
		opts = append(opts, textnorm.WithStopwords(sw))
	}
	return textnorm.New(opts...), nil
}

func embeddingConfig(v *viper.Viper) embedding.Config {
	return embedding.Config{
		Provider:  v.GetString("embedding-provider"),
		BaseURL:   v.GetString("embedding-url"),
		APIKey:    v.GetString("embedding-key"),
		Model:     v.GetString("embedding-model"),
		Timeout:   v.GetDuration("embedding-timeout"),
		RateLimit: v.GetFloat64("embedding-rate"),
		Burst:     v.GetInt("embedding-burst"),
		CacheSize: v.GetInt("embedding-cache-size"),
		RedisURL:  v.GetString("redis-url"),
		CacheTTL:  v.GetDuration("embedding-cache-ttl"),
	}
}

// grader bundles everything needed to score answers.
type grader struct {
	svc      *exam.Service
	embedder *embedding.Client
}

func (g *grader) Close() error {
	return g.embedder.Close()
}

func newGrader(ctx context.Context, v *viper.Viper, db exam.Store, m *metrics.Manager) (*grader, error) {
	cfg, err := examConfig(v)
	if err != nil {
		return nil, err
	}
	norm, err := normalizer(v)
	if err != nil {
		return nil, err
	}
	emb, err := embedding.New(ctx, embeddingConfig(v), m)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	svc, err := exam.NewService(db,
		scoring.NewSyntacticScorer(norm),
		scoring.NewSemanticScorer(emb),
		cfg,
		exam.WithMetrics(m),
		exam.WithSampleTTL(v.GetDuration("sample-ttl")),
	)
	if err != nil {
		emb.Close()
		return nil, err
	}
	slog.Info("scoring configured",
		"sample_size", cfg.SampleSize,
		"weight_syntactic", cfg.SyntacticWeight,
		"weight_semantic", cfg.SemanticWeight,
		"pass_threshold", cfg.PassThreshold,
		"embedding_policy", cfg.EmbeddingPolicy,
		"tokenizer", norm.Tokenizer(),
	)
	return &grader{svc: svc, embedder: emb}, nil
}

// loadQuestions imports each questions file once, tracked by content hash.
func loadQuestions(ctx context.Context, db *store.Store, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return total, fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to keep graded attempts consistent",
				"path", path)
			continue
		}

		var questions []model.QuestionImport
		if err := json.Unmarshal(data, &questions); err != nil {
			return total, fmt.Errorf("parse %s: %w", path, err)
		}

		for i, qi := range questions {
			if strings.TrimSpace(qi.Prompt) == "" || strings.TrimSpace(qi.ReferenceAnswer) == "" {
				return total, fmt.Errorf("%s: question %d needs a prompt and a reference answer", path, i+1)
			}
		}
		for _, qi := range questions {
			_, err := db.InsertQuestion(ctx, model.Question{
				Prompt:          qi.Prompt,
				ReferenceAnswer: qi.ReferenceAnswer,
				Topic:           qi.Topic,
			})
			if err != nil {
				return total, fmt.Errorf("insert question from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return total, fmt.Errorf("record import for %s: %w", path, err)
		}
		total += len(questions)
		slog.Info("imported questions", "path", path, "count", len(questions))
	}
	return total, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
