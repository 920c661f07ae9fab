package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/pavelanni/answergrader/internal/model"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM exam_metadata WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetExportConfig records the scoring parameters in effect.
func (s *Store) SetExportConfig(ctx context.Context, cfg model.ExportConfig) error {
	pairs := []struct{ k, v string }{
		{"weight_syntactic", strconv.FormatFloat(cfg.SyntacticWeight, 'g', -1, 64)},
		{"weight_semantic", strconv.FormatFloat(cfg.SemanticWeight, 'g', -1, 64)},
		{"pass_threshold", strconv.FormatFloat(cfg.PassThreshold, 'g', -1, 64)},
		{"embedding_policy", string(cfg.EmbeddingPolicy)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(ctx, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetExportConfig reads the recorded scoring parameters. ok is false when
// nothing was recorded yet.
func (s *Store) GetExportConfig(ctx context.Context) (cfg model.ExportConfig, ok bool, err error) {
	floats := []struct {
		key string
		dst *float64
	}{
		{"weight_syntactic", &cfg.SyntacticWeight},
		{"weight_semantic", &cfg.SemanticWeight},
		{"pass_threshold", &cfg.PassThreshold},
	}
	for _, f := range floats {
		v, err := s.GetMetadata(ctx, f.key)
		if err != nil {
			return cfg, false, err
		}
		if v == "" {
			return cfg, false, nil
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, false, err
		}
	}
	policy, err := s.GetMetadata(ctx, "embedding_policy")
	if err != nil {
		return cfg, false, err
	}
	cfg.EmbeddingPolicy = model.EmbeddingPolicy(policy)
	return cfg, true, nil
}

// GetImportedFileHash returns the hash recorded for path, or "" if the file
// was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = $1`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported questions file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET hash = excluded.hash`,
		path, hash,
	)
	return err
}
