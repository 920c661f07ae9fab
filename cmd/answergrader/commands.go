package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/answergrader/internal/export"
	appI18n "github.com/pavelanni/answergrader/internal/i18n"
	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/report"
	"github.com/pavelanni/answergrader/internal/scoring"
	"github.com/pavelanni/answergrader/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import questions with reference answers from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := loadQuestions(ctx, db, args)
	if err != nil {
		return err
	}
	total, err := db.QuestionCount(ctx)
	if err != nil {
		return err
	}
	topics, err := db.ListDistinctTopics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions, %d in pool, topics: %v\n", n, total, topics)
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier for output (required)")
	f.String("subject", "", "Subject name for output (required)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("minio-endpoint", "", "Upload to this S3-compatible endpoint instead of writing a file")
	f.String("minio-access-key", "", "S3 access key")
	f.String("minio-secret-key", "", "S3 secret key")
	f.String("minio-bucket", "answergrader-exports", "S3 bucket")
	f.String("minio-prefix", "", "S3 object key prefix")
	f.Bool("minio-ssl", true, "Use TLS for the S3 endpoint")
	f.Float64("pass-threshold", 75, "Pass threshold used if none was recorded by the server")
	addStoreFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if _, err := time.Parse(time.DateOnly, v.GetString("date")); err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, agg, err := recordedScoring(ctx, db, v.GetFloat64("pass-threshold"))
	if err != nil {
		return err
	}

	results, err := db.ExportResults(ctx, agg.Classify)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	now := time.Now().UTC()
	doc := model.ExamExport{
		ExamID:   v.GetString("exam-id"),
		Subject:  v.GetString("subject"),
		Date:     v.GetString("date"),
		Config:   cfg,
		Results:  results,
		Exported: now,
	}
	data, err := export.Marshal(doc)
	if err != nil {
		return err
	}

	sink, err := exportSink(ctx, cmd, v.GetString("output"), export.MinioConfig{
		Endpoint:  v.GetString("minio-endpoint"),
		AccessKey: v.GetString("minio-access-key"),
		SecretKey: v.GetString("minio-secret-key"),
		Bucket:    v.GetString("minio-bucket"),
		Prefix:    v.GetString("minio-prefix"),
		UseSSL:    v.GetBool("minio-ssl"),
	})
	if err != nil {
		return err
	}
	loc, err := sink.Put(ctx, export.ObjectName(doc.ExamID, now), data)
	if err != nil {
		return err
	}
	slog.Info("exported results", "students", len(results), "location", loc)
	return nil
}

// recordedScoring returns the scoring parameters the server last ran with
// and an aggregator over them. Without a record the defaults apply with the
// given pass threshold.
func recordedScoring(ctx context.Context, db *store.Store, threshold float64) (model.ExportConfig, *scoring.Aggregator, error) {
	cfg, ok, err := db.GetExportConfig(ctx)
	if err != nil {
		return cfg, nil, fmt.Errorf("read scoring configuration: %w", err)
	}
	if !ok {
		def := model.DefaultExamConfig()
		cfg = model.ExportConfig{
			SyntacticWeight: def.SyntacticWeight,
			SemanticWeight:  def.SemanticWeight,
			PassThreshold:   threshold,
			EmbeddingPolicy: def.EmbeddingPolicy,
		}
		slog.Warn("no recorded scoring configuration, using defaults", "pass_threshold", threshold)
	}
	agg, err := scoring.NewAggregator(model.ExamConfig{
		SampleSize:      1,
		SyntacticWeight: cfg.SyntacticWeight,
		SemanticWeight:  cfg.SemanticWeight,
		PassThreshold:   cfg.PassThreshold,
		EmbeddingPolicy: cfg.EmbeddingPolicy,
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("recorded scoring configuration: %w", err)
	}
	return cfg, agg, nil
}

func exportSink(ctx context.Context, cmd *cobra.Command, output string, mc export.MinioConfig) (export.Sink, error) {
	if mc.Endpoint != "" {
		return export.NewMinioSink(ctx, mc)
	}
	if output == "" || output == "-" {
		return export.WriterSink{W: cmd.OutOrStdout()}, nil
	}
	return export.FileSink{Path: output}, nil
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print every graded student's result",
		RunE:  runResults,
	}
	f := cmd.Flags()
	f.Float64("pass-threshold", 75, "Pass threshold used if none was recorded by the server")
	addStoreFlags(f)
	addLogFlags(f)
	return cmd
}

func runResults(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	_, agg, err := recordedScoring(ctx, db, v.GetFloat64("pass-threshold"))
	if err != nil {
		return err
	}

	results, err := db.ListResults(ctx)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	for i := range results {
		results[i].Verdict = agg.Classify(results[i].AverageScore)
	}
	report.Results(appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(v.GetString("lang"))), cmd.OutOrStdout(), results)
	return nil
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score ANSWER",
		Short: "Score one answer without recording it",
		Args:  cobra.ExactArgs(1),
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.Int64("question-id", 0, "Score against this stored question")
	f.String("reference", "", "Score against this reference answer instead of a stored question")
	addStoreFlags(f)
	addLogFlags(f)
	addScoringFlags(f)
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	q := model.Question{ReferenceAnswer: v.GetString("reference")}
	if id := v.GetInt64("question-id"); id != 0 {
		q, err = db.GetQuestion(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("question %d not found", id)
		}
		if err != nil {
			return err
		}
	}
	if q.ReferenceAnswer == "" {
		return errors.New("either --question-id or --reference is required")
	}

	g, err := newGrader(ctx, v, db, nil)
	if err != nil {
		return err
	}
	defer g.Close()

	sc, err := g.svc.ScoreAnswer(ctx, q, args[0])
	if err != nil {
		return err
	}
	report.Score(appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(v.GetString("lang"))), cmd.OutOrStdout(), sc)
	return nil
}
