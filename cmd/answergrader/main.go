package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/answergrader/internal/exam"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "answergrader",
		Short:        "Automated scoring of free-text exam answers",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), resultsCmd(), scoreCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `answergrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "answergrader.db", "SQLite path or PostgreSQL connection URL")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
	f.StringP("lang", "l", "en", "Message language (en, id)")
}

func addScoringFlags(f *pflag.FlagSet) {
	f.Int("sample-size", 5, "Questions drawn per student")
	f.Duration("sample-ttl", exam.DefaultSampleTTL, "How long an unsubmitted question sample is remembered (0 = until submit)")
	f.Float64("weight-syntactic", 0.8, "Weight of the edit-distance similarity")
	f.Float64("weight-semantic", 0.2, "Weight of the embedding similarity")
	f.Float64("pass-threshold", 75, "Minimum score (0-100) to pass, inclusive")
	f.String("embedding-policy", "strict", "When embeddings fail: strict aborts, lenient scores syntactic-only")
	f.String("text-lang", "en", "Language of answers, selects the stopword lexicon")
	f.String("tokenizer", "segment", "Preferred tokenizer (segment, simple)")
	f.String("stopwords-file", "", "Stopword lexicon file, one word per line")

	f.String("embedding-provider", "openai", "Embedding backend (openai, gemini, huggingface)")
	f.String("embedding-url", "http://localhost:11434/v1", "Embedding API base URL")
	f.String("embedding-key", "ollama", "Embedding API key")
	f.String("embedding-model", "nomic-embed-text", "Embedding model name")
	f.Duration("embedding-timeout", defaultEmbeddingTimeout, "Timeout of a single embedding call")
	f.Float64("embedding-rate", 0, "Embedding calls per second (0 = unlimited)")
	f.Int("embedding-burst", 4, "Embedding call burst size")
	f.Int("embedding-cache-size", 1024, "In-memory embedding cache entries (0 disables)")
	f.String("redis-url", "", "Redis URL for a shared embedding cache")
	f.Duration("embedding-cache-ttl", 0, "Redis embedding cache TTL (0 = no expiry)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ANSWERGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("answergrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/answergrader")
	v.AddConfigPath("/etc/answergrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}
