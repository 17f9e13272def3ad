package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examkey/internal/api"
	"examkey/internal/config"
	"examkey/internal/llm"
	"examkey/internal/model"
	"examkey/internal/scoring"
	"examkey/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examkey",
		Short: "Answer-key acquisition and scoring engine for hosted exams",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), fetchCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "examkey.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API server",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("backends", "backends.yaml", "Text-generation backends config file")
	f.Int("fetch-workers", 4, "Concurrent answer-key fetches per session")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an exam session payload",
		RunE:  runImport,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("file", "f", "", "Exam payload JSON file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch AI answer keys for a session",
		RunE:  runFetch,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("backends", "backends.yaml", "Text-generation backends config file")
	f.String("session", "", "Session hash id (required)")
	f.Int("fetch-workers", 4, "Concurrent answer-key fetches")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Score all attempts of a session and export the results as JSON",
		RunE:  runExport,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("session", "", "Session hash id (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
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
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examkey")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examkey")
	v.AddConfigPath("/etc/examkey")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// buildFetcher loads the backend chain and wires the fetch orchestrator.
// required controls whether a missing config file is fatal.
func buildFetcher(db *store.Store, path string, workers int, required bool) (*llm.Fetcher, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			slog.Warn("backends config not found, answer-key fetching disabled", "path", path)
			return nil, nil
		}
		return nil, err
	}
	backends, err := llm.NewChain(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("text-generation backends loaded", "count", len(backends), "primary", backends[0].Name())
	return llm.NewFetcher(db, backends, workers), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	fetcher, err := buildFetcher(db, v.GetString("backends"), v.GetInt("fetch-workers"), false)
	if err != nil {
		return fmt.Errorf("configure backends: %w", err)
	}

	h := api.New(db, fetcher)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server", "addr", addr, "db", v.GetString("db"))
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	path := v.GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("payload unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		return fmt.Errorf("%s changed since last import; refusing to re-import over existing sessions", path)
	}

	var imp model.SessionImport
	if err := json.Unmarshal(data, &imp); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	sessionID, err := db.ImportSession(ctx, imp)
	if err != nil {
		return fmt.Errorf("import session: %w", err)
	}
	if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}

	slog.Info("imported session", "hash_id", imp.HashID, "session_id", sessionID, "questions", len(imp.Questions))
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	fetcher, err := buildFetcher(db, v.GetString("backends"), v.GetInt("fetch-workers"), true)
	if err != nil {
		return fmt.Errorf("configure backends: %w", err)
	}

	ctx := context.Background()
	sess, err := db.GetSessionByHash(ctx, v.GetString("session"))
	if err != nil {
		return fmt.Errorf("load session %s: %w", v.GetString("session"), err)
	}

	report, err := fetcher.FetchSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("fetch answer keys: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Println(string(out))

	if len(report.Errors) > 0 {
		slog.Warn("some questions failed", "failed", len(report.Errors), "total", report.Total)
	}
	return nil
}

// attemptResult is one row of the export command's output.
type attemptResult struct {
	AttemptToken string                `json:"attempt_token"`
	DisplayName  string                `json:"display_name"`
	Score        int                   `json:"score"`
	Total        int                   `json:"total"`
	Details      []model.ScoringDetail `json:"details"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	sess, err := db.GetSessionByHash(ctx, v.GetString("session"))
	if err != nil {
		return fmt.Errorf("load session %s: %w", v.GetString("session"), err)
	}

	canonical, explanations, err := db.CanonicalForSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load answer keys: %w", err)
	}
	attempts, err := db.AttemptsForSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}

	results := make([]attemptResult, 0, len(attempts))
	for _, a := range attempts {
		subs, err := store.Submissions(a)
		if err != nil {
			return fmt.Errorf("attempt %s: %w", a.AttemptToken, err)
		}
		res := scoring.Score(subs, canonical, explanations)
		results = append(results, attemptResult{
			AttemptToken: a.AttemptToken,
			DisplayName:  a.DisplayName,
			Score:        res.Score,
			Total:        res.Total,
			Details:      res.Details,
		})
	}

	export := struct {
		HashID   string          `json:"hash_id"`
		Title    string          `json:"title"`
		Results  []attemptResult `json:"results"`
		Attempts int             `json:"attempts"`
	}{
		HashID:   sess.HashID,
		Title:    sess.Title,
		Results:  results,
		Attempts: len(results),
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
