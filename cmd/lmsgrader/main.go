package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/KankareDEV/lms-v4/internal/aigrade"
	"github.com/KankareDEV/lms-v4/internal/attempt"
	"github.com/KankareDEV/lms-v4/internal/events"
	"github.com/KankareDEV/lms-v4/internal/examfile"
	"github.com/KankareDEV/lms-v4/internal/handler"
	appI18n "github.com/KankareDEV/lms-v4/internal/i18n"
	"github.com/KankareDEV/lms-v4/internal/llm"
	"github.com/KankareDEV/lms-v4/internal/llm/prompts"
	"github.com/KankareDEV/lms-v4/internal/metrics"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/notify"
	"github.com/KankareDEV/lms-v4/internal/pipeline"
	"github.com/KankareDEV/lms-v4/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lmsgrader",
		Short:        "Exam attempts and grading service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), regradeCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "", "Database DSN (default: local lmsgrader.db or localhost postgres)")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to this file with rotation instead of stderr")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.Bool("ai", true, "Enable AI grading of essay and math answers")
	f.String("llm-provider", "openai", "LLM provider (openai, anthropic, gemini, mock)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 60*time.Second, "Timeout for one AI grading request")
	f.Int("llm-retries", 3, "Attempts per AI request on transient failures")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the grading workers",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language for labels and mail (en, ru)")
	f.Int("workers", 4, "Concurrent event handlers")
	f.Duration("redeliver-interval", 30*time.Second, "How often unacknowledged events are redelivered")
	f.Duration("event-retention", 7*24*time.Hour, "How long acknowledged events are kept (0 keeps them)")
	f.Duration("autosubmit-interval", time.Minute, "How often expired attempts are submitted")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (empty disables CORS)")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exam definitions from YAML or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func regradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regrade",
		Short: "Run the grading pipeline for submitted attempts",
		RunE:  runRegrade,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to regrade (required)")
	f.String("student-id", "", "Only regrade this student's attempt")
	f.Bool("force", false, "Also regrade attempts a teacher has marked, discarding their marks")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(v *viper.Viper) {
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
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
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

	v.SetEnvPrefix("LMS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lmsgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lmsgrader")
	v.AddConfigPath("/etc/lmsgrader")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	setupLogging(v)
	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	st, err := store.New(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

// newPipeline builds the AI client from configuration and injects it into
// the grading pipeline.
func newPipeline(ctx context.Context, v *viper.Viper, st *store.Store, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{pipeline.WithObserver(m)}
	if !v.GetBool("ai") {
		slog.Info("AI grading disabled")
		return pipeline.New(st, nil, opts...), nil
	}

	cfg := llm.DefaultConfig()
	cfg.Configure(v.GetString("llm-provider"), v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if n := v.GetInt("llm-retries"); n > 0 {
		cfg.Retry.MaxAttempts = n
	}
	if d := v.GetDuration("llm-timeout"); d > 0 {
		cfg.Timeout = d
	}
	provider, err := llm.NewProvider(ctx, cfg, m.LLMObserver())
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	set, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	orch := aigrade.New(provider, set,
		aigrade.WithVariant(prompts.PromptVariant(variant)),
		aigrade.WithTimeout(cfg.Timeout),
	)
	slog.Info("AI grading enabled", "provider", cfg.Provider, "model", provider.ModelID(), "variant", variant)
	return pipeline.New(st, orch, opts...), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	pipe, err := newPipeline(ctx, v, st, m)
	if err != nil {
		return err
	}
	attempts := attempt.New(st, st)

	bus := events.New(st,
		events.WithWorkers(v.GetInt("workers")),
		events.WithObserver(m.ObserveEvent),
	)
	triggers := pipeline.NewTriggers(pipe)
	bus.Subscribe(store.EventAttemptCreated, "grading", triggers.Handle)
	bus.Subscribe(store.EventAttemptWritten, "grading", triggers.Handle)
	bus.Subscribe(store.EventGradeCreated, "notify", notify.New(st).Handle)
	st.SetEventHook(bus.Deliver)

	if n, err := bus.Redeliver(ctx); err != nil {
		slog.Error("startup redelivery failed", "error", err)
	} else if n > 0 {
		slog.Info("redelivered pending events", "count", n)
	}
	go bus.Run(ctx, v.GetDuration("redeliver-interval"), v.GetDuration("event-retention"))
	go attempts.RunAutoSubmit(ctx, v.GetDuration("autosubmit-interval"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(m.Middleware)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Accept-Language", "X-User-ID", "X-User-Role"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Handle("/metrics", m.Handler())
	h := handler.New(st, attempts, pipe)
	r.Group(h.Routes)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", st.Driver(),
			"lang", lang,
			"workers", v.GetInt("workers"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		bus.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	bus.Close()
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, path := range args {
		f, err := examfile.Load(path)
		if err != nil {
			return err
		}
		if _, err := examfile.Import(ctx, st, f); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func runRegrade(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	pipe, err := newPipeline(ctx, v, st, metrics.New())
	if err != nil {
		return err
	}

	examID := v.GetString("exam-id")
	opts := pipeline.RunOptions{Force: v.GetBool("force"), Rerun: true}

	var keys []model.AttemptKey
	if sid := v.GetString("student-id"); sid != "" {
		keys = append(keys, model.AttemptKey{ExamID: examID, StudentID: sid})
	} else {
		list, err := st.ListAttempts(ctx, examID)
		if err != nil {
			return fmt.Errorf("list attempts: %w", err)
		}
		for _, a := range list {
			if a.Submitted() {
				keys = append(keys, a.Key())
			}
		}
	}

	counts := map[string]int{}
	var failed error
	for _, key := range keys {
		out, err := pipe.Run(ctx, key, opts)
		if err != nil {
			slog.Error("regrade failed", "exam_id", key.ExamID, "student_id", key.StudentID, "error", err)
			failed = errors.Join(failed, err)
			counts[pipeline.ResultError]++
			continue
		}
		counts[out.Result]++
	}
	slog.Info("regrade finished", "exam_id", examID, "attempts", len(keys),
		"graded", counts[pipeline.ResultGraded],
		"skipped_override", counts[pipeline.ResultSkippedOverride],
		"errors", counts[pipeline.ResultError],
	)
	return failed
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	export, err := st.ExportExam(ctx, v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
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
