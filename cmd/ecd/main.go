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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/ecd/internal/deadline"
	"github.com/pavelanni/ecd/internal/handler"
	appI18n "github.com/pavelanni/ecd/internal/i18n"
	"github.com/pavelanni/ecd/internal/llm"
	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/policy"
	"github.com/pavelanni/ecd/internal/registry"
	"github.com/pavelanni/ecd/internal/report"
	"github.com/pavelanni/ecd/internal/scoring"
	"github.com/pavelanni/ecd/internal/session"
	"github.com/pavelanni/ecd/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ecd",
		Short: "Evidence-centered assessment session engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `ecd --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "ecd.db", "SQLite database path (:memory: allowed)")
	f.String("store", "sqlite", "Storage backend (sqlite, memory)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("registry", "r", nil, "Registry bundle files to import, JSON or YAML (repeatable)")
	f.String("policy-url", "", "Base URL of the adaptive policy service (empty disables adaptive selection)")
	f.Duration("policy-timeout", policy.DefaultTimeout, "Timeout for one policy service call")
	f.Duration("deadline-interval", deadline.DefaultInterval, "How often timed sessions are checked")
	f.String("llm-url", "", "OpenAI-compatible API base URL for grading suggestions (empty disables them)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(llm.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "Default notification language (en, ru)")
	f.String("admin-password", "", "Initial admin password (or set ECD_ADMIN_PASSWORD)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import registry bundles into the database",
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringSliceP("registry", "r", nil, "Registry bundle files, JSON or YAML (repeatable)")
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export session results with competency scores as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
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

	v.SetEnvPrefix("ECD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ecd")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ecd")
	v.AddConfigPath("/etc/ecd")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	switch strings.ToLower(v.GetString("store")) {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), nil
	case "", "sqlite":
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or memory)", v.GetString("store"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadRegistry(ctx, db, v.GetStringSlice("registry")); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	reg := registry.New(db)

	var provider policy.Provider
	if u := v.GetString("policy-url"); u != "" {
		provider = policy.NewHTTPProvider(u, v.GetDuration("policy-timeout"))
		slog.Info("adaptive policy service configured", "url", u, "timeout", v.GetDuration("policy-timeout"))
	}
	ctrl := session.NewController(db, reg, scoring.New(reg), policy.NewEngine(reg, provider))

	mon := deadline.New(db, reg, deadline.WithInterval(v.GetDuration("deadline-interval")))
	defer mon.Close()

	llmClient, err := newLLMClient(ctx, v)
	if err != nil {
		return err
	}

	h, err := handler.New(handler.Deps{
		Store:     db,
		Registry:  reg,
		Sessions:  ctrl,
		Reports:   report.New(reg, db),
		Deadlines: mon,
		LLM:       llmClient,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"store", v.GetString("store"),
		"lang", lang,
		"adaptive", provider != nil,
		"suggestions", llmClient != nil,
		"deadline_interval", v.GetDuration("deadline-interval"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLLMClient returns nil when no endpoint is configured.
func newLLMClient(ctx context.Context, v *viper.Viper) (*llm.Client, error) {
	url := v.GetString("llm-url")
	if url == "" {
		return nil, nil
	}
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !llm.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(llm.PromptStandard)
	}
	c, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), promptVariant)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	return c, nil
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	return loadRegistry(cmd.Context(), db, v.GetStringSlice("registry"))
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := report.New(registry.New(db), db).Export(cmd.Context(), db)
	if err != nil {
		return err
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	slog.Info("exported sessions", "count", export.NumSessions, "export_id", export.ExportID)
	return nil
}

// loadRegistry imports each bundle file. Changed files are skipped with a
// warning so existing sessions keep the reference data they started with.
func loadRegistry(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		_, err = registry.Import(ctx, db, db, path, data)
		if errors.Is(err, model.ErrConflict) {
			slog.Warn("registry file changed since last import, skipping to avoid breaking existing sessions",
				"path", path)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ECD_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
