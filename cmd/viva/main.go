package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/viva/internal/handler"
	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/retry"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/transcribe"
	"github.com/pavelanni/viva/internal/viva"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viva",
		Short: "Oral assessment server with AI-conducted viva interviews",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `viva --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /viva)")
	f.String("admin-password", "", "Initial admin password (or set VIVA_ADMIN_PASSWORD)")
	f.String("jwt-secret", "", "Secret for signing API tokens (or set VIVA_JWT_SECRET)")
	f.Duration("token-ttl", 12*time.Hour, "Lifetime of API tokens")
	f.Int("max-questions", 5, "Interview length when an assignment does not set one")
	f.String("prompt-variant", string(prompts.PromptStandard), "Interviewer prompt variant (strict, standard, lenient)")

	f.String("media-dir", "media", "Directory for recorded answers and transcripts")
	f.Int("max-upload-mb", 100, "Maximum size of one recorded answer in MB")
	f.String("ffprobe", "", "Path to ffprobe for measuring durations (empty disables)")

	f.String("llm-provider", "openai", "Question generation provider (openai, anthropic, gemini)")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty for api.openai.com)")
	f.String("llm-key", "", "API key for the OpenAI-compatible provider")
	f.String("llm-model", "gpt-4o-mini", "Model for the OpenAI-compatible provider")
	f.String("anthropic-key", "", "Anthropic API key")
	f.String("anthropic-model", "claude-haiku", "Anthropic model")
	f.String("gemini-key", "", "Gemini API key")
	f.String("gemini-model", "gemini-flash", "Gemini model")
	f.Duration("llm-timeout", 60*time.Second, "Time limit for one question generation attempt")

	f.String("stt-url", "", "Whisper-compatible transcription API base URL (empty for api.openai.com)")
	f.String("stt-key", "", "API key for transcription (defaults to --llm-key)")
	f.String("stt-model", "whisper-1", "Transcription model")
	f.String("stt-language", "", "Language hint for transcription (ISO-639-1, empty for auto)")
	f.Duration("stt-timeout", 60*time.Second, "Time limit for one transcription attempt")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export viva results as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import assignments from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	cmd.Flags().String("teacher", "admin", "Username of the teacher who will own the assignments")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	}
	addCommonFlags(add)
	f := add.Flags()
	f.String("password", "", "Password (or set VIVA_PASSWORD)")
	f.String("role", string(model.UserRoleStudent), "Role (student, teacher, admin)")
	f.String("display-name", "", "Display name (defaults to the username)")
	f.String("external-id", "", "Identifier in an external student roster")
	cmd.AddCommand(add)
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

	v.SetEnvPrefix("VIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("viva")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/viva")
	v.AddConfigPath("/etc/viva")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func llmConfig(v *viper.Viper) llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Provider = strings.ToLower(v.GetString("llm-provider"))
	cfg.OpenAI = llm.OpenAIConfig{
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		BaseURL: v.GetString("llm-url"),
	}
	cfg.Anthropic = llm.AnthropicConfig{APIKey: v.GetString("anthropic-key"), Model: v.GetString("anthropic-model")}
	cfg.Gemini = llm.GeminiConfig{APIKey: v.GetString("gemini-key"), Model: v.GetString("gemini-model")}
	cfg.Timeout = v.GetDuration("llm-timeout")
	return cfg
}

func transcribeConfig(v *viper.Viper) transcribe.Config {
	key := v.GetString("stt-key")
	if key == "" {
		key = v.GetString("llm-key")
	}
	return transcribe.Config{
		APIKey:   key,
		BaseURL:  v.GetString("stt-url"),
		Model:    v.GetString("stt-model"),
		Language: v.GetString("stt-language"),
		Timeout:  v.GetDuration("stt-timeout"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Turns that were in flight when the previous process died never finished.
	if n, err := db.ResetTurnClaims(); err != nil {
		return fmt.Errorf("reset turn claims: %w", err)
	} else if n > 0 {
		slog.Warn("cleared stale turn claims", "sessions", n)
	}
	if n, err := db.CleanupRevokedTokens(); err != nil {
		slog.Warn("failed to clean up revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("removed expired token revocations", "count", n)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	jwtSecret := v.GetString("jwt-secret")
	if jwtSecret == "" {
		return fmt.Errorf("JWT secret is required: set --jwt-secret flag or VIVA_JWT_SECRET env var")
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	if err := prompts.Load(prompts.DefaultFS); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	if err := db.SetMetadata("prompt_variant", promptVariant); err != nil {
		return fmt.Errorf("record prompt variant: %w", err)
	}

	llmCfg := llmConfig(v)
	if err := llmCfg.Validate(); err != nil {
		return fmt.Errorf("LLM config: %w", err)
	}
	provider, err := llm.NewProvider(ctx, llmCfg, db)
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}
	interviewer := llm.NewInterviewer(provider, prompts.PromptVariant(promptVariant), llmCfg)

	whisper, err := transcribe.NewWhisper(transcribeConfig(v))
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}

	mediaStore, err := media.New(media.Config{
		Root:        v.GetString("media-dir"),
		MaxSizeMB:   v.GetInt("max-upload-mb"),
		FFprobePath: v.GetString("ffprobe"),
	})
	if err != nil {
		return fmt.Errorf("open media store: %w", err)
	}

	orch := viva.New(db, mediaStore, transcribe.WithRetry(whisper, retry.Once()), interviewer, v.GetInt("max-questions"))

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	serverCfg := model.ServerConfig{
		MaxQuestions:  v.GetInt("max-questions"),
		MaxUploadMB:   v.GetInt("max-upload-mb"),
		BasePath:      basePath,
		PromptVariant: promptVariant,
		JWTSecret:     jwtSecret,
		TokenTTL:      v.GetDuration("token-ttl"),
	}

	h, err := handler.New(db, orch, mediaStore, serverCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Long enough for a transcription and an interviewer decision, each retried once.
	r.Use(middleware.Timeout(2*llmCfg.Timeout + 2*v.GetDuration("stt-timeout") + 30*time.Second))
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"llm_provider", llmCfg.Provider,
			"lang", lang,
			"max_questions", serverCfg.MaxQuestions,
			"prompt_variant", promptVariant,
			"base_path", basePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllSessions()
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}
	variant, err := db.GetMetadata("prompt_variant")
	if err != nil {
		return fmt.Errorf("read prompt variant: %w", err)
	}

	export := model.VivaExport{
		ExportedAt:    time.Now().UTC(),
		PromptVariant: variant,
		Results:       results,
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

	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	username := v.GetString("teacher")
	teacher, err := db.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("get teacher: %w", err)
	}
	if teacher == nil || (teacher.Role != model.UserRoleTeacher && teacher.Role != model.UserRoleAdmin) {
		return fmt.Errorf("no teacher or admin named %q", username)
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := db.ImportAssignments(path, data, teacher.ID)
		if errors.Is(err, store.ErrAlreadyImported) {
			slog.Info("assignments file unchanged, skipping", "path", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d assignments\n", path, n)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	role := model.UserRole(v.GetString("role"))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	password := v.GetString("password")
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: set --password flag or VIVA_PASSWORD env var")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	existing, err := db.GetUserByUsername(args[0])
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists", args[0])
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = args[0]
	}
	id, err := db.CreateUser(model.User{
		Username:     args[0],
		DisplayName:  displayName,
		ExternalID:   v.GetString("external-id"),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q (id %d)\n", role, args[0], id)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or VIVA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
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
