package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/gastrobot/gastrobot/internal/api"
	"github.com/gastrobot/gastrobot/internal/backend"
	"github.com/gastrobot/gastrobot/internal/catalog"
	"github.com/gastrobot/gastrobot/internal/genai"
	"github.com/gastrobot/gastrobot/internal/orchestrator"
	"github.com/gastrobot/gastrobot/internal/session"
	"github.com/gastrobot/gastrobot/internal/util"
	"github.com/gastrobot/gastrobot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GastroBot state data
	DefaultStateDir = "/var/lib/gastrobot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "gastrobot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	store, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	gateway, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize model gateway", "error", err)
		os.Exit(1)
	}

	adapter, err := backend.NewClient(buildBackendOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize reservation backend client", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Default()
	if err != nil {
		slog.Error("Failed to build function catalog", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(store, gateway, adapter, cat, buildOrchestratorOptions(flags)...)

	// WhatsApp is optional; the REST chat endpoint works without it.
	var sender whatsapp.Sender
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		client, err := whatsapp.NewClient()
		if err != nil {
			slog.Error("Failed to initialize WhatsApp client", "error", err)
			os.Exit(1)
		}
		sender = client
		slog.Info("WhatsApp channel enabled")
	} else {
		slog.Info("WhatsApp channel disabled, TWILIO_ACCOUNT_SID not set")
	}

	server := api.NewServer(orch, store, sender, buildAPIOptions(flags)...)

	slog.Info("Bootstrapping GastroBot", "api_addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "")
	if err := server.Run(); err != nil {
		slog.Error("GastroBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GastroBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	Model        string
	BackendURL   string
	BackendToken string
	APIAddr      string
	PromptFile   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	model        *string
	backendURL   *string
	backendToken *string
	apiAddr      *string
	promptFile   *string
	maxCycles    *int
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("GASTROBOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("GASTROBOT_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:        os.Getenv("GASTROBOT_MODEL"),
		BackendURL:   os.Getenv("BACKEND_URL"),
		BackendToken: os.Getenv("BACKEND_TOKEN"),
		APIAddr:      os.Getenv("API_ADDR"),
		PromptFile:   os.Getenv("SYSTEM_PROMPT_FILE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GASTROBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"GASTROBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"BACKEND_URL", config.BackendURL,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for GastroBot data (overrides $GASTROBOT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "session store DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:        flag.String("model", config.Model, "model identifier (overrides $GASTROBOT_MODEL)"),
		backendURL:   flag.String("backend-url", config.BackendURL, "reservation backend base URL (overrides $BACKEND_URL)"),
		backendToken: flag.String("backend-token", config.BackendToken, "reservation backend bearer token (overrides $BACKEND_TOKEN)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		promptFile:   flag.String("system-prompt-file", config.PromptFile, "path to a system prompt override (overrides $SYSTEM_PROMPT_FILE)"),
		maxCycles:    flag.Int("max-cycles", util.ParseIntEnv("MAX_RESOLUTION_CYCLES", orchestrator.DefaultMaxCycles), "resolution-cycle ceiling per message (overrides $MAX_RESOLUTION_CYCLES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"model", *flags.model,
		"backendURL", *flags.backendURL,
		"apiAddr", *flags.apiAddr,
		"maxCycles", *flags.maxCycles)

	// Keep the SQLite default inside the chosen state directory
	if *flags.dbDSN == filepath.Join(DefaultStateDir, DefaultDBFileName) && *flags.stateDir != DefaultStateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if session.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore selects and opens the session store backend from the DSN.
func buildStore(flags Flags) (session.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory session store")
		return session.NewInMemoryStore(), nil
	}
	if session.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL session store")
		return session.NewPostgresStore(session.WithDSN(dsn))
	}
	slog.Info("Using SQLite session store", "db_path", dsn)
	return session.NewSQLiteStore(session.WithDSN(dsn))
}

// buildGenAIOptions constructs model gateway configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		opts = append(opts, genai.WithModel(*flags.model))
	}
	if d := util.ParseDurationEnv("MODEL_TIMEOUT", 0); d > 0 {
		opts = append(opts, genai.WithTimeout(d))
	}
	return opts
}

// buildBackendOptions constructs reservation backend configuration options
func buildBackendOptions(flags Flags) []backend.Option {
	opts := []backend.Option{backend.WithBaseURL(*flags.backendURL)}
	if *flags.backendToken != "" {
		opts = append(opts, backend.WithToken(*flags.backendToken))
	}
	if d := util.ParseDurationEnv("BACKEND_TIMEOUT", 0); d > 0 {
		opts = append(opts, backend.WithTimeout(d))
	}
	return opts
}

// buildOrchestratorOptions constructs orchestrator configuration options
func buildOrchestratorOptions(flags Flags) []orchestrator.Option {
	opts := []orchestrator.Option{orchestrator.WithMaxCycles(*flags.maxCycles)}
	if *flags.promptFile != "" {
		data, err := os.ReadFile(*flags.promptFile)
		if err != nil {
			slog.Warn("Failed to read system prompt file, using built-in prompt", "path", *flags.promptFile, "error", err)
		} else if prompt := strings.TrimSpace(string(data)); prompt != "" {
			opts = append(opts, orchestrator.WithSystemPrompt(prompt))
		}
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if d := util.ParseDurationEnv("HANDLE_TIMEOUT", 0); d > 0 {
		opts = append(opts, api.WithHandleTimeout(d))
	}
	return opts
}
