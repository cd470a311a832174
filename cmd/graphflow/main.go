// graphflow is the workflow engine server: a graph-based multi-agent executor
// with semantic retrieval over document corpora.
//
// Usage:
//
//	graphflow serve                       # start the server
//	graphflow serve --config config.yaml  # with a config file
//	graphflow migrate up                  # apply database migrations
//	graphflow migrate down                # rollback the last migration
//	graphflow migrate version             # show schema version
//	graphflow version                     # show build information
//	graphflow health                      # probe a running server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/internal/migration"
	"github.com/BaSui01/graphflow/internal/telemetry"
)

// Build information, injected at link time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		fmt.Printf("graphflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting graphflow",
		zap.String("version", Version),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("small_model", cfg.LLM.SmallModel),
		zap.String("large_model", cfg.LLM.LargeModel),
	)

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialise telemetry", zap.Error(err))
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	srv, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	// Index the corpora before accepting traffic; sync failures are
	// non-fatal and leave the corpus partially indexed.
	syncCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	srv.SyncCorpora(syncCtx)
	cancel()

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	if err := shutdownTelemetry(context.Background()); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("graphflow stopped")
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: graphflow migrate <up|down|version>")
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required for migrations")
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	migrator, err := migration.New(cfg.Store.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to create migrator", zap.Error(err))
	}
	defer migrator.Close()

	switch args[0] {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = migrator.Version()
		if err == nil {
			fmt.Printf("version %d (dirty: %v)\n", version, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printUsage() {
	fmt.Println(`graphflow - graph-based multi-agent workflow engine

Usage:
  graphflow <command> [options]

Commands:
  serve     Start the server
  migrate   Database migration commands (up, down, version)
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  graphflow serve
  graphflow serve --config /etc/graphflow/config.yaml
  graphflow migrate up
  graphflow health --addr http://localhost:8000`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	options := []zap.Option{}
	if cfg.EnableCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(options...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
