package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used by one-shot commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used by serve and the prefetch scheduler (STRUCTURED profile)
	ServerLogger *logging.Logger
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger with STRUCTURED profile.
// The optional namespace becomes a static field on every entry.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	staticFields := make(map[string]any)
	if len(namespace) > 0 && namespace[0] != "" {
		staticFields["namespace"] = namespace[0]
	}

	logger, err := logging.New(&logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  environment(),
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	})
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

// Active returns the server logger when serving, else the CLI logger. It may be nil.
func Active() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// parseLogLevel converts a config log level to a logging severity
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func environment() string {
	if env := strings.TrimSpace(os.Getenv("MARKETGATE_ENV")); env != "" {
		return env
	}
	return "production"
}

// exitWithCodeStderr exits with a semantic exit code before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
