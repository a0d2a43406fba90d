package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// ExitWithCode logs err with the foundry metadata of exitCode and exits with it.
// A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}
	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok {
			err = original
		}
	}
	logger.Error(msg, append(fields, zap.Error(err))...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr exits with exitCode after writing msg and err to stderr.
// Use it before the logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}
	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

func writeFatal(msg string, err error) {
	switch envelope, isEnvelope := err.(*errors.ErrorEnvelope); {
	case isEnvelope:
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, envelope.Code, envelope.Message, envelope.CorrelationID)
	case err != nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
}
