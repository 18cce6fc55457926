package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/core"
	errwrap "github.com/arenawatch/arenawatch/internal/errors"
)

// ExitWithCode reports err and terminates with exitCode. A nil logger falls
// back to stderr, which covers failures before logging is initialized.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := exitFields(exitCode)
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
			zap.String("trace_id", envelope.TraceID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
	os.Exit(exitStatus(exitCode))
}

// ExitWithCodeStderr writes err to stderr and terminates with exitCode.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	writeFatal(os.Stderr, exitCode, msg, err)
	os.Exit(exitStatus(exitCode))
}

func writeFatal(w io.Writer, exitCode foundry.ExitCode, msg string, err error) {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s\n", msg)
	case stderrors.As(err, &envelope) && envelope != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if original, ok := envelope.Original.(error); ok && original != nil {
			_, _ = fmt.Fprintf(w, "Cause: %v\n", original)
		}
	default:
		_, _ = fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}

	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		_, _ = fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	} else {
		_, _ = fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
	}
}

func exitFields(exitCode foundry.ExitCode) []zap.Field {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		return []zap.Field{zap.Int("exit_code", int(exitCode))}
	}
	return []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}
}

func exitStatus(exitCode foundry.ExitCode) int {
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		return info.Code
	}
	return int(exitCode)
}

// ExitCodeFor maps a command error onto a foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		switch envelope.Code {
		case errwrap.CodeConfigInvalid:
			return foundry.ExitConfigInvalid
		case errwrap.CodeTimeout, errwrap.CodeCircuitOpen, errwrap.CodeExternalService:
			return foundry.ExitExternalServiceUnavailable
		}
	}
	if stderrors.Is(err, core.ErrChallengeTimeout) || core.IsCircuitBreaker(err) {
		return foundry.ExitExternalServiceUnavailable
	}
	return foundry.ExitFailure
}
