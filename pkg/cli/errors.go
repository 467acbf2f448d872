package cli

import (
	"errors"
	"fmt"
	"net/http"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitConfig          = 2
	ExitQuotaExhausted  = 3
	ExitUnauthenticated = 4
	ExitUnavailable     = 5
	ExitNoAudio         = 6
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError wraps a failure of a named command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

var (
	// ErrNoAudio marks a dictation that captured nothing.
	ErrNoAudio = errors.New("no audio captured")

	// ErrQuotaExhausted is returned when the client refuses to record
	// because the last known usage shows no quota left.
	ErrQuotaExhausted = errors.New("voice quota exhausted")
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	if errors.Is(err, ErrNoAudio) {
		return ExitNoAudio
	}
	if errors.Is(err, ErrQuotaExhausted) {
		return ExitQuotaExhausted
	}

	var httpErr interface{ HTTPStatus() int }
	if errors.As(err, &httpErr) {
		switch status := httpErr.HTTPStatus(); {
		case status == http.StatusTooManyRequests:
			return ExitQuotaExhausted
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return ExitUnauthenticated
		case status >= 500:
			return ExitUnavailable
		}
	}
	return ExitError
}
