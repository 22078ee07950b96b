package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Path    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Path, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps a failure to load or validate the file at path.
func NewConfigError(path string, err error) *ConfigError {
	msg := "invalid configuration"
	if err != nil {
		msg = err.Error()
	}
	return &ConfigError{
		Path:    path,
		Message: msg,
		Err:     err,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitFailure
}
