package errors

import "fmt"

// ConfigLoadFailed creates an error for when the config file cannot be read or parsed.
func ConfigLoadFailed(path string, cause error) *ShellError {
	return &ShellError{
		Category: CategoryConfig,
		Code:     "config_load_failed",
		Message:  fmt.Sprintf("failed to load config from %s", path),
		Cause:    cause,
	}
}

// ConfigInvalid creates an error for a setting that failed validation.
func ConfigInvalid(field, reason string) *ShellError {
	return &ShellError{
		Category: CategoryConfig,
		Code:     "config_invalid",
		Message:  fmt.Sprintf("invalid configuration: %s %s", field, reason),
	}
}

// APIRequestFailed creates an error for a network-level failure talking to a provider.
func APIRequestFailed(cause error) *ShellError {
	return &ShellError{
		Category:  CategoryAPI,
		Code:      "api_request_failed",
		Message:   "API request failed",
		Retryable: true,
		Cause:     cause,
	}
}

// APIStatus creates an error for a non-2xx response. 429 and 5xx are retryable.
func APIStatus(status int, body string) *ShellError {
	return &ShellError{
		Category:  CategoryAPI,
		Code:      "api_status",
		Message:   fmt.Sprintf("API returned status %d: %s", status, body),
		Retryable: status == 429 || status >= 500,
	}
}

// APIUnavailable creates an error for when the provider cannot be reached at all.
func APIUnavailable(cause error) *ShellError {
	return &ShellError{
		Category:  CategoryAPI,
		Code:      "api_unavailable",
		Message:   "API service is unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// APIMalformed creates an error for a response body that could not be decoded.
func APIMalformed(cause error) *ShellError {
	return &ShellError{
		Category: CategoryAPI,
		Code:     "api_malformed",
		Message:  "API returned a malformed response",
		Cause:    cause,
	}
}

// CircuitOpen creates an error for when the circuit breaker rejects a request.
func CircuitOpen() *ShellError {
	return &ShellError{
		Category: CategoryAPI,
		Code:     "circuit_open",
		Message:  "API circuit breaker is open, too many recent failures",
	}
}

// CommandFailed creates an error for a command that exited non-zero.
func CommandFailed(command string, exitCode int) *ShellError {
	return &ShellError{
		Category: CategoryCommand,
		Code:     "command_failed",
		Message:  fmt.Sprintf("command %q exited with code %d", command, exitCode),
	}
}

// SessionNotFound creates an error for a session name with no file behind it.
func SessionNotFound(name string) *ShellError {
	return &ShellError{
		Category: CategoryPersistence,
		Code:     "session_not_found",
		Message:  fmt.Sprintf("conversation %q not found", name),
	}
}

// SessionParse creates an error for a session file that is not valid JSON.
func SessionParse(name string, cause error) *ShellError {
	return &ShellError{
		Category: CategoryPersistence,
		Code:     "session_parse",
		Message:  fmt.Sprintf("conversation %q is corrupt", name),
		Cause:    cause,
	}
}

// SessionWrite creates an error for a failed save.
func SessionWrite(path string, cause error) *ShellError {
	return &ShellError{
		Category: CategoryPersistence,
		Code:     "session_write",
		Message:  fmt.Sprintf("failed to write %s", path),
		Cause:    cause,
	}
}

// UserAbort creates an error for an interrupted blocking call.
func UserAbort(cause error) *ShellError {
	return &ShellError{
		Category: CategoryAbort,
		Code:     "user_abort",
		Message:  "interrupted",
		Cause:    cause,
	}
}

// ModelNotFound creates an error for an alias missing from the registry.
func ModelNotFound(alias string) *ShellError {
	return &ShellError{
		Category: CategoryValidation,
		Code:     "model_not_found",
		Message:  fmt.Sprintf("model alias %q not found", alias),
	}
}

// InvalidName creates an error for a conversation name that sanitizes to nothing.
func InvalidName(name string) *ShellError {
	return &ShellError{
		Category: CategoryValidation,
		Code:     "invalid_name",
		Message:  fmt.Sprintf("invalid conversation name %q", name),
	}
}

// UnknownCommand creates an error for a slash command that does not exist.
func UnknownCommand(name string) *ShellError {
	return &ShellError{
		Category: CategoryValidation,
		Code:     "unknown_command",
		Message:  fmt.Sprintf("unknown command %s", name),
	}
}

// InvalidArgument creates an error for a malformed slash command argument.
func InvalidArgument(command, arg string) *ShellError {
	return &ShellError{
		Category: CategoryValidation,
		Code:     "invalid_argument",
		Message:  fmt.Sprintf("invalid argument %q for %s", arg, command),
	}
}
