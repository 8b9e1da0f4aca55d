// Package failure implements the Failure Signal & Observer subsystem: a
// normalised error record produced by every tool/LLM invocation, and a
// bounded window over recent non-success signals that drives the 3-strike
// protocol.
package failure

import "time"

// Source is where a FailureSignal originated.
type Source string

const (
	SourceTool       Source = "tool"
	SourceValidation Source = "validation"
	SourceTimeout    Source = "timeout"
	SourceUser       Source = "user"
	SourceLLM        Source = "llm"
	SourceSystem     Source = "system"
)

// Type classifies the nature of the failure.
type Type string

const (
	TypeExecutionError   Type = "execution_error"
	TypeValidationFailed Type = "validation_failed"
	TypeTimeout          Type = "timeout"
	TypeRejected         Type = "rejected"
	TypeNetworkError     Type = "network_error"
	TypePermissionDenied Type = "permission_denied"
	TypeResourceNotFound Type = "resource_not_found"
	TypeInvalidParams    Type = "invalid_params"
	TypeRateLimited      Type = "rate_limited"
	TypeUnknown          Type = "unknown"
)

// ExitCode is the coarse outcome classification carried by every signal,
// successful or not.
type ExitCode int

const (
	ExitSuccess         ExitCode = 0
	ExitRetryable       ExitCode = 1
	ExitNeedsUser       ExitCode = 2
	ExitFatal           ExitCode = 3
)

// nonRetryableTypes are never retried even at exit_code=1.
var nonRetryableTypes = map[Type]bool{
	TypePermissionDenied: true,
	TypeInvalidParams:    true,
}

// Signal is a normalised error (or success) record. Exactly one is produced
// per tool invocation, successful or not.
type Signal struct {
	Source    Source
	Type      Type
	ExitCode  ExitCode
	Message   string
	Stderr    string
	ToolName  string
	ToolArgs  map[string]interface{}
	Timestamp time.Time
}

// IsSuccess reports whether this signal represents a successful invocation.
func (s Signal) IsSuccess() bool {
	return s.ExitCode == ExitSuccess
}

// IsRetryable is false for fatal signals and for the {permission_denied,
// invalid_params} failure types regardless of exit code.
func (s Signal) IsRetryable() bool {
	if s.ExitCode == ExitFatal {
		return false
	}
	if nonRetryableTypes[s.Type] {
		return false
	}
	return s.ExitCode == ExitRetryable
}

// NeedsUserIntervention reports exit_code=2.
func (s Signal) NeedsUserIntervention() bool {
	return s.ExitCode == ExitNeedsUser
}

// GetLearning returns a human-readable hint describing what went wrong and,
// where possible, how to avoid it next time.
func (s Signal) GetLearning() string {
	if s.IsSuccess() {
		return ""
	}
	switch s.Type {
	case TypePermissionDenied:
		return "permission denied — this action cannot be retried without user intervention"
	case TypeInvalidParams:
		return "invalid parameters — check the tool's argument schema before retrying"
	case TypeRateLimited:
		return "rate limited — back off before retrying " + s.ToolName
	case TypeTimeout:
		return s.ToolName + " timed out — consider a smaller unit of work or a longer timeout"
	case TypeResourceNotFound:
		return "the requested resource was not found — verify the path/identifier"
	case TypeNetworkError:
		return "network error — transient, safe to retry with backoff"
	case TypeValidationFailed:
		return "validation failed — the output did not satisfy the expected shape"
	default:
		if s.Message != "" {
			return s.Message
		}
		return "unspecified failure in " + s.ToolName
	}
}

// NewSuccessSignal constructs the Signal recorded for a successful
// invocation (still exactly one signal, per the invariant).
func NewSuccessSignal(source Source, toolName string, args map[string]interface{}) Signal {
	return Signal{
		Source:    source,
		Type:      TypeUnknown,
		ExitCode:  ExitSuccess,
		ToolName:  toolName,
		ToolArgs:  args,
		Timestamp: time.Now(),
	}
}

// NewFailureSignal constructs a non-success Signal.
func NewFailureSignal(source Source, typ Type, exitCode ExitCode, message, stderr, toolName string, args map[string]interface{}) Signal {
	return Signal{
		Source:    source,
		Type:      typ,
		ExitCode:  exitCode,
		Message:   message,
		Stderr:    stderr,
		ToolName:  toolName,
		ToolArgs:  args,
		Timestamp: time.Now(),
	}
}
