package ledger

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal to a whole run and is raised before any unit starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// MissingField builds the common "required setting is absent" error.
func MissingField(field string) error {
	return &ConfigurationError{Field: field, Reason: "is required"}
}

func InvalidField(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// EngineError wraps a transaction construction/signing failure.
type EngineError struct{ Err error }

func (e *EngineError) Error() string { return "engine: " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// NodeRejection is returned by the node as a non-accept status code.
type NodeRejection struct {
	StatusCode int
	Body       string
}

func (e *NodeRejection) Error() string {
	return fmt.Sprintf("node rejected transaction (status %d): %s", e.StatusCode, e.Body)
}

// TransportError is a network/connection/timeout fault reaching the node.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ErrNotAdmitted marks units that never got an admission slot because the run was canceled.
var ErrNotAdmitted = errors.New("unit not admitted")
