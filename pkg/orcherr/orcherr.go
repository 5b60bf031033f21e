// Package orcherr defines the closed set of error kinds the
// orchestrator raises, so callers can branch on kind via errors.Is/As
// instead of string matching.
package orcherr

import "errors"

// Kind is one of the orchestrator's named error categories.
type Kind string

const (
	Validation       Kind = "validation"
	Provisioning     Kind = "provisioning"
	AgentFailure     Kind = "agent_failure"
	RPCTimeout       Kind = "rpc_timeout"
	HeartbeatTimeout Kind = "heartbeat_timeout"
	MergeConflict    Kind = "merge_conflict"
	Fatal            Kind = "fatal"
)

// Error wraps an underlying error with a Kind, so the CLI's exit-code
// mapping and the orchestrator's event handlers can branch on category.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ExitCode maps an error to the CLI's documented exit codes: 0 ok, 1
// internal error, 2 configuration/validation error. A nil error maps
// to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if Is(err, Validation) {
		return 2
	}
	return 1
}
