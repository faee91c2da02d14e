// Package qaerr defines the typed error kinds the Q&A pipeline uses to
// decide whether a stage should retry, degrade, or abort the query.
package qaerr

import "errors"

// Kind classifies a failure for the purposes of stage-level recovery
// policy, matching the taxonomy every component in the pipeline is
// expected to reason about.
type Kind int

const (
	// Unknown is the zero value; treat as Internal.
	Unknown Kind = iota
	// TransientUpstream covers timeouts, connection resets, and 5xx
	// responses from an external dependency. Callers should retry with
	// backoff or fall back to the next stage in a degrade ladder.
	TransientUpstream
	// PermanentUpstream covers 4xx responses that will not succeed on
	// retry (bad request, auth failure, not found).
	PermanentUpstream
	// MalformedLLMOutput covers a model response that failed to parse
	// into the structure a stage expected (bad JSON, missing field).
	MalformedLLMOutput
	// EmptyRetrieval covers a search stage that completed successfully
	// but returned zero usable candidates.
	EmptyRetrieval
	// RateLimited covers 429 responses or local rate-limiter rejection.
	RateLimited
	// CancelledByCaller covers context cancellation/deadline propagated
	// from the HTTP layer.
	CancelledByCaller
	// Internal covers programmer errors: nil collaborators, invariant
	// violations, anything that is this service's own bug.
	Internal
)

func (k Kind) String() string {
	switch k {
	case TransientUpstream:
		return "transient_upstream"
	case PermanentUpstream:
		return "permanent_upstream"
	case MalformedLLMOutput:
		return "malformed_llm_output"
	case EmptyRetrieval:
		return "empty_retrieval"
	case RateLimited:
		return "rate_limited"
	case CancelledByCaller:
		return "cancelled_by_caller"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers up the stack can
// branch on classification without string-matching messages.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return e.Stage + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for the given stage.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
