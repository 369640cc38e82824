package catalog

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Every error produced by the ingestion
// pipeline carries exactly one Kind, so callers can route on it without
// inspecting error strings.
type Kind int

const (
	// KindDecode indicates a row that could not be read from the source
	// stream. The row is skipped; the stream continues.
	KindDecode Kind = iota + 1
	// KindBadInput indicates a readable row that failed validation. The row
	// is skipped and never retried.
	KindBadInput
	// KindPersistence indicates a failed transactional write. No partial
	// state is left behind; the queue's redrive policy owns any retry.
	KindPersistence
	// KindNotification indicates a publish failure after a successful
	// commit. The commit stands.
	KindNotification
	// KindRelocation indicates a failed post-processing move or delete of
	// the source object.
	KindRelocation
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode_error"
	case KindBadInput:
		return "bad_input"
	case KindPersistence:
		return "persistence_error"
	case KindNotification:
		return "notification_error"
	case KindRelocation:
		return "relocation_error"
	default:
		return "unknown"
	}
}

// Error is the pipeline's error value: a Kind, the operation that failed,
// and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a Kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or zero
// when err carries no Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err's chain contains an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
