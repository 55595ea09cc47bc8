package forge

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel errors returned by stores.
var (
	ErrNotFound     = errors.New("record not found")
	ErrNoPendingJob = errors.New("no pending job")
)

// Kind classifies a failure so callers can branch with a switch instead of
// matching concrete error types.
type Kind int

// Failure kinds.
const (
	KindInternal Kind = iota
	KindTransport
	KindTimeout
	KindUnauthorized
	KindNotFound
	KindInsufficientInput
	KindValidation
	KindGenerationFailed
	KindDegraded
	KindConfig
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindTransport:         "transport",
	KindTimeout:           "timeout",
	KindUnauthorized:      "unauthorized",
	KindNotFound:          "not_found",
	KindInsufficientInput: "insufficient_input",
	KindValidation:        "validation",
	KindGenerationFailed:  "generation_failed",
	KindDegraded:          "degraded",
	KindConfig:            "config",
}

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed failure propagated between components.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	Err        error
}

// E builds an *Error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Err != nil:
		b.WriteString(e.Message)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Truncate shortens s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return "…"
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), func(r rune) bool { return r == ' ' }) + "…"
}
