package filing

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is returned by stores when a write would give two
	// non-failed documents the same key and fingerprint.
	ErrConflict = errors.New("fingerprint conflict")
)

// ErrorKind classifies why a document failed.
type ErrorKind string

const (
	KindFetch       ErrorKind = "fetch"
	KindDecode      ErrorKind = "decode"
	KindExtraction  ErrorKind = "extraction"
	KindChunking    ErrorKind = "chunking"
	KindPersistence ErrorKind = "persistence"
)

// MaxErrorMessage caps the stored error message length.
const MaxErrorMessage = 1000

// StageError attaches a kind to a stage failure.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Errorf wraps a formatted error with kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithKind wraps err with kind, or returns nil for a nil err.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost StageError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// TruncateMessage trims msg to MaxErrorMessage bytes on a rune boundary.
func TruncateMessage(msg string) string {
	if len(msg) <= MaxErrorMessage {
		return msg
	}
	cut := MaxErrorMessage
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
