package apkg

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCollection indicates that no recognizable collection database entry exists in the archive.
	ErrMissingCollection = errors.New("apkg: missing collection")
	// ErrCorruptArchive indicates that the package bytes are not a readable ZIP structure.
	ErrCorruptArchive = errors.New("apkg: corrupt archive")
	// ErrDecompressionFailed indicates that a compressed collection entry is malformed or truncated.
	ErrDecompressionFailed = errors.New("apkg: decompression failed")
	// ErrMissingDeckConfig indicates a legacy collection without its configuration row.
	ErrMissingDeckConfig = errors.New("apkg: missing deck config")
	// ErrMalformedDeckData indicates deck metadata that cannot be decoded.
	ErrMalformedDeckData = errors.New("apkg: malformed deck data")
	// ErrPackageTooLarge indicates that the package exceeds the configured size ceiling.
	ErrPackageTooLarge = errors.New("apkg: package too large")
	// ErrUnreadableCollection indicates that the decoded collection cannot be opened or queried.
	ErrUnreadableCollection = errors.New("apkg: unreadable collection")
)

const (
	opReadPackage   = "apkg.read_package"
	opReadArchive   = "apkg.read_archive"
	opDecodePayload = "apkg.decode_payload"
	opLoadDecks     = "apkg.load_decks"
	opLoadNotes     = "apkg.load_notes"
	opMaterialize   = "apkg.materialize"
)

// Error describes a terminal failure of a single parse call.
type Error struct {
	operation string
	code      string
	kind      error
	cause     error
}

func newError(operation string, kind error, cause error) error {
	return &Error{
		operation: operation,
		code:      fmt.Sprintf("%s.%s", operation, Reason(kind)),
		kind:      kind,
		cause:     cause,
	}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.cause)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	unwrapped := []error{e.kind}
	if e.cause != nil {
		unwrapped = append(unwrapped, e.cause)
	}
	return unwrapped
}

// Code returns the operation-qualified error code, e.g. "apkg.read_archive.missing_collection".
func (e *Error) Code() string {
	return e.code
}

// Operation returns the pipeline stage that failed, e.g. "apkg.load_decks".
func (e *Error) Operation() string {
	return e.operation
}

// Kind returns the sentinel classifying the failure.
func (e *Error) Kind() error {
	return e.kind
}

// Reason maps a kind sentinel to its short snake_case reason.
func Reason(kind error) string {
	switch {
	case errors.Is(kind, ErrMissingCollection):
		return "missing_collection"
	case errors.Is(kind, ErrCorruptArchive):
		return "corrupt_archive"
	case errors.Is(kind, ErrDecompressionFailed):
		return "decompression_failed"
	case errors.Is(kind, ErrMissingDeckConfig):
		return "missing_deck_config"
	case errors.Is(kind, ErrMalformedDeckData):
		return "malformed_deck_data"
	case errors.Is(kind, ErrPackageTooLarge):
		return "package_too_large"
	case errors.Is(kind, ErrUnreadableCollection):
		return "unreadable_collection"
	default:
		return "unknown"
	}
}

// IsArchiveError reports whether err belongs to the archive family (container or payload problems).
func IsArchiveError(err error) bool {
	return errors.Is(err, ErrMissingCollection) ||
		errors.Is(err, ErrCorruptArchive) ||
		errors.Is(err, ErrDecompressionFailed) ||
		errors.Is(err, ErrPackageTooLarge)
}

// IsSchemaError reports whether err belongs to the schema family (collection contents problems).
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrMissingDeckConfig) ||
		errors.Is(err, ErrMalformedDeckData) ||
		errors.Is(err, ErrUnreadableCollection)
}
