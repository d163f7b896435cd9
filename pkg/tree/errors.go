package tree

import "fmt"

// Error is a typed tree-engine error, carrying a Kind so callers can branch
// on failure mode without string matching.
type Error struct {
	Kind    Kind
	Message string
}

// Kind enumerates the tree engine's error kinds, propagated rather than
// translated.
type Kind string

const (
	// NotFound means the engine could not resolve a digest through the
	// store, or a path segment does not exist.
	NotFound Kind = "NotFound"
	// DuplicateName means put_directory was given colliding entry names.
	DuplicateName Kind = "DuplicateName"
	// LinkTypeMismatch means a non-terminal path segment resolved to a
	// blob link rather than a directory.
	LinkTypeMismatch Kind = "LinkTypeMismatch"
	// BadEncoding wraps a codec decode failure encountered while walking
	// the tree.
	BadEncoding Kind = "BadEncoding"
)

func (e *Error) Error() string {
	return fmt.Sprintf("tree: %s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a tree.Error of kind NotFound.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == NotFound
}
