package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no node carries the requested identifier.
	ErrNotFound = errors.New("node not found")
	// ErrReadOnlyAttr is returned when a caller tries to rewrite an identifier.
	ErrReadOnlyAttr = errors.New("attribute is read-only")
	// ErrNotLoaded is returned by operations that need an initial load.
	ErrNotLoaded = errors.New("document not loaded")
)

// ParseError reports a malformed source document. It aborts only the
// contribution of that one source.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IOError reports a filesystem failure while reading a source or writing the
// edit overlay.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
