package mailspool

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mailspool package.
// Use errors.Is() to check for these errors.
//
// Every filesystem failure (directory creation, exclusive create, write,
// retry exhaustion) also matches ErrIO, so callers that only care whether
// the message reached disk can test a single sentinel.
var (
	// ErrIO is matched by all filesystem failures.
	ErrIO = errors.New("mailspool: i/o error")

	// ErrDirectory is returned when the spool directory cannot be created.
	ErrDirectory = errors.New("mailspool: unable to create spool directory")

	// ErrRetryExhausted is returned when every exclusive-create attempt collided.
	ErrRetryExhausted = errors.New("mailspool: retry limit exhausted")

	// ErrPartialWrite is returned when the file was created but the body could not be written.
	ErrPartialWrite = errors.New("mailspool: partial write")

	// ErrNilMessage is returned when Send is called with a nil message.
	ErrNilMessage = errors.New("mailspool: message is nil")

	// ErrInvalidOption is returned when the transport configuration is invalid.
	ErrInvalidOption = errors.New("mailspool: invalid option")

	// ErrUnknownPhase is returned when dispatching to a phase no listener can handle.
	ErrUnknownPhase = errors.New("mailspool: unknown phase")
)

// DirectoryError reports a failure to create the spool directory at construction time.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("mailspool: unable to create path %q: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

func (e *DirectoryError) Is(target error) bool {
	return target == ErrDirectory || target == ErrIO
}

// CreateError reports an exclusive-create failure that was not a name collision,
// e.g. the directory was removed or became unwritable.
type CreateError struct {
	Path string
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("mailspool: create %q: %v", e.Path, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

func (e *CreateError) Is(target error) bool {
	return target == ErrIO
}

// RetryExhaustedError is returned when no candidate name could be created
// exclusively within the configured number of attempts. The message is not
// spooled and the caller must treat it as lost.
type RetryExhaustedError struct {
	// Dir is the spool directory.
	Dir string
	// Attempts is the number of exclusive-create attempts made.
	Attempts int
	// Last is the last candidate path tried, empty when no attempt was made.
	Last string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("mailspool: unable to create a file for enqueuing message in %q after %d attempts", e.Dir, e.Attempts)
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted || target == ErrIO
}

// PartialWriteError is returned when the file was created exclusively but
// writing or closing it failed. The file is left on disk as-is.
type PartialWriteError struct {
	Path    string
	Written int
	Total   int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("mailspool: partial write to %q (%d of %d bytes): %v", e.Path, e.Written, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite || target == ErrIO
}

// PluginError represents an error raised by a listener while handling a phase.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
