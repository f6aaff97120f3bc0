package vfs

import "errors"

// The backend-agnostic error taxonomy shared by every filesystem.
// Recoverable classes are returned as ordinary errors (surfaced to
// sysfile callers as -1); Exhaustion/CorruptState classes panic
// instead, since the design intentionally sizes pools so that normal
// workloads stay below them and assumes trusted on-disk state.
var (
	ErrInvalidArgument = errors.New("vfs: invalid argument")
	ErrNotFound        = errors.New("vfs: not found")
	ErrWrongType       = errors.New("vfs: wrong type")
	ErrBusy            = errors.New("vfs: busy")
	ErrNotSupported    = errors.New("vfs: operation not supported by this backend")
)
