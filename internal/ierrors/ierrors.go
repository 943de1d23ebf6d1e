// Package ierrors declares the error-kind sentinels shared by every core
// component (spec §7): Io, OutOfRange, InvalidInput and Usage. Components
// return errors wrapping one of these with github.com/pkg/errors so that
// callers (the patch driver, the CLI) can classify a failure with
// errors.Is without parsing messages.
package ierrors

import "errors"

var (
	// Io marks a failure to open/read/write/seek a file at the OS level.
	Io = errors.New("io error")
	// OutOfRange marks a short read, an address not covered by any
	// mapping, a symbol/class that could not be resolved, or an
	// instruction scan that exhausted its limit.
	OutOfRange = errors.New("out of range")
	// InvalidInput marks malformed structural data: bad magic, the
	// subcache/main-cache count guard, an impossible instruction
	// encoding, a malformed sidecar, or an unsupported fixup kind.
	InvalidInput = errors.New("invalid input")
	// Usage marks invalid CLI arguments.
	Usage = errors.New("usage error")
)
