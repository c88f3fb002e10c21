// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

// ErrorKind identifies a kind of error that can be used to define new errors
// via const SomeError = swap.ErrorKind("something").
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Protocol error kinds. Callers distinguish retryable timing failures from
// fatal validation or terminal-state failures with errors.Is.
const (
	// ErrInvalidImmutables is returned when the address re-derived from a
	// caller-supplied immutables set does not match the escrow's deployed
	// address. Fatal and non-recoverable for that input.
	ErrInvalidImmutables = ErrorKind("invalid immutables")
	// ErrInvalidSecret is returned when the hash of a presented secret does
	// not match the escrow's hashlock.
	ErrInvalidSecret = ErrorKind("invalid secret")
	// ErrInvalidCaller is returned when an action is attempted by an address
	// other than the one the stage admits.
	ErrInvalidCaller = ErrorKind("invalid caller")
	// ErrTooEarly is returned when an action is attempted before its stage
	// window opens. Retryable by waiting.
	ErrTooEarly = ErrorKind("before stage window")
	// ErrWindowClosed is returned when an action is attempted after its stage
	// window has permanently closed.
	ErrWindowClosed = ErrorKind("after stage window")
	// ErrAlreadyResolved is returned when an escrow has already reached a
	// terminal state.
	ErrAlreadyResolved = ErrorKind("escrow already resolved")
	// ErrUnauthorized is returned for disallowed escrow creation or rescue.
	ErrUnauthorized = ErrorKind("unauthorized")
	// ErrEscrowExists is returned when an escrow for the same immutables hash
	// already has code at the target address.
	ErrEscrowExists = ErrorKind("escrow already exists")
	// ErrInvalidCreationTime is returned when destination timelocks are not
	// consistent with the paired source escrow's cancellation window.
	ErrInvalidCreationTime = ErrorKind("invalid creation time")
	// ErrOffsetOverflow is returned when a timelock offset does not fit in
	// its 32-bit field.
	ErrOffsetOverflow = ErrorKind("timelock offset overflows 32 bits")
	// ErrStageOrder is returned when timelock offsets are not monotonically
	// increasing within a role.
	ErrStageOrder = ErrorKind("timelock stages out of order")
)

// Error pairs an error with details.
type Error struct {
	wrapped error
	detail  string
}

// Error satisfies the error interface, combining the wrapped error message
// with the details.
func (e Error) Error() string {
	return e.wrapped.Error() + ": " + e.detail
}

// Unwrap returns the wrapped error, allowing errors.Is and errors.As to work.
func (e Error) Unwrap() error {
	return e.wrapped
}

// NewError wraps the provided error with details in an Error, facilitating
// the use of errors.Is and errors.As via errors.Unwrap.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}
