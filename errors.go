package mail2fa

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityUnresolved is an exported constant or variable used by the verification engine.
	ErrIdentityUnresolved = errors.New("unable to identify user")
	// ErrDeliveryFailed is an exported constant or variable used by the verification engine.
	ErrDeliveryFailed = errors.New("verification code delivery failed")
	// ErrCodeEmpty is an exported constant or variable used by the verification engine.
	ErrCodeEmpty = errors.New("you must enter the code")
	// ErrCodeLength is an exported constant or variable used by the verification engine.
	ErrCodeLength = errors.New("invalid code length")
	// ErrCodeNoValid is an exported constant or variable used by the verification engine.
	ErrCodeNoValid = errors.New("code expired or not found, request a new code")
	// ErrCodeIncorrect is an exported constant or variable used by the verification engine.
	ErrCodeIncorrect = errors.New("incorrect code")
	// ErrCodeAttemptsExhausted is an exported constant or variable used by the verification engine.
	ErrCodeAttemptsExhausted = errors.New("invalid code, attempt limit exceeded, request a new code")
	// ErrCodeUnavailable is an exported constant or variable used by the verification engine.
	ErrCodeUnavailable = errors.New("verification code backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// AttemptError reports a wrong code on a record that still has budget left.
// It matches ErrCodeIncorrect under errors.Is.
type AttemptError struct {
	Remaining int
}

func (e *AttemptError) Error() string {
	if e.Remaining == 1 {
		return "incorrect code, you have 1 attempt remaining"
	}
	return fmt.Sprintf("incorrect code, you have %d attempts remaining", e.Remaining)
}

func (e *AttemptError) Unwrap() error {
	return ErrCodeIncorrect
}

// LengthError reports a submission whose digit count differs from the
// configured code length. It matches ErrCodeLength under errors.Is.
type LengthError struct {
	Expected int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("the code must have exactly %d digits", e.Expected)
}

func (e *LengthError) Unwrap() error {
	return ErrCodeLength
}
