package pairing

import "fmt"

// Code enumerates the PairingError subcodes from spec.md §7.
type Code string

const (
	CodeNoPairingData  Code = "NO_PAIRING_DATA"
	CodeMissingSRPData Code = "MISSING_SRP_DATA"
	CodeWrongPIN       Code = "WRONG_PIN"
	CodeAppleTVError   Code = "APPLE_TV_ERROR"
	CodeInputTimeout   Code = "INPUT_TIMEOUT"
	CodeInvalidPIN     Code = "INVALID_PIN"
	CodeM5Error        Code = "M5_ERROR"
	CodeSaveError      Code = "SAVE_ERROR"
)

// Error is the machine-readable PairingError kind from spec.md §7: a code
// plus a human message, optionally wrapping the Apple-side error byte for
// CodeAppleTVError.
type Error struct {
	Code       Code
	Message    string
	AppleCode  byte
	HasAppleCode bool
	Err        error
}

func (e *Error) Error() string {
	if e.HasAppleCode {
		return fmt.Sprintf("pairing: %s: %s (apple error %d)", e.Code, e.Message, e.AppleCode)
	}
	return fmt.Sprintf("pairing: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newAppleError(appleCode byte, message string) *Error {
	return &Error{Code: CodeAppleTVError, Message: message, AppleCode: appleCode, HasAppleCode: true}
}

// appleErrorMessages maps Pair-Verify STATE=4 error codes to the textual
// descriptions spec.md §4.4 specifies.
var appleErrorMessages = map[byte]string{
	1: "unknown error",
	2: "invalid pair record",
	3: "backoff",
	4: "max peers",
	5: "max tries",
	6: "unavailable",
	7: "busy",
}

func appleErrorMessage(code byte) string {
	if msg, ok := appleErrorMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

// VerifyError builds the PairingError a failed Pair-Verify STATE=4 produces,
// with the exact phrasing spec.md's scenario 4 expects for code 2.
func VerifyError(code byte) *Error {
	return newAppleError(code, fmt.Sprintf("Pair verification failed: Authentication failed - %s", appleErrorMessage(code)))
}
