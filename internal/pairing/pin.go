package pairing

import (
	"context"
	"fmt"
	"time"
)

// PINTimeout is the ceiling the controller waits for a PIN before aborting
// Pair-Setup (spec.md §4.3 step 5, §5).
const PINTimeout = 120 * time.Second

// PINPrompter obtains the on-screen PIN a device displays during Pair-Setup.
// It is a capability interface so tests can supply a fixed PIN without a
// human at a keyboard.
type PINPrompter interface {
	PromptPIN(ctx context.Context) (string, error)
}

// PINPrompterFunc adapts a function to PINPrompter.
type PINPrompterFunc func(ctx context.Context) (string, error)

func (f PINPrompterFunc) PromptPIN(ctx context.Context) (string, error) { return f(ctx) }

// FixedPIN returns a PINPrompter that always answers with pin, for tests and
// for callers that already collected the PIN out of band.
func FixedPIN(pin string) PINPrompter {
	return PINPrompterFunc(func(ctx context.Context) (string, error) {
		return pin, nil
	})
}

func validatePIN(pin string) error {
	if pin == "" {
		return newError(CodeInvalidPIN, "empty PIN")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return newError(CodeInvalidPIN, fmt.Sprintf("non-numeric PIN: %q", pin))
		}
	}
	return nil
}
