package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks client errors: missing text or text over the length
// limit. Raised before any technique matching occurs and never retried.
var ErrInvalidInput = errors.New("invalid input")

// MaxTextLength bounds inbound request text
const MaxTextLength = 16000

func validateText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidInput)
	}
	if len(text) > MaxTextLength {
		return fmt.Errorf("%w: text length %d exceeds limit %d", ErrInvalidInput, len(text), MaxTextLength)
	}
	return nil
}
