package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientTokens is returned when a debit exceeds the wallet balance.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrCapExceeded is returned when a debit would push month-to-date spend
	// past a hard monthly cap.
	ErrCapExceeded = errors.New("monthly cap exceeded")

	// ErrInvalidMonth is returned for month arguments not formatted YYYY-MM.
	ErrInvalidMonth = errors.New("invalid month")
)

// InsufficientTokensError carries the balance details a caller needs to build
// an upgrade prompt. It matches ErrInsufficientTokens under errors.Is.
type InsufficientTokensError struct {
	WorkspaceID string
	Balance     int64
	Required    int64
	Metadata    map[string]interface{}
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// CapExceededError reports a hard-cap rejection. It matches ErrCapExceeded
// under errors.Is.
type CapExceededError struct {
	WorkspaceID string
	Cap         int64
	Used        int64
	Required    int64
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("monthly cap exceeded: cap %d, used %d, required %d", e.Cap, e.Used, e.Required)
}

func (e *CapExceededError) Is(target error) bool {
	return target == ErrCapExceeded
}
