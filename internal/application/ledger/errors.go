package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateAccount  = errors.New("Account already exists in the pool")
	ErrAccountNotFound   = errors.New("Account not found")
	ErrNotAllocated      = errors.New("Account is not allocated")
	ErrIllegalTransition = errors.New("Illegal account status transition")
	ErrStoreUnavailable  = errors.New("Store unavailable")
	ErrInsufficientNotes = errors.New("Notes do not meet the minimum content requirement")
)

// ViolationCode identifies one violated allocation precondition.
type ViolationCode string

const (
	ViolationAccountNotFound    ViolationCode = "ACCOUNT_NOT_FOUND"
	ViolationAccountUnavailable ViolationCode = "ACCOUNT_ALREADY_ALLOCATED"
	ViolationDuplicateInRequest ViolationCode = "DUPLICATE_ACCOUNT_IN_REQUEST"
	ViolationSumMismatch        ViolationCode = "ALLOCATION_SUM_MISMATCH"
	ViolationInsufficientNotes  ViolationCode = "INSUFFICIENT_NOTES"
	ViolationInvalidAmount      ViolationCode = "INVALID_AMOUNT"
)

// Violation is one named precondition failure inside a rejected request.
type Violation struct {
	Code          ViolationCode `json:"code"`
	AccountNumber string        `json:"account_number,omitempty"`
	Message       string        `json:"message"`
}

// AllocationRejectedError rejects an allocate call. It carries every
// violated precondition at once so operators can correct a multi-account
// request in one pass. Retryable is set only for exclusivity races lost at
// the commit point: the request was well-formed and may be retried with a
// different account.
type AllocationRejectedError struct {
	Violations []Violation `json:"violations"`
	Retryable  bool        `json:"retryable"`
}

func (e *AllocationRejectedError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("allocation rejected: %s", e.Violations[0].Message)
	}
	return fmt.Sprintf("allocation rejected: %d precondition violations", len(e.Violations))
}

// HasCode reports whether any violation carries the given code.
func (e *AllocationRejectedError) HasCode(code ViolationCode) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
