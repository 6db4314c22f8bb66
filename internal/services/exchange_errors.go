package services

import (
	"errors"
	"fmt"
)

// Validation failures. They are reported to the caller as-is and never
// retried.
var (
	ErrSelfTransaction  = errors.New("you cannot exchange your own item")
	ErrDuplicateRequest = errors.New("you already have a pending request for this item")
	ErrInvalidOffer     = errors.New("invalid offered item")
)

// Lookup and authorization failures.
var (
	ErrItemNotFound    = errors.New("item not found")
	ErrRequestNotFound = errors.New("swap request not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNotAuthorized   = errors.New("not authorized for this action")
)

// Concurrency losses: somebody else changed the record first. Callers should
// refresh rather than retry blindly.
var (
	ErrItemUnavailable   = errors.New("item is no longer available")
	ErrItemChanged       = errors.New("item price changed, review it and try again")
	ErrRequestNotPending = errors.New("swap request is no longer pending")
)

// InsufficientPointsError reports a redemption the requester cannot afford.
type InsufficientPointsError struct {
	Required  int
	Available int
}

// Shortfall is the number of points still missing.
func (e *InsufficientPointsError) Shortfall() int {
	if e.Available >= e.Required {
		return 0
	}
	return e.Required - e.Available
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: you need %d more points to redeem this item", e.Shortfall())
}

// PartialFailureError reports a multi-step mutation that failed midway and
// was rolled back. Nothing it touched remains changed.
type PartialFailureError struct {
	Op  string
	Err error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s failed and was rolled back: %v", e.Op, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// InconsistencyError reports a failed rollback. The item, request and balance
// records may disagree and need manual reconciliation.
type InconsistencyError struct {
	Op          string
	Err         error
	RollbackErr error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s left records inconsistent: %v (rollback: %v)", e.Op, e.Err, e.RollbackErr)
}

func (e *InconsistencyError) Unwrap() []error {
	return []error{e.Err, e.RollbackErr}
}
