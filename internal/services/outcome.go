package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// Operation outcomes. Business rejections are sentinel errors so callers
// can branch with errors.Is instead of collapsing everything to a boolean.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNotFound            = errors.New("not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrSelfTransfer        = errors.New("cannot transfer to own account")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount")

	// ErrUnavailable marks infrastructure failure (store down, lock
	// timeout, commit conflict). The operation did not take effect and
	// is safe to retry.
	ErrUnavailable = errors.New("service unavailable, retry later")
)

// pq error classes that indicate the store, not the request, is at fault.
const (
	pqClassConnection      = "08"
	pqClassResources       = "53"
	pqClassOperatorAction  = "57"
	pqClassTxnRollback     = "40"
	pqCodeUniqueViolation  = "23505"
	pqCodeLockNotAvailable = "55P03"
)

// classifyInfra maps a store error into the retryable ErrUnavailable
// category, preserving the cause. Business outcomes pass through.
func classifyInfra(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInsufficientFunds) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s timed out", ErrUnavailable, op)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case string(pqErr.Code) == pqCodeLockNotAvailable,
			pqErr.Code.Class() == pqClassConnection,
			pqErr.Code.Class() == pqClassResources,
			pqErr.Code.Class() == pqClassOperatorAction,
			pqErr.Code.Class() == pqClassTxnRollback:
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqCodeUniqueViolation
}

// statusForError maps an outcome to its HTTP status for the response layer.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSelfTransfer):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrBeneficiaryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
