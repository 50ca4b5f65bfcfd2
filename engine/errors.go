package engine

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited         = errors.New("too many transactions with same amount at a short time")
	ErrInvalidInput        = errors.New("required parameters not passed/invalid")
	ErrAccountNotFound     = errors.New("account(s) not found")
	ErrInsufficientBalance = errors.New("balance is not enough to cover this transaction")
	ErrStorage             = errors.New("storage failure")
)

// Kind is the caller-visible category of a failed transfer.
type Kind string

const (
	KindRateLimited         Kind = "rate_limited"
	KindInvalidInput        Kind = "invalid_input"
	KindAccountNotFound     Kind = "account_not_found"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. It returns "" for nil and KindInternal for anything
// that is not one of the engine's sentinel errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	default:
		return KindInternal
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
