package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects malformed input. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientFunds means the account cannot cover the reservation. Terminal for this branch.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	// ErrUnknownBranch is returned by Confirm when no Try has been recorded for the branch.
	// The coordinator should retry once Try has landed.
	ErrUnknownBranch = errors.New("unknown branch")
	// ErrInvalidTransition signals a request that contradicts the branch's terminal state,
	// such as Confirm after Cancel or Try after a null-compensating Cancel.
	ErrInvalidTransition = errors.New("invalid branch transition")
	// ErrStoreUnavailable wraps every storage failure and timeout. Retry with the same arguments.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Result is the outcome reported to the coordinator for one branch call.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidRequest
	ResultInsufficientFunds
	ResultAccountNotFound
	ResultUnknownBranch
	ResultInvalidTransition
	ResultStoreUnavailable
)

var resultNames = [...]string{
	ResultOK:                "OK",
	ResultInvalidRequest:    "InvalidRequest",
	ResultInsufficientFunds: "InsufficientFunds",
	ResultAccountNotFound:   "AccountNotFound",
	ResultUnknownBranch:     "UnknownBranch",
	ResultInvalidTransition: "InvalidTransition",
	ResultStoreUnavailable:  "StoreUnavailable",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Retryable reports whether the same call may succeed later without any other change.
func (r Result) Retryable() bool {
	return r == ResultStoreUnavailable || r == ResultUnknownBranch
}

// ResultOf classifies an error returned by TCCParticipant. Anything unrecognised is
// treated as a store failure.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrInvalidRequest):
		return ResultInvalidRequest
	case errors.Is(err, ErrInsufficientFunds):
		return ResultInsufficientFunds
	case errors.Is(err, ErrAccountNotFound):
		return ResultAccountNotFound
	case errors.Is(err, ErrUnknownBranch):
		return ResultUnknownBranch
	case errors.Is(err, ErrInvalidTransition):
		return ResultInvalidTransition
	default:
		return ResultStoreUnavailable
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUnknownBranch) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStoreUnavailable)
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

type callerKey struct{}

// ContextWithCaller records the authenticated coordinator on ctx so branch calls can be
// attributed in logs.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the coordinator recorded by ContextWithCaller.
func CallerFrom(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok && caller != ""
}
