package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnreachable marks transport-level failures: the node could not be
// reached or did not answer in time. Callers may retry by policy.
var ErrUnreachable = errors.New("chain unreachable")

// ErrNotFound is returned when a product index or escrow order has no record
// on chain.
var ErrNotFound = errors.New("not found on chain")

// RevertError means the contract rejected the call. Retrying the same call
// without changing intent will revert again.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// EstimationError is a pre-flight rejection: gas estimation failed before any
// funds were spent, usually because the call would revert.
type EstimationError struct {
	Cause error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("gas estimation failed: %v", e.Cause)
}

func (e *EstimationError) Unwrap() error { return e.Cause }

// SubmissionError means the transaction was handed to the network but did not
// confirm as successful. It is ambiguous: the transaction may or may not have
// applied, so callers must re-read chain state before deciding what happened.
type SubmissionError struct {
	TxHash string
	Cause  error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("transaction %s failed: %v", e.TxHash, e.Cause)
	}
	return fmt.Sprintf("transaction submission failed: %v", e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// IsRevert reports whether err is a contract-level rejection.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}

// IsUnreachable reports whether err is a transport-level failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// classify splits raw provider errors into the revert/unreachable taxonomy.
// Anything that is not a recognizable contract rejection is treated as a
// transport failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(msg[i:], "execution reverted")
		reason = strings.TrimPrefix(reason, ":")
		return &RevertError{Reason: strings.TrimSpace(reason)}
	}
	if strings.Contains(msg, "revert") {
		return &RevertError{Reason: msg}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
