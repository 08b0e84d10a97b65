/**
 * @description
 * This file defines the error taxonomy surfaced by the transfer orchestrator:
 * conflicts (lock unavailable), validation failures (surfaced verbatim),
 * risk blocks (surfaced with the collected reasons), and the generic message
 * that masks unexpected internal errors.
 */

package app

import (
	"errors"
	"strings"
)

// ErrAccountBusy is returned when the source account's transfer lock is held
// by another in-flight transaction. No system state has changed; the caller
// should retry shortly.
var ErrAccountBusy = errors.New("another transaction is in progress for this account")

// ErrTransferFailed masks unexpected internal errors. The full detail is
// logged server-side only.
var ErrTransferFailed = errors.New("transfer could not be completed, please try again later")

// ValidationError is a user-facing precondition failure surfaced verbatim.
// The ledger transaction has been rolled back with no partial effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RiskBlockedError is returned when the risk engine declines the transfer.
type RiskBlockedError struct {
	Reasons []string
}

func (e *RiskBlockedError) Error() string {
	return "transfer blocked by fraud prevention: " + strings.Join(e.Reasons, "; ")
}
