/**
 * @description
 * This file defines the account domain model for the transfer-service. An account
 * is the ledger-side view of a customer wallet: its balances, its floor, and its
 * lifecycle status.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents/kobo),
 *   which avoids floating-point inaccuracies with financial data.
 * - `AvailableBalance` is `Balance` minus holds and must never exceed `Balance`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus enumerates the lifecycle states of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountInactive  AccountStatus = "inactive"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// Account represents a customer's ledger account.
// Balance mutations only happen inside a committed ledger transaction while the
// account's transfer lock is held.
type Account struct {
	ID               uuid.UUID     `json:"id"`
	OwnerID          uuid.UUID     `json:"owner_id"`
	AccountNumber    string        `json:"account_number"`
	Currency         string        `json:"currency"`
	Balance          int64         `json:"balance"`           // ledger total, minor units
	AvailableBalance int64         `json:"available_balance"` // balance minus holds
	MinimumBalance   int64         `json:"minimum_balance"`   // floor that balance may never cross
	Status           AccountStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// BalanceSnapshot is the read model returned by the balance endpoint.
type BalanceSnapshot struct {
	AccountID        uuid.UUID `json:"account_id"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	AvailableBalance int64     `json:"available_balance"`
	MinimumBalance   int64     `json:"minimum_balance"`
}
