/**
 * @description
 * This file defines the core ledger domain models for the transfer-service.
 * These structs represent the entities and data transfer objects (DTOs) used
 * throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and event payloads
 *   ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` in the smallest currency unit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the economic event kinds recorded in the ledger.
type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionFee        TransactionType = "fee"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus enumerates the monotonic status ladder of a ledger entry.
// A completed or failed entry is terminal and is never re-opened.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
)

// Transaction represents one ledger entry. A transfer with a non-zero fee
// produces two linked entries sharing the same reference: the principal
// movement and the fee entry.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	SourceAccountID      *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID        `json:"destination_account_id,omitempty"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	Amount               int64             `json:"amount"` // minor units
	Fee                  int64             `json:"fee"`    // minor units
	Currency             string            `json:"currency"`
	Description          string            `json:"description"`
	Reference            string            `json:"reference"`
	Metadata             *TransferMetadata `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TransferMetadata is the closed, explicitly-typed metadata attached to
// transfer entries. Keeping this a struct rather than an open map keeps the
// payload shape checkable at compile time.
type TransferMetadata struct {
	Origin        string `json:"origin,omitempty"`          // network origin of the request
	InitiatedBy   string `json:"initiated_by,omitempty"`    // user id that triggered the movement
	LinkedEntryID string `json:"linked_entry_id,omitempty"` // fee entry id for a principal, and vice versa
}

// TransferRequest is the DTO for an incoming transfer API request.
type TransferRequest struct {
	SourceAccountID          uuid.UUID `json:"source_account_id"`
	DestinationAccountNumber string    `json:"destination_account_number"`
	Amount                   int64     `json:"amount"` // minor units
	Description              string    `json:"description"`
	Origin                   string    `json:"-"` // request network origin, filled by the API layer
}

// TransferReceipt is returned to the caller after a committed transfer.
type TransferReceipt struct {
	Reference     string    `json:"reference"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
}

// TransactionListOptions controls pagination for transfer history queries.
type TransactionListOptions struct {
	Limit  int
	Offset int
	Status string
}
