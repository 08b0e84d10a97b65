/**
 * @description
 * This file defines the `Repository` and `LedgerTx` interfaces, which specify the
 * contract for all data access operations required by the transfer-service. By
 * defining interfaces, we decouple the application's business logic from the
 * PostgreSQL implementation, making the code modular and easy to test.
 *
 * `Repository` covers pool-scoped reads and writes; `LedgerTx` covers the
 * operations available inside one atomic ledger transaction. The orchestrator
 * never issues a balance write outside an open `LedgerTx`.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds including fees")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")
)

// LedgerTx is the set of operations available inside one atomic ledger
// transaction. Every method runs against the same underlying database
// transaction; a returned error from the enclosing function rolls back all of
// them.
type LedgerTx interface {
	// Row-locked account loads. Both use SELECT ... FOR UPDATE. A missing row
	// surfaces as ErrAccountNotFound, a non-active one as ErrAccountInactive.
	GetAccountForUpdate(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.Account, error)
	GetAccountByNumberForUpdate(ctx context.Context, accountNumber string) (*domain.Account, error)

	// CreateTransaction inserts a ledger entry. It returns
	// ErrDuplicateReference when the unique reference constraint is violated so
	// the caller can regenerate and retry.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus) error

	// Balance mutations. Debit decreases both balance and available balance
	// and returns ErrInsufficientFunds when the write would overdraw available
	// funds or cross the minimum-balance floor; credit increases both.
	DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64) error
	CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64) error
}

// RiskHistory is the read-only slice of the repository consumed by the risk
// scoring engine.
type RiskHistory interface {
	AmountsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]int64, error)
	CountOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int, error)
	SumCompletedOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error)
	RecentOrigins(ctx context.Context, ownerID uuid.UUID, limit int) ([]string, error)
}

// Repository defines the full set of methods for interacting with the database.
type Repository interface {
	RiskHistory

	// WithTransaction opens a ledger transaction, runs fn against it, and
	// commits iff fn returns nil. Any error rolls back every statement.
	WithTransaction(ctx context.Context, fn func(tx LedgerTx) error) error

	// Account reads outside a transaction scope.
	FindAccountByOwner(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.Account, error)

	// Transfer history and reconciliation.
	FindTransactionsBySender(ctx context.Context, ownerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	FailStaleProcessingTransactions(ctx context.Context, olderThan time.Time) (int64, error)

	// Fraud alerts and operator directory.
	CreateFraudAlert(ctx context.Context, alert *domain.FraudAlert) error
	ListOperatorUserIDs(ctx context.Context) ([]uuid.UUID, error)

	// Notification preferences, delivery log, in-app feed.
	FindOrCreateChannelPreferences(ctx context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error)
	UpdateChannelPreferences(ctx context.Context, prefs *domain.ChannelPreferences) error
	RecordDeliveryAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	CreateInAppNotification(ctx context.Context, item *domain.InAppNotification) error
	ListInAppNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error)
	MarkInAppNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error)
}
