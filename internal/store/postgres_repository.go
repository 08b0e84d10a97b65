/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` and
 * `LedgerTx` interfaces. It contains all the SQL needed to interact with the
 * accounts, transactions, fraud_alerts, notification_preferences,
 * delivery_attempts and notifications tables.
 *
 * Key properties:
 * - Balance mutations and transaction-row writes happen inside one pgx
 *   transaction opened by WithTransaction; partial failures roll back cleanly.
 * - Account loads inside a ledger transaction use SELECT ... FOR UPDATE so two
 *   commits never interleave on the same row.
 * - The unique index on transactions.reference is surfaced as
 *   ErrDuplicateReference so the orchestrator can regenerate the reference.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vaultpay/transfer-service/internal/domain"
)

// PostgresRepository is the concrete Repository backed by a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, owner_id, account_number, currency, balance, available_balance, minimum_balance, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.AccountNumber, &a.Currency,
		&a.Balance, &a.AvailableBalance, &a.MinimumBalance,
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// WithTransaction opens a database transaction, runs fn, and commits iff fn
// returns nil. The deferred rollback is a no-op after a successful commit.
func (r *PostgresRepository) WithTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresLedgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// postgresLedgerTx implements LedgerTx over one open pgx transaction.
type postgresLedgerTx struct {
	tx pgx.Tx
}

// GetAccountForUpdate loads an account by id and owner with a row lock.
// A frozen or closed account returns ErrAccountInactive.
func (t *postgresLedgerTx) GetAccountForUpdate(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND owner_id = $2 FOR UPDATE`
	return requireActive(scanAccount(t.tx.QueryRow(ctx, query, accountID, ownerID)))
}

// GetAccountByNumberForUpdate loads an account by account number with a row
// lock. A frozen or closed account returns ErrAccountInactive.
func (t *postgresLedgerTx) GetAccountByNumberForUpdate(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1 FOR UPDATE`
	return requireActive(scanAccount(t.tx.QueryRow(ctx, query, accountNumber)))
}

func requireActive(a *domain.Account, err error) (*domain.Account, error) {
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AccountActive {
		return nil, ErrAccountInactive
	}
	return a, nil
}

// CreateTransaction inserts one ledger entry.
func (t *postgresLedgerTx) CreateTransaction(ctx context.Context, entry *domain.Transaction) error {
	var metadata []byte
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}

	query := `
		INSERT INTO transactions (
			id, source_account_id, destination_account_id, type, status,
			amount, fee, currency, description, reference, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.Exec(ctx, query,
		entry.ID, entry.SourceAccountID, entry.DestinationAccountID,
		entry.Type, entry.Status, entry.Amount, entry.Fee, entry.Currency,
		entry.Description, entry.Reference, metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// UpdateTransactionStatus moves one entry along its status ladder. Completed
// and failed entries are terminal and are never updated again.
func (t *postgresLedgerTx) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus) error {
	query := `
		UPDATE transactions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ('completed', 'failed')
	`
	tag, err := t.tx.Exec(ctx, query, status, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// DebitAccount decreases both balance and available balance. The update is
// guarded against overdrawing available funds or crossing the minimum-balance
// floor; the row is already held FOR UPDATE in this transaction, so zero rows
// affected means the guard rejected the debit.
func (t *postgresLedgerTx) DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64) error {
	query := `
		UPDATE accounts
		SET balance = balance - $1, available_balance = available_balance - $1, updated_at = NOW()
		WHERE id = $2 AND available_balance >= $1 AND balance - $1 >= minimum_balance
	`
	tag, err := t.tx.Exec(ctx, query, amount, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreditAccount increases both balance and available balance.
func (t *postgresLedgerTx) CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64) error {
	query := `
		UPDATE accounts
		SET balance = balance + $1, available_balance = available_balance + $1, updated_at = NOW()
		WHERE id = $2
	`
	tag, err := t.tx.Exec(ctx, query, amount, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// FindAccountByOwner loads an account by id and owner without locking.
func (r *PostgresRepository) FindAccountByOwner(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND owner_id = $2`
	return scanAccount(r.db.QueryRow(ctx, query, accountID, ownerID))
}

// FindTransactionsBySender lists outgoing entries for an owner, newest first.
func (r *PostgresRepository) FindTransactionsBySender(ctx context.Context, ownerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT t.id, t.source_account_id, t.destination_account_id, t.type, t.status,
		       t.amount, t.fee, t.currency, t.description, t.reference, t.metadata,
		       t.created_at, t.updated_at
		FROM transactions t
		JOIN accounts a ON a.id = t.source_account_id
		WHERE a.owner_id = $1
		  AND ($2 = '' OR t.status = $2)
		ORDER BY t.created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, ownerID, opts.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		var entry domain.Transaction
		var metadata []byte
		if err := rows.Scan(
			&entry.ID, &entry.SourceAccountID, &entry.DestinationAccountID,
			&entry.Type, &entry.Status, &entry.Amount, &entry.Fee, &entry.Currency,
			&entry.Description, &entry.Reference, &metadata,
			&entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			var meta domain.TransferMetadata
			if err := json.Unmarshal(metadata, &meta); err == nil {
				entry.Metadata = &meta
			}
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

// FailStaleProcessingTransactions marks processing entries older than the
// cutoff as failed and returns how many rows changed.
func (r *PostgresRepository) FailStaleProcessingTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE transactions SET status = 'failed', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AmountsSince returns outgoing entry amounts for an owner since the cutoff.
func (r *PostgresRepository) AmountsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]int64, error) {
	query := `
		SELECT t.amount
		FROM transactions t
		JOIN accounts a ON a.id = t.source_account_id
		WHERE a.owner_id = $1 AND t.type = 'transfer' AND t.created_at >= $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}
	return amounts, rows.Err()
}

// CountOutgoingSince counts an owner's outgoing entries since the cutoff.
func (r *PostgresRepository) CountOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN accounts a ON a.id = t.source_account_id
		WHERE a.owner_id = $1 AND t.type = 'transfer' AND t.created_at >= $2
	`
	var count int
	err := r.db.QueryRow(ctx, query, ownerID, since).Scan(&count)
	return count, err
}

// SumCompletedOutgoingSince sums an owner's completed outgoing amounts since
// the cutoff.
func (r *PostgresRepository) SumCompletedOutgoingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM transactions t
		JOIN accounts a ON a.id = t.source_account_id
		WHERE a.owner_id = $1 AND t.type = 'transfer' AND t.status = 'completed' AND t.created_at >= $2
	`
	var total int64
	err := r.db.QueryRow(ctx, query, ownerID, since).Scan(&total)
	return total, err
}

// RecentOrigins returns the most recently seen request origins for an owner.
func (r *PostgresRepository) RecentOrigins(ctx context.Context, ownerID uuid.UUID, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	// The limit applies after ordering distinct origins by last use, so the
	// most recently seen origins always make the window.
	query := `
		SELECT origin FROM (
			SELECT t.metadata->>'origin' AS origin, MAX(t.created_at) AS last_seen
			FROM transactions t
			JOIN accounts a ON a.id = t.source_account_id
			WHERE a.owner_id = $1 AND t.metadata->>'origin' IS NOT NULL
			GROUP BY t.metadata->>'origin'
			ORDER BY last_seen DESC
			LIMIT $2
		) recent
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var origins []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, err
		}
		origins = append(origins, origin)
	}
	return origins, rows.Err()
}

// CreateFraudAlert persists one high/critical assessment record.
func (r *PostgresRepository) CreateFraudAlert(ctx context.Context, alert *domain.FraudAlert) error {
	reasons, err := json.Marshal(alert.Reasons)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO fraud_alerts (id, account_id, owner_id, score, level, reasons, amount, origin, blocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		alert.ID, alert.AccountID, alert.OwnerID, alert.Score, alert.Level,
		reasons, alert.Amount, alert.Origin, alert.Blocked,
	)
	return err
}

// ListOperatorUserIDs returns the users flagged as operators/administrators.
func (r *PostgresRepository) ListOperatorUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE role IN ('operator', 'admin')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindOrCreateChannelPreferences loads a user's preference record,
// auto-provisioning the defaults on first use.
func (r *PostgresRepository) FindOrCreateChannelPreferences(ctx context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error) {
	query := `SELECT user_id, channels, category_overrides, created_at, updated_at FROM notification_preferences WHERE user_id = $1`

	var prefs domain.ChannelPreferences
	var channels, overrides []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(&prefs.UserID, &channels, &overrides, &prefs.CreatedAt, &prefs.UpdatedAt)
	if err == nil {
		if err := json.Unmarshal(channels, &prefs.Channels); err != nil {
			return nil, err
		}
		if len(overrides) > 0 {
			if err := json.Unmarshal(overrides, &prefs.CategoryOverrides); err != nil {
				return nil, err
			}
		}
		return &prefs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	defaults := domain.DefaultChannelPreferences(userID)
	channelsJSON, err := json.Marshal(defaults.Channels)
	if err != nil {
		return nil, err
	}
	insert := `
		INSERT INTO notification_preferences (user_id, channels, category_overrides)
		VALUES ($1, $2, '{}')
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, userID, channelsJSON); err != nil {
		return nil, err
	}
	return defaults, nil
}

// UpdateChannelPreferences replaces a user's preference record.
func (r *PostgresRepository) UpdateChannelPreferences(ctx context.Context, prefs *domain.ChannelPreferences) error {
	channels, err := json.Marshal(prefs.Channels)
	if err != nil {
		return err
	}
	overrides, err := json.Marshal(prefs.CategoryOverrides)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO notification_preferences (user_id, channels, category_overrides)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET channels = EXCLUDED.channels, category_overrides = EXCLUDED.category_overrides, updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query, prefs.UserID, channels, overrides)
	return err
}

// RecordDeliveryAttempt inserts one delivery log row.
func (r *PostgresRepository) RecordDeliveryAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	query := `
		INSERT INTO delivery_attempts (id, event_id, channel, provider, status, attempt, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		attempt.ID, attempt.EventID, attempt.Channel, attempt.Provider,
		attempt.Status, attempt.Attempt, attempt.Error,
	)
	return err
}

// CreateInAppNotification writes one in-app feed row.
func (r *PostgresRepository) CreateInAppNotification(ctx context.Context, item *domain.InAppNotification) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	query := `
		INSERT INTO notifications (id, user_id, category, title, body, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, item.ID, item.UserID, item.Category, item.Title, item.Body, item.Data)
	return err
}

// ListInAppNotifications returns a user's in-app feed, newest first.
func (r *PostgresRepository) ListInAppNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, category, title, body, data, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = '' OR category = $2)
		  AND (NOT $3 OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, userID, opts.Category, opts.Unread, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.InAppNotification
	for rows.Next() {
		var item domain.InAppNotification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Category, &item.Title, &item.Body, &item.Data, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkInAppNotificationRead stamps read_at on one unread notification.
func (r *PostgresRepository) MarkInAppNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
