/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct orchestrates the risk-gated transfer pipeline: it acquires
 * the source-account lock, opens a ledger transaction, validates preconditions,
 * consults the risk engine, mutates balances, commits, and finally emits
 * best-effort outcome notifications and realtime signals.
 *
 * Key features:
 * - Every dependency (repository, lock, risk engine, notifier, realtime
 *   publisher) is injected; there are no process-wide singletons.
 * - Any error between transaction open and commit rolls back every statement
 *   and the lock is released on every exit path.
 * - The lock is dropped as soon as the ledger transaction returns; fraud
 *   alerts, outcome events and realtime signals all run unlocked.
 * - Post-commit side effects never roll back or mask a committed transfer.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/realtime: For the best-effort realtime signal boundary.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
	"github.com/vaultpay/transfer-service/internal/store"
	"github.com/vaultpay/transfer-service/pkg/realtime"
)

// feeRateDivisor encodes the 0.1% proportional fee: fee = amount / 1000,
// floored at the configured minimum fee.
const feeRateDivisor = 1000

const referenceAttempts = 3

// Locker is the mutual-exclusion lock boundary keyed by source account id.
type Locker interface {
	Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID string) (bool, error)
}

// RiskScorer is the risk engine boundary.
type RiskScorer interface {
	Score(ctx context.Context, candidate domain.TransferCandidate) domain.RiskAssessment
}

// Notifier is the fan-out boundary. Dispatch returns immediately and completes
// asynchronously.
type Notifier interface {
	Dispatch(event domain.NotificationEvent)
}

// Service provides the core business logic for transfers.
type Service struct {
	repo       store.Repository
	locks      Locker
	risk       RiskScorer
	notifier   Notifier
	realtime   realtime.Publisher
	lockTTL    time.Duration
	minimumFee int64

	now          func() time.Time
	newReference func() string
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository, locks Locker, risk RiskScorer, notifier Notifier, rt realtime.Publisher, lockTTL time.Duration, minimumFee int64) *Service {
	return &Service{
		repo:         repo,
		locks:        locks,
		risk:         risk,
		notifier:     notifier,
		realtime:     rt,
		lockTTL:      lockTTL,
		minimumFee:   minimumFee,
		now:          time.Now,
		newReference: generateReference,
	}
}

// generateReference builds a time-based reference with a random suffix. The
// transactions table enforces uniqueness; the orchestrator regenerates on a
// duplicate instead of trusting the collision probability.
func generateReference() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// Fall back to nanosecond entropy only.
		return fmt.Sprintf("TRF-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("TRF-%d-%X", time.Now().UnixNano(), suffix)
}

// feeFor computes max(amount x 0.1%, minimum fee).
func (s *Service) feeFor(amount int64) int64 {
	fee := amount / feeRateDivisor
	if fee < s.minimumFee {
		fee = s.minimumFee
	}
	return fee
}

// Transfer moves money between two accounts. It implements the full pipeline:
// lock, ledger transaction, validation, risk gate, balance mutation, commit,
// then best-effort outcome events.
func (s *Service) Transfer(ctx context.Context, userID uuid.UUID, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	if req.Amount <= 0 {
		return nil, &ValidationError{Reason: "transfer amount must be positive"}
	}
	if req.DestinationAccountNumber == "" {
		return nil, &ValidationError{Reason: "destination account number is required"}
	}

	lockKey := req.SourceAccountID.String()
	acquired, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		log.Printf("level=error component=transfer msg=\"lock acquire failed\" account_id=%s err=%v", req.SourceAccountID, err)
		return nil, ErrTransferFailed
	}
	if !acquired {
		return nil, ErrAccountBusy
	}
	released := false
	releaseLock := func() {
		if released {
			return
		}
		released = true
		if _, releaseErr := s.locks.Release(context.WithoutCancel(ctx), lockKey); releaseErr != nil {
			log.Printf("level=error component=transfer msg=\"lock release failed; ttl will expire it\" account_id=%s err=%v", req.SourceAccountID, releaseErr)
		}
	}
	defer releaseLock()

	var (
		source     *domain.Account
		dest       *domain.Account
		principal  *domain.Transaction
		fee        int64
		assessment *domain.RiskAssessment
	)

	txErr := s.repo.WithTransaction(ctx, func(tx store.LedgerTx) error {
		var err error
		source, err = tx.GetAccountForUpdate(ctx, req.SourceAccountID, userID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) || errors.Is(err, store.ErrAccountInactive) {
				return &ValidationError{Reason: "source account not found or not active"}
			}
			return err
		}
		dest, err = tx.GetAccountByNumberForUpdate(ctx, req.DestinationAccountNumber)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) || errors.Is(err, store.ErrAccountInactive) {
				return &ValidationError{Reason: "destination account not found or not active"}
			}
			return err
		}
		if source.ID == dest.ID {
			return &ValidationError{Reason: "cannot transfer to the same account"}
		}
		if source.Currency != dest.Currency {
			return &ValidationError{Reason: "source and destination accounts use different currencies"}
		}

		fee = s.feeFor(req.Amount)
		if source.AvailableBalance < req.Amount+fee {
			return &ValidationError{Reason: "insufficient funds including fees"}
		}
		if source.Balance-(req.Amount+fee) < source.MinimumBalance {
			return &ValidationError{Reason: "transfer would violate minimum balance requirement"}
		}

		result := s.risk.Score(ctx, domain.TransferCandidate{
			AccountID:        source.ID,
			OwnerID:          source.OwnerID,
			Amount:           req.Amount,
			Currency:         source.Currency,
			Origin:           req.Origin,
			AccountCreatedAt: source.CreatedAt,
			At:               s.now(),
		})
		assessment = &result
		if result.ShouldBlock {
			return &RiskBlockedError{Reasons: result.Reasons}
		}

		principal, err = s.insertPrincipal(ctx, tx, source, dest, req, fee)
		if err != nil {
			return err
		}
		if fee > 0 {
			feeEntry := &domain.Transaction{
				ID:              uuid.New(),
				SourceAccountID: &source.ID,
				Type:            domain.TransactionFee,
				// Fee assessment carries no further risk, so the entry is
				// completed directly.
				Status:      domain.TransactionCompleted,
				Amount:      fee,
				Currency:    source.Currency,
				Description: "transfer fee for " + principal.Reference,
				Reference:   principal.Reference + "-FEE",
				Metadata:    &domain.TransferMetadata{LinkedEntryID: principal.ID.String()},
			}
			if err := tx.CreateTransaction(ctx, feeEntry); err != nil {
				return err
			}
		}

		if err := tx.DebitAccount(ctx, source.ID, req.Amount+fee); err != nil {
			// The store guards the debit against overdraw as well.
			if errors.Is(err, store.ErrInsufficientFunds) {
				return &ValidationError{Reason: "insufficient funds including fees"}
			}
			return err
		}
		if err := tx.CreditAccount(ctx, dest.ID, req.Amount); err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, principal.ID, domain.TransactionCompleted)
	})

	// The ledger work is finished once the transaction returns, committed or
	// rolled back. Everything past this point is fan-out and must not extend
	// the serialization window on the source account.
	releaseLock()

	// High/critical assessments raise an operator alert whether or not the
	// transfer itself went through.
	if assessment != nil && (assessment.Level == domain.RiskHigh || assessment.Level == domain.RiskCritical) {
		s.raiseFraudAlert(ctx, source, req, assessment)
	}

	if txErr != nil {
		var validation *ValidationError
		var blocked *RiskBlockedError
		if errors.As(txErr, &validation) || errors.As(txErr, &blocked) {
			return nil, txErr
		}
		log.Printf("level=error component=transfer msg=\"transfer failed\" account_id=%s err=%v", req.SourceAccountID, txErr)
		return nil, ErrTransferFailed
	}

	s.emitTransferOutcome(ctx, source, dest, principal, fee)

	return &domain.TransferReceipt{
		Reference:     principal.Reference,
		TransactionID: principal.ID,
		Amount:        req.Amount,
		Fee:           fee,
		Currency:      source.Currency,
		Status:        string(domain.TransactionCompleted),
	}, nil
}

// insertPrincipal inserts the principal transfer row, regenerating the
// reference on a duplicate up to a small bounded number of tries.
func (s *Service) insertPrincipal(ctx context.Context, tx store.LedgerTx, source, dest *domain.Account, req domain.TransferRequest, fee int64) (*domain.Transaction, error) {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		entry := &domain.Transaction{
			ID:                   uuid.New(),
			SourceAccountID:      &source.ID,
			DestinationAccountID: &dest.ID,
			Type:                 domain.TransactionTransfer,
			Status:               domain.TransactionProcessing,
			Amount:               req.Amount,
			Fee:                  fee,
			Currency:             source.Currency,
			Description:          req.Description,
			Reference:            s.newReference(),
			Metadata: &domain.TransferMetadata{
				Origin:      req.Origin,
				InitiatedBy: source.OwnerID.String(),
			},
		}
		err := tx.CreateTransaction(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, store.ErrDuplicateReference) {
			log.Printf("level=warn component=transfer msg=\"reference collision; regenerating\" reference=%s", entry.Reference)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("could not generate a unique transfer reference after %d attempts", referenceAttempts)
}

// raiseFraudAlert persists the assessment and notifies every operator. All of
// this is best-effort: failures are logged and never affect the transfer
// outcome.
func (s *Service) raiseFraudAlert(ctx context.Context, source *domain.Account, req domain.TransferRequest, assessment *domain.RiskAssessment) {
	if source == nil {
		return
	}
	alert := &domain.FraudAlert{
		ID:        uuid.New(),
		AccountID: source.ID,
		OwnerID:   source.OwnerID,
		Score:     assessment.Score,
		Level:     assessment.Level,
		Reasons:   assessment.Reasons,
		Amount:    req.Amount,
		Origin:    req.Origin,
		Blocked:   assessment.ShouldBlock,
	}
	if err := s.repo.CreateFraudAlert(ctx, alert); err != nil {
		log.Printf("level=error component=transfer msg=\"fraud alert persistence failed\" account_id=%s err=%v", source.ID, err)
	}

	operators, err := s.repo.ListOperatorUserIDs(ctx)
	if err != nil {
		log.Printf("level=error component=transfer msg=\"operator lookup failed; fraud alert not fanned out\" err=%v", err)
		return
	}
	for _, operatorID := range operators {
		s.notifier.Dispatch(domain.NotificationEvent{
			ID:       uuid.New(),
			UserID:   operatorID,
			Category: domain.CategoryFraudAlert,
			Priority: domain.PriorityCritical,
			Title:    "High-risk transfer detected",
			Message:  fmt.Sprintf("Account %s attempted a transfer of %s scoring %d (%s)", source.ID, formatAmount(req.Amount, source.Currency), assessment.Score, assessment.Level),
			Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelInApp},
			Payload: domain.FraudAlertPayload{
				AccountID: source.ID,
				Score:     assessment.Score,
				Level:     assessment.Level,
				Reasons:   assessment.Reasons,
				Amount:    req.Amount,
				Blocked:   assessment.ShouldBlock,
			},
		})
	}
}

// emitTransferOutcome fires the post-commit notification events and realtime
// signals for both parties. Failures here must never mask the committed
// transfer; everything is logged and dropped.
func (s *Service) emitTransferOutcome(ctx context.Context, source, dest *domain.Account, principal *domain.Transaction, fee int64) {
	amountText := formatAmount(principal.Amount, principal.Currency)

	s.notifier.Dispatch(domain.NotificationEvent{
		ID:       uuid.New(),
		UserID:   source.OwnerID,
		Category: domain.CategoryTransaction,
		Priority: domain.PriorityMedium,
		Title:    "Transfer sent",
		Message:  fmt.Sprintf("You sent %s. Reference %s.", amountText, principal.Reference),
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp},
		Payload: domain.TransferOutcomePayload{
			Reference: principal.Reference,
			Amount:    principal.Amount,
			Fee:       fee,
			Currency:  principal.Currency,
			Direction: "sent",
		},
	})
	s.notifier.Dispatch(domain.NotificationEvent{
		ID:       uuid.New(),
		UserID:   dest.OwnerID,
		Category: domain.CategoryTransaction,
		Priority: domain.PriorityMedium,
		Title:    "Transfer received",
		Message:  fmt.Sprintf("You received %s. Reference %s.", amountText, principal.Reference),
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp},
		Payload: domain.TransferOutcomePayload{
			Reference: principal.Reference,
			Amount:    principal.Amount,
			Currency:  principal.Currency,
			Direction: "received",
		},
	})

	for _, signal := range []struct {
		userID uuid.UUID
		kind   string
	}{
		{source.OwnerID, "transaction.completed"},
		{dest.OwnerID, "transaction.received"},
	} {
		payload := map[string]interface{}{
			"type":      signal.kind,
			"reference": principal.Reference,
			"amount":    principal.Amount,
			"currency":  principal.Currency,
		}
		if err := s.realtime.Publish(ctx, "user:"+signal.userID.String(), payload); err != nil {
			log.Printf("level=warn component=transfer msg=\"realtime publish failed\" user_id=%s err=%v", signal.userID, err)
		}
	}
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, minor/100, minor%100)
}

// GetBalance returns the balance snapshot for one of the caller's accounts.
func (s *Service) GetBalance(ctx context.Context, userID, accountID uuid.UUID) (*domain.BalanceSnapshot, error) {
	account, err := s.repo.FindAccountByOwner(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceSnapshot{
		AccountID:        account.ID,
		Currency:         account.Currency,
		Balance:          account.Balance,
		AvailableBalance: account.AvailableBalance,
		MinimumBalance:   account.MinimumBalance,
	}, nil
}

// ListTransfers returns the caller's outgoing transfer history.
func (s *Service) ListTransfers(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsBySender(ctx, userID, opts)
}

// ListNotifications returns the caller's in-app notification feed.
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error) {
	return s.repo.ListInAppNotifications(ctx, userID, opts)
}

// MarkNotificationRead stamps one in-app notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	return s.repo.MarkInAppNotificationRead(ctx, userID, notificationID)
}

// GetPreferences returns the caller's channel preference record,
// auto-provisioning defaults on first use.
func (s *Service) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error) {
	return s.repo.FindOrCreateChannelPreferences(ctx, userID)
}

// UpdatePreferences replaces the caller's channel preference record.
func (s *Service) UpdatePreferences(ctx context.Context, prefs *domain.ChannelPreferences) error {
	return s.repo.UpdateChannelPreferences(ctx, prefs)
}
