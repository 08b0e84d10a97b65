/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/app"
	"github.com/vaultpay/transfer-service/internal/domain"
	"github.com/vaultpay/transfer-service/internal/store"
)

// TransferService is the slice of the application service the HTTP layer
// depends on.
type TransferService interface {
	Transfer(ctx context.Context, userID uuid.UUID, req domain.TransferRequest) (*domain.TransferReceipt, error)
	GetBalance(ctx context.Context, userID, accountID uuid.UUID) (*domain.BalanceSnapshot, error)
	ListTransfers(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error)
	GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error)
	UpdatePreferences(ctx context.Context, prefs *domain.ChannelPreferences) error
	FailStaleTransfers(ctx context.Context, maxAge time.Duration) (int64, error)
}

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service             TransferService
	staleTransferMaxAge time.Duration
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service TransferService, staleTransferMaxAge time.Duration) *TransferHandlers {
	return &TransferHandlers{service: service, staleTransferMaxAge: staleTransferMaxAge}
}

// resolveAuthenticatedUserID extracts and parses the authenticated user ID.
// A non-zero status code means the request must be rejected with that code.
func (h *TransferHandlers) resolveAuthenticatedUserID(r *http.Request) (uuid.UUID, int, string) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		return uuid.Nil, http.StatusInternalServerError, "Could not get user ID from context"
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		return uuid.Nil, http.StatusUnauthorized, "Invalid user ID format"
	}
	return userID, 0, ""
}

// requestOrigin returns the client network origin, preferring the first
// X-Forwarded-For hop over the socket address.
func requestOrigin(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// CreateTransferHandler handles requests to move funds between two accounts.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Origin = requestOrigin(r)

	log.Printf("level=info component=api endpoint=create_transfer outcome=accepted user_id=%s source_account=%s amount=%d", userID, req.SourceAccountID, req.Amount)

	receipt, err := h.service.Transfer(r.Context(), userID, req)
	if err != nil {
		status, msg := mapTransferError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=create_transfer outcome=failed user_id=%s err=%v", userID, err)
		} else {
			log.Printf("level=warn component=api endpoint=create_transfer outcome=rejected user_id=%s status=%d err=%v", userID, status, err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusCreated, receipt)
}

func mapTransferError(err error) (int, string) {
	if errors.Is(err, app.ErrAccountBusy) {
		return http.StatusConflict, err.Error()
	}

	var validationErr *app.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, validationErr.Error()
	}
	var blockedErr *app.RiskBlockedError
	if errors.As(err, &blockedErr) {
		return http.StatusUnprocessableEntity, blockedErr.Error()
	}

	return http.StatusInternalServerError, app.ErrTransferFailed.Error()
}

// ListTransfersHandler returns the authenticated user's outgoing transfer history.
func (h *TransferHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 30)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	items, err := h.service.ListTransfers(r.Context(), userID, domain.TransactionListOptions{
		Limit:  limit,
		Offset: offset,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transfers outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve transfers.")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

// GetBalanceHandler returns the balance snapshot for one of the user's accounts.
func (h *TransferHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	snapshot, err := h.service.GetBalance(r.Context(), userID, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_balance outcome=failed user_id=%s account_id=%s err=%v", userID, accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve balance.")
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// ListNotificationsHandler returns the user's in-app notification feed.
func (h *TransferHandlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 30)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	items, err := h.service.ListNotifications(r.Context(), userID, domain.NotificationListOptions{
		Limit:    limit,
		Offset:   offset,
		Category: strings.TrimSpace(strings.ToLower(r.URL.Query().Get("category"))),
		Unread:   r.URL.Query().Get("unread") == "true",
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=list_notifications outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve notifications.")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

// MarkNotificationReadHandler marks one in-app notification as read.
func (h *TransferHandlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	notificationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	updated, err := h.service.MarkNotificationRead(r.Context(), userID, notificationID)
	if err != nil {
		log.Printf("level=error component=api endpoint=mark_notification_read outcome=failed user_id=%s notification_id=%s err=%v", userID, notificationID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not update notification.")
		return
	}
	if !updated {
		h.writeError(w, http.StatusNotFound, "Notification not found.")
		return
	}

	h.writeJSON(w, http.StatusNoContent, nil)
}

// GetPreferencesHandler returns the user's channel preferences, provisioning
// defaults on first use.
func (h *TransferHandlers) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	prefs, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_preferences outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve preferences.")
		return
	}

	h.writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesPayload struct {
	Channels          map[domain.Channel]bool                     `json:"channels"`
	CategoryOverrides map[domain.Category]map[domain.Channel]bool `json:"category_overrides"`
}

func validChannel(ch domain.Channel) bool {
	switch ch {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp:
		return true
	}
	return false
}

func validCategory(cat domain.Category) bool {
	switch cat {
	case domain.CategoryTransaction, domain.CategorySecurity, domain.CategoryAccount, domain.CategorySystem, domain.CategoryFraudAlert:
		return true
	}
	return false
}

// UpdatePreferencesHandler replaces the user's channel preference record.
func (h *TransferHandlers) UpdatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	userID, statusCode, message := h.resolveAuthenticatedUserID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	var payload updatePreferencesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if len(payload.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one channel switch is required.")
		return
	}
	for ch := range payload.Channels {
		if !validChannel(ch) {
			h.writeError(w, http.StatusBadRequest, "Unknown channel: "+string(ch))
			return
		}
	}
	for cat, overrides := range payload.CategoryOverrides {
		if !validCategory(cat) {
			h.writeError(w, http.StatusBadRequest, "Unknown category: "+string(cat))
			return
		}
		for ch := range overrides {
			if !validChannel(ch) {
				h.writeError(w, http.StatusBadRequest, "Unknown channel: "+string(ch))
				return
			}
		}
	}

	prefs := &domain.ChannelPreferences{
		UserID:            userID,
		Channels:          payload.Channels,
		CategoryOverrides: payload.CategoryOverrides,
	}
	if err := h.service.UpdatePreferences(r.Context(), prefs); err != nil {
		log.Printf("level=error component=api endpoint=update_preferences outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not update preferences.")
		return
	}

	h.writeJSON(w, http.StatusOK, prefs)
}

// ReconcileStaleTransfersHandler triggers the stale transfer sweep on demand.
// It backs the internal surface used by operators and the scheduler's health
// tooling.
func (h *TransferHandlers) ReconcileStaleTransfersHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.FailStaleTransfers(r.Context(), h.staleTransferMaxAge)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Reconcile sweep failed.")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"failed_transfers": count})
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
