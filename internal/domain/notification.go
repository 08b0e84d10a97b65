/**
 * @description
 * This file defines the notification domain models: outcome events emitted by the
 * transfer orchestrator, per-user channel preferences, delivery attempt log rows,
 * and the in-app notification record.
 *
 * @notes
 * - Event payloads are a closed set of explicitly-tagged variants (one struct per
 *   category) rather than an open map, so payload shape is checkable at compile
 *   time.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel enumerates the delivery channels the fan-out can use.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Category enumerates notification event categories.
type Category string

const (
	CategoryTransaction Category = "transaction"
	CategorySecurity    Category = "security"
	CategoryAccount     Category = "account"
	CategorySystem      Category = "system"
	CategoryFraudAlert  Category = "fraud_alert"
)

// Priority enumerates event priorities. Critical events get delivery retries.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EventPayload is the closed variant interface implemented by one payload
// struct per category.
type EventPayload interface {
	PayloadCategory() Category
}

// TransferOutcomePayload accompanies transaction-category events.
type TransferOutcomePayload struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	Currency  string `json:"currency"`
	Direction string `json:"direction"` // "sent" or "received"
}

func (TransferOutcomePayload) PayloadCategory() Category { return CategoryTransaction }

// FraudAlertPayload accompanies fraud_alert-category events sent to operators.
type FraudAlertPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Score     int       `json:"score"`
	Level     RiskLevel `json:"level"`
	Reasons   []string  `json:"reasons"`
	Amount    int64     `json:"amount"`
	Blocked   bool      `json:"blocked"`
}

func (FraudAlertPayload) PayloadCategory() Category { return CategoryFraudAlert }

// SystemPayload accompanies system-category events.
type SystemPayload struct {
	Detail string `json:"detail"`
}

func (SystemPayload) PayloadCategory() Category { return CategorySystem }

// NotificationEvent is one outcome event consumed exactly once by the fan-out.
// Channel-level delivery may still be retried independently.
type NotificationEvent struct {
	ID       uuid.UUID    `json:"id"`
	UserID   uuid.UUID    `json:"user_id"`
	Category Category     `json:"category"`
	Priority Priority     `json:"priority"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Channels []Channel    `json:"channels"`
	Payload  EventPayload `json:"payload,omitempty"`
}

// ChannelPreferences is the per-user delivery preference record. Channels holds
// the global per-channel switch; CategoryOverrides holds the per-category
// per-channel switch. A missing override means the channel follows its global
// switch for that category.
type ChannelPreferences struct {
	UserID            uuid.UUID                     `json:"user_id"`
	Channels          map[Channel]bool              `json:"channels"`
	CategoryOverrides map[Category]map[Channel]bool `json:"category_overrides,omitempty"`
	CreatedAt         time.Time                     `json:"created_at"`
	UpdatedAt         time.Time                     `json:"updated_at"`
}

// Enabled reports whether a channel is enabled for the given category.
func (p *ChannelPreferences) Enabled(ch Channel, cat Category) bool {
	if p == nil {
		return false
	}
	if !p.Channels[ch] {
		return false
	}
	if overrides, ok := p.CategoryOverrides[cat]; ok {
		if enabled, ok := overrides[ch]; ok {
			return enabled
		}
	}
	return true
}

// DefaultChannelPreferences returns the preference record auto-provisioned on
// first use: every channel on, no category overrides.
func DefaultChannelPreferences(userID uuid.UUID) *ChannelPreferences {
	return &ChannelPreferences{
		UserID: userID,
		Channels: map[Channel]bool{
			ChannelEmail: true,
			ChannelSMS:   true,
			ChannelInApp: true,
		},
		CategoryOverrides: map[Category]map[Channel]bool{},
	}
}

// DeliveryStatus enumerates the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryAttempt is one log row per attempted provider per attempt.
type DeliveryAttempt struct {
	ID        uuid.UUID      `json:"id"`
	EventID   uuid.UUID      `json:"event_id"`
	Channel   Channel        `json:"channel"`
	Provider  string         `json:"provider"`
	Status    DeliveryStatus `json:"status"`
	Attempt   int            `json:"attempt"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InAppNotification is the stored record behind the in-app channel.
type InAppNotification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Category  Category   `json:"category"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Data      []byte     `json:"data,omitempty"` // marshaled typed payload
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NotificationListOptions controls pagination for the in-app feed.
type NotificationListOptions struct {
	Limit    int
	Offset   int
	Category string
	Unread   bool
}
