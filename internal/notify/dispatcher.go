/**
 * @description
 * This file contains the notification fan-out dispatcher. Outcome events flow
 * from the transfer orchestrator through an explicit typed channel into a
 * dedicated worker loop, which resolves the target user's channel preferences
 * and delivers through ordered provider chains with failover.
 *
 * Key features:
 * - Dispatch is fire-and-forget: it never blocks the caller and never
 *   propagates delivery failures back into a committed transfer.
 * - Providers are attempted strictly in chain order starting from a rotating
 *   offset that advances on every successful send. The offset is process-local
 *   and resets to zero on restart.
 * - One DeliveryAttempt row is recorded per provider try, success or failure.
 * - A channel that ultimately fails for a critical-priority event is retried
 *   up to 3 times at 1s/5s/15s, independently of the other channels.
 * - The in-app channel is a direct store write with no provider chain.
 *
 * @dependencies
 * - internal/domain: Event, preference and delivery models.
 */

package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
)

// Store is the slice of the repository the dispatcher needs.
type Store interface {
	FindOrCreateChannelPreferences(ctx context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error)
	RecordDeliveryAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	CreateInAppNotification(ctx context.Context, item *domain.InAppNotification) error
}

const (
	queueCapacity = 256
	maxRetries    = 3
)

var defaultRetryDelays = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// Dispatcher consumes outcome events and fans them out per channel.
type Dispatcher struct {
	store  Store
	chains ProviderChains

	events      chan domain.NotificationEvent
	retryDelays []time.Duration

	mu       sync.Mutex
	rotation map[domain.Channel]int

	retries sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given store and provider chains.
func NewDispatcher(store Store, chains ProviderChains) *Dispatcher {
	return &Dispatcher{
		store:       store,
		chains:      chains,
		events:      make(chan domain.NotificationEvent, queueCapacity),
		retryDelays: defaultRetryDelays,
		rotation:    make(map[domain.Channel]int),
	}
}

// Dispatch enqueues one event for asynchronous delivery. It returns
// immediately; a full queue drops the event with a log line rather than
// blocking the caller.
func (d *Dispatcher) Dispatch(event domain.NotificationEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	select {
	case d.events <- event:
	default:
		log.Printf("level=error component=notify msg=\"event queue full; dropping event\" event_id=%s user_id=%s", event.ID, event.UserID)
	}
}

// Run is the dedicated worker loop. It exits when ctx is cancelled, after
// waiting for any in-flight retries.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.retries.Wait()
			return
		case event := <-d.events:
			d.process(ctx, event)
		}
	}
}

// process resolves preferences and delivers one event across its channels.
func (d *Dispatcher) process(ctx context.Context, event domain.NotificationEvent) {
	prefs, err := d.store.FindOrCreateChannelPreferences(ctx, event.UserID)
	if err != nil {
		log.Printf("level=error component=notify msg=\"preference lookup failed; dropping event\" event_id=%s user_id=%s err=%v", event.ID, event.UserID, err)
		return
	}

	for _, channel := range event.Channels {
		if !prefs.Enabled(channel, event.Category) {
			continue
		}
		if channel == domain.ChannelInApp {
			d.deliverInApp(ctx, event)
			continue
		}
		d.deliverChannel(ctx, event, channel, 1)
	}
}

// deliverInApp writes directly to the notifications table. There is no
// provider, so it can only fail on store errors.
func (d *Dispatcher) deliverInApp(ctx context.Context, event domain.NotificationEvent) {
	var data []byte
	if event.Payload != nil {
		if encoded, err := json.Marshal(event.Payload); err == nil {
			data = encoded
		}
	}

	item := &domain.InAppNotification{
		ID:       uuid.New(),
		UserID:   event.UserID,
		Category: event.Category,
		Title:    event.Title,
		Body:     event.Message,
		Data:     data,
	}
	if err := d.store.CreateInAppNotification(ctx, item); err != nil {
		log.Printf("level=error component=notify msg=\"in-app store write failed\" event_id=%s user_id=%s err=%v", event.ID, event.UserID, err)
		d.recordAttempt(ctx, event, domain.ChannelInApp, "store", domain.DeliveryFailed, 1, err)
		return
	}
	d.recordAttempt(ctx, event, domain.ChannelInApp, "store", domain.DeliverySent, 1, nil)
}

// deliverChannel walks one channel's provider chain for one delivery round.
// attempt is 1 for the initial round and increments per retry.
func (d *Dispatcher) deliverChannel(ctx context.Context, event domain.NotificationEvent, channel domain.Channel, attempt int) {
	chain := d.chains[channel]
	if len(chain) == 0 {
		log.Printf("level=warn component=notify msg=\"no providers registered for channel\" channel=%s event_id=%s", channel, event.ID)
		return
	}

	msg := Message{
		EventID: event.ID,
		UserID:  event.UserID,
		Title:   event.Title,
		Body:    event.Message,
	}

	start := d.rotationOffset(channel, len(chain))
	attempted := 0
	for i := 0; i < len(chain); i++ {
		provider := chain[(start+i)%len(chain)]
		if !provider.Healthy() {
			continue
		}
		attempted++

		_, err := provider.Send(ctx, msg)
		if err != nil {
			d.recordAttempt(ctx, event, channel, provider.Name(), domain.DeliveryFailed, attempt, err)
			continue
		}
		d.recordAttempt(ctx, event, channel, provider.Name(), domain.DeliverySent, attempt, nil)
		d.advanceRotation(channel)
		return
	}

	if attempted == 0 {
		log.Printf("level=error component=notify msg=\"channel delivery fully failed; no healthy providers\" channel=%s event_id=%s attempt=%d", channel, event.ID, attempt)
	} else {
		log.Printf("level=error component=notify msg=\"channel delivery fully failed\" channel=%s event_id=%s attempt=%d providers_tried=%d", channel, event.ID, attempt, attempted)
	}

	d.scheduleRetry(event, channel, attempt)
}

// scheduleRetry re-attempts a failed channel for critical events, up to the
// retry budget. Exhausting the budget is terminal for that channel.
func (d *Dispatcher) scheduleRetry(event domain.NotificationEvent, channel domain.Channel, attempt int) {
	if event.Priority != domain.PriorityCritical {
		return
	}
	if attempt > maxRetries {
		log.Printf("level=error component=notify msg=\"retry budget exhausted for channel\" channel=%s event_id=%s", channel, event.ID)
		return
	}

	delay := d.retryDelays[attempt-1]
	d.retries.Add(1)
	time.AfterFunc(delay, func() {
		defer d.retries.Done()
		d.deliverChannel(context.Background(), event, channel, attempt+1)
	})
}

func (d *Dispatcher) rotationOffset(channel domain.Channel, chainLen int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotation[channel] % chainLen
}

func (d *Dispatcher) advanceRotation(channel domain.Channel) {
	d.mu.Lock()
	d.rotation[channel]++
	d.mu.Unlock()
}

func (d *Dispatcher) recordAttempt(ctx context.Context, event domain.NotificationEvent, channel domain.Channel, provider string, status domain.DeliveryStatus, attempt int, sendErr error) {
	row := &domain.DeliveryAttempt{
		ID:       uuid.New(),
		EventID:  event.ID,
		Channel:  channel,
		Provider: provider,
		Status:   status,
		Attempt:  attempt,
	}
	if sendErr != nil {
		detail := sendErr.Error()
		row.Error = &detail
	}
	if err := d.store.RecordDeliveryAttempt(ctx, row); err != nil {
		log.Printf("level=warn component=notify msg=\"delivery attempt log write failed\" event_id=%s channel=%s provider=%s err=%v", event.ID, channel, provider, err)
	}
}
