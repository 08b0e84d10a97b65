package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/transfer-service/internal/domain"
)

// recordingStore captures preference lookups, attempt rows, and in-app writes.
// It is mutex-guarded because retry rounds run on timer goroutines.
type recordingStore struct {
	mu       sync.Mutex
	prefs    *domain.ChannelPreferences
	prefsErr error
	attempts []domain.DeliveryAttempt
	inApp    []domain.InAppNotification
}

func (s *recordingStore) FindOrCreateChannelPreferences(_ context.Context, userID uuid.UUID) (*domain.ChannelPreferences, error) {
	if s.prefsErr != nil {
		return nil, s.prefsErr
	}
	if s.prefs != nil {
		return s.prefs, nil
	}
	return domain.DefaultChannelPreferences(userID), nil
}

func (s *recordingStore) RecordDeliveryAttempt(_ context.Context, attempt *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *recordingStore) CreateInAppNotification(_ context.Context, item *domain.InAppNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inApp = append(s.inApp, *item)
	return nil
}

func (s *recordingStore) attemptRows() []domain.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeliveryAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// scriptedProvider succeeds or fails per its configuration and records sends.
type scriptedProvider struct {
	name      string
	unhealthy bool
	sendErr   error

	mu    sync.Mutex
	sends int
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) Healthy() bool { return !p.unhealthy }

func (p *scriptedProvider) Send(context.Context, Message) (*SendResult, error) {
	p.mu.Lock()
	p.sends++
	p.mu.Unlock()
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	return &SendResult{ProviderMessageID: "msg-" + p.name}, nil
}

func (p *scriptedProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

func emailEvent(priority domain.Priority) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Category: domain.CategoryTransaction,
		Priority: priority,
		Title:    "Transfer sent",
		Message:  "You sent USD 100.00.",
		Channels: []domain.Channel{domain.ChannelEmail},
	}
}

func TestProcess_DisabledChannelProducesNoAttempts(t *testing.T) {
	userID := uuid.New()
	prefs := domain.DefaultChannelPreferences(userID)
	prefs.CategoryOverrides[domain.CategoryTransaction] = map[domain.Channel]bool{
		domain.ChannelEmail: false,
	}
	store := &recordingStore{prefs: prefs}
	provider := &scriptedProvider{name: "email-primary"}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {provider}})

	event := emailEvent(domain.PriorityMedium)
	event.UserID = userID
	d.process(context.Background(), event)

	if provider.sendCount() != 0 {
		t.Fatalf("expected no sends on a disabled channel, got %d", provider.sendCount())
	}
	if rows := store.attemptRows(); len(rows) != 0 {
		t.Fatalf("expected no attempt rows, got %d", len(rows))
	}
}

func TestProcess_GloballyDisabledChannelWins(t *testing.T) {
	userID := uuid.New()
	prefs := domain.DefaultChannelPreferences(userID)
	prefs.Channels[domain.ChannelEmail] = false
	// A category override cannot re-enable a globally disabled channel.
	prefs.CategoryOverrides[domain.CategoryTransaction] = map[domain.Channel]bool{
		domain.ChannelEmail: true,
	}
	store := &recordingStore{prefs: prefs}
	provider := &scriptedProvider{name: "email-primary"}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {provider}})

	event := emailEvent(domain.PriorityMedium)
	event.UserID = userID
	d.process(context.Background(), event)

	if provider.sendCount() != 0 {
		t.Fatalf("expected no sends, got %d", provider.sendCount())
	}
}

func TestProcess_InAppWritesStoreAndAttemptRow(t *testing.T) {
	store := &recordingStore{}
	d := NewDispatcher(store, ProviderChains{})

	event := domain.NotificationEvent{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Category: domain.CategoryTransaction,
		Priority: domain.PriorityMedium,
		Title:    "Transfer received",
		Message:  "You received USD 100.00.",
		Channels: []domain.Channel{domain.ChannelInApp},
		Payload:  domain.TransferOutcomePayload{Reference: "TRF-1", Amount: 10_000, Currency: "USD", Direction: "received"},
	}
	d.process(context.Background(), event)

	if len(store.inApp) != 1 {
		t.Fatalf("expected one in-app notification, got %d", len(store.inApp))
	}
	item := store.inApp[0]
	if item.UserID != event.UserID || item.Title != event.Title || item.Body != event.Message {
		t.Fatalf("unexpected in-app row: %+v", item)
	}
	if len(item.Data) == 0 {
		t.Fatal("expected marshaled payload data on the in-app row")
	}

	rows := store.attemptRows()
	if len(rows) != 1 {
		t.Fatalf("expected one attempt row, got %d", len(rows))
	}
	if rows[0].Provider != "store" || rows[0].Status != domain.DeliverySent || rows[0].Channel != domain.ChannelInApp {
		t.Fatalf("unexpected attempt row: %+v", rows[0])
	}
}

func TestDeliverChannel_FailsOverToNextProvider(t *testing.T) {
	store := &recordingStore{}
	primary := &scriptedProvider{name: "email-primary", sendErr: errors.New("rate limited")}
	fallback := &scriptedProvider{name: "email-fallback"}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {primary, fallback}})

	d.process(context.Background(), emailEvent(domain.PriorityMedium))

	if primary.sendCount() != 1 || fallback.sendCount() != 1 {
		t.Fatalf("expected one send each, got primary=%d fallback=%d", primary.sendCount(), fallback.sendCount())
	}

	rows := store.attemptRows()
	if len(rows) != 2 {
		t.Fatalf("expected one row per provider try, got %d", len(rows))
	}
	if rows[0].Provider != "email-primary" || rows[0].Status != domain.DeliveryFailed {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[0].Error == nil || *rows[0].Error == "" {
		t.Fatal("failed attempt row must carry the error detail")
	}
	if rows[1].Provider != "email-fallback" || rows[1].Status != domain.DeliverySent {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestDeliverChannel_RotationAdvancesOnSuccess(t *testing.T) {
	store := &recordingStore{}
	first := &scriptedProvider{name: "email-primary"}
	second := &scriptedProvider{name: "email-fallback"}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {first, second}})

	d.process(context.Background(), emailEvent(domain.PriorityMedium))
	d.process(context.Background(), emailEvent(domain.PriorityMedium))
	d.process(context.Background(), emailEvent(domain.PriorityMedium))

	// offsets 0, 1, 0: the chain start rotates after each success
	if first.sendCount() != 2 || second.sendCount() != 1 {
		t.Fatalf("expected rotation across providers, got first=%d second=%d", first.sendCount(), second.sendCount())
	}
}

func TestDeliverChannel_UnhealthyProvidersSkippedWithoutAttempts(t *testing.T) {
	store := &recordingStore{}
	down1 := &scriptedProvider{name: "email-primary", unhealthy: true}
	down2 := &scriptedProvider{name: "email-fallback", unhealthy: true}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {down1, down2}})

	d.process(context.Background(), emailEvent(domain.PriorityMedium))

	if down1.sendCount() != 0 || down2.sendCount() != 0 {
		t.Fatal("unhealthy providers must not be sent to")
	}
	if rows := store.attemptRows(); len(rows) != 0 {
		t.Fatalf("skipping unhealthy providers must not consume attempts, got %d rows", len(rows))
	}
}

func TestDeliverChannel_CriticalEventRetriesUpToBudget(t *testing.T) {
	store := &recordingStore{}
	broken := &scriptedProvider{name: "email-primary", sendErr: errors.New("provider outage")}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {broken}})
	d.retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	d.process(context.Background(), emailEvent(domain.PriorityCritical))
	d.retries.Wait()

	// initial round plus 3 retries
	if broken.sendCount() != 4 {
		t.Fatalf("expected 4 delivery rounds, got %d", broken.sendCount())
	}
	rows := store.attemptRows()
	if len(rows) != 4 {
		t.Fatalf("expected 4 attempt rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Attempt != i+1 {
			t.Fatalf("row %d has attempt %d, want %d", i, row.Attempt, i+1)
		}
		if row.Status != domain.DeliveryFailed {
			t.Fatalf("row %d has status %s, want failed", i, row.Status)
		}
	}
}

func TestDeliverChannel_NonCriticalEventDoesNotRetry(t *testing.T) {
	store := &recordingStore{}
	broken := &scriptedProvider{name: "email-primary", sendErr: errors.New("provider outage")}
	d := NewDispatcher(store, ProviderChains{domain.ChannelEmail: {broken}})
	d.retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	d.process(context.Background(), emailEvent(domain.PriorityHigh))
	d.retries.Wait()
	time.Sleep(10 * time.Millisecond)

	if broken.sendCount() != 1 {
		t.Fatalf("expected a single delivery round, got %d", broken.sendCount())
	}
}

func TestDispatch_NeverBlocksOnFullQueue(t *testing.T) {
	store := &recordingStore{}
	d := NewDispatcher(store, ProviderChains{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueCapacity+10; i++ {
			d.Dispatch(emailEvent(domain.PriorityLow))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestRun_ConsumesDispatchedEvents(t *testing.T) {
	store := &recordingStore{}
	d := NewDispatcher(store, ProviderChains{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	event := domain.NotificationEvent{
		UserID:   uuid.New(),
		Category: domain.CategoryTransaction,
		Priority: domain.PriorityMedium,
		Title:    "Transfer sent",
		Message:  "You sent USD 100.00.",
		Channels: []domain.Channel{domain.ChannelInApp},
	}
	d.Dispatch(event)

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		count := len(store.inApp)
		store.mu.Unlock()
		if count == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("event was not consumed by the worker loop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPProvider_UnconfiguredIsUnhealthy(t *testing.T) {
	if NewHTTPProvider("email-primary", "", "key").Healthy() {
		t.Fatal("provider without an endpoint must be unhealthy")
	}
	if NewHTTPProvider("email-primary", "https://mail.example.com/send", "").Healthy() {
		t.Fatal("provider without an api key must be unhealthy")
	}
	if !NewHTTPProvider("email-primary", "https://mail.example.com/send", "key").Healthy() {
		t.Fatal("configured provider must start healthy")
	}
}
