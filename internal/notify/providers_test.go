package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func testMessage() Message {
	return Message{
		EventID: uuid.New(),
		UserID:  uuid.New(),
		Title:   "Transfer sent",
		Body:    "You sent USD 100.00.",
	}
}

func TestHTTPProvider_SendPostsAuthorizedJSON(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message_id":"prov-123"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("email-primary", server.URL, "secret-key")
	result, err := p.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if result.ProviderMessageID != "prov-123" {
		t.Fatalf("expected provider message id, got %q", result.ProviderMessageID)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %q", gotContentType)
	}
	if !p.Healthy() {
		t.Fatal("provider must stay healthy after a successful send")
	}
}

func TestHTTPProvider_Non2xxFailsAndEntersCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewHTTPProvider("sms-primary", server.URL, "secret-key")
	if _, err := p.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if p.Healthy() {
		t.Fatal("provider must enter the failure cooldown after a failed send")
	}
}

func TestHTTPProvider_SuccessClearsCooldown(t *testing.T) {
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("email-primary", server.URL, "secret-key")
	if _, err := p.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected first send to fail")
	}

	// The dispatcher would normally skip the provider during cooldown, but a
	// direct retry that succeeds clears the failure state.
	fail = false
	if _, err := p.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if !p.Healthy() {
		t.Fatal("a successful send must clear the cooldown")
	}
}
