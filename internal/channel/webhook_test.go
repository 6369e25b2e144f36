package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/fault"
)

func TestSlackDeliverPostsText(t *testing.T) {
	var (
		gotContentType string
		gotPayload     map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewSlack(config.SlackConfig{WebhookURL: srv.URL})
	if err != nil {
		t.Fatalf("NewSlack error: %v", err)
	}
	if err := ch.Deliver(context.Background(), testRequest()); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	if gotPayload["text"] == "" {
		t.Fatal("expected non-empty text payload")
	}
}

func TestSlackDeliverNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, err := NewSlack(config.SlackConfig{WebhookURL: srv.URL})
	if err != nil {
		t.Fatalf("NewSlack error: %v", err)
	}
	if err := ch.Deliver(context.Background(), testRequest()); !fault.IsIntegration(err) {
		t.Fatalf("expected integration fault, got %v", err)
	}
}

func TestSlackRequiresWebhookURL(t *testing.T) {
	if _, err := NewSlack(config.SlackConfig{}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWebhookDeliverPostsRequestJSON(t *testing.T) {
	var (
		gotAuth string
		gotID   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		gotID, _ = payload["id"].(string)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch, err := NewWebhook(config.WebhookConfig{URL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("NewWebhook error: %v", err)
	}
	req := testRequest()
	if err := ch.Deliver(context.Background(), req); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotID != req.ID {
		t.Fatalf("expected request id %s in payload, got %s", req.ID, gotID)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(config.WebhookConfig{}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
