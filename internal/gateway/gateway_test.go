package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frigade/frigade-go/internal/models"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(""); !errors.Is(err, models.ErrEmptyAPIKey) {
		t.Errorf("expected ErrEmptyAPIKey, got %v", err)
	}
}

func TestDoSetsAuthHeaderAndDecodes(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient("api_public_test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := c.Get(context.Background(), "/flows")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer api_public_test" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("response not decodable: %v", err)
	}
}

func TestDoPostSerializesBody(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, _ := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Post(context.Background(), "/track", map[string]string{"event": "signup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["event"] != "signup" {
		t.Errorf("expected event in body, got %+v", gotBody)
	}
}

func TestDoNon2xxReturnsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Get(context.Background(), "/flows")
	var te *models.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", te.StatusCode)
	}
}

func TestDoNetworkFailureReturnsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // force connection refused

	c, _ := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Get(context.Background(), "/flows")
	var te *models.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("expected no status code on network failure, got %d", te.StatusCode)
	}
}
