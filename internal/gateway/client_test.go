package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestClientSelectRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"post-1"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon", Options{RequestsPerSecond: 1000, Burst: 1000})

	var rows []struct {
		ID string `json:"id"`
	}
	if err := client.Select(context.Background(), "posts", nil, &rows); err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts got %d", got)
	}
	if len(rows) != 1 || rows[0].ID != "post-1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestClientInsertIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon", Options{RequestsPerSecond: 1000, Burst: 1000})

	err := client.Insert(context.Background(), "posts", map[string]string{"content": "hi"}, nil)
	if err == nil {
		t.Fatal("expected insert to fail")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 attempt got %d", got)
	}
}

func TestClientMapsBackendErrorCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("code") {
		case "eq.missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"PGRST116","message":"no rows returned"}`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon", Options{RequestsPerSecond: 1000, Burst: 1000})

	query := url.Values{}
	query.Set("code", "eq.missing")
	err := client.Select(context.Background(), "invite_links", query, &[]struct{}{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}

	err = client.Insert(context.Background(), "invite_links", map[string]string{"code": "AAAA1111"}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict got %v", err)
	}

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Code != "23505" {
		t.Fatalf("expected typed remote error with code 23505 got %v", err)
	}
}

func TestClientRefreshesOnceOnRejectedToken(t *testing.T) {
	var dataCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Query().Get("grant_type") {
			case "password":
				_, _ = w.Write([]byte(`{"access_token":"stale","expires_in":3600,"refresh_token":"refresh-1","user":{"id":"user-1"}}`))
			case "refresh_token":
				_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":3600,"refresh_token":"refresh-2","user":{"id":"user-1"}}`))
			}
		case "/rest/v1/messages":
			dataCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"JWT expired"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon", Options{RequestsPerSecond: 1000, Burst: 1000})
	session := NewSessionManager(client, NewMemoryTokenStore())
	client.UseSession(session)

	ctx := context.Background()
	if err := session.SignIn(ctx, "alice@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	var rows []struct{}
	if err := client.Select(ctx, "messages", nil, &rows); err != nil {
		t.Fatalf("select after refresh: %v", err)
	}

	// One rejected attempt plus one retried attempt with the refreshed token.
	if got := dataCalls.Load(); got != 2 {
		t.Fatalf("expected 2 data calls got %d", got)
	}
	if session.UserID() != "user-1" {
		t.Fatalf("expected session user-1 got %q", session.UserID())
	}
}
