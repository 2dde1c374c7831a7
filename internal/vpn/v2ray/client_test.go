package v2ray

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

func TestCreateUserSendsGeneratedUUID(t *testing.T) {
	var got createUserRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(userResponse{UUID: got.UUID, Email: got.Email, Link: "vless://example"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	user, err := client.CreateUser(context.Background(), "sub-1@veilbot")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if got.UUID == "" {
		t.Fatal("client should generate the uuid")
	}
	if user.NativeID != got.UUID || user.ConfigURL != "vless://example" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestTrafficReturnsAbsoluteCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/abc/traffic" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(trafficResponse{TotalBytes: 123456789})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	total, err := client.Traffic(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Traffic failed: %v", err)
	}
	if total != 123456789 {
		t.Fatalf("expected 123456789 bytes, got %d", total)
	}
}

func TestNotFoundIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/missing":
			http.Error(w, "no such user", http.StatusNotFound)
		default:
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")

	err := client.DeleteUser(context.Background(), "missing")
	if !errors.Is(err, vpn.ErrNotFound) {
		t.Fatalf("404 should map to ErrNotFound, got %v", err)
	}

	err = client.DeleteUser(context.Background(), "flaky")
	if err == nil || errors.Is(err, vpn.ErrNotFound) {
		t.Fatalf("5xx must stay a transient error, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(userListResponse{Users: []userResponse{
			{UUID: "u1", Email: "sub-1@veilbot"},
			{UUID: "u2", Email: "sub-2@veilbot"},
		}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	users, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[1].NativeID != "u2" {
		t.Fatalf("unexpected users: %+v", users)
	}
}
