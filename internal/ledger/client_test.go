// v1
// internal/ledger/client_test.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psgoularte/DePIN-Sparked/internal/breaker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOwnerOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/TOK_1/owner" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"owner": "WALLET_A"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, testLogger())
	owner, err := c.OwnerOf(context.Background(), "TOK_1")
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != "WALLET_A" {
		t.Fatalf("got owner %q", owner)
	}
}

func TestOwnerOfUnknownToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, testLogger())
	if _, err := c.OwnerOf(context.Background(), "TOK_X"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestMintIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/identities" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["publicKey"] == "" {
			t.Error("missing publicKey in mint request")
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(MintResult{TokenAddress: "TOK_NEW", TxRef: "TX_1"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, testLogger())
	res, err := c.MintIdentity(context.Background(), "04ab", "AA:BB")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if res.TokenAddress != "TOK_NEW" || res.TxRef != "TX_1" {
		t.Fatalf("unexpected mint result: %+v", res)
	}
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, testLogger())
	if _, err := c.AnchorRoot(context.Background(), "ab", 4, "batch-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBreakerFastFailsAfterRepeatedOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	brk := breaker.New("ledger", breaker.Config{MaxFailures: 2, ResetTimeout: time.Hour}, testLogger(), nil)
	c := New(srv.URL, time.Second, brk, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.OwnerOf(ctx, "TOK_1"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	if brk.State() != breaker.Open {
		t.Fatalf("breaker should be open, is %s", brk.State())
	}
	if _, err := c.OwnerOf(ctx, "TOK_1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("fast-fail should map to ErrUnavailable, got %v", err)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	brk := breaker.New("ledger", breaker.Config{MaxFailures: 1, ResetTimeout: time.Hour}, testLogger(), nil)
	c := New(srv.URL, time.Second, brk, testLogger())
	for i := 0; i < 3; i++ {
		if _, err := c.OwnerOf(context.Background(), "TOK_X"); !errors.Is(err, ErrUnknownToken) {
			t.Fatalf("expected ErrUnknownToken, got %v", err)
		}
	}
	if brk.State() != breaker.Closed {
		t.Fatalf("404s must not open the breaker, state %s", brk.State())
	}
}
