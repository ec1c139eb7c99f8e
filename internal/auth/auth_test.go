package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func ticketFunc(ticket string, expiresAt int64) FetchTicketFunc {
	return func(ctx context.Context) (TicketResponse, error) {
		return TicketResponse{
			Success: true,
			Ticket:  &TicketData{Ticket: ticket, ExpiresAt: expiresAt},
		}, nil
	}
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestResolve_PrefersTicket(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	n := NewNegotiator(ticketFunc("tk-1", future), "bearer-token", true, nil)

	cred := n.Resolve(context.Background())
	if cred.Kind != KindTicket {
		t.Fatalf("expected ticket credential, got %q", cred.Kind)
	}
	if cred.Value != "tk-1" {
		t.Errorf("ticket value = %q", cred.Value)
	}
}

func TestResolve_ReusesCachedTicket(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (TicketResponse, error) {
		atomic.AddInt32(&calls, 1)
		return TicketResponse{
			Success: true,
			Ticket: &TicketData{
				Ticket:    "tk-cached",
				ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
			},
		}, nil
	}
	n := NewNegotiator(fetch, "", true, nil)

	n.Resolve(context.Background())
	n.Resolve(context.Background())

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 fetch for cached ticket, got %d", got)
	}
}

func TestResolve_ExpiredTicketRefetched(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (TicketResponse, error) {
		atomic.AddInt32(&calls, 1)
		return TicketResponse{
			Success: true,
			Ticket: &TicketData{
				Ticket:    "tk-stale",
				ExpiresAt: time.Now().Add(-time.Minute).UnixMilli(),
			},
		}, nil
	}
	n := NewNegotiator(fetch, "", true, nil)

	n.Resolve(context.Background())
	n.Resolve(context.Background())

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refetch for expired ticket, got %d calls", got)
	}
}

func TestResolve_FallsBackToBearer(t *testing.T) {
	failing := func(ctx context.Context) (TicketResponse, error) {
		return TicketResponse{}, errors.New("backend down")
	}
	n := NewNegotiator(failing, "opaque-bearer", true, nil)

	cred := n.Resolve(context.Background())
	if cred.Kind != KindBearer {
		t.Fatalf("expected bearer fallback, got %q", cred.Kind)
	}
	if cred.Value != "opaque-bearer" {
		t.Errorf("bearer value = %q", cred.Value)
	}
}

func TestResolve_RejectedTicketFallsBack(t *testing.T) {
	rejected := func(ctx context.Context) (TicketResponse, error) {
		return TicketResponse{Success: false, Error: "forbidden"}, nil
	}
	n := NewNegotiator(rejected, "b-token", true, nil)

	if cred := n.Resolve(context.Background()); cred.Kind != KindBearer {
		t.Errorf("expected bearer after rejection, got %q", cred.Kind)
	}
}

func TestResolve_NoCredentials(t *testing.T) {
	n := NewNegotiator(nil, "", false, nil)

	if cred := n.Resolve(context.Background()); cred.Kind != KindNone {
		t.Errorf("expected unauthenticated, got %q", cred.Kind)
	}
}

func TestResolve_ExpiredJWTSkipped(t *testing.T) {
	expired := signedJWT(t, time.Now().Add(-time.Hour))
	n := NewNegotiator(nil, expired, false, nil)

	if cred := n.Resolve(context.Background()); cred.Kind != KindNone {
		t.Errorf("expired JWT should not be attached, got %q", cred.Kind)
	}
}

func TestResolve_ValidJWTExpiryParsed(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	n := NewNegotiator(nil, signedJWT(t, exp), false, nil)

	cred := n.Resolve(context.Background())
	if cred.Kind != KindBearer {
		t.Fatalf("expected bearer, got %q", cred.Kind)
	}
	if !cred.ExpiresAt.Equal(exp) {
		t.Errorf("expiry = %v, want %v", cred.ExpiresAt, exp)
	}
}

func TestSecureURL_TicketParam(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	n := NewNegotiator(ticketFunc("tk&2", future), "", true, nil)

	u, err := n.SecureURL(context.Background(), "wss://chat.example.com/ws")
	if err != nil {
		t.Fatalf("SecureURL: %v", err)
	}
	if !strings.Contains(u, "ticket=tk%262") {
		t.Errorf("expected escaped ticket param, got %q", u)
	}
	if strings.Contains(u, "jwt=") {
		t.Errorf("expected exactly one credential param, got %q", u)
	}
}

func TestSecureURL_JWTParam(t *testing.T) {
	n := NewNegotiator(nil, "raw-token", false, nil)

	u, err := n.SecureURL(context.Background(), "wss://chat.example.com/ws?v=2")
	if err != nil {
		t.Fatalf("SecureURL: %v", err)
	}
	if !strings.Contains(u, "jwt=raw-token") {
		t.Errorf("expected jwt param, got %q", u)
	}
	if !strings.Contains(u, "v=2") {
		t.Errorf("existing query params must survive, got %q", u)
	}
}

func TestSecureURLCached_NoFetch(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (TicketResponse, error) {
		atomic.AddInt32(&calls, 1)
		return TicketResponse{}, errors.New("must not be called")
	}
	n := NewNegotiator(fetch, "fallback", true, nil)

	u, err := n.SecureURLCached("wss://chat.example.com/ws")
	if err != nil {
		t.Fatalf("SecureURLCached: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("cached variant must not fetch")
	}
	if !strings.Contains(u, "jwt=fallback") {
		t.Errorf("expected bearer fallback, got %q", u)
	}
}

func TestRefreshIfNeeded_FreshTicketNoop(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	n := NewNegotiator(ticketFunc("tk-1", future), "", true, nil)
	n.Resolve(context.Background())

	if n.RefreshIfNeeded(context.Background(), time.Minute) {
		t.Error("fresh ticket should not be refreshed")
	}
}

func TestRefreshIfNeeded_NearExpiryRefreshes(t *testing.T) {
	soon := time.Now().Add(10 * time.Second).UnixMilli()
	n := NewNegotiator(ticketFunc("tk-1", soon), "", true, nil)
	n.Resolve(context.Background())

	if !n.RefreshIfNeeded(context.Background(), time.Minute) {
		t.Error("ticket within threshold should refresh")
	}
}

func TestRefreshIfNeeded_ConcurrentGuard(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context) (TicketResponse, error) {
		<-release
		return TicketResponse{
			Success: true,
			Ticket: &TicketData{
				Ticket:    "tk-slow",
				ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
			},
		}, nil
	}
	n := NewNegotiator(fetch, "", true, nil)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = n.RefreshIfNeeded(context.Background(), time.Minute)
		}(i)
	}

	// Let one goroutine win the in-flight flag, then release the fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if results[0] && results[1] {
		t.Error("both refreshes succeeded; in-flight guard failed")
	}
	if !results[0] && !results[1] {
		t.Error("expected exactly one refresh to run")
	}
}

func TestRefreshIfNeeded_DisabledNoop(t *testing.T) {
	n := NewNegotiator(nil, "bearer", false, nil)
	if n.RefreshIfNeeded(context.Background(), time.Minute) {
		t.Error("refresh with ticket auth disabled should be a no-op")
	}
}
