// Package auth resolves the credential embedded in the connection URL,
// preferring a short-lived ticket over a long-lived bearer token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialKind identifies which query parameter carries the credential.
type CredentialKind string

const (
	KindTicket CredentialKind = "ticket"
	KindBearer CredentialKind = "jwt"
	KindNone   CredentialKind = ""
)

// Credential is the value attached to the connection URL.
type Credential struct {
	Kind      CredentialKind
	Value     string
	ExpiresAt time.Time // zero when unknown
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TicketResponse is the shape returned by the injected ticket-fetch function.
type TicketResponse struct {
	Success bool        `json:"success"`
	Ticket  *TicketData `json:"ticket,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TicketData carries a short-lived connection ticket.
type TicketData struct {
	Ticket    string `json:"ticket"`
	ExpiresAt int64  `json:"expires_at"` // ms since epoch
}

// FetchTicketFunc fetches a fresh connection ticket from the backend.
type FetchTicketFunc func(ctx context.Context) (TicketResponse, error)

// Negotiator acquires and refreshes connection credentials.
type Negotiator struct {
	mu            sync.Mutex
	fetch         FetchTicketFunc
	ticketEnabled bool
	bearer        string
	cached        *Credential

	refreshing atomic.Bool

	logger *slog.Logger
	now    func() time.Time
}

// NewNegotiator creates a Negotiator. fetch may be nil when ticket auth
// is disabled; bearer may be empty to allow unauthenticated connections.
func NewNegotiator(fetch FetchTicketFunc, bearer string, ticketEnabled bool, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		fetch:         fetch,
		ticketEnabled: ticketEnabled && fetch != nil,
		bearer:        bearer,
		logger:        logger,
		now:           time.Now,
	}
}

// UpdateBearer replaces the fallback bearer token.
func (n *Negotiator) UpdateBearer(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bearer = token
}

// Resolve returns the credential to embed in the connection URL: a cached
// non-expired ticket, a freshly fetched ticket, the bearer token, or no
// credential at all. Fetch failures fall back rather than surface.
func (n *Negotiator) Resolve(ctx context.Context) Credential {
	if n.ticketEnabled {
		n.mu.Lock()
		cached := n.cached
		n.mu.Unlock()

		if cached != nil && !cached.Expired(n.now()) {
			return *cached
		}

		if cred, err := n.fetchTicket(ctx); err == nil {
			return cred
		} else {
			n.logger.Warn("ticket fetch failed, falling back", "error", err)
		}
	}

	return n.bearerCredential()
}

// SecureURL resolves a credential and appends it to baseURL as exactly
// one of ?ticket= or ?jwt=.
func (n *Negotiator) SecureURL(ctx context.Context, baseURL string) (string, error) {
	return appendCredential(baseURL, n.Resolve(ctx))
}

// SecureURLCached builds the URL from already-held credentials without
// any fetch, for callers that cannot await.
func (n *Negotiator) SecureURLCached(baseURL string) (string, error) {
	n.mu.Lock()
	cached := n.cached
	n.mu.Unlock()

	if n.ticketEnabled && cached != nil && !cached.Expired(n.now()) {
		return appendCredential(baseURL, *cached)
	}
	return appendCredential(baseURL, n.bearerCredential())
}

// RefreshIfNeeded proactively refreshes the ticket when within threshold
// of expiry. Returns false without acting when ticket auth is disabled,
// the ticket is still fresh, or a refresh is already in flight.
func (n *Negotiator) RefreshIfNeeded(ctx context.Context, threshold time.Duration) bool {
	if !n.ticketEnabled {
		return false
	}

	n.mu.Lock()
	cached := n.cached
	n.mu.Unlock()

	if cached != nil && cached.ExpiresAt.Sub(n.now()) > threshold {
		return false
	}

	if !n.refreshing.CompareAndSwap(false, true) {
		return false
	}
	defer n.refreshing.Store(false)

	if _, err := n.fetchTicket(ctx); err != nil {
		n.logger.Warn("ticket refresh failed", "error", err)
		return false
	}
	return true
}

func (n *Negotiator) fetchTicket(ctx context.Context) (Credential, error) {
	resp, err := n.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}
	if !resp.Success || resp.Ticket == nil {
		return Credential{}, fmt.Errorf("ticket fetch rejected: %s", resp.Error)
	}

	cred := Credential{
		Kind:      KindTicket,
		Value:     resp.Ticket.Ticket,
		ExpiresAt: time.UnixMilli(resp.Ticket.ExpiresAt),
	}

	n.mu.Lock()
	n.cached = &cred
	n.mu.Unlock()

	n.logger.Debug("ticket acquired", "expires_at", cred.ExpiresAt)
	return cred, nil
}

// bearerCredential wraps the bearer token, reading its expiry from JWT
// claims when the token parses as a JWT. Opaque tokens pass through with
// no expiry. An expired JWT is skipped so the connection proceeds
// unauthenticated instead of being rejected by the server.
func (n *Negotiator) bearerCredential() Credential {
	n.mu.Lock()
	bearer := n.bearer
	n.mu.Unlock()

	if bearer == "" {
		return Credential{Kind: KindNone}
	}

	cred := Credential{Kind: KindBearer, Value: bearer}
	if exp, ok := bearerExpiry(bearer); ok {
		cred.ExpiresAt = exp
		if cred.Expired(n.now()) {
			n.logger.Warn("bearer token expired, connecting unauthenticated",
				"expired_at", exp,
			)
			return Credential{Kind: KindNone}
		}
	}
	return cred
}

// bearerExpiry extracts the exp claim without verifying the signature.
// Verification is the server's job; the client only needs expiry.
func bearerExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func appendCredential(baseURL string, cred Credential) (string, error) {
	if cred.Kind == KindNone {
		return baseURL, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	q.Set(string(cred.Kind), cred.Value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
