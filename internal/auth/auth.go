// Package auth authenticates inbound callers by shared secret.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

// HeaderName carries the caller's shared secret.
const HeaderName = "X-Auth-Token"

// NotAuthorizedMessage is returned to callers whose token matches no peer.
const NotAuthorizedMessage = "X-Auth-Token not authorized"

// InboundPeers is the subset of the peer registry the authenticator reads.
type InboundPeers interface {
	Inbound() []domain.Peer
}

// Authenticator validates tokens against inbound peer secrets.
type Authenticator struct {
	peers       InboundPeers
	requireAuth atomic.Bool
}

// NewAuthenticator creates an authenticator. When requireAuth is false a
// request without a token proceeds anonymously.
func NewAuthenticator(peers InboundPeers, requireAuth bool) *Authenticator {
	a := &Authenticator{peers: peers}
	a.requireAuth.Store(requireAuth)
	return a
}

// SetRequireAuth switches anonymous access on a running authenticator.
func (a *Authenticator) SetRequireAuth(v bool) {
	a.requireAuth.Store(v)
}

// Authenticate resolves token to the inbound peer that owns it. Every
// inbound secret is compared so the time taken does not depend on which
// peer matched.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (domain.Peer, error) {
	if token == "" {
		if a.requireAuth.Load() {
			return domain.Peer{}, domain.ErrUnauthorized(NotAuthorizedMessage)
		}
		return domain.Peer{}, nil
	}

	want := hashToken(token)
	var (
		match domain.Peer
		found int
	)
	for _, p := range a.peers.Inbound() {
		if p.SharedSecret == "" {
			continue
		}
		eq := subtle.ConstantTimeCompare(want, hashToken(p.SharedSecret))
		if eq == 1 && found == 0 {
			match = p
		}
		found |= eq
	}

	if found == 0 {
		return domain.Peer{}, domain.ErrUnauthorized(NotAuthorizedMessage)
	}
	return match, nil
}

// ExtractToken reads the X-Auth-Token header.
func ExtractToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderName))
}

// HashSecret returns the hex SHA-256 of a secret, for display and logs.
func HashSecret(secret string) string {
	return hex.EncodeToString(hashToken(secret))
}

func hashToken(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}
