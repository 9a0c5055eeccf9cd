// Package identity derives the stable user identity attached to every hold
// and release command.  The server uses it to tell one user's holds from
// another's, so it must stay the same across page reloads and sibling tabs.
package identity

import (
	"context"
	"log"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/flight-seat-sync/internal/storage"
)

// clientIDSlot is the shared-store slot holding the generated fallback
// identity.  Sharing the slot is what lets two tabs of the same anonymous
// user present one identity to the server.
const clientIDSlot = "seatsync:client-id"

// Resolve returns the user identity for outgoing commands, in order of
// preference: the subject claim of the access token, a previously persisted
// generated identity, or a freshly generated one.  The token is decoded
// without signature verification; the client does not hold the signing
// secret, and the identity is a correlation label, not an authorization
// decision.
func Resolve(ctx context.Context, accessToken string, shared storage.SharedStore) string {
	if sub := subjectOf(accessToken); sub != "" {
		return sub
	}
	if shared != nil {
		if v, ok, err := shared.Get(ctx, clientIDSlot); err == nil && ok && v != "" {
			return v
		}
	}
	id := "anon-" + uuid.NewString()
	if shared != nil {
		// Best effort: losing the write only costs identity continuity
		// for the next session, never correctness of this one.
		if err := shared.Set(ctx, clientIDSlot, id); err != nil {
			log.Printf("identity: persist client id: %v", err)
		}
	}
	return id
}

// subjectOf extracts the sub claim from a JWT without verifying it.  A
// missing or malformed token yields the empty string so callers fall
// through to the generated identity.
func subjectOf(token string) string {
	if token == "" {
		return ""
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		log.Printf("identity: unparseable access token: %v", err)
		return ""
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return ""
	}
	return sub
}
