package fireproof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thomasp85/fireproof/session"
)

// Name holds the structured name components of an authenticated user.
type Name struct {
	Given   string `json:"given,omitempty"`
	Middle  string `json:"middle,omitempty"`
	Family  string `json:"family,omitempty"`
	Display string `json:"display,omitempty"`
	User    string `json:"user,omitempty"`
}

// TokenBundle is the opaque provider token set attached to UserInfo by
// bearer, OAuth2, and OIDC guards.
type TokenBundle struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	IDToken      string   `json:"id_token,omitempty"`
	Timestamp    int64    `json:"timestamp"`
	Scope        []string `json:"scope,omitempty"`
}

// Expired reports whether the access token has outlived its expires_in
// window. Bundles without expiry information never report expired.
func (t *TokenBundle) Expired(now time.Time) bool {
	if t == nil || t.ExpiresIn <= 0 {
		return false
	}
	return now.Unix() >= t.Timestamp+t.ExpiresIn
}

// UserInfo is the canonical identity record produced by every guard on
// successful authentication. It is stored wholesale in the session keyed by
// guard name and replaced — never mutated field by field.
type UserInfo struct {
	Provider string          `json:"provider"`
	ID       string          `json:"id"`
	Name     Name            `json:"name"`
	Emails   []string        `json:"emails,omitempty"`
	Photos   []string        `json:"photos,omitempty"`
	Scopes   []string        `json:"scopes,omitempty"`
	Token    *TokenBundle    `json:"token,omitempty"`
	Extra    map[string]any  `json:"extra,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// HasScopes reports whether every requested scope was granted.
func (u *UserInfo) HasScopes(scopes []string) bool {
	if u == nil {
		return false
	}
	for _, want := range scopes {
		found := false
		for _, have := range u.Scopes {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// storedAuth is the session record for one guard slot. It distinguishes
// "tried and failed" (Failed true) from "never evaluated" (key absent), and
// remembers whether a credential was actually presented on the failing
// attempt — the key and bearer guards shape their rejection on that.
type storedAuth struct {
	Failed    bool      `json:"failed"`
	Attempted bool      `json:"attempted,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
}

func userKey(guard string) string    { return "fireproof:user:" + guard }
func pendingKey(guard string) string { return "fireproof:pending:" + guard }

// loadAuth reads the guard's session slot. The bool reports presence.
func loadAuth(ctx context.Context, sess session.Store, guard string) (*storedAuth, bool, error) {
	data, err := sess.Get(ctx, userKey(guard))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	var rec storedAuth
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt slot is treated as absent; the guard revalidates.
		return nil, false, nil
	}
	return &rec, true, nil
}

func storeUser(ctx context.Context, sess session.Store, guard string, info *UserInfo) error {
	data, err := json.Marshal(storedAuth{User: info})
	if err != nil {
		return err
	}
	if err := sess.Set(ctx, userKey(guard), data); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// storeFailure writes the explicit failure marker. attempted records whether
// a credential was presented.
func storeFailure(ctx context.Context, sess session.Store, guard string, attempted bool) error {
	data, err := json.Marshal(storedAuth{Failed: true, Attempted: attempted})
	if err != nil {
		return err
	}
	if err := sess.Set(ctx, userKey(guard), data); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

func clearUser(ctx context.Context, sess session.Store, guard string) error {
	if err := sess.Delete(ctx, userKey(guard)); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// User returns the UserInfo stored for the named guard in the session, or
// nil when the guard has not authenticated this session.
func User(ctx context.Context, sess session.Store, guard string) (*UserInfo, error) {
	rec, ok, err := loadAuth(ctx, sess, guard)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Failed || rec.User == nil {
		return nil, nil
	}
	return rec.User, nil
}

// ClearUser removes the named guard's authentication state from the session.
func ClearUser(ctx context.Context, sess session.Store, guard string) error {
	return clearUser(ctx, sess, guard)
}
