package fireproof

import (
	"context"
	"testing"
	"time"

	"github.com/thomasp85/fireproof/session"
)

func TestTokenBundleExpired(t *testing.T) {
	now := time.Now()

	var nilBundle *TokenBundle
	if nilBundle.Expired(now) {
		t.Fatal("expected nil bundle never expired")
	}

	noExpiry := &TokenBundle{AccessToken: "a", Timestamp: now.Add(-24 * time.Hour).Unix()}
	if noExpiry.Expired(now) {
		t.Fatal("expected bundle without expires_in never expired")
	}

	fresh := &TokenBundle{AccessToken: "a", ExpiresIn: 3600, Timestamp: now.Unix()}
	if fresh.Expired(now) {
		t.Fatal("expected fresh bundle valid")
	}

	stale := &TokenBundle{AccessToken: "a", ExpiresIn: 60, Timestamp: now.Add(-2 * time.Minute).Unix()}
	if !stale.Expired(now) {
		t.Fatal("expected stale bundle expired")
	}
}

func TestUserInfoHasScopes(t *testing.T) {
	user := &UserInfo{Scopes: []string{"read", "write"}}

	if !user.HasScopes(nil) {
		t.Fatal("expected empty requirement satisfied")
	}
	if !user.HasScopes([]string{"read"}) {
		t.Fatal("expected granted scope satisfied")
	}
	if !user.HasScopes([]string{"read", "write"}) {
		t.Fatal("expected full set satisfied")
	}
	if user.HasScopes([]string{"read", "admin"}) {
		t.Fatal("expected missing scope to fail")
	}

	var nilUser *UserInfo
	if nilUser.HasScopes(nil) {
		t.Fatal("expected nil user to fail")
	}
}

func TestUserStorage(t *testing.T) {
	sess := session.NewMemoryStore()
	ctx := context.Background()

	// Absent slot.
	user, err := User(ctx, sess, "basic")
	if err != nil || user != nil {
		t.Fatalf("expected no user, got %+v err=%v", user, err)
	}

	if err := storeUser(ctx, sess, "basic", &UserInfo{Provider: "local", ID: "jane"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, err = User(ctx, sess, "basic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "jane" {
		t.Fatalf("expected stored user, got %+v", user)
	}

	// Guard slots are independent.
	user, err = User(ctx, sess, "key")
	if err != nil || user != nil {
		t.Fatalf("expected other slot empty, got %+v err=%v", user, err)
	}

	if err := ClearUser(ctx, sess, "basic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, err = User(ctx, sess, "basic")
	if err != nil || user != nil {
		t.Fatalf("expected cleared slot empty, got %+v err=%v", user, err)
	}
}

func TestUserFailureMarkerHidesUser(t *testing.T) {
	sess := session.NewMemoryStore()
	ctx := context.Background()

	if err := storeFailure(ctx, sess, "basic", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := User(ctx, sess, "basic")
	if err != nil || user != nil {
		t.Fatalf("expected failure marker to report no user, got %+v err=%v", user, err)
	}

	rec, ok, err := loadAuth(ctx, sess, "basic")
	if err != nil || !ok {
		t.Fatalf("expected marker present, got ok=%v err=%v", ok, err)
	}
	if !rec.Failed || !rec.Attempted {
		t.Fatalf("expected failed attempted marker, got %+v", rec)
	}
}

func TestLoadAuthCorruptSlot(t *testing.T) {
	sess := session.NewMemoryStore()
	ctx := context.Background()

	if err := sess.Set(ctx, userKey("basic"), []byte("{not json")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, ok, err := loadAuth(ctx, sess, "basic")
	if err != nil || ok || rec != nil {
		t.Fatalf("expected corrupt slot treated as absent, got rec=%+v ok=%v err=%v", rec, ok, err)
	}
}
