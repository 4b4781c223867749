package fireproof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thomasp85/fireproof/session"
)

func newTestDispatcher(t *testing.T) *Fireproof {
	t.Helper()
	f := New(Config{Metrics: MetricsConfig{Enabled: true}})
	t.Cleanup(f.Close)
	return f
}

func addBasic(t *testing.T, f *Fireproof, name string, scopes ...string) {
	t.Helper()
	guard, err := NewBasicGuard(BasicConfig{Name: name, Validator: staticBasicValidator("jane", "secret", scopes...)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddGuard(guard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func addKey(t *testing.T, f *Fireproof, name, secret string) {
	t.Helper()
	guard, err := NewKeyGuard(KeyConfig{Name: name, Header: "X-Api-Key", Secret: secret})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddGuard(guard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFireproofDuplicateGuard(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")

	guard, err := NewBasicGuard(BasicConfig{Name: "basic", Validator: staticBasicValidator("u", "p")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddGuard(guard); !errors.Is(err, ErrDuplicateGuard) {
		t.Fatalf("expected ErrDuplicateGuard, got %v", err)
	}
}

func TestFireproofRuleRegistration(t *testing.T) {
	f := newTestDispatcher(t)

	if err := f.AddAuthRuleExpr(http.MethodGet, "/a", "basic &&"); !errors.Is(err, ErrFlowSyntax) {
		t.Fatalf("expected ErrFlowSyntax, got %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodGet, "/a", "basic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodGet, "/a", "basic"); !errors.Is(err, ErrDuplicateRule) {
		t.Fatalf("expected ErrDuplicateRule, got %v", err)
	}
}

func TestFireproofNoRuleAllowsRequest(t *testing.T) {
	f := newTestDispatcher(t)

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/open", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected unruled route to pass, got ok=%v err=%v", ok, err)
	}
}

func TestFireproofNilFlowDisablesAuth(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	if err := f.AddAuthRule(http.MethodGet, "/open", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/open", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected explicit opt-out to pass, got ok=%v err=%v", ok, err)
	}
}

func TestFireproofOrFlow(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	addKey(t, f, "key", "hunter2")
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "basic || key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Key credential alone satisfies the OR.
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("X-Api-Key", "hunter2")
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected key credential to pass, got ok=%v err=%v", ok, err)
	}

	// No credential: both reject, the basic 401 survives.
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	res := NewResponse()
	ok, err = f.CheckAccess(context.Background(), http.MethodGet, "/private", req, res, nil, session.NewMemoryStore())
	if ok {
		t.Fatal("expected rejection without credentials")
	}
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if res.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Status)
	}
	if res.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected a WWW-Authenticate challenge")
	}
}

func TestFireproofAndFlow(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	addKey(t, f, "key", "hunter2")
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "basic && key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only one of the two credentials: the AND fails.
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("X-Api-Key", "hunter2")
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())
	if ok || !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected AND failure, got ok=%v err=%v", ok, err)
	}

	// Both credentials pass.
	req.Header.Set("Authorization", basicHeader("jane", "secret"))
	ok, err = f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected AND pass, got ok=%v err=%v", ok, err)
	}
}

func TestFireproofScopeRequirement(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic", "read")
	if err := f.AddAuthRuleExpr(http.MethodGet, "/read", "basic", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodDelete, "/admin", "basic", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Granted scope satisfies the requirement.
	sess := session.NewMemoryStore()
	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", basicHeader("jane", "secret"))
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/read", req, NewResponse(), nil, sess)
	if err != nil || !ok {
		t.Fatalf("expected scoped pass, got ok=%v err=%v", ok, err)
	}

	// Missing scope: authenticated but forbidden, session cleared.
	sess = session.NewMemoryStore()
	req = httptest.NewRequest(http.MethodDelete, "/admin", nil)
	req.Header.Set("Authorization", basicHeader("jane", "secret"))
	res := NewResponse()
	ok, err = f.CheckAccess(context.Background(), http.MethodDelete, "/admin", req, res, nil, sess)
	if ok {
		t.Fatal("expected forbidden")
	}
	if !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected ErrScopeForbidden, got %v", err)
	}
	if res.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Status)
	}
	user, err := User(context.Background(), sess, "basic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatal("expected forbidden guard's session cleared")
	}
}

func TestFireproofUnknownGuardAlwaysPasses(t *testing.T) {
	f := newTestDispatcher(t)
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "ghost"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected unknown guard to degrade to pass, got ok=%v err=%v", ok, err)
	}
	if f.MetricsSnapshot().Counters[MetricUnknownGuard] != 1 {
		t.Fatal("expected unknown-guard metric incremented")
	}
}

func TestFireproofMalformedCredentialsSurfaceImmediately(t *testing.T) {
	f := newTestDispatcher(t)
	bearer, err := NewBearerGuard(BearerConfig{
		Name:            "api",
		AllowQueryToken: true,
		Validator:       staticBearerValidator("tok"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddGuard(bearer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/private?access_token=tok", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res := NewResponse()
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, res, nil, session.NewMemoryStore())
	if ok {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrMultipleTokenChannels) {
		t.Fatalf("expected ErrMultipleTokenChannels, got %v", err)
	}
	if res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Status)
	}
	if !strings.Contains(string(res.Body), "more than one method") {
		t.Fatalf("unexpected body %q", res.Body)
	}
}

func TestFireproofRedirectIsIntermediateResponse(t *testing.T) {
	f := newTestDispatcher(t)
	ts := newTokenServer(t)
	guard := testOAuth2Guard(t, ts, nil)
	if err := f.AddGuard(guard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "oauth"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://app.test/private", nil)
	res := NewResponse()
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, res, nil, session.NewMemoryStore())
	if ok {
		t.Fatal("expected flow failure pending the redirect")
	}
	if err != nil {
		t.Fatalf("expected redirect treated as a valid intermediate response, got %v", err)
	}
	if res.Status != http.StatusSeeOther || res.Header.Get("Location") == "" {
		t.Fatalf("expected 303 with Location, got %d", res.Status)
	}
}

func TestFireproofGuardFunc(t *testing.T) {
	f := newTestDispatcher(t)
	err := f.AddGuardFunc("intranet", func(_ context.Context, req *http.Request, _ *Response, _ map[string]string, _ session.Store) AuthResult {
		if strings.HasPrefix(req.RemoteAddr, "10.") {
			return Granted()
		}
		return Denied()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "intranet"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.RemoteAddr = "10.0.0.4:1234"
	ok, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected predicate pass, got ok=%v err=%v", ok, err)
	}

	req.RemoteAddr = "203.0.113.7:1234"
	res := NewResponse()
	ok, err = f.CheckAccess(context.Background(), http.MethodGet, "/private", req, res, nil, session.NewMemoryStore())
	if ok || !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected predicate rejection, got ok=%v err=%v", ok, err)
	}
	if res.Status != http.StatusBadRequest {
		t.Fatalf("expected generic 400, got %d", res.Status)
	}
}

func TestFireproofSecuritySchemes(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	addKey(t, f, "key", "hunter2")
	if err := f.AddGuardFunc("anon", func(context.Context, *http.Request, *Response, map[string]string, session.Store) AuthResult {
		return Granted()
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	schemes := f.SecuritySchemes()
	if len(schemes) != 2 {
		t.Fatalf("expected 2 schemes (anonymous guard has none), got %d", len(schemes))
	}
	if schemes["basic"].Scheme != "basic" || schemes["key"].Type != "apiKey" {
		t.Fatalf("unexpected schemes %+v", schemes)
	}
}

func TestFireproofEndpointSecurity(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	addKey(t, f, "key", "hunter2")
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "basic || key", "read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs, ok := f.EndpointSecurity(http.MethodGet, "/private")
	if !ok {
		t.Fatal("expected representable security")
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(reqs))
	}

	if _, ok := f.EndpointSecurity(http.MethodGet, "/unruled"); ok {
		t.Fatal("expected no security for unruled endpoint")
	}
}

func TestFireproofAccessMetrics(t *testing.T) {
	f := newTestDispatcher(t)
	addBasic(t, f, "basic")
	if err := f.AddAuthRuleExpr(http.MethodGet, "/private", "basic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", basicHeader("jane", "secret"))
	if _, err := f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	_, _ = f.CheckAccess(context.Background(), http.MethodGet, "/private", req, NewResponse(), nil, session.NewMemoryStore())

	snap := f.MetricsSnapshot()
	if snap.Counters[MetricAccessGranted] != 1 {
		t.Fatalf("expected 1 granted, got %d", snap.Counters[MetricAccessGranted])
	}
	if snap.Counters[MetricAccessRejected] != 1 {
		t.Fatalf("expected 1 rejected, got %d", snap.Counters[MetricAccessRejected])
	}
	if snap.Counters[MetricCheckPass] != 1 || snap.Counters[MetricCheckFail] != 1 {
		t.Fatalf("expected one pass and one fail check, got %+v", snap.Counters)
	}
}
