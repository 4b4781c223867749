package fireproof

import (
	"context"
	"net/http"
	"strings"

	"github.com/thomasp85/fireproof/session"
)

// AuthResult is the tagged outcome of a validator callback: either denied,
// or granted together with the scopes the validator awards. It replaces the
// bool-or-scope-array convention with an explicit type.
type AuthResult struct {
	ok     bool
	scopes []string
}

// Denied returns a failed validation result.
func Denied() AuthResult {
	return AuthResult{}
}

// Granted returns a successful validation result carrying the granted
// scopes. Granting no scopes is valid: the user authenticates but can only
// reach endpoints without scope requirements.
func Granted(scopes ...string) AuthResult {
	return AuthResult{ok: true, scopes: scopes}
}

// OK reports whether validation succeeded.
func (r AuthResult) OK() bool { return r.ok }

// Scopes returns the scopes granted by the validator.
func (r AuthResult) Scopes() []string { return r.scopes }

// Guard is the contract every authentication scheme implements. A guard is
// identified by a unique name within one [Fireproof] dispatcher; its
// configuration is set at construction and never mutated.
//
// Per guard and session the state machine is UNCHECKED → {AUTHENTICATED |
// FAILED}; AUTHENTICATED returns to UNCHECKED only through explicit
// clearing in ForbidUser or a rejection path.
type Guard interface {
	// Name returns the guard's unique name.
	Name() string

	// CheckRequest reports whether the request is currently authenticated
	// under this guard for this session. It is idempotent within one request
	// lifecycle: valid stored UserInfo short-circuits to true without
	// re-running credential checks. Fresh validation stores UserInfo on
	// success and an explicit failure marker on failure. A non-nil error
	// signals a malformed request (400-class) that must surface immediately.
	CheckRequest(ctx context.Context, req *http.Request, res *Response, params map[string]string, sess session.Store) (bool, error)

	// RejectResponse mutates the response to signal rejection. It must not
	// downgrade a non-neutral status set by another guard in the same flow.
	RejectResponse(ctx context.Context, req *http.Request, res *Response, requiredScopes []string, sess session.Store) error

	// ForbidUser handles "authenticated but missing required scope": it
	// clears the guard's stored UserInfo and sets a 403-class response.
	ForbidUser(ctx context.Context, res *Response, requiredScopes []string, sess session.Store) error

	// RegisterAuxiliaryRoutes lets the guard add supporting endpoints; a
	// no-op for stateless schemes.
	RegisterAuxiliaryRoutes(routes RouteRegistrar)

	// DescribeOpenAPI returns the OpenAPI v3 securityScheme object for the
	// guard's type.
	DescribeOpenAPI() *SecurityScheme
}

// checkStored applies the idempotency rule shared by all guards: when the
// session already holds valid UserInfo for the guard, the check passes
// without touching credentials. The first bool reports whether a stored
// user decided the check.
func checkStored(ctx context.Context, sess session.Store, guard string) (bool, bool, error) {
	rec, ok, err := loadAuth(ctx, sess, guard)
	if err != nil {
		return false, false, err
	}
	if ok && !rec.Failed && rec.User != nil {
		return true, true, nil
	}
	return false, false, nil
}

// priorAttempt reports whether the session records a failed attempt with a
// credential actually presented.
func priorAttempt(ctx context.Context, sess session.Store, guard string) bool {
	rec, ok, err := loadAuth(ctx, sess, guard)
	if err != nil || !ok {
		return false
	}
	return rec.Failed && rec.Attempted
}

// joinScopes renders a scope list for WWW-Authenticate challenges.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// GuardFunc adapts a bare predicate into an anonymous guard with generic
// 400/403 reject and forbid behavior.
type GuardFunc struct {
	name string
	fn   func(ctx context.Context, req *http.Request, res *Response, params map[string]string, sess session.Store) AuthResult
}

// NewGuardFunc wraps fn as a [Guard] under the given name.
func NewGuardFunc(name string, fn func(ctx context.Context, req *http.Request, res *Response, params map[string]string, sess session.Store) AuthResult) (*GuardFunc, error) {
	if name == "" {
		return nil, errGuardConfig("guard name is required")
	}
	if fn == nil {
		return nil, errGuardConfig("guard predicate is required")
	}
	return &GuardFunc{name: name, fn: fn}, nil
}

// Name returns the guard's unique name.
func (g *GuardFunc) Name() string { return g.name }

// CheckRequest runs the wrapped predicate with the standard session
// short-circuit and bookkeeping.
func (g *GuardFunc) CheckRequest(ctx context.Context, req *http.Request, res *Response, params map[string]string, sess session.Store) (bool, error) {
	if decided, ok, err := checkStored(ctx, sess, g.name); err != nil {
		return false, err
	} else if decided {
		return ok, nil
	}

	result := g.fn(ctx, req, res, params, sess)
	if !result.OK() {
		if err := storeFailure(ctx, sess, g.name, false); err != nil {
			return false, err
		}
		return false, nil
	}

	info := &UserInfo{Provider: "local", Scopes: result.Scopes()}
	if err := storeUser(ctx, sess, g.name, info); err != nil {
		return false, err
	}
	return true, nil
}

// RejectResponse sets a generic 400 when the status is still neutral.
func (g *GuardFunc) RejectResponse(_ context.Context, _ *http.Request, res *Response, _ []string, _ session.Store) error {
	if res.StatusNeutral() {
		res.Status = http.StatusBadRequest
		res.SetBodyString("request cannot be authenticated")
	}
	return nil
}

// ForbidUser clears the stored user and sets 403.
func (g *GuardFunc) ForbidUser(ctx context.Context, res *Response, _ []string, sess session.Store) error {
	if err := clearUser(ctx, sess, g.name); err != nil {
		return err
	}
	res.Status = http.StatusForbidden
	res.SetBodyString("insufficient permissions")
	return nil
}

// RegisterAuxiliaryRoutes is a no-op.
func (*GuardFunc) RegisterAuxiliaryRoutes(RouteRegistrar) {}

// DescribeOpenAPI returns nil: anonymous guards have no scheme
// representation and are dropped by the pruning pass.
func (*GuardFunc) DescribeOpenAPI() *SecurityScheme { return nil }
