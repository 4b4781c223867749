package fireproof

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/thomasp85/fireproof/session"
)

// KeyValidator verifies a shared-secret API key. Return [Granted] with the
// scopes the key awards, or [Denied].
type KeyValidator func(ctx context.Context, key string, req *http.Request, res *Response) AuthResult

// KeyConfig configures a [KeyGuard]. Exactly one of Header and Cookie names
// the credential location, and exactly one of Secret and Validator supplies
// the verification.
type KeyConfig struct {
	// Name is the guard's unique name within a dispatcher. Required.
	Name string
	// Header names the request header carrying the key.
	Header string
	// Cookie names the cookie carrying the key.
	Cookie string
	// Secret enables plain shared-secret equality checking (constant time).
	Secret string
	// Validator verifies keys when equality checking is not enough.
	Validator KeyValidator
}

// KeyGuard implements shared-secret authentication from a named header or
// cookie. The scheme is not a registered HTTP auth scheme, so it carries no
// WWW-Authenticate semantics: rejection is 400 for a missing key and 403
// when the session records a prior failed attempt.
type KeyGuard struct {
	name      string
	header    string
	cookie    string
	validator KeyValidator
}

// NewKeyGuard validates cfg and constructs the guard.
func NewKeyGuard(cfg KeyConfig) (*KeyGuard, error) {
	if cfg.Name == "" {
		return nil, errGuardConfig("key guard requires a name")
	}
	if (cfg.Header == "") == (cfg.Cookie == "") {
		return nil, errGuardConfig("key guard requires exactly one of header and cookie")
	}
	if (cfg.Secret == "") == (cfg.Validator == nil) {
		return nil, errGuardConfig("key guard requires exactly one of secret and validator")
	}

	validator := cfg.Validator
	if validator == nil {
		secret := []byte(cfg.Secret)
		validator = func(_ context.Context, key string, _ *http.Request, _ *Response) AuthResult {
			if subtle.ConstantTimeCompare([]byte(key), secret) == 1 {
				return Granted()
			}
			return Denied()
		}
	}

	return &KeyGuard{
		name:      cfg.Name,
		header:    cfg.Header,
		cookie:    cfg.Cookie,
		validator: validator,
	}, nil
}

// Name returns the guard's unique name.
func (g *KeyGuard) Name() string { return g.name }

// CheckRequest reads the key from the configured location and validates it.
// A session already holding valid UserInfo passes without invoking the
// validator at all.
func (g *KeyGuard) CheckRequest(ctx context.Context, req *http.Request, res *Response, _ map[string]string, sess session.Store) (bool, error) {
	if decided, ok, err := checkStored(ctx, sess, g.name); err != nil {
		return false, err
	} else if decided {
		return ok, nil
	}

	key, present := g.lookupKey(req)
	if !present {
		if err := storeFailure(ctx, sess, g.name, false); err != nil {
			return false, err
		}
		return false, nil
	}

	result := g.validator(ctx, key, req, res)
	if !result.OK() {
		if err := storeFailure(ctx, sess, g.name, true); err != nil {
			return false, err
		}
		return false, nil
	}

	info := &UserInfo{
		Provider: "local",
		ID:       g.name,
		Scopes:   result.Scopes(),
	}
	if err := storeUser(ctx, sess, g.name, info); err != nil {
		return false, err
	}
	return true, nil
}

// RejectResponse sets 403 when the session shows a prior failed attempt
// with a key presented (invalid secret), otherwise 400 for a missing or
// malformed credential — but only while the status is still neutral.
func (g *KeyGuard) RejectResponse(ctx context.Context, _ *http.Request, res *Response, _ []string, sess session.Store) error {
	if priorAttempt(ctx, sess, g.name) {
		if err := clearUser(ctx, sess, g.name); err != nil {
			return err
		}
		res.Status = http.StatusForbidden
		res.SetBodyString("invalid key")
		return nil
	}

	if res.StatusNeutral() {
		res.Status = http.StatusBadRequest
		res.SetBodyString("key required")
	}
	return nil
}

// ForbidUser clears the stored user and sets 403.
func (g *KeyGuard) ForbidUser(ctx context.Context, res *Response, _ []string, sess session.Store) error {
	if err := clearUser(ctx, sess, g.name); err != nil {
		return err
	}
	res.Status = http.StatusForbidden
	res.SetBodyString("insufficient permissions")
	return nil
}

// RegisterAuxiliaryRoutes is a no-op.
func (*KeyGuard) RegisterAuxiliaryRoutes(RouteRegistrar) {}

// DescribeOpenAPI returns the apiKey securityScheme object with the
// configured location.
func (g *KeyGuard) DescribeOpenAPI() *SecurityScheme {
	scheme := &SecurityScheme{Type: "apiKey"}
	if g.header != "" {
		scheme.In = "header"
		scheme.ParamName = g.header
	} else {
		scheme.In = "cookie"
		scheme.ParamName = g.cookie
	}
	return scheme
}

func (g *KeyGuard) lookupKey(req *http.Request) (string, bool) {
	if g.header != "" {
		key := req.Header.Get(g.header)
		return key, key != ""
	}

	cookie, err := req.Cookie(g.cookie)
	if err != nil {
		return "", false
	}
	return cookie.Value, cookie.Value != ""
}
