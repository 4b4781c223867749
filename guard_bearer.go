package fireproof

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thomasp85/fireproof/session"
)

// BearerValidator verifies an opaque bearer token. Return [Granted] with
// the scopes the token awards, or [Denied].
type BearerValidator func(ctx context.Context, token, realm string, req *http.Request, res *Response) AuthResult

// BearerConfig configures a [BearerGuard].
type BearerConfig struct {
	// Name is the guard's unique name within a dispatcher. Required.
	Name string
	// Realm is sent in the WWW-Authenticate challenge. Defaults to Name.
	Realm string
	// Scopes advertises the scopes this guard can grant; used in the
	// OpenAPI description and the rejection challenge.
	Scopes []string
	// AllowBodyToken accepts access_token in a form-encoded body on
	// POST/PUT/PATCH requests (RFC 6750 §2.2).
	AllowBodyToken bool
	// AllowQueryToken accepts access_token as a query parameter
	// (RFC 6750 §2.3). Responses to such requests are marked
	// Cache-Control: private.
	AllowQueryToken bool
	// Validator verifies tokens. Required.
	Validator BearerValidator
}

// BearerGuard implements RFC 6750 bearer-token authentication. A token
// supplied through more than one transmission channel at once is a hard
// 400 protocol error, never silently disambiguated.
type BearerGuard struct {
	name            string
	realm           string
	scopes          []string
	allowBodyToken  bool
	allowQueryToken bool
	validator       BearerValidator
}

// NewBearerGuard validates cfg and constructs the guard.
func NewBearerGuard(cfg BearerConfig) (*BearerGuard, error) {
	if cfg.Name == "" {
		return nil, errGuardConfig("bearer guard requires a name")
	}
	if cfg.Validator == nil {
		return nil, errGuardConfig("bearer guard requires a validator")
	}
	if cfg.Realm == "" {
		cfg.Realm = cfg.Name
	}

	return &BearerGuard{
		name:            cfg.Name,
		realm:           cfg.Realm,
		scopes:          cfg.Scopes,
		allowBodyToken:  cfg.AllowBodyToken,
		allowQueryToken: cfg.AllowQueryToken,
		validator:       cfg.Validator,
	}, nil
}

// Name returns the guard's unique name.
func (g *BearerGuard) Name() string { return g.name }

// CheckRequest extracts the token from exactly one of header, form body,
// and query, then validates it.
func (g *BearerGuard) CheckRequest(ctx context.Context, req *http.Request, res *Response, _ map[string]string, sess session.Store) (bool, error) {
	if decided, ok, err := checkStored(ctx, sess, g.name); err != nil {
		return false, err
	} else if decided {
		return ok, nil
	}

	token, err := g.extractToken(req, res)
	if err != nil {
		if serr := storeFailure(ctx, sess, g.name, true); serr != nil {
			return false, serr
		}
		return false, err
	}
	if token == "" {
		if err := storeFailure(ctx, sess, g.name, false); err != nil {
			return false, err
		}
		return false, nil
	}

	result := g.validator(ctx, token, g.realm, req, res)
	if !result.OK() {
		if err := storeFailure(ctx, sess, g.name, true); err != nil {
			return false, err
		}
		return false, nil
	}

	info := &UserInfo{
		Provider: "bearer",
		Scopes:   result.Scopes(),
		Token: &TokenBundle{
			AccessToken: token,
			TokenType:   "bearer",
			Timestamp:   time.Now().Unix(),
		},
	}
	if err := storeUser(ctx, sess, g.name, info); err != nil {
		return false, err
	}
	return true, nil
}

// RejectResponse issues the Bearer challenge with a 401 when the status is
// still neutral. error="invalid_token" is appended only when a token was
// actually presented, distinguishing a missing credential from a bad one.
func (g *BearerGuard) RejectResponse(ctx context.Context, _ *http.Request, res *Response, requiredScopes []string, sess session.Store) error {
	if !res.StatusNeutral() {
		return g.ForbidUser(ctx, res, requiredScopes, sess)
	}

	challenge := fmt.Sprintf("Bearer realm=%q", g.realm)
	scopes := requiredScopes
	if len(scopes) == 0 {
		scopes = g.scopes
	}
	if len(scopes) > 0 {
		challenge += fmt.Sprintf(", scope=%q", joinScopes(scopes))
	}
	if priorAttempt(ctx, sess, g.name) {
		challenge += `, error="invalid_token"`
	}

	res.Status = http.StatusUnauthorized
	res.Header.Set("WWW-Authenticate", challenge)
	res.SetBodyString("authentication required")
	return nil
}

// ForbidUser clears the stored user and sets 403 with the
// insufficient_scope challenge.
func (g *BearerGuard) ForbidUser(ctx context.Context, res *Response, requiredScopes []string, sess session.Store) error {
	if err := clearUser(ctx, sess, g.name); err != nil {
		return err
	}

	challenge := fmt.Sprintf("Bearer realm=%q", g.realm)
	if len(requiredScopes) > 0 {
		challenge += fmt.Sprintf(", scope=%q", joinScopes(requiredScopes))
	}
	challenge += `, error="insufficient_scope"`

	res.Status = http.StatusForbidden
	res.Header.Set("WWW-Authenticate", challenge)
	res.SetBodyString("insufficient permissions")
	return nil
}

// RegisterAuxiliaryRoutes is a no-op.
func (*BearerGuard) RegisterAuxiliaryRoutes(RouteRegistrar) {}

// DescribeOpenAPI returns the http/bearer securityScheme object.
func (*BearerGuard) DescribeOpenAPI() *SecurityScheme {
	return &SecurityScheme{Type: "http", Scheme: "bearer"}
}

// extractToken reads the token from the header, form body, and query
// channels, failing hard when more than one carries a token.
func (g *BearerGuard) extractToken(req *http.Request, res *Response) (string, error) {
	var tokens []string

	if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); tok != "" {
			tokens = append(tokens, tok)
		}
	}

	if g.allowBodyToken && bodyTokenMethod(req.Method) {
		tok, err := g.bodyToken(req)
		if err != nil {
			return "", err
		}
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	if g.allowQueryToken {
		if tok := req.URL.Query().Get("access_token"); tok != "" {
			tokens = append(tokens, tok)
			// Tokens in the URL must never end up in shared caches.
			res.Header.Set("Cache-Control", "private")
		}
	}

	switch len(tokens) {
	case 0:
		return "", nil
	case 1:
		return tokens[0], nil
	default:
		return "", fmt.Errorf("%w: %d channels carried a token", ErrMultipleTokenChannels, len(tokens))
	}
}

func bodyTokenMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// bodyToken reads access_token from a form-encoded body, re-arming the body
// so downstream handlers can still consume it.
func (g *BearerGuard) bodyToken(req *http.Request) (string, error) {
	ct, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || ct != "application/x-www-form-urlencoded" {
		return "", nil
	}
	if req.Body == nil || req.Body == http.NoBody {
		return "", nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable form body", ErrMalformedCredentials)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return "", nil
	}
	return form.Get("access_token"), nil
}
