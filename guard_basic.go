package fireproof

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/thomasp85/fireproof/session"
)

// BasicValidator verifies a username/password pair. Return [Granted] with
// the scopes the credentials award, or [Denied].
type BasicValidator func(ctx context.Context, username, password, realm string, req *http.Request, res *Response) AuthResult

// BasicConfig configures a [BasicGuard].
type BasicConfig struct {
	// Name is the guard's unique name within a dispatcher. Required.
	Name string
	// Realm is sent in the WWW-Authenticate challenge. Defaults to Name.
	Realm string
	// Validator verifies credentials. Required.
	Validator BasicValidator
}

// BasicGuard implements RFC 7617 HTTP Basic authentication. The credential
// is the Authorization: Basic header; a header that does not decode to a
// user:password pair is a 400-class protocol error, distinct from a 401 for
// credentials the validator rejects.
type BasicGuard struct {
	name      string
	realm     string
	validator BasicValidator
}

// NewBasicGuard validates cfg and constructs the guard.
func NewBasicGuard(cfg BasicConfig) (*BasicGuard, error) {
	if cfg.Name == "" {
		return nil, errGuardConfig("basic guard requires a name")
	}
	if cfg.Validator == nil {
		return nil, errGuardConfig("basic guard requires a validator")
	}
	if cfg.Realm == "" {
		cfg.Realm = cfg.Name
	}

	return &BasicGuard{
		name:      cfg.Name,
		realm:     cfg.Realm,
		validator: cfg.Validator,
	}, nil
}

// Name returns the guard's unique name.
func (g *BasicGuard) Name() string { return g.name }

// CheckRequest validates the Authorization: Basic header against the
// configured validator.
func (g *BasicGuard) CheckRequest(ctx context.Context, req *http.Request, res *Response, _ map[string]string, sess session.Store) (bool, error) {
	if decided, ok, err := checkStored(ctx, sess, g.name); err != nil {
		return false, err
	} else if decided {
		return ok, nil
	}

	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		if err := storeFailure(ctx, sess, g.name, false); err != nil {
			return false, err
		}
		return false, nil
	}

	username, password, err := decodeBasic(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		if serr := storeFailure(ctx, sess, g.name, true); serr != nil {
			return false, serr
		}
		return false, err
	}

	result := g.validator(ctx, username, password, g.realm, req, res)
	if !result.OK() {
		if err := storeFailure(ctx, sess, g.name, true); err != nil {
			return false, err
		}
		return false, nil
	}

	info := &UserInfo{
		Provider: "local",
		ID:       username,
		Name:     Name{User: username},
		Scopes:   result.Scopes(),
	}
	if err := storeUser(ctx, sess, g.name, info); err != nil {
		return false, err
	}
	return true, nil
}

// RejectResponse issues the Basic challenge with a 401 when the status is
// still neutral. A non-neutral status means another guard already claimed a
// more specific rejection, in which case the guard falls back to
// scope-forbidden handling.
func (g *BasicGuard) RejectResponse(ctx context.Context, _ *http.Request, res *Response, requiredScopes []string, sess session.Store) error {
	if !res.StatusNeutral() {
		return g.ForbidUser(ctx, res, requiredScopes, sess)
	}

	res.Status = http.StatusUnauthorized
	res.Header.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=UTF-8", g.realm))
	res.SetBodyString("authentication required")
	return nil
}

// ForbidUser clears the stored user and sets 403.
func (g *BasicGuard) ForbidUser(ctx context.Context, res *Response, _ []string, sess session.Store) error {
	if err := clearUser(ctx, sess, g.name); err != nil {
		return err
	}
	res.Status = http.StatusForbidden
	res.SetBodyString("insufficient permissions")
	return nil
}

// RegisterAuxiliaryRoutes is a no-op.
func (*BasicGuard) RegisterAuxiliaryRoutes(RouteRegistrar) {}

// DescribeOpenAPI returns the http/basic securityScheme object.
func (*BasicGuard) DescribeOpenAPI() *SecurityScheme {
	return &SecurityScheme{Type: "http", Scheme: "basic"}
}

// decodeBasic decodes the base64 credential and splits it on the first
// colon. Anything that does not yield exactly a user and a password is a
// malformed-credentials protocol error.
func decodeBasic(encoded string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", fmt.Errorf("%w: basic header is not valid base64", ErrMalformedCredentials)
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: basic header is not a user:password pair", ErrMalformedCredentials)
	}

	return parts[0], parts[1], nil
}
