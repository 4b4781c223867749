package fireproof

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCredentials reports a syntactically broken credential: a
	// Basic header that does not decode to a user:password pair, or a Bearer
	// token supplied through more than one transmission channel.
	ErrMalformedCredentials = errors.New("malformed credentials")
	// ErrMultipleTokenChannels reports a bearer token carried simultaneously
	// in more than one of header, body, and query.
	ErrMultipleTokenChannels = errors.New("token supplied through multiple transmission methods")
	// ErrNotAuthorized is surfaced by the dispatcher when a flow evaluates to
	// false and the aggregate rejection response carries an error status.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrScopeForbidden is surfaced when a request authenticated but lacks a
	// required scope.
	ErrScopeForbidden = errors.New("required scope not granted")
	// ErrAuthenticationFailed reports a failed login attempt: bad
	// credentials, a rejected validate callback, or invalid token claims.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrProviderUnavailable reports a token, userinfo, or discovery endpoint
	// that answered non-200 or did not answer at all.
	ErrProviderUnavailable = errors.New("authorization provider unavailable")
	// ErrFlowSyntax reports an invalid flow expression at parse time.
	ErrFlowSyntax = errors.New("invalid flow expression")
	// ErrDuplicateGuard reports a guard name registered twice.
	ErrDuplicateGuard = errors.New("guard name already registered")
	// ErrGuardConfig reports a missing or invalid guard constructor argument.
	ErrGuardConfig = errors.New("invalid guard configuration")
	// ErrDuplicateRule reports an auth rule bound twice to one endpoint.
	ErrDuplicateRule = errors.New("auth rule already registered for endpoint")
	// ErrStateMismatch reports an OAuth2 callback whose state token does not
	// match the pending authorization attempt.
	ErrStateMismatch = errors.New("oauth2 state mismatch")
	// ErrStateExpired reports an OAuth2 callback arriving after the pending
	// authorization window closed.
	ErrStateExpired = errors.New("oauth2 pending authorization expired")
	// ErrTokenExpired reports an ID token whose exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenIssuedInFuture reports an ID token whose iat claim exceeds the
	// clock-skew tolerance.
	ErrTokenIssuedInFuture = errors.New("token issued in the future")
	// ErrIssuerMismatch reports an ID token whose iss claim does not match
	// the configured issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrAudienceMismatch reports an ID token whose aud claim does not match
	// the configured client id.
	ErrAudienceMismatch = errors.New("token audience mismatch")
	// ErrNonceMismatch reports an ID token whose nonce does not match the one
	// generated at redirect time.
	ErrNonceMismatch = errors.New("token nonce mismatch")
	// ErrSessionUnavailable reports a session store that failed a read or
	// write during guard evaluation.
	ErrSessionUnavailable = errors.New("session store unavailable")
)

func errGuardConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrGuardConfig, msg)
}
