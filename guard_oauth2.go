package fireproof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/thomasp85/fireproof/session"
)

// GrantType selects the OAuth2 grant an [OAuth2Guard] drives.
type GrantType string

const (
	// GrantAuthorizationCode is the redirect-based authorization code grant
	// with mandatory PKCE.
	GrantAuthorizationCode GrantType = "authorization_code"
	// GrantPassword is the resource owner password credentials grant. The
	// guard reads credentials from a Basic Authorization header and performs
	// the token request inline, with no redirect round-trip.
	GrantPassword GrantType = "password"
)

// OAuth2Validator inspects the identity produced by a completed login and
// decides whether to accept it, awarding scopes.
type OAuth2Validator func(ctx context.Context, info *UserInfo, req *http.Request, res *Response) AuthResult

// UserInfoExtractor turns a freshly obtained token bundle into a [UserInfo]
// record, typically by calling the provider's user API with the access
// token. The provided client carries the guard's timeout configuration.
type UserInfoExtractor func(ctx context.Context, token *TokenBundle, client *http.Client) (*UserInfo, error)

// OnAuthFunc decides what to answer once a login completes. original is the
// snapshot of the request that triggered the redirect (nil for the password
// grant) and srv is the host server for replaying it. The returned bool
// carries the [Handler] continue semantics.
type OnAuthFunc func(ctx context.Context, req *http.Request, res *Response, original *RequestSnapshot, srv Server) (bool, error)

// OAuth2Config configures an [OAuth2Guard].
type OAuth2Config struct {
	// Name is the guard's unique name within a dispatcher. Required.
	Name string
	// Grant selects the grant type. Defaults to [GrantAuthorizationCode].
	Grant GrantType
	// AuthURL is the provider's authorization endpoint. Required for the
	// authorization code grant.
	AuthURL string
	// TokenURL is the provider's token endpoint. Required.
	TokenURL string
	// ClientID identifies this client at the provider. Required.
	ClientID string
	// ClientSecret authenticates this client at the token endpoint. Public
	// clients relying on PKCE alone may leave it empty.
	ClientSecret string
	// Scopes are requested in the authorization and token requests.
	Scopes []string
	// RedirectPath is the local path the callback handler is registered on.
	// Required for the authorization code grant.
	RedirectPath string
	// RedirectURL is the absolute redirect URI registered at the provider.
	// Required for the authorization code grant.
	RedirectURL string
	// ServiceParams are extra query parameters appended to the
	// authorization redirect (provider-specific knobs like audience or
	// prompt).
	ServiceParams map[string]string
	// Realm is sent in the Basic challenge of the password grant. Defaults
	// to Name.
	Realm string
	// Validate accepts or rejects the identity after token acquisition.
	// When nil every completed login is accepted with no scopes.
	Validate OAuth2Validator
	// ExtractUserInfo resolves the token into an identity record. When nil
	// the stored UserInfo carries only the provider label and the token.
	ExtractUserInfo UserInfoExtractor
	// OnAuth overrides the post-login completion behavior. The default
	// replays the snapshotted request through Server, or answers a plain
	// 200 when no Server is configured.
	OnAuth OnAuthFunc
	// Server replays the original request after login. Optional.
	Server Server
	// Provider labels the stored UserInfo. Defaults to Name.
	Provider string
	// RequestTimeout bounds every outbound provider call. Defaults to 30s.
	RequestTimeout time.Duration
	// PendingTTL bounds how long an issued redirect stays redeemable.
	// Defaults to one hour.
	PendingTTL time.Duration
	// HTTPClient performs outbound provider calls. Defaults to a client
	// with RequestTimeout.
	HTTPClient *http.Client
}

// pendingLogin is the single-use session record tying an authorization
// redirect to its callback: the CSRF state, the PKCE verifier, the OIDC
// nonce, and the snapshot of the request that triggered the login.
type pendingLogin struct {
	State    string           `json:"state"`
	Verifier string           `json:"verifier"`
	Nonce    string           `json:"nonce,omitempty"`
	Created  int64            `json:"created"`
	Request  *RequestSnapshot `json:"request,omitempty"`
}

// OAuth2Guard implements the authorization code (with PKCE) and password
// grants against a single provider. The guard never authenticates from the
// incoming request itself: authentication state is established by the
// callback handler (or the inline password exchange) and then read back
// from the session on subsequent checks.
type OAuth2Guard struct {
	name          string
	grant         GrantType
	authURL       string
	tokenURL      string
	clientID      string
	clientSecret  string
	scopes        []string
	redirectPath  string
	redirectURL   string
	serviceParams map[string]string
	realm         string
	provider      string

	validate        OAuth2Validator
	extractUserInfo UserInfoExtractor
	onAuth          OnAuthFunc
	server          Server

	requestTimeout time.Duration
	pendingTTL     time.Duration
	httpClient     *http.Client

	// Set by the OIDC layer.
	useNonce  bool
	endpoints func(ctx context.Context) (authURL, tokenURL string, err error)
	tokenHook func(ctx context.Context, token *TokenBundle, pend *pendingLogin) (*UserInfo, error)

	obs observer
}

// NewOAuth2Guard validates cfg and constructs the guard.
func NewOAuth2Guard(cfg OAuth2Config) (*OAuth2Guard, error) {
	g, err := newOAuth2Core(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" {
		return nil, errGuardConfig("oauth2 guard requires a token URL")
	}
	if g.grant == GrantAuthorizationCode && cfg.AuthURL == "" {
		return nil, errGuardConfig("oauth2 authorization code grant requires an auth URL")
	}
	return g, nil
}

// newOAuth2Core holds the validation shared with the OIDC guard, which
// resolves endpoints through discovery instead of configuration.
func newOAuth2Core(cfg OAuth2Config) (*OAuth2Guard, error) {
	if cfg.Name == "" {
		return nil, errGuardConfig("oauth2 guard requires a name")
	}
	if cfg.ClientID == "" {
		return nil, errGuardConfig("oauth2 guard requires a client ID")
	}
	switch cfg.Grant {
	case "":
		cfg.Grant = GrantAuthorizationCode
	case GrantAuthorizationCode, GrantPassword:
	default:
		return nil, errGuardConfig(fmt.Sprintf("unsupported grant type %q", cfg.Grant))
	}
	if cfg.Grant == GrantAuthorizationCode {
		if cfg.RedirectPath == "" || cfg.RedirectURL == "" {
			return nil, errGuardConfig("oauth2 authorization code grant requires redirect path and URL")
		}
		if !strings.HasPrefix(cfg.RedirectPath, "/") {
			return nil, errGuardConfig("oauth2 redirect path must be absolute")
		}
	}
	if cfg.Realm == "" {
		cfg.Realm = cfg.Name
	}
	if cfg.Provider == "" {
		cfg.Provider = cfg.Name
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &OAuth2Guard{
		name:            cfg.Name,
		grant:           cfg.Grant,
		authURL:         cfg.AuthURL,
		tokenURL:        cfg.TokenURL,
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		scopes:          append([]string(nil), cfg.Scopes...),
		redirectPath:    cfg.RedirectPath,
		redirectURL:     cfg.RedirectURL,
		serviceParams:   cfg.ServiceParams,
		realm:           cfg.Realm,
		provider:        cfg.Provider,
		validate:        cfg.Validate,
		extractUserInfo: cfg.ExtractUserInfo,
		onAuth:          cfg.OnAuth,
		server:          cfg.Server,
		requestTimeout:  cfg.RequestTimeout,
		pendingTTL:      cfg.PendingTTL,
		httpClient:      cfg.HTTPClient,
		obs:             noopObserver{},
	}, nil
}

// Name returns the guard's unique name.
func (g *OAuth2Guard) Name() string { return g.name }

func (g *OAuth2Guard) bindObserver(o observer) { g.obs = o }

// CheckRequest passes only when the session already holds valid UserInfo
// for this guard. An expired access token is refreshed transparently when a
// refresh token is available; a failed refresh demotes the session back to
// unauthenticated so the rejection path can start a new login.
func (g *OAuth2Guard) CheckRequest(ctx context.Context, _ *http.Request, _ *Response, _ map[string]string, sess session.Store) (bool, error) {
	rec, ok, err := loadAuth(ctx, sess, g.name)
	if err != nil {
		return false, err
	}

	if ok && !rec.Failed && rec.User != nil {
		user := rec.User
		if user.Token != nil && user.Token.Expired(time.Now()) {
			refreshed, err := g.refreshStored(ctx, sess, user)
			if err != nil {
				return false, err
			}
			if !refreshed {
				if serr := storeFailure(ctx, sess, g.name, false); serr != nil {
					return false, serr
				}
				return false, nil
			}
		}
		return true, nil
	}

	if err := storeFailure(ctx, sess, g.name, false); err != nil {
		return false, err
	}
	return false, nil
}

// RejectResponse starts a login. For the authorization code grant that
// means a 303 redirect to the provider with PKCE and a persisted pending
// record; for the password grant it means reading Basic credentials and
// exchanging them inline. Only a neutral response is claimed.
func (g *OAuth2Guard) RejectResponse(ctx context.Context, req *http.Request, res *Response, _ []string, sess session.Store) error {
	if !res.StatusNeutral() {
		return nil
	}
	if g.grant == GrantPassword {
		return g.rejectPassword(ctx, req, res, sess)
	}
	return g.rejectRedirect(ctx, req, res, sess)
}

func (g *OAuth2Guard) rejectRedirect(ctx context.Context, req *http.Request, res *Response, sess session.Store) error {
	cfg, err := g.oauthConfig(ctx)
	if err != nil {
		res.Status = http.StatusServiceUnavailable
		res.SetBodyString("authentication provider unavailable")
		return nil
	}

	snap, err := SnapshotRequest(req)
	if err != nil {
		return err
	}

	pend := &pendingLogin{
		State:    uuid.NewString(),
		Verifier: oauth2.GenerateVerifier(),
		Created:  time.Now().Unix(),
		Request:  snap,
	}
	if g.useNonce {
		pend.Nonce = uuid.NewString()
	}
	if err := g.storePending(ctx, sess, pend); err != nil {
		return err
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(pend.Verifier)}
	if pend.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", pend.Nonce))
	}
	for key, value := range g.serviceParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}

	res.Status = http.StatusSeeOther
	res.Header.Set("Location", cfg.AuthCodeURL(pend.State, opts...))
	res.Body = nil

	g.obs.countMetric(MetricRedirectIssued)
	g.obs.emitEvent(ctx, newEvent(EventRedirect, g.name, true))
	return nil
}

func (g *OAuth2Guard) rejectPassword(ctx context.Context, req *http.Request, res *Response, sess session.Store) error {
	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		g.challengeBasic(res)
		return nil
	}
	username, password, err := decodeBasic(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		// An undecodable header is challenged like a missing one: the client
		// gets another chance to present usable credentials.
		g.challengeBasic(res)
		return nil
	}

	cfg, err := g.oauthConfig(ctx)
	if err != nil {
		res.Status = http.StatusServiceUnavailable
		res.SetBodyString("authentication provider unavailable")
		return nil
	}

	tctx, cancel := g.providerContext(ctx)
	defer cancel()
	tok, err := cfg.PasswordCredentialsToken(tctx, username, password)
	if err != nil {
		g.obs.countMetric(MetricExchangeFailure)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The provider answered: the credentials are wrong.
			if serr := storeFailure(ctx, sess, g.name, true); serr != nil {
				return serr
			}
			g.challengeBasic(res)
			return nil
		}
		res.Status = http.StatusServiceUnavailable
		res.SetBodyString("authentication provider unavailable")
		return nil
	}
	g.obs.countMetric(MetricExchangeSuccess)

	_, err = g.finishLogin(ctx, req, res, sess, tok, nil)
	return err
}

func (g *OAuth2Guard) challengeBasic(res *Response) {
	res.Status = http.StatusUnauthorized
	res.Header.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", g.realm))
	res.SetBodyString("authentication required")
}

// ForbidUser clears the stored user and sets 403.
func (g *OAuth2Guard) ForbidUser(ctx context.Context, res *Response, _ []string, sess session.Store) error {
	if err := clearUser(ctx, sess, g.name); err != nil {
		return err
	}
	res.Status = http.StatusForbidden
	res.SetBodyString("insufficient permissions")
	return nil
}

// RegisterAuxiliaryRoutes registers the callback handler on GET and POST at
// the redirect path. Providers using the form_post response mode deliver
// the code via POST, everyone else via GET.
func (g *OAuth2Guard) RegisterAuxiliaryRoutes(routes RouteRegistrar) {
	if g.grant != GrantAuthorizationCode {
		return
	}
	routes.RegisterRoute(http.MethodGet, g.redirectPath, g.handleCallback)
	routes.RegisterRoute(http.MethodPost, g.redirectPath, g.handleCallback)
}

// DescribeOpenAPI returns the oauth2 securityScheme object with the flow
// matching the configured grant.
func (g *OAuth2Guard) DescribeOpenAPI() *SecurityScheme {
	scopes := make(map[string]string, len(g.scopes))
	for _, scope := range g.scopes {
		scopes[scope] = ""
	}

	flows := &OAuthFlows{}
	if g.grant == GrantPassword {
		flows.Password = &OAuthFlow{TokenURL: g.tokenURL, Scopes: scopes}
	} else {
		flows.AuthorizationCode = &OAuthFlow{
			AuthorizationURL: g.authURL,
			TokenURL:         g.tokenURL,
			Scopes:           scopes,
		}
	}
	return &SecurityScheme{Type: "oauth2", Flows: flows}
}

// RefreshToken refreshes the stored access token. When force is false a
// token still inside its expiry window is left alone and reported valid.
// Without a refresh token nothing can be exchanged, so the report is simply
// whether the access token is still inside its window, force or not. The
// bool reports whether the session ends up holding a usable token.
func (g *OAuth2Guard) RefreshToken(ctx context.Context, sess session.Store, force bool) (bool, error) {
	user, err := User(ctx, sess, g.name)
	if err != nil {
		return false, err
	}
	if user == nil || user.Token == nil {
		return false, nil
	}
	if user.Token.RefreshToken == "" {
		return !user.Token.Expired(time.Now()), nil
	}
	if !force && !user.Token.Expired(time.Now()) {
		return true, nil
	}
	return g.refreshStored(ctx, sess, user)
}

// refreshStored performs the refresh grant and replaces the stored token
// bundle. Provider-side failure reports false with a nil error; only
// session failures surface as errors.
func (g *OAuth2Guard) refreshStored(ctx context.Context, sess session.Store, user *UserInfo) (bool, error) {
	old := user.Token
	if old == nil || old.RefreshToken == "" {
		return false, nil
	}

	cfg, err := g.oauthConfig(ctx)
	if err != nil {
		g.obs.countMetric(MetricRefreshFailure)
		return false, nil
	}

	tctx, cancel := g.providerContext(ctx)
	defer cancel()
	tok, err := cfg.TokenSource(tctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		g.obs.countMetric(MetricRefreshFailure)
		event := newEvent(EventRefresh, g.name, false)
		event.Error = err.Error()
		g.obs.emitEvent(ctx, event)
		return false, nil
	}

	bundle := bundleFromToken(tok)
	// A provider that rotates refresh tokens sends a new one; one that does
	// not expects the old one to keep working.
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = old.RefreshToken
	}
	if bundle.IDToken == "" {
		bundle.IDToken = old.IDToken
	}
	user.Token = bundle

	if err := storeUser(ctx, sess, g.name, user); err != nil {
		return false, err
	}
	g.obs.countMetric(MetricRefreshSuccess)
	g.obs.emitEvent(ctx, newEvent(EventRefresh, g.name, true))
	return true, nil
}

// handleCallback completes the authorization code round-trip: it validates
// state against the single-use pending record, translates provider errors,
// exchanges the code with the PKCE verifier, and hands the token to
// finishLogin.
func (g *OAuth2Guard) handleCallback(req *http.Request, res *Response, _ map[string]string, sess session.Store) (bool, error) {
	ctx := req.Context()
	g.obs.countMetric(MetricCallbackConsumed)

	pend, ok, err := g.loadPending(ctx, sess)
	if err != nil {
		return false, err
	}
	if !ok {
		res.Status = http.StatusBadRequest
		res.SetBodyString("no authorization in progress")
		return false, nil
	}
	if time.Since(time.Unix(pend.Created, 0)) > g.pendingTTL {
		if err := g.deletePending(ctx, sess); err != nil {
			return false, err
		}
		res.Status = http.StatusBadRequest
		res.SetBodyString("authorization state expired")
		g.callbackFailed(ctx, ErrStateExpired)
		return false, nil
	}

	values := callbackValues(req)
	if values.Get("state") != pend.State {
		res.Status = http.StatusBadRequest
		res.SetBodyString("state mismatch")
		g.callbackFailed(ctx, ErrStateMismatch)
		return false, nil
	}

	// State matched: this callback belongs to the pending login, which is
	// redeemable exactly once.
	if err := g.deletePending(ctx, sess); err != nil {
		return false, err
	}

	if errCode := values.Get("error"); errCode != "" {
		g.writeProviderError(res, errCode, values.Get("error_description"), values.Get("error_uri"))
		g.callbackFailed(ctx, fmt.Errorf("provider returned %s", errCode))
		return false, nil
	}
	code := values.Get("code")
	if code == "" {
		res.Status = http.StatusBadRequest
		res.SetBodyString("missing authorization code")
		g.callbackFailed(ctx, ErrMalformedCredentials)
		return false, nil
	}

	cfg, err := g.oauthConfig(ctx)
	if err != nil {
		res.Status = http.StatusServiceUnavailable
		res.SetBodyString("authentication provider unavailable")
		g.callbackFailed(ctx, err)
		return false, nil
	}

	tctx, cancel := g.providerContext(ctx)
	defer cancel()
	tok, err := cfg.Exchange(tctx, code, oauth2.VerifierOption(pend.Verifier))
	if err != nil {
		g.obs.countMetric(MetricExchangeFailure)
		res.Status = http.StatusServiceUnavailable
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			msg := fmt.Sprintf("token exchange failed: %s: %s", retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
			if retrieveErr.ErrorURI != "" {
				msg += " (" + retrieveErr.ErrorURI + ")"
			}
			res.SetBodyString(msg)
		} else {
			res.SetBodyString("token exchange failed")
		}
		g.callbackFailed(ctx, err)
		return false, nil
	}
	g.obs.countMetric(MetricExchangeSuccess)

	return g.finishLogin(ctx, req, res, sess, tok, pend)
}

// finishLogin resolves the token into an identity, applies the validator,
// stores the result, and runs the completion behavior.
func (g *OAuth2Guard) finishLogin(ctx context.Context, req *http.Request, res *Response, sess session.Store, tok *oauth2.Token, pend *pendingLogin) (bool, error) {
	bundle := bundleFromToken(tok)

	var info *UserInfo
	var err error
	switch {
	case g.tokenHook != nil:
		info, err = g.tokenHook(ctx, bundle, pend)
	case g.extractUserInfo != nil:
		info, err = g.extractUserInfo(ctx, bundle, g.httpClient)
	default:
		info = &UserInfo{Provider: g.provider}
	}
	if err != nil {
		res.Status = http.StatusServiceUnavailable
		res.SetBodyString("authentication failed")
		g.callbackFailed(ctx, err)
		return false, nil
	}
	if info.Provider == "" {
		info.Provider = g.provider
	}
	info.Token = bundle

	if g.validate != nil {
		result := g.validate(ctx, info, req, res)
		if !result.OK() {
			if err := storeFailure(ctx, sess, g.name, true); err != nil {
				return false, err
			}
			res.Status = http.StatusForbidden
			res.SetBodyString("authentication rejected")
			g.callbackFailed(ctx, ErrAuthenticationFailed)
			return false, nil
		}
		info.Scopes = result.Scopes()
	}

	if err := storeUser(ctx, sess, g.name, info); err != nil {
		return false, err
	}

	event := newEvent(EventCallback, g.name, true)
	event.Subject = info.ID
	g.obs.emitEvent(ctx, event)

	complete := g.onAuth
	if complete == nil {
		complete = defaultOnAuth
	}
	var original *RequestSnapshot
	if pend != nil {
		original = pend.Request
	}
	return complete(ctx, req, res, original, g.server)
}

func (g *OAuth2Guard) callbackFailed(ctx context.Context, err error) {
	event := newEvent(EventCallback, g.name, false)
	if err != nil {
		event.Error = err.Error()
	}
	g.obs.emitEvent(ctx, event)
}

// writeProviderError maps the RFC 6749 authorization error codes onto HTTP
// statuses: user refusal is 403, provider trouble is 503, everything else
// is a 400 protocol error.
func (g *OAuth2Guard) writeProviderError(res *Response, code, description, uri string) {
	switch code {
	case "access_denied":
		res.Status = http.StatusForbidden
	case "server_error", "temporarily_unavailable":
		res.Status = http.StatusServiceUnavailable
	default:
		res.Status = http.StatusBadRequest
	}

	msg := "authorization failed: " + code
	if description != "" {
		msg += ": " + description
	}
	if uri != "" {
		msg += " (" + uri + ")"
	}
	res.SetBodyString(msg)
}

// oauthConfig resolves the endpoint pair, through discovery when the OIDC
// layer installed a resolver.
func (g *OAuth2Guard) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	authURL, tokenURL := g.authURL, g.tokenURL
	if g.endpoints != nil {
		var err error
		authURL, tokenURL, err = g.endpoints(ctx)
		if err != nil {
			return nil, err
		}
	}

	return &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		RedirectURL:  g.redirectURL,
		Scopes:       g.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}, nil
}

// providerContext bounds an outbound provider call and routes it through
// the guard's HTTP client.
func (g *OAuth2Guard) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	return context.WithTimeout(ctx, g.requestTimeout)
}

func (g *OAuth2Guard) storePending(ctx context.Context, sess session.Store, pend *pendingLogin) error {
	data, err := json.Marshal(pend)
	if err != nil {
		return err
	}
	if err := sess.Set(ctx, pendingKey(g.name), data); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// loadPending reads the pending record without consuming it. The record is
// deleted separately, only on terminal callback outcomes: a forged hit on
// the callback path must not destroy a user's in-flight login.
func (g *OAuth2Guard) loadPending(ctx context.Context, sess session.Store) (*pendingLogin, bool, error) {
	data, err := sess.Get(ctx, pendingKey(g.name))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	var pend pendingLogin
	if err := json.Unmarshal(data, &pend); err != nil {
		return nil, false, nil
	}
	return &pend, true, nil
}

func (g *OAuth2Guard) deletePending(ctx context.Context, sess session.Store) error {
	if err := sess.Delete(ctx, pendingKey(g.name)); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// callbackValues merges the query and, for form_post deliveries, the form
// body into one value set.
func callbackValues(req *http.Request) url.Values {
	values := req.URL.Query()
	if req.Method != http.MethodPost {
		return values
	}
	ct, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || ct != "application/x-www-form-urlencoded" {
		return values
	}
	if err := req.ParseForm(); err != nil {
		return values
	}
	for key, vs := range req.PostForm {
		for _, v := range vs {
			values.Add(key, v)
		}
	}
	return values
}

// bundleFromToken converts an exchanged token into the stored bundle form.
func bundleFromToken(tok *oauth2.Token) *TokenBundle {
	bundle := &TokenBundle{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Timestamp:    time.Now().Unix(),
	}
	if !tok.Expiry.IsZero() {
		if remaining := int64(time.Until(tok.Expiry).Seconds()); remaining > 0 {
			bundle.ExpiresIn = remaining
		}
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		bundle.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		bundle.Scope = splitScopes(scope)
	}
	return bundle
}

// splitScopes tolerates both the space separation of RFC 6749 and the
// comma separation some providers use.
func splitScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

// defaultOnAuth replays the request that triggered the login through the
// host server, or answers a plain 200 when replay is not possible.
func defaultOnAuth(ctx context.Context, _ *http.Request, res *Response, original *RequestSnapshot, srv Server) (bool, error) {
	if original == nil || srv == nil {
		res.Status = http.StatusOK
		res.Header.Set("Content-Type", "text/plain")
		res.SetBodyString("authentication complete")
		return false, nil
	}

	replay, err := original.Rebuild()
	if err != nil {
		return false, err
	}
	replayRes := NewResponse()
	if err := srv.Dispatch(replay.WithContext(ctx), replayRes); err != nil {
		return false, err
	}
	res.CopyFrom(replayRes)
	return false, nil
}
