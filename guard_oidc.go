package fireproof

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/thomasp85/fireproof/internal/discovery"
)

// idTokenSigningAlgs are the asymmetric JWS algorithms accepted on ID
// tokens. Symmetric algorithms are excluded: the signing key comes from
// the provider's public JWKS.
var idTokenSigningAlgs = []string{
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"PS256", "PS384", "PS512",
}

// OIDCConfig configures an [OIDCGuard].
type OIDCConfig struct {
	// Name is the guard's unique name within a dispatcher. Required.
	Name string
	// ServiceURL is the provider's issuer URL; the discovery document is
	// fetched from its .well-known path. Required.
	ServiceURL string
	// ClientID identifies this client at the provider. Required.
	ClientID string
	// ClientSecret authenticates this client at the token endpoint.
	ClientSecret string
	// Scopes are requested alongside the mandatory openid scope.
	Scopes []string
	// RedirectPath is the local path the callback handler is registered
	// on. Required.
	RedirectPath string
	// RedirectURL is the absolute redirect URI registered at the provider.
	// Required.
	RedirectURL string
	// ServiceParams are extra query parameters appended to the
	// authorization redirect.
	ServiceParams map[string]string
	// SkipUserinfo disables the userinfo endpoint call; the identity is
	// then built from ID token claims alone.
	SkipUserinfo bool
	// Validate accepts or rejects the identity after validation. When nil
	// every verified login is accepted with no scopes.
	Validate OAuth2Validator
	// OnAuth overrides the post-login completion behavior.
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
	// HTTPClient performs outbound provider calls.
	HTTPClient *http.Client
}

// OIDCGuard layers OpenID Connect on top of the authorization code flow:
// endpoints come from the discovery document, the redirect carries a nonce,
// and the returned ID token is signature-checked against the provider JWKS
// and claim-validated before any identity is stored.
type OIDCGuard struct {
	*OAuth2Guard

	serviceURL   string
	skipUserinfo bool
	metadata     *discovery.Client
}

// NewOIDCGuard validates cfg and constructs the guard.
func NewOIDCGuard(cfg OIDCConfig) (*OIDCGuard, error) {
	if cfg.ServiceURL == "" {
		return nil, errGuardConfig("oidc guard requires a service URL")
	}

	scopes := cfg.Scopes
	if !slices.Contains(scopes, "openid") {
		scopes = append([]string{"openid"}, scopes...)
	}

	core, err := newOAuth2Core(OAuth2Config{
		Name:           cfg.Name,
		Grant:          GrantAuthorizationCode,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Scopes:         scopes,
		RedirectPath:   cfg.RedirectPath,
		RedirectURL:    cfg.RedirectURL,
		ServiceParams:  cfg.ServiceParams,
		Validate:       cfg.Validate,
		OnAuth:         cfg.OnAuth,
		Server:         cfg.Server,
		Provider:       cfg.Provider,
		RequestTimeout: cfg.RequestTimeout,
		PendingTTL:     cfg.PendingTTL,
		HTTPClient:     cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	g := &OIDCGuard{
		OAuth2Guard:  core,
		serviceURL:   cfg.ServiceURL,
		skipUserinfo: cfg.SkipUserinfo,
		metadata:     discovery.NewClient(cfg.ServiceURL, core.httpClient),
	}
	g.metadata.OnFetch(func() {
		g.obs.countMetric(MetricDiscoveryRefresh)
	})

	core.useNonce = true
	core.endpoints = g.resolveEndpoints
	core.tokenHook = g.handleToken

	return g, nil
}

// DescribeOpenAPI returns the openIdConnect securityScheme object pointing
// at the provider's discovery document.
func (g *OIDCGuard) DescribeOpenAPI() *SecurityScheme {
	return &SecurityScheme{
		Type:             "openIdConnect",
		OpenIDConnectURL: g.serviceURL + "/.well-known/openid-configuration",
	}
}

func (g *OIDCGuard) resolveEndpoints(ctx context.Context) (string, string, error) {
	doc, err := g.metadata.Document(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return doc.AuthorizationEndpoint, doc.TokenEndpoint, nil
}

// handleToken is the token hook: it validates the ID token and builds the
// identity record, optionally enriched from the userinfo endpoint.
func (g *OIDCGuard) handleToken(ctx context.Context, token *TokenBundle, pend *pendingLogin) (*UserInfo, error) {
	if token.IDToken == "" {
		return nil, fmt.Errorf("%w: provider returned no id_token", ErrAuthenticationFailed)
	}

	nonce := ""
	if pend != nil {
		nonce = pend.Nonce
	}
	claims, err := g.validateIDToken(ctx, token.IDToken, nonce)
	if err != nil {
		return nil, err
	}

	info := identityFromClaims(claims, g.provider)
	if info.ID == "" {
		return nil, fmt.Errorf("%w: id_token has no sub claim", ErrAuthenticationFailed)
	}

	if !g.skipUserinfo {
		g.mergeUserinfo(ctx, info, token.AccessToken)
	}

	return info, nil
}

// validateIDToken checks the JWS signature against the provider JWKS and
// applies the claim checks: issuer equality, audience containing the
// client ID, unexpired, not issued in the future beyond a 60s clock skew,
// and the nonce round-tripping from the redirect.
func (g *OIDCGuard) validateIDToken(ctx context.Context, raw, nonce string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(idTokenSigningAlgs),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := g.metadata.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		var rawKey any
		if err := jwk.Export(key, &rawKey); err != nil {
			return nil, fmt.Errorf("exporting signing key: %w", err)
		}
		return rawKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	doc, err := g.metadata.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer != doc.Issuer {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, issuer, doc.Issuer)
	}

	audience, err := claims.GetAudience()
	if err != nil || !slices.Contains(audience, g.clientID) {
		return nil, fmt.Errorf("%w: audience %v", ErrAudienceMismatch, []string(audience))
	}

	now := time.Now()
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil || !expiry.After(now) {
		return nil, ErrTokenExpired
	}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		if issuedAt.After(now.Add(60 * time.Second)) {
			return nil, ErrTokenIssuedInFuture
		}
	}

	if nonce != "" {
		got, _ := claims["nonce"].(string)
		if got != nonce {
			return nil, ErrNonceMismatch
		}
	}

	return claims, nil
}

// identityFromClaims maps the standard OIDC claims onto UserInfo. The full
// claim set is preserved in Raw.
func identityFromClaims(claims jwt.MapClaims, provider string) *UserInfo {
	info := &UserInfo{
		Provider: provider,
		ID:       claimString(claims, "sub"),
		Name: Name{
			Given:   claimString(claims, "given_name"),
			Middle:  claimString(claims, "middle_name"),
			Family:  claimString(claims, "family_name"),
			Display: claimString(claims, "name"),
			User:    claimString(claims, "preferred_username"),
		},
	}
	if email := claimString(claims, "email"); email != "" {
		info.Emails = []string{email}
	}
	if picture := claimString(claims, "picture"); picture != "" {
		info.Photos = []string{picture}
	}
	if raw, err := json.Marshal(claims); err == nil {
		info.Raw = raw
	}
	return info
}

// mergeUserinfo enriches the identity from the userinfo endpoint. The
// merge is best-effort and strictly additive: ID token claims win, and a
// response whose sub does not match the ID token is discarded outright.
func (g *OIDCGuard) mergeUserinfo(ctx context.Context, info *UserInfo, accessToken string) {
	doc, err := g.metadata.Document(ctx)
	if err != nil || doc.UserinfoEndpoint == "" {
		return
	}
	claims, err := g.fetchUserinfo(ctx, doc.UserinfoEndpoint, accessToken)
	if err != nil {
		return
	}
	if claimString(claims, "sub") != info.ID {
		return
	}

	if info.Name.Given == "" {
		info.Name.Given = claimString(claims, "given_name")
	}
	if info.Name.Middle == "" {
		info.Name.Middle = claimString(claims, "middle_name")
	}
	if info.Name.Family == "" {
		info.Name.Family = claimString(claims, "family_name")
	}
	if info.Name.Display == "" {
		info.Name.Display = claimString(claims, "name")
	}
	if info.Name.User == "" {
		info.Name.User = claimString(claims, "preferred_username")
	}
	if len(info.Emails) == 0 {
		if email := claimString(claims, "email"); email != "" {
			info.Emails = []string{email}
		}
	}
	if len(info.Photos) == 0 {
		if picture := claimString(claims, "picture"); picture != "" {
			info.Photos = []string{picture}
		}
	}
	info.Extra = claims
}

func (g *OIDCGuard) fetchUserinfo(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	tctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned HTTP %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: invalid userinfo document: %v", ErrProviderUnavailable, err)
	}
	return claims, nil
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}
