package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	defaultMaxAge   = time.Hour
	maxResponseSize = 1 << 20
)

// ErrProviderUnavailable reports a discovery or JWKS endpoint that answered
// non-200 or did not answer at all.
var ErrProviderUnavailable = errors.New("provider metadata unavailable")

// ErrKeyNotFound reports a signing key id absent from the JWKS even after a
// forced refresh.
var ErrKeyNotFound = errors.New("signing key not found in JWKS")

// Document is the subset of the OIDC discovery document fireproof uses.
type Document struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// Client caches provider metadata for one OIDC guard. Safe for concurrent
// use.
type Client struct {
	serviceURL string
	httpClient *http.Client

	mu         sync.Mutex
	fetchHook  func()
	doc        *Document
	docExpiry  time.Time
	keys       jwk.Set
	keysExpiry time.Time
}

// OnFetch installs a hook invoked on every discovery document fetch. Must
// be called before the client is shared.
func (c *Client) OnFetch(fn func()) {
	c.fetchHook = fn
}

// NewClient creates a metadata client for the given issuer URL.
func NewClient(serviceURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: httpClient,
	}
}

// Document returns the cached discovery document, fetching it when absent
// or expired.
func (c *Client) Document(ctx context.Context) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentLocked(ctx)
}

func (c *Client) documentLocked(ctx context.Context) (*Document, error) {
	if c.doc != nil && time.Now().Before(c.docExpiry) {
		return c.doc, nil
	}

	doc, maxAge, err := c.fetchDocument(ctx)
	if err != nil {
		if c.doc != nil {
			// Keep serving the stale document rather than failing the login.
			return c.doc, nil
		}
		return nil, err
	}

	c.doc = doc
	c.docExpiry = time.Now().Add(maxAge)
	return doc, nil
}

// Key returns the provider signing key with the given key id. A miss in
// the cached set forces exactly one refresh before failing.
func (c *Client) Key(ctx context.Context, kid string) (jwk.Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil && time.Now().Before(c.keysExpiry) {
		if key, ok := c.keys.LookupKeyID(kid); ok {
			return key, nil
		}
	}

	if err := c.refreshKeysLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.keys.LookupKeyID(kid); ok {
		return key, nil
	}

	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (c *Client) refreshKeysLocked(ctx context.Context) error {
	doc, err := c.documentLocked(ctx)
	if err != nil {
		return err
	}
	if doc.JWKSURI == "" {
		return fmt.Errorf("%w: discovery document has no jwks_uri", ErrProviderUnavailable)
	}

	body, maxAge, err := c.fetchJSON(ctx, doc.JWKSURI)
	if err != nil {
		return err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return fmt.Errorf("%w: invalid JWKS: %v", ErrProviderUnavailable, err)
	}

	c.keys = set
	c.keysExpiry = time.Now().Add(maxAge)
	return nil
}

// wellKnownURL appends the discovery path, normalizing duplicate slashes.
func (c *Client) wellKnownURL() string {
	return c.serviceURL + "/.well-known/openid-configuration"
}

func (c *Client) fetchDocument(ctx context.Context) (*Document, time.Duration, error) {
	if c.fetchHook != nil {
		c.fetchHook()
	}
	body, maxAge, err := c.fetchJSON(ctx, c.wellKnownURL())
	if err != nil {
		return nil, 0, err
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: invalid discovery document: %v", ErrProviderUnavailable, err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, 0, fmt.Errorf("%w: discovery document missing endpoints", ErrProviderUnavailable)
	}

	return &doc, maxAge, nil
}

func (c *Client) fetchJSON(ctx context.Context, url string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: GET %s: %v", ErrProviderUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: GET %s: HTTP %d", ErrProviderUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return body, cacheMaxAge(resp.Header), nil
}

// cacheMaxAge extracts max-age from Cache-Control, defaulting to one hour.
func cacheMaxAge(header http.Header) time.Duration {
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return defaultMaxAge
}
