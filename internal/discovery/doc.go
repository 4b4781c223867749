// Package discovery fetches and caches OIDC provider metadata: the
// .well-known/openid-configuration document and the JWKS signing-key set.
//
// Both caches expire per the provider's Cache-Control max-age (default one
// hour) and refresh lazily. A key-id lookup miss forces exactly one refresh
// before failing, which survives provider key rotation without permanently
// poisoning the cache. Refresh is mutex-guarded: a stale read during a
// refresh in flight is acceptable, a torn write is not.
package discovery
