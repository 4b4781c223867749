// Package fireproof provides pluggable authentication and authorization
// guards for HTTP servers: Basic, Bearer, API-key, OAuth2 (authorization
// code with PKCE, password grant), and OpenID Connect, combined through a
// boolean flow language that decides per endpoint which guards and scopes
// must pass.
//
// The package is a library, not a server. The host router supplies routes,
// request/response plumbing, and a per-client session store; fireproof
// supplies the guard implementations, the flow evaluator, and OpenAPI
// security-document generation.
//
// # Architecture boundaries
//
// fireproof is the public surface. It exposes [Fireproof], the [Guard]
// interface, the concrete guard types, [Flow], [UserInfo], and the OpenAPI
// security model. OIDC discovery and JWKS caching live under internal/ and
// are never exported. Session persistence lives in the session sub-package
// behind the [session.Store] contract.
//
// # What this package must NOT do
//
//   - Terminate TLS, match routes, or parse cookies beyond credential lookup.
//   - Persist credentials. fireproof is a relying party; validator callbacks
//     own credential verification.
//   - Perform network I/O outside guard operations that need it (token
//     exchange, refresh, discovery, userinfo).
//
// # Concurrency contract
//
// A [Fireproof] instance is configured once at startup (AddGuard,
// AddAuthRule) and is then safe for concurrent request evaluation. The only
// mutable shared state is the per-guard OIDC discovery and JWKS caches,
// which are mutex-guarded and refresh lazily.
package fireproof
