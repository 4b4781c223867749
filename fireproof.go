package fireproof

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	internalaudit "github.com/thomasp85/fireproof/internal/audit"
	"github.com/thomasp85/fireproof/session"
)

// Config configures a [Fireproof] dispatcher.
type Config struct {
	// Routes receives the auxiliary routes guards register (the OAuth2
	// callback path). Optional; without it guards needing auxiliary routes
	// cannot complete their flows.
	Routes RouteRegistrar
	// Metrics controls the in-process counters.
	Metrics MetricsConfig
	// Audit controls the asynchronous audit pipeline.
	Audit AuditConfig
}

// authRule binds a flow and an optional scope requirement to one endpoint.
// A nil flow records an explicit opt-out: authentication disabled.
type authRule struct {
	flow   *Flow
	scopes []string
}

// Fireproof is the guard registry and per-request access dispatcher.
// Registration (AddGuard, AddAuthRule) happens once at startup; after that
// the registry is read-only and CheckAccess is safe for concurrent use.
type Fireproof struct {
	routes  RouteRegistrar
	metrics *Metrics
	audit   *internalaudit.Dispatcher

	guards     map[string]Guard
	guardOrder []string
	rules      map[string]*authRule
}

// New creates a dispatcher.
func New(cfg Config) *Fireproof {
	return &Fireproof{
		routes:  cfg.Routes,
		metrics: NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, cfg.Audit.Sink),
		guards: make(map[string]Guard),
		rules:  make(map[string]*authRule),
	}
}

// Close flushes and stops the audit pipeline.
func (f *Fireproof) Close() {
	f.audit.Close()
}

// AuditDropped reports how many audit events were dropped by a full buffer.
func (f *Fireproof) AuditDropped() uint64 {
	return f.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all metrics.
func (f *Fireproof) MetricsSnapshot() MetricsSnapshot {
	return f.metrics.Snapshot()
}

// AddGuard registers a guard under its unique name and lets it register
// auxiliary routes. Not safe to call concurrently with request handling.
func (f *Fireproof) AddGuard(g Guard) error {
	name := g.Name()
	if name == "" {
		return errGuardConfig("guard name is required")
	}
	if _, exists := f.guards[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateGuard, name)
	}

	if bound, ok := g.(interface{ bindObserver(observer) }); ok {
		bound.bindObserver(f)
	}
	if f.routes != nil {
		g.RegisterAuxiliaryRoutes(f.routes)
	}

	f.guards[name] = g
	f.guardOrder = append(f.guardOrder, name)
	return nil
}

// AddGuardFunc registers a bare predicate as an anonymous guard.
func (f *Fireproof) AddGuardFunc(name string, fn func(ctx context.Context, req *http.Request, res *Response, params map[string]string, sess session.Store) AuthResult) error {
	g, err := NewGuardFunc(name, fn)
	if err != nil {
		return err
	}
	return f.AddGuard(g)
}

// AddAuthRule binds a flow and an optional scope requirement to an
// endpoint. A nil flow disables authentication for the route explicitly.
func (f *Fireproof) AddAuthRule(method, path string, flow *Flow, scopes ...string) error {
	key := ruleKey(method, path)
	if _, exists := f.rules[key]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateRule, strings.ToUpper(method), path)
	}
	f.rules[key] = &authRule{flow: flow, scopes: scopes}
	return nil
}

// AddAuthRuleExpr parses expr as a flow expression and binds it. An empty
// expression is the explicit opt-out, equivalent to a nil flow.
func (f *Fireproof) AddAuthRuleExpr(method, path, expr string, scopes ...string) error {
	var flow *Flow
	if strings.TrimSpace(expr) != "" {
		parsed, err := ParseFlow(expr)
		if err != nil {
			return err
		}
		flow = parsed
	}
	return f.AddAuthRule(method, path, flow, scopes...)
}

// Guard returns the registered guard with the given name, or nil.
func (f *Fireproof) Guard(name string) Guard {
	return f.guards[name]
}

// SecuritySchemes collects the OpenAPI securityScheme objects of every
// registered guard that has one, keyed by guard name. Feed the result into
// components.securitySchemes of the generated document.
func (f *Fireproof) SecuritySchemes() map[string]*SecurityScheme {
	schemes := make(map[string]*SecurityScheme)
	for _, name := range f.guardOrder {
		if scheme := f.guards[name].DescribeOpenAPI(); scheme != nil {
			schemes[name] = scheme
		}
	}
	return schemes
}

// EndpointSecurity returns the OpenAPI security array for a registered
// endpoint. ok is false when the endpoint has no representable flow, either
// because no rule exists, the rule opts out, or the flow nests deeper than
// OR-of-ANDs. The produced document must still go through [Prune].
func (f *Fireproof) EndpointSecurity(method, path string) ([]SecurityRequirement, bool) {
	rule, exists := f.rules[ruleKey(method, path)]
	if !exists || rule.flow == nil {
		return nil, false
	}
	return FlowToOpenAPI(rule.flow, rule.scopes)
}

// CheckAccess evaluates the endpoint's flow against the request. The bool
// reports whether the request may proceed to the protected handler. When it
// is false with a nil error the response holds a valid intermediate answer
// (an OAuth2 redirect); a non-nil error means the response holds a final
// rejection status.
func (f *Fireproof) CheckAccess(ctx context.Context, method, path string, req *http.Request, res *Response, params map[string]string, sess session.Store) (bool, error) {
	rule, exists := f.rules[ruleKey(method, path)]
	if !exists || rule.flow == nil {
		return true, nil
	}

	start := time.Now()
	defer func() {
		f.metrics.Observe(time.Since(start))
	}()

	if clientIPFromContext(ctx) == "" {
		ctx = WithClientIP(ctx, requestClientIP(req))
	}
	if userAgentFromContext(ctx) == "" && req != nil {
		ctx = WithUserAgent(ctx, req.UserAgent())
	}

	results := make(map[string]bool)
	for _, name := range rule.flow.Names() {
		guard, known := f.guards[name]
		if !known {
			// A misconfigured flow must not take the route down: treat the
			// unknown guard as always-passing and make the bug visible.
			results[name] = true
			f.metrics.Inc(MetricUnknownGuard)
			event := newEvent(EventUnknownGuard, name, false)
			event.Method, event.Path = method, path
			event.Error = "flow references unregistered guard"
			f.audit.Emit(ctx, event)
			continue
		}

		ok, err := guard.CheckRequest(ctx, req, res, params, sess)
		if err != nil {
			if isMalformed(err) {
				f.metrics.Inc(MetricCheckMalformed)
				f.emitCheck(ctx, name, method, path, false, err)
				res.Status = http.StatusBadRequest
				res.SetBodyString(malformedMessage(err))
				return false, err
			}
			return false, err
		}

		results[name] = ok
		if ok {
			f.metrics.Inc(MetricCheckPass)
		} else {
			f.metrics.Inc(MetricCheckFail)
		}
		f.emitCheck(ctx, name, method, path, ok, nil)
	}

	if !rule.flow.Evaluate(results) {
		return f.rejectAll(ctx, rule, results, req, res, sess, method, path)
	}

	if len(rule.scopes) > 0 {
		granted, err := f.scopeResults(ctx, rule, results, sess)
		if err != nil {
			return false, err
		}
		if !rule.flow.Evaluate(granted) {
			return f.forbidAll(ctx, rule, results, res, sess, method, path)
		}
	}

	f.metrics.Inc(MetricAccessGranted)
	f.emitAccess(ctx, method, path, true, nil)
	return true, nil
}

// rejectAll runs the rejection fan-out: every guard that individually
// failed gets to shape the response, in registration order. A resulting
// status below 400 is a valid intermediate response (the redirect case) and
// reports no error.
func (f *Fireproof) rejectAll(ctx context.Context, rule *authRule, results map[string]bool, req *http.Request, res *Response, sess session.Store, method, path string) (bool, error) {
	for _, name := range f.guardOrder {
		if passed, evaluated := results[name]; !evaluated || passed {
			continue
		}
		if err := f.guards[name].RejectResponse(ctx, req, res, rule.scopes, sess); err != nil {
			return false, err
		}
	}

	f.metrics.Inc(MetricAccessRejected)
	if res.Status >= http.StatusBadRequest {
		f.emitAccess(ctx, method, path, false, ErrNotAuthorized)
		return false, ErrNotAuthorized
	}
	f.emitAccess(ctx, method, path, false, nil)
	return false, nil
}

// scopeResults recomputes the per-guard truth table using "holds the
// required scopes" in place of "passed authentication". Unknown guards stay
// always-passing.
func (f *Fireproof) scopeResults(ctx context.Context, rule *authRule, results map[string]bool, sess session.Store) (map[string]bool, error) {
	granted := make(map[string]bool, len(results))
	for _, name := range rule.flow.Names() {
		if _, known := f.guards[name]; !known {
			granted[name] = true
			continue
		}
		if !results[name] {
			granted[name] = false
			continue
		}
		user, err := User(ctx, sess, name)
		if err != nil {
			return nil, err
		}
		granted[name] = user != nil && user.HasScopes(rule.scopes)
	}
	return granted, nil
}

// forbidAll runs the forbidden fan-out: every guard that individually
// passed authentication clears its stored user and shapes the 403.
func (f *Fireproof) forbidAll(ctx context.Context, rule *authRule, results map[string]bool, res *Response, sess session.Store, method, path string) (bool, error) {
	for _, name := range f.guardOrder {
		if passed, evaluated := results[name]; !evaluated || !passed {
			continue
		}
		if err := f.guards[name].ForbidUser(ctx, res, rule.scopes, sess); err != nil {
			return false, err
		}
	}

	f.metrics.Inc(MetricAccessForbidden)
	f.emitAccess(ctx, method, path, false, ErrScopeForbidden)
	return false, ErrScopeForbidden
}

// emitEvent and countMetric implement the observer back-channel guards use
// for out-of-band reporting.
func (f *Fireproof) emitEvent(ctx context.Context, event AuditEvent) {
	f.audit.Emit(ctx, event)
}

func (f *Fireproof) countMetric(id MetricID) {
	f.metrics.Inc(id)
}

func (f *Fireproof) emitCheck(ctx context.Context, guard, method, path string, success bool, err error) {
	if f.audit == nil {
		return
	}
	event := newEvent(EventCheck, guard, success)
	event.Method, event.Path = method, path
	event.Metadata = requestMetadata(ctx)
	if err != nil {
		event.Error = err.Error()
	}
	f.audit.Emit(ctx, event)
}

func (f *Fireproof) emitAccess(ctx context.Context, method, path string, success bool, err error) {
	if f.audit == nil {
		return
	}
	event := newEvent(EventAccess, "", success)
	event.Method, event.Path = method, path
	event.Metadata = requestMetadata(ctx)
	if err != nil {
		event.Error = err.Error()
	}
	f.audit.Emit(ctx, event)
}

// requestMetadata assembles the audit metadata carried by context.
func requestMetadata(ctx context.Context) map[string]string {
	var meta map[string]string
	if ip := clientIPFromContext(ctx); ip != "" {
		meta = map[string]string{"client_ip": ip}
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta["user_agent"] = ua
	}
	return meta
}

func ruleKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedCredentials) || errors.Is(err, ErrMultipleTokenChannels)
}

func malformedMessage(err error) string {
	if errors.Is(err, ErrMultipleTokenChannels) {
		return "token provided through more than one method"
	}
	return "malformed credentials"
}
