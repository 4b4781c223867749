package fireproof

// SecurityScheme is the OpenAPI v3 securityScheme object, shaped exactly as
// OpenAPI defines it for the apiKey, http, oauth2, and openIdConnect types.
type SecurityScheme struct {
	Type             string      `json:"type"`
	Description      string      `json:"description,omitempty"`
	ParamName        string      `json:"name,omitempty"`
	In               string      `json:"in,omitempty"`
	Scheme           string      `json:"scheme,omitempty"`
	BearerFormat     string      `json:"bearerFormat,omitempty"`
	Flows            *OAuthFlows `json:"flows,omitempty"`
	OpenIDConnectURL string      `json:"openIdConnectUrl,omitempty"`
}

// OAuthFlows holds the per-grant flow objects of an oauth2 scheme.
type OAuthFlows struct {
	AuthorizationCode *OAuthFlow `json:"authorizationCode,omitempty"`
	Password          *OAuthFlow `json:"password,omitempty"`
	ClientCredentials *OAuthFlow `json:"clientCredentials,omitempty"`
	Implicit          *OAuthFlow `json:"implicit,omitempty"`
}

// OAuthFlow is one OAuth2 flow description.
type OAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	RefreshURL       string            `json:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes"`
}

// SecurityRequirement is one OpenAPI security requirement object: every
// named scheme must pass (AND), with the listed scopes.
type SecurityRequirement map[string][]string

// FlowToOpenAPI converts a flow into the OpenAPI security array form: a
// disjunction of requirement objects, each a conjunction of scheme names.
// The scope list is attached to every scheme unconditionally; [Prune]
// removes it where the scheme type cannot carry scopes.
//
// OpenAPI cannot represent nesting beyond OR-of-ANDs. A flow deeper than
// that reports ok=false with a nil result; callers treat it as "security
// not representable" rather than an error.
func FlowToOpenAPI(flow *Flow, scopes []string) ([]SecurityRequirement, bool) {
	if flow == nil {
		return nil, false
	}
	if flow.Depth() > 2 {
		return nil, false
	}

	alternatives := []*Flow{flow}
	if flow.Op == OpOr {
		alternatives = flow.Children
	}

	reqs := make([]SecurityRequirement, 0, len(alternatives))
	for _, alt := range alternatives {
		req := SecurityRequirement{}
		switch alt.Op {
		case OpScalar:
			req[alt.Name] = append([]string(nil), scopes...)
		case OpAnd:
			for _, child := range alt.Children {
				if child.Op != OpScalar {
					return nil, false
				}
				req[child.Name] = append([]string(nil), scopes...)
			}
		default:
			// An OR nested under the top-level OR.
			return nil, false
		}
		reqs = append(reqs, req)
	}
	return reqs, true
}

// Prune post-processes a generated OpenAPI document so that every security
// requirement references only declared schemes and only scopes those
// schemes can carry: undeclared scheme names are dropped, scope lists on
// non-oauth2/openIdConnect schemes are emptied, oauth2 scope lists are
// intersected with the scopes declared across the scheme's flows, and
// requirement objects left empty are removed. The input document is not
// mutated; order of surviving entries is preserved. Prune is idempotent.
func Prune(doc map[string]any) map[string]any {
	out, _ := deepCopyJSON(doc).(map[string]any)
	if out == nil {
		return map[string]any{}
	}

	schemes := declaredSchemes(out)

	if security, ok := out["security"].([]any); ok {
		out["security"] = pruneSecurityList(security, schemes)
	}

	paths, _ := out["paths"].(map[string]any)
	for _, pathItem := range paths {
		operations, _ := pathItem.(map[string]any)
		for _, operation := range operations {
			op, _ := operation.(map[string]any)
			if op == nil {
				continue
			}
			if security, ok := op["security"].([]any); ok {
				op["security"] = pruneSecurityList(security, schemes)
			}
		}
	}

	return out
}

func declaredSchemes(doc map[string]any) map[string]map[string]any {
	components, _ := doc["components"].(map[string]any)
	raw, _ := components["securitySchemes"].(map[string]any)

	schemes := make(map[string]map[string]any, len(raw))
	for name, value := range raw {
		if scheme, ok := value.(map[string]any); ok {
			schemes[name] = scheme
		}
	}
	return schemes
}

func pruneSecurityList(security []any, schemes map[string]map[string]any) []any {
	pruned := make([]any, 0, len(security))
	for _, entry := range security {
		req, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		kept := map[string]any{}
		for name, rawScopes := range req {
			scheme, declared := schemes[name]
			if !declared {
				continue
			}
			kept[name] = pruneScopes(scheme, rawScopes)
		}
		if len(kept) > 0 {
			pruned = append(pruned, kept)
		}
	}
	return pruned
}

func pruneScopes(scheme map[string]any, rawScopes any) []any {
	schemeType, _ := scheme["type"].(string)
	scopes, _ := rawScopes.([]any)

	switch schemeType {
	case "openIdConnect":
		if scopes == nil {
			return []any{}
		}
		return scopes
	case "oauth2":
		declared := flowScopeUnion(scheme)
		kept := make([]any, 0, len(scopes))
		for _, scope := range scopes {
			name, ok := scope.(string)
			if ok && declared[name] {
				kept = append(kept, scope)
			}
		}
		return kept
	default:
		// apiKey and http schemes cannot carry scopes.
		return []any{}
	}
}

// flowScopeUnion collects every scope declared across an oauth2 scheme's
// flow objects.
func flowScopeUnion(scheme map[string]any) map[string]bool {
	union := map[string]bool{}
	flows, _ := scheme["flows"].(map[string]any)
	for _, flow := range flows {
		flowObj, _ := flow.(map[string]any)
		scopes, _ := flowObj["scopes"].(map[string]any)
		for scope := range scopes {
			union[scope] = true
		}
	}
	return union
}

func deepCopyJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopyJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyJSON(item)
		}
		return out
	default:
		return v
	}
}
