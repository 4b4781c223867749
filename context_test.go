package fireproof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.0.0.7:1234", nil, "10.0.0.7"},
		{"remote addr without port", "10.0.0.7", nil, "10.0.0.7"},
		{"forwarded single", "10.0.0.7:1234", map[string]string{"X-Forwarded-For": "203.0.113.4"}, "203.0.113.4"},
		{"forwarded chain takes first hop", "10.0.0.7:1234", map[string]string{"X-Forwarded-For": "203.0.113.4, 10.0.0.1"}, "203.0.113.4"},
		{"real ip", "10.0.0.7:1234", map[string]string{"X-Real-Ip": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := requestClientIP(req); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}

	if got := requestClientIP(nil); got != "" {
		t.Fatalf("expected empty IP for nil request, got %q", got)
	}
}

func TestContextCarriers(t *testing.T) {
	ctx := WithClientIP(context.Background(), "203.0.113.4")
	ctx = WithUserAgent(ctx, "curl/8.0")

	if got := clientIPFromContext(ctx); got != "203.0.113.4" {
		t.Fatalf("expected stored IP, got %q", got)
	}
	if got := userAgentFromContext(ctx); got != "curl/8.0" {
		t.Fatalf("expected stored user agent, got %q", got)
	}

	meta := requestMetadata(ctx)
	if meta["client_ip"] != "203.0.113.4" || meta["user_agent"] != "curl/8.0" {
		t.Fatalf("unexpected metadata %v", meta)
	}

	if meta := requestMetadata(context.Background()); meta != nil {
		t.Fatalf("expected nil metadata without carriers, got %v", meta)
	}
	if clientIPFromContext(nil) != "" || userAgentFromContext(nil) != "" {
		t.Fatal("expected nil context to read empty")
	}
}
