package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/docsync/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(APIHeaders())(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestRequestID(t *testing.T) {
	var gotID, gotAddr string
	h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotAddr = kit.GetRemoteAddr(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("no logger")
		}
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	h.ServeHTTP(rec, req)
	if gotID == "" || rec.Header().Get(RequestIDHeader) != gotID {
		t.Fatalf("id = %q header = %q", gotID, rec.Header().Get(RequestIDHeader))
	}
	if gotAddr != "198.51.100.7" {
		t.Fatalf("remote addr = %q", gotAddr)
	}

	const incoming = "0190b7a4-6a3e-7c3e-9d1e-1234567890ab"
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != incoming {
		t.Fatalf("incoming id not reused: %q", gotID)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID == "<script>" {
		t.Fatal("invalid incoming id reused")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		_, readErr = r.Body.Read(buf)
		if readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("0123456789")))
	if readErr == nil {
		t.Fatal("expected read error past limit")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: rate.Every(time.Hour), Burst: 2}, "/healthz")
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/validateEditorState", nil)
		req.RemoteAddr = "203.0.113.1:1000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/validateEditorState", nil)
	req.RemoteAddr = "203.0.113.2:1000"
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("other ip limited: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "203.0.113.1:1000"
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("excluded path limited: %d", rec.Code)
	}
}

func TestRateLimiterCollectsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(2 * time.Minute)
	rl.Allow("c")
	if rl.Len() != 1 {
		t.Fatalf("buckets = %d", rl.Len())
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Fatalf("got %q", got)
	}
}

func TestAPIStack(t *testing.T) {
	stack := APIStack(StackConfig{MaxBody: 1024, Limiter: NewRateLimiter(RateLimitConfig{Rate: 10, Burst: 10})})
	if len(stack) != 4 {
		t.Fatalf("stack = %d", len(stack))
	}
	if len(APIStack(StackConfig{})) != 2 {
		t.Fatal("optional middleware included")
	}
}
