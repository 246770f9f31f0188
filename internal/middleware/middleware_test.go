package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiter_blocks_after_max(t *testing.T) {
	l := NewLimiter(time.Minute, 2)
	h := l.Handler(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload/me", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/me", nil)
	req.RemoteAddr = "10.0.0.1:6666"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("reset header missing")
	}

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/upload/me", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	h.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Errorf("other clients are unaffected, got %d", other.Code)
	}
}

func TestLimiter_window_slides(t *testing.T) {
	l := NewLimiter(time.Second, 1)
	now := time.Now()

	if ok, _, _ := l.check("ip", now); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _, _ := l.check("ip", now.Add(500*time.Millisecond)); ok {
		t.Fatal("second request inside the window should fail")
	}
	if ok, _, _ := l.check("ip", now.Add(1500*time.Millisecond)); !ok {
		t.Error("request after the window should pass")
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cors-origins.txt")
	os.WriteFile(p, []byte("# comment\nhttps://a.example\n\nhttps://b.example\n"), 0644)

	origins := loadCORSOrigins(p)
	if len(origins) != 2 || origins[0] != "https://a.example" {
		t.Errorf("unexpected origins %v", origins)
	}
	if loadCORSOrigins(filepath.Join(t.TempDir(), "missing")) != nil {
		t.Error("missing file should yield nil")
	}
}

func TestRequestLogger_passes_through(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status should pass through, got %d", rec.Code)
	}
}
