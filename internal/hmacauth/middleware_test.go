package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func TestMiddleware_AllowsValidSignatureAndKeepsBody(t *testing.T) {
	body := `{"address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/claim", strings.NewReader(body))
	req.Header.Set(DefaultSignatureHeader, Sign("secret", ts, []byte(body)))
	req.Header.Set(DefaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})

	newVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler saw body %q", seen)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	body := `{"address":"0x00"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	stale := strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10)

	cases := []struct {
		name string
		sig  string
		ts   string
	}{
		{"bad signature", "deadbeef", ts},
		{"missing signature", "", ts},
		{"missing timestamp", Sign("secret", ts, []byte(body)), ""},
		{"stale timestamp", Sign("secret", stale, []byte(body)), stale},
		{"wrong secret", Sign("other", ts, []byte(body)), ts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/claim", strings.NewReader(body))
			if tc.sig != "" {
				req.Header.Set(DefaultSignatureHeader, tc.sig)
			}
			if tc.ts != "" {
				req.Header.Set(DefaultTimestampHeader, tc.ts)
			}
			rec := httptest.NewRecorder()

			newVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/claim", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	if !called || v.Enabled() {
		t.Fatalf("expected pass-through when no secret is configured")
	}
}
