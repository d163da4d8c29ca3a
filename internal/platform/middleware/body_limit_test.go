package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

const importPrefix = "/api/v1/imports"

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10m", 10 << 20},
		{"8MB", 8 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{" 2K ", 2 << 10},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"0", 1 << 20},
	}

	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestValidLimit(t *testing.T) {
	for _, s := range []string{"1M", "512K", "8MB", "1024"} {
		if !ValidLimit(s) {
			t.Errorf("ValidLimit(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "M", "lots", "-1M", "0", "1MK"} {
		if ValidLimit(s) {
			t.Errorf("ValidLimit(%q) = true, want false", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Content-Length checks
// ---------------------------------------------------------------------------

func TestBodyLimit_ContentLength(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		size       int
		regular    string
		imports    string
		wantCalled bool
	}{
		{"small record", http.MethodPost, "/api/v1/records", 64, "1K", "10M", true},
		{"oversized record", http.MethodPost, "/api/v1/records", 2048, "1K", "10M", false},
		{"import within import limit", http.MethodPost, "/api/v1/imports/plan", 2048, "1K", "10M", true},
		{"import over import limit", http.MethodPost, "/api/v1/imports/plan", 2048, "512", "1K", false},
		{"import prefix only for POST", http.MethodPut, "/api/v1/imports/plan", 2048, "1K", "10M", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewReader(bytes.Repeat([]byte("x"), tt.size)))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			handler := func(c echo.Context) error {
				called = true
				b, err := io.ReadAll(c.Request().Body)
				if err != nil {
					return err
				}
				if len(b) != tt.size {
					t.Errorf("handler read %d bytes, want %d", len(b), tt.size)
				}
				return c.NoContent(http.StatusOK)
			}

			if err := BodyLimit(tt.regular, tt.imports, importPrefix)(handler)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if !tt.wantCalled && rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("expected status 413, got %d", rec.Code)
			}
		})
	}
}

func TestBodyLimit_RejectionMessageNamesLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := BodyLimit("1K", "10M", importPrefix)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !strings.Contains(body["message"], "1024 bytes") {
		t.Errorf("expected limit in message, got %q", body["message"])
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/records", nil), httptest.NewRecorder())

	called := false
	handler := func(c echo.Context) error {
		called = true
		return nil
	}
	if err := BodyLimit("1", "1", importPrefix)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called for GET with no body")
	}
}

// ---------------------------------------------------------------------------
// Streaming enforcement
// ---------------------------------------------------------------------------

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", bytes.NewReader(bytes.Repeat([]byte("a"), 1024)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	err := BodyLimit("512", "10M", importPrefix)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", httpErr.Code)
	}
}

func TestLimitedReadCloser_ExactLimit(t *testing.T) {
	r := &limitedReadCloser{ReadCloser: io.NopCloser(strings.NewReader("abcd")), remaining: 4}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "abcd" {
		t.Errorf("got %q, want %q", b, "abcd")
	}
}
