package taskmcp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	cfg := Config{AuthToken: "test-token-abcdef", MyNumber: "919876543210"}
	return Handler(cfg, NewServer(cfg, NewTaskStore()))
}

func postMCP(t *testing.T, h http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"probe","version":"0.0.1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	rec := postMCP(t, testHandler(t), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("401 without WWW-Authenticate")
	}
}

func TestHandlerRejectsWrongToken(t *testing.T) {
	rec := postMCP(t, testHandler(t), "Bearer wrong-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestHandlerRejectsNonBearerScheme(t *testing.T) {
	rec := postMCP(t, testHandler(t), "Basic dGVzdDp0ZXN0")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestHandlerAcceptsValidToken(t *testing.T) {
	rec := postMCP(t, testHandler(t), "Bearer test-token-abcdef")
	if rec.Code == http.StatusUnauthorized {
		t.Fatalf("valid token rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestConfigValidation(t *testing.T) {
	if err := (Config{MyNumber: "919876543210"}).validate(); err == nil {
		t.Fatal("missing AUTH_TOKEN accepted")
	}
	if err := (Config{AuthToken: "x"}).validate(); err == nil {
		t.Fatal("missing MY_NUMBER accepted")
	}
	if err := (Config{AuthToken: "x", MyNumber: "y"}).validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
