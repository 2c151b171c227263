package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/discoursegraphs/canvas-backend/internal/coordinator"
	"github.com/discoursegraphs/canvas-backend/internal/store"
	"github.com/discoursegraphs/canvas-backend/internal/unfurl"
)

func TestPreflightIsAnsweredWithoutRoomLookup(t *testing.T) {
	handler, registry := mustHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/connect/r1", http.NoBody)
	request.Header.Set("Origin", "https://discoursegraphs.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected allow-origin header on preflight response")
	}
	if recorder.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Fatalf("expected 24h preflight cache, got %q", recorder.Header().Get("Access-Control-Max-Age"))
	}
	if registry.Size() != 0 {
		t.Fatalf("expected preflight to never reach a coordinator")
	}
}

func TestDisallowedOriginIsRejectedBeforeRoomLookup(t *testing.T) {
	handler, registry := mustHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/connect/r1?sessionId=a1", http.NoBody)
	request.Header.Set("Origin", "https://evil.example.com")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
	if registry.Size() != 0 {
		t.Fatalf("expected forbidden request to never reach a coordinator")
	}
}

func TestPreviewOriginIsAllowed(t *testing.T) {
	handler, _ := mustHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/connect/r1", http.NoBody)
	request.Header.Set("Origin", "https://canvas-pr-7-discoursegraphs.vercel.app")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preview origin preflight to pass, got %d", recorder.Code)
	}
}

func TestConnectWithoutSessionIDIsBadRequest(t *testing.T) {
	handler, registry := mustHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/connect/r1", http.NoBody)
	request.Header.Set("Origin", "https://discoursegraphs.com")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	if registry.Size() != 0 {
		t.Fatalf("expected bad request to never reach a coordinator")
	}
}

func TestUnfurlRejectsInvalidURL(t *testing.T) {
	handler, _ := mustHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/unfurl?url=ftp://example.com", http.NoBody)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := mustHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected missing dependencies to be rejected")
	}
}

func mustHandler(t *testing.T) (http.Handler, *coordinator.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&store.SnapshotRecord{}, &store.MetaRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	gateway, err := store.NewGateway(store.GatewayConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	registry := coordinator.NewRegistry(coordinator.RegistryConfig{Gateway: gateway})
	t.Cleanup(registry.Close)

	policy, err := NewOriginPolicy(
		[]string{"https://discoursegraphs.com"},
		[]string{"http://localhost:", "http://127.0.0.1:"},
		`^https://canvas-[a-z0-9-]+-discoursegraphs\.vercel\.app$`,
	)
	if err != nil {
		t.Fatalf("failed to build origin policy: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Registry: registry,
		Unfurl:   unfurl.NewResolver(nil),
		Origins:  policy,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler, registry
}
