package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/db"
	"github.com/pocketbrain/pocketbrain-sync/internal/realtime"
	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

// newBareServer builds a Server with no database for tests that never pass
// the identity gate (envelope shapes, public routes, ticket rejections).
func newBareServer(t *testing.T) *Server {
	t.Helper()

	hub := realtime.NewHub(nil)
	hub.Start(context.Background())

	return &Server{
		Auth:    auth.Config{},
		Hub:     hub,
		Tickets: ticket.NewService("test-ticket-secret", time.Minute, ticket.NewMemoryReplayStore(), false),
	}
}

// testEnv is a fully wired server backed by TEST_DATABASE_URL.
type testEnv struct {
	srv    *Server
	router http.Handler
	// externalID is this test's dev identity, isolated per call.
	externalID string
	// deviceID pins the x-device-id header when set; otherwise the gate
	// mints a fresh device per request.
	deviceID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}

	hub := realtime.NewHub(nil)
	hub.Start(ctx)

	srv := &Server{
		DB:      pool,
		Auth:    auth.Config{DevAuth: true},
		Sync:    syncservice.New(pool, hub, 500),
		Hub:     hub,
		Tickets: ticket.NewService("test-ticket-secret", time.Minute, ticket.NewMemoryReplayStore(), false),
	}

	return &testEnv{
		srv:        srv,
		router:     srv.Routes(),
		externalID: "http-test-" + uuid.NewString(),
	}
}

// do performs a request as the env's dev identity and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-dev-user-id", e.externalID)
	if e.deviceID != "" {
		req.Header.Set("x-device-id", e.deviceID)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeBody decodes a recorder body into out, failing the test on error.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// decodeError decodes the error envelope and returns the inner error.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errorEnvelope
	decodeBody(t, rec, &env)
	if env.Error.Code == "" {
		t.Fatalf("Expected error envelope, got %q", rec.Body.String())
	}
	return env.Error
}
