package httpapi

import (
	"net/http"
	"testing"

	"github.com/pocketbrain/pocketbrain-sync/internal/realtime"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

func TestReadyWithoutRedis(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "GET", "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp readyResponse
	decodeBody(t, rec, &resp)

	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready (redis never configured)", resp.Status)
	}
	if !resp.Checks.Database.OK {
		t.Errorf("database check failed: %+v", resp.Checks.Database)
	}
	if resp.Checks.Redis != nil {
		t.Errorf("redis check should be omitted, got %+v", resp.Checks.Redis)
	}
	if resp.Fanout.Mode != realtime.ModeLocalFallback {
		t.Errorf("fanout mode = %q, want %q", resp.Fanout.Mode, realtime.ModeLocalFallback)
	}
	if resp.StreamTickets.Mode != ticket.ModeMemory {
		t.Errorf("replay store mode = %q, want %q", resp.StreamTickets.Mode, ticket.ModeMemory)
	}
	if resp.Time == "" {
		t.Error("time missing from readiness body")
	}
}

func TestReadyStrictModeFailsClosed(t *testing.T) {
	e := newTestEnv(t)
	e.srv.RequireRedisForReady = true

	rec := e.do(t, "GET", "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", rec.Code)
	}

	var resp readyResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks.Redis == nil || resp.Checks.Redis.OK {
		t.Errorf("redis check = %+v, want failing", resp.Checks.Redis)
	}
}
