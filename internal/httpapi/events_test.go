package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

// issueTicket mints a stream ticket through the API and returns the cookie.
func issueTicket(t *testing.T, e *testEnv) *http.Cookie {
	t.Helper()

	rec := e.do(t, "POST", "/api/v2/events/ticket", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ticket status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body ticketResponse
	decodeBody(t, rec, &body)
	if !body.OK || body.ExpiresAt <= syncx.NowMs() {
		t.Fatalf("ticket body = %+v", body)
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == ticket.CookieName {
			return c
		}
	}
	t.Fatal("ticket cookie missing from response")
	return nil
}

// openStream runs the SSE handler until the context deadline and returns the
// recorder holding every frame written in that window.
func (e *testEnv) openStream(t *testing.T, ctx context.Context, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("GET", "/api/v2/events", nil).WithContext(ctx)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type sseFrame struct {
	event string
	data  string
}

func parseFrames(body string) []sseFrame {
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				f.event = v
			}
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				f.data = v
			}
		}
		if f.event != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestTicketCookieAttributes(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/api/v2/events/ticket", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == ticket.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("ticket cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("cookie must be HTTP-only")
	}
	if cookie.Path != "/api/v2/events" {
		t.Errorf("cookie path = %q, want /api/v2/events", cookie.Path)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 60 {
		t.Errorf("cookie MaxAge = %d, want 60", cookie.MaxAge)
	}
	// httptest requests carry a non-loopback host.
	if !cookie.Secure {
		t.Error("cookie must be Secure off loopback")
	}
}

func TestEventStreamFrames(t *testing.T) {
	e := newTestEnv(t)
	e.deviceID = uuid.NewString()
	e.srv.HeartbeatInterval = 50 * time.Millisecond

	cookie := issueTicket(t, e)

	pushed := make(chan int64, 1)
	go func() {
		time.Sleep(80 * time.Millisecond)
		rec := e.do(t, "POST", "/api/v2/sync/push", pushRequest{
			Operations: []syncservice.PushOp{httpUpsertOp("sse-note", "streamed", 0)},
		})
		var res syncservice.PushResult
		if err := json.NewDecoder(rec.Body).Decode(&res); err == nil && len(res.Applied) == 1 {
			pushed <- res.Applied[0].Cursor
		} else {
			pushed <- -1
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	rec := e.openStream(t, ctx, cookie)

	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if !rec.Flushed {
		t.Error("stream frames were never flushed")
	}

	wantCursor := <-pushed
	if wantCursor <= 0 {
		t.Fatal("push during stream failed")
	}

	frames := parseFrames(rec.Body.String())
	if len(frames) == 0 {
		t.Fatalf("no frames in body %q", rec.Body.String())
	}

	if frames[0].event != "ready" {
		t.Errorf("first frame = %q, want ready", frames[0].event)
	}
	var ready readyFrame
	if err := json.Unmarshal([]byte(frames[0].data), &ready); err != nil || ready.ConnectedAt == 0 {
		t.Errorf("ready data = %q", frames[0].data)
	}

	var sawHeartbeat, sawSync bool
	for _, f := range frames[1:] {
		switch f.event {
		case "heartbeat":
			sawHeartbeat = true
		case "sync":
			var sf syncFrame
			if err := json.Unmarshal([]byte(f.data), &sf); err != nil {
				t.Fatalf("sync data = %q: %v", f.data, err)
			}
			if sf.Cursor != wantCursor {
				t.Errorf("sync cursor = %d, want %d", sf.Cursor, wantCursor)
			}
			sawSync = true
		}
	}
	if !sawHeartbeat {
		t.Errorf("no heartbeat frame in %+v", frames)
	}
	if !sawSync {
		t.Errorf("no sync frame in %+v", frames)
	}
}

func TestTicketReplayRejected(t *testing.T) {
	e := newTestEnv(t)

	cookie := issueTicket(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	first := e.openStream(t, ctx, cookie)
	if first.Code != http.StatusOK {
		t.Fatalf("first connect status = %d", first.Code)
	}

	// Same cookie again: the jti is burned.
	replayCtx, cancelReplay := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelReplay()
	second := e.openStream(t, replayCtx, cookie)
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", second.Code)
	}
	if err := decodeError(t, second); err.Code != CodeStreamTicketReplayed {
		t.Errorf("Code = %q, want %q", err.Code, CodeStreamTicketReplayed)
	}

	// A fresh ticket restores access.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	third := e.openStream(t, ctx2, issueTicket(t, e))
	if third.Code != http.StatusOK {
		t.Errorf("fresh ticket status = %d, want 200", third.Code)
	}
}

func TestEventStreamRejectsRevokedDevice(t *testing.T) {
	e := newTestEnv(t)
	e.deviceID = uuid.NewString()

	cookie := issueTicket(t, e)

	rec := e.do(t, "POST", fmt.Sprintf("/api/v2/devices/%s/revoke", e.deviceID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}

	streamCtx, cancelStream := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelStream()
	stream := e.openStream(t, streamCtx, cookie)
	if stream.Code != http.StatusForbidden {
		t.Fatalf("stream status = %d, want 403", stream.Code)
	}
	if err := decodeError(t, stream); err.Code != CodeDeviceRevoked {
		t.Errorf("Code = %q, want %q", err.Code, CodeDeviceRevoked)
	}
}
