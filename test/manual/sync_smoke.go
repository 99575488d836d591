//go:build ignore

package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// This test exercises the full sync surface against a running dev server:
// 1. Health check
// 2. Read server limits from /api/v2/sync/info (and adopt the issued device id)
// 3. Push an upsert through /api/v2/sync/push
// 4. Pull it back from cursor 0
// 5. Mint a stream ticket and open the SSE event stream
// 6. Push a second note and watch the sync frame arrive on the stream
// 7. List devices
//
// The server must run with ALLOW_INSECURE_DEV_AUTH=true; identity comes from
// the x-dev-user-id header. This doubles as the reference flow for client
// implementations.

// Configuration from environment
var (
	backendURL = getEnv("BACKEND_URL", "http://localhost:8080")
	devUserID  = getEnv("SMOKE_USER_ID", "smoke-"+randomHex(6))
)

const streamTicketCookie = "pb_stream_ticket"

// deviceID is adopted from the first x-device-id response header and pinned
// on every later request so the whole flow runs as one device.
var deviceID string

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type syncInfoResponse struct {
	APIVersion string `json:"apiVersion"`
	Limits     struct {
		MaxBatchOperations int `json:"maxBatchOperations"`
		MaxPullChanges     int `json:"maxPullChanges"`
	} `json:"limits"`
	HeartbeatSeconds int `json:"heartbeatSeconds"`
}

type pushResponse struct {
	Applied []struct {
		RequestID string `json:"requestId"`
		NoteID    string `json:"noteId"`
		Cursor    int64  `json:"cursor"`
	} `json:"applied"`
	Conflicts  []json.RawMessage `json:"conflicts"`
	NextCursor int64             `json:"nextCursor"`
}

type pullResponse struct {
	Changes []struct {
		Cursor int64  `json:"cursor"`
		Op     string `json:"op"`
	} `json:"changes"`
	NextCursor    int64 `json:"nextCursor"`
	ResetRequired bool  `json:"resetRequired"`
}

type ticketResponse struct {
	OK        bool  `json:"ok"`
	ExpiresAt int64 `json:"expiresAt"`
}

type devicesResponse struct {
	Devices []struct {
		ID       string `json:"id"`
		Label    string `json:"label"`
		Platform string `json:"platform"`
	} `json:"devices"`
	CurrentDeviceID string `json:"currentDeviceId"`
}

func main() {
	fmt.Println("=== Sync Surface Smoke Test ===")
	fmt.Printf("Backend: %s\n", backendURL)
	fmt.Printf("User:    %s\n", devUserID)
	fmt.Println()

	// Step 1: Health
	fmt.Println("Step 1: Checking /health...")
	if err := checkHealth(); err != nil {
		fmt.Printf("❌ Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("   ✓ Server is up")
	fmt.Println()

	// Step 2: Sync info + device adoption
	fmt.Println("Step 2: Reading /api/v2/sync/info...")
	info, err := fetchInfo()
	if err != nil {
		fmt.Printf("❌ Error reading sync info: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   ✓ API version: %s\n", info.APIVersion)
	fmt.Printf("   ✓ Batch limit: %d, pull limit: %d, heartbeat: %ds\n",
		info.Limits.MaxBatchOperations, info.Limits.MaxPullChanges, info.HeartbeatSeconds)
	fmt.Printf("   ✓ Device id issued: %s\n", deviceID)
	fmt.Println()

	// Step 3: Push a note
	fmt.Println("Step 3: Pushing an upsert...")
	noteID := "smoke-note-" + randomHex(8)
	push, err := pushNote(noteID, "hello from the smoke test", 0)
	if err != nil {
		fmt.Printf("❌ Error pushing: %v\n", err)
		os.Exit(1)
	}
	if len(push.Applied) != 1 || len(push.Conflicts) != 0 {
		fmt.Printf("❌ Expected 1 applied / 0 conflicts, got %d/%d\n", len(push.Applied), len(push.Conflicts))
		os.Exit(1)
	}
	fmt.Printf("   ✓ Applied at cursor %d\n", push.NextCursor)
	fmt.Println()

	// Step 4: Pull from zero
	fmt.Println("Step 4: Pulling from cursor 0...")
	pull, err := pullChanges(0)
	if err != nil {
		fmt.Printf("❌ Error pulling: %v\n", err)
		os.Exit(1)
	}
	if len(pull.Changes) == 0 {
		fmt.Println("❌ Pull returned no changes")
		os.Exit(1)
	}
	fmt.Printf("   ✓ %d change(s), next cursor %d\n", len(pull.Changes), pull.NextCursor)
	fmt.Println()

	// Step 5: Mint a stream ticket
	fmt.Println("Step 5: Minting a stream ticket...")
	cookie, expiresAt, err := mintTicket()
	if err != nil {
		fmt.Printf("❌ Error minting ticket: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   ✓ Ticket expires at %s\n", time.UnixMilli(expiresAt).Format(time.RFC3339))
	fmt.Println()

	// Step 6: Open the stream, push again, expect a sync frame
	fmt.Println("Step 6: Opening event stream and pushing a second note...")
	events, closeStream, err := openStream(cookie)
	if err != nil {
		fmt.Printf("❌ Error opening stream: %v\n", err)
		os.Exit(1)
	}
	defer closeStream()

	if err := waitForEvent(events, "ready", 10*time.Second); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("   ✓ Stream ready")

	if _, err := pushNote("smoke-note-"+randomHex(8), "second note", 0); err != nil {
		fmt.Printf("❌ Error pushing second note: %v\n", err)
		os.Exit(1)
	}
	if err := waitForEvent(events, "sync", 15*time.Second); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("   ✓ Sync frame received")
	fmt.Println()

	// Step 7: Devices
	fmt.Println("Step 7: Listing devices...")
	devices, err := listDevices()
	if err != nil {
		fmt.Printf("❌ Error listing devices: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   ✓ %d device(s), current: %s\n", len(devices.Devices), devices.CurrentDeviceID)
	fmt.Println()

	fmt.Println("=== Flow Complete ===")
	fmt.Println("✅ SUCCESS - push, pull, ticket, stream and devices all answered")
}

func checkHealth() error {
	resp, err := http.Get(backendURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func fetchInfo() (*syncInfoResponse, error) {
	var out syncInfoResponse
	if err := callJSON("GET", "/api/v2/sync/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pushNote(noteID, content string, baseVersion int64) (*pushResponse, error) {
	body := map[string]any{
		"operations": []map[string]any{{
			"requestId":   "smoke-req-" + randomHex(8),
			"op":          "upsert",
			"noteId":      noteID,
			"baseVersion": baseVersion,
			"note": map[string]any{
				"id":      noteID,
				"content": content,
				"type":    "NOTE",
			},
		}},
	}
	var out pushResponse
	if err := callJSON("POST", "/api/v2/sync/push", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pullChanges(cursor int64) (*pullResponse, error) {
	var out pullResponse
	if err := callJSON("GET", fmt.Sprintf("/api/v2/sync/pull?cursor=%d", cursor), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func mintTicket() (*http.Cookie, int64, error) {
	req, err := newRequest("POST", "/api/v2/events/ticket", nil)
	if err != nil {
		return nil, 0, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return nil, 0, apiErrorFrom(resp.StatusCode, raw)
	}
	var out ticketResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, 0, err
	}
	for _, c := range resp.Cookies() {
		if c.Name == streamTicketCookie {
			return c, out.ExpiresAt, nil
		}
	}
	return nil, 0, fmt.Errorf("no %s cookie in response", streamTicketCookie)
}

// openStream connects to the SSE endpoint and emits event names on the
// returned channel until the stream or the process ends.
func openStream(cookie *http.Cookie) (<-chan string, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", backendURL+"/api/v2/events", nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.AddCookie(cookie)

	// No client timeout: the stream stays open until ctx is cancelled.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != 200 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, nil, apiErrorFrom(resp.StatusCode, raw)
	}

	events := make(chan string, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				events <- name
			}
		}
	}()

	return events, func() {
		cancel()
		resp.Body.Close()
	}, nil
}

func waitForEvent(events <-chan string, want string, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case name, ok := <-events:
			if !ok {
				return fmt.Errorf("stream closed before %q event", want)
			}
			if name == want {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timeout waiting for %q event", want)
		}
	}
}

func listDevices() (*devicesResponse, error) {
	var out devicesResponse
	if err := callJSON("GET", "/api/v2/devices", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// newRequest builds an authenticated request carrying the dev identity
// header and the pinned device id.
func newRequest(method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, backendURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-dev-user-id", devUserID)
	if deviceID != "" {
		req.Header.Set("x-device-id", deviceID)
	}
	return req, nil
}

func callJSON(method, path string, body, out any) error {
	req, err := newRequest(method, path, body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("x-device-id"); id != "" && deviceID == "" {
		deviceID = id
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return apiErrorFrom(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func apiErrorFrom(status int, raw []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Code != "" {
		return fmt.Errorf("status %d: %s (%s)", status, env.Error.Message, env.Error.Code)
	}
	return fmt.Errorf("status %d: %s", status, string(raw))
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
