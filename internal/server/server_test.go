package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"hive/internal/config"
	"hive/internal/coordinator"
	"hive/internal/db"
	"hive/internal/engine"
	"hive/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

var agentHeader = map[string]string{"X-Agent-Name": "bee-1"}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	coord := coordinator.New(cfg.Coordinator)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := New(Config{
		Engine:      e,
		Coordinator: coord,
		BasePath:    "/v0",
		Auth:        AuthConfig{AllowAgentHeader: true, Logger: logger},
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeInto(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv := newTestServer(t)
	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", resp.StatusCode, data)
	}
	var body struct {
		Status       string `json:"status"`
		ActiveClaims int    `json:"active_claims"`
	}
	decodeInto(t, data, &body)
	if body.Status != "ok" || body.ActiveClaims != 0 {
		t.Fatalf("unexpected health body %s", data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/ready", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error body %s", data)
	}
}

func TestClaimConflictFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/claims",
		map[string]any{"project_id": "api"}, agentHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("acquire status %d: %s", resp.StatusCode, data)
	}
	var created struct {
		Claim struct {
			ClaimID   string `json:"claim_id"`
			AgentName string `json:"agent_name"`
		} `json:"claim"`
	}
	decodeInto(t, data, &created)
	if created.Claim.ClaimID == "" || created.Claim.AgentName != "bee-1" {
		t.Fatalf("unexpected claim %s", data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/claims",
		map[string]any{"project_id": "api"}, map[string]string{"X-Agent-Name": "bee-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, data)
	}
	var conflict struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	decodeInto(t, data, &conflict)
	if conflict.Error.Code != "already_claimed" || conflict.Error.Details["current_owner"] != "bee-1" {
		t.Fatalf("unexpected conflict body %s", data)
	}

	// wrong token keeps the claim
	resp, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/claims/api",
		map[string]any{"claim_id": "not-the-token"}, agentHeader)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on wrong token, got %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/claims/api",
		map[string]any{"claim_id": created.Claim.ClaimID}, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/claims/api", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var status struct {
		IsClaimed bool `json:"is_claimed"`
	}
	decodeInto(t, data, &status)
	if status.IsClaimed {
		t.Fatalf("expected released project, got %s", data)
	}
}

func TestClaimExtend(t *testing.T) {
	srv := newTestServer(t)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/claims",
		map[string]any{"project_id": "api", "ttl_seconds": 60}, agentHeader)
	var created struct {
		Claim struct {
			ClaimID   string `json:"claim_id"`
			ExpiresAt string `json:"expires_at"`
		} `json:"claim"`
	}
	decodeInto(t, data, &created)

	resp, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/claims/api/extend",
		map[string]any{"claim_id": created.Claim.ClaimID, "ttl_seconds": 7200}, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extend status %d: %s", resp.StatusCode, data)
	}
	var extended struct {
		Claim struct {
			ExpiresAt string `json:"expires_at"`
		} `json:"claim"`
	}
	decodeInto(t, data, &extended)
	if extended.Claim.ExpiresAt <= created.Claim.ExpiresAt {
		t.Fatalf("expected later expiry, got %s then %s", created.Claim.ExpiresAt, extended.Claim.ExpiresAt)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/claims/missing/extend",
		map[string]any{"claim_id": "whatever"}, agentHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d: %s", resp.StatusCode, data)
	}
}

func TestRecordsAndReady(t *testing.T) {
	srv := newTestServer(t)

	resp, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "auth", "status": "active", "priority": "high"}, agentHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "api", "status": "active", "blocked_by": []string{"auth"}}, agentHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/ready", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status %d: %s", resp.StatusCode, data)
	}
	var ready struct {
		Count int `json:"count"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeInto(t, data, &ready)
	if ready.Count != 1 || ready.Items[0].ID != "auth" {
		t.Fatalf("expected only auth ready, got %s", data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records/api/reasons", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reasons status %d: %s", resp.StatusCode, data)
	}
	var reasons struct {
		Blocked bool     `json:"blocked"`
		Reasons []string `json:"reasons"`
	}
	decodeInto(t, data, &reasons)
	if !reasons.Blocked || len(reasons.Reasons) == 0 {
		t.Fatalf("expected blocking reasons, got %s", data)
	}
}

func TestGraphEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "a", "status": "active", "blocked_by": []string{"b"}}, agentHeader)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "b", "status": "active", "blocked_by": []string{"a"}}, agentHeader)

	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/graph", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("graph status %d: %s", resp.StatusCode, data)
	}
	var graphBody struct {
		Cycles [][]string `json:"cycles"`
		Nodes  map[string]struct {
			InCycle bool `json:"in_cycle"`
		} `json:"nodes"`
	}
	decodeInto(t, data, &graphBody)
	if len(graphBody.Cycles) != 1 {
		t.Fatalf("expected one cycle, got %s", data)
	}
	if !graphBody.Nodes["a"].InCycle || !graphBody.Nodes["b"].InCycle {
		t.Fatalf("expected both nodes in cycle, got %s", data)
	}
}

func TestOwnerEndpoints(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "api", "status": "active"}, agentHeader)

	resp, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records/api/claim", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", resp.StatusCode, data)
	}
	var rec struct {
		Owner *string `json:"owner"`
	}
	decodeInto(t, data, &rec)
	if rec.Owner == nil || *rec.Owner != "bee-1" {
		t.Fatalf("expected owner bee-1, got %s", data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records/api/claim", nil,
		map[string]string{"X-Agent-Name": "bee-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	if envelope.Error.Code != "owner_conflict" || envelope.Error.Details["owner"] != "bee-1" {
		t.Fatalf("unexpected conflict body %s", data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records/api/release", nil,
		map[string]string{"X-Agent-Name": "bee-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for non-owner release, got %d: %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records/api/release", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", resp.StatusCode, data)
	}
	var released struct {
		Owner *string `json:"owner"`
	}
	decodeInto(t, data, &released)
	if released.Owner != nil {
		t.Fatalf("expected owner cleared, got %s", data)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records",
		map[string]any{"id": "api"}, agentHeader)

	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=5", nil, agentHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", resp.StatusCode, data)
	}
	var events struct {
		Events []struct {
			Type    string `json:"type"`
			ActorID string `json:"actor_id"`
		} `json:"events"`
	}
	decodeInto(t, data, &events)
	if len(events.Events) != 1 || events.Events[0].Type != "record.created" || events.Events[0].ActorID != "bee-1" {
		t.Fatalf("unexpected events %s", data)
	}
}
