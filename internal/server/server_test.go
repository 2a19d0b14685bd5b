package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("opsline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertWorkspaceConfig(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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
	if _, ok := headers["Authorization"]; !ok {
		if _, ok := headers["X-Api-Key"]; !ok {
			req.Header.Set("X-Actor-Id", "tester")
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestWorkItemGatedCompletion(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"module": "compliance",
		"type":   "report",
		"title":  "Field visit report",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.WorkItem
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal work item: %v", err)
	}
	if created.Status != "draft" || !created.EvidenceRequired {
		t.Fatalf("unexpected created item: %+v", created)
	}

	for _, status := range []string{"not_started", "in_progress", "submitted", "under_review", "approved"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/"+created.ID+"/transition", map[string]any{
			"status": status,
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", status, res.StatusCode, string(body))
		}
	}

	// evidence gate holds at completion
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/"+created.ID+"/transition", map[string]any{
		"status": "complete",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("expected precondition_failed, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/"+created.ID+"/documents", map[string]any{
		"file_name": "visit.pdf",
		"file_path": "docs/visit.pdf",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attach: %d %s", res.StatusCode, string(data))
	}
	var doc domain.Document
	_ = json.Unmarshal(data, &doc)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/documents/"+doc.ID+"/review", map[string]any{
		"decision": "approved",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/"+created.ID+"/transition", map[string]any{
		"status": "complete",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done domain.WorkItem
	_ = json.Unmarshal(data, &done)
	if done.Status != "complete" || done.CompletedAt == nil {
		t.Fatalf("expected completed item, got %+v", done)
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"module": "programs",
		"title":  "Jumper",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created domain.WorkItem
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/"+created.ID+"/transition", map[string]any{
		"status": "complete",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no credentials at all
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/work-items", nil)
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health stays open
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}

	// signed bearer token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	listRes, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("jwt list: %d %s", listRes.StatusCode, string(body))
	}

	// wrong secret is rejected
	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "jwt-user"})
	badSigned, _ := badToken.SignedString([]byte("other-secret"))
	listRes, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items", nil, map[string]string{
		"Authorization": "Bearer " + badSigned,
	})
	if listRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", listRes.StatusCode)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"actor_id": "service-1",
		"name":     "ci",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("expected plaintext key returned once")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"module": "operations",
		"title":  "keyed",
	}, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key create: %d %s", res.StatusCode, string(data))
	}
	var w domain.WorkItem
	_ = json.Unmarshal(data, &w)
	if w.CreatedByUserID != "service-1" {
		t.Fatalf("expected key's actor recorded, got %s", w.CreatedByUserID)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"module": "operations",
		"title":  "badkey",
	}, map[string]string{"X-Api-Key": "nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestBulkEndpointPartialResults(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	var ids []string
	for _, title := range []string{"one", "two"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
			"module": "grants",
			"title":  title,
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("create %s: %d %s", title, res.StatusCode, string(data))
		}
		var w domain.WorkItem
		_ = json.Unmarshal(data, &w)
		ids = append(ids, w.ID)
	}
	ids = append(ids, "missing")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/bulk", map[string]any{
		"ids": ids,
		"op":  "set_status",
		"status": "not_started",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk: %d %s", res.StatusCode, string(data))
	}
	var results []engine.BulkItemResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("unmarshal results: %v", err)
	}
	if len(results) != 3 || !results[0].OK || !results[1].OK || results[2].OK {
		t.Fatalf("unexpected bulk outcome: %+v", results)
	}
}
