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

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/events"
	"fieldline/internal/migrate"
	"fieldline/internal/store"
)

const testSecret = "test-secret"

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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("fieldline")
	eng := engine.New(store.SQL{DB: conn}, events.Writer{DB: conn}, cfg)
	handler, err := New(Config{
		Engine: eng,
		Events: &events.Reader{DB: conn},
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowDevTokens:         true,
			AllowLegacyActorHeader: true,
		},
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

func bearer(t *testing.T, id, name string, role domain.Role) map[string]string {
	t.Helper()
	token, err := MintToken(testSecret, domain.Actor{ID: id, DisplayName: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

type errEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func submitSolicitation(t *testing.T, srv *testServer, headers map[string]string) SolicitationResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations", map[string]any{
		"photo_ref": "photo://pothole.jpg",
		"location":  map[string]any{"latitude": -23.55, "longitude": -46.63},
		"note":      "pothole on main street",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created SolicitationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal solicitation: %v", err)
	}
	return created
}

func TestSolicitationLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	submitter := bearer(t, "u1", "Ana Worker", domain.RoleSubmitter)
	reviewer := bearer(t, "u2", "Rui Reviewer", domain.RoleReviewer)
	executor := bearer(t, "u3", "Eva Executor", domain.RoleExecutor)

	created := submitSolicitation(t, srv, submitter)
	if created.CurrentStatus != "submitted" || len(created.History) != 1 {
		t.Fatalf("unexpected created record: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/solicitations/"+created.ID+"/transition", map[string]any{
		"target_status": "sent_to_executor",
	}, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	for _, target := range []string{"started", "finished"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/solicitations/"+created.ID+"/transition", map[string]any{
			"target_status": target,
		}, executor)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", target, res.StatusCode, string(data))
		}
	}
	var final SolicitationResponse
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("unmarshal final: %v", err)
	}
	if final.CurrentStatus != "finished" || len(final.History) != 4 {
		t.Fatalf("unexpected final record: %+v", final)
	}
	if final.SentBy != "Rui Reviewer" {
		t.Fatalf("expected sent_by Rui Reviewer, got %q", final.SentBy)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queues/executor", nil, executor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("executor queue: %d %s", res.StatusCode, string(data))
	}
	var queue ExecutorQueueResponse
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(queue.Active) != 0 || len(queue.Finished) != 1 {
		t.Fatalf("expected finished bucket only, got %+v", queue)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queues/reviewer", nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reviewer queue: %d %s", res.StatusCode, string(data))
	}
	var review ReviewerQueueResponse
	if err := json.Unmarshal(data, &review); err != nil {
		t.Fatalf("unmarshal reviewer queue: %v", err)
	}
	if len(review.Pending) != 0 || len(review.Processed) != 1 {
		t.Fatalf("expected processed only, got %+v", review)
	}
}

func TestIllegalTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	submitter := bearer(t, "u1", "Ana Worker", domain.RoleSubmitter)
	reviewer := bearer(t, "u2", "Rui Reviewer", domain.RoleReviewer)
	created := submitSolicitation(t, srv, submitter)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations/"+created.ID+"/transition", map[string]any{
		"target_status": "started",
	}, reviewer)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != "submitted" || envelope.Error.Details["to"] != "started" {
		t.Fatalf("details incomplete: %+v", envelope.Error.Details)
	}
}

func TestCreateRequiresSubmitterRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	reviewer := bearer(t, "u2", "Rui Reviewer", domain.RoleReviewer)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations", map[string]any{
		"photo_ref": "photo://p.jpg",
		"location":  map[string]any{"latitude": 1.0, "longitude": 2.0},
	}, reviewer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCreateMissingPhoto(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	submitter := bearer(t, "u1", "Ana Worker", domain.RoleSubmitter)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations", map[string]any{
		"location": map[string]any{"latitude": 1.0, "longitude": 2.0},
	}, submitter)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errEnvelope
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", envelope.Error.Code)
	}
}

func TestDuplicateIDConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	submitter := bearer(t, "u1", "Ana Worker", domain.RoleSubmitter)
	body := map[string]any{
		"id":        "sol_fixed",
		"photo_ref": "photo://p.jpg",
		"location":  map[string]any{"latitude": 1.0, "longitude": 2.0},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations", body, submitter)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first create: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations", body, submitter)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/solicitations", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestDevTokenMint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/token", map[string]any{
		"actor_id":     "u9",
		"display_name": "Dev Tester",
		"role":         "submitter",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mint: %d %s", res.StatusCode, string(data))
	}
	var minted DevTokenResponse
	if err := json.Unmarshal(data, &minted); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	submitSolicitation(t, srv, map[string]string{"Authorization": "Bearer " + minted.Token})
}

func TestLegacyActorHeaders(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := submitSolicitation(t, srv, map[string]string{
		"X-Actor-Id":   "u1",
		"X-Actor-Name": "Ana Worker",
		"X-Actor-Role": "submitter",
	})
	if created.SubmitterName != "Ana Worker" {
		t.Fatalf("legacy header identity lost: %+v", created)
	}
}

func TestEventsRecorded(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	submitter := bearer(t, "u1", "Ana Worker", domain.RoleSubmitter)
	reviewer := bearer(t, "u2", "Rui Reviewer", domain.RoleReviewer)
	created := submitSolicitation(t, srv, submitter)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/solicitations/"+created.ID+"/transition", map[string]any{
		"target_status": "refused",
	}, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refuse: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?solicitation_id="+created.ID, nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].Type != "solicitation.transitioned" || evts[1].Type != "solicitation.created" {
		t.Fatalf("unexpected event order: %s, %s", evts[0].Type, evts[1].Type)
	}
}
