package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"certdesk/internal/app"
	"certdesk/internal/config"
	"certdesk/internal/domain"
	"certdesk/internal/engine"
	"certdesk/internal/syncbus"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.NotifyDelay = 0
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: cfg, Writer: "server-test"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{
		Engine:  a.Engine,
		Store:   a.Store,
		Session: a.Session,
		Bus:     a.Bus,
		Auth: AuthConfig{
			JWTSecret:             testSecret,
			AllowLegacyUserHeader: true,
			DevLogin:              true,
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
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
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

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", v, err, string(data))
	}
	return v
}

func inspectionBody() map[string]any {
	return map[string]any{
		"reportData": map[string]any{
			"kind": "inspection",
			"inspection": map[string]any{
				"equipment":     map[string]any{"description": "Overhead crane 5t"},
				"checklist":     []map[string]any{{"item": "Hook latch", "result": "pass"}},
				"overallResult": "pass",
			},
		},
		"evidence": []map[string]any{{"name": "hook.jpg"}},
	}
}

// payJob drives a job order from creation to Paid and returns the job id.
func payJob(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	base := srv.URL + "/v1"
	res, data := doJSON(t, client, http.MethodPost, base+"/job-orders", map[string]any{
		"clientId":      "c-001",
		"serviceTypes":  []string{"Lifting Inspection"},
		"scheduledDate": "2025-03-20T00:00:00Z",
	}, as("u-admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job order: %d %s", res.StatusCode, string(data))
	}
	job := decode[domain.JobOrder](t, data)

	steps := []struct {
		path string
		body any
		user string
	}{
		{"/approve", nil, "u-supervisor"},
		{"/report", inspectionBody(), "u-inspector"},
		{"/approve", nil, "u-supervisor"},
	}
	for _, s := range steps {
		res, data := doJSON(t, client, http.MethodPost, base+"/job-orders/"+job.ID+s.path, s.body, as(s.user))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", s.path, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/payments", map[string]any{
		"jobOrderId": job.ID,
		"amount":     1500000,
		"method":     "transfer",
	}, as("u-finance"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create payment: %d %s", res.StatusCode, string(data))
	}
	pay := decode[domain.Payment](t, data)
	res, data = doJSON(t, client, http.MethodPost, base+"/payments/"+pay.ID+"/confirm", nil, as("u-finance"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm payment: %d %s", res.StatusCode, string(data))
	}
	return job.ID
}

func TestJobOrderFlowToPaidIssuesCertificate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	jobID := payJob(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/job-orders/"+jobID, nil, as("u-admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get job: %d %s", res.StatusCode, string(data))
	}
	job := decode[domain.JobOrder](t, data)
	if job.Status != domain.JobPaid || job.PaymentStatus != domain.PaymentConfirmed {
		t.Fatalf("expected paid job, got %s / %s", job.Status, job.PaymentStatus)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/certificates?jobOrderId="+jobID, nil, as("u-admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list certificates: %d %s", res.StatusCode, string(data))
	}
	certs := decode[[]domain.Certificate](t, data)
	if len(certs) != 1 {
		t.Fatalf("expected one certificate, got %d", len(certs))
	}

	// Generating again returns the same certificate.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates", map[string]any{"jobOrderId": jobID}, as("u-admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate certificate: %d %s", res.StatusCode, string(data))
	}
	again := decode[domain.Certificate](t, data)
	if again.ID != certs[0].ID {
		t.Fatalf("expected idempotent issuance, got %s and %s", certs[0].ID, again.ID)
	}
}

func TestVerifyCertificateIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	jobID := payJob(t, srv)
	var cert domain.Certificate
	for _, c := range srv.App.Store.Snapshot().Certificates {
		if c.JobOrderID == jobID {
			cert = c
		}
	}
	if cert.ID == "" {
		t.Fatalf("no certificate for %s", jobID)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/certificates/verify?q="+strings.ToLower(cert.CertificateNumber), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	got := decode[domain.Certificate](t, data)
	if got.ID != cert.ID || got.Status != domain.CertificateValid {
		t.Fatalf("unexpected verification result: %+v", got)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/certificates/verify?q=CERT-NOPE", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown certificate, got %d", res.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/job-orders/JO-404/approve", nil, as("u-supervisor"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found envelope, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/job-orders", map[string]any{
		"clientId":      "c-001",
		"serviceTypes":  []string{"Calibration"},
		"scheduledDate": "2025-03-20T00:00:00Z",
	}, as("u-admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	job := decode[domain.JobOrder](t, data)

	res, data = doJSON(t, client, http.MethodPost, base+"/payments", map[string]any{
		"jobOrderId": job.ID,
		"amount":     100,
	}, as("u-finance"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("payment: %d %s", res.StatusCode, string(data))
	}
	pay := decode[domain.Payment](t, data)
	res, _ = doJSON(t, client, http.MethodPost, base+"/payments/"+pay.ID+"/reject", map[string]any{"reason": "bounced"}, as("u-finance"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject payment: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/payments/"+pay.ID+"/confirm", nil, as("u-finance"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 confirming failed payment, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/job-orders/"+job.ID+"/revision", map[string]any{"comments": ""}, as("u-supervisor"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty comments, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/job-orders/"+job.ID+"/report", map[string]any{
		"reportData": map[string]any{"kind": "load_test", "loadTest": map[string]any{}},
	}, as("u-inspector"))
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusConflict {
		t.Fatalf("expected report kind mismatch to be refused, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, _ := doJSON(t, client, http.MethodGet, base+"/job-orders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, base+"/job-orders", nil, as("u-ghost"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, base+"/job-orders", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"userId": "u-supervisor"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	token := decode[DevLoginResponse](t, data).Token
	res, data = doJSON(t, client, http.MethodGet, base+"/notifications", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications with token: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/users/u-admin/api-keys", map[string]any{"name": "ci"}, as("u-admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key: %d %s", res.StatusCode, string(data))
	}
	key := decode[APIKeyResponse](t, data)
	res, data = doJSON(t, client, http.MethodGet, base+"/clients", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clients with api key: %d %s", res.StatusCode, string(data))
	}
}

func TestNotificationFeedAndReadAll(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/job-orders", map[string]any{
		"clientId":      "c-001",
		"serviceTypes":  []string{"Inspection"},
		"scheduledDate": "2025-03-20T00:00:00Z",
	}, as("u-admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/notifications", nil, as("u-supervisor"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feed: %d %s", res.StatusCode, string(data))
	}
	feed := decode[FeedResponse](t, data)
	if feed.Unread != 1 || len(feed.Items) != 1 {
		t.Fatalf("expected one unread notification, got %+v", feed)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/notifications/read-all", nil, as("u-supervisor"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("read-all: %d %s", res.StatusCode, string(data))
	}
	if n := decode[CountResponse](t, data).Count; n != 1 {
		t.Fatalf("expected 1 marked read, got %d", n)
	}
	_, data = doJSON(t, client, http.MethodGet, base+"/notifications?unread=true", nil, as("u-supervisor"))
	if feed := decode[FeedResponse](t, data); len(feed.Items) != 0 || feed.Unread != 0 {
		t.Fatalf("expected empty unread feed, got %+v", feed)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for _, name := range []string{"PT Satu", "PT Dua", "PT Tiga"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/clients", map[string]any{"name": name}, as("u-admin"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create client: %d %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=client.created&limit=2", nil, as("u-admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected first page of 2 with cursor, got %+v", page)
	}
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=client.created&limit=2&cursor="+page.NextCursor, nil, as("u-admin"))
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("expected last page of 1, got %+v", page)
	}
}

func TestStreamDeliversChangeSignals(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream?signals=clients-changed", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-Id", "u-admin")

	// Keep mutating until the stream has produced an event, since the
	// subscription only starts once the handler runs.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, _ = srv.App.Engine.CreateClient(context.Background(), engine.ClientCreateOptions{Name: "PT Stream"})
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", res.StatusCode)
	}
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev syncbus.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			t.Fatalf("decode stream event: %v (%s)", err, line)
		}
		if ev.Signal != syncbus.ClientsChanged {
			t.Fatalf("unexpected signal %s", ev.Signal)
		}
		return
	}
	t.Fatalf("stream closed without events: %v", scanner.Err())
}

func TestWebhookDispatcherDeliversMatchingEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-Certdesk-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := NewDispatcher(srv.App.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"job_order.*"},
		Secret: "s3cret",
	}}, nil)
	ctx := context.Background()
	// The first pass pins the cursor at the newest event.
	d.DispatchAll(ctx)

	if _, err := srv.App.Engine.CreateClient(ctx, engine.ClientCreateOptions{Name: "PT Hook"}); err != nil {
		t.Fatalf("create client: %v", err)
	}
	job, err := srv.App.Engine.CreateJobOrder(ctx, engine.JobOrderCreateOptions{
		ClientID:      "c-001",
		ServiceTypes:  []string{"Inspection"},
		ScheduledDate: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		ActorID:       "u-admin",
	})
	if err != nil {
		t.Fatalf("create job order: %v", err)
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d: %+v", len(got), got)
	}
	if got[0].Type != "job_order.created" || got[0].EntityID != job.ID {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	if secrets[0] != "s3cret" {
		t.Fatalf("expected secret header, got %q", secrets[0])
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"payment.confirmed", "certificate.*"})
	cases := map[string]bool{
		"payment.confirmed":  true,
		"payment.created":    false,
		"certificate.issued": true,
		"certificates.x":     false,
	}
	for evt, want := range cases {
		if f.match(evt) != want {
			t.Fatalf("match(%s) = %v, want %v", evt, !want, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match everything")
	}
}
