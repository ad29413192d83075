package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rhye/rhye-dev/internal/config"
	"github.com/rhye/rhye-dev/internal/kv"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type webhookCall struct {
	Token   string `json:"token"`
	User    string `json:"user"`
	Message string `json:"message"`
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	reply string
	code  int
}

func (f *fakeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call webhookCall
	_ = json.NewDecoder(r.Body).Decode(&call)
	f.mu.Lock()
	f.calls = append(f.calls, call)
	reply, code := f.reply, f.code
	f.mu.Unlock()
	if code == 0 {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, reply)
}

func (f *fakeWebhook) respond(code int, reply string) {
	f.mu.Lock()
	f.code, f.reply = code, reply
	f.mu.Unlock()
}

func (f *fakeWebhook) received() []webhookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhookCall(nil), f.calls...)
}

type testServer struct {
	url     string
	client  *http.Client
	webhook *fakeWebhook
}

func newTestServer(t *testing.T, adjust func(*config.Config)) *testServer {
	t.Helper()
	hook := &fakeWebhook{reply: `{"status":"success","data":"ok"}`}
	hookSrv := httptest.NewServer(hook)
	t.Cleanup(hookSrv.Close)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "rhye.db")
	cfg.StaticDir = ""
	cfg.Relay.WebhookURL = hookSrv.URL
	cfg.Relay.Token = "s3cret"
	if adjust != nil {
		adjust(&cfg)
	}

	ctx := context.Background()
	db, err := kv.Open(ctx, cfg.DBPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	a, err := newApp(ctx, cfg, db)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(a.router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{url: srv.URL, client: &http.Client{Jar: jar}, webhook: hook}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.url+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

type tabsReply struct {
	Tabs []struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Title  string `json:"title"`
		Active bool   `json:"active"`
	} `json:"tabs"`
	Active  string `json:"active"`
	Address string `json:"address"`
	ID      string `json:"id"`
	Session string `json:"session"`
}

func TestSessionStartsOnAbout(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/session", nil)
	expectStatus(t, resp, http.StatusCreated)
	var got tabsReply
	readJSON(t, resp, &got)
	if len(got.Tabs) != 5 {
		t.Fatalf("expected 5 permanent tabs, got %d", len(got.Tabs))
	}
	if got.Active != "about" || got.Address != "rhye.dev/about" {
		t.Fatalf("unexpected start state: active=%q address=%q", got.Active, got.Address)
	}
	if got.Session == "" {
		t.Fatalf("expected a session id")
	}
}

func TestDraftSurvivesReload(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/session", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPost, "/api/tabs", nil)
	expectStatus(t, resp, http.StatusCreated)
	var created tabsReply
	readJSON(t, resp, &created)
	if created.ID != "custom-2" || created.Active != "custom-2" {
		t.Fatalf("expected custom-2 active, got id=%q active=%q", created.ID, created.Active)
	}
	if created.Address != "rhye.dev/custom-2" {
		t.Fatalf("unexpected address %q", created.Address)
	}

	resp = ts.do(t, http.MethodPut, "/api/tabs/custom-2/draft", map[string]string{
		"author":  "Ana",
		"content": "  hello there  ",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// A reload starts a fresh strip; the next draft tab reuses the id and
	// picks the stored draft back up.
	expectStatus(t, ts.do(t, http.MethodPost, "/api/session", nil), http.StatusCreated)
	resp = ts.do(t, http.MethodPost, "/api/tabs", nil)
	expectStatus(t, resp, http.StatusCreated)
	var recreated struct {
		ID   string `json:"id"`
		Pane struct {
			Author  string `json:"author"`
			Content string `json:"content"`
			Words   int    `json:"words"`
		} `json:"pane"`
	}
	readJSON(t, resp, &recreated)
	if recreated.ID != "custom-2" {
		t.Fatalf("expected custom-2 after reload, got %q", recreated.ID)
	}
	if recreated.Pane.Content != "  hello there  " || recreated.Pane.Author != "Ana" {
		t.Fatalf("draft not restored into pane: %+v", recreated.Pane)
	}
	if recreated.Pane.Words != 2 {
		t.Fatalf("expected 2 words, got %d", recreated.Pane.Words)
	}

	resp = ts.do(t, http.MethodGet, "/api/tabs/custom-2/draft", nil)
	expectStatus(t, resp, http.StatusOK)
	var restored struct {
		Draft struct {
			Content string `json:"content"`
			Author  string `json:"author"`
		} `json:"draft"`
	}
	readJSON(t, resp, &restored)
	if restored.Draft.Content != "  hello there  " || restored.Draft.Author != "Ana" {
		t.Fatalf("unexpected restored draft: %+v", restored.Draft)
	}
}

func TestSaveBlankDraftIsRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPut, "/api/tabs/custom-2/draft", map[string]string{"content": "   "})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	var got struct {
		Error string `json:"error"`
	}
	readJSON(t, resp, &got)
	if got.Error != MsgNothingToSave {
		t.Fatalf("expected %q, got %q", MsgNothingToSave, got.Error)
	}

	resp = ts.do(t, http.MethodGet, "/api/tabs/custom-2/draft", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCloseTab(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodDelete, "/api/tabs/about", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = ts.do(t, http.MethodDelete, "/api/tabs/custom-9", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Closing the active draft tab moves focus to the first tab.
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)
	resp = ts.do(t, http.MethodDelete, "/api/tabs/custom-2", nil)
	expectStatus(t, resp, http.StatusOK)
	var got tabsReply
	readJSON(t, resp, &got)
	if got.Active != "about" {
		t.Fatalf("expected focus on about after close, got %q", got.Active)
	}
	for _, tab := range got.Tabs {
		if tab.ID == "custom-2" {
			t.Fatalf("custom-2 still listed after close")
		}
	}

	// Closing an inactive one leaves focus where it is.
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs/likes/activate", nil), http.StatusOK)
	resp = ts.do(t, http.MethodDelete, "/api/tabs/custom-3", nil)
	expectStatus(t, resp, http.StatusOK)
	got = tabsReply{}
	readJSON(t, resp, &got)
	if got.Active != "likes" || got.Address != "rhye.dev/likes" {
		t.Fatalf("expected focus to stay on likes, got %q (%q)", got.Active, got.Address)
	}
}

func TestRenameDraftTab(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPatch, "/api/tabs/custom-2", map[string]string{"title": "letter"})
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		Title string `json:"title"`
	}
	readJSON(t, resp, &got)
	if got.Title != "letter" {
		t.Fatalf("expected renamed title, got %q", got.Title)
	}

	resp = ts.do(t, http.MethodPatch, "/api/tabs/about", map[string]string{"title": "x"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestSubmitValidationReportsBothFields(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPost, "/api/tabs/custom-2/submit", map[string]string{"author": " ", "content": ""})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	var got struct {
		Errors []string          `json:"errors"`
		Fields map[string]string `json:"fields"`
	}
	readJSON(t, resp, &got)
	if len(got.Errors) != 2 || got.Errors[0] != MsgNeedName || got.Errors[1] != MsgNeedMessage {
		t.Fatalf("unexpected errors %v", got.Errors)
	}
	if got.Fields["author"] == "" || got.Fields["content"] == "" {
		t.Fatalf("expected both field errors, got %v", got.Fields)
	}
	if calls := ts.webhook.received(); len(calls) != 0 {
		t.Fatalf("webhook contacted on invalid submit: %v", calls)
	}
}

func TestSubmitThroughWebhook(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPost, "/api/tabs/custom-2/submit", map[string]string{
		"author":  "  Ana ",
		"content": " nice page ",
	})
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	readJSON(t, resp, &got)
	if got.Status != "success" || got.Message != MsgSent {
		t.Fatalf("unexpected reply %+v", got)
	}

	calls := ts.webhook.received()
	if len(calls) != 1 {
		t.Fatalf("expected one webhook call, got %d", len(calls))
	}
	if calls[0] != (webhookCall{Token: "s3cret", User: "Ana", Message: "nice page"}) {
		t.Fatalf("unexpected webhook payload %+v", calls[0])
	}
}

func TestSubmitRejectedByWebhook(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.webhook.respond(http.StatusOK, `{"status":"error","data":"sheet is full"}`)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPost, "/api/tabs/custom-2/submit", map[string]string{
		"author":  "Ana",
		"content": "hi",
	})
	expectStatus(t, resp, http.StatusBadGateway)
	var got struct {
		Error string `json:"error"`
	}
	readJSON(t, resp, &got)
	if got.Error != "Error: sheet is full" {
		t.Fatalf("unexpected error %q", got.Error)
	}
}

func TestSubmitUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.webhook.respond(http.StatusInternalServerError, `{"status":"error"}`)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	resp := ts.do(t, http.MethodPost, "/api/tabs/custom-2/submit", map[string]string{
		"author":  "Ana",
		"content": "hi",
	})
	expectStatus(t, resp, http.StatusBadGateway)
	var got struct {
		Error string `json:"error"`
	}
	readJSON(t, resp, &got)
	if got.Error != MsgNetworkError {
		t.Fatalf("unexpected error %q", got.Error)
	}
}

func TestRelayEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/.netlify/functions/send-message", nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/.netlify/functions/send-message", map[string]string{
		"user":    "Ana",
		"message": "hello",
	})
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(body)) != `{"status":"success","data":"ok"}` {
		t.Fatalf("relay did not pass the reply through: %s", body)
	}
	calls := ts.webhook.received()
	if len(calls) != 1 || calls[0].Token != "s3cret" || calls[0].User != "Ana" {
		t.Fatalf("unexpected webhook calls %+v", calls)
	}
}

func TestRelayInvalidBody(t *testing.T) {
	ts := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodPost, ts.url+"/api/relay", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusInternalServerError)
	var got struct {
		Status string `json:"status"`
		Data   string `json:"data"`
	}
	readJSON(t, resp, &got)
	if got.Status != "error" || got.Data != MsgInternalError {
		t.Fatalf("unexpected reply %+v", got)
	}
}

func TestPrefsTheme(t *testing.T) {
	ts := newTestServer(t, nil)

	var got struct {
		Theme      string `json:"theme"`
		Icon       string `json:"icon"`
		FirstVisit bool   `json:"first_visit"`
	}
	resp := ts.do(t, http.MethodGet, "/api/prefs", nil)
	expectStatus(t, resp, http.StatusOK)
	readJSON(t, resp, &got)
	if got.Theme != "light" || !got.FirstVisit {
		t.Fatalf("unexpected first prefs %+v", got)
	}

	resp = ts.do(t, http.MethodPost, "/api/prefs/theme/toggle", nil)
	expectStatus(t, resp, http.StatusOK)
	readJSON(t, resp, &got)
	if got.Theme != "dark" || got.Icon != "bx bxs-sun" {
		t.Fatalf("unexpected toggled prefs %+v", got)
	}

	got.FirstVisit = true
	resp = ts.do(t, http.MethodGet, "/api/prefs", nil)
	expectStatus(t, resp, http.StatusOK)
	readJSON(t, resp, &got)
	if got.Theme != "dark" || got.FirstVisit {
		t.Fatalf("unexpected second prefs %+v", got)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.Password = "hunter2"
	})

	resp := ts.do(t, http.MethodGet, "/admin/api/stats", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp, err := ts.client.PostForm(ts.url+"/admin/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/relay", map[string]string{"user": "Ana", "message": "hi"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp, err = ts.client.PostForm(ts.url+"/admin/login", url.Values{"username": {"admin"}, "password": {"hunter2"}})
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/admin/api/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats AdminStats
	readJSON(t, resp, &stats)
	if stats.TotalSubmissions != 1 || stats.SuccessfulSent != 1 || stats.UniqueSenders != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.RecentSubmissions) != 1 || stats.RecentSubmissions[0].HashedIP == "127.0.0.1" {
		t.Fatalf("unexpected recent submissions %+v", stats.RecentSubmissions)
	}
}

func TestAdminLoginDisabledWithoutPassword(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.client.PostForm(ts.url+"/admin/login", url.Values{"username": {"admin"}, "password": {""}})
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/session", nil), http.StatusCreated)

	dialer := websocket.Dialer{Jar: ts.client.Jar, HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.url, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap snapshotMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || snap.Active != "about" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	expectStatus(t, ts.do(t, http.MethodPost, "/api/tabs", nil), http.StatusCreated)

	var seen []string
	for len(seen) < 2 {
		var ev struct {
			Type  string `json:"type"`
			TabID string `json:"tab_id"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.TabID != "custom-2" {
			t.Fatalf("unexpected event tab %q", ev.TabID)
		}
		seen = append(seen, ev.Type)
	}
	if seen[0] != "tab_created" || seen[1] != "tab_activated" {
		t.Fatalf("unexpected event order %v", seen)
	}
}

func TestEventStreamEndsOnReload(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/session", nil), http.StatusCreated)

	dialer := websocket.Dialer{Jar: ts.client.Jar, HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.url, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap snapshotMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	expectStatus(t, ts.do(t, http.MethodPost, "/api/session", nil), http.StatusCreated)

	var ev map[string]any
	err = conn.ReadJSON(&ev)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after reload, got event %v err %v", ev, err)
	}
}
