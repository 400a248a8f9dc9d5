package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"finpipe/internal/activity"
	"finpipe/internal/delivery"
	"finpipe/internal/lifecycle"
	"finpipe/internal/notifier"
	"finpipe/internal/render"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

const adminEmail = "ops@acme.example"

type fakeChannel struct {
	mu     sync.Mutex
	sent   []delivery.Message
	failTo map[string]bool
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(_ context.Context, m delivery.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[m.To] {
		return errors.New("550 mailbox unavailable")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type env struct {
	srv   *Server
	ch    *fakeChannel
	store *storage.SQLStore
}

func newEnv(t *testing.T, failTo ...string) *env {
	t.Helper()
	ch := &fakeChannel{failTo: map[string]bool{}}
	for _, a := range failTo {
		ch.failTo[a] = true
	}
	d := notifier.New(notifier.Config{AdminEmail: adminEmail}, render.MustNew(render.Options{}), ch, logx.Nop(), nil)
	coord := lifecycle.NewCoordinator(d, logx.Nop(), nil)

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := lifecycle.NewService(st, coord, logx.Nop())
	clock := func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	svc.SetClock(clock)
	agg := activity.NewAggregator(activity.DefaultSources(st), logx.Nop(), activity.Options{Now: clock})

	srv := New(Deps{
		Notifier:  coord,
		Lifecycle: svc,
		Feed:      agg,
		History:   d.Snapshot,
		Now:       clock,
	}, logx.Nop(), Options{})
	return &env{srv: srv, ch: ch, store: st}
}

func (e *env) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not JSON: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, out
}

const goldPlanBody = `{
  "user": {"id": "u1", "email": "a@b.com"},
  "request": {"id": "inv-1", "plan_name": "Gold Plan", "amount_usd": 5000, "expected_return": 6000,
              "duration_days": 30, "interest_rate": 1.5, "payment_method": "btc",
              "maturity_date": "2025-03-01"}
}`

func TestGoldPlanEndToEnd(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/api/notifications/investment-request", goldPlanBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	if got := body["message"]; got != "Investment request notifications processed (user: true, admin: true)" {
		t.Fatalf("message = %q", got)
	}
	if e.ch.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", e.ch.count())
	}

	_, hist := e.do(t, http.MethodGet, "/api/notifications/history", "")
	if outs, _ := hist["outcomes"].([]any); len(outs) != 2 {
		t.Fatalf("history = %v", hist)
	}
}

func TestTriggerStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fail   []string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "admin failure still ok", fail: []string{adminEmail}, method: http.MethodPost, path: "/api/notifications/investment-request", body: goldPlanBody, want: http.StatusOK},
		{name: "both failed", fail: []string{adminEmail, "a@b.com"}, method: http.MethodPost, path: "/api/notifications/investment-request", body: goldPlanBody, want: http.StatusInternalServerError},
		{name: "missing email", method: http.MethodPost, path: "/api/notifications/investment-request", body: `{"user":{"id":"u1"},"request":{"id":"x","plan_name":"Gold","amount_usd":1}}`, want: http.StatusBadRequest},
		{name: "malformed json", method: http.MethodPost, path: "/api/notifications/withdrawal-request", body: `{"user":`, want: http.StatusBadRequest},
		{name: "withdrawal missing wallet", method: http.MethodPost, path: "/api/notifications/withdrawal-request", body: `{"user":{"id":"u1","email":"a@b.com"},"request":{"id":"w1","amount":10,"payment_method":"usdt"}}`, want: http.StatusBadRequest},
		{name: "withdrawal ok", method: http.MethodPost, path: "/api/notifications/withdrawal-request", body: `{"user":{"id":"u1","email":"a@b.com"},"request":{"id":"w1","amount":10,"payment_method":"usdt","wallet_address":"T9x"}}`, want: http.StatusOK},
		{name: "admin action bad action", method: http.MethodPost, path: "/api/notifications/admin-action", body: `{"user":{"id":"u1","email":"a@b.com"},"action":"cancel","type":"investment","request":{"id":"inv-1"}}`, want: http.StatusBadRequest},
		{name: "admin action bad type", method: http.MethodPost, path: "/api/notifications/admin-action", body: `{"user":{"id":"u1","email":"a@b.com"},"action":"approve","type":"loan","request":{"id":"inv-1"}}`, want: http.StatusBadRequest},
		{name: "admin action missing request", method: http.MethodPost, path: "/api/notifications/admin-action", body: `{"user":{"id":"u1","email":"a@b.com"},"action":"approve","type":"investment"}`, want: http.StatusBadRequest},
		{name: "admin reject withdrawal", method: http.MethodPost, path: "/api/notifications/admin-action", body: `{"user":{"id":"u1","email":"a@b.com"},"action":"reject","type":"withdrawal","request":{"id":"w1","amount":10},"reason":"KYC pending"}`, want: http.StatusOK},
		{name: "wrong method", method: http.MethodGet, path: "/api/notifications/investment-request", want: http.StatusMethodNotAllowed},
		{name: "wrong method batch", method: http.MethodPut, path: "/api/notifications/maturity-batch", body: `{}`, want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, tt.fail...)
			w, body := e.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusMethodNotAllowed && body["error"] != "Method not allowed" {
				t.Fatalf("405 body = %v", body)
			}
			if tt.want >= http.StatusBadRequest {
				if _, ok := body["error"]; !ok {
					t.Fatalf("error body missing: %v", body)
				}
			}
		})
	}
}

func TestMaturityBatchAlways200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    []string
		matured int
		sent    float64
		failed  float64
	}{
		{name: "empty batch", matured: 0, sent: 1, failed: 0},
		{name: "three users", matured: 3, sent: 4, failed: 0},
		{name: "admin down", fail: []string{adminEmail}, matured: 2, sent: 2, failed: 1},
		{name: "everyone down", fail: []string{adminEmail, "u0@x.io", "u1@x.io"}, matured: 2, sent: 0, failed: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, tt.fail...)

			var items []string
			for i := 0; i < tt.matured; i++ {
				items = append(items, fmt.Sprintf(`{"user":{"id":"u%[1]d","email":"u%[1]d@x.io"},"investment_id":"i%[1]d",`+
					`"plan_name":"Gold","amount_invested":1000,"return_amount":1200,"maturity_date":"2025-03-01"}`, i))
			}
			payload := `{"maturedInvestments":[` + strings.Join(items, ",") + `],"summary":"nightly run"}`

			w, body := e.do(t, http.MethodPost, "/api/notifications/maturity-batch", payload)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
			}
			if body["success"] != true {
				t.Fatalf("success = %v", body["success"])
			}
			sent, _ := body["emailsSent"].(float64)
			failed, _ := body["emailsFailed"].(float64)
			if sent != tt.sent || failed != tt.failed {
				t.Fatalf("sent/failed = %v/%v, want %v/%v", sent, failed, tt.sent, tt.failed)
			}
			if int(sent+failed) != tt.matured+1 {
				t.Fatalf("sent+failed = %v, want %d", sent+failed, tt.matured+1)
			}
		})
	}
}

func TestBusinessFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, _ := e.do(t, http.MethodPut, "/api/users/u1", `{"email":"a@b.com","name":"Ana"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d (%s)", w.Code, w.Body.String())
	}

	w, body := e.do(t, http.MethodPost, "/api/investments",
		`{"user_id":"u1","plan_name":"Gold Plan","amount_usd":"5000","expected_return":"6000","interest_rate":"1.5","duration_days":30,"payment_method":"btc"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d (%s)", w.Code, w.Body.String())
	}
	pending, _ := body["pending"].(map[string]any)
	pendingID, _ := pending["id"].(string)
	if pendingID == "" {
		t.Fatalf("pending id missing: %v", body)
	}
	if _, ok := body["warning"]; ok {
		t.Fatalf("unexpected warning: %v", body["warning"])
	}

	w, _ = e.do(t, http.MethodPost, "/api/admin/investments/"+pendingID+"/review", `{"action":"approve"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("approve status = %d (%s)", w.Code, w.Body.String())
	}
	w, _ = e.do(t, http.MethodPost, "/api/admin/investments/"+pendingID+"/review", `{"action":"approve"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second approve status = %d, want 409", w.Code)
	}
	w, _ = e.do(t, http.MethodPost, "/api/admin/investments/missing/review", `{"action":"reject","reason":"no"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", w.Code)
	}
	w, _ = e.do(t, http.MethodPost, "/api/admin/investments/"+pendingID+"/review", `{"action":"hold"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad action status = %d, want 400", w.Code)
	}

	w, body = e.do(t, http.MethodGet, "/api/activity/u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("activity status = %d (%s)", w.Code, w.Body.String())
	}
	items, _ := body["items"].([]any)
	// pending request, active investment and its ledger entry
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3: %v", len(items), items)
	}
	stats, _ := body["stats"].(map[string]any)
	if stats["activeInvestments"] != float64(1) || stats["totalActivities"] != float64(3) {
		t.Fatalf("stats = %v", stats)
	}

	w, body = e.do(t, http.MethodPost, "/api/admin/maturity/run", `{"as_of":"2025-02-01"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("maturity status = %d (%s)", w.Code, w.Body.String())
	}
	res, _ := body["result"].(map[string]any)
	if done, _ := res["completed"].([]any); len(done) != 1 {
		t.Fatalf("completed = %v", res["completed"])
	}
}

func TestSubmitValidationAndUnknownUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/api/withdrawals", `{"user_id":"u1","amount":"0","payment_method":"usdt","wallet_address":"T9"}`)
	if w.Code != http.StatusBadRequest || body["field"] != "amount" {
		t.Fatalf("status = %d body = %v", w.Code, body)
	}
	w, _ = e.do(t, http.MethodPost, "/api/withdrawals", `{"user_id":"ghost","amount":"10","payment_method":"usdt","wallet_address":"T9"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", w.Code)
	}
	w, _ = e.do(t, http.MethodPut, "/api/users/u2", `{"email":"not-an-address"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad email status = %d, want 400", w.Code)
	}
}

type failingFeed struct{}

func (failingFeed) Aggregate(context.Context, string) (activity.Feed, error) {
	return activity.Feed{}, activity.ErrAllSourcesFailed
}

func TestActivityAllSourcesFailed(t *testing.T) {
	t.Parallel()
	srv := New(Deps{Feed: failingFeed{}}, logx.Nop(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/activity/u1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Failed to load activity data") {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestUnconfiguredStoreAnswers503(t *testing.T) {
	t.Parallel()
	srv := New(Deps{}, logx.Nop(), Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/investments", strings.NewReader(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := New(Deps{Health: func() any { return map[string]int{"active": 3} }}, logx.Nop(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestParseAsOf(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{raw: "", want: now},
		{raw: "2025-03-01", want: time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC)},
		{raw: "2025-03-01T10:00:00Z", want: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{raw: "March 1st", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		got, err := ParseAsOf(tt.raw, now)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseAsOf(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) {
			t.Fatalf("ParseAsOf(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
}
