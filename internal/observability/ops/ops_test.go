package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailbot/internal/campaign"
	"mailbot/internal/dispatch"
	logx "mailbot/pkg/logx"
)

type fakeFirings struct{ list []dispatch.FiringStatus }

func (f fakeFirings) Recent() []dispatch.FiringStatus { return f.list }

func (f fakeFirings) Status(id string) (dispatch.FiringStatus, bool) {
	for _, st := range f.list {
		if st.ID == id {
			return st, true
		}
	}
	return dispatch.FiringStatus{}, false
}

func newTestService(cfg Config, healthy bool) *Service {
	return New(cfg, Deps{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("mailbot_up 1\n")) }),
		Health:  func() (any, bool) { return map[string]bool{"ok": healthy}, healthy },
		Firings: fakeFirings{list: []dispatch.FiringStatus{{ID: "f-1", CampaignID: 7, Outcome: campaign.Outcome{Delivered: 3}}}},
	}, logx.Nop())
}

func serve(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	s := newTestService(Config{}, true)
	h := s.router(s.cfg)

	cases := []struct {
		target string
		code   int
	}{
		{"/healthz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/debug/firings", http.StatusOK},
		{"/debug/firings/f-1", http.StatusOK},
		{"/debug/firings/missing", http.StatusNotFound},
		{"/debug/pprof/", http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := serve(t, h, http.MethodGet, tc.target, nil); rec.Code != tc.code {
			t.Fatalf("GET %s = %d, want %d", tc.target, rec.Code, tc.code)
		}
	}

	rec := serve(t, h, http.MethodGet, "/debug/firings/f-1", nil)
	var st dispatch.FiringStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode firing: %v", err)
	}
	if st.CampaignID != 7 || st.Outcome.Delivered != 3 {
		t.Fatalf("firing = %+v", st)
	}
}

func TestHealthUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestService(Config{}, false)
	if rec := serve(t, s.router(s.cfg), http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", rec.Code)
	}
}

func TestPprofMounted(t *testing.T) {
	t.Parallel()

	s := newTestService(Config{Pprof: true}, true)
	if rec := serve(t, s.router(s.cfg), http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "s3cret"}
	s := newTestService(cfg, true)
	h := s.router(cfg)

	if rec := serve(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer token = %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/metrics?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/metrics?token=nope", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	for addr, want := range map[string]bool{
		"127.0.0.1:9310": true,
		"localhost:80":   true,
		"[::1]:1":        true,
		":9310":          false,
		"0.0.0.0:9310":   false,
		"10.0.0.5:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
