package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viralscan/internal/scan"
	"viralscan/internal/settings"
	"viralscan/internal/storage"
	"viralscan/pkg/logx"
)

type stubRunner struct {
	block   chan struct{} // nil = finish immediately
	started chan struct{} // closed when a pass begins, if non-nil
	runs    int
}

func (r *stubRunner) Run(ctx context.Context) (scan.Result, error) {
	r.runs++
	if r.started != nil {
		close(r.started)
	}
	if r.block != nil {
		<-r.block
	}
	return scan.Result{AccountsProcessed: 3, NotificationsSent: 1}, nil
}

func newServer(t *testing.T, store storage.Store, runner scan.Runner) *Server {
	t.Helper()
	svc := settings.NewService(store, logx.Nop())
	return New("127.0.0.1:0", store, svc, scan.NewTrigger(runner), nil, logx.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := newServer(t, storage.NewMemory(), &stubRunner{})
	w := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListPosts(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	for i, url := range []string{"https://e/p/1", "https://e/p/2", "https://e/p/3"} {
		require.NoError(t, store.UpsertViralPost(ctx, storage.ViralPost{
			Username:     "acct",
			PostURL:      url,
			ContentKind:  "single_media",
			ViewCount:    int64(1000 * (i + 1)),
			DiscoveredAt: time.Now().Add(time.Duration(i) * time.Minute),
			Reason:       "Views: high",
		}))
	}
	s := newServer(t, store, &stubRunner{})

	w := do(t, s, http.MethodGet, "/api/v1/posts?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Posts  []postView `json:"posts"`
		Limit  int        `json:"limit"`
		Offset int        `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Posts, 2)
	assert.Equal(t, 2, resp.Limit)
	// Newest first.
	assert.Equal(t, "https://e/p/3", resp.Posts[0].PostURL)

	w = do(t, s, http.MethodGet, "/api/v1/posts?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/posts?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/posts?limit=banana", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newServer(t, storage.NewMemory(), &stubRunner{})

	w := do(t, s, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st settings.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, settings.ModeDaily, st.SchedulerMode)

	w = do(t, s, http.MethodPatch, "/api/v1/settings", `{"posts_per_account": 30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 30, st.PostsPerAccount)
	// Unspecified fields kept their values.
	assert.Equal(t, settings.ModeDaily, st.SchedulerMode)

	// Per-tier merge through the API.
	w = do(t, s, http.MethodPatch, "/api/v1/settings",
		`{"scoring":{"view_tiers":[{"min_followers":50000,"multiplier":9}]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Len(t, st.Scoring.ViewTiers, 8)
	assert.Equal(t, float64(9), st.Scoring.ViewTiers.MultiplierFor(50_000))

	// Invalid merges are rejected.
	w = do(t, s, http.MethodPatch, "/api/v1/settings", `{"interval":"2s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPatch, "/api/v1/settings", `{"scheduler_mode":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPatch, "/api/v1/settings", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunScanConflict(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), started: make(chan struct{})}
	s := newServer(t, storage.NewMemory(), runner)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- do(t, s, http.MethodPost, "/api/v1/scan/run", "") }()
	<-runner.started

	// Second trigger while the first pass is still blocked.
	w := do(t, s, http.MethodPost, "/api/v1/scan/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/scan/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":true}`, w.Body.String())

	close(runner.block)
	w = <-first
	require.Equal(t, http.StatusOK, w.Code)
	var res scan.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 3, res.AccountsProcessed)
	assert.Equal(t, 1, res.NotificationsSent)

	w = do(t, s, http.MethodGet, "/api/v1/scan/status", "")
	assert.JSONEq(t, `{"running":false}`, w.Body.String())
	assert.Equal(t, 1, runner.runs)
}
