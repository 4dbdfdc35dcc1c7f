package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshotd/pkg/render"
	"snapshotd/services/dispatch"
	"snapshotd/services/generator"
	"snapshotd/services/orchestrator"
	"snapshotd/services/snapshots"
	"snapshotd/services/snapshots/local"
)

const (
	testWorkerToken   = "worker-token-for-tests"
	testSessionSecret = "session-secret-for-tests"
)

const snapshotBody = `{"intention":"  rain on a tin roof ","sceneCode":"scene()","musicCode":"music()","durationSeconds":42.9}`

type captureDispatcher struct {
	mu  sync.Mutex
	got []dispatch.Descriptor
}

func (c *captureDispatcher) Name() string { return "capture" }

func (c *captureDispatcher) Dispatch(_ context.Context, d dispatch.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
	return nil
}

type testServer struct {
	srv   *httptest.Server
	orch  *orchestrator.Orchestrator
	queue *captureDispatcher
}

type serverOptions struct {
	orch   orchestrator.Config
	auth   dispatch.AuthConfig
	noJobs bool
}

func newTestServer(t *testing.T, o serverOptions) *testServer {
	t.Helper()

	driver, err := local.New(t.TempDir())
	require.NoError(t, err)

	opts := snapshots.Options{}
	shares, err := snapshots.NewShareStore(driver, "shares", opts)
	require.NoError(t, err)
	jobs, err := snapshots.NewJobStore(driver, opts)
	require.NoError(t, err)
	gens, err := snapshots.NewGenerationStore(driver, "generations", opts)
	require.NoError(t, err)
	quota, err := snapshots.NewQuota(driver, opts)
	require.NoError(t, err)

	engine, err := render.New()
	require.NoError(t, err)
	gen, err := generator.NewSimulated(engine)
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Deps{
		Shares:      shares,
		Jobs:        jobs,
		Generations: gens,
		Quota:       quota,
		Generator:   gen,
	}, o.orch, zerolog.Nop(), nil)
	require.NoError(t, err)

	queue := &captureDispatcher{}
	if !o.noJobs {
		orch.SetDispatcher(queue)
	}

	a, err := New(Services{
		Shares:       shares,
		Jobs:         jobs,
		Generations:  gens,
		Orchestrator: orch,
		WorkerAuth:   dispatch.NewAuthenticator(o.auth, zerolog.Nop(), nil),
	}, Config{
		PublicBaseURL: "https://snap.example",
		SessionSecret: testSessionSecret,
		StoreName:     driver.Name(),
	}, zerolog.Nop())
	require.NoError(t, err)

	h, err := a.Routes()
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, orch: orch, queue: queue}
}

// client returns an HTTP client with its own cookie jar, standing in for
// one browser.
func (ts *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func (ts *testServer) do(t *testing.T, c *http.Client, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestShareCreateAndRead(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c := ts.client(t)

	resp, body := ts.do(t, c, http.MethodPost, "/v1/shares", snapshotBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["id"].(string)
	assert.Len(t, id, 12)
	assert.Equal(t, false, body["reused"])
	assert.Equal(t, "https://snap.example/s/"+id, body["shareUrl"])

	resp, body = ts.do(t, c, http.MethodGet, "/v1/shares/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))
	assert.EqualValues(t, 1, body["viewCount"])
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, "rain on a tin roof", snap["intention"])
	assert.EqualValues(t, 42, snap["durationSeconds"])
	assert.Equal(t, "spring", snap["backgroundTheme"])
	assert.Equal(t, "morning", snap["sceneTime"])

	resp, body = ts.do(t, c, http.MethodGet, "/v1/shares/"+id+"/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["viewCount"])
	assert.NotEmpty(t, body["contentHash"])

	resp, body = ts.do(t, c, http.MethodGet, "/v1/shares/zzzzzzzzzzzz", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestShareIdempotencyHeader(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c := ts.client(t)
	hdr := map[string]string{"X-Idempotency-Key": "save-button-0001"}

	resp, first := ts.do(t, c, http.MethodPost, "/v1/shares", snapshotBody, hdr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := ts.do(t, c, http.MethodPost, "/v1/shares", `{"snapshot":`+snapshotBody+`}`, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, true, second["reused"])

	resp, body := ts.do(t, c, http.MethodPost, "/v1/shares", snapshotBody, map[string]string{"Idempotency-Key": "bad key"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_IDEMPOTENCY_KEY", body["code"])
}

func TestShareValidation(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c := ts.client(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing scene", `{"intention":"x","musicCode":"m","durationSeconds":30}`, ""},
		{"blank intention", `{"intention":"   ","sceneCode":"s","musicCode":"m","durationSeconds":30}`, "intention"},
		{"short duration", `{"intention":"x","sceneCode":"s","musicCode":"m","durationSeconds":9}`, "durationSeconds"},
		{"not json", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, c, http.MethodPost, "/v1/shares", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", body["code"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestShareCoercesUnknownThemeAndTime(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c := ts.client(t)

	tests := []struct {
		name      string
		theme     string
		sceneTime string
		wantTheme string
		wantTime  string
	}{
		{"unknown strings", `"monsoon"`, `"dusk"`, "spring", "morning"},
		{"wrong types", `7`, `true`, "spring", "morning"},
		{"known values", `"winter"`, `"night"`, "winter", "night"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := `{"intention":"x","sceneCode":"s","musicCode":"m","durationSeconds":30,"backgroundTheme":` + tt.theme + `,"sceneTime":` + tt.sceneTime + `}`
			resp, body := ts.do(t, c, http.MethodPost, "/v1/shares", req, nil)
			require.Equal(t, http.StatusCreated, resp.StatusCode, body)

			resp, body = ts.do(t, c, http.MethodGet, "/v1/shares/"+body["id"].(string), "", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			snap := body["snapshot"].(map[string]any)
			assert.Equal(t, tt.wantTheme, snap["backgroundTheme"])
			assert.Equal(t, tt.wantTime, snap["sceneTime"])
		})
	}
}

func TestJobsDisabled(t *testing.T) {
	ts := newTestServer(t, serverOptions{noJobs: true})

	resp, body := ts.do(t, ts.client(t), http.MethodPost, "/v1/jobs", snapshotBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "JOBS_DISABLED", body["code"])
}

func TestJobSubmitAndProcess(t *testing.T) {
	ts := newTestServer(t, serverOptions{auth: dispatch.AuthConfig{Token: testWorkerToken}})
	c := ts.client(t)

	resp, body := ts.do(t, c, http.MethodPost, "/v1/jobs", snapshotBody, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	jobID := body["jobId"].(string)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "/v1/jobs/"+jobID, body["pollUrl"])

	require.Len(t, ts.queue.got, 1)
	descriptor, err := json.Marshal(ts.queue.got[0])
	require.NoError(t, err)

	resp, _ = ts.do(t, c, http.MethodPost, "/v1/internal/jobs/process", string(descriptor), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	worker := map[string]string{dispatch.WorkerTokenHeader: testWorkerToken}
	resp, body = ts.do(t, c, http.MethodPost, "/v1/internal/jobs/process", string(descriptor), worker)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "completed", body["status"])
	result := body["result"].(map[string]any)
	shareID := result["shareId"].(string)

	resp, body = ts.do(t, c, http.MethodPost, "/v1/internal/jobs/process", string(descriptor), worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, shareID, body["result"].(map[string]any)["shareId"])

	resp, body = ts.do(t, c, http.MethodGet, "/v1/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "https://snap.example/s/"+shareID, body["result"].(map[string]any)["shareUrl"])
}

func TestProcessWithoutWorkerAuth(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, ts.client(t), http.MethodPost, "/v1/internal/jobs/process",
		`{"jobId":"abcdefghijklmn","snapshot":{}}`, map[string]string{dispatch.WorkerTokenHeader: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "WORKER_AUTH_NOT_CONFIGURED", body["code"])
}

func TestVisitorGenerationCap(t *testing.T) {
	ts := newTestServer(t, serverOptions{orch: orchestrator.Config{AnonGenerationLimit: 1}})
	c := ts.client(t)
	req := `{"intention":"night drive","durationSeconds":60,"sceneTime":"night"}`

	resp, body := ts.do(t, c, http.MethodPost, "/v1/generations", req, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["remainingFreeGenerations"])
	gen := body["generation"].(map[string]any)
	assert.Equal(t, "visitor", gen["ownerType"])
	assert.NotEmpty(t, gen["sceneCode"])

	resp, body = ts.do(t, c, http.MethodPost, "/v1/generations", req, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "AUTH_REQUIRED_FOR_MORE_GENERATIONS", body["code"])

	// A fresh visitor has its own allowance.
	resp, _ = ts.do(t, ts.client(t), http.MethodPost, "/v1/generations", req, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGlobalDailyLimit(t *testing.T) {
	ts := newTestServer(t, serverOptions{orch: orchestrator.Config{AnonGenerationLimit: -1, GlobalDailyLimit: 1}})
	req := `{"intention":"tide pools","durationSeconds":30}`

	resp, body := ts.do(t, ts.client(t), http.MethodPost, "/v1/generations", req, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["remainingDailyGenerationsOverall"])

	resp, body = ts.do(t, ts.client(t), http.MethodPost, "/v1/generations", req, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "GLOBAL_DAILY_LIMIT_REACHED", body["code"])
}

func TestGenerationOwnership(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	owner := ts.client(t)

	resp, body := ts.do(t, owner, http.MethodPost, "/v1/generations", `{"intention":"snowfall","durationSeconds":20}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["generation"].(map[string]any)["id"].(string)

	resp, body = ts.do(t, owner, http.MethodGet, "/v1/generations/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "snowfall", body["generation"].(map[string]any)["intention"])

	resp, _ = ts.do(t, ts.client(t), http.MethodGet, "/v1/generations/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	thumb := `{"thumbnailDataUrl":"data:image/png;base64,AAAA"}`
	resp, _ = ts.do(t, ts.client(t), http.MethodPost, "/v1/generations/"+id+"/thumbnail", thumb, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, owner, http.MethodPost, "/v1/generations/"+id+"/thumbnail", thumb, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "data:image/png;base64,AAAA", body["generation"].(map[string]any)["thumbnailDataUrl"])
}

func TestListGenerationsRequiresSession(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, ts.client(t), http.MethodGet, "/v1/generations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_REQUIRED", body["code"])

	token, err := IssueSessionToken(testSessionSecret, "user-42", "u@example.com", time.Hour)
	require.NoError(t, err)
	user := ts.client(t)
	session := map[string]string{"Cookie": sessionCookie + "=" + token}

	for _, intention := range []string{"first light", "second light"} {
		resp, body = ts.do(t, user, http.MethodPost, "/v1/generations", `{"intention":"`+intention+`","durationSeconds":15}`, session)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		assert.Equal(t, "user", body["generation"].(map[string]any)["ownerType"])
		assert.NotContains(t, body, "remainingFreeGenerations")
	}

	resp, body = ts.do(t, user, http.MethodGet, "/v1/generations?limit=1", "", session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["generations"], 1)

	for _, raw := range []string{"ten", "0"} {
		resp, body = ts.do(t, user, http.MethodGet, "/v1/generations?limit="+raw, "", session)
		require.Equal(t, http.StatusOK, resp.StatusCode, raw)
		assert.Len(t, body["generations"], 2, raw)
	}

	resp, body = ts.do(t, user, http.MethodGet, "/v1/generations?limit=-5", "", session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["generations"], 1)

	resp, body = ts.do(t, user, http.MethodPost, "/v1/generations", `{"intention":"odd options","durationSeconds":15,"backgroundTheme":"monsoon","sceneTime":3}`, session)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	gen := body["generation"].(map[string]any)
	assert.Equal(t, "spring", gen["backgroundTheme"])
	assert.Equal(t, "morning", gen["sceneTime"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, serverOptions{orch: orchestrator.Config{GlobalDailyLimit: 500}})

	resp, body := ts.do(t, ts.client(t), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "local", body["store"])
	jobs := body["jobs"].(map[string]any)
	assert.Equal(t, true, jobs["enabled"])
	assert.Equal(t, "capture", jobs["queue"])
	assert.EqualValues(t, 500, body["quota"].(map[string]any)["globalDailyLimit"])

	resp, _ = ts.do(t, ts.client(t), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
