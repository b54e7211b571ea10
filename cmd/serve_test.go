package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/store"
)

func newTestRouter(t *testing.T, env *auditEnv) http.Handler {
	t.Helper()
	return buildRouter(context.Background(), env, model.RunOptions{}, config.MonitoringConfig{LookbackWindowHours: 24}, nil)
}

func newTestEnv(t *testing.T) *auditEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return &auditEnv{Store: st}
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_CreateAudit_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/audits", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_CreateAudit_MissingURL(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/audits", bytes.NewReader([]byte(`{"name":"Acme"}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "url is required")
}

func TestRouter_CreateAudit_NilPipeline(t *testing.T) {
	// With no pipeline the background run exits immediately and the
	// handler still answers 202.
	router := newTestRouter(t, nil)

	body := []byte(`{"url":"https://acme.com","name":"Acme Corp"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/audits", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
}

func TestRouter_GetAudit_NoStore(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/audits/some-id", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_GetAudit_NotFound(t *testing.T) {
	router := newTestRouter(t, newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/api/audits/missing-run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestRouter_GetAudit_Found(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	run, err := env.Store.CreateRun(context.Background(), "https://acme.com", model.Company{Name: "Acme Corp"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/audits/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var got model.AuditRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "https://acme.com", got.TargetURL)
}

func TestRouter_ListAudits(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	_, err := env.Store.CreateRun(context.Background(), "https://acme.com", model.Company{Name: "Acme Corp"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/audits?limit=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "https://acme.com")
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "runs_total")
}

func TestRouter_Metrics_NoStore(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_GetBlob(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	_, err := env.Store.PutBlob(context.Background(), "reports/run-1.json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/blobs/reports/run-1.json", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
}

func TestRouter_GetBlob_NotFound(t *testing.T) {
	router := newTestRouter(t, newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/api/blobs/reports/nope.json", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_StreamEvents_TerminalRun(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	run, err := env.Store.CreateRun(context.Background(), "https://acme.com", model.Company{Name: "Acme Corp"})
	require.NoError(t, err)
	require.NoError(t, env.Store.UpdateRunStatus(context.Background(), run.ID, model.RunStatusComplete))

	req := httptest.NewRequest(http.MethodGet, "/api/audits/"+run.ID+"/events", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// A finished run gets its status event and the stream closes.
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "event: status")
	assert.Contains(t, rr.Body.String(), "complete")
}

func TestRouter_StreamEvents_UnknownRun(t *testing.T) {
	router := newTestRouter(t, newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/api/audits/missing/events", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBlobContentType(t *testing.T) {
	assert.Equal(t, "application/json", blobContentType("reports/run.json"))
	assert.Equal(t, "image/png", blobContentType("captures/home.png"))
	assert.Equal(t, "application/octet-stream", blobContentType("misc/data.bin"))
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "progress", map[string]string{"step": "capture"})

	out := buf.String()
	assert.Contains(t, out, "event: progress\n")
	assert.Contains(t, out, `data: {"step":"capture"}`)
	assert.True(t, len(out) > 0 && out[len(out)-2:] == "\n\n")
}

func TestProgressHub_PublishAndFinish(t *testing.T) {
	hub := newProgressHub()

	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	hub.Publish("run-1", model.ProgressEvent{Step: "page_captured", Message: "captured /"})

	select {
	case ev := <-ch:
		assert.Equal(t, "page_captured", ev.Step)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	hub.Finish("run-1")

	_, open := <-ch
	assert.False(t, open, "channel should close when the run finishes")
}

func TestProgressHub_CancelAfterFinish(t *testing.T) {
	hub := newProgressHub()

	_, cancel := hub.Subscribe("run-1")
	hub.Finish("run-1")

	// Cancel after Finish must not panic on the already-closed channel.
	cancel()
}

func TestProgressHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := newProgressHub()

	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	// Flood past the buffer; publishes must not block.
	for i := 0; i < 100; i++ {
		hub.Publish("run-1", model.ProgressEvent{Step: "page_captured"})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.LessOrEqual(t, drained, 32)
			return
		}
	}
}

func TestProgressHub_PublishUnknownRun(t *testing.T) {
	hub := newProgressHub()
	// No subscribers; must be a no-op.
	hub.Publish("nobody", model.ProgressEvent{Step: "page_captured"})
}
