package httpapi

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/vibetracker/internal/emotion"
	"github.com/MimeLyc/vibetracker/internal/foreground"
	"github.com/MimeLyc/vibetracker/internal/jobs"
	"github.com/MimeLyc/vibetracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, threshold int, opts ...Option) (*Server, *emotion.Store, *jobs.Queue) {
	t.Helper()
	store := emotion.NewStore()
	queue := jobs.NewQueue(1, nil)
	coordinator := tracker.NewCoordinator(tracker.Options{Threshold: threshold}, nil, queue, foreground.Static("test"), store)
	return NewServer(coordinator, store, queue, opts...), store, queue
}

func pngDataURI(label string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(label))
}

func postCapture(t *testing.T, srv *Server, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/captures", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_PostCapture_BuffersUntilThreshold(t *testing.T) {
	srv, _, queue := newTestServer(t, 2)

	rec := postCapture(t, srv, "text/plain", pngDataURI("one"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var first captureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 1, first.Pending)
	assert.Nil(t, first.Batch)
	assert.Empty(t, queue.List())

	rec = postCapture(t, srv, "application/json", `{"data_uri":"`+pngDataURI("two")+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var second captureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Zero(t, second.Pending)
	require.NotNil(t, second.Batch)
	assert.Equal(t, 2, second.Batch.Captures)
	assert.Equal(t, jobs.StatusPending, second.Batch.Status)
	assert.Len(t, queue.List(), 1)
}

func TestServer_PostCapture_RejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t, 2)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "empty body", contentType: "text/plain", body: "   "},
		{name: "invalid json", contentType: "application/json", body: "{"},
		{name: "missing data uri", contentType: "application/json", body: `{}`},
		{name: "not base64", contentType: "text/plain", body: "data:image/png;base64,***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCapture(t, srv, tt.contentType, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/captures", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Emotions_QueryAndClear(t *testing.T) {
	srv, store, _ := newTestServer(t, 10)
	now := time.Now()
	store.Store(emotion.Record{AppID: "editor", Timestamp: now, Emotion: "Joy", Score: 0.7})
	store.Store(emotion.Record{AppID: "browser", Timestamp: now, Emotion: "Boredom", Score: 0.3})
	store.Store(emotion.Record{AppID: "editor", Timestamp: now, Emotion: "Calmness", Score: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/api/emotions?app=editor", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []emotion.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Joy", records[0].Emotion)
	assert.Equal(t, "Calmness", records[1].Emotion)

	req = httptest.NewRequest(http.MethodGet, "/api/emotions?app=nobody", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.JSONEq(t, `[]`, rec.Body.String())

	req = httptest.NewRequest(http.MethodDelete, "/api/emotions", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.Len())
}

func TestServer_Summary(t *testing.T) {
	srv, store, _ := newTestServer(t, 10)
	for _, e := range []string{"Joy", "Joy", "Anger", "Calmness"} {
		store.Store(emotion.Record{AppID: "editor", Timestamp: time.Now(), Emotion: e, Score: 0.5})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/summary?top=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary emotion.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.Apps, 1)
	require.Len(t, summary.Apps[0].TopEmotions, 1)
	assert.Equal(t, "Joy", summary.Apps[0].TopEmotions[0].Emotion)
	assert.Equal(t, 2, summary.Apps[0].TopEmotions[0].Count)

	req = httptest.NewRequest(http.MethodGet, "/api/summary?top=zero", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Jobs_ListAndDetail(t *testing.T) {
	srv, _, queue := newTestServer(t, 1)
	rec := postCapture(t, srv, "text/plain", pngDataURI("one"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.List(), 1)
	id := queue.List()[0].ID

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list jobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, id, list.Jobs[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var job jobs.BatchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 1, job.Captures)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/batch-999", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JobStream_SendsSnapshots(t *testing.T) {
	srv, _, _ := newTestServer(t, 5, WithStreamInterval(20*time.Millisecond))
	postCapture(t, srv, "text/plain", pngDataURI("one"))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	events := 0
	for events < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snapshot jobsResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snapshot))
		assert.Equal(t, 1, snapshot.Pending)
		events++
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _, _ := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"pending":0,"records":0}`, rec.Body.String())
}

type stubCounter struct {
	counts map[jobs.Status]int
	err    error
}

func (c stubCounter) CountByStatus(context.Context) (map[jobs.Status]int, error) {
	return c.counts, c.err
}

func TestServer_HealthzReportsLedgerCounts(t *testing.T) {
	srv, _, _ := newTestServer(t, 10, WithStatusCounter(stubCounter{
		counts: map[jobs.Status]int{jobs.StatusSucceeded: 3, jobs.StatusTimedOut: 1},
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"pending":0,"records":0,"ledger":{"succeeded":3,"timed_out":1}}`, rec.Body.String())
}

func TestServer_HealthzLedgerError(t *testing.T) {
	srv, _, _ := newTestServer(t, 10, WithStatusCounter(stubCounter{err: errors.New("database is locked")}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false,"pending":0,"records":0}`, rec.Body.String())
}

func TestServer_ShutdownBeforeServeClosesListener(t *testing.T) {
	srv, _, _ := newTestServer(t, 10)

	ln, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, srv.Serve(ln), http.ErrServerClosed)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
