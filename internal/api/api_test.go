package api

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
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcast/pkg/announce"
	"printcast/pkg/config"
	"printcast/pkg/db"
	"printcast/pkg/dispatch"
	"printcast/pkg/history"
	"printcast/pkg/ingress"
	"printcast/pkg/model"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, job model.Job) error { return nil }

type fakeVoice struct {
	pending int
	busy    bool
}

func (v fakeVoice) Pending() int { return v.pending }
func (v fakeVoice) Busy() bool   { return v.busy }

func newTestServer(t *testing.T, h Handlers) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("", h, nil).Handler)
	t.Cleanup(srv.Close)
	return srv
}

func newScheduler() *dispatch.Scheduler {
	return dispatch.New(dispatch.NewQueue(), nopDispatcher{}, nil)
}

func newIntake(t *testing.T, sched *dispatch.Scheduler) *ingress.Intake {
	t.Helper()
	return ingress.NewIntake(sched, t.TempDir())
}

type fakeAnnouncements struct {
	fired []string
}

func (a *fakeAnnouncements) Names() []string { return []string{"closing", "opening"} }

func (a *fakeAnnouncements) Trigger(name string) error {
	if name != "closing" && name != "opening" {
		return fmt.Errorf("%w: %s", announce.ErrUnknown, name)
	}
	a.fired = append(a.fired, name)
	return nil
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, Handlers{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["version"])
}

func TestUnroutedHandlers(t *testing.T) {
	srv := newTestServer(t, Handlers{})

	for _, path := range []string{"/api/queue", "/api/history", "/api/announcements", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestSubmitJobs(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDepth  int
	}{
		{"Valid", `{"jobs":[{"type":"text","content":"hello"},{"type":"voice","content":"hi"}]}`, http.StatusAccepted, 1},
		{"Empty", `{"jobs":[]}`, http.StatusBadRequest, 0},
		{"UnknownType", `{"jobs":[{"type":"fax"}]}`, http.StatusBadRequest, 0},
		{"UnknownField", `{"jobs":[{"type":"text"}],"priority":1}`, http.StatusBadRequest, 0},
		{"Malformed", `{"jobs":`, http.StatusBadRequest, 0},
		{"SoundInsideRoot", `{"jobs":[{"type":"sound","path":"chime.wav"}]}`, http.StatusAccepted, 1},
		{"SoundEscapesRoot", `{"jobs":[{"type":"sound","path":"../../etc/passwd"}]}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := newScheduler()
			srv := newTestServer(t, Handlers{Jobs: NewJobsHandler(sched, newIntake(t, sched), nil)})

			resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var ack ingress.Ack
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, "queued", ack.Status)
				assert.NotEmpty(t, ack.ID)
			} else {
				assert.Equal(t, "error", ack.Status)
				assert.NotEmpty(t, ack.Error)
			}
			assert.Equal(t, tt.wantDepth, sched.Queue().Len())
		})
	}
}

func TestSubmitJobs_TooLarge(t *testing.T) {
	sched := newScheduler()
	h := NewJobsHandler(sched, newIntake(t, sched), nil)

	body := bytes.Repeat([]byte("a"), maxEnvelopeBytes+1)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, sched.Queue().Len())
}

func TestQueueAndClear(t *testing.T) {
	sched := newScheduler()
	sched.Text("first", false, -1)
	sched.Sound("/tmp/ding.wav", 0)
	srv := newTestServer(t, Handlers{Jobs: NewJobsHandler(sched, newIntake(t, sched), fakeVoice{pending: 2, busy: true})})

	resp, err := http.Get(srv.URL + "/api/queue")
	require.NoError(t, err)
	var q QueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	resp.Body.Close()

	assert.False(t, q.Running)
	assert.Equal(t, 2, q.Depth)
	assert.Equal(t, 2, q.VoicePending)
	assert.True(t, q.VoiceBusy)
	require.Len(t, q.Collections, 2)
	assert.Equal(t, []model.Kind{model.KindSound}, q.Collections[0].Kinds)
	assert.Equal(t, []model.Kind{model.KindText}, q.Collections[1].Kinds)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/queue", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var cleared map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleared))
	resp.Body.Close()

	assert.Equal(t, 2, cleared["dropped"])
	assert.Zero(t, sched.Queue().Len())
}

func TestHistory(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	j := history.New(d)
	t.Cleanup(func() { j.Close() })

	j.Dispatched(model.Collection{ID: "c1", Source: "api"}, []model.DispatchRecord{
		{CollectionID: "c1", Position: 0, Kind: model.KindText},
		{CollectionID: "c1", Position: 1, Kind: model.KindSound, Err: errors.New("missing"), ErrorKind: "MissingFileError"},
	})
	require.Eventually(t, func() bool {
		counts, err := j.Counts(context.Background())
		return err == nil && counts["ok"]+counts["failed"] == 2
	}, 2*time.Second, 10*time.Millisecond)
	srv := newTestServer(t, Handlers{History: NewHistoryHandler(j)})

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLen    int
	}{
		{"Default", "", http.StatusOK, 2},
		{"Limited", "?limit=1", http.StatusOK, 1},
		{"Zero", "?limit=0", http.StatusBadRequest, 0},
		{"TooMany", "?limit=5000", http.StatusBadRequest, 0},
		{"NotNumber", "?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/history" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body struct {
				Entries []history.Entry `json:"entries"`
				Counts  map[string]int  `json:"counts"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Len(t, body.Entries, tt.wantLen)
			assert.Equal(t, 1, body.Counts["ok"])
			assert.Equal(t, 1, body.Counts["failed"])
		})
	}
}

func TestAnnouncements(t *testing.T) {
	ann := &fakeAnnouncements{}
	srv := newTestServer(t, Handlers{Announcements: NewAnnouncementsHandler(ann)})

	resp, err := http.Get(srv.URL + "/api/announcements")
	require.NoError(t, err)
	var list map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, []string{"closing", "opening"}, list["announcements"])

	tests := []struct {
		name       string
		wantStatus int
	}{
		{"opening", http.StatusAccepted},
		{"lunch", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/api/announcements/"+tt.name, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.wantStatus, resp.StatusCode, tt.name)
	}
	assert.Equal(t, []string{"opening"}, ann.fired)
}

func TestShutdownEndpoint(t *testing.T) {
	called := make(chan struct{})
	srv := httptest.NewServer(NewServer("", Handlers{}, func() { close(called) }).Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/shutdown", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestWebSocket_Submit(t *testing.T) {
	sched := newScheduler()
	ws := NewWSHandler(newIntake(t, sched), config.WebSocketConfig{Enabled: true, RatePerSec: 100, Burst: 10})
	srv := newTestServer(t, Handlers{WebSocket: ws})
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"index":0,"jobs":[{"type":"voice","content":"hello"}]}`)))
	var ack ingress.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "queued", ack.Status)
	assert.Equal(t, 1, ack.Jobs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "error", ack.Status)

	snap := sched.Queue().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "websocket", snap[0].Source)
}

func TestWebSocket_RateLimited(t *testing.T) {
	sched := newScheduler()
	ws := NewWSHandler(newIntake(t, sched), config.WebSocketConfig{Enabled: true, RatePerSec: 0.001, Burst: 1})
	srv := newTestServer(t, Handlers{WebSocket: ws})
	conn := dialWS(t, srv)

	msg := []byte(`{"jobs":[{"type":"text","content":"x"}]}`)
	var statuses []string
	for range 3 {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
		var ack ingress.Ack
		require.NoError(t, conn.ReadJSON(&ack))
		statuses = append(statuses, ack.Status+":"+ack.Error)
	}

	assert.Equal(t, []string{"queued:", "error:rate limited", "error:rate limited"}, statuses)
	assert.Equal(t, 1, sched.Queue().Len())
}

func TestWebSocket_BroadcastsOutcomes(t *testing.T) {
	ws := NewWSHandler(newIntake(t, newScheduler()), config.WebSocketConfig{RatePerSec: 1, Burst: 1})
	srv := newTestServer(t, Handlers{WebSocket: ws})
	conn := dialWS(t, srv)

	require.Eventually(t, func() bool { return ws.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.Dispatched(model.Collection{ID: "c9", Source: "nats"}, []model.DispatchRecord{
		{CollectionID: "c9", Position: 0, Kind: model.KindText},
		{CollectionID: "c9", Position: 1, Kind: model.KindImage, Err: errors.New("empty"), ErrorKind: "ImageContentError"},
	})

	var ev DispatchEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "dispatched", ev.Type)
	assert.Equal(t, "c9", ev.Collection)
	assert.Equal(t, "nats", ev.Source)
	assert.Equal(t, []DispatchedJob{
		{Kind: model.KindText, OK: true},
		{Kind: model.KindImage, ErrorKind: "ImageContentError"},
	}, ev.Jobs)

	conn.Close()
	require.Eventually(t, func() bool { return ws.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_SlowClientDoesNotBlockBroadcast(t *testing.T) {
	ws := NewWSHandler(newIntake(t, newScheduler()), config.WebSocketConfig{RatePerSec: 1, Burst: 1})
	srv := newTestServer(t, Handlers{WebSocket: ws})
	_ = dialWS(t, srv) // never read

	require.Eventually(t, func() bool { return ws.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Large events fill the socket buffers so the writer stalls.
	records := make([]model.DispatchRecord, 10000)
	for i := range records {
		records[i] = model.DispatchRecord{CollectionID: "big", Position: i, Kind: model.KindText}
	}

	start := time.Now()
	for range 50 {
		ws.Dispatched(model.Collection{ID: "big"}, records)
	}
	assert.Less(t, time.Since(start), wsWriteTimeout)
}
