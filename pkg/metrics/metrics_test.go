package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcast/pkg/model"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, "printcast-test")
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	r, err := NewRecorder(tel.Meter(), Gauges{
		QueueDepth:   func() int { return 3 },
		VoicePending: func() int { return 2 },
	})
	require.NoError(t, err)

	r.Dispatched(model.Collection{ID: "c", Source: "api"}, []model.DispatchRecord{
		{Kind: model.KindText},
		{Kind: model.KindSound, Err: errors.New("gone"), ErrorKind: "MissingFileError"},
	})
	r.Spoken("hi", nil)

	body := scrape(t, tel)
	assert.Contains(t, body, "printcast_jobs_total")
	assert.Contains(t, body, `error_kind="MissingFileError"`)
	assert.Contains(t, body, "printcast_collections_total")
	assert.Contains(t, body, "printcast_utterances_total")
	assert.Contains(t, body, "printcast_queue_depth")
	assert.Contains(t, body, "printcast_voice_pending")
}

func TestSetup_Twice(t *testing.T) {
	ctx := context.Background()
	a, err := Setup(ctx, "a")
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	b, err := Setup(ctx, "b")
	require.NoError(t, err)
	defer b.Shutdown(ctx)
}
