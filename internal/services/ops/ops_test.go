package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standupbot/internal/standup"
	logx "standupbot/pkg/logx"
)

type fakeSource struct{ infos []standup.Info }

func (f fakeSource) Snapshot() []standup.Info { return f.infos }
func (f fakeSource) Stats() standup.Stats     { return standup.Stats{Chats: len(f.infos), Fired: 3} }

func newTestSource() fakeSource {
	next := time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)
	return fakeSource{infos: []standup.Info{
		{Schedule: standup.Schedule{ChatID: -100, Time: standup.TimeOfDay{Hour: 17}, Weekdays: standup.WorkingDays, Generation: 2}, Next: next, Zone: "UTC"},
		{Schedule: standup.Schedule{ChatID: -200, Time: standup.TimeOfDay{Hour: 9, Minute: 5}, Weekdays: standup.NoDays, Generation: 1}, Zone: "UTC"},
	}}
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSchedules(t *testing.T) {
	h := New(Config{}, newTestSource(), logx.Nop()).Handler("")

	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "17:00", got[0]["time"])
	assert.Equal(t, "Mon-Fri", got[0]["weekdays"])
	assert.Equal(t, "2025-03-10T17:00:00Z", got[0]["next"])
	assert.Equal(t, "09:05", got[1]["time"])
	_, hasNext := got[1]["next"]
	assert.False(t, hasNext, "dormant schedules have no next")

	rec = get(t, h, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fired": 3`)
}

func TestHandlerToken(t *testing.T) {
	h := New(Config{}, newTestSource(), logx.Nop()).Handler("s3cret")

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/schedules", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", nil).Code)
}

func TestHandlerProfiler(t *testing.T) {
	h := New(Config{}, newTestSource(), logx.Nop()).Handler("")
	rec := get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceLifecycle(t *testing.T) {
	s := New(Config{}, newTestSource(), logx.Nop())
	ctx := context.Background()

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())

	err = s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"})
	assert.Error(t, err, "public addr without token must be refused")
	assert.Empty(t, s.Addr())
}
