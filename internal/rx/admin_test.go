package rx

import (
	"bufio"
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

	"github.com/banshee-data/multisense/internal/wire"
)

// localHostRequest makes the request pass tsweb's loopback debug check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_Stats(t *testing.T) {
	e, _ := newEngine(t, Config{})
	for _, d := range fragments(t, 1, &wire.SysPps{PpsNanoSeconds: 1}, 100) {
		require.NoError(t, e.Handle(d))
	}

	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var s Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, uint64(1), s.Datagrams)
	assert.Equal(t, uint64(1), s.Messages)
	assert.Equal(t, uint64(1), s.Dispatch.Pps)
}

func TestAdminRoutes_TrackersAndStored(t *testing.T) {
	e, _ := newEngine(t, Config{})
	require.NoError(t, e.Handle(fragments(t, 1, &wire.SysPps{}, 6)[0]))
	for _, d := range fragments(t, 2, &wire.SysMtu{Mtu: 7200}, 100) {
		require.NoError(t, e.Handle(d))
	}

	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx-trackers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var trackers []TrackerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trackers))
	require.Len(t, trackers, 1)
	assert.Equal(t, "SysPps", trackers[0].ID)
	assert.Equal(t, uint64(6), trackers[0].Received)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx-stored?id=0x0014", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "7200")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx-stored?id=0x0106", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx-stored?id=mtu", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/rx-listeners", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SysMtu")
}

func TestAdminRoutes_TailStreamsMessages(t *testing.T) {
	e, _ := newEngine(t, Config{})
	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/rx-tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": ping", lines.Text())

	waitFor(t, func() bool {
		e.tailMu.Lock()
		defer e.tailMu.Unlock()
		return len(e.tail) == 1
	})
	for _, d := range fragments(t, 12, &wire.SysPps{}, 100) {
		require.NoError(t, e.Handle(d))
	}

	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: ") {
			assert.Equal(t, "data: seq=12 id=SysPps bytes=12 datagrams=1", lines.Text())
			return
		}
	}
	t.Fatalf("stream ended without data: %v", lines.Err())
}
