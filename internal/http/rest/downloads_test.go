package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/rangefetch/internal/engine"
	"github.com/italolelis/rangefetch/internal/job"
	"github.com/italolelis/rangefetch/internal/manager"
	"github.com/italolelis/rangefetch/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	api    *httptest.Server
	origin *httptest.Server
	jobs   *manager.Manager
}

func newAPI(t *testing.T, username, password string) *apiFixture {
	t.Helper()

	pool := scheduler.New(0)
	t.Cleanup(pool.Wait)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(origin.Close)

	e := engine.New(pool, engine.Options{Dir: filepath.Join(t.TempDir(), "Download")})
	jobs := manager.New(e)

	api := httptest.NewServer(NewDownloadsHandler(jobs, username, password).Routes())
	t.Cleanup(api.Close)

	return &apiFixture{api: api, origin: origin, jobs: jobs}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, f.api.URL+path, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func (f *apiFixture) add(t *testing.T, path string) DownloadView {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/downloads", AddDownloadRequest{URL: f.origin.URL + path})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view DownloadView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))

	return view
}

func (f *apiFixture) waitSettled(t *testing.T, id string, want job.Status) {
	t.Helper()

	j, err := f.jobs.Get(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !j.Running() && j.Status() == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestAddAndGetDownload(t *testing.T) {
	f := newAPI(t, "", "")

	view := f.add(t, "/files/hello.txt")
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "hello.txt", view.File)

	f.waitSettled(t, view.ID, job.StatusComplete)

	resp := f.do(t, http.MethodGet, "/downloads/"+view.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got DownloadView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))

	assert.Equal(t, "Complete", got.Status)
	assert.Equal(t, int64(5), got.Size)
	assert.Equal(t, int64(5), got.Downloaded)
	assert.InDelta(t, 100.0, got.Progress, 0.0001)
	assert.Equal(t, "5 B", got.SizeHuman)
	assert.Nil(t, got.Error)
}

func TestAddDownload_BadRequest(t *testing.T) {
	f := newAPI(t, "", "")

	resp := f.do(t, http.MethodPost, "/downloads", AddDownloadRequest{URL: "ftp://example.com/a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, f.api.URL+"/downloads", bytes.NewBufferString("{not json"))
	require.NoError(t, err)

	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()

	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestListDownloads(t *testing.T) {
	f := newAPI(t, "", "")

	a := f.add(t, "/a.txt")
	b := f.add(t, "/b.txt")

	resp := f.do(t, http.MethodGet, "/downloads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []DownloadView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, a.ID, views[0].ID)
	assert.Equal(t, b.ID, views[1].ID)

	f.waitSettled(t, a.ID, job.StatusComplete)
	f.waitSettled(t, b.ID, job.StatusComplete)
}

func TestCommands(t *testing.T) {
	f := newAPI(t, "", "")

	failed := f.add(t, "/missing")
	f.waitSettled(t, failed.ID, job.StatusError)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/downloads/unknown/pause", nil).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/downloads/"+failed.ID+"/pause", nil).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/downloads/"+failed.ID+"/cancel", nil).StatusCode)

	resp := f.do(t, http.MethodPost, "/downloads/"+failed.ID+"/resume", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	f.waitSettled(t, failed.ID, job.StatusError)
}

func TestClearDownloads(t *testing.T) {
	f := newAPI(t, "", "")

	done := f.add(t, "/done.txt")
	failed := f.add(t, "/missing")
	other := f.add(t, "/other.txt")

	f.waitSettled(t, done.ID, job.StatusComplete)
	f.waitSettled(t, failed.ID, job.StatusError)
	f.waitSettled(t, other.ID, job.StatusComplete)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/downloads/"+done.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/downloads/"+done.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/downloads/"+done.ID, nil).StatusCode)

	resp := f.do(t, http.MethodDelete, "/downloads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cleared ClearResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleared))
	assert.Equal(t, 2, cleared.Cleared)
	assert.Empty(t, f.jobs.List())
}

func TestBasicAuth(t *testing.T) {
	f := newAPI(t, "admin", "secret")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/downloads", nil).StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.api.URL+"/downloads", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewDownloadView_UnknownSize(t *testing.T) {
	target, err := job.ParseTarget("https://example.com/")
	require.NoError(t, err)

	view := NewDownloadView(job.New(target, "", ""))

	assert.Equal(t, int64(-1), view.Size)
	assert.Equal(t, "unknown", view.SizeHuman)
	assert.Equal(t, "0 B", view.DownloadedHuman)
	assert.Equal(t, "example.com", view.File)
	assert.Equal(t, "Downloading", view.Status)
	assert.Zero(t, view.Progress)
}
