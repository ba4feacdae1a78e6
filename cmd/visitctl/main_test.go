package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	calls atomic.Int32

	mu     sync.Mutex
	status int
	body   string
}

func (f *fakeAPI) set(status int, body string) {
	f.mu.Lock()
	f.status, f.body = status, body
	f.mu.Unlock()
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	status, body := f.status, f.body
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newAPI(t *testing.T, status int, body string) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{status: status, body: body}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errb bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVisitCountsOncePerState(t *testing.T) {
	api, url := newAPI(t, http.StatusOK, `{"success":true,"visit_count":42}`)
	state := filepath.Join(t.TempDir(), "state.db")

	out, err := execute(t, "--state", state, "--base-url", url, "visit", "profile", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "profile/abc123: counted, 42 visits\n", out)

	out, err = execute(t, "--state", state, "--base-url", url, "visit", "profiles", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "profile/abc123: already counted by this client\n", out)
	assert.Equal(t, int32(1), api.calls.Load())

	// another state file is another browser
	other := filepath.Join(t.TempDir(), "other.db")
	_, err = execute(t, "--state", other, "--base-url", url, "visit", "profile", "abc123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestStatusListAndReset(t *testing.T) {
	api, url := newAPI(t, http.StatusOK, `{"success":true,"visit_count":3}`)
	state := filepath.Join(t.TempDir(), "state.db")
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append([]string{"--state", state, "--base-url", url}, args...)...)
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, "family/garcia idle\n", run("status", "family", "garcia"))
	run("visit", "family", "garcia")
	run("visit", "couple", "ana-y-luis")

	assert.True(t, strings.HasPrefix(run("status", "family-profiles", "garcia"), "family/garcia completed "))

	list := run("list")
	assert.Contains(t, list, "couple/ana-y-luis ")
	assert.Contains(t, list, "family/garcia ")
	assert.True(t, strings.HasSuffix(list, "2 counted\n"), list)

	assert.Equal(t, "family/garcia reset\n", run("reset", "family", "garcia"))
	assert.Equal(t, "family/garcia idle\n", run("status", "family", "garcia"))
	run("visit", "family", "garcia")
	assert.Equal(t, int32(3), api.calls.Load())

	assert.Equal(t, "family reset\n", run("reset-all", "--kind", "family"))
	assert.True(t, strings.HasPrefix(run("status", "couple", "ana-y-luis"), "couple/ana-y-luis completed"))
	assert.Equal(t, "all reset\n", run("reset-all"))
	assert.True(t, strings.HasSuffix(run("list"), "0 counted\n"))
}

func TestVisitRateLimited(t *testing.T) {
	_, url := newAPI(t, http.StatusTooManyRequests, `{"error":"Ya registramos tu visita recientemente"}`)
	state := filepath.Join(t.TempDir(), "state.db")

	out, err := execute(t, "--state", state, "--base-url", url, "visit", "profile", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "profile/abc123: already counted recently\n", out)

	out, err = execute(t, "--state", state, "status", "profile", "abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "profile/abc123 completed"), out)
}

func TestVisitFailureAllowsRetry(t *testing.T) {
	api, url := newAPI(t, http.StatusInternalServerError, `{"error":"Error al registrar visita"}`)
	state := filepath.Join(t.TempDir(), "state.db")

	_, err := execute(t, "--state", state, "--base-url", url, "visit", "profile", "abc123")
	require.EqualError(t, err, "Error al registrar visita")

	out, err := execute(t, "--state", state, "status", "profile", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "profile/abc123 idle\n", out)

	api.set(http.StatusOK, `{"success":true,"visit_count":8}`)
	out, err = execute(t, "--state", state, "--base-url", url, "visit", "profile", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "profile/abc123: counted, 8 visits\n", out)
}

func TestCodecs(t *testing.T) {
	_, url := newAPI(t, http.StatusOK, `{"success":true,"visit_count":1}`)
	for _, c := range []string{"json", "msgpack", "cbor", "proto"} {
		t.Run(c, func(t *testing.T) {
			state := filepath.Join(t.TempDir(), "state.db")
			_, err := execute(t, "--state", state, "--codec", c, "--base-url", url, "visit", "couple", "ana-y-luis")
			require.NoError(t, err)
			out, err := execute(t, "--state", state, "--codec", c, "status", "couple", "ana-y-luis")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out, "couple/ana-y-luis completed"), out)
		})
	}
}

func TestBadInput(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.db")
	for _, args := range [][]string{
		{"--state", state, "status", "pet", "firulais"},
		{"--state", state, "--codec", "xml", "status", "profile", "a"},
		{"--state", state, "--mirror", "etcd", "status", "profile", "a"},
		{"--state", state, "--base-url", "", "visit", "profile", "a"},
		{"--state", state, "reset-all", "--kind", "pet"},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, "%v", args)
	}
}

func TestLogFormats(t *testing.T) {
	_, url := newAPI(t, http.StatusInternalServerError, `{"error":"db down"}`)

	for _, format := range logFormats {
		t.Run(format, func(t *testing.T) {
			state := filepath.Join(t.TempDir(), "state.db")
			cmd := newRootCmd()
			var out, errb bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&errb)
			cmd.SetArgs([]string{"--state", state, "--base-url", url, "--log-format", format, "-v", "visit", "profile", "abc123"})

			err := cmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Equal(t, "db down", err.Error())
			assert.Contains(t, errb.String(), "visit increment failed")
			assert.Contains(t, errb.String(), "visit failed")
		})
	}

	_, err := execute(t, "--log-format", "xml", "status", "profile", "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown --log-format")
}
