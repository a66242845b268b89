package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/sandbox"
)

type fakeBackend struct {
	mu   sync.Mutex
	resp sandbox.Response
}

func (f *fakeBackend) Create(ctx context.Context, req sandbox.Request) error { return nil }
func (f *fakeBackend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	return f.resp, nil
}
func (f *fakeBackend) Cleanup(ctx context.Context, id string) error           { return nil }
func (f *fakeBackend) IsAvailable(ctx context.Context) bool                  { return true }
func (f *fakeBackend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	return nil
}
func (f *fakeBackend) RestartProcess(ctx context.Context, id string, command []string) error {
	return nil
}
func (f *fakeBackend) Type() sandbox.BackendType { return sandbox.BackendDocker }

func portFromURL(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestServeSandboxProxyForwardsToAllocatedPort(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "ping", string(body))
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("pong"))
	}))
	defer upstream.Close()

	port := portFromURL(t, upstream.URL)

	sb := sandbox.NewManager(&fakeBackend{})
	pa := ports.NewAllocator(port)
	require.Equal(t, port, pa.Allocate("sandbox-1"))

	fm := faas.NewManager(sb, "http://localhost")
	p := New(sb, pa, fm)

	req := httptest.NewRequest(http.MethodPost, "/proxy/sandbox-1/hello", strings.NewReader("ping"))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
	assert.Equal(t, "pong", rec.Body.String())
}

func TestServeSandboxProxyUnknownSandboxReturns404(t *testing.T) {
	sb := sandbox.NewManager(&fakeBackend{})
	pa := ports.NewAllocator(9100)
	fm := faas.NewManager(sb, "http://localhost")
	p := New(sb, pa, fm)

	req := httptest.NewRequest(http.MethodGet, "/proxy/never-existed", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeFaaSProxyUnknownDeploymentReturns404(t *testing.T) {
	sb := sandbox.NewManager(&fakeBackend{})
	pa := ports.NewAllocator(9200)
	fm := faas.NewManager(sb, "http://localhost")
	p := New(sb, pa, fm)

	req := httptest.NewRequest(http.MethodGet, "/faas/never-existed", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmatchedPrefixReturns404(t *testing.T) {
	sb := sandbox.NewManager(&fakeBackend{})
	pa := ports.NewAllocator(9300)
	fm := faas.NewManager(sb, "http://localhost")
	p := New(sb, pa, fm)

	req := httptest.NewRequest(http.MethodGet, "/not-a-known-prefix", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSplitIDAndRest(t *testing.T) {
	id, rest := splitIDAndRest("/proxy/abc/x/y", proxyPrefix)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "/x/y", rest)

	id, rest = splitIDAndRest("/proxy/abc", proxyPrefix)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "", rest)
}
