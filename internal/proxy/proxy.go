// Package proxy implements the Reverse Proxy (C7, §4.7): a path-prefix
// router that resolves `/proxy/{sandbox_id}` and `/faas/{deployment_id}`
// requests to a backend-allocated loopback port and forwards the request
// verbatim.
//
// Grounded on the teacher's hosting.HostingProxy (subdomain-based
// routing to a cached httputil.ReverseProxy per deployment), rewritten
// from subdomain resolution to path-prefix resolution and from a
// streaming ReverseProxy to the full-body-read forwarding §4.7 requires
// (the spec explicitly rules out streaming: "Request body is read fully
// into memory"). Each sandbox id gets its own token bucket so a single
// busy sandbox can't starve forwarding to the others.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// limiterRate/limiterBurst keep normal and test traffic unaffected while
// still bounding a single misbehaving sandbox's request rate through the
// proxy (§4.12: rate limiter keyed by sandbox id).
const (
	limiterRate  = rate.Limit(50)
	limiterBurst = 100
)

const (
	proxyPrefix = "/proxy/"
	faasPrefix  = "/faas/"
)

// Proxy is an http.Handler implementing C7's two routing families.
type Proxy struct {
	sb     *sandbox.Manager
	ports  *ports.Allocator
	faas   *faas.Manager
	client *http.Client

	limiters sync.Map // sandbox id -> *rate.Limiter
}

// New builds a Proxy over the sandbox registry, port allocator, and FaaS
// deployment registry it needs to resolve a request to a forwarding
// target.
func New(sb *sandbox.Manager, pa *ports.Allocator, fm *faas.Manager) *Proxy {
	return &Proxy{
		sb:    sb,
		ports: pa,
		faas:  fm,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// limiterFor returns the per-id token bucket, creating one on first use.
func (p *Proxy) limiterFor(id string) *rate.Limiter {
	if l, ok := p.limiters.Load(id); ok {
		return l.(*rate.Limiter)
	}
	l, _ := p.limiters.LoadOrStore(id, rate.NewLimiter(limiterRate, limiterBurst))
	return l.(*rate.Limiter)
}

// ServeHTTP dispatches on the /proxy/ and /faas/ path-prefix families.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, proxyPrefix):
		p.serveSandboxProxy(w, r)
	case strings.HasPrefix(r.URL.Path, faasPrefix):
		p.serveFaaSProxy(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (p *Proxy) serveSandboxProxy(w http.ResponseWriter, r *http.Request) {
	sandboxID, rest := splitIDAndRest(r.URL.Path, proxyPrefix)
	if sandboxID == "" {
		http.NotFound(w, r)
		return
	}

	port, ok := p.resolveSandboxPort(r.Context(), sandboxID)
	if !ok {
		writeProxyError(w, sberrors.ProxyNoPort("no port for sandbox "+sandboxID))
		return
	}
	if err := p.limiterFor(sandboxID).Wait(r.Context()); err != nil {
		writeProxyError(w, sberrors.ProxyUpstreamFailed(err))
		return
	}
	p.forward(w, r, port, rest)
}

func (p *Proxy) serveFaaSProxy(w http.ResponseWriter, r *http.Request) {
	deploymentID, rest := splitIDAndRest(r.URL.Path, faasPrefix)
	if deploymentID == "" {
		http.NotFound(w, r)
		return
	}

	sandboxID, ok := p.faas.SandboxIDFor(deploymentID)
	if !ok {
		writeProxyError(w, sberrors.NotFound("deployment "+deploymentID+" not found"))
		return
	}
	// Fire-and-forget, per §4.8 Access tracking: the proxy path updates
	// last_accessed without adding latency to forwarding.
	go p.faas.Touch(deploymentID)

	port, ok := p.resolveSandboxPort(r.Context(), sandboxID)
	if !ok {
		writeProxyError(w, sberrors.ProxyNoPort("no port for deployment "+deploymentID))
		return
	}
	if err := p.limiterFor(sandboxID).Wait(r.Context()); err != nil {
		writeProxyError(w, sberrors.ProxyUpstreamFailed(err))
		return
	}
	p.forward(w, r, port, rest)
}

// resolveSandboxPort tries the port allocator first, falling back to the
// backend's own container-inspection path per §4.7.
func (p *Proxy) resolveSandboxPort(ctx context.Context, sandboxID string) (int, bool) {
	if port, ok := p.ports.Get(sandboxID); ok {
		return port, true
	}
	if insp, ok := p.sb.Backend().(sandbox.PortInspector); ok {
		if port, ok := insp.InspectDevServerPort(ctx, sandboxID); ok {
			return port, true
		}
	}
	return 0, false
}

// forward builds an upstream request against 127.0.0.1:{port}{path}{?query},
// copying method, query, and headers, reading the body fully into memory
// (§4.7: no streaming), then copies the upstream response back verbatim.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, port int, path string) {
	if path == "" {
		path = "/"
	}
	targetURL := "http://127.0.0.1:" + strconv.Itoa(port) + path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, sberrors.ProxyIOFailure(err))
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		writeProxyError(w, sberrors.ProxyUpstreamFailed(err))
		return
	}
	upstreamReq.Header = r.Header.Clone()

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		writeProxyError(w, sberrors.ProxyUpstreamFailed(err))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeProxyError(w, sberrors.ProxyIOFailure(err))
		return
	}

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		obs.S().Warnw("proxy response write failed", "error", err)
	}
}

// splitIDAndRest trims prefix off path and splits the remainder into the
// leading id segment and the rest-of-path (always slash-prefixed or empty).
func splitIDAndRest(path, prefix string) (id, rest string) {
	trimmed := strings.TrimPrefix(path, prefix)
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx:]
	}
	return trimmed, ""
}

func writeProxyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case sberrors.Is(err, sberrors.KindProxyNoPort), sberrors.Is(err, sberrors.KindNotFound):
		status = http.StatusNotFound
	case sberrors.Is(err, sberrors.KindProxyUpstreamFailed):
		status = http.StatusBadGateway
	case sberrors.Is(err, sberrors.KindProxyIOFailure):
		status = http.StatusInternalServerError
	}
	obs.S().Warnw("proxy request failed", "error", err, "status", status)
	http.Error(w, err.Error(), status)
}
