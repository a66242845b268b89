// Package api binds the §6 External Interfaces onto a minimal gin.Engine:
// sandbox CRUD/execute, FaaS deploy/undeploy/update, and the proxy
// passthrough. Routing/CORS/admin-dashboard/access-log are out of scope
// (§1) — the engine built here carries no middleware beyond request-scoped
// logging and panic recovery, grounded on the teacher's cmd/main.go bootstrap-router pattern
// (gin.New(), not gin.Default()).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/metrics"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/proxy"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// Server holds the core components the handlers dispatch to.
type Server struct {
	sandboxes *sandbox.Manager
	deploys   *faas.Manager
	ports     *ports.Allocator
	proxy     *proxy.Proxy
}

// NewServer wires a Server over the already-constructed core components.
func NewServer(sb *sandbox.Manager, fm *faas.Manager, pa *ports.Allocator, px *proxy.Proxy) *Server {
	return &Server{sandboxes: sb, deploys: fm, ports: pa, proxy: px}
}

// NewRouter builds the gin.Engine carrying every §6 route plus /health and
// /metrics. requestLogger and gin.Recovery are the only middleware
// registered.
func (s *Server) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.PrometheusHandler())

	r.POST("/create_sandbox", s.CreateSandbox)
	r.POST("/execute_one_shot", s.ExecuteOneShot)
	r.POST("/sandbox/:id/execute", s.ExecuteSandbox)
	r.GET("/sandbox/:id", s.GetSandbox)
	r.GET("/sandbox", s.ListSandboxes)
	r.DELETE("/sandbox/:id", s.DeleteSandbox)
	r.POST("/sandbox/:id/files", s.UpdateSandboxFiles)

	r.POST("/faas/deploy", s.DeployFaaS)
	r.GET("/faas/deployments", s.ListDeployments)
	r.GET("/faas/deployments/:id", s.GetDeployment)
	r.DELETE("/faas/deployments/:id", s.UndeployFaaS)
	r.PUT("/faas/deployments/:id/files", s.UpdateDeploymentFiles)

	proxyHandler := gin.WrapH(s.proxy)
	r.Any("/proxy/*rest", proxyHandler)
	r.Any("/faas/:id/*rest", proxyHandler)

	return r
}

// requestLogger logs method/path/status/latency at Info, the ambient
// request-scoped logging §4.12 allows even though outward HTTP framing
// (access-log middleware proper) is out of scope.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		obs.S().Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// writeError maps a typed sberrors error to its §7 HTTP status and writes
// a JSON error body.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if kind, ok := sberrors.KindOf(err); ok {
		switch kind {
		case sberrors.KindInvalidRuntime:
			status = http.StatusBadRequest
		case sberrors.KindNotFound, sberrors.KindProxyNoPort:
			status = http.StatusNotFound
		case sberrors.KindProxyUpstreamFailed:
			status = http.StatusBadGateway
		case sberrors.KindUnavailable, sberrors.KindCreationFailed, sberrors.KindSetupFailed,
			sberrors.KindHealthCheckFailed, sberrors.KindDeployFailed, sberrors.KindProxyIOFailure:
			status = http.StatusInternalServerError
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
