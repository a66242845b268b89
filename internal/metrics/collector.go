package metrics

import (
	"context"
	"sync"
	"time"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sandbox"
)

// DefaultPollInterval is how often the collector polls backend usage for
// every live sandbox (C10, §4.10).
const DefaultPollInterval = 5 * time.Second

// Collector periodically polls the sandbox manager's live registry and
// publishes per-sandbox resource-usage snapshots, exposing C10 to the
// admin plane (§1: "exposed to the admin plane") via the package's
// Prometheus gauges.
type Collector struct {
	sb       *sandbox.Manager
	fm       *faas.Manager
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	seen map[string]string // sandbox id -> runtime, as of the last poll
}

// NewCollector builds a Collector over the sandbox and FaaS registries.
func NewCollector(sb *sandbox.Manager, fm *faas.Manager) *Collector {
	return &Collector{
		sb:       sb,
		fm:       fm,
		interval: DefaultPollInterval,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]string),
	}
}

// Run polls on a ticker until ctx is cancelled or Stop is called.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// Stop ends a running Run loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) pollOnce(ctx context.Context) {
	m := Get()

	probe, ok := c.sb.Backend().(sandbox.UsageProbe)
	live := c.sb.List()
	m.SandboxesLive.Set(float64(len(live)))
	if c.fm != nil {
		m.DeploymentsLive.Set(float64(len(c.fm.List())))
	}

	current := make(map[string]string, len(live))
	if ok {
		for _, sb := range live {
			current[sb.ID] = sb.Request.Runtime
			usage, err := probe.Usage(ctx, sb.ID)
			if err != nil {
				m.RecordProbeFailure(sb.ID)
				obs.S().Warnw("usage probe failed", "sandbox_id", sb.ID, "error", err)
				continue
			}
			m.RecordUsage(sb.ID, sb.Request.Runtime, usage)
		}
	}

	for id, runtime := range c.seen {
		if _, stillLive := current[id]; !stillLive {
			m.ForgetSandbox(id, runtime)
		}
	}
	c.seen = current
}
