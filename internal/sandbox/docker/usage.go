package docker

import (
	"context"
	"encoding/json"

	"github.com/docker/docker/api/types/container"

	"sandboxfaas/internal/sberrors"
	"sandboxfaas/internal/stats"
)

// Usage satisfies sandbox.UsageProbe (C10, §4.10): a one-shot snapshot
// from the engine's per-container stats endpoint, reduced through the
// pure stats package formulas.
func (b *Backend) Usage(ctx context.Context, id string) (stats.Usage, error) {
	rec, ok := b.record(id)
	if !ok {
		return stats.Usage{}, sberrors.NotFound("sandbox " + id + " not tracked by docker backend")
	}

	resp, err := b.cli.ContainerStatsOneShot(ctx, rec.containerID)
	if err != nil {
		return stats.Usage{}, err
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return stats.Usage{}, err
	}

	cpuPercent := stats.CPUPercent(stats.CPUSample{
		TotalUsage:        raw.CPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage:    raw.CPUStats.SystemUsage,
		PreTotalUsage:     raw.PreCPUStats.CPUUsage.TotalUsage,
		PreSystemCPUUsage: raw.PreCPUStats.SystemUsage,
		OnlineCPUs:        uint64(raw.CPUStats.OnlineCPUs),
	})

	memUsed := int64(raw.MemoryStats.Usage)
	memLimit := int64(raw.MemoryStats.Limit)

	var blkioOps []stats.BlkioOp
	for _, entry := range raw.BlkioStats.IoServiceBytesRecursive {
		blkioOps = append(blkioOps, stats.BlkioOp{Op: entry.Op, Bytes: int64(entry.Value)})
	}

	ifaces := make(map[string]stats.NetworkInterface, len(raw.Networks))
	for name, n := range raw.Networks {
		ifaces[name] = stats.NetworkInterface{RxBytes: int64(n.RxBytes), TxBytes: int64(n.TxBytes)}
	}

	return stats.Usage{
		CPUPercent:    cpuPercent,
		MemoryUsed:    memUsed,
		MemoryLimit:   memLimit,
		MemoryPercent: stats.MemoryPercent(memUsed, memLimit),
		DiskBytes:     stats.SumDiskBytes(blkioOps),
		NetworkRxTx:   stats.SumNetworkBytes(ifaces),
	}, nil
}
