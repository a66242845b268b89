// Package stats computes per-container resource usage (C10, §4.10) from
// the raw counters the container engine's stats endpoint returns. It is
// deliberately decoupled from the Docker SDK types so the arithmetic is
// unit-testable without a daemon.
package stats

// CPUSample is the subset of a container stats CPU payload needed to
// compute a percentage.
type CPUSample struct {
	TotalUsage        uint64
	SystemCPUUsage    uint64
	PreTotalUsage     uint64
	PreSystemCPUUsage uint64
	OnlineCPUs        uint64
}

// CPUPercent computes `(cpu_delta / system_delta) * online_cpus * 100`
// per §4.10, guarding against the zero/negative deltas that a container's
// first sample (no previous reading) produces.
func CPUPercent(s CPUSample) float64 {
	cpuDelta := float64(s.TotalUsage) - float64(s.PreTotalUsage)
	systemDelta := float64(s.SystemCPUUsage) - float64(s.PreSystemCPUUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := s.OnlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / systemDelta) * float64(onlineCPUs) * 100
}

// MemoryPercent computes `used/limit * 100` per §4.10.
func MemoryPercent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// BlkioOp is one per-operation disk byte counter.
type BlkioOp struct {
	Op    string
	Bytes int64
}

// SumDiskBytes sums the per-op byte counters §4.10 describes for disk
// usage.
func SumDiskBytes(ops []BlkioOp) int64 {
	var total int64
	for _, op := range ops {
		total += op.Bytes
	}
	return total
}

// NetworkInterface is one interface's rx/tx counters.
type NetworkInterface struct {
	RxBytes int64
	TxBytes int64
}

// SumNetworkBytes sums rx+tx across every interface per §4.10.
func SumNetworkBytes(ifaces map[string]NetworkInterface) int64 {
	var total int64
	for _, iface := range ifaces {
		total += iface.RxBytes + iface.TxBytes
	}
	return total
}

// Usage is a single resource-usage snapshot. sandbox.Usage aliases this
// type so the probe can be used standalone or through the
// sandbox.UsageProbe interface.
type Usage struct {
	CPUPercent    float64
	MemoryUsed    int64
	MemoryLimit   int64
	MemoryPercent float64
	DiskBytes     int64
	NetworkRxTx   int64
}
