package stats

import "testing"

func TestCPUPercent(t *testing.T) {
	cases := []struct {
		name string
		s    CPUSample
		want float64
	}{
		{"basic", CPUSample{TotalUsage: 200, PreTotalUsage: 100, SystemCPUUsage: 2000, PreSystemCPUUsage: 1000, OnlineCPUs: 2}, 20},
		{"zero online defaults to one", CPUSample{TotalUsage: 200, PreTotalUsage: 100, SystemCPUUsage: 2000, PreSystemCPUUsage: 1000, OnlineCPUs: 0}, 10},
		{"no system delta", CPUSample{TotalUsage: 200, PreTotalUsage: 100, SystemCPUUsage: 1000, PreSystemCPUUsage: 1000}, 0},
		{"no cpu delta", CPUSample{TotalUsage: 100, PreTotalUsage: 100, SystemCPUUsage: 2000, PreSystemCPUUsage: 1000}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CPUPercent(tc.s); got != tc.want {
				t.Errorf("CPUPercent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMemoryPercent(t *testing.T) {
	if got := MemoryPercent(128, 256); got != 50 {
		t.Errorf("MemoryPercent() = %v, want 50", got)
	}
	if got := MemoryPercent(10, 0); got != 0 {
		t.Errorf("MemoryPercent() with zero limit = %v, want 0", got)
	}
}

func TestSumDiskBytes(t *testing.T) {
	ops := []BlkioOp{{Op: "Read", Bytes: 100}, {Op: "Write", Bytes: 50}}
	if got := SumDiskBytes(ops); got != 150 {
		t.Errorf("SumDiskBytes() = %v, want 150", got)
	}
}

func TestSumNetworkBytes(t *testing.T) {
	ifaces := map[string]NetworkInterface{
		"eth0": {RxBytes: 10, TxBytes: 20},
		"eth1": {RxBytes: 5, TxBytes: 5},
	}
	if got := SumNetworkBytes(ifaces); got != 40 {
		t.Errorf("SumNetworkBytes() = %v, want 40", got)
	}
}
