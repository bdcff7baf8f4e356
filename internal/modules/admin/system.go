package admin

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
)

const probeTimeout = 3 * time.Second

var startedAt = time.Now()

// SystemInfo is the body of GET /admin/system. Sections whose probe failed
// are left zero and the failure is listed in Errors.
type SystemInfo struct {
	Host    HostInfo    `json:"host"`
	CPU     CPUInfo     `json:"cpu"`
	Memory  MemoryInfo  `json:"memory"`
	Disk    DiskInfo    `json:"disk"`
	Load    LoadInfo    `json:"load"`
	Process ProcessInfo `json:"process"`
	Runtime RuntimeInfo `json:"runtime"`
	Errors  []string    `json:"errors,omitempty"`
}

type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
}

type CPUInfo struct {
	LogicalCores int     `json:"logical_cores"`
	UsedPercent  float64 `json:"used_percent"`
}

type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

type DiskInfo struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type LoadInfo struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

type ProcessInfo struct {
	PID           int32   `json:"pid"`
	RSS           uint64  `json:"rss"`
	CPUPercent    float64 `json:"cpu_percent"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

type RuntimeInfo struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
}

// CollectSystemInfo probes the host. A failed probe does not stop the
// others; the returned error aggregates every failure.
func CollectSystemInfo(ctx context.Context, diskPath string) (SystemInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		info SystemInfo
		errs *multierror.Error
	)

	if h, err := host.InfoWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		info.Host = HostInfo{
			Hostname:        h.Hostname,
			OS:              h.OS,
			Platform:        h.Platform,
			PlatformVersion: h.PlatformVersion,
			KernelVersion:   h.KernelVersion,
			UptimeSeconds:   h.Uptime,
		}
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		info.CPU.LogicalCores = n
	}
	// An interval of zero compares against the previous call.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = multierror.Append(errs, err)
	} else if len(pct) > 0 {
		info.CPU.UsedPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		info.Memory = MemoryInfo{Total: vm.Total, Used: vm.Used, Available: vm.Available, UsedPercent: vm.UsedPercent}
	}

	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		info.Disk = DiskInfo{Path: du.Path, Total: du.Total, Used: du.Used, Free: du.Free, UsedPercent: du.UsedPercent}
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		info.Load = LoadInfo{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}

	info.Process = ProcessInfo{
		PID:           int32(os.Getpid()),
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
	}
	if p, err := process.NewProcessWithContext(ctx, info.Process.PID); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		if mi, err := p.MemoryInfoWithContext(ctx); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			info.Process.RSS = mi.RSS
		}
		if pct, err := p.CPUPercentWithContext(ctx); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			info.Process.CPUPercent = pct
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.Runtime = RuntimeInfo{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
	}

	if errs != nil {
		for _, err := range errs.Errors {
			info.Errors = append(info.Errors, err.Error())
		}
	}
	return info, errs.ErrorOrNil()
}

func (h *handlers) system(w http.ResponseWriter, r *http.Request) {
	info, err := CollectSystemInfo(r.Context(), h.opts.DiskPath)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("some host probes failed")
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}
