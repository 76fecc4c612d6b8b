package capability

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forgecore/autonomy/internal/resource"
)

// ProcHostMetrics samples host resource usage from Linux's /proc
// filesystem. No example in the pack ships a host-metrics sampler —
// this is inherently OS-specific and has no idiomatic third-party
// substitute, so it's built directly on stdlib file reads.
type ProcHostMetrics struct {
	busyCPUPct float64
	busyMemPct float64

	mu         sync.Mutex
	lastBusyAt time.Time
}

var _ resource.HostMetrics = (*ProcHostMetrics)(nil)

// NewProcHostMetrics builds a sampler that treats the host as "busy"
// once CPU or memory usage crosses the given thresholds, and reports
// idle minutes as the time elapsed since it last observed busy.
func NewProcHostMetrics(busyCPUPct, busyMemPct float64) *ProcHostMetrics {
	return &ProcHostMetrics{
		busyCPUPct: busyCPUPct,
		busyMemPct: busyMemPct,
		lastBusyAt: time.Now(),
	}
}

func (m *ProcHostMetrics) Snapshot(ctx context.Context) (resource.Snapshot, error) {
	cpuPct, err := readCPUPct()
	if err != nil {
		return resource.Snapshot{}, fmt.Errorf("read cpu: %w", err)
	}
	memPct, err := readMemPct()
	if err != nil {
		return resource.Snapshot{}, fmt.Errorf("read mem: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if cpuPct >= m.busyCPUPct || memPct >= m.busyMemPct {
		m.lastBusyAt = now
	}
	idleMin := now.Sub(m.lastBusyAt).Minutes()

	return resource.Snapshot{CPUPct: cpuPct, MemPct: memPct, IdleMin: idleMin}, nil
}

// readCPUPct approximates current CPU load as the 1-minute load average
// normalised by core count, a cheap proxy that avoids the two-sample
// delta /proc/stat otherwise requires.
func readCPUPct() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse load average: %w", err)
	}
	pct := load1 / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func readMemPct() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("could not determine MemTotal")
	}
	return (total - available) / total * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[1], 64)
	return v
}
