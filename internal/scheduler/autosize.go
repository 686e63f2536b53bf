package scheduler

import (
	"bufio"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/technosupport/parking-capture/internal/config"
)

// AutoSize fills in MaxComboConcurrency/MaxWorkersPerCombo when either is
// left at its zero value. Ported from
// original_source/utils/system_utils.py's calculate_optimal_concurrency:
// three independent budgets (CPU load, available RAM, DB-pool ceiling),
// clamped to the most restrictive, then mapped through the same
// small/medium/large/x-large server tiers. Mirrors
// internal/platform/windows/wmi_discovery.go's posture: try the
// platform-specific source, fall back to a safe constant on any failure,
// never error out of the caller's config load.
func AutoSize(t *config.Tunables) {
	if t.MaxComboConcurrency > 0 && t.MaxWorkersPerCombo > 0 {
		return
	}

	cpus := runtime.NumCPU()
	availMemGB := readAvailableMemGB()
	memUsagePercent := readMemUsagePercent()
	cpuPercent := readCPUPercent()

	dbPoolSize := t.DBPoolSize
	if dbPoolSize <= 0 {
		dbPoolSize = 20
	}
	dbMaxOverflow := t.DBMaxOverflow
	if dbMaxOverflow <= 0 {
		dbMaxOverflow = 40
	}

	combo, workers := calculateOptimalConcurrency(cpus, availMemGB, memUsagePercent, cpuPercent, dbPoolSize, dbMaxOverflow)

	if t.MaxComboConcurrency <= 0 {
		t.MaxComboConcurrency = combo
	}
	if t.MaxWorkersPerCombo <= 0 {
		t.MaxWorkersPerCombo = workers
	}
}

// calculateOptimalConcurrency is the direct port of
// calculate_optimal_concurrency: a CPU-based budget, a memory-based
// budget, and a DB-pool-based budget (max_db_connections / 2.5
// connections-per-task / 2, a conservative halving), minned together,
// then mapped onto the documented server-size tiers, finally rescaled
// down if combo*workers would exceed the combined budget.
//
// Go has no portable, dependency-free way to read the *physical* core
// count the way psutil.cpu_count(logical=False) does (see DESIGN.md for
// why no such library is wired), so cpuCount stands in for both the
// logical and physical figures, matching the original's own
// `cpu_physical_count = cpu_count` fallback path when physical detection
// fails.
func calculateOptimalConcurrency(cpuCount int, availMemGB, memUsagePercent, cpuPercent float64, dbPoolSize, dbMaxOverflow int) (combo, workers int) {
	cpuPhysical := float64(cpuCount)
	cpuLogical := float64(cpuCount)

	var cpuBased float64
	switch {
	case cpuPercent > 80:
		cpuBased = math.Max(2, cpuPhysical*0.5)
	case cpuPercent > 60:
		cpuBased = math.Max(4, cpuPhysical*0.75)
	default:
		cpuBased = math.Min(cpuLogical*2, cpuPhysical*1.5)
	}
	cpuBased = math.Max(2, cpuBased)

	const reservedMemGB = 2.0
	usableMemGB := math.Max(1.0, availMemGB-reservedMemGB)
	switch {
	case memUsagePercent > 80:
		usableMemGB *= 0.5
	case memUsagePercent > 60:
		usableMemGB *= 0.7
	}
	const memPerTaskGB = 0.2
	actualMemPerTaskGB := memPerTaskGB * 1.5
	memBased := math.Max(2, math.Floor(usableMemGB/actualMemPerTaskGB))

	maxDBConnections := dbPoolSize + dbMaxOverflow
	const connectionsPerTask = 2.5
	dbBased := math.Max(2, math.Floor(float64(maxDBConnections)/connectionsPerTask/2))

	totalMax := math.Min(cpuBased, math.Min(memBased, dbBased))

	var comboF, workersF float64
	switch {
	case totalMax <= 6:
		comboF = math.Max(2, math.Min(4, cpuPhysical))
		workersF = 2
	case totalMax <= 12:
		comboF = math.Max(3, math.Min(6, cpuPhysical))
		workersF = 2
	case totalMax <= 24:
		comboF = math.Max(4, math.Min(8, cpuPhysical*1.2))
		workersF = 3
	default:
		comboF = math.Max(6, math.Min(12, cpuPhysical*1.5))
		workersF = 4
	}

	estimatedTotal := comboF * workersF
	if estimatedTotal > totalMax {
		ratio := totalMax / estimatedTotal
		comboF = math.Max(2, comboF*ratio)
		workersF = math.Max(2, workersF*ratio)
	}

	return int(comboF), int(workersF)
}

// readAvailableMemGB parses /proc/meminfo's MemAvailable line. On any
// failure (non-Linux, permission, missing file) it returns a conservative
// default rather than propagating an error — this is advisory sizing, not
// a hard requirement.
func readAvailableMemGB() float64 {
	const fallbackGB = 2.0
	kb, ok := readMeminfoField("MemAvailable:")
	if !ok {
		return fallbackGB
	}
	return float64(kb) / (1024 * 1024)
}

// readMemUsagePercent derives a percent-used figure from /proc/meminfo's
// MemTotal/MemAvailable, the closest stdlib-only analogue of
// psutil.virtual_memory().percent. Falls back to 50% (matching the
// original's own exception-path fallback) when unavailable.
func readMemUsagePercent() float64 {
	const fallbackPercent = 50.0
	total, ok := readMeminfoField("MemTotal:")
	if !ok || total == 0 {
		return fallbackPercent
	}
	avail, ok := readMeminfoField("MemAvailable:")
	if !ok {
		return fallbackPercent
	}
	used := total - avail
	if used < 0 {
		used = 0
	}
	return float64(used) / float64(total) * 100
}

// readCPUPercent approximates psutil.cpu_percent() from /proc/loadavg's
// 1-minute load average normalized by core count. Best effort: returns 0
// (the original's "CPU usage normal" branch) on any non-Linux host or
// read failure, rather than blocking on a real sampling window.
func readCPUPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	cpus := runtime.NumCPU()
	if cpus <= 0 {
		cpus = 1
	}
	pct := load1 / float64(cpus) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func readMeminfoField(prefix string) (int64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}
