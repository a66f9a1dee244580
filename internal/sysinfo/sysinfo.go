// Package sysinfo discovers the CPU/NUMA topology and container CPU
// quotas the engine and scheduler size their worker pools against, and
// pins worker goroutines to specific CPUs when the platform supports it.
//
// Platform affinity pinning lives in affinity_linux.go / affinity_other.go,
// following internal/scanner's stat_unix.go/stat_other.go //go:build split
// for platform-specific syscall access.
package sysinfo

import (
	"bufio"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Node describes one NUMA node: its id, the CPUs it owns, and (when
// available from sysfs) its total/free memory in bytes.
type Node struct {
	ID          int
	CPUs        []int
	MemoryTotal uint64
	MemoryFree  uint64
}

// Topology is the detected NUMA layout of the current host.
type Topology struct {
	Nodes      []Node
	TotalCPUs  int
	IsNUMA     bool // true iff more than one node was found
}

const sysNodeDir = "/sys/devices/system/node"

// DetectTopology reads /sys/devices/system/node; on platforms or
// containers where that path is absent, it falls back to one synthetic
// node spanning runtime.NumCPU().
func DetectTopology() Topology {
	entries, err := os.ReadDir(sysNodeDir)
	if err != nil {
		return fallbackTopology()
	}

	var nodes []Node
	total := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		nodePath := sysNodeDir + "/" + name
		cpus := readNodeCPUs(nodePath)
		memTotal, memFree := readNodeMemory(nodePath)
		nodes = append(nodes, Node{ID: id, CPUs: cpus, MemoryTotal: memTotal, MemoryFree: memFree})
		total += len(cpus)
	}

	if len(nodes) == 0 {
		return fallbackTopology()
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return Topology{Nodes: nodes, TotalCPUs: total, IsNUMA: len(nodes) > 1}
}

func fallbackTopology() Topology {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return Topology{Nodes: []Node{{ID: 0, CPUs: cpus}}, TotalCPUs: n, IsNUMA: false}
}

func readNodeCPUs(nodePath string) []int {
	data, err := os.ReadFile(nodePath + "/cpulist")
	if err != nil {
		return nil
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

func readNodeMemory(nodePath string) (total, free uint64) {
	f, err := os.Open(nodePath + "/meminfo")
	if err != nil {
		return 0, 0
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// "Node 0 MemTotal:       16384000 kB"
		if len(fields) < 4 {
			continue
		}
		val, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			continue
		}
		kb := val * 1024
		switch {
		case strings.HasPrefix(fields[2], "MemTotal"):
			total = kb
		case strings.HasPrefix(fields[2], "MemFree"):
			free = kb
		}
	}
	return total, free
}

// parseCPUList parses a Linux cpulist string such as "0-3,8,10-11" into
// the individual CPU ids.
func parseCPUList(s string) []int {
	var cpus []int
	if s == "" {
		return cpus
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, err1 := strconv.Atoi(part[:i])
			hi, err2 := strconv.Atoi(part[i+1:])
			if err1 != nil || err2 != nil || hi < lo {
				continue
			}
			for c := lo; c <= hi; c++ {
				cpus = append(cpus, c)
			}
			continue
		}
		if c, err := strconv.Atoi(part); err == nil {
			cpus = append(cpus, c)
		}
	}
	return cpus
}

// WorkerCPUs returns up to numWorkers CPU ids drawn round-robin across
// nodes, proportionally distributing workers the way a NUMA-aware pool
// should.
func (t Topology) WorkerCPUs(numWorkers int) []int {
	if numWorkers <= 0 || len(t.Nodes) == 0 {
		return nil
	}
	var all []int
	for i := 0; ; i++ {
		added := false
		for _, n := range t.Nodes {
			if i < len(n.CPUs) {
				all = append(all, n.CPUs[i])
				added = true
				if len(all) == numWorkers {
					return all
				}
			}
		}
		if !added {
			break
		}
	}
	return all
}

// ReadCgroupAllowedCPUs parses /proc/self/status's Cpus_allowed_list, the
// set of CPUs this process is actually permitted to run on — narrower
// than the host's full CPU set inside a container with a cpuset cgroup.
// Falls back to 0..runtime.NumCPU() if the file or field is absent.
func ReadCgroupAllowedCPUs() []int {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return fallbackCPUs()
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Cpus_allowed_list:") {
			list := strings.TrimSpace(strings.TrimPrefix(line, "Cpus_allowed_list:"))
			if cpus := parseCPUList(list); len(cpus) > 0 {
				return cpus
			}
		}
	}
	return fallbackCPUs()
}

func fallbackCPUs() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// ContainerCPUQuota reads the fractional CPU quota cgroup v2 or v1
// imposes on this process (e.g. 2.5 meaning two and a half cores). Returns
// (0, false) when no quota is set or the cgroup files are absent/unlimited.
func ContainerCPUQuota() (float64, bool) {
	if q, ok := readCgroupV2Quota(); ok {
		return q, true
	}
	return readCgroupV1Quota()
}

func readCgroupV2Quota() (float64, bool) {
	data, err := os.ReadFile("/sys/fs/cgroup/cpu.max")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) != 2 {
		return 0, false
	}
	if fields[0] == "max" {
		return 0, false
	}
	quota, err1 := strconv.ParseFloat(fields[0], 64)
	period, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || period <= 0 {
		return 0, false
	}
	return quota / period, true
}

func readCgroupV1Quota() (float64, bool) {
	quotaData, err1 := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_quota_us")
	periodData, err2 := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_period_us")
	if err1 != nil || err2 != nil {
		return 0, false
	}
	quota, err1 := strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	period, err2 := strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	if err1 != nil || err2 != nil || quota < 0 || period <= 0 {
		return 0, false
	}
	return float64(quota) / float64(period), true
}

// AvailableCPUs returns the effective worker count: the cgroup CPU quota
// (rounded up), if set, otherwise runtime.NumCPU().
func AvailableCPUs() int {
	if quota, ok := ContainerCPUQuota(); ok {
		n := int(quota)
		if float64(n) < quota {
			n++
		}
		if n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// WorkerPinner pins the calling goroutine's backing OS thread to a chosen
// CPU from a fixed set, using runtime.LockOSThread for anything touching
// thread-local OS state.
type WorkerPinner struct {
	CPUs []int
}

// NewWorkerPinner builds a pinner over the cgroup-allowed CPU set.
func NewWorkerPinner() *WorkerPinner {
	return &WorkerPinner{CPUs: ReadCgroupAllowedCPUs()}
}

// NewWorkerPinnerFromTopology builds a pinner over numWorkers CPUs spread
// across t's NUMA nodes.
func NewWorkerPinnerFromTopology(t Topology, numWorkers int) *WorkerPinner {
	return &WorkerPinner{CPUs: t.WorkerCPUs(numWorkers)}
}

// NumCPUs reports how many CPUs this pinner can assign.
func (p *WorkerPinner) NumCPUs() int { return len(p.CPUs) }

// PinWorker locks the calling goroutine to its own OS thread and pins that
// thread to CPUs[workerIndex % len(CPUs)]. Must be the first call made on
// a dedicated worker goroutine; a no-op, returning nil, on platforms
// pinToCPU does not support.
func (p *WorkerPinner) PinWorker(workerIndex int) error {
	if len(p.CPUs) == 0 {
		return nil
	}
	runtime.LockOSThread()
	cpu := p.CPUs[workerIndex%len(p.CPUs)]
	return pinToCPU(cpu)
}
