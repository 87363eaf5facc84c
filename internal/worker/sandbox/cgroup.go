package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResourceLimits confine one sandbox slot. Memory, CPU bandwidth, and the
// PID count go through cgroup v2; the rlimit fields are applied per process
// by the init helper at launch.
type ResourceLimits struct {
	MemoryMB int64  `yaml:"memoryMB"`
	CPUMax   string `yaml:"cpuMax"`
	PIDs     int64  `yaml:"pids"`

	CPUSeconds int64 `yaml:"cpuSeconds"`
	StackMB    int64 `yaml:"stackMB"`
	OutputMB   int64 `yaml:"outputMB"`
}

// DefaultResourceLimits returns the per-bot confinement used by the fleet.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryMB: 1024,
		CPUMax:   "100000 100000",
		PIDs:     64,
		OutputMB: 64,
	}
}

// SetupCgroup creates the slot's confinement group under root and applies
// its limits. The returned cleanup removes the group.
func SetupCgroup(root string, slot Slot, limits ResourceLimits) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	cgroupPath := filepath.Join(root, slot.Cgroup)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = killCgroup(cgroupPath)
		_ = os.RemoveAll(cgroupPath)
	}
	if err := applyCgroupLimits(cgroupPath, limits); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limits ResourceLimits) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryMB*1024*1024, 10)); err != nil {
			return err
		}
	}
	cpuMax := limits.CPUMax
	if cpuMax == "" {
		cpuMax = "max 100000"
	}
	return writeCgroupValue(cgroupPath, "cpu.max", cpuMax)
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

// WasOomKilled reports whether the group's memory controller killed a
// process during the match.
func WasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
