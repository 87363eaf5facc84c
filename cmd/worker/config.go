package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"botarena/internal/worker/sandbox"
	"botarena/pkg/utils/logger"
)

const (
	defaultHealthAddr        = "0.0.0.0:8090"
	defaultWorkRoot          = "/tmp/arena"
	defaultCgroupRoot        = "/sys/fs/cgroup"
	defaultMaxSlots          = 4
	defaultInitPath          = "/usr/local/bin/sandbox-init"
	defaultWatchdogThreshold = 18 * time.Minute
	defaultDetectTimeout     = 10 * time.Minute
	defaultShutdownTimeout   = 10 * time.Second
)

// SandboxConfig holds slot and confinement settings.
type SandboxConfig struct {
	WorkRoot     string `yaml:"workRoot"`
	CgroupRoot   string `yaml:"cgroupRoot"`
	MaxSlots     int    `yaml:"maxSlots"`
	CompileUser  string `yaml:"compileUser"`
	CompileGroup string `yaml:"compileGroup"`

	// InitPath locates the sandbox init helper bots are launched through.
	// Set it empty to fall back to a plain sudo launch.
	InitPath       string `yaml:"initPath"`
	SeccompProfile string `yaml:"seccompProfile"`

	Limits sandbox.ResourceLimits `yaml:"limits"`
}

// EngineConfig holds match engine settings.
type EngineConfig struct {
	Path          string        `yaml:"path"`
	DetectCommand string        `yaml:"detectCommand"`
	DetectTimeout time.Duration `yaml:"detectTimeout"`
}

// HealthConfig holds liveness endpoint settings.
type HealthConfig struct {
	Addr              string        `yaml:"addr"`
	WatchdogThreshold time.Duration `yaml:"watchdogThreshold"`
}

// AppConfig holds worker config.
type AppConfig struct {
	CoordinatorURL string        `yaml:"coordinatorURL"`
	Capabilities   []string      `yaml:"capabilities"`
	Logger         logger.Config `yaml:"logger"`
	Sandbox        SandboxConfig `yaml:"sandbox"`
	Engine         EngineConfig  `yaml:"engine"`
	Health         HealthConfig  `yaml:"health"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.CoordinatorURL == "" {
		return nil, fmt.Errorf("coordinator url is required")
	}
	if cfg.Engine.Path == "" {
		return nil, fmt.Errorf("engine path is required")
	}
	if cfg.Engine.DetectCommand == "" {
		return nil, fmt.Errorf("detect command is required")
	}
	if cfg.Engine.DetectTimeout == 0 {
		cfg.Engine.DetectTimeout = defaultDetectTimeout
	}
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = defaultWorkRoot
	}
	if cfg.Sandbox.CgroupRoot == "" {
		cfg.Sandbox.CgroupRoot = defaultCgroupRoot
	}
	if cfg.Sandbox.MaxSlots <= 0 {
		cfg.Sandbox.MaxSlots = defaultMaxSlots
	}
	// "none" opts out of the init helper on hosts that launch bots with
	// plain sudo.
	if cfg.Sandbox.InitPath == "" {
		cfg.Sandbox.InitPath = defaultInitPath
	} else if cfg.Sandbox.InitPath == "none" {
		cfg.Sandbox.InitPath = ""
	}
	if cfg.Sandbox.CompileUser == "" {
		cfg.Sandbox.CompileUser = "bot_compile"
	}
	if cfg.Sandbox.CompileGroup == "" {
		cfg.Sandbox.CompileGroup = cfg.Sandbox.CompileUser
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = defaultHealthAddr
	}
	if cfg.Health.WatchdogThreshold == 0 {
		cfg.Health.WatchdogThreshold = defaultWatchdogThreshold
	}
	return &cfg, nil
}

// mergeCapabilities folds the --task-type flag value into the configured
// capability tags. Duplicates are dropped so the task query stays minimal.
func mergeCapabilities(configured []string, taskTypes string) []string {
	merged := make([]string, 0, len(configured)+3)
	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		merged = append(merged, tag)
	}
	for _, tag := range configured {
		add(tag)
	}
	for _, tag := range strings.Split(taskTypes, ",") {
		add(tag)
	}
	return merged
}

func (s SandboxConfig) toLimits() sandbox.ResourceLimits {
	limits := sandbox.DefaultResourceLimits()
	if s.Limits.MemoryMB > 0 {
		limits.MemoryMB = s.Limits.MemoryMB
	}
	if s.Limits.CPUMax != "" {
		limits.CPUMax = s.Limits.CPUMax
	}
	if s.Limits.PIDs > 0 {
		limits.PIDs = s.Limits.PIDs
	}
	return limits
}
