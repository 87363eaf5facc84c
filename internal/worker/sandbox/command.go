package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const launchSpecName = "launch.json"

// LaunchSpec is the request handed to the sandbox init helper. It names
// the identity to drop to, the per-process limits, and where the bot's
// stderr goes; the helper reads it from the path given as its argument.
type LaunchSpec struct {
	BotDir         string       `json:"bot_dir"`
	Cmd            []string     `json:"cmd"`
	User           string       `json:"user"`
	Group          string       `json:"group"`
	StderrPath     string       `json:"stderr_path,omitempty"`
	SeccompProfile string       `json:"seccomp_profile,omitempty"`
	Limits         LaunchLimits `json:"limits"`
}

// LaunchLimits are the rlimits the init helper applies before exec.
type LaunchLimits struct {
	CPUSeconds int64 `json:"cpu_seconds"`
	StackMB    int64 `json:"stack_mb"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}

// WriteLaunchSpec writes the participant's launch request into its bot
// directory and returns the spec path. Written before ownership handoff so
// the confined identity can read it.
func WriteLaunchSpec(dir string, slot Slot, limits ResourceLimits, seccompProfile string) (string, error) {
	spec := LaunchSpec{
		BotDir:         dir,
		Cmd:            []string{"./" + runScriptName},
		User:           slot.Identity.User,
		Group:          slot.Identity.Group,
		StderrPath:     filepath.Join(dir, "stderr.log"),
		SeccompProfile: seccompProfile,
		Limits: LaunchLimits{
			CPUSeconds: limits.CPUSeconds,
			StackMB:    limits.StackMB,
			OutputMB:   limits.OutputMB,
			PIDs:       limits.PIDs,
		},
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode launch spec: %w", err)
	}
	path := filepath.Join(dir, launchSpecName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write launch spec: %w", err)
	}
	return path, nil
}

// BuildBotCommand constructs the launch command for one participant: enter
// the slot's confinement group, then hand off to the init helper, which
// applies rlimits and seccomp and drops to the slot identity before
// executing the start script. The engine receives this as a single
// positional argument per bot. Hosts without the helper installed fall
// back to a plain sudo launch under the same confinement group.
func BuildBotCommand(slot Slot, botDir, initPath, specPath string) string {
	if initPath == "" {
		return fmt.Sprintf(
			"cgexec -g cpu,memory,pids:%s sudo -H -u %s bash -c 'cd %s && ./run.sh'",
			slot.Cgroup, slot.Identity.User, botDir)
	}
	return fmt.Sprintf(
		"cgexec -g cpu,memory,pids:%s sudo -H %s %s",
		slot.Cgroup, initPath, specPath)
}
