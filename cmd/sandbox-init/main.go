//go:build linux && cgo

package main

// sandbox-init is the last hop before untrusted bot code runs. It reads the
// launch spec the worker wrote next to the bot, drops to the slot's
// unprivileged identity, applies resource limits and the optional seccomp
// profile, then replaces itself with the bot's start script. It must be
// invoked by a process that already placed it inside the slot's confinement
// group.

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return fmt.Errorf("usage: %s <launch-spec.json>", os.Args[0])
	}
	req, err := decodeRequest(os.Args[1])
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	uid, gid, err := resolveIdentity(req.User, req.Group)
	if err != nil {
		return err
	}

	if err := os.Chdir(req.BotDir); err != nil {
		return fmt.Errorf("chdir bot dir: %w", err)
	}
	if err := applyRlimits(req.Limits); err != nil {
		return err
	}
	if err := redirectIO(req); err != nil {
		return err
	}
	if err := dropIdentity(uid, gid); err != nil {
		return err
	}
	if req.SeccompProfile != "" {
		if err := applySeccomp(req.SeccompProfile); err != nil {
			return err
		}
	}

	env := buildEnv(req.Env)
	os.Clearenv()
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if err := os.Setenv(parts[0], parts[1]); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}

	cmd := req.Cmd
	if len(cmd) == 0 {
		cmd = []string{"./run.sh"}
	}
	cmdPath, err := exec.LookPath(cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, cmd, env)
}

func decodeRequest(path string) (launchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return launchRequest{}, fmt.Errorf("read launch spec: %w", err)
	}
	var req launchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return launchRequest{}, fmt.Errorf("decode launch spec: %w", err)
	}
	return req, nil
}

func validateRequest(req launchRequest) error {
	if req.BotDir == "" {
		return fmt.Errorf("bot dir is required")
	}
	if req.User == "" {
		return fmt.Errorf("unprivileged user is required")
	}
	return nil
}

// resolveIdentity maps the slot's user and group names to numeric ids and
// refuses anything that would keep root privileges.
func resolveIdentity(userName, groupName string) (int, int, error) {
	u, err := user.Lookup(userName)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %s: %w", userName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid %s: %w", u.Uid, err)
	}
	gidStr := u.Gid
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup group %s: %w", groupName, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid %s: %w", gidStr, err)
	}
	if uid <= 0 || gid <= 0 {
		return 0, 0, fmt.Errorf("identity %s:%s resolves to a privileged id", userName, groupName)
	}
	return uid, gid, nil
}

// dropIdentity switches to the slot's bot user permanently. Supplementary
// groups are cleared first so the bot cannot reach files through groups
// inherited from the worker.
func dropIdentity(uid, gid int) error {
	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("set groups: %w", err)
	}
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("set gid: %w", err)
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("set uid: %w", err)
	}
	return nil
}

func applyRlimits(limits resourceLimit) error {
	if limits.CPUSeconds > 0 {
		val := uint64(limits.CPUSeconds)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if limits.OutputMB > 0 {
		bytes := uint64(limits.OutputMB * 1024 * 1024)
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if limits.StackMB > 0 {
		bytes := uint64(limits.StackMB * 1024 * 1024)
		if err := unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit stack: %w", err)
		}
	}
	if limits.PIDs > 0 {
		val := uint64(limits.PIDs)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nproc: %w", err)
		}
	}
	return nil
}

// redirectIO wires the bot's streams. Stdin and stdout carry the engine
// protocol and stay attached to the inherited pipes; stderr goes to the
// bot's log file when one is named.
func redirectIO(req launchRequest) error {
	if req.StderrPath == "" {
		return nil
	}
	stderrFile, err := os.OpenFile(req.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}
	if err := unix.Dup2(int(stderrFile.Fd()), int(os.Stderr.Fd())); err != nil {
		return fmt.Errorf("dup stderr: %w", err)
	}
	return stderrFile.Close()
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Profiles may list syscalls this kernel does not know.
				continue
			}
			if err := filter.AddRuleExact(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

// launchRequest mirrors the spec the worker's executor writes next to each
// bot directory.
type launchRequest struct {
	BotDir         string        `json:"bot_dir"`
	Cmd            []string      `json:"cmd"`
	Env            []string      `json:"env"`
	User           string        `json:"user"`
	Group          string        `json:"group"`
	StderrPath     string        `json:"stderr_path"`
	SeccompProfile string        `json:"seccomp_profile"`
	Limits         resourceLimit `json:"limits"`
}

type resourceLimit struct {
	CPUSeconds int64 `json:"cpu_seconds"`
	StackMB    int64 `json:"stack_mb"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}
