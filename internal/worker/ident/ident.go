// Package ident manages the low-privilege OS identities that sandboxed
// work runs under: handing directory trees over to an identity, removing
// what it left behind, and reaping its processes.
package ident

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"botarena/pkg/utils/logger"
)

// Identity is an unprivileged OS user/group pair.
type Identity struct {
	User  string
	Group string
}

// GiveOwnership hands the directory tree to the identity's group with the
// setgid bit set, so files the sandboxed process creates stay group-owned
// and remain deletable through the identity.
func GiveOwnership(ctx context.Context, dir string, id Identity) error {
	if err := runCommand(ctx, "chown", "-R", fmt.Sprintf(":%s", id.Group), dir); err != nil {
		return fmt.Errorf("chown %s to group %s failed: %w", dir, id.Group, err)
	}
	if err := runCommand(ctx, "chmod", "-R", "2770", dir); err != nil {
		return fmt.Errorf("chmod %s failed: %w", dir, err)
	}
	return nil
}

// MakeGroupReadable opens the tree for group reads after a successful
// compile so the archive step can walk it.
func MakeGroupReadable(ctx context.Context, dir string) error {
	if err := runCommand(ctx, "chmod", "-R", "g+rX", dir); err != nil {
		return fmt.Errorf("chmod %s group-readable failed: %w", dir, err)
	}
	return nil
}

// RemoveAs deletes the directory as the sandboxed identity. The
// orchestrating process may not own files the sandbox created, so plain
// os.RemoveAll is not enough.
func RemoveAs(ctx context.Context, id Identity, dir string) {
	if dir == "" || dir == "/" {
		return
	}
	if err := runCommand(ctx, "sudo", "-H", "-u", id.User, "rm", "-rf", dir); err != nil {
		logger.Warn(ctx, "sandbox directory removal failed",
			zap.String("dir", dir), zap.String("user", id.User), zap.Error(err))
		// Best effort fallback for anything the orchestrator still owns.
		_ = os.RemoveAll(dir)
	}
}

// KillProcesses terminates every process still owned by the identity. The
// engine exiting does not guarantee a rogue bot process exited with it.
func KillProcesses(ctx context.Context, id Identity) {
	if err := runCommand(ctx, "sudo", "-H", "-u", id.User, "pkill", "-9", "-u", id.User); err != nil {
		// pkill exits 1 when nothing matched; that is the common case.
		logger.Debug(ctx, "no lingering sandbox processes",
			zap.String("user", id.User))
	}
}

// SweepConfined kills anything still running inside a confinement group,
// covering descendants that escaped their slot identity.
func SweepConfined(ctx context.Context) {
	if err := runCommand(ctx, "pkill", "-9", "-f", "cgexec"); err != nil {
		logger.Debug(ctx, "no lingering confined processes")
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(output))
	}
	return nil
}
