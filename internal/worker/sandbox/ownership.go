package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"botarena/pkg/utils/logger"
)

// MakeExecutable marks the participant's start script runnable.
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s failed: %w", path, err)
	}
	return os.Chmod(path, info.Mode().Perm()|0111)
}

// CleanWorkRoot removes stray replay and log files left in the working root
// after a match.
func CleanWorkRoot(ctx context.Context, root string) {
	for _, pattern := range []string{"*.log", "*.hlt", "*.replay"} {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			continue
		}
		for _, match := range matches {
			if err := os.Remove(match); err != nil {
				logger.Warn(ctx, "remove stray file failed",
					zap.String("file", match), zap.Error(err))
			}
		}
	}
}
