package compiler

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"botarena/internal/worker/archive"
	"botarena/internal/worker/ident"
	"botarena/pkg/utils/logger"
)

// Result classifies one compile attempt. Failure is a normal outcome
// carrying diagnostics for the user, not an error.
type Result struct {
	Success     bool
	Language    string
	Diagnostics string

	// Archive holds the re-packed compiled tree on success.
	Archive []byte
}

// Driver normalizes a submitted archive and hands it to the language
// detector. All work happens under the compilation identity's group so the
// scratch directory stays removable through it.
type Driver struct {
	detector Detector
	identity ident.Identity
}

// NewDriver creates a compile driver running as the given identity.
func NewDriver(detector Detector, identity ident.Identity) *Driver {
	return &Driver{detector: detector, identity: identity}
}

// Compile unpacks the archive into scratchDir, builds it, and re-packs the
// result. Whatever goes wrong in between is captured as a compile failure.
// The scratch directory is always removed, as the compilation identity.
func (d *Driver) Compile(ctx context.Context, archiveData []byte, scratchDir string) Result {
	defer ident.RemoveAs(ctx, d.identity, scratchDir)

	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return failure(fmt.Sprintf("create scratch directory: %v", err))
	}
	if err := archive.Unpack(archiveData, scratchDir); err != nil {
		return failure(fmt.Sprintf("unpack archive: %v", err))
	}
	if err := archive.Flatten(scratchDir); err != nil {
		return failure(fmt.Sprintf("flatten archive: %v", err))
	}
	if err := archive.StripSymlinks(scratchDir); err != nil {
		return failure(fmt.Sprintf("strip symlinks: %v", err))
	}
	if err := ident.GiveOwnership(ctx, scratchDir, d.identity); err != nil {
		return failure(fmt.Sprintf("hand off to compile identity: %v", err))
	}

	language, diagnostics, err := d.detector.Detect(ctx, scratchDir)
	if err != nil {
		return failure(fmt.Sprintf("language detection: %v", err))
	}
	if diagnostics != "" {
		logger.Info(ctx, "compile failed",
			zap.String("language", language),
			zap.String("dir", scratchDir))
		return Result{Language: language, Diagnostics: diagnostics}
	}

	if err := ident.MakeGroupReadable(ctx, scratchDir); err != nil {
		return failure(fmt.Sprintf("mark group-readable: %v", err))
	}
	packed, err := archive.Pack(scratchDir)
	if err != nil {
		return failure(fmt.Sprintf("pack compiled tree: %v", err))
	}
	return Result{Success: true, Language: language, Archive: packed}
}

func failure(diagnostics string) Result {
	return Result{Diagnostics: diagnostics}
}
