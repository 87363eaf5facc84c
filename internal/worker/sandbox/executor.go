package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"botarena/internal/worker/archive"
	"botarena/internal/worker/compiler"
	"botarena/internal/worker/ident"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"
)

const (
	// Per-participant log scraping bounds.
	maxLogFiles   = 1
	maxLogBytes   = 50 * 1024
	runScriptName = "run.sh"
)

// Participant is one bot taking part in a single match.
type Participant struct {
	UserID              int64
	BotID               int64
	Username            string
	RequiresCompilation bool

	// Archive is the fetched bot archive.
	Archive []byte
}

// OutcomeKind classifies how match setup and execution ended.
type OutcomeKind int

const (
	// OutcomeOK means the engine ran to completion and produced output.
	// Participants may still have crashed mid-game; the output encodes it.
	OutcomeOK OutcomeKind = iota

	// OutcomeCompileFailure means a live participant failed its pre-match
	// compile; the match never started. Reported through the dedicated
	// compile-error path, not as a game result.
	OutcomeCompileFailure
)

// MatchOutcome is the result of one RunMatch call.
type MatchOutcome struct {
	Kind OutcomeKind

	// CompileFailures maps participant index to diagnostics when Kind is
	// OutcomeCompileFailure.
	CompileFailures map[int]string

	Output *EngineOutput
	Raw    []byte

	// ReplayData is the replay file content, read before teardown removes it.
	ReplayData []byte

	// Logs maps participant index to scraped bot log text.
	Logs map[int]string
}

// BotCompiler builds a live participant's source tree during match setup.
type BotCompiler interface {
	Compile(ctx context.Context, archiveData []byte, scratchDir string) compiler.Result
}

// Executor materializes sandbox slots and runs the match engine. One call
// is one blocking engine invocation; the engine owns turn sequencing.
type Executor struct {
	EnginePath string
	WorkRoot   string
	CgroupRoot string
	Limits     ResourceLimits
	Compiler   BotCompiler

	// InitPath locates the sandbox init helper each bot command execs
	// through. Empty falls back to a plain sudo launch.
	InitPath string

	// SeccompProfile is an optional syscall profile path the init helper
	// loads before handing control to the bot.
	SeccompProfile string

	// Host-touching operations are swappable in tests.
	runEngine     func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	giveOwnership func(ctx context.Context, dir string, id ident.Identity) error
	setupCgroup   func(root string, slot Slot, limits ResourceLimits) (string, func(), error)
	teardownSlot  func(ctx context.Context, slot Slot, dir string)
	sweep         func(ctx context.Context)
}

// NewExecutor creates a match executor.
func NewExecutor(enginePath, workRoot, cgroupRoot string, limits ResourceLimits, botCompiler BotCompiler) *Executor {
	return &Executor{
		EnginePath:    enginePath,
		WorkRoot:      workRoot,
		CgroupRoot:    cgroupRoot,
		Limits:        limits,
		Compiler:      botCompiler,
		runEngine:     runEngineProcess,
		giveOwnership: ident.GiveOwnership,
		setupCgroup:   SetupCgroup,
		teardownSlot: func(ctx context.Context, slot Slot, dir string) {
			ident.KillProcesses(ctx, slot.Identity)
			ident.RemoveAs(ctx, slot.Identity, dir)
		},
		sweep: ident.SweepConfined,
	}
}

// RunMatch sets up one directory per participant, launches the engine once
// with every bot command, and tears everything down regardless of outcome.
func (e *Executor) RunMatch(ctx context.Context, params map[string]interface{}, participants []Participant, slots []Slot) (*MatchOutcome, error) {
	if len(participants) == 0 {
		return nil, appErr.ValidationError("participants", "required")
	}
	if len(slots) != len(participants) {
		return nil, appErr.Newf(appErr.SandboxSetupFailed, "have %d slots for %d participants", len(slots), len(participants))
	}

	dirs := make([]string, len(participants))
	var cleanups []func()
	defer func() {
		for i := range dirs {
			if dirs[i] == "" {
				continue
			}
			e.teardownSlot(ctx, slots[i], dirs[i])
		}
		for _, cleanup := range cleanups {
			cleanup()
		}
		CleanWorkRoot(ctx, e.WorkRoot)
		e.sweep(ctx)
	}()

	commands := make([]string, len(participants))
	for i, participant := range participants {
		dir := filepath.Join(e.WorkRoot, participantDirName(participant))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "create participant directory failed")
		}
		dirs[i] = dir

		if err := archive.Unpack(participant.Archive, dir); err != nil {
			return nil, appErr.Wrap(err, appErr.SandboxSetupFailed)
		}
		if err := archive.Flatten(dir); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "flatten participant archive failed")
		}
		if err := archive.StripSymlinks(dir); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "strip symlinks failed")
		}

		if participant.RequiresCompilation {
			outcome, err := e.compileInPlace(ctx, i, participant, dir)
			if err != nil {
				return nil, err
			}
			if outcome != nil {
				return outcome, nil
			}
		}

		if err := MakeExecutable(filepath.Join(dir, runScriptName)); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "mark start script executable failed")
		}

		var specPath string
		if e.InitPath != "" {
			path, err := WriteLaunchSpec(dir, slots[i], e.Limits, e.SeccompProfile)
			if err != nil {
				return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "write launch spec failed")
			}
			specPath = path
		}
		if err := e.giveOwnership(ctx, dir, slots[i].Identity); err != nil {
			return nil, appErr.Wrap(err, appErr.SandboxSetupFailed)
		}

		_, cleanup, err := e.setupCgroup(e.CgroupRoot, slots[i], e.Limits)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "confinement group setup failed")
		}
		cleanups = append(cleanups, cleanup)

		commands[i] = BuildBotCommand(slots[i], dir, e.InitPath, specPath)
	}

	args := engineArgs(params, commands)
	logger.Info(ctx, "launching engine",
		zap.String("engine", e.EnginePath),
		zap.Int("participants", len(participants)))

	raw, err := e.runEngine(ctx, e.WorkRoot, e.EnginePath, args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineFailed, "engine run failed")
	}
	output, err := ParseEngineOutput(raw)
	if err != nil {
		return nil, err
	}

	var replayData []byte
	if output.Replay != "" {
		replayData, err = os.ReadFile(filepath.Join(e.WorkRoot, filepath.Base(output.Replay)))
		if err != nil {
			logger.Warn(ctx, "replay file missing after engine run",
				zap.String("replay", output.Replay), zap.Error(err))
			replayData = nil
		}
	}

	logs := make(map[int]string, len(dirs))
	for i, dir := range dirs {
		if text := scrapeLogs(dir); text != "" {
			logs[i] = text
		}
	}

	return &MatchOutcome{Kind: OutcomeOK, Output: output, Raw: raw, ReplayData: replayData, Logs: logs}, nil
}

// compileInPlace builds a live participant in a separate scratch directory
// and copies the compiled tree back over the original. A failed build
// short-circuits the whole match setup.
func (e *Executor) compileInPlace(ctx context.Context, index int, participant Participant, dir string) (*MatchOutcome, error) {
	if e.Compiler == nil {
		return nil, appErr.New(appErr.SandboxSetupFailed).WithMessage("compiler is not configured")
	}
	scratch := dir + "-compile"
	result := e.Compiler.Compile(ctx, participant.Archive, scratch)
	if !result.Success {
		return &MatchOutcome{
			Kind:            OutcomeCompileFailure,
			CompileFailures: map[int]string{index: result.Diagnostics},
		}, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "clear participant directory failed")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "recreate participant directory failed")
	}
	if err := archive.Unpack(result.Archive, dir); err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxSetupFailed)
	}
	return nil, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// participantDirName disambiguates duplicate bots sharing one temp root.
func participantDirName(p Participant) string {
	name := unsafeNameChars.ReplaceAllString(p.Username, "_")
	return fmt.Sprintf("%d_%d_%s", p.UserID, p.BotID, name)
}

func engineArgs(params map[string]interface{}, commands []string) []string {
	args := []string{"--results-as-json"}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--"+key, fmt.Sprint(params[key]))
	}
	return append(args, commands...)
}

// scrapeLogs concatenates at most maxLogFiles bot log files, each capped at
// maxLogBytes, from the participant directory.
func scrapeLogs(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	if len(matches) > maxLogFiles {
		matches = matches[:maxLogFiles]
	}
	var buf bytes.Buffer
	for _, match := range matches {
		file, err := os.Open(match)
		if err != nil {
			continue
		}
		fmt.Fprintf(&buf, "=== %s ===\n", filepath.Base(match))
		_, _ = buf.ReadFrom(io.LimitReader(file, maxLogBytes))
		buf.WriteByte('\n')
		_ = file.Close()
	}
	return buf.String()
}

func runEngineProcess(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
