package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
)

// BuildConfig controls how package builds are run.
//
// Build commands come from uploaded manifests and are not sanitized:
// packages are semi-trusted. The runner confines them to the package
// directory, an allowlisted environment, a wall-clock timeout, an optional
// address-space limit and a process group that is killed as a whole.
type BuildConfig struct {
	Tool        string        // npm, yarn, pnpm, or a path to a compatible executable
	Timeout     time.Duration // covers install and build together
	MemoryLimit int64         // bytes of address space, 0 = no limit
	KeepEnv     []string      // host variables passed through to the build
	MaxOutput   int           // bytes of combined output retained, 0 = 256KiB
}

// BuildResult describes a completed build stage.
type BuildResult struct {
	Built     bool   // false when the package has no manifest
	OutputDir string // discovered output directory, when Built
	Output    []byte
	Duration  time.Duration
}

// Builder detects buildable packages and runs their build.
type Builder struct {
	cfg BuildConfig
}

// NewBuilder creates a builder.
func NewBuilder(cfg BuildConfig) *Builder {
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 256 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Builder{cfg: cfg}
}

// Build installs dependencies and runs the build script in dir when dir
// has a manifest, then discovers the output directory. Packages without a
// manifest return a result with Built=false and no error.
func (b *Builder) Build(ctx context.Context, dir string) (*BuildResult, error) {
	ok, err := HasManifest(dir)
	if err != nil {
		return nil, storageErr("stat", ManifestFile, err)
	}
	if !ok {
		return &BuildResult{}, nil
	}

	m, err := ReadManifest(dir)
	if err != nil {
		return nil, &BuildFailure{Phase: "manifest", ExitCode: -1, Err: err}
	}
	if strings.TrimSpace(m.Scripts["build"]) == "" {
		return nil, &BuildFailure{Phase: "manifest", ExitCode: -1,
			Err: fmt.Errorf("%s declares no build script", ManifestFile)}
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out := &tailBuffer{max: b.cfg.MaxOutput}
	logger := logging.WithContext(ctx)

	for _, step := range []struct {
		phase string
		args  []string
	}{
		{"install", installArgs(b.cfg.Tool, dir)},
		{"build", buildArgs()},
	} {
		logger.Info("running build step",
			logging.String("phase", step.phase),
			logging.String("command", b.cfg.Tool+" "+strings.Join(step.args, " ")),
		)
		if err := b.run(runCtx, ctx, dir, step.phase, step.args, out); err != nil {
			metrics.RecordBuild(time.Since(start), false)
			return nil, err
		}
	}

	output, err := DiscoverOutput(dir)
	if err != nil {
		metrics.RecordBuild(time.Since(start), false)
		var bf *BuildFailure
		if errors.As(err, &bf) {
			bf.Output = out.Bytes()
		}
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.RecordBuild(elapsed, true)
	return &BuildResult{Built: true, OutputDir: output, Output: out.Bytes(), Duration: elapsed}, nil
}

func (b *Builder) run(runCtx, parent context.Context, dir, phase string, args []string, out *tailBuffer) error {
	cmd := exec.CommandContext(runCtx, b.cfg.Tool, args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(b.cfg.KeepEnv)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return &BuildFailure{Phase: phase, ExitCode: -1, Output: out.Bytes(), Err: err}
	}
	if err := applyLimits(cmd.Process.Pid, b.cfg.MemoryLimit); err != nil {
		logging.WithContext(parent).Warn("failed to apply build resource limits", logging.Err(err))
	}

	err := cmd.Wait()
	killGroup(cmd)
	if err == nil {
		return nil
	}

	failure := &BuildFailure{Phase: phase, ExitCode: -1, Output: out.Bytes(), Err: err}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		failure.TimedOut = true
		return failure
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}
	return failure
}

// buildEnv passes through only the allowlisted host variables.
func buildEnv(keep []string) []string {
	env := []string{"CI=true"}
	for _, name := range keep {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

// Bytes returns a copy of the retained output.
func (t *tailBuffer) Bytes() []byte {
	if t.truncated {
		return append([]byte("...[truncated]\n"), t.buf...)
	}
	return append([]byte(nil), t.buf...)
}
