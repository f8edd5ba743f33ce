// Package local runs backend scripts on the orchestrator host.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/telemetry"
)

const defaultWaitDelay = 2 * time.Second

// Config configures the local transport.
type Config struct {
	// Interpreter runs the script file, "bash" by default.
	Interpreter string `mapstructure:"interpreter"`

	// TempDir holds script files while they run. Empty uses os.TempDir.
	TempDir string `mapstructure:"temp_dir"`

	// WaitDelay bounds how long output of background jobs is collected after
	// the script exits or is killed.
	WaitDelay time.Duration `mapstructure:"wait_delay"`
}

// Transport runs scripts with a local interpreter.
type Transport struct {
	cfg    Config
	logger *telemetry.Logger
}

var _ orchestration.Transport = (*Transport)(nil)

// New creates a local transport.
func New(cfg Config, logger *telemetry.Logger) *Transport {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "bash"
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Transport{cfg: cfg, logger: logger.NewComponentLogger("transport.local")}
}

// Run writes the script to a temporary file and runs it. On context expiry the
// process is killed and the output captured so far is returned with ctx.Err().
func (t *Transport) Run(ctx context.Context, server orchestration.Server, script string) (*orchestration.ExecResult, error) {
	f, err := os.CreateTemp(t.cfg.TempDir, "orchestra-*.sh")
	if err != nil {
		return nil, fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close script file: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.cfg.Interpreter, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = t.cfg.WaitDelay

	logger := t.logger.WithServer(server.Name)
	logger.WithField("script", path).Debug("Running script")

	start := time.Now()
	runErr := cmd.Run()
	res := &orchestration.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		logger.WithError(ctx.Err()).Warn("Script interrupted")
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil, errors.Is(runErr, exec.ErrWaitDelay):
		res.ExitCode = cmd.ProcessState.ExitCode()
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("failed to run %s: %w", t.cfg.Interpreter, runErr)
	}

	logger.WithFields(map[string]interface{}{
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
	}).Debug("Script finished")
	return res, nil
}
