// Package fleet drives the fleet management command line on behalf of the
// dashboard. Every action is leader only and its outcome is recorded through
// the event bridge.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reactorboard/internal/core"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// Recorder is the event bridge.
type Recorder interface {
	Log(ctx context.Context, msg any, task string, level domain.Level) error
}

// Config names the commands and bounds their runtime.
type Config struct {
	// Command is the fleet-wide tool, pios by default.
	Command string
	// PluginCommand lists plugins on this unit, pio by default.
	PluginCommand string
	Timeout       time.Duration
}

// DefaultConfig returns the stock command names.
func DefaultConfig() Config {
	return Config{Command: "pios", PluginCommand: "pio", Timeout: 2 * time.Minute}
}

// CommandError reports a command that exited non-zero or failed to start.
type CommandError struct {
	Action   string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s exited with status %d", e.Action, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Controller issues fleet commands.
type Controller struct {
	gate     role.Gate
	runner   Runner
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	metrics  *core.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option { return func(c *Controller) { c.runner = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *core.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// NewController returns a controller using cfg. Zero fields take defaults.
func NewController(gate role.Gate, recorder Recorder, cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.PluginCommand == "" {
		cfg.PluginCommand = def.PluginCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	c := &Controller{gate: gate, runner: ExecRunner{}, recorder: recorder, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StopAll kills every job on every unit.
func (c *Controller) StopAll(ctx context.Context) error {
	_, err := c.run(ctx, "stop_all", c.cfg.Command, "kill", "--all-jobs", "-y")
	return err
}

// StopJob kills job on unit.
func (c *Controller) StopJob(ctx context.Context, job, unit string) error {
	if err := validArgs(map[string]string{"job": job, "unit": unit}); err != nil {
		return err
	}
	_, err := c.run(ctx, "stop_job", c.cfg.Command, "kill", job, "-y", "--units", unit)
	return err
}

// RunJob starts job on unit.
func (c *Controller) RunJob(ctx context.Context, job, unit string) error {
	if err := validArgs(map[string]string{"job": job, "unit": unit}); err != nil {
		return err
	}
	_, err := c.run(ctx, "run_job", c.cfg.Command, "run", job, "-y", "--units", unit)
	return err
}

// Reboot restarts unit.
func (c *Controller) Reboot(ctx context.Context, unit string) error {
	if err := validArgs(map[string]string{"unit": unit}); err != nil {
		return err
	}
	_, err := c.run(ctx, "reboot", c.cfg.Command, "reboot", "-y", "--units", unit)
	return err
}

// ListPlugins returns the installed plugins as reported by the plugin
// command's JSON output.
func (c *Controller) ListPlugins(ctx context.Context) (json.RawMessage, error) {
	res, err := c.run(ctx, "list_plugins", c.cfg.PluginCommand, "list-plugins", "--json")
	if err != nil {
		return nil, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return json.RawMessage("[]"), nil
	}
	if !json.Valid([]byte(out)) {
		return nil, &CommandError{Action: "list_plugins", Stdout: res.Stdout, Err: fmt.Errorf("invalid JSON output")}
	}
	return json.RawMessage(out), nil
}

// InstallPlugin installs name across the fleet.
func (c *Controller) InstallPlugin(ctx context.Context, name string) error {
	if err := validArgs(map[string]string{"plugin": name}); err != nil {
		return err
	}
	_, err := c.run(ctx, "install_plugin", c.cfg.Command, "install-plugin", name)
	return err
}

// UninstallPlugin removes name across the fleet.
func (c *Controller) UninstallPlugin(ctx context.Context, name string) error {
	if err := validArgs(map[string]string{"plugin": name}); err != nil {
		return err
	}
	_, err := c.run(ctx, "uninstall_plugin", c.cfg.Command, "uninstall-plugin", name)
	return err
}

func (c *Controller) run(ctx context.Context, action, name string, args ...string) (Result, error) {
	if err := c.gate.Require(action); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	line := name + " " + strings.Join(args, " ")
	res, err := c.runner.Run(ctx, name, args...)
	if err == nil && res.ExitCode == 0 {
		c.metrics.FleetCommand(action, true)
		c.record(ctx, fmt.Sprintf("%s succeeded", line), domain.LevelDebug)
		return res, nil
	}
	c.metrics.FleetCommand(action, false)
	cerr := &CommandError{Action: action, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	c.record(ctx, fmt.Sprintf("%s: %v\nstdout: %s\nstderr: %s", line, cerr,
		strings.TrimSpace(res.Stdout), strings.TrimSpace(res.Stderr)), domain.LevelError)
	return res, cerr
}

func (c *Controller) record(ctx context.Context, msg string, level domain.Level) {
	if c.recorder == nil {
		return
	}
	// The command has already run; a failed local write must not change its
	// reported outcome.
	if err := c.recorder.Log(context.WithoutCancel(ctx), msg, "fleet", level); err != nil {
		c.logger.Warn("record fleet command", zap.Error(err))
	}
}

func validArgs(args map[string]string) error {
	for field, v := range args {
		if strings.TrimSpace(v) == "" {
			return domain.ValidationError{Field: field, Reason: "required"}
		}
		if strings.HasPrefix(v, "-") || strings.ContainsAny(v, " \t\n") {
			return domain.ValidationError{Field: field, Reason: fmt.Sprintf("invalid value %q", v)}
		}
	}
	return nil
}
