package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// argMax approximates the kernel's ARG_MAX, the ceiling on a single exec's
// combined argv+envp size. It is a var, not a const, so tests can shrink it
// to exercise the temporary-targets-file fallback without building a
// multi-megabyte argument list.
var argMax = 2 * 1024 * 1024

// Dispatcher runs a single matched hook's Action.Exec as a subprocess.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher. A nil logger falls back to slog.Default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Run executes hook's Action.Exec once against targets. If the action does
// not set NeedsTargets, targets are ignored entirely. When NeedsTargets is
// set, targets are passed as LPM_TARGETS/LPM_TARGET_COUNT and appended to
// argv, unless doing so would approach argMax, in which case Run falls back
// to a single invocation with the targets written to a temporary file named
// by LPM_TARGETS_FILE instead.
//
// A failure is fatal (returned as *HookError) only when Action.AbortOnFail
// is set; otherwise it is logged and Run returns nil so the caller
// continues with the next hook.
func (d *Dispatcher) Run(ctx context.Context, hook Hook, targets []string, env map[string]string) error {
	base := append([]string(nil), hook.Action.Exec...)
	if len(base) == 0 {
		return &HookError{Hook: hook.Name, Err: fmt.Errorf("hook has an empty Exec command")}
	}

	runEnv := environToMap(os.Environ())
	for k, v := range env {
		runEnv[k] = v
	}
	runEnv["LPM_HOOK_NAME"] = hook.Name

	argv := base
	if hook.Action.NeedsTargets {
		runEnv["LPM_TARGET_COUNT"] = strconv.Itoa(len(targets))
		runEnv["LPM_TARGETS"] = strings.Join(targets, "\n")
		argv = append(append([]string(nil), base...), targets...)
		if shouldUseTempTargets(argv, runEnv) {
			d.logger.Info("hook command line would exceed safe argument limits; using a temporary targets file",
				"hook", hook.Name)
			return d.runWithTempTargets(ctx, base, runEnv, hook, targets)
		}
	}

	if err := d.exec(ctx, argv, runEnv); err != nil {
		if hook.Action.NeedsTargets && errors.Is(err, syscall.E2BIG) {
			d.logger.Warn("hook command line exceeded argument limits; retrying with a temporary targets file",
				"hook", hook.Name)
			return d.runWithTempTargets(ctx, base, runEnv, hook, targets)
		}
		d.logger.Error("hook failed", "hook", hook.Name, "error", err)
		if hook.Action.AbortOnFail {
			return &HookError{Hook: hook.Name, Err: err}
		}
		return nil
	}
	return nil
}

// runWithTempTargets always reports its failures as fatal: once a hook has
// been spilled into targets-file mode there is no narrower argv to retry
// with, so AbortOnFail no longer gates the outcome.
func (d *Dispatcher) runWithTempTargets(ctx context.Context, base []string, env map[string]string, hook Hook, targets []string) error {
	f, err := os.CreateTemp("", "lpm-hook-targets-*")
	if err != nil {
		return &HookError{Hook: hook.Name, Err: fmt.Errorf("creating temporary targets file: %w", err)}
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil {
			d.logger.Warn("unable to clean up temporary targets file", "hook", hook.Name, "error", rmErr)
		}
	}()

	var buf bytes.Buffer
	for _, t := range targets {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return &HookError{Hook: hook.Name, Err: fmt.Errorf("writing temporary targets file: %w", err)}
	}
	if err := f.Close(); err != nil {
		return &HookError{Hook: hook.Name, Err: fmt.Errorf("closing temporary targets file: %w", err)}
	}

	fallback := make(map[string]string, len(env))
	for k, v := range env {
		if k == "LPM_TARGETS" {
			continue
		}
		fallback[k] = v
	}
	fallback["LPM_TARGETS_FILE"] = path
	fallback["LPM_TARGET_COUNT"] = strconv.Itoa(len(targets))

	if err := d.exec(ctx, base, fallback); err != nil {
		return &HookError{Hook: hook.Name, Err: err}
	}
	return nil
}

func (d *Dispatcher) exec(ctx context.Context, argv []string, env map[string]string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = flattenEnv(env)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w\n%s", err, out)
	}
	return nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func environToMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// shouldUseTempTargets leaves headroom below argMax: whichever is larger
// of (argMax - 4096) or 80% of argMax.
func shouldUseTempTargets(argv []string, env map[string]string) bool {
	if argMax <= 0 {
		return false
	}
	threshold := argMax - 4096
	if eighty := int(float64(argMax) * 0.8); eighty > threshold {
		threshold = eighty
	}
	return estimateCommandSize(argv, env) >= threshold
}

func estimateCommandSize(argv []string, env map[string]string) int {
	size := 0
	for _, v := range argv {
		size += len(v) + 1
	}
	for k, v := range env {
		size += len(k) + len(v) + 2
	}
	return size
}
