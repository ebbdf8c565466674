package txn

import (
	"context"
	"os/exec"
	"strings"
)

// serviceUnitDir is where packaged systemd units land.
const serviceUnitDir = "/usr/lib/systemd/system/"

// initSystemDetected reports whether a running init system this engine
// knows how to talk to is present. Only consulted for the default root:
// a --root install is an offline tree with nothing to reload.
func initSystemDetected() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// refreshServices tells the init system about unit files a transaction
// just added or removed. Failure is logged and ignored: the package itself is already correctly installed.
func (e *Engine) refreshServices(ctx context.Context, paths []string) {
	if !e.cfg.IsDefaultRoot() || !initSystemDetected() {
		return
	}
	touched := false
	for _, p := range paths {
		if strings.HasPrefix(p, serviceUnitDir) && strings.HasSuffix(p, ".service") {
			touched = true
			break
		}
	}
	if !touched {
		return
	}
	if out, err := exec.CommandContext(ctx, "systemctl", "daemon-reload").CombinedOutput(); err != nil {
		e.logger.Warn("systemctl daemon-reload failed", "error", err, "output", string(out))
	}
}
