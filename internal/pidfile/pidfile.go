// Package pidfile implements PID-file lifecycle management (§4.12, §6): a
// second instance reads an existing PID file and probes liveness with
// unix.Kill(pid, 0) before deciding whether to proceed.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when an existing PID file names a
// live process.
var ErrAlreadyRunning = fmt.Errorf("pidfile: another instance is already running")

// Acquire checks path for a stale or live PID file, then writes the current
// process's PID to it. A missing file, an unparseable file, or a file
// naming a dead process (ESRCH) are all treated as "safe to continue"; a
// live process (nil error or EPERM from Kill) aborts with ErrAlreadyRunning.
func Acquire(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if alive(pid) {
				return fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, pid, path)
			}
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Release removes the PID file on clean exit.
func Release(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// alive probes a PID with signal 0: ESRCH means not running (stale), nil or
// EPERM means a live process still holds that PID.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
