// Package pid guards against two daemons sharing one configuration.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/eegpipe/internal/errors"
)

const defaultPIDFile = "eegpipe.pid"

// Path returns path, or the default PID file in the temp directory when
// path is empty.
func Path(path string) string {
	if path == "" {
		return filepath.Join(os.TempDir(), defaultPIDFile)
	}
	return path
}

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning if the file names a live process. A stale or
// unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()
	path = Path(path)

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid != os.Getpid() && alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, struct {
				PID  int
				Path string
			}{pid, path})
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file at path if present.
func Remove(path string) error {
	if err := os.Remove(Path(path)); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
