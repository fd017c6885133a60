package scriptrunner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Result describes one script run. It is only used for reporting.
type Result struct {
	ExitCode  int
	Duration  time.Duration
	Succeeded bool

	// Signal names the signal that killed the script, if any.
	Signal string
}

func (r *Runner) runCycle() {
	start := r.now()

	path, err := r.scriptPath()
	if err != nil {
		r.msg.Msg(LevelError, logPrefix+err.Error())
		return
	}
	if !usable(path) {
		r.msg.Msg(LevelError, fmt.Sprintf("%sfile '%s' not usable", logPrefix, path))
		return
	}

	res, err := r.execute(path, start)
	if err != nil {
		r.msg.Msg(LevelError, logPrefix+err.Error())
		return
	}
	switch {
	case res.Signal != "":
		r.msg.Msg(LevelError, fmt.Sprintf("%sfile '%s' got exit code of %d (signal: %s)", logPrefix, path, res.ExitCode, res.Signal))
	case !res.Succeeded:
		r.msg.Msg(LevelError, fmt.Sprintf("%sfile '%s' got exit code of %d", logPrefix, path, res.ExitCode))
	}
	if res.Duration > SlowRunThreshold {
		r.msg.Msg(LevelWarning, fmt.Sprintf("%sfile '%s' took %d ms to run", logPrefix, path, res.Duration.Milliseconds()))
	}
}

// scriptPath resolves <home>/bin/<script> to an absolute path.
func (r *Runner) scriptPath() (string, error) {
	home, err := r.homeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Abs(filepath.Join(home, binDir, r.scriptName))
}

// usable reports whether path exists and can be opened for reading.
func usable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// execute runs `sh -c path` and blocks until it exits. Stdout goes through an
// os.Pipe owned by the drain goroutine, so Wait never closes it under a
// reader that is still busy.
func (r *Runner) execute(path string, start time.Time) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic running %s: %v", path, p)
		}
	}()

	pr, pw, err := os.Pipe()
	if err != nil {
		return res, fmt.Errorf("stdout pipe: %w", err)
	}

	cmd := exec.Command("sh", "-c", path)
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return res, err
	}
	// The child has its own copy of the write end.
	_ = pw.Close()

	out := r.out
	r.spawn.Go("execbin.drain", func() { drain(pr, out) })

	werr := cmd.Wait()
	res.Duration = r.now().Sub(start)
	if werr != nil {
		var ee *exec.ExitError
		if !errors.As(werr, &ee) {
			return res, werr
		}
	}
	res.ExitCode, res.Signal = exitStatus(cmd.ProcessState)
	res.Succeeded = res.ExitCode == 0 && res.Signal == ""
	return res, nil
}

// exitStatus returns the exit code and, for a child killed by a signal
// (exit code -1), the signal's name.
func exitStatus(ps *os.ProcessState) (code int, signal string) {
	code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}
	return code, signal
}

// drain forwards lines from rc to w until EOF. Errors are swallowed; if a line
// is too long for the scanner the rest is discarded so the child never blocks
// on a full pipe.
func drain(rc io.ReadCloser, w io.Writer) {
	defer rc.Close()
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		_, _ = fmt.Fprintln(w, sc.Text())
	}
	_, _ = io.Copy(io.Discard, rc)
}
