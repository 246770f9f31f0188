package services

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// process owns a started ffmpeg command. Wait is called exactly once, from
// the goroutine started here; everyone else observes done.
type process struct {
	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
	err     error
}

func newProcess(cmd *exec.Cmd, logFile *os.File) *process {
	p := &process{cmd: cmd, logFile: logFile, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if p.logFile != nil {
			p.logFile.Close()
		}
		close(p.done)
	}()
	return p
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitErr blocks until the process has exited.
func (p *process) exitErr() error {
	<-p.done
	return p.err
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// terminate asks the process to stop, waits up to grace, then kills it.
// Safe to call any number of times, including after exit.
func (p *process) terminate(grace time.Duration) {
	if p.exited() {
		return
	}

	if runtime.GOOS == "windows" {
		p.cmd.Process.Kill()
	} else {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	p.cmd.Process.Kill()
	select {
	case <-p.done:
	case <-time.After(grace):
	}
}
