// Package process starts the replacement process and schedules removal of
// the replaced artifact once the current process has exited.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Spawner starts a new process that shares this process's terminal
type Spawner struct {
	start func(cmd *exec.Cmd) error
	log   *log.Logger
}

// NewSpawner creates a spawner
func NewSpawner(logger *log.Logger) *Spawner {
	if logger == nil {
		logger = log.Default()
	}
	return &Spawner{
		start: func(cmd *exec.Cmd) error { return cmd.Start() },
		log:   logger.WithPrefix("process"),
	}
}

// Spawn starts command in workDir with inherited standard streams and
// environment. It does not wait for the process.
func (s *Spawner) Spawn(command []string, workDir string) (int, error) {
	if len(command) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	s.log.Info("Starting process", "cmd", strings.Join(command, " "), "dir", workDir)

	if err := s.start(cmd); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
		cmd.Process.Release()
	}
	s.log.Info("Process started", "pid", pid)
	return pid, nil
}

// DeferredRemover deletes a file some time after the current process is gone.
// The deletion runs in a detached OS command so it works even where the
// running executable cannot be deleted while in use.
type DeferredRemover struct {
	start func(cmd *exec.Cmd) error
	log   *log.Logger
}

// NewDeferredRemover creates a remover using the platform's shell
func NewDeferredRemover(logger *log.Logger) *DeferredRemover {
	if logger == nil {
		logger = log.Default()
	}
	return &DeferredRemover{
		start: func(cmd *exec.Cmd) error { return cmd.Start() },
		log:   logger.WithPrefix("process"),
	}
}

// Remove schedules deletion of path after delay and returns immediately
func (r *DeferredRemover) Remove(path string, delay time.Duration) error {
	args := removalCommand(path, delaySeconds(delay))
	cmd := exec.Command(args[0], args[1:]...)
	detach(cmd)

	r.log.Info("Scheduling removal", "path", path, "delay", delay)

	if err := r.start(cmd); err != nil {
		return fmt.Errorf("failed to schedule removal of %s: %w", path, err)
	}
	if cmd.Process != nil {
		cmd.Process.Release()
	}

	if err := removeOnReboot(path); err != nil {
		r.log.Debug("Reboot-time removal not registered", "path", path, "err", err)
	}
	return nil
}

func delaySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
