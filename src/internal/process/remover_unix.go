//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

func removalCommand(path string, delay int) []string {
	return []string{"sh", "-c", fmt.Sprintf("sleep %d && rm -f %s", delay, shellQuote(path))}
}

// detach puts cmd in its own session so it outlives our exit
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// removeOnReboot is a no-op; unix lets a running executable be unlinked
func removeOnReboot(string) error {
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
