//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// ping -n N waits roughly N-1 seconds; cmd has no portable sleep
func removalCommand(path string, delay int) []string {
	return []string{"cmd", "/c", fmt.Sprintf(`ping 127.0.0.1 -n %d > nul & del /f /q "%s"`, delay+1, path)}
}

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}

// removeOnReboot asks Windows to delete path at next boot in case the
// delayed del still finds it locked. Requires administrator rights.
func removeOnReboot(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(p, nil, windows.MOVEFILE_DELAY_UNTIL_REBOOT)
}
