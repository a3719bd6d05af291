//go:build windows

package shell

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	// #nosec G204
	cmd := exec.CommandContext(ctx, "cmd.exe")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
		// cmd.exe does its own quote parsing; pass the line through untouched.
		CmdLine: `cmd.exe /S /C "` + command + `"`,
	}
	return cmd
}

// killProcessGroup kills the process tree on Windows using taskkill.
func killProcessGroup(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func isNotFound(_ int, stderr string) bool {
	return strings.Contains(stderr, "is not recognized as an internal or external command")
}
