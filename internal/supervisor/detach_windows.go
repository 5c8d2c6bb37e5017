//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// applyDetachAttr puts a self-mutating child in its own process group so it
// survives the agent process being killed or replaced (§4.7 step 4).
func applyDetachAttr(cmd *exec.Cmd, selfMutating bool) {
	if !selfMutating {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
