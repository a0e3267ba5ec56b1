//go:build !unix

package supervisor

import "os/exec"

// setProcessGroup はプロセスグループを持たない環境では既定の Process.Kill に任せます。
func setProcessGroup(cmd *exec.Cmd) {}
