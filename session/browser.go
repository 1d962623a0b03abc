package session

import (
	"os/exec"
	"runtime"
)

// openBrowser opens url in the user's default browser. Failure is non-fatal:
// the authorization URL is always returned to the caller as well.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	default:
		cmd = "xdg-open"
	}
	args = append(args, url)

	return exec.Command(cmd, args...).Start()
}
