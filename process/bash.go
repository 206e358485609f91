package process

import "fmt"

// BashCommand wraps a shell command string into an argv invoking bash.
// When exitOnError is true the
// script runs under `set -e` so a failing pipeline stage fails the
// whole step rather than being silently swallowed.
func BashCommand(bash, command string, exitOnError bool) []string {
	if exitOnError {
		command = fmt.Sprintf("set -e\n%s", command)
	}
	return []string{bash, "-c", command}
}
