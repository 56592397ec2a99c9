package sandbox

import "strings"

// Script builds the POSIX shell script for a task's commands. Commands echo
// before running. Without allowErrors the first failing command stops the
// script, with it every command runs and the script reports the exit code of
// the last one.
func Script(commands []string, allowErrors bool) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if allowErrors {
		b.WriteString("set -ux\n")
	} else {
		b.WriteString("set -eux\n")
	}
	for _, c := range commands {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}
