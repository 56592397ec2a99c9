package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScript(t *testing.T) {
	tests := map[string]struct {
		commands    []string
		allowErrors bool
		expScript   string
	}{
		"Commands should fail fast by default": {
			commands:  []string{"make build", "make test"},
			expScript: "#!/bin/sh\nset -eux\nmake build\nmake test\n",
		},
		"Allowing errors should drop the errexit flag": {
			commands:    []string{"flaky-check || true", "make test"},
			allowErrors: true,
			expScript:   "#!/bin/sh\nset -ux\nflaky-check || true\nmake test\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expScript, Script(tc.commands, tc.allowErrors))
		})
	}
}
