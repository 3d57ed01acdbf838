package stealth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvasionsScriptEmbedded(t *testing.T) {
	assert.NotEmpty(t, EvasionsJS, "evasions.js must be embedded at build time")
}

func TestEvasionsScriptCoversKnownSignals(t *testing.T) {
	// The script must at minimum address the classic automation tells.
	for _, signal := range []string{
		"webdriver",
		"plugins",
		"languages",
		"permissions",
		"window.chrome",
	} {
		assert.True(t, strings.Contains(EvasionsJS, signal),
			"evasions script should handle %q", signal)
	}
}

func TestEvasionsScriptIsGuarded(t *testing.T) {
	// Every block runs under the guard helper so a single failure cannot
	// abort the remaining evasions.
	assert.Contains(t, EvasionsJS, "guard(")
}
