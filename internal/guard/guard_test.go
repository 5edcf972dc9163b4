package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/logging"
)

func testValidator(cfg *config.Config) *Validator {
	return New(config.Static{Config: cfg}, logging.Discard())
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.BlockedCommands = []string{"sudo", "rm", "mkfs", "reboot", "chmod 777"}
	return &cfg
}

func TestValidateAllowsPlainCommands(t *testing.T) {
	v := testValidator(testConfig())

	for _, command := range []string{
		"ls -la",
		"echo hello",
		"cat /etc/hostname | head -1",
		"grep -r pattern . && echo done",
		"echo removal", // "rm" must not match inside a longer word
	} {
		assert.True(t, v.Validate(command), "command should be allowed: %q", command)
	}
}

func TestValidateDeniesBlockedCommands(t *testing.T) {
	v := testValidator(testConfig())

	for _, command := range []string{
		"sudo apt install x",
		"rm -rf /",
		"/usr/bin/sudo id", // path prefix must not dodge the entry
		"ls; rm -rf /",     // reachable behind ;
		"ls && sudo id",    // reachable behind &&
		"true || reboot",   // reachable behind ||
		"echo hi | sudo tee /etc/passwd",
		"echo hi\nreboot",          // newline smuggling
		"echo hi\x00; reboot",      // NUL smuggling
		"ls;;&&reboot",             // stacked separators
		"chmod 777 /etc/shadow",    // multi-word entry, substring match
		"find . -exec rm {} \\;",   // blocked token mid-command
	} {
		assert.False(t, v.Validate(command), "command should be denied: %q", command)
	}
}

func TestValidateFailsClosedOnConfigError(t *testing.T) {
	v := New(config.Static{Err: errors.New("disk on fire")}, logging.Discard())

	assert.False(t, v.Validate("ls"))
	assert.False(t, v.Validate(""))
}

func TestValidateEmptyBlocklistAllowsEverything(t *testing.T) {
	cfg := config.Defaults()
	cfg.BlockedCommands = nil
	v := testValidator(&cfg)

	assert.True(t, v.Validate("sudo rm -rf /"))
}

func TestValidateDoesNotMutateConfig(t *testing.T) {
	cfg := testConfig()
	before := len(cfg.BlockedCommands)

	v := testValidator(cfg)
	v.Validate("ls; sudo id")

	require.Len(t, cfg.BlockedCommands, before)
}
