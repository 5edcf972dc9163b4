// Package guard is the security gate in front of command execution. It is
// deliberately paranoid: any internal failure resolves to a denial.
package guard

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/cmdserve/cmdserve/internal/config"
)

// separatorPattern splits a command line on the tokens a POSIX shell treats
// as command separators: ;, &, |, and their doubled forms.
var separatorPattern = regexp.MustCompile(`[;&|]+`)

// sanitizer neutralizes characters that can smuggle a second command past a
// naive check. Both map to a plain space so the token list the shell would
// see for ;, &&, | and friends is unchanged.
var sanitizer = strings.NewReplacer("\n", " ", "\x00", " ")

// Validator decides whether a raw command string may be executed.
type Validator struct {
	provider config.Provider
	logger   *log.Logger
}

func New(provider config.Provider, logger *log.Logger) *Validator {
	return &Validator{provider: provider, logger: logger}
}

// Validate returns true only when every candidate command in the input clears
// the blocklist. A configuration read failure denies the command: the gate
// fails closed rather than guessing at policy.
func (v *Validator) Validate(command string) bool {
	cfg, err := v.provider.GetConfig()
	if err != nil {
		v.logger.Warn("validation failed closed: config unavailable", "err", err)
		return false
	}

	sanitized := sanitizer.Replace(command)

	for _, candidate := range separatorPattern.Split(sanitized, -1) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if entry, ok := matchBlocked(candidate, cfg.BlockedCommands); ok {
			v.logger.Info("command denied", "blocked_entry", entry, "command", command)
			return false
		}
	}

	return true
}

// matchBlocked reports whether candidate trips any blocklist entry. Single
// word entries match any whitespace token (and the basename of the first
// token, so "/usr/bin/sudo" cannot dodge a "sudo" entry); multi-word entries
// match as substrings.
func matchBlocked(candidate string, blocked []string) (string, bool) {
	fields := strings.Fields(candidate)
	if len(fields) == 0 {
		return "", false
	}
	base := filepath.Base(fields[0])

	for _, entry := range blocked {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.ContainsAny(entry, " \t") {
			if strings.Contains(candidate, entry) {
				return entry, true
			}
			continue
		}
		if base == entry {
			return entry, true
		}
		for _, field := range fields {
			if field == entry {
				return entry, true
			}
		}
	}
	return "", false
}
