package evolve

import (
	"regexp"
	"strings"
)

// Sanitizer runs a fixed battery of static checks over a generated script
// before anything is executed. It is a best-effort gate: it proves the
// absence of known bad patterns, not the absence of harm.
type Sanitizer struct {
	rules []policyRule
}

type policyRule struct {
	name    string
	pattern *regexp.Regexp
}

// destructive patterns: recursive deletion of the root, home or working
// directory, deletion of the current agent, and git history destruction.
var destructiveRules = []policyRule{
	{"recursive delete of root", regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)[a-zA-Z]*\s+("?/"?|/\*)(\s|$)`)},
	{"recursive delete of home", regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*r[a-zA-Z]*\s+("?~"?|\$HOME)`)},
	{"recursive delete of working directory", regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*r[a-zA-Z]*\s+("?\."?|\./\*|\*)(\s|$)`)},
	{"deletes the current agent", regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*"?` + CurrentAgentPlaceholder + `"?(\s|$)`)},
	{"git history destruction", regexp.MustCompile(`git\s+(push\s+[^\n]*--force|push\s+-f\b|filter-branch|reset\s+--hard\s+[^\n]*origin)`)},
	{"wipes the git directory", regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*r[a-zA-Z]*\s+[^\n]*\.git(\s|/|$)`)},
	{"recursive chmod or chown on root", regexp.MustCompile(`(chmod|chown)\s+(-[a-zA-Z]*\s+)*-R\s+[^\n]*\s+/(\s|$)`)},
	{"overwrites a raw device", regexp.MustCompile(`dd\s+[^\n]*of=/dev/(sd|nvme|vd|hd)`)},
	{"filesystem format", regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`)},
}

// secret-leak patterns: credential-looking literals assigned in place of an
// environment lookup.
var secretRules = []policyRule{
	{"inline OpenAI key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
	{"inline GitHub token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)},
	{"credential literal assignment", regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*=\s*["'][A-Za-z0-9+/_-]{16,}["']`)},
}

// remote-code patterns: fetching code over the network and executing it.
var remoteCodeRules = []policyRule{
	{"remote code piped to shell", regexp.MustCompile(`(curl|wget)\s+[^\n|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`)},
	{"remote code via eval", regexp.MustCompile(`eval\s+[^\n]*\$\((curl|wget)\b`)},
	{"remote script download and execute", regexp.MustCompile(`(ba|z|da)?sh\s+<\((curl|wget)\b`)},
}

// NewSanitizer creates a sanitizer with the full rule battery.
func NewSanitizer() *Sanitizer {
	rules := make([]policyRule, 0, len(destructiveRules)+len(secretRules)+len(remoteCodeRules))
	rules = append(rules, destructiveRules...)
	rules = append(rules, secretRules...)
	rules = append(rules, remoteCodeRules...)
	return &Sanitizer{rules: rules}
}

// Sanitize checks the script body and returns it unchanged when clean. The
// check is deterministic: the same script always yields the same verdict.
func (s *Sanitizer) Sanitize(script string) (string, error) {
	if !strings.Contains(script, CurrentAgentPlaceholder) {
		return "", &PolicyViolation{Rule: "script does not reference " + CurrentAgentPlaceholder}
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, rule := range s.rules {
			if rule.pattern.MatchString(trimmed) {
				return "", &PolicyViolation{Rule: rule.name, Line: trimmed}
			}
		}
	}
	return script, nil
}
