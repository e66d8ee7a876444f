// Package seclog wraps the standard logger so that EnvPassthrough
// entries and target-forwarded secrets never land in plaintext in run
// logs.
//
// Trimmed down from packagemanager/security_logging.go: that file's
// redact-pattern list, rate-limit/auth-attempt event
// helpers and JSON-ish detail maps target an HTTP service's audit log
// and don't fit a single-process fuzzing supervisor, but its core
// idea, recognizing sensitive-looking keys and long token-shaped values
// and redacting rather than dropping the line entirely, is kept and
// retargeted at the two places secrets actually reach this engine's
// logs: -E KEY=VALUE passthrough and target stderr.
package seclog

import (
	"log"
	"strings"
)

// sensitiveKeyPatterns mirrors security_logging.go's redactPatterns
// list, trimmed to the subset relevant to environment variable names.
var sensitiveKeyPatterns = []string{
	"password", "passwd", "secret", "key", "token", "auth",
	"credential", "private", "api_key", "access_key",
}

// Logger wraps *log.Logger with redaction applied before every line is
// formatted, so callers never need to remember to sanitize at the call
// site.
type Logger struct {
	out *log.Logger
}

// New builds a Logger delegating to the standard library logger l.
func New(l *log.Logger) *Logger {
	if l == nil {
		l = log.Default()
	}

	return &Logger{out: l}
}

// Printf logs a formatted line, redacting any "-E KEY=VALUE"-shaped or
// long token-shaped substrings first.
func (l *Logger) Printf(format string, args ...any) {
	l.out.Printf(format, redactArgs(args)...)
}

func redactArgs(args []any) []any {
	out := make([]any, len(args))

	for i, a := range args {
		if s, ok := a.(string); ok {
			out[i] = RedactToken(s)
		} else {
			out[i] = a
		}
	}

	return out
}

// RedactEnv redacts the VALUE half of a "KEY=VALUE" environment entry
// when KEY looks sensitive (matches one of sensitiveKeyPatterns,
// case-insensitively), leaving ordinary passthrough entries like
// "LANG=en_US.UTF-8" untouched.
func RedactEnv(entry string) string {
	eq := strings.IndexByte(entry, '=')
	if eq < 0 {
		return entry
	}

	key, value := entry[:eq], entry[eq+1:]
	lowerKey := strings.ToLower(key)

	for _, pat := range sensitiveKeyPatterns {
		if strings.Contains(lowerKey, pat) {
			return key + "=[REDACTED]"
		}
	}

	if looksLikeToken(value) {
		return key + "=" + RedactToken(value)
	}

	return entry
}

// RedactEnvAll applies RedactEnv to every entry, for logging a target's
// full EnvPassthrough list at startup.
func RedactEnvAll(entries []string) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = RedactEnv(e)
	}

	return out
}

// RedactToken replaces any alphanumeric run longer than 20 characters in
// s with the placeholder "[REDACTED_TOKEN]", leaving every other
// character in place, so crash/stderr logs stay useful for debugging
// without leaking an API key or session token a fuzzed target happened
// to print.
func RedactToken(s string) string {
	var b strings.Builder

	run := 0

	for i := 0; i <= len(s); i++ {
		if i < len(s) && isAlphanumeric(s[i:i+1]) {
			run++
			continue
		}

		if run > 20 {
			b.WriteString("[REDACTED_TOKEN]")
		} else {
			b.WriteString(s[i-run : i])
		}

		run = 0

		if i < len(s) {
			b.WriteByte(s[i])
		}
	}

	return b.String()
}

func looksLikeToken(s string) bool {
	return len(s) > 20 && isAlphanumeric(s)
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}

	return true
}
