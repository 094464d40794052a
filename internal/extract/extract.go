// Package extract pulls the signal out of noisy command output. Validation
// steps routinely dump thousands of lines; when one fails, the handful of
// lines that say why are what the user needs to see first.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// errorPatterns match lines worth surfacing from failed output. Heuristic
// on purpose: false positives cost a glance, false negatives hide the
// reason a step failed.
var errorPatterns = []*regexp.Regexp{
	// Compiler and test tooling diagnostics: file.go:12:3: message
	regexp.MustCompile(`^\s*\S+\.\w{1,12}:\d+(:\d+)?:`),
	regexp.MustCompile(`(?i)\b(error|errors)\b\s*[:\[]`),
	regexp.MustCompile(`(?i)^\s*(error|fatal|panic)[: ]`),
	regexp.MustCompile(`\bFAIL(ED)?\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`(?i)assert(ion)?\s*(failed|error)`),
	regexp.MustCompile(`^npm ERR!`),
	regexp.MustCompile(`✗`),
}

// skipPatterns veto matches that are noise in practice.
var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b0 (errors?|failures?)\b`),
	regexp.MustCompile(`(?i)no errors? found`),
}

// ErrorLines returns up to max lines of output that look like failure
// diagnostics, in order, deduplicated. An empty result means nothing
// matched, not that the output was fine.
func ErrorLines(output string, max int) []string {
	if max <= 0 {
		return nil
	}
	var lines []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		if !matchesAny(trimmed, errorPatterns) || matchesAny(trimmed, skipPatterns) {
			continue
		}
		seen[trimmed] = true
		lines = append(lines, trimmed)
		if len(lines) == max {
			break
		}
	}
	return lines
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// Stats summarizes captured output as opaque key/value strings, the shape
// cache entries carry.
func Stats(output string) map[string]string {
	lines := 0
	if output != "" {
		lines = strings.Count(output, "\n")
		if !strings.HasSuffix(output, "\n") {
			lines++
		}
	}
	return map[string]string{
		"lines": fmt.Sprintf("%d", lines),
		"bytes": fmt.Sprintf("%d", len(output)),
	}
}
