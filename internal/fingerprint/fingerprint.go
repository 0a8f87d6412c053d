// Package fingerprint derives stable grouping keys from error
// signatures. Two occurrences of the same logical error should hash to
// the same fingerprint even when messages embed request-specific noise
// such as IDs, addresses or timings.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	uuidRE    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ipRE      = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	numberRE  = regexp.MustCompile(`\d+`)
	lineNumRE = regexp.MustCompile(`:\d+(?::\d+)?| line \d+`)
)

// Frames originating in frameworks or runtimes carry no signal about
// where the error happened in application code.
var skipFramePrefixes = []string{
	"node_modules/",
	"UIKitCore",
	"CoreFoundation",
	"libdispatch",
	"Foundation",
	"SwiftUI",
	"java.lang.",
	"android.os.",
	"kotlin.",
	"com.apple.",
}

// NormalizeMessage collapses volatile fragments of an error message.
// UUIDs become <uuid>, IPv4 addresses <ip> and remaining digit runs
// <n>; the result is lowercased and trimmed.
func NormalizeMessage(message string) string {
	s := uuidRE.ReplaceAllString(message, "<uuid>")
	s = ipRE.ReplaceAllString(s, "<ip>")
	s = numberRE.ReplaceAllString(s, "<n>")
	return strings.TrimSpace(strings.ToLower(s))
}

// ExtractTopFrame returns the first stack frame that does not belong to
// a known framework, with line numbers stripped. Falls back to the
// first non-empty line, or "" for an empty stack.
func ExtractTopFrame(stack string) string {
	if stack == "" {
		return ""
	}

	for _, line := range strings.Split(stack, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		framework := false
		for _, prefix := range skipFramePrefixes {
			if strings.Contains(trimmed, prefix) {
				framework = true
				break
			}
		}
		if !framework {
			return strings.TrimSpace(lineNumRE.ReplaceAllString(trimmed, ""))
		}
	}

	for _, line := range strings.Split(stack, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Compute hashes the normalized error signature into a 16-hex-digit
// fingerprint.
func Compute(source, errorType, route, message, stack string) string {
	input := source + ":" + errorType + ":" + route + ":" +
		NormalizeMessage(message) + ":" + ExtractTopFrame(stack)
	return fmt.Sprintf("%016x", xxhash.Sum64String(input))
}
