// Package redact scrubs secrets, credentials, and infrastructure details
// from text leaving the service. Redaction is an ordered list of regex
// rules applied globally; every match is replaced with a fixed marker.
package redact

import (
	"regexp"
	"strings"
)

// Marker is the literal that replaces every redacted match.
const Marker = "[REDACTED]"

// rule is one redaction pattern. Rules run in declaration order; order
// matters where shapes overlap (e.g. connection URIs before private IPs).
type rule struct {
	name string
	re   *regexp.Regexp
}

var rules = []rule{
	{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
	{"google_key", regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`)},
	{"aws_access_key", regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)},
	{"aws_secret_assignment", regexp.MustCompile(`(?i)aws_secret_access_key\s*[=:]\s*\S+`)},
	{"bearer_token", regexp.MustCompile(`(?i)authorization:\s*bearer\s+\S+`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{"connection_uri", regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb(\+srv)?|redis|rediss)://[^\s"']+`)},
	{"env_reference", regexp.MustCompile(`(?i)\b(process\.env\.[A-Z0-9_]+|\$\{?[A-Z][A-Z0-9_]{2,}\}?)`)},
	{"unix_path", regexp.MustCompile(`(/(?:home|var|etc|usr|opt|root|tmp)/[^\s"':]*)`)},
	{"windows_path", regexp.MustCompile(`(?i)\b[A-Z]:\\(?:Users|Windows|Program Files)[^\s"']*`)},
	{"private_ipv4", regexp.MustCompile(`\b(10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3})\b`)},
}

// keyPrefixes feeds the cheap per-chunk heuristic used by StreamFilter.
var keyPrefixes = []string{"sk-", "AKIA", "ASIA", "AIza", "eyJ"}

// Filter replaces every sensitive match in text with the redaction marker.
func Filter(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, Marker)
	}
	return text
}

// ContainsSensitive reports whether text would be changed by Filter. It is
// a pre-flight check: cheaper than filtering when the answer is usually no.
func ContainsSensitive(text string) bool {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// LooksSensitive is the per-chunk heuristic for streamed tokens: a plain
// substring check for common credential prefixes. Best effort only; the
// full rule set still runs over the assembled buffer.
func LooksSensitive(chunk string) bool {
	for _, p := range keyPrefixes {
		if strings.Contains(chunk, p) {
			return true
		}
	}
	return false
}
