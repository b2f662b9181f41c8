// Package sanitize scans free-text AI inputs for prompt-injection patterns
// and normalizes them before they reach a handler. Detection is data-driven:
// an ordered table of blocking and advisory rules, reloadable at runtime.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// repetitionRunLength is the run of identical characters that trips the
	// char_repetition advisory flag. Go's regexp has no backreferences, so
	// this check lives in code rather than in the rule table.
	repetitionRunLength = 50

	defaultCacheSize = 4096
	defaultCacheTTL  = 5 * time.Minute
)

var (
	newlineRuns = regexp.MustCompile(`\n{5,}`)
	spaceRuns   = regexp.MustCompile(` {10,}`)
)

// Result is the outcome of scanning a single text. Flags records every
// matched rule name in table order, blocking rules first; Blocked is true
// iff at least one blocking rule matched. Sanitized is always populated,
// but callers must discard it when Blocked is true.
type Result struct {
	Sanitized string
	Flags     []string
	Blocked   bool
}

// Sanitizer holds the compiled rule tables. It is safe for concurrent use;
// Reload swaps the tables atomically under the mutex.
type Sanitizer struct {
	mu       sync.RWMutex
	blocking []compiledRule
	advisory []compiledRule

	// gen counts table swaps. A scan only caches its verdict if the tables
	// it read are still current, so a Reload racing a scan can never end up
	// with a stale verdict cached after the purge.
	gen uint64

	// cache memoizes verdicts for identical inputs. Scanning is pure, so a
	// hit is indistinguishable from a fresh scan.
	cache *expirable.LRU[string, Result]
}

// New creates a sanitizer with the built-in rule tables.
func New() *Sanitizer {
	s, err := NewWithRules(DefaultRules())
	if err != nil {
		// Built-in rules are covered by tests; a compile failure here is a
		// programming error.
		panic(err)
	}
	return s
}

// NewWithRules creates a sanitizer from an explicit rule table.
func NewWithRules(rules []Rule) (*Sanitizer, error) {
	blocking, advisory, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{
		blocking: blocking,
		advisory: advisory,
		cache:    expirable.NewLRU[string, Result](defaultCacheSize, nil, defaultCacheTTL),
	}, nil
}

// Reload replaces the rule tables. Invalid rules leave the current tables
// untouched. The verdict cache is purged since cached results may no longer
// reflect the new tables.
func (s *Sanitizer) Reload(rules []Rule) error {
	blocking, advisory, err := compile(rules)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blocking = blocking
	s.advisory = advisory
	s.gen++
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Sanitize scans text against every blocking and advisory rule and returns
// the normalized text with all matched flags. Normalization happens
// regardless of block status.
func (s *Sanitizer) Sanitize(text string) Result {
	key := cacheKey(text)
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}

	s.mu.RLock()
	blocking := s.blocking
	advisory := s.advisory
	gen := s.gen
	s.mu.RUnlock()

	var result Result
	for _, rule := range blocking {
		if rule.re.MatchString(text) {
			result.Flags = append(result.Flags, rule.name)
			result.Blocked = true
		}
	}
	for _, rule := range advisory {
		if rule.re.MatchString(text) {
			result.Flags = append(result.Flags, rule.name)
		}
	}
	if hasRepetitionRun(text, repetitionRunLength) {
		result.Flags = append(result.Flags, "char_repetition")
	}

	result.Sanitized = Normalize(text)

	// Only cache if the tables are unchanged since the scan began. Reload
	// swaps tables and purges under the write lock, so a verdict cached here
	// is guaranteed to reflect the current tables.
	s.mu.RLock()
	if gen == s.gen {
		s.cache.Add(key, result)
	}
	s.mu.RUnlock()
	return result
}

// Normalize strips non-printable control characters (keeping tab, newline,
// and carriage return), trims surrounding whitespace, collapses runs of 5+
// newlines to 4, and collapses runs of 10+ spaces to 10.
func Normalize(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)
	text = newlineRuns.ReplaceAllString(text, "\n\n\n\n")
	text = spaceRuns.ReplaceAllString(text, strings.Repeat(" ", 10))
	return text
}

func hasRepetitionRun(text string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
