package sanitize

import (
	"fmt"
	"regexp"
)

// Severity decides whether a matching rule blocks the request or is only
// recorded for observability.
type Severity string

const (
	// SeverityBlock rejects the request when the rule matches.
	SeverityBlock Severity = "block"

	// SeverityAdvise records the match without affecting the outcome.
	SeverityAdvise Severity = "advise"
)

// Rule is a single data-driven detection pattern. Rules are loadable from
// configuration so new patterns ship without code changes.
type Rule struct {
	Name     string   `koanf:"name"`
	Severity Severity `koanf:"severity"`
	Pattern  string   `koanf:"pattern"`
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

func compile(rules []Rule) (blocking, advisory []compiledRule, err error) {
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		cr := compiledRule{name: r.Name, re: re}
		switch r.Severity {
		case SeverityBlock:
			blocking = append(blocking, cr)
		case SeverityAdvise:
			advisory = append(advisory, cr)
		default:
			return nil, nil, fmt.Errorf("rule %s: unknown severity %q", r.Name, r.Severity)
		}
	}
	return blocking, advisory, nil
}

// DefaultRules returns the built-in pattern tables: prompt-injection
// phrasings that block, and template/noise heuristics that only advise.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "instruction_override",
			Severity: SeverityBlock,
			Pattern:  `(?i)(ignore|disregard|forget|bypass|override)\s+(all\s+)?(previous|prior|above|system)\s+(instructions?|prompts?|rules?|context)`,
		},
		{
			Name:     "role_hijack",
			Severity: SeverityBlock,
			Pattern:  `(?i)you\s+are\s+now\s+(a|an|the|in)\b`,
		},
		{
			Name:     "system_prompt_extraction",
			Severity: SeverityBlock,
			Pattern:  `(?i)(reveal|show|print|repeat|display|output)\s+(me\s+)?(your\s+)?(system|initial|original|hidden)\s+(prompt|instructions?|message)`,
		},
		{
			Name:     "jailbreak_keyword",
			Severity: SeverityBlock,
			Pattern:  `(?i)\b(jailbreak|jailbroken|dan mode|developer mode|do anything now)\b`,
		},
		{
			Name:     "encoding_bypass",
			Severity: SeverityBlock,
			Pattern:  `(?i)(decode|respond|answer|reply)\s+(this\s+|only\s+)?(in|using|with)\s+(base64|rot13|hex|binary|morse)`,
		},
		{
			Name:     "template_delimiter",
			Severity: SeverityAdvise,
			Pattern:  `(?i)(<\|im_start\|>|<\|im_end\|>|\[INST\]|\[/INST\]|<<SYS>>|<</SYS>>|</?system>)`,
		},
		{
			Name:     "blank_line_run",
			Severity: SeverityAdvise,
			Pattern:  `\n{5,}`,
		},
	}
}
