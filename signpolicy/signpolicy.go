// Package signpolicy implements the sign-rule engine (spec §4.9): deciding,
// for a given From address, whether mail from it is expected to carry a
// valid DKIM signature and from which domain(s).
package signpolicy

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// normalizeDomain converts domain to its ASCII (A-label) form, so a rule's
// Domain and an address's domain compare equal regardless of U-label vs.
// A-label spelling, per spec §4.9.
func normalizeDomain(domain string) string {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}

// RuleType is the disposition a matching Rule assigns.
type RuleType string

const (
	// RuleAll requires a DKIM signature from ExpectedSDID (or Domain if
	// ExpectedSDID is empty) to be present and valid.
	RuleAll RuleType = "ALL"
	// RuleNeutral expresses no opinion: the sender is known but not
	// required to sign.
	RuleNeutral RuleType = "NEUTRAL"
	// RuleHideFail suppresses a verification failure from producing a
	// visible PERMFAIL (used for senders known to sign unreliably).
	RuleHideFail RuleType = "HIDEFAIL"
)

// RuleSource records how a Rule came to exist, used as a tie-break in
// Select.
type RuleSource string

const (
	SourceDefault RuleSource = "default"
	SourceUser    RuleSource = "user"
	SourceAuto    RuleSource = "auto"
)

// Rule is a single sign-policy rule, matched against a message's envelope
// by (Domain or ListID) and FromGlob, per spec §4.9.
type Rule struct {
	Domain   string // matched against the From address's domain
	ListID   string // matched against a mailing-list List-Id, if any
	FromGlob string // shell-style glob against the full From address

	ExpectedSDID string // "" means Domain itself
	Type         RuleType
	Priority     int
	Enabled      bool
	Source       RuleSource
}

// Store supplies the rule sets Select chooses from.
type Store interface {
	Default() []Rule
	User() []Rule
}

// Select finds the best-matching enabled rule for a message from "from",
// optionally carrying listID, out of rules. When more than one rule
// matches, the highest Priority wins; ties are broken by source precedence
// user > auto > default (spec §4.9 invariant 7).
func Select(from, listID string, rules []Rule) (*Rule, bool) {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if !matches(r, from, listID) {
			continue
		}
		if best == nil || better(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func better(a, b *Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return sourceRank(a.Source) < sourceRank(b.Source)
}

func sourceRank(s RuleSource) int {
	switch s {
	case SourceUser:
		return 0
	case SourceAuto:
		return 1
	default:
		return 2
	}
}

func matches(r *Rule, from, listID string) bool {
	if r.ListID != "" {
		return strings.EqualFold(r.ListID, listID)
	}

	if r.FromGlob != "" && !globMatch(strings.ToLower(r.FromGlob), strings.ToLower(from)) {
		return false
	}

	if r.Domain == "" {
		return r.FromGlob != ""
	}

	domain := normalizeDomain(domainOf(from))
	ruleDomain := normalizeDomain(r.Domain)
	if strings.EqualFold(domain, ruleDomain) {
		return true
	}
	if strings.HasSuffix(strings.ToLower(domain), "."+strings.ToLower(ruleDomain)) {
		return true
	}

	// Fall back to organizational-domain matching (spec §4.9: a rule's
	// Domain matches the base domain of the From address), so a rule for
	// "example.com" also covers "mail.marketing.example.com" without the
	// operator having to enumerate every sending subdomain.
	return strings.EqualFold(BaseDomain(from), ruleDomain)
}

func domainOf(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}

// BaseDomain returns the organizational (effective-TLD+1) domain of addr's
// domain part, for rules that want to match at that granularity.
func BaseDomain(addr string) string {
	domain := domainOf(addr)
	base, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return base
}

// ExpectedSDIDs returns the domain(s) a successful DKIM signature should be
// signed by under rule, per spec §4.9.
func ExpectedSDIDs(r *Rule) []string {
	if r.ExpectedSDID != "" {
		return []string{r.ExpectedSDID}
	}
	return []string{r.Domain}
}

// globMatch implements shell-style '*'/'?' matching, case already folded by
// the caller.
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		if globMatchRunes(pattern[1:], s) {
			return true
		}
		for len(s) > 0 {
			s = s[1:]
			if globMatchRunes(pattern[1:], s) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatchRunes(pattern[1:], s[1:])
	}
}
