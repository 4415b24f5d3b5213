// Package auth is the per-message entry point: it orchestrates DKIM
// verification, sign-policy rules, the DMARC heuristic, and
// Authentication-Results ingestion into one final AuthResult.
package auth

import (
	"context"
	"strings"

	"github.com/mailauth/dkimcore/authres"
	"github.com/mailauth/dkimcore/dkim"
	"github.com/mailauth/dkimcore/dmarc"
	"github.com/mailauth/dkimcore/message"
	"github.com/mailauth/dkimcore/signpolicy"
)

// Wire-shape versions, per spec §6.
const (
	AuthResultVersion = "3.1"
	SignResultVersion = "2.1"
)

// ArhEntry is an additional-protocol entry (SPF, DMARC, BIMI) surfaced from
// a trusted Authentication-Results header, kept alongside the DKIM results
// rather than re-derived locally.
type ArhEntry struct {
	Result authres.Result
}

// AuthResult is the final, versioned outcome of authenticating one message,
// per spec §6.
type AuthResult struct {
	Version string
	DKIM    []*dkim.SignResult
	SPF     []ArhEntry
	DMARC   []ArhEntry
	BIMI    []ArhEntry
}

// Options configures Authenticate, wiring together the preferences table
// of spec §6 as a plain struct rather than a generic config framework.
type Options struct {
	Verify *dkim.VerifyOptions

	// SignRules gates C9; nil disables the sign-rule engine entirely.
	SignRules signpolicy.Store
	ListID    string

	// DMARCEnable gates C10, consulted only when no sign-rule matched.
	DMARCEnable    bool
	DMARCThreshold dmarc.PolicyThreshold
	DMARCResolver  dmarc.Resolver

	// ARH ingestion, per spec §4.11.
	ARHRead               bool
	ARHAllowedAuthservIDs []string // empty means trust the first one seen
	ARHReplaceAddonResult bool
	ARHRelaxedParsing     bool
}

// Authenticate implements C12: verify → apply sign-policy → merge ARH →
// produce the final AuthResult.
func Authenticate(ctx context.Context, msg *message.Message, opts *Options) *AuthResult {
	if opts == nil {
		opts = &Options{}
	}

	results := dkim.Verify(ctx, msg, opts.Verify)
	results = applySignPolicy(ctx, msg, results, opts)

	res := &AuthResult{Version: AuthResultVersion, DKIM: results}

	if opts.ARHRead {
		mergeARH(msg, res, opts)
	}

	return res
}

// applySignPolicy implements C9 (consulting C10 when no rule matches) and
// reconciles its verdict with the already-computed DKIM results, per spec
// §4.9 and §4.12 step 4.
func applySignPolicy(ctx context.Context, msg *message.Message, results []*dkim.SignResult, opts *Options) []*dkim.SignResult {
	from := msg.From()

	var rules []signpolicy.Rule
	if opts.SignRules != nil {
		rules = append(rules, opts.SignRules.Default()...)
		rules = append(rules, opts.SignRules.User()...)
	}

	rule, matched := signpolicy.Select(from, opts.ListID, rules)

	if matched {
		results = reconcileRule(rule, from, results)
		return results
	}

	if !opts.DMARCEnable {
		return results
	}

	domain := domainOf(from)
	if domain == "" {
		return results
	}

	threshold := opts.DMARCThreshold
	if threshold == "" {
		threshold = dmarc.ThresholdNone
	}
	want, lookup, err := dmarc.ShouldBeSigned(ctx, domain, threshold, opts.DMARCResolver)
	if err != nil || !want {
		return results
	}

	if anySuccess(results) {
		return results
	}

	signedBy := domain
	if lookup != nil {
		signedBy = lookup.QueriedDomain
	}
	return append(results, &dkim.SignResult{
		Kind:        dkim.ResultPermFail,
		ErrorType:   ErrPolicyMissingSig,
		ErrorParams: map[string]string{"shouldBeSignedBy": signedBy},
	})
}

// reconcileRule applies an ALL/NEUTRAL/HIDEFAIL rule's verdict to results,
// per spec §4.9.
func reconcileRule(rule *signpolicy.Rule, from string, results []*dkim.SignResult) []*dkim.SignResult {
	switch rule.Type {
	case signpolicy.RuleNeutral:
		for _, r := range results {
			r.Warnings = removeWarning(r.Warnings, dkim.WarnFromNotIn)
		}
		return results

	case signpolicy.RuleHideFail:
		for _, r := range results {
			if r.Kind == dkim.ResultPermFail {
				r.Kind = dkim.ResultNone
			}
		}
		return results

	case signpolicy.RuleAll:
		expected := signpolicy.ExpectedSDIDs(rule)
		var bestMatch *dkim.SignResult
		for _, r := range results {
			if r.Kind != dkim.ResultSuccess {
				continue
			}
			for _, sdid := range expected {
				if strings.EqualFold(r.SDID, sdid) {
					bestMatch = r
					break
				}
			}
			if bestMatch != nil {
				break
			}
		}
		if bestMatch != nil {
			return results
		}

		if anySuccess(results) {
			// A signature exists but not from an expected SDID.
			return append(results, &dkim.SignResult{
				Kind:        dkim.ResultPermFail,
				ErrorType:   ErrPolicyWrongSDID,
				ErrorParams: map[string]string{"expectedSdid": strings.Join(expected, ",")},
			})
		}

		return append(results, &dkim.SignResult{
			Kind:        dkim.ResultPermFail,
			ErrorType:   ErrPolicyMissingSig,
			ErrorParams: map[string]string{"shouldBeSignedBy": strings.Join(expected, ",")},
		})

	default:
		return results
	}
}

func anySuccess(results []*dkim.SignResult) bool {
	for _, r := range results {
		if r.Kind == dkim.ResultSuccess {
			return true
		}
	}
	return false
}

func removeWarning(warnings []dkim.ErrorType, w dkim.ErrorType) []dkim.ErrorType {
	out := warnings[:0]
	for _, x := range warnings {
		if x != w {
			out = append(out, x)
		}
	}
	return out
}

func domainOf(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}

// Policy-level error types, distinct from dkim's signature-level ones but
// sharing the same stable-string idiom (spec §7).
const (
	ErrPolicyMissingSig dkim.ErrorType = "DKIM_POLICYERROR_MISSING_SIG"
	ErrPolicyWrongSDID  dkim.ErrorType = "DKIM_POLICYERROR_WRONG_SDID"
)
