// Package dmarc implements the minimal DMARC (RFC 7489) subset this module
// needs: fetching and parsing a domain's _dmarc TXT record, and deriving a
// shouldBeSigned opinion from it when no explicit sign-rule applies.
package dmarc

import (
	"context"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// AlignmentMode is DMARC's "r" (relaxed) / "s" (strict) alignment mode, per
// RFC 7489 §6.3.
type AlignmentMode string

const (
	AlignmentRelaxed AlignmentMode = "r"
	AlignmentStrict  AlignmentMode = "s"
)

// Policy is the requested disposition for messages that fail DMARC, per
// RFC 7489 §6.3's "p"/"sp" tags.
type Policy string

const (
	PolicyNone       Policy = "none"
	PolicyQuarantine Policy = "quarantine"
	PolicyReject     Policy = "reject"
)

// Record is a parsed DMARC TXT record.
type Record struct {
	DKIMAlignment AlignmentMode
	SPFAlignment  AlignmentMode
	Policy        Policy
	SubPolicy     Policy // "sp"; empty means "not set, inherit Policy"
	Percent       int    // "pct", 0-100; defaults to 100
}

// Parse parses the RDATA of a _dmarc TXT record.
func Parse(txt string) (*Record, error) {
	params, err := parseTagList(txt)
	if err != nil {
		return nil, err
	}

	if v := params["v"]; v != "DMARC1" {
		return nil, &ParseError{Msg: "unsupported or missing v= tag"}
	}

	rec := &Record{
		DKIMAlignment: AlignmentRelaxed,
		SPFAlignment:  AlignmentRelaxed,
		Percent:       100,
	}

	if adkim, ok := params["adkim"]; ok {
		rec.DKIMAlignment = AlignmentMode(adkim)
	}
	if aspf, ok := params["aspf"]; ok {
		rec.SPFAlignment = AlignmentMode(aspf)
	}

	p, ok := params["p"]
	if !ok {
		return nil, &ParseError{Msg: "missing required p= tag"}
	}
	pol, err := parsePolicy(p)
	if err != nil {
		return nil, err
	}
	rec.Policy = pol

	if sp, ok := params["sp"]; ok {
		pol, err := parsePolicy(sp)
		if err != nil {
			return nil, err
		}
		rec.SubPolicy = pol
	}

	if pct, ok := params["pct"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || n < 0 || n > 100 {
			return nil, &ParseError{Msg: "malformed pct= tag"}
		}
		rec.Percent = n
	}

	return rec, nil
}

func parsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case PolicyNone:
		return PolicyNone, nil
	case PolicyQuarantine:
		return PolicyQuarantine, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", &ParseError{Msg: "unknown policy value " + s}
	}
}

// ParseError is returned for a malformed DMARC record.
type ParseError struct{ Msg string }

func (e *ParseError) Error() string { return "dmarc: " + e.Msg }

func parseTagList(s string) (map[string]string, error) {
	params := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, &ParseError{Msg: "malformed tag " + part}
		}
		params[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return params, nil
}

// Resolver performs the TXT lookups Lookup needs. Satisfied by
// net.DefaultResolver and by dkim.Resolver-backed adapters alike.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type netResolver struct{}

func (netResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return net.DefaultResolver.LookupTXT(ctx, name)
}

// DefaultResolver resolves TXT records via the system resolver.
var DefaultResolver Resolver = netResolver{}

// Lookup is the outcome of querying a domain's DMARC record, including the
// sub→base-domain fallback.
type Lookup struct {
	// QueriedDomain is the domain whose _dmarc TXT actually answered
	// (domain itself, or its organizational base domain on fallback).
	QueriedDomain string
	// SourceDomain is the domain Lookup was called with.
	SourceDomain string
	// UsedFallback reports whether the organizational-domain record was
	// used because the exact domain had none.
	UsedFallback bool
	Record       *Record
}

// EffectivePolicy returns the policy that applies to SourceDomain: Record.sp
// when this lookup used the fallback and sp is set, Record.p otherwise.
func (l *Lookup) EffectivePolicy() Policy {
	if l.UsedFallback && l.Record.SubPolicy != "" {
		return l.Record.SubPolicy
	}
	return l.Record.Policy
}

// LookupDMARC queries domain's _dmarc TXT record, falling back to the
// organizational base domain (with sp overriding p there) per RFC 7489
// §6.6.3 / spec §4.10.
func LookupDMARC(ctx context.Context, domain string, resolver Resolver) (*Lookup, error) {
	if resolver == nil {
		resolver = DefaultResolver
	}

	rec, err := queryOne(ctx, domain, resolver)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &Lookup{QueriedDomain: domain, SourceDomain: domain, Record: rec}, nil
	}

	base, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil || strings.EqualFold(base, domain) {
		return nil, nil
	}

	rec, err = queryOne(ctx, base, resolver)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &Lookup{QueriedDomain: base, SourceDomain: domain, UsedFallback: true, Record: rec}, nil
}

func queryOne(ctx context.Context, domain string, resolver Resolver) (*Record, error) {
	txts, err := resolver.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, nil
		}
		// Any other DNS error is returned as is, so LookupDMARC does not
		// fall back to the base domain on it.
		return nil, err
	}

	for _, txt := range txts {
		if rec, err := Parse(txt); err == nil {
			return rec, nil
		}
	}
	return nil, nil
}

// PolicyThreshold selects which DMARC policies count as "this domain wants
// its mail signed", per spec §4.10's configurable p-to-shouldBeSigned map.
type PolicyThreshold string

const (
	// ThresholdNone treats any published policy (including "none") as
	// wanting signatures.
	ThresholdNone PolicyThreshold = "none"
	// ThresholdQuarantine requires at least quarantine.
	ThresholdQuarantine PolicyThreshold = "quarantine"
	// ThresholdReject requires reject.
	ThresholdReject PolicyThreshold = "reject"
)

// ShouldBeSigned reports whether domain's published DMARC policy implies
// mail from it is expected to carry a valid DKIM signature, per spec §4.10.
// pct is parsed but intentionally does not affect the outcome (spec open
// question 2).
func ShouldBeSigned(ctx context.Context, domain string, threshold PolicyThreshold, resolver Resolver) (bool, *Lookup, error) {
	lookup, err := LookupDMARC(ctx, domain, resolver)
	if err != nil {
		return false, nil, err
	}
	if lookup == nil {
		return false, nil, nil
	}

	policy := lookup.EffectivePolicy()
	var want bool
	switch threshold {
	case ThresholdQuarantine:
		want = policy != PolicyNone
	case ThresholdReject:
		want = policy == PolicyReject
	default:
		want = true
	}
	return want, lookup, nil
}
