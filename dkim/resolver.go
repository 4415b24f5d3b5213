package dkim

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Answer is the result of a TXT lookup, per spec §6's DNS resolver
// contract.
type Answer struct {
	Records []string // concatenated character-strings, one per TXT RR
	Secure  bool      // DNSSEC-validated (AD bit set)
	Bogus   bool      // DNSSEC validation failed
}

// Resolver issues DNS TXT queries for DKIM key and DMARC record lookups.
//
// Two implementations are provided: StubResolver (no DNSSEC, wraps
// net.LookupTXT, the teacher's default behavior via VerifyOptions.LookupTXT)
// and ValidatingResolver (queries a recursive, DNSSEC-validating resolver
// directly and reports the AD bit).
type Resolver interface {
	LookupTXT(ctx context.Context, name string) (Answer, error)
}

// StubResolver resolves TXT records via the system resolver. It never
// reports DNSSEC status: Answer.Secure is always false.
type StubResolver struct {
	// LookupTXTFunc, if set, overrides net.DefaultResolver.LookupTXT (used in
	// tests and by callers that already have their own resolver plumbing,
	// mirroring the teacher's VerifyOptions.LookupTXT seam).
	LookupTXTFunc func(ctx context.Context, name string) ([]string, error)
}

func (r *StubResolver) LookupTXT(ctx context.Context, name string) (Answer, error) {
	lookup := r.LookupTXTFunc
	if lookup == nil {
		lookup = net.DefaultResolver.LookupTXT
	}

	txts, err := lookup(ctx, name)
	if err != nil {
		if isTemporary(err) {
			return Answer{}, tempFail(ErrDNSServerError, "TXT lookup unavailable: "+err.Error())
		}
		if isNotFound(err) {
			return Answer{}, nil
		}
		return Answer{}, tempFail(ErrDNSServerError, "TXT lookup failed: "+err.Error())
	}

	return Answer{Records: txts}, nil
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}
	return false
}

func isNotFound(err error) bool {
	dnsErr, ok := err.(*net.DNSError)
	return ok && dnsErr.IsNotFound
}

// ValidatingResolver queries a recursive, DNSSEC-validating nameserver
// directly over the miekg/dns client and surfaces the AD (authentic data)
// bit as Answer.Secure. A SERVFAIL response is treated as DNSSEC-bogus.
type ValidatingResolver struct {
	// Addr is the validating resolver's "host:port", e.g. "127.0.0.1:53".
	Addr string
	// Timeout bounds each query; defaults to 5s.
	Timeout time.Duration
}

func (r *ValidatingResolver) LookupTXT(ctx context.Context, name string) (Answer, error) {
	c := new(dns.Client)
	c.Timeout = r.Timeout
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}

	m := new(dns.Msg)
	m.SetEdns0(4096, true) // DO bit: request DNSSEC records
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	resp, _, err := c.ExchangeContext(ctx, m, r.Addr)
	if err != nil {
		return Answer{}, tempFail(ErrDNSServerError, "DNS exchange failed: "+err.Error())
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return Answer{}, nil
	case dns.RcodeServerFailure:
		return Answer{Bogus: true}, tempFail(ErrDNSSECBogus, "DNSSEC validation failed (SERVFAIL)")
	default:
		return Answer{}, tempFail(ErrDNSServerError, "unexpected DNS rcode")
	}

	ans := Answer{Secure: resp.AuthenticatedData}
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			ans.Records = append(ans.Records, strings.Join(txt.Txt, ""))
		}
	}
	return ans, nil
}

// joinTXT concatenates the character-strings of a TXT answer's records into
// the single string the tag parser expects, per spec §4.6/§6.
func joinTXT(records []string) string {
	return strings.Join(records, "")
}
