package dkim

import "golang.org/x/net/idna"

// normalizeDomain converts domain to its ASCII (A-label) form so that
// comparisons between d=/i= tags and the From header's domain are stable
// across U-label/A-label spelling, per spec §4.3's domain-matching
// invariant. Domains that fail IDNA conversion (already-ASCII, or simply
// invalid) are compared as given.
func normalizeDomain(domain string) string {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}
