package auth

import (
	"strings"

	"github.com/mailauth/dkimcore/authres"
	"github.com/mailauth/dkimcore/dkim"
	"github.com/mailauth/dkimcore/message"
)

// mergeARH parses any trusted Authentication-Results headers on msg and
// either augments or replaces res's DKIM results, per spec §4.11.
func mergeARH(msg *message.Message, res *AuthResult, opts *Options) {
	raws := msg.RawHeader("Authentication-Results")
	if len(raws) == 0 {
		return
	}

	parseOpts := &authres.ParseOptions{Relaxed: opts.ARHRelaxedParsing}

	var trustedAuthservID string
	var arhDKIM []*dkim.SignResult

	for _, raw := range raws {
		_, value := splitField(raw)
		h, err := authres.Parse(value, parseOpts)
		if err != nil {
			continue
		}

		if !authservTrusted(h.AuthservID, opts.ARHAllowedAuthservIDs, &trustedAuthservID) {
			continue
		}

		for _, r := range h.Results {
			switch strings.ToLower(r.Method) {
			case "dkim":
				if sr := arhToSignResult(msg, &r, h.AuthservID); sr != nil {
					arhDKIM = append(arhDKIM, sr)
				}
			case "spf":
				res.SPF = append(res.SPF, ArhEntry{Result: r})
			case "dmarc":
				res.DMARC = append(res.DMARC, ArhEntry{Result: r})
			case "bimi":
				res.BIMI = append(res.BIMI, ArhEntry{Result: r})
			}
		}
	}

	if len(arhDKIM) == 0 {
		return
	}

	if opts.ARHReplaceAddonResult {
		res.DKIM = arhDKIM
	} else {
		res.DKIM = append(res.DKIM, arhDKIM...)
	}
}

// authservTrusted reports whether id is acceptable, implicitly trusting the
// first authserv-id seen when no allow list is configured.
func authservTrusted(id string, allowed []string, firstSeen *string) bool {
	if len(allowed) == 0 {
		if *firstSeen == "" {
			*firstSeen = id
		}
		return id == *firstSeen
	}
	for _, a := range allowed {
		if strings.EqualFold(a, id) {
			return true
		}
	}
	return false
}

// arhToSignResult converts a parsed ARH "dkim=" resinfo into a SignResult.
// When header.d is absent and header.i is present, the SDID is taken from
// the AUID's domain (spec open question 1). A passing result whose SDID is
// neither the From domain nor a parent of it gets a FROM_NOT_IN_SDID
// warning. The AUID is not checked against the SDID.
func arhToSignResult(msg *message.Message, r *authres.Result, authservID string) *dkim.SignResult {
	sr := &dkim.SignResult{
		VerifiedBy: authservID,
		SDID:       r.Get("header", "d"),
		AUID:       r.Get("header", "i"),
		Selector:   r.Get("header", "s"),
	}
	if sr.SDID == "" && sr.AUID != "" {
		sr.SDID = domainOf(sr.AUID)
	}

	switch strings.ToLower(r.Value) {
	case "pass":
		sr.Kind = dkim.ResultSuccess
	case "fail", "permerror":
		sr.Kind = dkim.ResultPermFail
		sr.ErrorType = dkim.ErrBadSig
	case "temperror":
		sr.Kind = dkim.ResultTempFail
		sr.ErrorType = dkim.ErrDNSServerError
	default:
		sr.Kind = dkim.ResultNone
	}

	if sr.Kind == dkim.ResultSuccess && sr.SDID != "" {
		from := msg.From()
		at := strings.LastIndexByte(from, '@')
		if at >= 0 {
			domain := from[at+1:]
			aligned := strings.EqualFold(domain, sr.SDID) || strings.HasSuffix(strings.ToLower(domain), "."+strings.ToLower(sr.SDID))
			if !aligned {
				sr.Warnings = append(sr.Warnings, dkim.WarnFromNotIn)
			}
		}
	}

	return sr
}

func splitField(s string) (name, value string) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:])
}
