package dkim

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Signature is a parsed DKIM-Signature header field, per spec §3's
// DkimSignature data model.
type Signature struct {
	V             string
	AlgorithmSig  string // "rsa" | "ed25519"
	AlgorithmHash string // "sha1" | "sha256"
	B             []byte // unfolded, base64-decoded signature
	BFolded       string // raw folded b= value, FWS intact
	BH            []byte // claimed body hash
	CanonHeader   Canonicalization
	CanonBody     Canonicalization
	SDID          string
	SignedHeaders []string // lowercased, bottom-up order as listed in h=
	AUID          string
	L             int64 // -1 if absent
	Q             []string
	Selector      string
	T             time.Time
	X             time.Time
	Z             string

	// rawField is the complete, original "DKIM-Signature: ..." field
	// (including trailing CRLF) the signature was parsed from, needed to
	// reconstruct the header-hash input per spec invariant 4.
	rawField string
}

var requiredSigTags = []string{"v", "a", "b", "bh", "c", "d", "h", "s"}

var rxBEquals = regexp.MustCompile(`(?s)(b\s*=)[^;]*`)

// ParseSignature parses the value of a single DKIM-Signature header field
// (the full "Name: value\r\n" form) into a Signature, per spec §4.5.
//
// This is the teacher's dkim/verify.go verify() parsing section (required
// tag presence, i= suffix check, h= From-presence check, t/x timestamps)
// pulled out into a standalone step, since spec treats signature parsing
// (C5) and verification (C8) as separate components.
func ParseSignature(rawField string) (*Signature, error) {
	_, value := splitField(rawField)

	params, err := parseTagList(value)
	if err != nil {
		if err == errDuplicateTag {
			return nil, permFail(ErrDuplicateTag, "duplicate tag in DKIM-Signature")
		}
		return nil, permFail(ErrIllformedTagspec, "malformed DKIM-Signature tag list")
	}

	for _, tag := range requiredSigTags {
		if _, ok := params[tag]; !ok {
			return nil, permFail(requiredTagError(tag), "missing required tag "+tag)
		}
	}

	sig := &Signature{rawField: rawField, L: -1}

	if params["v"] != "1" {
		return nil, permFail(ErrMissingV, "unsupported DKIM-Signature version")
	}
	sig.V = "1"

	algos := strings.SplitN(stripWhitespace(params["a"]), "-", 2)
	if len(algos) != 2 {
		return nil, permFail(ErrUnknownAAlgo, "malformed algorithm name")
	}
	switch algos[0] {
	case "rsa", "ed25519":
		sig.AlgorithmSig = algos[0]
	default:
		return nil, permFail(ErrUnknownAAlgo, "unsupported signature algorithm")
	}
	switch algos[1] {
	case "sha1", "sha256":
		sig.AlgorithmHash = algos[1]
	default:
		return nil, permFail(ErrUnknownAAlgo, "unsupported hash algorithm")
	}

	sig.BFolded = params["b"]
	b, err := decodeBase64(params["b"])
	if err != nil {
		return nil, permFail(ErrIllformedB, "malformed signature: "+err.Error())
	}
	sig.B = b

	bh, err := decodeBase64(params["bh"])
	if err != nil {
		return nil, permFail(ErrIllformedBH, "malformed body hash: "+err.Error())
	}
	sig.BH = bh

	sig.CanonHeader, sig.CanonBody = parseCanonicalization(params["c"])
	if _, ok := canonicalizers[sig.CanonHeader]; !ok {
		return nil, permFail(ErrIllformedC, "unsupported header canonicalization")
	}
	if _, ok := canonicalizers[sig.CanonBody]; !ok {
		return nil, permFail(ErrIllformedC, "unsupported body canonicalization")
	}

	sig.SDID = stripWhitespace(params["d"])
	if sig.SDID == "" {
		return nil, permFail(ErrIllformedD, "empty d= tag")
	}

	headerKeys := parseTagValueList(params["h"])
	for i, k := range headerKeys {
		headerKeys[i] = strings.ToLower(k)
	}
	fromSigned := false
	for _, k := range headerKeys {
		if k == "from" {
			fromSigned = true
			break
		}
	}
	if !fromSigned {
		return nil, permFail(ErrMissingFrom, "From header not signed")
	}
	sig.SignedHeaders = headerKeys

	if i, ok := params["i"]; ok {
		sig.AUID = stripWhitespace(i)
		if !isSubdomainOrSelf(sig.AUID, sig.SDID) {
			return nil, permFail(ErrDomainI, "AUID domain is not SDID or a subdomain of it")
		}
	} else {
		sig.AUID = "@" + sig.SDID
	}

	if lStr, ok := params["l"]; ok {
		l, err := strconv.ParseInt(stripWhitespace(lStr), 10, 64)
		if err != nil || l < 0 {
			return nil, permFail(ErrToolargeL, "malformed body length")
		}
		sig.L = l
	}

	sig.Q = []string{"dns/txt"}
	if qStr, ok := params["q"]; ok {
		sig.Q = parseTagValueList(qStr)
		found := false
		for _, q := range sig.Q {
			if q == "dns/txt" {
				found = true
				break
			}
		}
		if !found {
			return nil, permFail(ErrUnknownQMethod, "unsupported query method")
		}
	}

	sig.Selector = stripWhitespace(params["s"])
	if sig.Selector == "" {
		return nil, permFail(ErrMissingS, "empty s= tag")
	}

	if tStr, ok := params["t"]; ok {
		t, err := parseUnixTime(tStr)
		if err != nil {
			return nil, permFail(ErrTimestampsReversed, "malformed t= timestamp")
		}
		sig.T = t
	}
	if xStr, ok := params["x"]; ok {
		x, err := parseUnixTime(xStr)
		if err != nil {
			return nil, permFail(ErrTimestampsReversed, "malformed x= timestamp")
		}
		sig.X = x
		if !sig.T.IsZero() && sig.X.Before(sig.T) {
			return nil, permFail(ErrTimestampsReversed, "x= precedes t=")
		}
	}

	sig.Z = params["z"]

	return sig, nil
}

func requiredTagError(tag string) ErrorType {
	switch tag {
	case "v":
		return ErrMissingV
	case "a":
		return ErrMissingA
	case "b":
		return ErrMissingB
	case "bh":
		return ErrMissingBH
	case "c":
		return ErrIllformedC
	case "d":
		return ErrMissingD
	case "h":
		return ErrMissingH
	case "s":
		return ErrMissingS
	default:
		return ErrIllformedTagspec
	}
}

func parseCanonicalization(s string) (header, body Canonicalization) {
	header = CanonicalizationSimple
	body = CanonicalizationSimple

	cans := strings.SplitN(stripWhitespace(s), "/", 2)
	if cans[0] != "" {
		header = Canonicalization(cans[0])
	}
	if len(cans) > 1 {
		body = Canonicalization(cans[1])
	}
	return
}

func parseUnixTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(stripWhitespace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

// isSubdomainOrSelf reports whether auid's domain equals sdid or is a
// subdomain of it, per RFC 6376 §3.5's i= constraint.
func isSubdomainOrSelf(auid, sdid string) bool {
	at := strings.LastIndexByte(auid, '@')
	if at < 0 {
		return false
	}
	domain := normalizeDomain(auid[at+1:])
	sdid = normalizeDomain(sdid)
	return strings.EqualFold(domain, sdid) || strings.HasSuffix(strings.ToLower(domain), "."+strings.ToLower(sdid))
}

// removeSignatureValue blanks the b= tag's value (keeping the tag name and
// surrounding structure) and strips the trailing CRLF, per spec invariant 4.
func removeSignatureValue(rawField string) string {
	s := rxBEquals.ReplaceAllString(rawField, "$1")
	return strings.TrimRight(s, "\r\n")
}

func splitField(s string) (name, value string) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", s
	}
	return s[:idx], s[idx+1:]
}
