package dkim

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailauth/dkimcore/message"
)

// VerifyOptions configures Verify, per spec §4.8.
type VerifyOptions struct {
	// Resolver performs the DNS TXT lookups needed to fetch key records.
	// Defaults to a StubResolver if nil.
	Resolver Resolver

	// KeyStore caches fetched key records across calls. Defaults to no
	// caching if nil.
	KeyStore KeyStore

	// Now returns the current time, for t=/x= validity checks. Defaults to
	// time.Now.
	Now func() time.Time

	// DisallowWeakKeys turns an RSA key under 1024 bits into a PERMFAIL
	// instead of a warning.
	DisallowWeakKeys bool

	// DisallowSHA1 turns an a=*-sha1 signature into a PERMFAIL instead of a
	// warning.
	DisallowSHA1 bool

	// MaxSignatures bounds how many DKIM-Signature fields are verified, to
	// protect against adversarial messages with hundreds of signatures. 0
	// means unlimited.
	MaxSignatures int

	// AllowTestMode keeps a testmode key's otherwise-successful verification
	// as SUCCESS. By default (false) it degrades to ResultNone, i.e.
	// treat-as-unsigned (spec open question 3).
	AllowTestMode bool
}

func (o *VerifyOptions) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *VerifyOptions) resolver() Resolver {
	if o != nil && o.Resolver != nil {
		return o.Resolver
	}
	return &StubResolver{}
}

// Verify verifies every DKIM-Signature header field present on msg and
// returns one SignResult per signature, in the deterministic
// best-result-first order described by spec §5's result-quality ordering.
//
// Each signature is verified independently in its own goroutine; each
// goroutine canonicalizes msg.Body() itself under its signature's own c=
// and a=.
func Verify(ctx context.Context, msg *message.Message, opts *VerifyOptions) []*SignResult {
	rawSigs := msg.RawHeader("DKIM-Signature")
	if opts != nil && opts.MaxSignatures > 0 && len(rawSigs) > opts.MaxSignatures {
		rawSigs = rawSigs[:opts.MaxSignatures]
	}

	if len(rawSigs) == 0 {
		return nil
	}

	results := make([]*SignResult, len(rawSigs))

	var wg sync.WaitGroup
	for i, raw := range rawSigs {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			results[i] = verifyOne(ctx, msg, raw, opts)
		}(i, raw)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := resultRank(results[i]), resultRank(results[j])
		if ri != rj {
			return ri < rj
		}
		// Tie-break: signatures whose SDID aligns with the From domain sort
		// first (spec §4.8/§5).
		return results[i].Aligned && !results[j].Aligned
	})

	return results
}

// resultRank implements spec §5's result-quality ordering: SUCCESS, then
// SUCCESS-with-warnings, then TEMPFAIL, then PERMFAIL, then none.
func resultRank(r *SignResult) int {
	switch r.Kind {
	case ResultSuccess:
		if len(r.Warnings) == 0 {
			return 0
		}
		return 1
	case ResultTempFail:
		return 2
	case ResultPermFail:
		return 3
	default: // ResultNone
		return 4
	}
}

func verifyOne(ctx context.Context, msg *message.Message, raw string, opts *VerifyOptions) *SignResult {
	sig, err := ParseSignature(raw)
	if err != nil {
		return failResult(err, nil)
	}

	res := &SignResult{
		SDID:          sig.SDID,
		AUID:          sig.AUID,
		Selector:      sig.Selector,
		AlgorithmSig:  sig.AlgorithmSig,
		AlgorithmHash: sig.AlgorithmHash,
		SignedHeaders: sig.SignedHeaders,
		Aligned:       hasFromDomain(msg, sig.SDID),
	}

	now := opts.now()
	var warnings []ErrorType

	if !sig.X.IsZero() && now.After(sig.X) {
		warnings = append(warnings, WarnExpired)
	}
	if !sig.T.IsZero() && sig.T.After(now) {
		warnings = append(warnings, WarnFuture)
	}

	if sig.L >= 0 {
		full := canonicalLen(sig.CanonBody, msg.Body())
		if sig.L > full {
			return failResult(permFail(ErrToolargeL, "l= exceeds actual body length"), res)
		}
		if sig.L < full {
			warnings = append(warnings, WarnSmallL)
		}
	}

	if sig.AlgorithmHash == "sha1" && opts.disallowSHA1() {
		return failResult(permFail(ErrBadSig, "sha1 signatures are not accepted"), res)
	} else if sig.AlgorithmHash == "sha1" {
		warnings = append(warnings, WarnRSASHA1)
	}

	if !res.Aligned {
		warnings = append(warnings, WarnFromNotIn)
	}

	bodyHash, err := computeBodyHash(sig, msg.Body())
	if err != nil {
		return failResult(err, res)
	}
	if subtle.ConstantTimeCompare(bodyHash, sig.BH) != 1 {
		return failResult(permFail(ErrCorruptBH, "body hash mismatch"), res)
	}

	key, secure, err := fetchKey(ctx, sig, opts)
	if err != nil {
		return failResult(err, res)
	}
	res.KeySecure = secure
	res.TestMode = key.TestMode

	if key.Revoked {
		return failResult(permFail(ErrKeyRevoked, "key has been revoked"), res)
	}
	if key.K != sig.AlgorithmSig {
		return failResult(permFail(ErrKeymismatch, "key type does not match signature algorithm"), res)
	}
	if !key.HashAllowed(sig.AlgorithmHash) {
		return failResult(permFail(ErrKeyHashnotincluded, "hash algorithm not allowed by key record"), res)
	}
	if key.WeakRSAKey() {
		if opts.disallowWeakKeys() {
			return failResult(permFail(ErrKeyTooShort, "RSA key shorter than 1024 bits"), res)
		}
		warnings = append(warnings, WarnKeySmall)
	}

	if key.StrictAUID && !strings.EqualFold(auidDomain(sig.AUID), sig.SDID) {
		return failResult(permFail(ErrDomainI, "key requires exact AUID/SDID match"), res)
	}

	headerInput := buildHeaderInput(msg, sig)
	if err := verifySignature(sig, key, headerInput); err != nil {
		return failResult(err, res)
	}

	if key.TestMode && !opts.allowTestMode() {
		res.Kind = ResultNone
		res.TestMode = true
		return res
	}

	res.Kind = ResultSuccess
	res.VerifiedBy = "local"
	res.Warnings = warnings
	return res
}

func auidDomain(auid string) string {
	at := strings.LastIndexByte(auid, '@')
	if at < 0 {
		return ""
	}
	return auid[at+1:]
}

func (o *VerifyOptions) disallowSHA1() bool {
	return o != nil && o.DisallowSHA1
}

func (o *VerifyOptions) disallowWeakKeys() bool {
	return o != nil && o.DisallowWeakKeys
}

func (o *VerifyOptions) allowTestMode() bool {
	return o != nil && o.AllowTestMode
}

func failResult(err error, res *SignResult) *SignResult {
	if res == nil {
		res = &SignResult{}
	}
	ve, ok := err.(*verifyError)
	if !ok {
		res.Kind = ResultPermFail
		res.ErrorType = ErrInternal
		return res
	}
	if ve.kind == kindTemp {
		res.Kind = ResultTempFail
	} else {
		res.Kind = ResultPermFail
	}
	res.ErrorType = ve.typ
	res.ErrorParams = ve.params
	return res
}

// hasFromDomain reports whether the message's From address is in sdid or a
// subdomain of it, the basis for the FROM_NOT_IN_SDID warning (spec §4.8).
func hasFromDomain(msg *message.Message, sdid string) bool {
	from := msg.From()
	at := strings.LastIndexByte(from, '@')
	if at < 0 {
		return false
	}
	domain := normalizeDomain(from[at+1:])
	sdid = normalizeDomain(sdid)
	return strings.EqualFold(domain, sdid) || strings.HasSuffix(strings.ToLower(domain), "."+strings.ToLower(sdid))
}

// computeBodyHash canonicalizes msgBody under sig's body canonicalization,
// truncates to sig.L if set, and hashes with sig's algorithm.
func computeBodyHash(sig *Signature, msgBody []byte) ([]byte, error) {
	h, err := newHash(sig.AlgorithmHash)
	if err != nil {
		return nil, err
	}

	var w hashWriter = h
	if sig.L >= 0 {
		w = &limitedWriter{W: h, N: sig.L}
	}

	wc := canonicalizers[sig.CanonBody].CanonicalizeBody(w)
	if _, err := wc.Write(msgBody); err != nil {
		return nil, tempFail(ErrInternal, "canonicalizing body: "+err.Error())
	}
	if err := wc.Close(); err != nil {
		return nil, tempFail(ErrInternal, "canonicalizing body: "+err.Error())
	}

	return h.Sum(nil), nil
}

type hashWriter interface {
	Write([]byte) (int, error)
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, permFail(ErrUnknownAAlgo, "unsupported hash algorithm "+algo)
	}
}

// buildHeaderInput assembles the exact byte sequence that is signed, per
// RFC 6376 §3.7 / spec invariant 4: each header named in h=, picked
// bottom-up (skipping absent occurrences), canonicalized, followed by the
// DKIM-Signature field itself with b= blanked and with no trailing CRLF.
func buildHeaderInput(msg *message.Message, sig *Signature) []byte {
	var buf bytes.Buffer
	canon := canonicalizers[sig.CanonHeader]

	picker := msg.HeaderPicker()
	for _, name := range sig.SignedHeaders {
		raw := picker.Pick(name)
		if raw == "" {
			continue
		}
		buf.WriteString(canon.CanonicalizeHeader(raw))
	}

	sigField := removeSignatureValue(sig.rawField)
	canonSig := canon.CanonicalizeHeader(sigField)
	canonSig = strings.TrimRight(canonSig, "\r\n")
	buf.WriteString(canonSig)

	return buf.Bytes()
}

// verifySignature checks sig.B against headerInput under key, per RFC 6376
// §3.3 (RSA) and RFC 8463 (Ed25519).
func verifySignature(sig *Signature, key *Key, headerInput []byte) error {
	switch sig.AlgorithmSig {
	case "rsa":
		if key.RSAPublicKey == nil {
			return permFail(ErrKeymismatch, "no RSA public key available")
		}
		h, err := newHash(sig.AlgorithmHash)
		if err != nil {
			return err
		}
		h.Write(headerInput)
		digest := h.Sum(nil)

		var cryptoHash crypto.Hash
		if sig.AlgorithmHash == "sha1" {
			cryptoHash = crypto.SHA1
		} else {
			cryptoHash = crypto.SHA256
		}

		if err := rsa.VerifyPKCS1v15(key.RSAPublicKey, cryptoHash, digest, sig.B); err != nil {
			return permFail(ErrBadSig, "signature verification failed")
		}
		return nil

	case "ed25519":
		if key.Ed25519PublicKey == nil {
			return permFail(ErrKeymismatch, "no Ed25519 public key available")
		}
		// RFC 8463: ed25519-sha256 signs the SHA-256 digest of the
		// header-hash input, not the raw input (an ed25519ph-like
		// construction), so this diverges from plain Ed25519.Verify(msg).
		digest := sha256.Sum256(headerInput)
		if !ed25519.Verify(key.Ed25519PublicKey, digest[:], sig.B) {
			return permFail(ErrBadSig, "signature verification failed")
		}
		return nil

	default:
		return permFail(ErrUnknownAAlgo, "unsupported signature algorithm "+sig.AlgorithmSig)
	}
}

// fetchKey resolves sig's key record, consulting opts.KeyStore according to
// its mode before (or in place of) a live DNS query, per spec §4.7.
func fetchKey(ctx context.Context, sig *Signature, opts *VerifyOptions) (*Key, bool, error) {
	store := opts.keyStore()
	name := sig.Selector + "._domainkey." + sig.SDID

	if store.Mode() == KeyStoreStore {
		if entry, ok := store.Get(sig.SDID, sig.Selector); ok {
			return entry.Key, entry.Secure, nil
		}
	}

	ans, err := opts.resolver().LookupTXT(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if len(ans.Records) == 0 {
		return nil, false, permFail(ErrKeyfail, "no key record found for "+name)
	}

	key, err := ParseKey(joinTXT(ans.Records))
	if err != nil {
		return nil, false, err
	}

	if store.Mode() == KeyStoreCompare {
		if entry, ok := store.Get(sig.SDID, sig.Selector); ok && entry.Secure && !sameKey(entry.Key, key) {
			return nil, false, permFail(ErrKeymismatch, "live key disagrees with secure cached key")
		}
	}
	if store.Mode() != KeyStoreDisabled {
		store.Put(sig.SDID, sig.Selector, key, ans.Secure)
	}

	return key, ans.Secure, nil
}

func (o *VerifyOptions) keyStore() KeyStore {
	if o != nil && o.KeyStore != nil {
		return o.KeyStore
	}
	return NewMemKeyStore(KeyStoreDisabled, 0)
}

// String renders a SignResult for logging, deliberately not the
// Authentication-Results wire format (that belongs to package authres).
func (r *SignResult) String() string {
	if r.Kind == ResultSuccess {
		return fmt.Sprintf("dkim=pass (%s) d=%s s=%s", r.AlgorithmSig, r.SDID, r.Selector)
	}
	return fmt.Sprintf("dkim=%s (%s) d=%s s=%s", strings.ToLower(string(r.Kind)), r.ErrorType, r.SDID, r.Selector)
}
