package dkim

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// Key is a parsed DKIM key record (the TXT RDATA at
// <selector>._domainkey.<sdid>), per spec §3's DkimKey data model.
type Key struct {
	V          string   // "DKIM1" if present
	H          []string // acceptable hash algorithms; empty = any
	K          string   // "rsa" | "ed25519"
	Revoked    bool     // p= was empty
	S          []string // service types; empty after wildcard normalization = any
	TestMode   bool     // "y" present in t=
	StrictAUID bool     // "s" present in t=

	RSAPublicKey     *rsa.PublicKey
	Ed25519PublicKey ed25519.PublicKey
}

// ParseKey parses the TXT RDATA of a DKIM key record, per spec §4.6.
func ParseKey(txt string) (*Key, error) {
	params, err := parseTagList(txt)
	if err != nil {
		return nil, permFail(ErrKeyInvalidV, "key syntax error: "+err.Error())
	}

	key := new(Key)

	if v, ok := params["v"]; ok {
		if v != "DKIM1" {
			return nil, permFail(ErrKeyInvalidV, "unsupported public key record version")
		}
		key.V = v
	}

	k := params["k"]
	if k == "" {
		k = "rsa"
	}
	switch k {
	case "rsa", "ed25519":
		key.K = k
	default:
		return nil, permFail(ErrKeyUnknownK, "unsupported key type "+k)
	}

	p, ok := params["p"]
	if !ok {
		return nil, permFail(ErrKeyInvalidV, "key syntax error: missing p= tag")
	}
	if p == "" {
		key.Revoked = true
		return key, nil
	}

	raw, err := decodeBase64(p)
	if err != nil {
		return nil, permFail(ErrKeyInvalidV, "key syntax error: "+err.Error())
	}

	switch key.K {
	case "rsa":
		pub, err := x509.ParsePKIXPublicKey(raw)
		if err != nil {
			return nil, permFail(ErrKeyInvalidV, "key syntax error: "+err.Error())
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, permFail(ErrKeyInvalidV, "key syntax error: not an RSA public key")
		}
		key.RSAPublicKey = rsaPub
	case "ed25519":
		// RFC 8463: the ed25519 public key is the raw 32-octet key, not a
		// PKIX SubjectPublicKeyInfo wrapper.
		if len(raw) != ed25519.PublicKeySize {
			return nil, permFail(ErrKeyInvalidV, fmt.Sprintf("key syntax error: ed25519 key must be %d bytes", ed25519.PublicKeySize))
		}
		key.Ed25519PublicKey = ed25519.PublicKey(raw)
	}

	if hStr, ok := params["h"]; ok {
		key.H = parseTagValueList(hStr)
	}

	if sStr, ok := params["s"]; ok {
		services := parseTagValueList(sStr)
		wildcard := false
		for _, s := range services {
			if s == "*" {
				wildcard = true
				break
			}
		}
		if !wildcard {
			found := false
			for _, s := range services {
				if s == "email" {
					found = true
					break
				}
			}
			if !found {
				return nil, permFail(ErrKeyNotemailkey, "key not valid for email")
			}
			key.S = services
		}
	}

	if tStr, ok := params["t"]; ok {
		for _, flag := range parseTagValueList(tStr) {
			switch flag {
			case "y":
				key.TestMode = true
			case "s":
				key.StrictAUID = true
			}
		}
	}

	return key, nil
}

// WeakRSAKey reports whether the RSA key modulus is shorter than RFC 8301's
// 1024-bit minimum.
func (k *Key) WeakRSAKey() bool {
	return k.RSAPublicKey != nil && k.RSAPublicKey.Size()*8 < 1024
}

// HashAllowed reports whether hashAlgo ("sha1"/"sha256") is acceptable
// under this key's h= restriction (absent h= means any hash is allowed).
func (k *Key) HashAllowed(hashAlgo string) bool {
	if len(k.H) == 0 {
		return true
	}
	for _, h := range k.H {
		if h == hashAlgo {
			return true
		}
	}
	return false
}
