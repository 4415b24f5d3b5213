package dkim

import "testing"

const sampleSigField = "DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;\r\n" +
	"      c=simple/simple; q=dns/txt; i=joe@football.example.com;\r\n" +
	"      h=Received : From : To : Subject : Date : Message-ID;\r\n" +
	"      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;\r\n" +
	"      b=AAAA\r\n"

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature(sampleSigField)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if sig.SDID != "example.com" {
		t.Errorf("SDID = %q", sig.SDID)
	}
	if sig.Selector != "brisbane" {
		t.Errorf("Selector = %q", sig.Selector)
	}
	if sig.AUID != "joe@football.example.com" {
		t.Errorf("AUID = %q", sig.AUID)
	}
	if sig.AlgorithmSig != "rsa" || sig.AlgorithmHash != "sha256" {
		t.Errorf("algorithm = %s-%s", sig.AlgorithmSig, sig.AlgorithmHash)
	}
	if sig.CanonHeader != CanonicalizationSimple || sig.CanonBody != CanonicalizationSimple {
		t.Errorf("canon = %s/%s", sig.CanonHeader, sig.CanonBody)
	}
	want := []string{"received", "from", "to", "subject", "date", "message-id"}
	if len(sig.SignedHeaders) != len(want) {
		t.Fatalf("SignedHeaders = %v", sig.SignedHeaders)
	}
	for i := range want {
		if sig.SignedHeaders[i] != want[i] {
			t.Errorf("SignedHeaders[%d] = %q, want %q", i, sig.SignedHeaders[i], want[i])
		}
	}
}

func TestParseSignatureMissingV(t *testing.T) {
	field := "DKIM-Signature: a=rsa-sha256; s=brisbane; d=example.com; c=simple/simple;\r\n" +
		"      h=from; bh=AAAA; b=AAAA\r\n"
	_, err := ParseSignature(field)
	if ErrorTypeOf(err) != ErrMissingV {
		t.Errorf("err = %v, want MISSING_V", err)
	}
}

func TestParseSignatureMissingFrom(t *testing.T) {
	field := "DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;\r\n" +
		"      c=simple/simple; h=to:subject; bh=AAAA; b=AAAA\r\n"
	_, err := ParseSignature(field)
	if ErrorTypeOf(err) != ErrMissingFrom {
		t.Errorf("err = %v, want MISSING_FROM", err)
	}
}

func TestRemoveSignatureValue(t *testing.T) {
	field := "DKIM-Signature: v=1; b=AbC\r\n def=;d=x\r\n"
	got := removeSignatureValue(field)
	want := "DKIM-Signature: v=1; b=;d=x"
	if got != want {
		t.Errorf("removeSignatureValue = %q, want %q", got, want)
	}
}

func TestIsSubdomainOrSelf(t *testing.T) {
	cases := []struct {
		auid, sdid string
		want       bool
	}{
		{"joe@example.com", "example.com", true},
		{"joe@sub.example.com", "example.com", true},
		{"joe@evil.com", "example.com", false},
		{"no-at-sign", "example.com", false},
	}
	for _, c := range cases {
		if got := isSubdomainOrSelf(c.auid, c.sdid); got != c.want {
			t.Errorf("isSubdomainOrSelf(%q, %q) = %v, want %v", c.auid, c.sdid, got, c.want)
		}
	}
}
