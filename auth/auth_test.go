package auth

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/mailauth/dkimcore/dmarc"
	"github.com/mailauth/dkimcore/message"
)

// fakeDMARCResolver answers exactly the names in records; anything else is
// NXDOMAIN, mirroring dmarc's own test fake.
type fakeDMARCResolver struct {
	records map[string][]string
}

func (f *fakeDMARCResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if txts, ok := f.records[name]; ok {
		return txts, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

// TestAuthenticateUnsignedAgainstRejectPolicy drives C12 end-to-end for a
// message with no DKIM-Signature at all, from a domain that publishes
// p=reject: Authenticate must synthesize a POLICYERROR_MISSING_SIG result
// naming the domain that should have signed it.
func TestAuthenticateUnsignedAgainstRejectPolicy(t *testing.T) {
	raw := "From: Bar <bar@paypal.com>\r\nTo: victim@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	msg, err := message.Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("message.Parse: %v", err)
	}

	resolver := &fakeDMARCResolver{records: map[string][]string{
		"_dmarc.paypal.com": {"v=DMARC1; p=reject"},
	}}

	opts := &Options{
		DMARCEnable:    true,
		DMARCThreshold: dmarc.ThresholdReject,
		DMARCResolver:  resolver,
	}

	res := Authenticate(context.Background(), msg, opts)

	if len(res.DKIM) != 1 {
		t.Fatalf("len(DKIM) = %d, want 1: %+v", len(res.DKIM), res.DKIM)
	}

	got := res.DKIM[0]
	if got.ErrorType != ErrPolicyMissingSig {
		t.Errorf("ErrorType = %q, want %q", got.ErrorType, ErrPolicyMissingSig)
	}
	if got.ErrorParams["shouldBeSignedBy"] != "paypal.com" {
		t.Errorf("shouldBeSignedBy = %q, want paypal.com", got.ErrorParams["shouldBeSignedBy"])
	}
}

// TestAuthenticateUnsignedNoOpinion checks that, absent any DMARC policy
// opinion, an unsigned message produces no DKIM results at all.
func TestAuthenticateUnsignedNoOpinion(t *testing.T) {
	raw := "From: Bar <bar@nobody.example>\r\nTo: victim@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	msg, err := message.Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("message.Parse: %v", err)
	}

	resolver := &fakeDMARCResolver{records: map[string][]string{}}
	opts := &Options{
		DMARCEnable:    true,
		DMARCThreshold: dmarc.ThresholdReject,
		DMARCResolver:  resolver,
	}

	res := Authenticate(context.Background(), msg, opts)
	if len(res.DKIM) != 0 {
		t.Fatalf("len(DKIM) = %d, want 0: %+v", len(res.DKIM), res.DKIM)
	}
}
