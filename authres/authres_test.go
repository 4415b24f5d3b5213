package authres

import "testing"

func TestParseBasic(t *testing.T) {
	h, err := Parse("example.com; dkim=pass header.d=example.com header.s=brisbane", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.AuthservID != "example.com" {
		t.Errorf("AuthservID = %q", h.AuthservID)
	}
	if len(h.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(h.Results))
	}
	r := h.Results[0]
	if r.Method != "dkim" || r.Value != "pass" {
		t.Errorf("Result = %+v", r)
	}
	if got := r.Get("header", "d"); got != "example.com" {
		t.Errorf("Get(header,d) = %q", got)
	}
	if got := r.Get("header", "s"); got != "brisbane" {
		t.Errorf("Get(header,s) = %q", got)
	}
}

func TestParseNoneAuthentication(t *testing.T) {
	h, err := Parse("example.com; none", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(h.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0 for \"; none\"", len(h.Results))
	}
}

func TestParseMultipleResinfos(t *testing.T) {
	h, err := Parse("mail.example.com 1; spf=pass smtp.mailfrom=example.net; dkim=fail reason=\"bad sig\" header.d=example.net", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Version != 1 {
		t.Errorf("Version = %d, want 1", h.Version)
	}
	if len(h.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(h.Results))
	}
	if h.Results[0].Method != "spf" || h.Results[0].Get("smtp", "mailfrom") != "example.net" {
		t.Errorf("Results[0] = %+v", h.Results[0])
	}
	if h.Results[1].Reason != "bad sig" {
		t.Errorf("Results[1].Reason = %q", h.Results[1].Reason)
	}
}

func TestParseComments(t *testing.T) {
	h, err := Parse("example.com (comment); dkim (ok!) = pass", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.AuthservID != "example.com" {
		t.Errorf("AuthservID = %q", h.AuthservID)
	}
	if len(h.Results) != 1 || h.Results[0].Value != "pass" {
		t.Errorf("Results = %+v", h.Results)
	}
}

func TestParseTrailingSemicolonStrict(t *testing.T) {
	if _, err := Parse("example.com; dkim=pass;", nil); err == nil {
		t.Error("Parse() = nil error, want error for trailing ';' in strict mode")
	}
}

func TestParseTrailingSemicolonRelaxed(t *testing.T) {
	h, err := Parse("example.com; dkim=pass;", &ParseOptions{Relaxed: true})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(h.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(h.Results))
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	inputs := []string{
		"example.com; dkim=pass header.d=example.com header.s=brisbane",
		"mail.example.com 1; spf=pass smtp.mailfrom=example.net; dkim=fail reason=\"bad sig\" header.d=example.net",
		"example.com; none",
	}

	for _, in := range inputs {
		h1, err := Parse(in, nil)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}

		printed := Format(h1)
		h2, err := Parse(printed, nil)
		if err != nil {
			t.Fatalf("Parse(Format(Parse(%q))) = %v", in, err)
		}

		if h1.AuthservID != h2.AuthservID || len(h1.Results) != len(h2.Results) {
			t.Fatalf("round trip mismatch for %q:\n  first:  %+v\n  second: %+v", in, h1, h2)
		}
		for i := range h1.Results {
			if h1.Results[i].Method != h2.Results[i].Method || h1.Results[i].Value != h2.Results[i].Value {
				t.Errorf("round trip mismatch for %q at result %d:\n  first:  %+v\n  second: %+v", in, i, h1.Results[i], h2.Results[i])
			}
		}
	}
}
